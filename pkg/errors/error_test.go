package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestNewError() {
	err := New(ErrCodeInvalidConfiguration, "invalid configuration")
	suite.NotNil(err)
	suite.Equal(ErrCodeInvalidConfiguration, err.Code)
	suite.Equal("invalid configuration", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestNewfError() {
	err := Newf(ErrCodeTaskNotFound, "unknown task %s", "abc")
	suite.NotNil(err)
	suite.Equal(ErrCodeTaskNotFound, err.Code)
	suite.Equal("unknown task abc", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestWrapError() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeStoreWriteFailed, "failed to insert result", cause)
	suite.NotNil(err)
	suite.Equal(ErrCodeStoreWriteFailed, err.Code)
	suite.Equal("failed to insert result", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestWrapfError() {
	cause := errors.New("underlying error")
	err := Wrapf(ErrCodeProcessLaunchFailed, cause, "failed to launch %q", "freqtrade")
	suite.NotNil(err)
	suite.Equal(ErrCodeProcessLaunchFailed, err.Code)
	suite.Equal(`failed to launch "freqtrade"`, err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestErrorString() {
	err := New(ErrCodeInvalidConfiguration, "invalid configuration")
	suite.Equal("[100] invalid configuration", err.Error())
}

func (suite *ErrorTestSuite) TestErrorStringWithCause() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeProcessLaunchFailed, "failed to launch", cause)
	suite.Equal("[200] failed to launch: underlying error", err.Error())
}

func (suite *ErrorTestSuite) TestUnwrap() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeStoreWriteFailed, "failed to insert result", cause)
	suite.Equal(cause, err.Unwrap())
}

func (suite *ErrorTestSuite) TestUnwrapNil() {
	err := New(ErrCodeInvalidConfiguration, "invalid configuration")
	suite.Nil(err.Unwrap())
}

func (suite *ErrorTestSuite) TestGetCode() {
	err := New(ErrCodeSessionNotFound, "unknown session")
	suite.Equal(ErrCodeSessionNotFound, GetCode(err))
}

func (suite *ErrorTestSuite) TestGetCodeFromWrapped() {
	cause := New(ErrCodeInvalidTimeRange, "inverted range")
	err := Wrap(ErrCodeInvalidConfiguration, "rejected configuration", cause)
	// GetCode returns the outermost code.
	suite.Equal(ErrCodeInvalidConfiguration, GetCode(err))
}

func (suite *ErrorTestSuite) TestGetCodeFromPlainError() {
	err := errors.New("standard error")
	suite.Equal(ErrCodeUnknown, GetCode(err))
}

func (suite *ErrorTestSuite) TestHasCode() {
	err := New(ErrCodeBatchNotFound, "unknown batch")
	suite.True(HasCode(err, ErrCodeBatchNotFound))
	suite.False(HasCode(err, ErrCodeTaskNotFound))
}

func (suite *ErrorTestSuite) TestIsError() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeStoreQueryFailed, "failed to query", cause)
	suite.True(Is(err, cause))
}

func (suite *ErrorTestSuite) TestAsError() {
	err := New(ErrCodeInvalidConfiguration, "invalid configuration")

	var typed *Error

	suite.True(As(err, &typed))
	suite.Equal(ErrCodeInvalidConfiguration, typed.Code)
}

func (suite *ErrorTestSuite) TestIsValidation() {
	suite.True(IsValidation(New(ErrCodeInvalidTimeRange, "inverted range")))
	suite.True(IsValidation(New(ErrCodeMissingStrategy, "no strategy")))
	suite.False(IsValidation(New(ErrCodeProcessTimeout, "too slow")))
	suite.False(IsValidation(errors.New("plain")))
}

func (suite *ErrorTestSuite) TestErrorCodeRanges() {
	// Each subsystem owns a hundreds block.
	suite.Equal(ErrorCode(1), ErrCodeUnknown)
	suite.Equal(ErrorCode(100), ErrCodeInvalidConfiguration)
	suite.Equal(ErrorCode(200), ErrCodeProcessLaunchFailed)
	suite.Equal(ErrorCode(300), ErrCodeParseNoUsableData)
	suite.Equal(ErrorCode(400), ErrCodeTaskNotFound)
	suite.Equal(ErrorCode(500), ErrCodeSessionNotFound)
	suite.Equal(ErrorCode(600), ErrCodeCompareEmptyInput)
	suite.Equal(ErrorCode(700), ErrCodeStoreWriteFailed)
	suite.Equal(ErrorCode(800), ErrCodeConfigNotFound)
}
