package types

import (
	"testing"
	"time"

	apperrors "github.com/rxtech-lab/argo-orchestrator/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

// ConfigurationTestSuite is a test suite for Configuration validation.
type ConfigurationTestSuite struct {
	suite.Suite
}

// TestConfigurationSuite runs the test suite.
func TestConfigurationSuite(t *testing.T) {
	suite.Run(t, new(ConfigurationTestSuite))
}

func (suite *ConfigurationTestSuite) validConfiguration() Configuration {
	cfg := DefaultConfiguration()
	cfg.StartTime = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.EndTime = time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)

	return cfg
}

func (suite *ConfigurationTestSuite) TestValidConfiguration() {
	err := suite.validConfiguration().Validate()
	suite.Require().NoError(err)
}

func (suite *ConfigurationTestSuite) TestInvertedTimeRangeRejected() {
	cfg := suite.validConfiguration()
	cfg.StartTime, cfg.EndTime = cfg.EndTime, cfg.StartTime

	err := cfg.Validate()
	suite.Require().Error(err)
	suite.True(apperrors.HasCode(err, apperrors.ErrCodeInvalidTimeRange))
}

func (suite *ConfigurationTestSuite) TestEqualTimeRangeRejected() {
	cfg := suite.validConfiguration()
	cfg.EndTime = cfg.StartTime

	err := cfg.Validate()
	suite.Require().Error(err)
	suite.True(apperrors.HasCode(err, apperrors.ErrCodeInvalidTimeRange))
}

func (suite *ConfigurationTestSuite) TestEmptyPairListRejected() {
	cfg := suite.validConfiguration()
	cfg.Pairs = nil

	err := cfg.Validate()
	suite.Require().Error(err)
	suite.True(apperrors.HasCode(err, apperrors.ErrCodeEmptyPairList))
}

func (suite *ConfigurationTestSuite) TestNonPositiveBalanceRejected() {
	testCases := []struct {
		name    string
		balance decimal.Decimal
	}{
		{name: "zero", balance: decimal.Zero},
		{name: "negative", balance: decimal.NewFromInt(-100)},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			cfg := suite.validConfiguration()
			cfg.InitialBalance = tc.balance

			err := cfg.Validate()
			suite.Require().Error(err)
			suite.True(apperrors.HasCode(err, apperrors.ErrCodeInvalidBalance))
		})
	}
}

func (suite *ConfigurationTestSuite) TestUnknownTimeframeRejected() {
	cfg := suite.validConfiguration()
	cfg.Timeframe = "7m"

	err := cfg.Validate()
	suite.Require().Error(err)
	suite.True(apperrors.HasCode(err, apperrors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigurationTestSuite) TestStakeAmount() {
	cfg := suite.validConfiguration()
	cfg.StakeAmount = "100.5"
	suite.Require().NoError(cfg.Validate())

	cfg.StakeAmount = StakeAmountUnlimited
	suite.Require().NoError(cfg.Validate())

	cfg.StakeAmount = "-5"
	err := cfg.Validate()
	suite.Require().Error(err)
	suite.True(apperrors.HasCode(err, apperrors.ErrCodeInvalidStakeAmount))

	cfg.StakeAmount = "all of it"
	err = cfg.Validate()
	suite.Require().Error(err)
	suite.True(apperrors.HasCode(err, apperrors.ErrCodeInvalidStakeAmount))
}

func (suite *ConfigurationTestSuite) TestHashIsStable() {
	a := suite.validConfiguration()
	b := suite.validConfiguration()

	suite.Equal(a.Hash(), b.Hash())

	b.Timeframe = "5m"
	suite.NotEqual(a.Hash(), b.Hash())
}

func (suite *ConfigurationTestSuite) TestTimeRangeToken() {
	cfg := suite.validConfiguration()
	suite.Equal("20230101-20231231", cfg.TimeRangeToken())
}
