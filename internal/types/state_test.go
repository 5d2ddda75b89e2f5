package types

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

// ExecutionStateTestSuite is a test suite for the execution state machine.
type ExecutionStateTestSuite struct {
	suite.Suite
}

// TestExecutionStateSuite runs the test suite.
func TestExecutionStateSuite(t *testing.T) {
	suite.Run(t, new(ExecutionStateTestSuite))
}

func (suite *ExecutionStateTestSuite) TestAllowedTransitions() {
	testCases := []struct {
		from ExecutionState
		to   ExecutionState
	}{
		{from: ExecutionStateQueued, to: ExecutionStateRunning},
		{from: ExecutionStateQueued, to: ExecutionStateCancelled},
		{from: ExecutionStateRunning, to: ExecutionStateCompleted},
		{from: ExecutionStateRunning, to: ExecutionStateFailed},
		{from: ExecutionStateRunning, to: ExecutionStateCancelled},
		{from: ExecutionStateRunning, to: ExecutionStateStopping},
		{from: ExecutionStateStopping, to: ExecutionStateStopped},
		{from: ExecutionStateStopping, to: ExecutionStateFailed},
	}

	for _, tc := range testCases {
		suite.True(CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}
}

func (suite *ExecutionStateTestSuite) TestTerminalStatesHaveNoExits() {
	terminals := []ExecutionState{
		ExecutionStateCompleted,
		ExecutionStateFailed,
		ExecutionStateCancelled,
		ExecutionStateStopped,
	}

	all := []ExecutionState{
		ExecutionStateQueued,
		ExecutionStateRunning,
		ExecutionStateStopping,
		ExecutionStateCompleted,
		ExecutionStateFailed,
		ExecutionStateCancelled,
		ExecutionStateStopped,
	}

	for _, from := range terminals {
		suite.True(from.IsTerminal())

		for _, to := range all {
			suite.False(CanTransition(from, to), "%s -> %s should be forbidden", from, to)
		}
	}
}

func (suite *ExecutionStateTestSuite) TestBackwardTransitionsForbidden() {
	suite.False(CanTransition(ExecutionStateRunning, ExecutionStateQueued))
	suite.False(CanTransition(ExecutionStateStopping, ExecutionStateRunning))
	suite.False(CanTransition(ExecutionStateQueued, ExecutionStateCompleted))
	suite.False(CanTransition(ExecutionStateQueued, ExecutionStateFailed))
}
