package parser

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

// StreamParserTestSuite is a test suite for live log stream parsing.
type StreamParserTestSuite struct {
	suite.Suite
	parser *StreamParser
	state  *SessionState
}

// SetupTest runs before each test.
func (suite *StreamParserTestSuite) SetupTest() {
	suite.parser = NewStreamParser()
	suite.state = &SessionState{}
}

// TestStreamParserSuite runs the test suite.
func TestStreamParserSuite(t *testing.T) {
	suite.Run(t, new(StreamParserTestSuite))
}

func (suite *StreamParserTestSuite) TestBuySignal() {
	var signals []Signal

	suite.parser.OnSignal = func(s Signal) { signals = append(signals, s) }

	suite.parser.ParseLine(suite.state,
		"2023-06-01 10:00:00 - freqtrade - INFO - SampleStrategy: Buy signal for 0.5 BTC at 30000.50 USDT")

	suite.Equal(1, suite.state.SignalCount)
	suite.Equal(1, suite.state.TradesSeen)
	suite.Require().Len(signals, 1)
	suite.Equal("buy", signals[0].Kind)
	suite.InDelta(0.5, signals[0].Amount, 0.001)
	suite.InDelta(30000.50, signals[0].Price, 0.001)
}

func (suite *StreamParserTestSuite) TestSellSignal() {
	suite.parser.ParseLine(suite.state,
		"2023-06-01 10:05:00 - freqtrade - INFO - SampleStrategy: Sell signal for 0.5 BTC at 30100.00 USDT")

	suite.Equal(1, suite.state.SignalCount)
	suite.Equal(1, suite.state.TradesSeen)
}

func (suite *StreamParserTestSuite) TestBalanceLine() {
	suite.parser.ParseLine(suite.state,
		"2023-06-01 10:10:00 - freqtrade - INFO - Current balance: 1050.25 USDT (+5.03% profit)")

	suite.True(suite.state.BalanceKnown)
	suite.True(suite.state.LatestBalance.Equal(decimal.RequireFromString("1050.25")))
	suite.InDelta(5.03, suite.state.LatestProfitPct, 0.001)
}

func (suite *StreamParserTestSuite) TestOpenTrades() {
	suite.parser.ParseLine(suite.state,
		"2023-06-01 10:10:00 - freqtrade - INFO - Current open trades: 3")

	suite.Equal(3, suite.state.OpenTrades)
}

func (suite *StreamParserTestSuite) TestUnrecognizedLineOnlyUpdatesLastLine() {
	suite.parser.ParseLine(suite.state,
		"2023-06-01 10:00:00 - freqtrade - INFO - Heartbeat")

	suite.Equal(0, suite.state.SignalCount)
	suite.False(suite.state.BalanceKnown)
	suite.Contains(suite.state.LastLogLine, "Heartbeat")
}

// TestFeedAcrossChunkBoundaries splits one log line over several chunks;
// the counters must come out the same as a single delivery.
func (suite *StreamParserTestSuite) TestFeedAcrossChunkBoundaries() {
	line := "INFO - SampleStrategy: Buy signal for 0.5 BTC at 30000.50 USDT\n"

	suite.parser.Feed(suite.state, line[:20])
	suite.Equal(0, suite.state.SignalCount)

	suite.parser.Feed(suite.state, line[20:45])
	suite.Equal(0, suite.state.SignalCount)

	suite.parser.Feed(suite.state, line[45:])
	suite.Equal(1, suite.state.SignalCount)
	suite.Equal(1, suite.state.TradesSeen)
}

func (suite *StreamParserTestSuite) TestFeedMultipleLinesInOneChunk() {
	chunk := "INFO - A: Buy signal for 1 BTC at 100 USDT\n" +
		"INFO - Current open trades: 2\n" +
		"INFO - Current balance: 900.00 USDT (-10.00% profit)\n"

	suite.parser.Feed(suite.state, chunk)

	suite.Equal(1, suite.state.SignalCount)
	suite.Equal(2, suite.state.OpenTrades)
	suite.True(suite.state.BalanceKnown)
	suite.InDelta(-10.0, suite.state.LatestProfitPct, 0.001)
}
