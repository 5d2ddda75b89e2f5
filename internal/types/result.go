package types

import (
	"time"

	"github.com/moznion/go-optional"
)

// TradeSide is the direction of a trade entry.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TradeRecord is one trade as emitted by the engine, in chronological order.
type TradeRecord struct {
	Timestamp time.Time                `json:"timestamp"`
	Pair      string                   `json:"pair"`
	Side      TradeSide                `json:"side"`
	Price     float64                  `json:"price"`
	Amount    float64                  `json:"amount"`
	Profit    optional.Option[float64] `json:"profit"`
	ProfitPct optional.Option[float64] `json:"profit_pct"`
	// ExitReason is engine-defined free text such as "roi" or "stop_loss".
	ExitReason string `json:"exit_reason"`
}

// Result is the immutable outcome of one completed task. It is handed off
// to the result store once the task reaches a terminal state; corrections
// require a new backtest, never a mutation.
type Result struct {
	// Strategy is the strategy identifier this result was produced for.
	Strategy string `json:"strategy"`
	// Config is the configuration snapshot the task ran with.
	Config Configuration `json:"config"`
	// Metrics are the extracted performance indicators.
	Metrics Metrics `json:"metrics"`
	// Trades is the chronological trade list.
	Trades []TradeRecord `json:"trades"`
	// CompletedAt is when the task reached its terminal state.
	CompletedAt time.Time `json:"completed_at"`
	// ExecutionTime is the wall-clock duration of the Running state.
	ExecutionTime time.Duration `json:"execution_time"`
	// Warnings lists non-fatal extraction problems (metric patterns that did
	// not match, skipped trade lines).
	Warnings []string `json:"warnings,omitempty"`
	// ErrorMessage is set when the task failed; empty on success.
	ErrorMessage string `json:"error_message,omitempty"`
}

// OK reports whether the result represents a successful run.
func (r Result) OK() bool {
	return r.ErrorMessage == ""
}
