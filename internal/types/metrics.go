package types

import (
	"github.com/moznion/go-optional"
)

// Metrics holds the performance indicators extracted from engine output.
// Every field is optional: the engine output format is unstable and a
// missing metric stays unknown rather than degrading to zero, so a 0%
// return and "could not parse" remain distinguishable.
type Metrics struct {
	TotalReturn    optional.Option[float64] `json:"total_return"`
	TotalReturnPct optional.Option[float64] `json:"total_return_pct"`
	WinRate        optional.Option[float64] `json:"win_rate"`
	MaxDrawdown    optional.Option[float64] `json:"max_drawdown"`
	MaxDrawdownPct optional.Option[float64] `json:"max_drawdown_pct"`
	SharpeRatio    optional.Option[float64] `json:"sharpe_ratio"`
	SortinoRatio   optional.Option[float64] `json:"sortino_ratio"`
	CalmarRatio    optional.Option[float64] `json:"calmar_ratio"`
	ProfitFactor   optional.Option[float64] `json:"profit_factor"`
	AvgProfit      optional.Option[float64] `json:"avg_profit"`
	AvgProfitPct   optional.Option[float64] `json:"avg_profit_pct"`
	TotalTrades    optional.Option[int]     `json:"total_trades"`
	WinningTrades  optional.Option[int]     `json:"winning_trades"`
	LosingTrades   optional.Option[int]     `json:"losing_trades"`
}

// KnownCount returns how many metrics were successfully extracted.
func (m Metrics) KnownCount() int {
	count := 0

	for _, opt := range []optional.Option[float64]{
		m.TotalReturn, m.TotalReturnPct, m.WinRate,
		m.MaxDrawdown, m.MaxDrawdownPct,
		m.SharpeRatio, m.SortinoRatio, m.CalmarRatio,
		m.ProfitFactor, m.AvgProfit, m.AvgProfitPct,
	} {
		if opt.IsSome() {
			count++
		}
	}

	for _, opt := range []optional.Option[int]{m.TotalTrades, m.WinningTrades, m.LosingTrades} {
		if opt.IsSome() {
			count++
		}
	}

	return count
}

// FillDerived computes metrics that the output table sometimes omits but
// that follow from ones already extracted. Existing values are never
// overwritten.
func (m *Metrics) FillDerived() {
	if m.WinRate.IsNone() && m.TotalTrades.IsSome() && m.WinningTrades.IsSome() {
		total := m.TotalTrades.Unwrap()
		if total > 0 {
			m.WinRate = optional.Some(float64(m.WinningTrades.Unwrap()) / float64(total) * 100)
		}
	}

	if m.CalmarRatio.IsNone() && m.TotalReturn.IsSome() && m.MaxDrawdown.IsSome() {
		dd := m.MaxDrawdown.Unwrap()
		if dd != 0 {
			m.CalmarRatio = optional.Some(m.TotalReturn.Unwrap() / abs(dd))
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}

	return v
}
