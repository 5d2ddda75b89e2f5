package parser

import (
	"encoding/json"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-orchestrator/internal/types"
	apperrors "github.com/rxtech-lab/argo-orchestrator/pkg/errors"
)

// exportFile mirrors the engine's --export trades JSON layout. Only the
// fields the orchestrator consumes are declared; everything else is ignored.
type exportFile struct {
	Strategy struct {
		StrategyName string `json:"strategy_name"`
	} `json:"strategy"`
	ResultsMetrics map[string]float64 `json:"results_metrics"`
	Trades         []exportTrade      `json:"trades"`
}

type exportTrade struct {
	Pair        string   `json:"pair"`
	Side        string   `json:"side"`
	OpenDate    string   `json:"open_date"`
	OpenRate    float64  `json:"open_rate"`
	Amount      float64  `json:"amount"`
	ProfitAbs   *float64 `json:"profit_abs"`
	ProfitRatio *float64 `json:"profit_ratio"`
	ExitReason  string   `json:"exit_reason"`
}

// ParseExportJSON decodes the engine's exported result file. It is the
// structured companion to ParseBatch: when the table output is reformatted
// beyond recognition the export file usually still decodes.
func ParseExportJSON(data []byte) (string, types.Metrics, []types.TradeRecord, error) {
	var file exportFile
	if err := json.Unmarshal(data, &file); err != nil {
		return "", types.Metrics{}, nil, apperrors.Wrap(apperrors.ErrCodeParseExportFailed,
			"failed to decode export file", err)
	}

	var metrics types.Metrics

	assignFloat := map[string]func(float64){
		"profit_total":      func(v float64) { metrics.TotalReturn = optional.Some(v) },
		"profit_total_pct":  func(v float64) { metrics.TotalReturnPct = optional.Some(v) },
		"winrate":           func(v float64) { metrics.WinRate = optional.Some(v) },
		"max_drawdown":      func(v float64) { metrics.MaxDrawdown = optional.Some(v) },
		"max_drawdown_pct":  func(v float64) { metrics.MaxDrawdownPct = optional.Some(v) },
		"sharpe":            func(v float64) { metrics.SharpeRatio = optional.Some(v) },
		"sortino":           func(v float64) { metrics.SortinoRatio = optional.Some(v) },
		"calmar":            func(v float64) { metrics.CalmarRatio = optional.Some(v) },
		"profit_factor":     func(v float64) { metrics.ProfitFactor = optional.Some(v) },
		"profit_mean":       func(v float64) { metrics.AvgProfit = optional.Some(v) },
		"profit_mean_pct":   func(v float64) { metrics.AvgProfitPct = optional.Some(v) },
		"trades":            func(v float64) { metrics.TotalTrades = optional.Some(int(v)) },
		"wins":              func(v float64) { metrics.WinningTrades = optional.Some(int(v)) },
		"losses":            func(v float64) { metrics.LosingTrades = optional.Some(int(v)) },
	}

	for key, assign := range assignFloat {
		if value, ok := file.ResultsMetrics[key]; ok {
			assign(value)
		}
	}

	metrics.FillDerived()

	trades := make([]types.TradeRecord, 0, len(file.Trades))

	for _, raw := range file.Trades {
		record := types.TradeRecord{
			Pair:       raw.Pair,
			Side:       types.TradeSide(raw.Side),
			Price:      raw.OpenRate,
			Amount:     raw.Amount,
			ExitReason: raw.ExitReason,
		}

		if record.Side != types.TradeSideSell {
			record.Side = types.TradeSideBuy
		}

		if ts, err := time.Parse(time.RFC3339, raw.OpenDate); err == nil {
			record.Timestamp = ts
		}

		if raw.ProfitAbs != nil {
			record.Profit = optional.Some(*raw.ProfitAbs)
		}

		if raw.ProfitRatio != nil {
			record.ProfitPct = optional.Some(*raw.ProfitRatio * 100)
		}

		trades = append(trades, record)
	}

	return file.Strategy.StrategyName, metrics, trades, nil
}
