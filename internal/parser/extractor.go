// Package parser extracts typed results from the engine's free-text output.
// The output grammar is engine-defined and unstable, so extraction is a
// best-effort set of per-metric matchers rather than a strict parser: a
// metric whose pattern does not match is recorded as unknown and extraction
// continues.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-orchestrator/internal/types"
	apperrors "github.com/rxtech-lab/argo-orchestrator/pkg/errors"
)

// metricRule binds one labeled output line to a metric field. Rules are
// pluggable: adding support for a new engine output line is a new rule, not
// a parser change.
type metricRule struct {
	name    string
	pattern *regexp.Regexp
	assign  func(m *types.Metrics, value float64)
}

func defaultMetricRules() []metricRule {
	return []metricRule{
		{
			name:    "total_return",
			pattern: regexp.MustCompile(`(?im)Total profit USDT\s*\|\s*([+-]?\d+\.?\d*)`),
			assign:  func(m *types.Metrics, v float64) { m.TotalReturn = optional.Some(v) },
		},
		{
			name:    "total_return_pct",
			pattern: regexp.MustCompile(`(?im)Total profit %\s*\|\s*([+-]?\d+\.?\d*)`),
			assign:  func(m *types.Metrics, v float64) { m.TotalReturnPct = optional.Some(v) },
		},
		{
			name:    "win_rate",
			pattern: regexp.MustCompile(`(?im)Win rate\s*\|\s*([+-]?\d+\.?\d*)\s*%`),
			assign:  func(m *types.Metrics, v float64) { m.WinRate = optional.Some(v) },
		},
		{
			name:    "max_drawdown",
			pattern: regexp.MustCompile(`(?im)Max drawdown\s*\|\s*([+-]?\d+\.?\d*)\s*USDT`),
			assign:  func(m *types.Metrics, v float64) { m.MaxDrawdown = optional.Some(v) },
		},
		{
			name:    "max_drawdown_pct",
			pattern: regexp.MustCompile(`(?im)Max drawdown %\s*\|\s*([+-]?\d+\.?\d*)`),
			assign:  func(m *types.Metrics, v float64) { m.MaxDrawdownPct = optional.Some(v) },
		},
		{
			name:    "sharpe_ratio",
			pattern: regexp.MustCompile(`(?im)Sharpe\s*\|\s*([+-]?\d+\.?\d*)`),
			assign:  func(m *types.Metrics, v float64) { m.SharpeRatio = optional.Some(v) },
		},
		{
			name:    "sortino_ratio",
			pattern: regexp.MustCompile(`(?im)Sortino\s*\|\s*([+-]?\d+\.?\d*)`),
			assign:  func(m *types.Metrics, v float64) { m.SortinoRatio = optional.Some(v) },
		},
		{
			name:    "calmar_ratio",
			pattern: regexp.MustCompile(`(?im)Calmar\s*\|\s*([+-]?\d+\.?\d*)`),
			assign:  func(m *types.Metrics, v float64) { m.CalmarRatio = optional.Some(v) },
		},
		{
			name:    "profit_factor",
			pattern: regexp.MustCompile(`(?im)Profit factor\s*\|\s*([+-]?\d+\.?\d*)`),
			assign:  func(m *types.Metrics, v float64) { m.ProfitFactor = optional.Some(v) },
		},
		{
			name:    "avg_profit",
			pattern: regexp.MustCompile(`(?im)Avg\. profit\s*\|\s*([+-]?\d+\.?\d*)\s*USDT`),
			assign:  func(m *types.Metrics, v float64) { m.AvgProfit = optional.Some(v) },
		},
		{
			name:    "avg_profit_pct",
			pattern: regexp.MustCompile(`(?im)Avg\. profit %\s*\|\s*([+-]?\d+\.?\d*)`),
			assign:  func(m *types.Metrics, v float64) { m.AvgProfitPct = optional.Some(v) },
		},
		{
			name:    "total_trades",
			pattern: regexp.MustCompile(`(?im)Total trades\s*\|\s*(\d+)`),
			assign:  func(m *types.Metrics, v float64) { m.TotalTrades = optional.Some(int(v)) },
		},
		{
			name:    "winning_trades",
			pattern: regexp.MustCompile(`(?im)Winning trades\s*\|\s*(\d+)`),
			assign:  func(m *types.Metrics, v float64) { m.WinningTrades = optional.Some(int(v)) },
		},
		{
			name:    "losing_trades",
			pattern: regexp.MustCompile(`(?im)Losing trades\s*\|\s*(\d+)`),
			assign:  func(m *types.Metrics, v float64) { m.LosingTrades = optional.Some(int(v)) },
		},
	}
}

// Extractor parses buffered batch output into a Result.
type Extractor struct {
	rules []metricRule
}

// NewExtractor creates an Extractor with the default rule set.
func NewExtractor() *Extractor {
	return &Extractor{rules: defaultMetricRules()}
}

// ParseBatch extracts metrics and trades from the full engine output for one
// finished run. A single missing or reformatted line never aborts parsing of
// the rest: unmatched metrics stay unknown and are reported as warnings.
// Only when zero metrics and zero trades could be extracted does ParseBatch
// fail, with a no-usable-data error.
func (e *Extractor) ParseBatch(raw, strategy string, cfg types.Configuration) (types.Result, error) {
	var metrics types.Metrics

	var warnings []string

	for _, rule := range e.rules {
		match := rule.pattern.FindStringSubmatch(raw)
		if match == nil {
			warnings = append(warnings, fmt.Sprintf("metric %s: no match in output", rule.name))

			continue
		}

		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("metric %s: unparseable value %q", rule.name, match[1]))

			continue
		}

		rule.assign(&metrics, value)
	}

	metrics.FillDerived()

	trades, skipped := parseTrades(raw)
	if skipped > 0 {
		warnings = append(warnings, fmt.Sprintf("skipped %d malformed trade lines", skipped))
	}

	result := types.Result{
		Strategy:    strategy,
		Config:      cfg,
		Metrics:     metrics,
		Trades:      trades,
		CompletedAt: time.Now(),
		Warnings:    warnings,
	}

	if metrics.KnownCount() == 0 && len(trades) == 0 {
		return result, apperrors.New(apperrors.ErrCodeParseNoUsableData,
			"no metrics or trades could be extracted from engine output")
	}

	return result, nil
}

var (
	reportSection = regexp.MustCompile(`(?s)BACKTESTING REPORT.*?(\n\n|\z)`)
	numberPattern = regexp.MustCompile(`[+-]?\d+\.?\d*`)
)

// parseTrades pulls per-pair trade rows out of the report table. Trade rows
// are extracted independently of the aggregate metrics; a malformed row is
// skipped and counted, never fatal.
func parseTrades(raw string) ([]types.TradeRecord, int) {
	section := reportSection.FindString(raw)
	if section == "" {
		return nil, 0
	}

	var trades []types.TradeRecord

	skipped := 0
	headerSeen := false

	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "=") || strings.HasPrefix(line, "-") {
			continue
		}

		if strings.Contains(line, "Pair") && strings.Contains(line, "Profit") {
			headerSeen = true

			continue
		}

		if !headerSeen || !strings.Contains(line, "|") {
			continue
		}

		trade, ok := parseTradeLine(line)
		if !ok {
			skipped++

			continue
		}

		trades = append(trades, trade)
	}

	return trades, skipped
}

func parseTradeLine(line string) (types.TradeRecord, bool) {
	var columns []string

	for _, col := range strings.Split(line, "|") {
		col = strings.TrimSpace(col)
		if col != "" {
			columns = append(columns, col)
		}
	}

	if len(columns) < 3 || strings.EqualFold(columns[0], "total") {
		return types.TradeRecord{}, false
	}

	profitMatch := numberPattern.FindString(columns[len(columns)-2])
	if profitMatch == "" {
		return types.TradeRecord{}, false
	}

	profit, err := strconv.ParseFloat(profitMatch, 64)
	if err != nil {
		return types.TradeRecord{}, false
	}

	return types.TradeRecord{
		Timestamp:  time.Time{},
		Pair:       columns[0],
		Side:       types.TradeSideBuy,
		Profit:     optional.Some(profit),
		ExitReason: "backtest",
	}, true
}
