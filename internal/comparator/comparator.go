// Package comparator ranks backtest results by a weighted composite score.
// Ranking is deterministic: the same set of results produces the same order
// regardless of input order, with strategy name as the final tie-break.
package comparator

import (
	"sort"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-orchestrator/internal/types"
	apperrors "github.com/rxtech-lab/argo-orchestrator/pkg/errors"
)

// Weights are the composite score coefficients. Each term is normalized
// before weighting; an unknown metric contributes zero to the score and
// flags the row as low confidence.
type Weights struct {
	Return   float64
	WinRate  float64
	Drawdown float64
	Sharpe   float64
}

// DefaultWeights favors raw return, then consistency, then risk.
func DefaultWeights() Weights {
	return Weights{
		Return:   0.4,
		WinRate:  0.3,
		Drawdown: 0.2,
		Sharpe:   0.1,
	}
}

// Ranking is one scored row of a comparison.
type Ranking struct {
	Rank     int           `json:"rank"`
	Strategy string        `json:"strategy"`
	Score    float64       `json:"score"`
	Metrics  types.Metrics `json:"metrics"`
	// MetricRanks holds this row's standing per scored metric, 1 being
	// best. Rows with an unknown value for a metric rank last for it.
	MetricRanks map[string]int `json:"metric_ranks"`
	// LowConfidence marks rows where at least one scoring metric was
	// unknown and contributed nothing to the score.
	LowConfidence bool `json:"low_confidence"`
}

// Comparison is the full outcome of ranking a result set.
type Comparison struct {
	Rankings []Ranking `json:"rankings"`
	Best     Ranking   `json:"best"`
}

// Comparator scores and ranks results.
type Comparator struct {
	weights Weights
}

// NewComparator creates a comparator with the given weights. Zero-value
// weights fall back to the defaults.
func NewComparator(weights Weights) *Comparator {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}

	return &Comparator{weights: weights}
}

// Compare scores every result and returns them ranked best first. An empty
// input is an error, never an empty winner.
func (c *Comparator) Compare(results []types.Result) (Comparison, error) {
	if len(results) == 0 {
		return Comparison{}, apperrors.New(apperrors.ErrCodeCompareEmptyInput,
			"cannot compare an empty result set")
	}

	rankings := make([]Ranking, 0, len(results))

	for _, res := range results {
		score, lowConfidence := c.Score(res.Metrics)
		rankings = append(rankings, Ranking{
			Strategy:      res.Strategy,
			Score:         score,
			Metrics:       res.Metrics,
			LowConfidence: lowConfidence,
		})
	}

	sort.Slice(rankings, func(i, j int) bool {
		if rankings[i].Score != rankings[j].Score {
			return rankings[i].Score > rankings[j].Score
		}

		return rankings[i].Strategy < rankings[j].Strategy
	})

	for i := range rankings {
		rankings[i].Rank = i + 1
		rankings[i].MetricRanks = make(map[string]int, 4)
	}

	rankMetric(rankings, "total_return_pct", func(m types.Metrics) optional.Option[float64] {
		return m.TotalReturnPct
	}, nil)
	rankMetric(rankings, "win_rate", func(m types.Metrics) optional.Option[float64] {
		return m.WinRate
	}, nil)
	rankMetric(rankings, "max_drawdown_pct", func(m types.Metrics) optional.Option[float64] {
		return m.MaxDrawdownPct
	}, func(v float64) float64 {
		return 100 - abs(v)
	})
	rankMetric(rankings, "sharpe_ratio", func(m types.Metrics) optional.Option[float64] {
		return m.SharpeRatio
	}, nil)

	return Comparison{
		Rankings: rankings,
		Best:     rankings[0],
	}, nil
}

// rankMetric assigns 1-based standings for one metric across all rows.
// Higher normalized values rank better; unknown values sort after every
// known one, and ties fall back to strategy name.
func rankMetric(rankings []Ranking, key string, pick func(types.Metrics) optional.Option[float64], normalize func(float64) float64) {
	order := make([]int, len(rankings))
	for i := range order {
		order[i] = i
	}

	value := func(i int) (float64, bool) {
		opt := pick(rankings[i].Metrics)
		if opt.IsNone() {
			return 0, false
		}

		v := opt.Unwrap()
		if normalize != nil {
			v = normalize(v)
		}

		return v, true
	}

	sort.Slice(order, func(a, b int) bool {
		va, oka := value(order[a])
		vb, okb := value(order[b])

		if oka != okb {
			return oka
		}

		if oka && va != vb {
			return va > vb
		}

		return rankings[order[a]].Strategy < rankings[order[b]].Strategy
	})

	for pos, idx := range order {
		rankings[idx].MetricRanks[key] = pos + 1
	}
}

// Score computes the weighted composite for one metric set. The drawdown
// term rewards shallow drawdowns: a strategy that never drew down scores
// the full term, one that lost everything scores zero. The second return
// value reports whether any term was unknown.
func (c *Comparator) Score(m types.Metrics) (float64, bool) {
	var (
		score         float64
		lowConfidence bool
	)

	score += c.weights.Return * term(m.TotalReturnPct, &lowConfidence, func(v float64) float64 {
		return v
	})
	score += c.weights.WinRate * term(m.WinRate, &lowConfidence, func(v float64) float64 {
		return v
	})
	score += c.weights.Drawdown * term(m.MaxDrawdownPct, &lowConfidence, func(v float64) float64 {
		return 100 - abs(v)
	})
	score += c.weights.Sharpe * term(m.SharpeRatio, &lowConfidence, func(v float64) float64 {
		return v
	})

	return score, lowConfidence
}

func term(opt optional.Option[float64], lowConfidence *bool, normalize func(float64) float64) float64 {
	if opt.IsNone() {
		*lowConfidence = true

		return 0
	}

	return normalize(opt.Unwrap())
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}

	return v
}
