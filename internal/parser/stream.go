package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SessionState accumulates incremental counters parsed from a continuous
// session's log stream. It is owned by a single reader goroutine; callers
// take copies via the session manager's status snapshot.
type SessionState struct {
	// SignalCount is the number of buy/sell signals seen so far.
	SignalCount int
	// TradesSeen counts parsed signal lines that carried a full trade tuple.
	TradesSeen int
	// LatestBalance is the last reported wallet balance, if any was seen.
	LatestBalance decimal.Decimal
	// BalanceKnown is false until the first balance line is parsed.
	BalanceKnown bool
	// LatestProfitPct is the profit percentage reported with the latest balance.
	LatestProfitPct float64
	// OpenTrades is the last reported open trade count.
	OpenTrades int
	// LastLogLine is the most recent complete line, for display.
	LastLogLine string
	// LastUpdate is when the state last changed.
	LastUpdate time.Time

	// partial buffers an incomplete trailing line until its terminator
	// arrives. Chunk boundaries are not record boundaries.
	partial string
}

// Signal is one parsed buy/sell signal line.
type Signal struct {
	Kind   string
	Pair   string
	Amount float64
	Price  float64
	At     time.Time
}

// StreamParser matches the engine's live log markers. Like the batch
// extractor it is best-effort: unrecognized lines only update LastLogLine.
type StreamParser struct {
	buySignal   *regexp.Regexp
	sellSignal  *regexp.Regexp
	balanceLine *regexp.Regexp
	openTrades  *regexp.Regexp

	// OnSignal, when set, is invoked for every parsed signal line.
	OnSignal func(Signal)
}

// NewStreamParser creates a StreamParser with the default marker patterns.
func NewStreamParser() *StreamParser {
	return &StreamParser{
		buySignal:   regexp.MustCompile(`INFO - (.+): Buy signal for ([\d.]+) \S+ at ([\d.]+) USDT`),
		sellSignal:  regexp.MustCompile(`INFO - (.+): Sell signal for ([\d.]+) \S+ at ([\d.]+) USDT`),
		balanceLine: regexp.MustCompile(`INFO - Current balance: ([\d.]+) USDT \(([+-]?[\d.]+)% profit\)`),
		openTrades:  regexp.MustCompile(`INFO - Current open trades: (\d+)`),
	}
}

// Feed consumes a raw chunk that may contain any number of complete lines
// plus at most one trailing fragment. The fragment is buffered until the
// next chunk supplies its terminator, so Feed is safe to call with
// arbitrarily split input.
func (p *StreamParser) Feed(state *SessionState, chunk string) {
	data := state.partial + chunk

	for {
		idx := strings.IndexByte(data, '\n')
		if idx < 0 {
			break
		}

		p.ParseLine(state, data[:idx])
		data = data[idx+1:]
	}

	state.partial = data
}

// ParseLine updates the session state from one complete log line.
func (p *StreamParser) ParseLine(state *SessionState, line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}

	state.LastLogLine = line
	state.LastUpdate = time.Now()

	switch {
	case strings.Contains(line, "Buy signal"):
		p.recordSignal(state, line, p.buySignal, "buy")
	case strings.Contains(line, "Sell signal"):
		p.recordSignal(state, line, p.sellSignal, "sell")
	case strings.Contains(line, "Current balance"):
		match := p.balanceLine.FindStringSubmatch(line)
		if match == nil {
			return
		}

		balance, err := decimal.NewFromString(match[1])
		if err != nil {
			return
		}

		profitPct, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			return
		}

		state.LatestBalance = balance
		state.BalanceKnown = true
		state.LatestProfitPct = profitPct
	case strings.Contains(line, "Current open trades"):
		match := p.openTrades.FindStringSubmatch(line)
		if match == nil {
			return
		}

		count, err := strconv.Atoi(match[1])
		if err != nil {
			return
		}

		state.OpenTrades = count
	}
}

func (p *StreamParser) recordSignal(state *SessionState, line string, pattern *regexp.Regexp, kind string) {
	state.SignalCount++

	match := pattern.FindStringSubmatch(line)
	if match == nil {
		return
	}

	amount, amountErr := strconv.ParseFloat(match[2], 64)
	price, priceErr := strconv.ParseFloat(match[3], 64)

	if amountErr != nil || priceErr != nil {
		return
	}

	state.TradesSeen++

	if p.OnSignal != nil {
		p.OnSignal(Signal{
			Kind:   kind,
			Pair:   match[1],
			Amount: amount,
			Price:  price,
			At:     time.Now(),
		})
	}
}
