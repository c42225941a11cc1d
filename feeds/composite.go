package feeds

import (
	"math"
	"sync"
	"time"

	"github.com/quantpulse/flowdesk/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COMPOSITE CALCULATOR - OBI, delta Z-score, session CVD, VWAP
// ═══════════════════════════════════════════════════════════════════════════════
//
// Carries the metric set of the first-generation dashboard: order-book
// imbalance at two depths, short-horizon signed deltas with a Z-score,
// session-long CVD with a fitted slope, and session VWAP.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	obiWeightedDepth = 10
	obiDeepDepth     = 50

	// Short-horizon deltas come from their own 10 s trade list so the
	// aggregator's larger window doesn't have to be rescanned.
	deltaWindowMs = 10_000

	// Z-score / slope histories.
	historyLen = 60

	epsilon = 1e-9
)

// CompositeCalculator computes the legacyMetrics block. Trades are pushed
// as they arrive; delta1s and session-CVD histories are sampled once per
// assembler tick via RecordSample.
type CompositeCalculator struct {
	mu sync.Mutex

	recent *TradeWindow // trades within deltaWindowMs

	delta1sHistory []float64
	cvdHistory     []float64

	cvdSession    float64
	totalNotional float64
	totalVolume   float64
}

// NewCompositeCalculator creates an empty session.
func NewCompositeCalculator() *CompositeCalculator {
	return &CompositeCalculator{
		recent:         NewTradeWindow(deltaWindowMs),
		delta1sHistory: make([]float64, 0, historyLen),
		cvdHistory:     make([]float64, 0, historyLen),
	}
}

// AddTrade records a trade into the session accumulators.
func (c *CompositeCalculator) AddTrade(t types.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recent.Add(t)
	c.cvdSession += t.Signed()
	c.totalNotional += t.Price * t.Quantity
	c.totalVolume += t.Quantity
}

// RecordSample appends the current delta1s and session CVD to the rolling
// histories backing deltaZ and cvdSlope. Called once per publication tick.
func (c *CompositeCalculator) RecordSample() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.delta1sHistory = appendBounded(c.delta1sHistory, c.deltaLocked(1_000), historyLen)
	c.cvdHistory = appendBounded(c.cvdHistory, c.cvdSession, historyLen)
}

// Metrics computes the composite block against the given book.
func (c *CompositeCalculator) Metrics(book *OrderBook) types.LegacyMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	bid10 := book.VolumeAtDepth(types.SideBuy, obiWeightedDepth)
	ask10 := book.VolumeAtDepth(types.SideSell, obiWeightedDepth)
	bid50 := book.VolumeAtDepth(types.SideBuy, obiDeepDepth)
	ask50 := book.VolumeAtDepth(types.SideSell, obiDeepDepth)

	obiWeighted := imbalance(bid10, ask10)
	obiDeep := imbalance(bid50, ask50)

	m := types.LegacyMetrics{
		Delta1s:       c.deltaLocked(1_000),
		Delta5s:       c.deltaLocked(5_000),
		DeltaZ:        zScore(c.delta1sHistory),
		CvdSession:    c.cvdSession,
		CvdSlope:      slope(c.cvdHistory),
		ObiWeighted:   obiWeighted,
		ObiDeep:       obiDeep,
		ObiDivergence: obiWeighted - obiDeep,
	}
	if c.totalVolume > epsilon {
		m.Vwap = c.totalNotional / c.totalVolume
	}
	// sweepFadeScore, breakoutScore, regimeWeight and absorptionScore stay
	// zero: no agreed formula yet.
	return m
}

// deltaLocked sums signed quantities of trades within horizonMs of the
// reference time (last trade timestamp, wall clock if none).
func (c *CompositeCalculator) deltaLocked(horizonMs int64) float64 {
	ref := c.recent.RefTime()
	if ref == 0 {
		ref = time.Now().UnixMilli()
	}
	return c.recent.SumSigned(ref - horizonMs)
}

// imbalance is the normalised signed difference (bid − ask)/(bid + ask).
// A book empty on either side has no meaningful imbalance and reads 0
// rather than pinning to ±1.
func imbalance(bid, ask float64) float64 {
	if bid < epsilon || ask < epsilon {
		return 0
	}
	return (bid - ask) / (bid + ask)
}

// zScore is the standard score of the last sample against the history,
// using population variance. Too-short or flat histories yield 0.
func zScore(history []float64) float64 {
	n := len(history)
	if n < 5 {
		return 0
	}

	var sum float64
	for _, v := range history {
		sum += v
	}
	mean := sum / float64(n)

	var variance float64
	for _, v := range history {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)

	std := math.Sqrt(variance)
	if std < epsilon {
		return 0
	}
	return (history[n-1] - mean) / std
}

// slope is the least-squares slope of the samples against x = 0..n-1,
// 0 for degenerate inputs.
func slope(history []float64) float64 {
	n := float64(len(history))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range history {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	den := n*sumXX - sumX*sumX
	if math.Abs(den) < epsilon {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}

func appendBounded(s []float64, v float64, limit int) []float64 {
	s = append(s, v)
	if len(s) > limit {
		s = s[1:]
	}
	return s
}
