package feeds

import (
	"sort"
	"sync"

	"github.com/quantpulse/flowdesk/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE AGGREGATOR - Rolling window of aggressive prints
// ═══════════════════════════════════════════════════════════════════════════════

// calibrationTrades is how many prints seed the S/M/L thresholds before
// they freeze.
const calibrationTrades = 50

// TradeAggregator maintains a rolling window of aggressive trades and
// derives tape metrics: buy/sell volume, prints per second, size buckets,
// burst runs and feed latency.
type TradeAggregator struct {
	mu     sync.Mutex
	window *TradeWindow

	windowMs int64

	// S/M/L thresholds: calibrated from the first calibrationTrades
	// quantities (25th/75th percentile), then frozen until Reset.
	calibration []float64
	smallMax    float64
	largeMin    float64
	calibrated  bool

	// Burst run of same-side prints.
	burstSide  types.Side
	burstCount int
}

// NewTradeAggregator creates an aggregator over the given window duration.
func NewTradeAggregator(windowMs int64) *TradeAggregator {
	return &TradeAggregator{
		window:      NewTradeWindow(windowMs),
		windowMs:    windowMs,
		calibration: make([]float64, 0, calibrationTrades),
	}
}

// AddTrade records one aggressive trade.
func (a *TradeAggregator) AddTrade(t types.Trade) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window.Add(t)

	if !a.calibrated {
		a.calibration = append(a.calibration, t.Quantity)
		if len(a.calibration) >= calibrationTrades {
			a.freezeThresholds()
		}
	}

	if t.Side == a.burstSide && a.burstCount > 0 {
		a.burstCount++
	} else {
		a.burstSide = t.Side
		a.burstCount = 1
	}
}

// Reset clears window and burst state and re-opens threshold calibration.
func (a *TradeAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window.Reset()
	a.calibration = a.calibration[:0]
	a.calibrated = false
	a.smallMax = 0
	a.largeMin = 0
	a.burstSide = ""
	a.burstCount = 0
}

// Snapshot returns the current tape metrics.
func (a *TradeAggregator) Snapshot() types.TimeAndSales {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := a.window.Entries()

	var (
		buyVol, sellVol     float64
		buyCount, sellCount int
		small, mid, large   int
		latencySum          float64
		latencyCount        int
	)
	for i := range entries {
		t := &entries[i]
		if t.Side == types.SideBuy {
			buyVol += t.Quantity
			buyCount++
		} else {
			sellVol += t.Quantity
			sellCount++
		}

		switch {
		case a.calibrated && t.Quantity <= a.smallMax:
			small++
		case a.calibrated && t.Quantity >= a.largeMin:
			large++
		default:
			mid++
		}

		if t.ArrivalMs > 0 && t.TimestampMs > 0 {
			latencySum += float64(t.ArrivalMs - t.TimestampMs)
			latencyCount++
		}
	}

	count := len(entries)
	out := types.TimeAndSales{
		AggressiveBuyVolume:  buyVol,
		AggressiveSellVolume: sellVol,
		TradeCount:           count,
		PrintsPerSecond:      float64(count) / (float64(a.windowMs) / 1000.0),
		SmallTrades:          small,
		MidTrades:            mid,
		LargeTrades:          large,
		BidHitAskLiftRatio:   float64(buyCount) / float64(max(1, sellCount)),
		ConsecutiveBurst: types.BurstState{
			Side:  a.burstSide,
			Count: a.burstCount,
		},
	}
	if latencyCount > 0 {
		avg := latencySum / float64(latencyCount)
		out.AvgLatencyMs = &avg
	}
	return out
}

// freezeThresholds pins smallMax/largeMin to the 25th/75th percentile of
// the calibration quantities.
func (a *TradeAggregator) freezeThresholds() {
	sorted := make([]float64, len(a.calibration))
	copy(sorted, a.calibration)
	sort.Float64s(sorted)

	a.smallMax = percentile(sorted, 25)
	a.largeMin = percentile(sorted, 75)
	a.calibrated = true
}

// percentile returns the pth percentile of a sorted slice using the
// nearest-rank method.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p / 100 * float64(len(sorted)))
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
