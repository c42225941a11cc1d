package feeds

import (
	"sync"

	"github.com/quantpulse/flowdesk/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CVD CALCULATOR - Multi-timeframe cumulative volume delta
// ═══════════════════════════════════════════════════════════════════════════════

// DefaultCvdTimeframes matches the dashboard's three tape views.
var DefaultCvdTimeframes = map[string]int64{
	"tf1m":  60_000,
	"tf5m":  300_000,
	"tf15m": 900_000,
}

// CvdCalculator maintains one independent rolling window per timeframe.
// CVD for a timeframe is the signed quantity sum of trades currently in
// its window; under the one-window-per-timeframe definition delta == cvd.
type CvdCalculator struct {
	mu      sync.Mutex
	buckets map[string]*cvdBucket
}

type cvdBucket struct {
	window     *TradeWindow
	durationMs int64
}

// NewCvdCalculator creates a calculator over the given timeframes
// (name -> duration ms); nil selects DefaultCvdTimeframes.
func NewCvdCalculator(timeframes map[string]int64) *CvdCalculator {
	if timeframes == nil {
		timeframes = DefaultCvdTimeframes
	}
	buckets := make(map[string]*cvdBucket, len(timeframes))
	for name, dur := range timeframes {
		buckets[name] = &cvdBucket{
			window:     NewTradeWindow(dur),
			durationMs: dur,
		}
	}
	return &CvdCalculator{buckets: buckets}
}

// AddTrade records a trade in every timeframe window.
func (c *CvdCalculator) AddTrade(t types.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.buckets {
		b.window.Add(t)
	}
}

// Snapshot returns per-timeframe CVD blocks as of nowMs. The warm-up
// percentage tells consumers how much of the window duration is backed by
// observed data; values under 100 are preliminary. Warm-up runs against
// the read-time clock so it keeps advancing while the tape is quiet.
func (c *CvdCalculator) Snapshot(nowMs int64) map[string]types.CvdTimeframe {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]types.CvdTimeframe, len(c.buckets))
	for name, b := range c.buckets {
		ref := b.window.RefTime()
		cvd := b.window.SumSigned(ref - b.durationMs)

		var warmUp float64
		if oldest := b.window.OldestTimestamp(); oldest > 0 {
			warmUp = float64(nowMs-oldest) / float64(b.durationMs) * 100
			if warmUp < 0 {
				warmUp = 0
			}
			if warmUp > 100 {
				warmUp = 100
			}
		}

		out[name] = types.CvdTimeframe{
			Cvd:       cvd,
			Delta:     cvd,
			WarmUpPct: warmUp,
		}
	}
	return out
}
