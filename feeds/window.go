package feeds

import (
	"github.com/quantpulse/flowdesk/types"
)

// MaxWindowEntries caps any rolling trade window so a burst of prints
// cannot grow memory without bound.
const MaxWindowEntries = 10000

// TradeWindow is a time-bounded, count-bounded rolling window of trades.
// Entries are kept in arrival order; eviction uses the maximum trade
// timestamp seen so far as the reference "now", so out-of-order trades are
// accepted without re-sorting.
//
// Not safe for concurrent use; the owning aggregator serialises access.
type TradeWindow struct {
	durationMs int64
	maxEntries int
	entries    []types.Trade
	maxSeenMs  int64
}

// NewTradeWindow creates a window covering durationMs of trade time.
func NewTradeWindow(durationMs int64) *TradeWindow {
	return &TradeWindow{
		durationMs: durationMs,
		maxEntries: MaxWindowEntries,
		entries:    make([]types.Trade, 0, 256),
	}
}

// Add appends a trade and evicts expired entries.
func (w *TradeWindow) Add(t types.Trade) {
	w.entries = append(w.entries, t)
	if t.TimestampMs > w.maxSeenMs {
		w.maxSeenMs = t.TimestampMs
	}
	w.evict()
}

// RefTime returns the eviction reference: the max timestamp seen so far.
func (w *TradeWindow) RefTime() int64 {
	return w.maxSeenMs
}

// Len returns the number of live entries after eviction.
func (w *TradeWindow) Len() int {
	w.evict()
	return len(w.entries)
}

// Entries returns the live entries, oldest arrival first. The returned
// slice aliases internal storage; callers must not retain it across Add.
func (w *TradeWindow) Entries() []types.Trade {
	w.evict()
	return w.entries
}

// OldestTimestamp returns the smallest timestamp among live entries, or 0
// when the window is empty.
func (w *TradeWindow) OldestTimestamp() int64 {
	w.evict()
	oldest := int64(0)
	for i := range w.entries {
		if oldest == 0 || w.entries[i].TimestampMs < oldest {
			oldest = w.entries[i].TimestampMs
		}
	}
	return oldest
}

// SumSigned returns the sum of signed quantities of entries with
// TimestampMs >= sinceMs.
func (w *TradeWindow) SumSigned(sinceMs int64) float64 {
	w.evict()
	var sum float64
	for i := range w.entries {
		if w.entries[i].TimestampMs >= sinceMs {
			sum += w.entries[i].Signed()
		}
	}
	return sum
}

// Reset drops all entries but keeps the reference time.
func (w *TradeWindow) Reset() {
	w.entries = w.entries[:0]
}

func (w *TradeWindow) evict() {
	cutoff := w.maxSeenMs - w.durationMs

	// Expired entries cluster at the front, but out-of-order arrivals can
	// leave stragglers further in, so filter in place.
	i := 0
	for i < len(w.entries) && w.entries[i].TimestampMs >= cutoff {
		i++
	}
	if i < len(w.entries) {
		live := w.entries[:i]
		for _, e := range w.entries[i:] {
			if e.TimestampMs >= cutoff {
				live = append(live, e)
			}
		}
		w.entries = live
	}

	// Hard cap regardless of time.
	if over := len(w.entries) - w.maxEntries; over > 0 {
		w.entries = append(w.entries[:0], w.entries[over:]...)
	}
}
