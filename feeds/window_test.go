package feeds

import (
	"testing"

	"github.com/quantpulse/flowdesk/types"
)

func trade(side types.Side, qty float64, tsMs int64) types.Trade {
	return types.Trade{Price: 100, Quantity: qty, Side: side, TimestampMs: tsMs}
}

func TestTradeWindowEvictsByMaxSeenTimestamp(t *testing.T) {
	w := NewTradeWindow(60_000)

	w.Add(trade(types.SideBuy, 1, 1_000))
	w.Add(trade(types.SideBuy, 1, 30_000))
	if w.Len() != 2 {
		t.Fatalf("Len = %d, want 2", w.Len())
	}

	// A trade at t=62s pushes the cutoff to 2s; the first entry expires.
	w.Add(trade(types.SideSell, 1, 62_000))
	if w.Len() != 2 {
		t.Fatalf("Len after expiry = %d, want 2", w.Len())
	}
	if got := w.OldestTimestamp(); got != 30_000 {
		t.Fatalf("OldestTimestamp = %d, want 30000", got)
	}
}

func TestTradeWindowEvictsOutOfOrderStragglers(t *testing.T) {
	w := NewTradeWindow(60_000)

	w.Add(trade(types.SideBuy, 1, 50_000))
	// Late arrival with an old timestamp lands behind the newer entry.
	w.Add(trade(types.SideBuy, 1, 1_000))
	w.Add(trade(types.SideBuy, 1, 65_000)) // cutoff becomes 5000

	entries := w.Entries()
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.TimestampMs < 5_000 {
			t.Fatalf("expired entry %d survived eviction", e.TimestampMs)
		}
	}
}

func TestTradeWindowCountCap(t *testing.T) {
	w := NewTradeWindow(60_000)
	w.maxEntries = 100

	for i := 0; i < 150; i++ {
		w.Add(trade(types.SideBuy, 1, 10_000))
	}
	if w.Len() != 100 {
		t.Fatalf("Len = %d, want cap 100", w.Len())
	}
}

func TestTradeWindowSumSigned(t *testing.T) {
	w := NewTradeWindow(60_000)
	w.Add(trade(types.SideBuy, 2, 1_000))
	w.Add(trade(types.SideSell, 3, 2_000))
	w.Add(trade(types.SideBuy, 5, 3_000))

	tests := []struct {
		name    string
		sinceMs int64
		want    float64
	}{
		{"all", 0, 4},
		{"from 2s", 2_000, 2},
		{"from 3s", 3_000, 5},
		{"future", 4_000, 0},
	}
	for _, tt := range tests {
		if got := w.SumSigned(tt.sinceMs); got != tt.want {
			t.Errorf("%s: SumSigned(%d) = %v, want %v", tt.name, tt.sinceMs, got, tt.want)
		}
	}
}

func TestTradeWindowResetKeepsRefTime(t *testing.T) {
	w := NewTradeWindow(60_000)
	w.Add(trade(types.SideBuy, 1, 42_000))
	w.Reset()

	if w.Len() != 0 {
		t.Fatalf("Len after reset = %d, want 0", w.Len())
	}
	if w.RefTime() != 42_000 {
		t.Fatalf("RefTime after reset = %d, want 42000", w.RefTime())
	}
}
