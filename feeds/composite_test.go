package feeds

import (
	"math"
	"testing"

	"github.com/quantpulse/flowdesk/types"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCompositeObi(t *testing.T) {
	b := NewOrderBook("BTCUSDT")
	b.ApplySnapshot(snapshot(1,
		[][2]float64{{100, 10}, {99, 5}},
		[][2]float64{{101, 7}, {102, 3}},
	))

	c := NewCompositeCalculator()
	m := c.Metrics(b)

	// bid volume 15 vs ask volume 10 at both depths on this shallow book.
	if !almostEqual(m.ObiWeighted, 0.2) {
		t.Fatalf("obiWeighted = %v, want 0.2", m.ObiWeighted)
	}
	if !almostEqual(m.ObiDeep, 0.2) {
		t.Fatalf("obiDeep = %v, want 0.2", m.ObiDeep)
	}
	if !almostEqual(m.ObiDivergence, 0) {
		t.Fatalf("obiDivergence = %v, want 0", m.ObiDivergence)
	}
}

func TestCompositeObiEmptyBook(t *testing.T) {
	c := NewCompositeCalculator()
	m := c.Metrics(NewOrderBook("BTCUSDT"))
	if m.ObiWeighted != 0 || m.ObiDeep != 0 {
		t.Fatalf("obi on empty book = %v/%v, want 0/0", m.ObiWeighted, m.ObiDeep)
	}
}

func TestCompositeObiOneSidedBook(t *testing.T) {
	c := NewCompositeCalculator()

	// Asks only: the imbalance is undefined, not −1.
	askOnly := NewOrderBook("BTCUSDT")
	askOnly.ApplySnapshot(snapshot(1, nil, [][2]float64{{101, 7}}))
	m := c.Metrics(askOnly)
	if m.ObiWeighted != 0 || m.ObiDeep != 0 || m.ObiDivergence != 0 {
		t.Fatalf("obi with empty bid side = %v/%v/%v, want 0/0/0",
			m.ObiWeighted, m.ObiDeep, m.ObiDivergence)
	}

	bidOnly := NewOrderBook("BTCUSDT")
	bidOnly.ApplySnapshot(snapshot(1, [][2]float64{{100, 10}}, nil))
	m = c.Metrics(bidOnly)
	if m.ObiWeighted != 0 || m.ObiDeep != 0 {
		t.Fatalf("obi with empty ask side = %v/%v, want 0/0", m.ObiWeighted, m.ObiDeep)
	}
}

func TestCompositeDeltasSessionAndVwap(t *testing.T) {
	c := NewCompositeCalculator()

	// Last trade at t=9.5s pins the reference time; the 1s horizon starts at
	// 8.5s, the 5s horizon at 4.5s.
	c.AddTrade(types.Trade{Price: 99, Quantity: 1, Side: types.SideBuy, TimestampMs: 5_500})
	c.AddTrade(types.Trade{Price: 100, Quantity: 1, Side: types.SideSell, TimestampMs: 6_000})
	c.AddTrade(types.Trade{Price: 100, Quantity: 3, Side: types.SideBuy, TimestampMs: 8_000})
	c.AddTrade(types.Trade{Price: 99, Quantity: 1, Side: types.SideBuy, TimestampMs: 9_500})

	m := c.Metrics(NewOrderBook("BTCUSDT"))

	if !almostEqual(m.Delta1s, 1) {
		t.Fatalf("delta1s = %v, want 1", m.Delta1s)
	}
	if !almostEqual(m.Delta5s, 4) {
		t.Fatalf("delta5s = %v, want 4", m.Delta5s)
	}
	if !almostEqual(m.CvdSession, 4) {
		t.Fatalf("cvdSession = %v, want 4", m.CvdSession)
	}
	if want := 598.0 / 6.0; !almostEqual(m.Vwap, want) {
		t.Fatalf("vwap = %v, want %v", m.Vwap, want)
	}
}

func TestCompositeVwapZeroWithoutVolume(t *testing.T) {
	c := NewCompositeCalculator()
	if m := c.Metrics(NewOrderBook("BTCUSDT")); m.Vwap != 0 {
		t.Fatalf("vwap without trades = %v, want 0", m.Vwap)
	}
}

func TestCompositeSessionCvdSurvivesWindowExpiry(t *testing.T) {
	c := NewCompositeCalculator()
	c.AddTrade(types.Trade{Price: 100, Quantity: 5, Side: types.SideBuy, TimestampMs: 1_000})
	// 10 minutes later; the short-horizon window is long gone.
	c.AddTrade(types.Trade{Price: 100, Quantity: 1, Side: types.SideSell, TimestampMs: 601_000})

	m := c.Metrics(NewOrderBook("BTCUSDT"))
	if !almostEqual(m.CvdSession, 4) {
		t.Fatalf("cvdSession = %v, want 4", m.CvdSession)
	}
	if !almostEqual(m.Delta5s, -1) {
		t.Fatalf("delta5s = %v, want -1", m.Delta5s)
	}
}

func TestCompositeDeltaZ(t *testing.T) {
	c := NewCompositeCalculator()

	// Fewer than 5 samples yields zero.
	for i := 0; i < 4; i++ {
		c.RecordSample()
	}
	if m := c.Metrics(NewOrderBook("BTCUSDT")); m.DeltaZ != 0 {
		t.Fatalf("deltaZ with short history = %v, want 0", m.DeltaZ)
	}

	// Flat history yields zero even past the minimum.
	c.RecordSample()
	if m := c.Metrics(NewOrderBook("BTCUSDT")); m.DeltaZ != 0 {
		t.Fatalf("deltaZ with flat history = %v, want 0", m.DeltaZ)
	}
}

func TestZScore(t *testing.T) {
	// History 0,0,0,0,4: mean 0.8, population variance 2.56, std 1.6,
	// z = (4-0.8)/1.6 = 2.
	history := []float64{0, 0, 0, 0, 4}
	if got := zScore(history); !almostEqual(got, 2) {
		t.Fatalf("zScore = %v, want 2", got)
	}
	if got := zScore([]float64{1, 2, 3}); got != 0 {
		t.Fatalf("zScore short = %v, want 0", got)
	}
	if got := zScore([]float64{7, 7, 7, 7, 7}); got != 0 {
		t.Fatalf("zScore flat = %v, want 0", got)
	}
}

func TestSlope(t *testing.T) {
	tests := []struct {
		name    string
		history []float64
		want    float64
	}{
		{"rising", []float64{0, 2, 4, 6}, 2},
		{"falling", []float64{9, 6, 3}, -3},
		{"flat", []float64{5, 5, 5}, 0},
		{"single", []float64{5}, 0},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		if got := slope(tt.history); !almostEqual(got, tt.want) {
			t.Errorf("%s: slope = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRecordSampleHistoryBound(t *testing.T) {
	c := NewCompositeCalculator()
	for i := 0; i < historyLen+20; i++ {
		c.RecordSample()
	}
	if len(c.cvdHistory) != historyLen {
		t.Fatalf("cvdHistory len = %d, want %d", len(c.cvdHistory), historyLen)
	}
	if len(c.delta1sHistory) != historyLen {
		t.Fatalf("delta1sHistory len = %d, want %d", len(c.delta1sHistory), historyLen)
	}
}

func TestCompositeSlopeTracksSessionGrowth(t *testing.T) {
	c := NewCompositeCalculator()

	// One buy of quantity 2 per tick: session CVD samples 2,4,6,...
	for i := 1; i <= 10; i++ {
		c.AddTrade(types.Trade{Price: 100, Quantity: 2, Side: types.SideBuy, TimestampMs: int64(i) * 1_000})
		c.RecordSample()
	}
	m := c.Metrics(NewOrderBook("BTCUSDT"))
	if !almostEqual(m.CvdSlope, 2) {
		t.Fatalf("cvdSlope = %v, want 2", m.CvdSlope)
	}
}
