package feeds

import (
	"testing"
	"time"
)

func TestFundingNilBeforeFirstSample(t *testing.T) {
	m := NewFundingMonitor("BTCUSDT", nil, time.Second)
	if got := m.Snapshot(1_000); got != nil {
		t.Fatalf("snapshot before first sample = %+v, want nil", got)
	}
}

func TestFundingTrend(t *testing.T) {
	m := NewFundingMonitor("BTCUSDT", nil, time.Second)

	m.Record(FundingSample{Rate: 0.0001, NextFundingTimeMs: 100_000})
	if got := m.Snapshot(0).Trend; got != "flat" {
		t.Fatalf("first sample trend = %q, want flat", got)
	}

	m.Record(FundingSample{Rate: 0.0003, NextFundingTimeMs: 100_000})
	if got := m.Snapshot(0).Trend; got != "up" {
		t.Fatalf("trend = %q, want up", got)
	}

	m.Record(FundingSample{Rate: -0.0001, NextFundingTimeMs: 100_000})
	if got := m.Snapshot(0).Trend; got != "down" {
		t.Fatalf("trend = %q, want down", got)
	}
}

func TestFundingTimeToFundingClamp(t *testing.T) {
	m := NewFundingMonitor("BTCUSDT", nil, time.Second)
	m.Record(FundingSample{Rate: 0.0001, NextFundingTimeMs: 50_000})

	if got := m.Snapshot(20_000).TimeToFundingMs; got != 30_000 {
		t.Fatalf("ttf = %d, want 30000", got)
	}
	// Past the funding time the countdown floors at zero.
	if got := m.Snapshot(80_000).TimeToFundingMs; got != 0 {
		t.Fatalf("ttf past funding = %d, want 0", got)
	}
}
