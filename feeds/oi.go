package feeds

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantpulse/flowdesk/internal/metrics"
	"github.com/quantpulse/flowdesk/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OPEN INTEREST MONITOR - Polled OI with rolling 60s baseline
// ═══════════════════════════════════════════════════════════════════════════════

// ErrRateLimited marks a 429-style poll response; the failure is counted
// but not logged as an error.
var ErrRateLimited = errors.New("rate limited")

const (
	oiHistoryMs  = 5 * 60 * 1000
	oiBaselineMs = 60 * 1000
)

// OiFetcher fetches the current open interest for a symbol.
type OiFetcher interface {
	FetchOpenInterest(ctx context.Context, symbol string) (float64, error)
}

type oiSample struct {
	value       float64
	timestampMs int64
}

// OpenInterestMonitor polls the OI source on a fixed interval and keeps a
// 5-minute history with a baseline pinned to the oldest sample inside the
// last 60 seconds.
type OpenInterestMonitor struct {
	mu sync.Mutex

	symbol   string
	fetcher  OiFetcher
	interval time.Duration
	source   string // "real" | "mock"

	currentOI  float64
	previousOI float64
	baselineOI float64
	baselineTs int64
	history    []oiSample

	lastErrLog time.Time
}

// NewOpenInterestMonitor creates a monitor. A nil fetcher selects the
// deterministic mock source so dashboards stay alive without an endpoint.
func NewOpenInterestMonitor(symbol string, fetcher OiFetcher, interval time.Duration) *OpenInterestMonitor {
	source := "real"
	if fetcher == nil {
		fetcher = newMockOiFetcher()
		source = "mock"
	}
	return &OpenInterestMonitor{
		symbol:   symbol,
		fetcher:  fetcher,
		interval: interval,
		source:   source,
	}
}

// Run polls until the context is cancelled.
func (m *OpenInterestMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *OpenInterestMonitor) poll(ctx context.Context) {
	value, err := m.fetcher.FetchOpenInterest(ctx, m.symbol)
	if err != nil {
		metrics.OiPollFailures.WithLabelValues(m.symbol).Inc()
		if errors.Is(err, ErrRateLimited) || errors.Is(err, context.Canceled) {
			return
		}
		// One log line per transient window; last known value persists.
		m.mu.Lock()
		shouldLog := time.Since(m.lastErrLog) > time.Minute
		if shouldLog {
			m.lastErrLog = time.Now()
		}
		m.mu.Unlock()
		if shouldLog {
			log.Error().Err(err).Str("symbol", m.symbol).Msg("OI poll failed")
		}
		return
	}
	m.Record(value, time.Now().UnixMilli())
}

// Record applies one successful sample at the given time. Exposed so the
// poll loop and tests share one state transition.
func (m *OpenInterestMonitor) Record(value float64, nowMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentOI == 0 {
		m.baselineOI = value
		m.baselineTs = nowMs
	} else {
		m.previousOI = m.currentOI
	}
	m.currentOI = value

	m.history = append(m.history, oiSample{value: value, timestampMs: nowMs})

	// Cull beyond 5 minutes.
	cutoff := nowMs - oiHistoryMs
	i := 0
	for i < len(m.history) && m.history[i].timestampMs < cutoff {
		i++
	}
	if i > 0 {
		m.history = append(m.history[:0], m.history[i:]...)
	}

	// Re-pin the baseline once it ages past 60s.
	if nowMs-m.baselineTs >= oiBaselineMs {
		floor := nowMs - oiBaselineMs
		for _, s := range m.history {
			if s.timestampMs >= floor {
				m.baselineOI = s.value
				m.baselineTs = s.timestampMs
				break
			}
		}
	}
}

// Snapshot returns the envelope OI block.
func (m *OpenInterestMonitor) Snapshot() types.OpenInterestBlock {
	m.mu.Lock()
	defer m.mu.Unlock()

	changeAbs := m.currentOI - m.baselineOI
	var changePct float64
	if m.baselineOI > 0 {
		changePct = changeAbs / m.baselineOI * 100
	}
	return types.OpenInterestBlock{
		OpenInterest:  m.currentOI,
		OiChangeAbs:   changeAbs,
		OiChangePct:   changePct,
		OiDeltaWindow: changeAbs,
		Source:        m.source,
	}
}

// mockOiFetcher generates a slow sine drift around a fixed base, keyed to
// wall time so repeated polls move plausibly.
type mockOiFetcher struct {
	base float64
}

func newMockOiFetcher() *mockOiFetcher {
	return &mockOiFetcher{base: 75_000}
}

func (f *mockOiFetcher) FetchOpenInterest(_ context.Context, _ string) (float64, error) {
	phase := float64(time.Now().Unix()%3600) / 3600 * 2 * math.Pi
	return f.base * (1 + 0.02*math.Sin(phase)), nil
}
