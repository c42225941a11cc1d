package feeds

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantpulse/flowdesk/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FUNDING MONITOR - Polled funding rate with trend tag
// ═══════════════════════════════════════════════════════════════════════════════

// FundingSample is one premium-index poll result.
type FundingSample struct {
	Rate              float64
	NextFundingTimeMs int64
}

// FundingFetcher fetches the current funding state for a symbol.
type FundingFetcher interface {
	FetchFunding(ctx context.Context, symbol string) (FundingSample, error)
}

// FundingMonitor polls the funding source and tags the rate trend against
// the previous sample. Until the first successful sample the envelope
// block is null.
type FundingMonitor struct {
	mu sync.Mutex

	symbol   string
	fetcher  FundingFetcher
	interval time.Duration

	hasSample bool
	rate      float64
	prevRate  float64
	nextMs    int64
}

// NewFundingMonitor creates a monitor; a nil fetcher disables it (the
// envelope funding block stays null).
func NewFundingMonitor(symbol string, fetcher FundingFetcher, interval time.Duration) *FundingMonitor {
	return &FundingMonitor{
		symbol:   symbol,
		fetcher:  fetcher,
		interval: interval,
	}
}

// Run polls until the context is cancelled. No-op without a fetcher.
func (m *FundingMonitor) Run(ctx context.Context) {
	if m.fetcher == nil {
		return
	}
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

func (m *FundingMonitor) poll(ctx context.Context) {
	sample, err := m.fetcher.FetchFunding(ctx, m.symbol)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrRateLimited) {
			log.Debug().Err(err).Str("symbol", m.symbol).Msg("Funding poll failed")
		}
		return
	}
	m.Record(sample)
}

// Record applies one successful sample.
func (m *FundingMonitor) Record(sample FundingSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasSample {
		m.prevRate = m.rate
	} else {
		m.prevRate = sample.Rate
	}
	m.rate = sample.Rate
	m.nextMs = sample.NextFundingTimeMs
	m.hasSample = true
}

// Snapshot returns the envelope funding block, nil before the first sample.
func (m *FundingMonitor) Snapshot(nowMs int64) *types.FundingBlock {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasSample {
		return nil
	}

	trend := "flat"
	switch {
	case m.rate > m.prevRate:
		trend = "up"
	case m.rate < m.prevRate:
		trend = "down"
	}

	ttf := m.nextMs - nowMs
	if ttf < 0 {
		ttf = 0
	}
	return &types.FundingBlock{
		Rate:            m.rate,
		TimeToFundingMs: ttf,
		Trend:           trend,
	}
}
