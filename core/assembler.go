package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/quantpulse/flowdesk/feeds"
	"github.com/quantpulse/flowdesk/internal/metrics"
	"github.com/quantpulse/flowdesk/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS ASSEMBLER - Periodic envelope builder
// ═══════════════════════════════════════════════════════════════════════════════

// envelopeDepth is how many levels per side the envelope carries.
const envelopeDepth = 8

// Publisher receives finished envelopes; implemented by the subscription
// hub.
type Publisher interface {
	Publish(env *types.MetricsEnvelope)
}

// Assembler joins the pipeline's components into a MetricsEnvelope on a
// fixed cadence and hands it to the publisher. Reads never mutate
// collaborator state.
type Assembler struct {
	pipeline  *Pipeline
	publisher Publisher
	interval  time.Duration

	// Guards against a slow tick overlapping the next one.
	ticking atomic.Bool

	lastCanonicalMs int64
}

// NewAssembler creates an assembler for one pipeline.
func NewAssembler(p *Pipeline, pub Publisher, interval time.Duration) *Assembler {
	return &Assembler{
		pipeline:  p,
		publisher: pub,
		interval:  interval,
	}
}

// Run ticks until ctx is cancelled.
func (a *Assembler) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.ticking.CompareAndSwap(false, true) {
				continue // previous tick still in flight
			}
			a.tick(time.Now().UnixMilli())
			a.ticking.Store(false)
		}
	}
}

func (a *Assembler) tick(nowMs int64) {
	env := a.BuildEnvelope(nowMs)
	a.publisher.Publish(env)
	metrics.EnvelopesPublished.WithLabelValues(a.pipeline.symbol).Inc()
}

// BuildEnvelope assembles one envelope at the given canonical time.
// Canonical times are forced non-decreasing so subscribers can rely on
// envelope order.
func (a *Assembler) BuildEnvelope(nowMs int64) *types.MetricsEnvelope {
	p := a.pipeline

	if nowMs < a.lastCanonicalMs {
		nowMs = a.lastCanonicalMs
	}
	a.lastCanonicalMs = nowMs

	p.composite.RecordSample()

	env := &types.MetricsEnvelope{
		Type:            "metrics",
		Symbol:          p.symbol,
		CanonicalTimeMs: nowMs,
		State:           types.BookLive,
		Price:           p.book.Mid(),
		TimeAndSales:    p.trades.Snapshot(),
		Cvd:             p.cvd.Snapshot(nowMs),
		LegacyMetrics:   p.composite.Metrics(p.book),
		Absorption:      nil, // no agreed formula yet
	}
	if p.oi != nil {
		env.OpenInterest = p.oi.Snapshot()
	}
	if p.funding != nil {
		env.Funding = p.funding.Snapshot(nowMs)
	}

	if p.book.State() == feeds.SyncSynced {
		env.Bids, env.Asks = p.book.TopLevels(envelopeDepth)
	} else {
		// Book is resyncing: elide levels, keep the scalars, tag STALE.
		env.State = types.BookStale
		env.Bids = []types.BookLevel{}
		env.Asks = []types.BookLevel{}
	}
	return env
}
