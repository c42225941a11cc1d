package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantpulse/flowdesk/feeds"
	"github.com/quantpulse/flowdesk/internal/metrics"
	"github.com/quantpulse/flowdesk/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SYMBOL PIPELINE - Book sync + aggregators for one symbol
// ═══════════════════════════════════════════════════════════════════════════════
//
// The pipeline is the stream handler for its symbol: depth diffs go to the
// book, trades fan out to the aggregator, CVD and composite calculators.
// A book gap triggers an asynchronous snapshot refetch with backoff; the
// aggregators deliberately keep their state across resyncs and reconnects.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	snapshotBackoffMin = time.Second
	snapshotBackoffMax = 30 * time.Second

	// Diffs received while resyncing are buffered and replayed once the
	// fresh snapshot lands, so no update id is skipped.
	resyncBufferLimit = 2048
)

// SnapshotSource fetches a fresh depth snapshot.
type SnapshotSource interface {
	FetchDepthSnapshot(ctx context.Context, symbol string) (*types.DepthSnapshot, error)
}

// Pipeline owns all per-symbol market-data state.
type Pipeline struct {
	symbol string

	book      *feeds.OrderBook
	trades    *feeds.TradeAggregator
	cvd       *feeds.CvdCalculator
	composite *feeds.CompositeCalculator
	oi        *feeds.OpenInterestMonitor
	funding   *feeds.FundingMonitor

	snapshots SnapshotSource

	resyncCh  chan struct{}
	pendingMu sync.Mutex
	pending   []*types.DepthDiff
}

// PipelineDeps bundles the collaborators of a pipeline.
type PipelineDeps struct {
	Snapshots SnapshotSource
	Oi        *feeds.OpenInterestMonitor
	Funding   *feeds.FundingMonitor
	// TradeWindowMs defaults to 60 s when zero.
	TradeWindowMs int64
}

// NewPipeline creates the full per-symbol component set.
func NewPipeline(symbol string, deps PipelineDeps) *Pipeline {
	windowMs := deps.TradeWindowMs
	if windowMs == 0 {
		windowMs = 60_000
	}
	return &Pipeline{
		symbol:    symbol,
		book:      feeds.NewOrderBook(symbol),
		trades:    feeds.NewTradeAggregator(windowMs),
		cvd:       feeds.NewCvdCalculator(nil),
		composite: feeds.NewCompositeCalculator(),
		oi:        deps.Oi,
		funding:   deps.Funding,
		snapshots: deps.Snapshots,
		resyncCh:  make(chan struct{}, 1),
	}
}

// Symbol returns the pipeline's symbol.
func (p *Pipeline) Symbol() string { return p.symbol }

// Book exposes the order book for read-only use by the assembler.
func (p *Pipeline) Book() *feeds.OrderBook { return p.book }

// Run drives the snapshot/resync loop and the OI and funding monitors
// until ctx is cancelled. Stream ingestion is driven externally by the
// transport calling the handler methods below.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if p.oi != nil {
		wg.Add(1)
		go func() { defer wg.Done(); p.oi.Run(ctx) }()
	}
	if p.funding != nil {
		wg.Add(1)
		go func() { defer wg.Done(); p.funding.Run(ctx) }()
	}

	p.requestResync() // initial snapshot
	p.resyncLoop(ctx)
	wg.Wait()
}

// ── StreamHandler ─────────────────────────────────────────────────────────────

// OnDepthDiff applies one diff; gaps and pre-sync diffs are buffered for
// replay after the next snapshot.
func (p *Pipeline) OnDepthDiff(d *types.DepthDiff) {
	if p.book.State() != feeds.SyncSynced {
		p.bufferDiff(d)
		p.requestResync()
		return
	}

	res := p.book.ApplyDiff(d)
	if res.GapDetected {
		metrics.BookGaps.WithLabelValues(p.symbol).Inc()
		p.bufferDiff(d)
		p.requestResync()
	}
}

// OnTrade fans one aggressive trade out to every trade-derived metric.
func (p *Pipeline) OnTrade(t types.Trade) {
	p.trades.AddTrade(t)
	p.cvd.AddTrade(t)
	p.composite.AddTrade(t)
	metrics.TradesIngested.WithLabelValues(p.symbol).Inc()
}

// OnDisconnect marks the book stale; trade-derived state survives the
// reconnect untouched.
func (p *Pipeline) OnDisconnect() {
	p.book.MarkResync()
	p.requestResync()
}

// ── Resync ────────────────────────────────────────────────────────────────────

func (p *Pipeline) requestResync() {
	select {
	case p.resyncCh <- struct{}{}:
	default:
	}
}

func (p *Pipeline) resyncLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.resyncCh:
		}

		backoff := snapshotBackoffMin
		for {
			snap, err := p.snapshots.FetchDepthSnapshot(ctx, p.symbol)
			if err == nil {
				p.book.ApplySnapshot(snap)
				p.replayPending()
				log.Info().Str("symbol", p.symbol).Msg("✅ Book resynced")
				break
			}
			if ctx.Err() != nil {
				return
			}

			log.Error().Err(err).Str("symbol", p.symbol).Dur("backoff", backoff).
				Msg("Snapshot fetch failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > snapshotBackoffMax {
				backoff = snapshotBackoffMax
			}
		}
	}
}

func (p *Pipeline) bufferDiff(d *types.DepthDiff) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if len(p.pending) >= resyncBufferLimit {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, d)
}

// replayPending re-applies buffered diffs against the fresh snapshot; the
// sequence rule drops the stale ones and connects the rest.
func (p *Pipeline) replayPending() {
	p.pendingMu.Lock()
	pending := p.pending
	p.pending = nil
	p.pendingMu.Unlock()

	for i, d := range pending {
		if res := p.book.ApplyDiff(d); res.GapDetected {
			// Still disconnected from the snapshot; keep the remainder
			// buffered and go around again.
			for _, rest := range pending[i:] {
				p.bufferDiff(rest)
			}
			p.requestResync()
			return
		}
	}
}
