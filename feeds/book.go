package feeds

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quantpulse/flowdesk/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER BOOK - L2 state + snapshot/diff synchroniser
// ═══════════════════════════════════════════════════════════════════════════════
//
// The book follows the exchange's snapshot + diff protocol. Every diff
// carries the inclusive update-id range [U, u]; a diff is applied only when
// it connects to the current sequence:
//
//   U <= lastUpdateId + 1 <= u
//
// Anything older is dropped, anything newer is a gap and forces a resync.
//
// ═══════════════════════════════════════════════════════════════════════════════

// SyncState is the synchroniser lifecycle.
type SyncState int

const (
	SyncInit SyncState = iota
	SyncSynced
	SyncResync
)

func (s SyncState) String() string {
	switch s {
	case SyncSynced:
		return "SYNCED"
	case SyncResync:
		return "RESYNC"
	default:
		return "INIT"
	}
}

// ApplyResult reports the outcome of one diff against the book.
type ApplyResult struct {
	OK          bool
	Applied     bool
	Dropped     bool
	GapDetected bool
}

// OrderBook is per-symbol L2 state. The synchroniser methods are the only
// writers; readers get point-in-time copies.
type OrderBook struct {
	mu           sync.RWMutex
	symbol       string
	bids         map[float64]float64
	asks         map[float64]float64
	lastUpdateID int64
	state        SyncState
}

// NewOrderBook creates an empty book in INIT state.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol:       symbol,
		bids:         make(map[float64]float64),
		asks:         make(map[float64]float64),
		lastUpdateID: -1,
		state:        SyncInit,
	}
}

// State returns the current synchroniser state.
func (b *OrderBook) State() SyncState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// LastUpdateID returns the sequence number of the last applied diff, or -1
// before the first snapshot.
func (b *OrderBook) LastUpdateID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateID
}

// ApplySnapshot replaces both sides atomically and moves to SYNCED.
func (b *OrderBook) ApplySnapshot(snap *types.DepthSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = make(map[float64]float64, len(snap.Bids))
	b.asks = make(map[float64]float64, len(snap.Asks))
	for _, lv := range snap.Bids {
		if lv[1] > 0 {
			b.bids[lv[0]] = lv[1]
		}
	}
	for _, lv := range snap.Asks {
		if lv[1] > 0 {
			b.asks[lv[0]] = lv[1]
		}
	}
	b.lastUpdateID = snap.LastUpdateID
	b.state = SyncSynced

	log.Debug().
		Str("symbol", b.symbol).
		Int64("lastUpdateId", snap.LastUpdateID).
		Int("bids", len(b.bids)).
		Int("asks", len(b.asks)).
		Msg("Order book snapshot applied")
}

// ApplyDiff applies one diff under the sequence rule. On a gap the book
// enters RESYNC and keeps its last known levels for readers; the caller is
// expected to fetch a fresh snapshot.
func (b *OrderBook) ApplyDiff(d *types.DepthDiff) ApplyResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == SyncInit {
		// No snapshot yet; nothing to connect the diff to.
		return ApplyResult{OK: false, GapDetected: true}
	}

	next := b.lastUpdateID + 1
	switch {
	case d.FinalUpdateID <= b.lastUpdateID:
		return ApplyResult{OK: true, Dropped: true}
	case d.FirstUpdateID > next:
		b.state = SyncResync
		log.Warn().
			Str("symbol", b.symbol).
			Int64("expected", next).
			Int64("gotU", d.FirstUpdateID).
			Int64("gotFinal", d.FinalUpdateID).
			Msg("⚠️ Depth gap detected, resync required")
		return ApplyResult{OK: false, GapDetected: true}
	}

	for _, lv := range d.Bids {
		if lv[1] == 0 {
			delete(b.bids, lv[0])
		} else {
			b.bids[lv[0]] = lv[1]
		}
	}
	for _, lv := range d.Asks {
		if lv[1] == 0 {
			delete(b.asks, lv[0])
		} else {
			b.asks[lv[0]] = lv[1]
		}
	}
	b.lastUpdateID = d.FinalUpdateID
	return ApplyResult{OK: true, Applied: true}
}

// MarkResync forces RESYNC, used when the upstream connection drops.
func (b *OrderBook) MarkResync() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == SyncSynced {
		b.state = SyncResync
	}
}

// BestBid returns the highest bid price, 0 if the side is empty.
func (b *OrderBook) BestBid() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBidLocked()
}

// BestAsk returns the lowest ask price, 0 if the side is empty.
func (b *OrderBook) BestAsk() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestAskLocked()
}

// Mid returns (bestBid+bestAsk)/2, substituting 0 for a missing side.
func (b *OrderBook) Mid() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return (b.bestBidLocked() + b.bestAskLocked()) / 2
}

// VolumeAtDepth sums the sizes of the depth best levels on one side.
func (b *OrderBook) VolumeAtDepth(side types.Side, depth int) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var prices []float64
	var levels map[float64]float64
	if side == types.SideBuy {
		levels = b.bids
	} else {
		levels = b.asks
	}
	for p := range levels {
		prices = append(prices, p)
	}
	if side == types.SideBuy {
		sort.Sort(sort.Reverse(sort.Float64Slice(prices)))
	} else {
		sort.Float64s(prices)
	}
	if depth > len(prices) {
		depth = len(prices)
	}

	var sum float64
	for _, p := range prices[:depth] {
		sum += levels[p]
	}
	return sum
}

// TopLevels returns the k best levels per side with cumulative sizes,
// bids descending and asks ascending.
func (b *OrderBook) TopLevels(k int) (bids, asks []types.BookLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bidPrices := make([]float64, 0, len(b.bids))
	for p := range b.bids {
		bidPrices = append(bidPrices, p)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(bidPrices)))

	askPrices := make([]float64, 0, len(b.asks))
	for p := range b.asks {
		askPrices = append(askPrices, p)
	}
	sort.Float64s(askPrices)

	if k > len(bidPrices) {
		bids = make([]types.BookLevel, 0, len(bidPrices))
	} else {
		bids = make([]types.BookLevel, 0, k)
	}
	var cum float64
	for i, p := range bidPrices {
		if i >= k {
			break
		}
		cum += b.bids[p]
		bids = append(bids, types.BookLevel{Price: p, Size: b.bids[p], Cum: cum})
	}

	asks = make([]types.BookLevel, 0, min(k, len(askPrices)))
	cum = 0
	for i, p := range askPrices {
		if i >= k {
			break
		}
		cum += b.asks[p]
		asks = append(asks, types.BookLevel{Price: p, Size: b.asks[p], Cum: cum})
	}
	return bids, asks
}

func (b *OrderBook) bestBidLocked() float64 {
	var best float64
	for p := range b.bids {
		if p > best {
			best = p
		}
	}
	return best
}

func (b *OrderBook) bestAskLocked() float64 {
	var best float64
	for p := range b.asks {
		if best == 0 || p < best {
			best = p
		}
	}
	return best
}
