package types

import (
	"encoding/json"
	"fmt"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Side of an aggressive trade: who crossed the spread.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is a single aggressive trade from the exchange stream.
// Immutable once recorded.
type Trade struct {
	Price       float64
	Quantity    float64
	Side        Side
	TimestampMs int64
	ArrivalMs   int64
}

// Signed returns the quantity signed by aggressor side (buy positive).
func (t Trade) Signed() float64 {
	if t.Side == SideSell {
		return -t.Quantity
	}
	return t.Quantity
}

// DepthSnapshot is a full order-book snapshot from the REST endpoint.
type DepthSnapshot struct {
	LastUpdateID int64
	Bids         [][2]float64 // [price, size]
	Asks         [][2]float64
}

// DepthDiff is an incremental book update. FirstUpdateID/FinalUpdateID are
// the inclusive first/last update ids covered by the batch (U and u on the
// wire).
type DepthDiff struct {
	FirstUpdateID int64
	FinalUpdateID int64
	Bids          [][2]float64
	Asks          [][2]float64
	EventTimeMs   int64
}

// BookLevel is one envelope level: price, size and cumulative size from
// the top of the book. Marshals as the wire triple [p, s, cum].
type BookLevel struct {
	Price float64
	Size  float64
	Cum   float64
}

func (l BookLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{l.Price, l.Size, l.Cum})
}

func (l *BookLevel) UnmarshalJSON(data []byte) error {
	var arr [3]float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("book level: %w", err)
	}
	l.Price, l.Size, l.Cum = arr[0], arr[1], arr[2]
	return nil
}

// BookState tags an envelope as backed by a synced book or not.
type BookState string

const (
	BookLive  BookState = "LIVE"
	BookStale BookState = "STALE"
)

// BurstState is the current run of same-side aggressive prints.
type BurstState struct {
	Side  Side `json:"side"`
	Count int  `json:"count"`
}

// TimeAndSales is the aggregator summary block of the envelope.
type TimeAndSales struct {
	AggressiveBuyVolume  float64    `json:"aggressiveBuyVolume"`
	AggressiveSellVolume float64    `json:"aggressiveSellVolume"`
	TradeCount           int        `json:"tradeCount"`
	PrintsPerSecond      float64    `json:"printsPerSecond"`
	SmallTrades          int        `json:"smallTrades"`
	MidTrades            int        `json:"midTrades"`
	LargeTrades          int        `json:"largeTrades"`
	BidHitAskLiftRatio   float64    `json:"bidHitAskLiftRatio"`
	ConsecutiveBurst     BurstState `json:"consecutiveBurst"`
	AvgLatencyMs         *float64   `json:"avgLatencyMs,omitempty"`
}

// CvdTimeframe is one timeframe block of the envelope.
type CvdTimeframe struct {
	Cvd       float64 `json:"cvd"`
	Delta     float64 `json:"delta"`
	WarmUpPct float64 `json:"warmUpPct"`
}

// OpenInterestBlock is the OI block of the envelope.
type OpenInterestBlock struct {
	OpenInterest  float64 `json:"openInterest"`
	OiChangeAbs   float64 `json:"oiChangeAbs"`
	OiChangePct   float64 `json:"oiChangePct"`
	OiDeltaWindow float64 `json:"oiDeltaWindow"`
	Source        string  `json:"source"` // "real" | "mock"
}

// FundingBlock is the funding block of the envelope; null until the first
// successful funding sample.
type FundingBlock struct {
	Rate            float64 `json:"rate"`
	TimeToFundingMs int64   `json:"timeToFundingMs"`
	Trend           string  `json:"trend"` // "up" | "down" | "flat"
}

// LegacyMetrics carries the composite scalars. The four trailing scores
// are placeholders published as zero until a formula is settled.
type LegacyMetrics struct {
	Delta1s         float64 `json:"delta1s"`
	Delta5s         float64 `json:"delta5s"`
	DeltaZ          float64 `json:"deltaZ"`
	CvdSession      float64 `json:"cvdSession"`
	CvdSlope        float64 `json:"cvdSlope"`
	ObiWeighted     float64 `json:"obiWeighted"`
	ObiDeep         float64 `json:"obiDeep"`
	ObiDivergence   float64 `json:"obiDivergence"`
	Vwap            float64 `json:"vwap"`
	SweepFadeScore  float64 `json:"sweepFadeScore"`
	BreakoutScore   float64 `json:"breakoutScore"`
	RegimeWeight    float64 `json:"regimeWeight"`
	AbsorptionScore float64 `json:"absorptionScore"`
}

// MetricsEnvelope is the per-symbol push message delivered to dashboard
// subscribers.
type MetricsEnvelope struct {
	Type            string                  `json:"type"` // always "metrics"
	Symbol          string                  `json:"symbol"`
	CanonicalTimeMs int64                   `json:"canonicalTimeMs"`
	State           BookState               `json:"state"`
	Price           float64                 `json:"price"`
	Bids            []BookLevel             `json:"bids"`
	Asks            []BookLevel             `json:"asks"`
	TimeAndSales    TimeAndSales            `json:"timeAndSales"`
	Cvd             map[string]CvdTimeframe `json:"cvd"`
	OpenInterest    OpenInterestBlock       `json:"openInterest"`
	Funding         *FundingBlock           `json:"funding"`
	Absorption      *float64                `json:"absorption"`
	LegacyMetrics   LegacyMetrics           `json:"legacyMetrics"`
}
