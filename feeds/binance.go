package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantpulse/flowdesk/internal/metrics"
	"github.com/quantpulse/flowdesk/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE FUTURES TRANSPORT - REST snapshots/polls + combined WS stream
// ═══════════════════════════════════════════════════════════════════════════════
//
// One combined stream per symbol carries the diff-depth and aggTrade
// feeds. REST covers the depth snapshot, open interest and premium index.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	snapshotDepthLimit = 1000

	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// BinanceClient talks to one Binance USDⓈ-M futures deployment.
type BinanceClient struct {
	restURL string
	wsURL   string
	http    *http.Client
}

// NewBinanceClient creates a client against the given endpoints.
func NewBinanceClient(restURL, wsURL string) *BinanceClient {
	return &BinanceClient{
		restURL: strings.TrimRight(restURL, "/"),
		wsURL:   strings.TrimRight(wsURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ── REST ──────────────────────────────────────────────────────────────────────

// FetchDepthSnapshot fetches the full depth snapshot for a symbol.
func (c *BinanceClient) FetchDepthSnapshot(ctx context.Context, symbol string) (*types.DepthSnapshot, error) {
	url := fmt.Sprintf("%s/fapi/v1/depth?symbol=%s&limit=%d", c.restURL, symbol, snapshotDepthLimit)

	var payload struct {
		LastUpdateID int64       `json:"lastUpdateId"`
		Bids         [][2]string `json:"bids"`
		Asks         [][2]string `json:"asks"`
	}
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, fmt.Errorf("depth snapshot %s: %w", symbol, err)
	}

	return &types.DepthSnapshot{
		LastUpdateID: payload.LastUpdateID,
		Bids:         parseLevels(payload.Bids),
		Asks:         parseLevels(payload.Asks),
	}, nil
}

// FetchOpenInterest implements OiFetcher.
func (c *BinanceClient) FetchOpenInterest(ctx context.Context, symbol string) (float64, error) {
	url := fmt.Sprintf("%s/fapi/v1/openInterest?symbol=%s", c.restURL, symbol)

	var payload struct {
		OpenInterest string `json:"openInterest"`
	}
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return 0, fmt.Errorf("open interest %s: %w", symbol, err)
	}

	oi, err := decimal.NewFromString(payload.OpenInterest)
	if err != nil {
		return 0, fmt.Errorf("open interest %s: bad value %q: %w", symbol, payload.OpenInterest, err)
	}
	f, _ := oi.Float64()
	return f, nil
}

// FetchFunding implements FundingFetcher via the premium index endpoint.
func (c *BinanceClient) FetchFunding(ctx context.Context, symbol string) (FundingSample, error) {
	url := fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", c.restURL, symbol)

	var payload struct {
		LastFundingRate string `json:"lastFundingRate"`
		NextFundingTime int64  `json:"nextFundingTime"`
	}
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return FundingSample{}, fmt.Errorf("premium index %s: %w", symbol, err)
	}

	rate, err := decimal.NewFromString(payload.LastFundingRate)
	if err != nil {
		return FundingSample{}, fmt.Errorf("premium index %s: bad rate %q: %w", symbol, payload.LastFundingRate, err)
	}
	f, _ := rate.Float64()
	return FundingSample{Rate: f, NextFundingTimeMs: payload.NextFundingTime}, nil
}

func (c *BinanceClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ── WebSocket ─────────────────────────────────────────────────────────────────

// StreamHandler receives decoded stream events for one symbol.
type StreamHandler interface {
	OnDepthDiff(d *types.DepthDiff)
	OnTrade(t types.Trade)
	// OnDisconnect fires when the stream connection is lost; the book
	// should be treated as stale until diffs resume.
	OnDisconnect()
}

// StreamSymbol consumes the combined depth@100ms + aggTrade stream for a
// symbol, reconnecting with exponential backoff until ctx is cancelled.
func (c *BinanceClient) StreamSymbol(ctx context.Context, symbol string, h StreamHandler) {
	lower := strings.ToLower(symbol)
	url := fmt.Sprintf("%s/stream?streams=%s@depth@100ms/%s@aggTrade", c.wsURL, lower, lower)

	backoff := reconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		err := c.streamOnce(ctx, url, symbol, h)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > time.Minute {
			// The connection held for a while; treat the failure as fresh.
			backoff = reconnectMin
		}

		h.OnDisconnect()
		metrics.StreamReconnects.WithLabelValues("market").Inc()
		log.Warn().Err(err).Str("symbol", symbol).Dur("backoff", backoff).
			Msg("Stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (c *BinanceClient) streamOnce(ctx context.Context, url, symbol string, h StreamHandler) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	log.Info().Str("symbol", symbol).Msg("📡 Market stream connected")

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}

		var frame struct {
			Stream string          `json:"stream"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Debug().Err(err).Msg("Unparseable stream frame")
			continue
		}

		switch {
		case strings.HasSuffix(frame.Stream, "@depth@100ms"):
			if diff := parseDepthDiff(frame.Data); diff != nil {
				h.OnDepthDiff(diff)
			}
		case strings.HasSuffix(frame.Stream, "@aggTrade"):
			if trade, ok := parseAggTrade(frame.Data); ok {
				h.OnTrade(trade)
			}
		}
	}
}

func parseDepthDiff(data json.RawMessage) *types.DepthDiff {
	var ev struct {
		EventTime int64       `json:"E"`
		FirstID   int64       `json:"U"`
		FinalID   int64       `json:"u"`
		Bids      [][2]string `json:"b"`
		Asks      [][2]string `json:"a"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Debug().Err(err).Msg("Unparseable depth diff")
		return nil
	}
	return &types.DepthDiff{
		FirstUpdateID: ev.FirstID,
		FinalUpdateID: ev.FinalID,
		Bids:          parseLevels(ev.Bids),
		Asks:          parseLevels(ev.Asks),
		EventTimeMs:   ev.EventTime,
	}
}

func parseAggTrade(data json.RawMessage) (types.Trade, bool) {
	var ev struct {
		Price        string `json:"p"`
		Quantity     string `json:"q"`
		TradeTime    int64  `json:"T"`
		BuyerIsMaker bool   `json:"m"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Debug().Err(err).Msg("Unparseable aggTrade")
		return types.Trade{}, false
	}

	price, err1 := strconv.ParseFloat(ev.Price, 64)
	qty, err2 := strconv.ParseFloat(ev.Quantity, 64)
	if err1 != nil || err2 != nil || qty <= 0 {
		return types.Trade{}, false
	}

	// Buyer-is-maker means the aggressor sold.
	side := types.SideBuy
	if ev.BuyerIsMaker {
		side = types.SideSell
	}
	return types.Trade{
		Price:       price,
		Quantity:    qty,
		Side:        side,
		TimestampMs: ev.TradeTime,
		ArrivalMs:   time.Now().UnixMilli(),
	}, true
}

func parseLevels(raw [][2]string) [][2]float64 {
	out := make([][2]float64, 0, len(raw))
	for _, lv := range raw {
		price, err1 := strconv.ParseFloat(lv[0], 64)
		size, err2 := strconv.ParseFloat(lv[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, [2]float64{price, size})
	}
	return out
}
