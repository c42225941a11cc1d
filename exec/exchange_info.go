package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXCHANGE INFO CACHE - Testnet symbol filters
// ═══════════════════════════════════════════════════════════════════════════════

const exchangeInfoTTL = 5 * time.Minute

// SymbolFilters are the order constraints sizing needs per symbol.
type SymbolFilters struct {
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// ExchangeInfoCache fetches the testnet exchangeInfo document lazily and
// serves it for the TTL, both raw (admin API) and parsed (sizing filters).
type ExchangeInfoCache struct {
	url  string
	http *http.Client

	mu        sync.Mutex
	raw       json.RawMessage
	filters   map[string]SymbolFilters
	fetchedAt time.Time
}

// NewExchangeInfoCache creates a cache against the testnet REST base URL.
func NewExchangeInfoCache(testnetRESTURL string) *ExchangeInfoCache {
	return &ExchangeInfoCache{
		url:  strings.TrimRight(testnetRESTURL, "/") + "/fapi/v1/exchangeInfo",
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Raw returns the cached exchangeInfo document, refreshing if stale.
func (c *ExchangeInfoCache) Raw(ctx context.Context) (json.RawMessage, error) {
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw, nil
}

// Filters returns the parsed constraints for one symbol.
func (c *ExchangeInfoCache) Filters(ctx context.Context, symbol string) (SymbolFilters, error) {
	if err := c.refresh(ctx); err != nil {
		return SymbolFilters{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.filters[symbol]
	if !ok {
		return SymbolFilters{}, fmt.Errorf("no filters for symbol %s", symbol)
	}
	return f, nil
}

func (c *ExchangeInfoCache) refresh(ctx context.Context) error {
	c.mu.Lock()
	fresh := c.raw != nil && time.Since(c.fetchedAt) < exchangeInfoTTL
	c.mu.Unlock()
	if fresh {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return fmt.Errorf("exchange info: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}

	filters, err := parseFilters(body)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.raw = body
	c.filters = filters
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func parseFilters(body []byte) (map[string]SymbolFilters, error) {
	var doc struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				Notional    string `json:"notional"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	out := make(map[string]SymbolFilters, len(doc.Symbols))
	for _, sym := range doc.Symbols {
		var f SymbolFilters
		for _, flt := range sym.Filters {
			switch flt.FilterType {
			case "LOT_SIZE":
				if d, err := decimal.NewFromString(flt.StepSize); err == nil {
					f.StepSize = d
				}
			case "MIN_NOTIONAL":
				// Futures uses "notional", spot uses "minNotional".
				raw := flt.Notional
				if raw == "" {
					raw = flt.MinNotional
				}
				if d, err := decimal.NewFromString(raw); err == nil {
					f.MinNotional = d
				}
			}
		}
		out[sym.Symbol] = f
	}
	return out, nil
}
