package exec

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantpulse/flowdesk/risk"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION SESSION - Single testnet trading session
// ═══════════════════════════════════════════════════════════════════════════════
//
// One session at a time. Credentials live in memory only and are wiped on
// disconnect. Closed trades feed the sizing ramp, optional persistence and
// the optional notifier. A bad execution-quality assessment freezes order
// flow without touching the telemetry side.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	ErrNotConnected  = errors.New("execution session not connected")
	ErrMissingKeys   = errors.New("api key and secret are required")
	ErrFrozen        = errors.New("execution frozen by quality assessment")
	ErrUnknownSymbol = errors.New("symbol not tracked")
)

// TradeStore persists closed trades; satisfied by storage.Database.
type TradeStore interface {
	RecordClosedTrade(symbol, side string, pnl decimal.Decimal, closedAt time.Time) error
}

// Notifier announces closed trades; satisfied by bot.Notifier.
type Notifier interface {
	NotifyTradeClosed(symbol, side string, pnl decimal.Decimal)
}

// Settings are the adjustable session knobs.
type Settings struct {
	Leverage int    `json:"leverage"`
	Symbol   string `json:"symbol"`
}

// Status is the session snapshot served by the admin API.
type Status struct {
	Connected bool           `json:"connected"`
	Enabled   bool           `json:"enabled"`
	Frozen    bool           `json:"frozen"`
	Symbol    string         `json:"symbol"`
	Leverage  int            `json:"leverage"`
	Ramp      risk.RampState `json:"ramp"`
}

// ClosedTrade is one realised trade result from the execution venue.
type ClosedTrade struct {
	Symbol   string
	Side     string
	PnL      decimal.Decimal
	ClosedAt time.Time
}

// Session is the single testnet execution session.
type Session struct {
	mu sync.Mutex

	apiKey    string
	apiSecret string
	connected bool
	enabled   bool
	frozen    bool

	symbol      string
	leverage    int
	maxLeverage int

	ramp     *risk.Ramp
	store    TradeStore
	notifier Notifier

	validSymbols map[string]struct{}
}

// NewSession creates a disconnected session bound to the tracked symbols.
// store and notifier may be nil.
func NewSession(ramp *risk.Ramp, symbols []string, maxLeverage int, store TradeStore, notifier Notifier) *Session {
	valid := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		valid[s] = struct{}{}
	}
	symbol := ""
	if len(symbols) > 0 {
		symbol = symbols[0]
	}
	return &Session{
		symbol:       symbol,
		leverage:     1,
		maxLeverage:  maxLeverage,
		ramp:         ramp,
		store:        store,
		notifier:     notifier,
		validSymbols: valid,
	}
}

// Connect stores credentials and marks the session live.
func (s *Session) Connect(apiKey, apiSecret string) error {
	if apiKey == "" || apiSecret == "" {
		return ErrMissingKeys
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = apiKey
	s.apiSecret = apiSecret
	s.connected = true
	log.Info().Msg("💳 Execution session connected")
	return nil
}

// Disconnect wipes credentials and disables order flow.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = ""
	s.apiSecret = ""
	s.connected = false
	s.enabled = false
	log.Info().Msg("Execution session disconnected")
}

// SetEnabled toggles order flow. Enabling requires a connected session.
func (s *Session) SetEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled && !s.connected {
		return ErrNotConnected
	}
	s.enabled = enabled
	log.Info().Bool("enabled", enabled).Msg("Execution toggled")
	return nil
}

// ApplySettings updates leverage, clamped to the configured maximum.
func (s *Session) ApplySettings(st Settings) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.Leverage > 0 {
		if st.Leverage > s.maxLeverage {
			st.Leverage = s.maxLeverage
		}
		s.leverage = st.Leverage
	}
	if st.Symbol != "" {
		if _, ok := s.validSymbols[st.Symbol]; !ok {
			return Settings{}, ErrUnknownSymbol
		}
		s.symbol = st.Symbol
	}
	return Settings{Leverage: s.leverage, Symbol: s.symbol}, nil
}

// SetSymbol switches the traded symbol.
func (s *Session) SetSymbol(symbol string) error {
	_, err := s.ApplySettings(Settings{Symbol: symbol})
	return err
}

// SetFrozen applies the execution-quality assessment. Frozen sessions stop
// sizing new orders; telemetry publication elsewhere is unaffected.
func (s *Session) SetFrozen(frozen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen != frozen {
		s.frozen = frozen
		log.Warn().Bool("frozen", frozen).Msg("Execution freeze flag changed")
	}
}

// OnTradeClosed feeds one realised result into the ramp, persistence and
// the notifier.
func (s *Session) OnTradeClosed(t ClosedTrade) {
	state := s.ramp.OnTradeClosed(t.PnL)

	log.Info().
		Str("symbol", t.Symbol).
		Str("side", t.Side).
		Str("pnl", t.PnL.StringFixed(4)).
		Str("budget", state.CurrentMarginBudget.StringFixed(2)).
		Str("rampMult", state.RampMult.StringFixed(3)).
		Msg("💰 Trade closed")

	if s.store != nil {
		if err := s.store.RecordClosedTrade(t.Symbol, t.Side, t.PnL, t.ClosedAt); err != nil {
			log.Error().Err(err).Msg("Failed to persist closed trade")
		}
	}
	if s.notifier != nil {
		s.notifier.NotifyTradeClosed(t.Symbol, t.Side, t.PnL)
	}
}

// Size answers a sizing query for the current session settings.
func (s *Session) Size(markPrice, stepSize, minNotional decimal.Decimal) (risk.SizingResult, error) {
	s.mu.Lock()
	connected, frozen, leverage := s.connected, s.frozen, s.leverage
	s.mu.Unlock()

	if !connected {
		return risk.SizingResult{}, ErrNotConnected
	}
	if frozen {
		return risk.SizingResult{}, ErrFrozen
	}
	return s.ramp.ComputeSize(risk.SizingInput{
		MarkPrice:   markPrice,
		StepSize:    stepSize,
		MinNotional: minNotional,
		Leverage:    leverage,
	}), nil
}

// Status returns the admin-API snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Connected: s.connected,
		Enabled:   s.enabled,
		Frozen:    s.frozen,
		Symbol:    s.symbol,
		Leverage:  s.leverage,
		Ramp:      s.ramp.State(),
	}
}
