package exec

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantpulse/flowdesk/risk"
)

func newTestSession(store TradeStore, notifier Notifier) *Session {
	ramp := risk.NewRamp(risk.RampConfig{
		StartingMargin: decimal.NewFromInt(100),
		MinMargin:      decimal.NewFromInt(10),
		RampStepPct:    decimal.NewFromInt(10),
		RampDecayPct:   decimal.NewFromInt(20),
		RampMaxMult:    decimal.NewFromInt(3),
	})
	return NewSession(ramp, []string{"BTCUSDT", "ETHUSDT"}, 20, store, notifier)
}

func TestSessionConnectRequiresKeys(t *testing.T) {
	s := newTestSession(nil, nil)

	if err := s.Connect("", "secret"); !errors.Is(err, ErrMissingKeys) {
		t.Fatalf("err = %v, want ErrMissingKeys", err)
	}
	if err := s.Connect("key", ""); !errors.Is(err, ErrMissingKeys) {
		t.Fatalf("err = %v, want ErrMissingKeys", err)
	}
	if err := s.Connect("key", "secret"); err != nil {
		t.Fatal(err)
	}
	if !s.Status().Connected {
		t.Fatal("session not connected")
	}
}

func TestSessionDisconnectWipesCredentials(t *testing.T) {
	s := newTestSession(nil, nil)
	if err := s.Connect("key", "secret"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEnabled(true); err != nil {
		t.Fatal(err)
	}

	s.Disconnect()

	if s.apiKey != "" || s.apiSecret != "" {
		t.Fatal("credentials survived disconnect")
	}
	status := s.Status()
	if status.Connected || status.Enabled {
		t.Fatalf("status = %+v, want disconnected and disabled", status)
	}
}

func TestSessionEnableRequiresConnection(t *testing.T) {
	s := newTestSession(nil, nil)
	if err := s.SetEnabled(true); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	// Disabling a disconnected session is fine.
	if err := s.SetEnabled(false); err != nil {
		t.Fatal(err)
	}
}

func TestSessionSettings(t *testing.T) {
	s := newTestSession(nil, nil)

	applied, err := s.ApplySettings(Settings{Leverage: 125, Symbol: "ETHUSDT"})
	if err != nil {
		t.Fatal(err)
	}
	if applied.Leverage != 20 {
		t.Fatalf("leverage = %d, want clamped 20", applied.Leverage)
	}
	if applied.Symbol != "ETHUSDT" {
		t.Fatalf("symbol = %s, want ETHUSDT", applied.Symbol)
	}

	if _, err := s.ApplySettings(Settings{Symbol: "DOGEUSDT"}); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("err = %v, want ErrUnknownSymbol", err)
	}
	// Failed updates leave the previous symbol in place.
	if got := s.Status().Symbol; got != "ETHUSDT" {
		t.Fatalf("symbol after rejected update = %s, want ETHUSDT", got)
	}
}

func TestSessionSizeGuards(t *testing.T) {
	s := newTestSession(nil, nil)
	mark := decimal.NewFromInt(30000)
	step := decimal.RequireFromString("0.001")
	minNotional := decimal.NewFromInt(100)

	if _, err := s.Size(mark, step, minNotional); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}

	if err := s.Connect("key", "secret"); err != nil {
		t.Fatal(err)
	}
	s.SetFrozen(true)
	if _, err := s.Size(mark, step, minNotional); !errors.Is(err, ErrFrozen) {
		t.Fatalf("err = %v, want ErrFrozen", err)
	}

	s.SetFrozen(false)
	if _, err := s.Size(mark, step, minNotional); err != nil {
		t.Fatal(err)
	}
}

func TestSessionOnTradeClosedFansOut(t *testing.T) {
	store := &recordingStore{}
	notifier := &recordingNotifier{}
	s := newTestSession(store, notifier)

	pnl := decimal.NewFromInt(5)
	s.OnTradeClosed(ClosedTrade{Symbol: "BTCUSDT", Side: "LONG", PnL: pnl, ClosedAt: time.Unix(100, 0)})

	state := s.Status().Ramp
	if state.SuccessCount != 1 {
		t.Fatalf("successCount = %d, want 1", state.SuccessCount)
	}
	if !state.CurrentMarginBudget.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("budget = %s, want 110", state.CurrentMarginBudget)
	}
	if len(store.records) != 1 || store.records[0].symbol != "BTCUSDT" {
		t.Fatalf("store records = %+v", store.records)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("notifier messages = %d, want 1", len(notifier.messages))
	}
}

func TestSessionOnTradeClosedStoreFailureIsNonFatal(t *testing.T) {
	store := &recordingStore{err: errors.New("db down")}
	s := newTestSession(store, nil)

	s.OnTradeClosed(ClosedTrade{Symbol: "BTCUSDT", Side: "SHORT", PnL: decimal.NewFromInt(-3)})

	if got := s.Status().Ramp.FailCount; got != 1 {
		t.Fatalf("failCount = %d, want 1", got)
	}
}

type storedTrade struct {
	symbol string
	side   string
	pnl    decimal.Decimal
}

type recordingStore struct {
	records []storedTrade
	err     error
}

func (r *recordingStore) RecordClosedTrade(symbol, side string, pnl decimal.Decimal, _ time.Time) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, storedTrade{symbol: symbol, side: side, pnl: pnl})
	return nil
}

type recordingNotifier struct {
	messages []string
}

func (r *recordingNotifier) NotifyTradeClosed(symbol, side string, _ decimal.Decimal) {
	r.messages = append(r.messages, symbol+" "+side)
}
