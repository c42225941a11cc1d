package risk

import (
	"sync"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIZING RAMP - Adaptive margin budget driven by closed-trade P&L
// ═══════════════════════════════════════════════════════════════════════════════
//
// Wins step the margin budget up, losses decay it, and the budget is
// always clamped into [minMargin, startingMargin × max(1, rampMaxMult)].
// The ramp multiplier is the budget relative to the starting margin.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// RampConfig are the ramp tuning knobs.
type RampConfig struct {
	StartingMargin decimal.Decimal
	MinMargin      decimal.Decimal
	RampStepPct    decimal.Decimal // budget growth per winning close, in %
	RampDecayPct   decimal.Decimal // budget shrink per losing close, in %
	RampMaxMult    decimal.Decimal // budget cap as a multiple of starting
}

// RampState is a read-only snapshot of the ramp.
type RampState struct {
	CurrentMarginBudget decimal.Decimal `json:"currentMarginBudget"`
	RampMult            decimal.Decimal `json:"rampMult"`
	SuccessCount        int             `json:"successCount"`
	FailCount           int             `json:"failCount"`
}

// SizingInput is one sizing query against the current budget.
type SizingInput struct {
	MarkPrice   decimal.Decimal
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
	Leverage    int
}

// SizingResult is the order size the current budget supports.
type SizingResult struct {
	Quantity       decimal.Decimal `json:"quantity"`
	Notional       decimal.Decimal `json:"notional"`
	MarginRequired decimal.Decimal `json:"marginRequired"`
	Blocked        bool            `json:"blocked"`
	BlockedReason  string          `json:"blockedReason,omitempty"`
}

// Ramp is the adaptive sizing state machine. All transitions are
// serialised; closed-trade events may come from any goroutine.
type Ramp struct {
	mu  sync.Mutex
	cfg RampConfig

	budget       decimal.Decimal
	minBudget    decimal.Decimal
	maxBudget    decimal.Decimal
	successCount int
	failCount    int
}

// NewRamp creates a ramp at the starting margin.
func NewRamp(cfg RampConfig) *Ramp {
	minBudget := cfg.MinMargin
	if minBudget.IsNegative() {
		minBudget = decimal.Zero
	}

	maxMult := cfg.RampMaxMult
	if maxMult.LessThan(one) {
		maxMult = one
	}
	maxBudget := cfg.StartingMargin.Mul(maxMult)
	if maxBudget.LessThan(minBudget) {
		maxBudget = minBudget
	}

	r := &Ramp{
		cfg:       cfg,
		minBudget: minBudget,
		maxBudget: maxBudget,
	}
	r.budget = r.clamp(cfg.StartingMargin)
	return r
}

// OnTradeClosed applies one realised P&L to the budget.
func (r *Ramp) OnTradeClosed(pnl decimal.Decimal) RampState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pnl.IsPositive() {
		r.successCount++
		factor := one.Add(r.cfg.RampStepPct.Div(hundred))
		r.budget = r.clamp(r.budget.Mul(factor))
	} else {
		r.failCount++
		factor := one.Sub(r.cfg.RampDecayPct.Div(hundred))
		r.budget = r.clamp(r.budget.Mul(factor))
	}
	return r.stateLocked()
}

// State returns a snapshot of the ramp.
func (r *Ramp) State() RampState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

// ComputeSize answers a sizing query against the current budget.
func (r *Ramp) ComputeSize(in SizingInput) SizingResult {
	r.mu.Lock()
	budget := r.budget
	r.mu.Unlock()

	leverage := decimal.NewFromInt(int64(max(in.Leverage, 1)))

	if in.MarkPrice.LessThanOrEqual(decimal.Zero) || in.StepSize.LessThanOrEqual(decimal.Zero) {
		return SizingResult{Blocked: true, BlockedReason: "bad_inputs"}
	}

	notional := budget.Mul(decimal.NewFromInt(int64(in.Leverage)))
	qty := notional.Div(in.MarkPrice)
	qtyRounded := qty.Div(in.StepSize).Floor().Mul(in.StepSize)
	computedNotional := qtyRounded.Mul(in.MarkPrice)

	if qtyRounded.LessThanOrEqual(decimal.Zero) || computedNotional.LessThan(in.MinNotional) {
		return SizingResult{
			Quantity:      qtyRounded,
			Notional:      computedNotional,
			Blocked:       true,
			BlockedReason: "min_notional",
		}
	}

	return SizingResult{
		Quantity:       qtyRounded,
		Notional:       computedNotional,
		MarginRequired: computedNotional.Div(leverage),
	}
}

func (r *Ramp) stateLocked() RampState {
	mult := decimal.Zero
	if r.cfg.StartingMargin.IsPositive() {
		mult = r.budget.Div(r.cfg.StartingMargin)
	}
	return RampState{
		CurrentMarginBudget: r.budget,
		RampMult:            mult,
		SuccessCount:        r.successCount,
		FailCount:           r.failCount,
	}
}

func (r *Ramp) clamp(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(r.minBudget) {
		return r.minBudget
	}
	if v.GreaterThan(r.maxBudget) {
		return r.maxBudget
	}
	return v
}
