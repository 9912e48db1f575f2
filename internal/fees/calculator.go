// Package fees provides deterministic fee and breakeven arithmetic for
// futures round trips. All math is decimal with half-even rounding at
// scale 8, matching the venue's precision.
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/BrianElionDev/BuyBot/internal/domain"
)

const scale = 8

// Standard Binance USDS-M futures tiers and the fixed caps used by the
// fixed-mode calculator.
var (
	FixedRate02 = decimal.RequireFromString("0.0002") // 2 bps cap
	FixedRate05 = decimal.RequireFromString("0.0005") // 5 bps cap

	defaultMakerRate = decimal.RequireFromString("0.0002")
	defaultTakerRate = decimal.RequireFromString("0.0005")
	bnbDiscount      = decimal.RequireFromString("0.9")
)

// Mode selects between the fixed-cap and tiered maker/taker calculators.
// Exactly one mode is active per run; the choice comes from configuration
// and is never inferred.
type Mode int

const (
	ModeFixed Mode = iota
	ModeTiered
)

// Calculator computes trading fees and breakeven prices. It is pure and
// safe for concurrent use.
type Calculator struct {
	mode      Mode
	fixedRate decimal.Decimal
	makerRate decimal.Decimal
	takerRate decimal.Decimal
	useBNB    bool
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithFixedRate overrides the fixed-cap rate.
func WithFixedRate(rate decimal.Decimal) Option {
	return func(c *Calculator) { c.fixedRate = rate }
}

// WithTieredRates overrides the maker/taker rates.
func WithTieredRates(maker, taker decimal.Decimal) Option {
	return func(c *Calculator) { c.makerRate, c.takerRate = maker, taker }
}

// WithBNBDiscount applies the BNB-paid discount multiplier in tiered mode.
func WithBNBDiscount(enabled bool) Option {
	return func(c *Calculator) { c.useBNB = enabled }
}

// New creates a Calculator for the given mode.
func New(mode Mode, opts ...Option) *Calculator {
	c := &Calculator{
		mode:      mode,
		fixedRate: FixedRate02,
		makerRate: defaultMakerRate,
		takerRate: defaultTakerRate,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rate returns the effective single-trade rate. Maker applies to LIMIT
// entries, taker to everything else.
func (c *Calculator) rate(orderType domain.OrderType) decimal.Decimal {
	if c.mode == ModeFixed {
		return c.fixedRate
	}
	r := c.takerRate
	if orderType == domain.OrderTypeLimit {
		r = c.makerRate
	}
	if c.useBNB {
		r = r.Mul(bnbDiscount)
	}
	return r
}

// TradingFee computes the fee for one side of a round trip:
// notional x rate, rounded half-even at scale 8.
func (c *Calculator) TradingFee(notional decimal.Decimal, orderType domain.OrderType) decimal.Decimal {
	return notional.Mul(c.rate(orderType)).RoundBank(scale)
}

// TotalFee computes the symmetric entry+exit fee for a notional.
func (c *Calculator) TotalFee(notional decimal.Decimal, orderType domain.OrderType) decimal.Decimal {
	return c.TradingFee(notional, orderType).Mul(decimal.NewFromInt(2)).RoundBank(scale)
}

// Breakeven computes the exit price at which a round trip nets zero PnL:
// entry x (1 + 2r) for LONG, entry x (1 - 2r) for SHORT.
func (c *Calculator) Breakeven(entry decimal.Decimal, position domain.PositionType, orderType domain.OrderType) decimal.Decimal {
	twoR := c.rate(orderType).Mul(decimal.NewFromInt(2))
	mult := decimal.NewFromInt(1).Add(twoR)
	if position == domain.Short {
		mult = decimal.NewFromInt(1).Sub(twoR)
	}
	return entry.Mul(mult).RoundBank(scale)
}

// WeightedEntry computes the quantity-weighted average entry price over
// multiple fills: sum(p_i * q_i) / sum(q_i).
func WeightedEntry(prices, quantities []decimal.Decimal) (decimal.Decimal, error) {
	if len(prices) == 0 || len(prices) != len(quantities) {
		return decimal.Zero, fmt.Errorf("mismatched entry fills: %d prices, %d quantities", len(prices), len(quantities))
	}
	var notional, qty decimal.Decimal
	for i := range prices {
		notional = notional.Add(prices[i].Mul(quantities[i]))
		qty = qty.Add(quantities[i])
	}
	if qty.IsZero() {
		return decimal.Zero, fmt.Errorf("zero total quantity over %d fills", len(prices))
	}
	return notional.Div(qty).RoundBank(scale), nil
}

// WeightedBreakeven computes the breakeven over multiple entry fills.
func (c *Calculator) WeightedBreakeven(prices, quantities []decimal.Decimal, position domain.PositionType, orderType domain.OrderType) (decimal.Decimal, error) {
	entry, err := WeightedEntry(prices, quantities)
	if err != nil {
		return decimal.Zero, err
	}
	return c.Breakeven(entry, position, orderType), nil
}

// Preview summarizes the expected cost of a round trip at a given entry.
type Preview struct {
	Notional      decimal.Decimal
	SingleFee     decimal.Decimal
	TotalFee      decimal.Decimal
	Breakeven     decimal.Decimal
	EffectiveRate decimal.Decimal
}

// PreviewRoundTrip computes the full fee preview attached to order results.
func (c *Calculator) PreviewRoundTrip(entry, quantity decimal.Decimal, position domain.PositionType, orderType domain.OrderType) Preview {
	notional := entry.Mul(quantity)
	return Preview{
		Notional:      notional,
		SingleFee:     c.TradingFee(notional, orderType),
		TotalFee:      c.TotalFee(notional, orderType),
		Breakeven:     c.Breakeven(entry, position, orderType),
		EffectiveRate: c.rate(orderType),
	}
}
