package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// BracketSpec holds the three exit prices of an OCO bracket. It is derived once at
// entry time and never mutated.
//
// For a long entry: StopLimit < StopTrigger < Entry < TakeProfit.
// For a short entry the ordering is mirrored.
type BracketSpec struct {
	EntrySide   Side            `json:"entry_side"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	TakeProfit  decimal.Decimal `json:"take_profit"`
	StopTrigger decimal.Decimal `json:"stop_trigger"`
	StopLimit   decimal.Decimal `json:"stop_limit"`
}

// NewBracketSpec derives the exit prices from a single entry price.
// profitPct and lossPct are percentages (2.5 means 2.5%). offset is how far past the
// stop trigger the stop-limit leg is allowed to fill.
func NewBracketSpec(side Side, entry, profitPct, lossPct, offset decimal.Decimal) (BracketSpec, error) {
	if !side.Valid() {
		return BracketSpec{}, fmt.Errorf("invalid entry side %q", side)
	}
	if !entry.GreaterThan(decimal.Zero) {
		return BracketSpec{}, fmt.Errorf("entry price must be positive, got %s", entry)
	}
	if !profitPct.GreaterThan(decimal.Zero) || !lossPct.GreaterThan(decimal.Zero) || lossPct.GreaterThanOrEqual(hundred) {
		return BracketSpec{}, fmt.Errorf("invalid bracket percentages: profit %s%%, loss %s%%", profitPct, lossPct)
	}
	if !offset.GreaterThan(decimal.Zero) {
		return BracketSpec{}, fmt.Errorf("stop limit offset must be positive, got %s", offset)
	}

	up := one.Add(profitPct.Div(hundred))
	down := one.Sub(lossPct.Div(hundred))
	places := PricePlaces(entry)

	b := BracketSpec{EntrySide: side, EntryPrice: entry}
	if side == Buy {
		b.TakeProfit = entry.Mul(up).Round(places)
		b.StopTrigger = entry.Mul(down).Round(places)
		b.StopLimit = b.StopTrigger.Sub(offset)
	} else {
		// Short: profit below, stop above.
		b.TakeProfit = entry.Mul(down).Round(places)
		b.StopTrigger = entry.Mul(one.Add(lossPct.Div(hundred))).Round(places)
		b.StopLimit = b.StopTrigger.Add(offset)
	}

	if err := b.Validate(); err != nil {
		return BracketSpec{}, err
	}
	return b, nil
}

// ExitSide is the side of both exit legs.
func (b BracketSpec) ExitSide() Side {
	return b.EntrySide.Opposite()
}

// Validate enforces the strict price ordering.
func (b BracketSpec) Validate() error {
	if !b.StopLimit.GreaterThan(decimal.Zero) {
		return fmt.Errorf("stop limit %s must be positive", b.StopLimit)
	}
	if b.EntrySide == Buy {
		if b.StopLimit.LessThan(b.StopTrigger) &&
			b.StopTrigger.LessThan(b.EntryPrice) &&
			b.EntryPrice.LessThan(b.TakeProfit) {
			return nil
		}
	} else {
		if b.TakeProfit.LessThan(b.EntryPrice) &&
			b.EntryPrice.LessThan(b.StopTrigger) &&
			b.StopTrigger.LessThan(b.StopLimit) {
			return nil
		}
	}
	return fmt.Errorf("bracket prices out of order: stop_limit=%s stop_trigger=%s entry=%s take_profit=%s",
		b.StopLimit, b.StopTrigger, b.EntryPrice, b.TakeProfit)
}

// PricePlaces returns the tick precision the broker accepts for a price:
// cents at or above $1, four decimals below.
func PricePlaces(p decimal.Decimal) int32 {
	if p.LessThan(one) {
		return 4
	}
	return 2
}

// FloorToTradable converts a cash amount into a whole-share quantity at price.
// It never rounds up, so the result never exceeds liquidity.
func FloorToTradable(liquidity, price decimal.Decimal) decimal.Decimal {
	if !price.GreaterThan(decimal.Zero) || !liquidity.GreaterThan(decimal.Zero) {
		return decimal.Zero
	}
	return liquidity.Div(price).Floor()
}
