// Package money carries every monetary and quantity calculation for billing.
// All arithmetic runs on decimals; binary floats never touch an amount.
// Money is quantized to 2 decimal places, quantities to 3, both with
// round-half-up (ties away from zero).
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	MoneyPlaces    = 2
	QuantityPlaces = 3
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
	// inclusiveTolerance bounds the drift allowed between a supplied taxable
	// amount and a supplied tax-inclusive total before the total wins.
	inclusiveTolerance = decimal.RequireFromString("0.02")
)

func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

func RoundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityPlaces)
}

// Parse converts a user-supplied numeric string to a decimal. Empty input is
// zero, to match how billing clients leave optional fields blank.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid numeric value %q", s)
	}
	return d, nil
}

// Line is one resolved bill line at final precision.
type Line struct {
	Quantity decimal.Decimal
	Rate     decimal.Decimal
	Amount   decimal.Decimal
}

// ResolveLine derives the missing member of {quantity, rate, amount} from the
// two that were supplied. Nil means "not provided". When all three are given
// they must agree at money precision. The result is quantized: quantity to
// 3 places, rate and amount to 2.
func ResolveLine(quantity, rate, amount *decimal.Decimal) (Line, error) {
	provided := 0
	for _, p := range []*decimal.Decimal{quantity, rate, amount} {
		if p != nil {
			provided++
		}
	}
	if provided < 2 {
		return Line{}, fmt.Errorf("at least two of quantity, rate, amount are required")
	}

	var qty, rt, amt decimal.Decimal
	switch {
	case quantity != nil && rate != nil:
		qty, rt = *quantity, *rate
		amt = qty.Mul(rt)
		if amount != nil && !RoundMoney(amt).Equal(RoundMoney(*amount)) {
			return Line{}, fmt.Errorf("amount %s does not match quantity %s x rate %s",
				RoundMoney(*amount), qty, rt)
		}
	case quantity != nil && amount != nil:
		qty, amt = *quantity, *amount
		if qty.IsZero() {
			return Line{}, fmt.Errorf("quantity cannot be zero when deriving rate")
		}
		rt = amt.Div(qty)
	default:
		rt, amt = *rate, *amount
		if rt.IsZero() {
			return Line{}, fmt.Errorf("rate cannot be zero when deriving quantity")
		}
		qty = amt.Div(rt)
	}

	return Line{
		Quantity: RoundQuantity(qty),
		Rate:     RoundMoney(rt),
		Amount:   RoundMoney(amt),
	}, nil
}

// ResolveLineInclusive resolves a line from a GST-inclusive total: the
// taxable amount is totalInclusive / (1 + gstRate/100), then quantity or
// rate is derived from whichever was supplied. gstRate is the combined
// CGST+SGST percentage. With only an exclusive amount alongside the total,
// the amount wins unless it disagrees with the back-derived value beyond
// tolerance, and the line defaults to quantity 1 at rate = amount.
func ResolveLineInclusive(quantity, rate, amount *decimal.Decimal, totalInclusive, gstRate decimal.Decimal) (Line, error) {
	divisor := one.Add(gstRate.Div(hundred))
	taxable := totalInclusive.Div(divisor)

	switch {
	case quantity != nil:
		if quantity.IsZero() {
			return Line{}, fmt.Errorf("quantity cannot be zero when deriving rate")
		}
		return Line{
			Quantity: RoundQuantity(*quantity),
			Rate:     RoundMoney(taxable.Div(*quantity)),
			Amount:   RoundMoney(taxable),
		}, nil
	case rate != nil:
		if rate.IsZero() {
			return Line{}, fmt.Errorf("rate cannot be zero when deriving quantity")
		}
		return Line{
			Quantity: RoundQuantity(taxable.Div(*rate)),
			Rate:     RoundMoney(*rate),
			Amount:   RoundMoney(taxable),
		}, nil
	case amount != nil:
		amt := *amount
		if amt.Mul(divisor).Sub(totalInclusive).Abs().GreaterThan(inclusiveTolerance) {
			amt = taxable
		}
		return Line{
			Quantity: RoundQuantity(one),
			Rate:     RoundMoney(amt),
			Amount:   RoundMoney(amt),
		}, nil
	default:
		return Line{}, fmt.Errorf("quantity, rate, or amount is required alongside an inclusive total")
	}
}

// BillTotals is the tax breakdown of one bill at money precision.
type BillTotals struct {
	Subtotal   decimal.Decimal
	CGSTAmount decimal.Decimal
	SGSTAmount decimal.Decimal
	RoundedOff decimal.Decimal
	Total      decimal.Decimal
}

// ComputeBillTotals sums line amounts and applies the two GST components.
// When overrideTotal is non-nil the stored total becomes the override and
// RoundedOff absorbs the residual; otherwise RoundedOff is exactly zero.
// The identity subtotal + cgst + sgst + rounded_off == total always holds.
func ComputeBillTotals(lineAmounts []decimal.Decimal, cgstRate, sgstRate decimal.Decimal, overrideTotal *decimal.Decimal) BillTotals {
	subtotal := decimal.Zero
	for _, amt := range lineAmounts {
		subtotal = subtotal.Add(amt)
	}
	subtotal = RoundMoney(subtotal)

	cgst := RoundMoney(subtotal.Mul(cgstRate).Div(hundred))
	sgst := RoundMoney(subtotal.Mul(sgstRate).Div(hundred))
	computed := RoundMoney(subtotal.Add(cgst).Add(sgst))

	totals := BillTotals{
		Subtotal:   subtotal,
		CGSTAmount: cgst,
		SGSTAmount: sgst,
		RoundedOff: decimal.Zero.Round(MoneyPlaces),
		Total:      computed,
	}
	if overrideTotal != nil {
		target := RoundMoney(*overrideTotal)
		totals.RoundedOff = target.Sub(computed)
		totals.Total = target
	}
	return totals
}

// CheckTotals verifies the rounding identity on already-computed totals.
func CheckTotals(t BillTotals) error {
	sum := t.Subtotal.Add(t.CGSTAmount).Add(t.SGSTAmount).Add(t.RoundedOff)
	if !sum.Equal(t.Total) {
		return fmt.Errorf("totals do not reconcile: %s + %s + %s + %s != %s",
			t.Subtotal, t.CGSTAmount, t.SGSTAmount, t.RoundedOff, t.Total)
	}
	return nil
}
