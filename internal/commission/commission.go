// Package commission computes the platform fee deducted from a booking
// before the remainder is paid out to the complex owner.
//
// The rounding order is part of the contract: the commission before tax is
// rounded half up to a whole currency unit first, and the tax is computed on
// that rounded amount and rounded again.  Ledger and deposit totals are sums
// of these per-reservation figures, so any other order would not tie out.
package commission

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/court-reservation/internal/model"
)

// ErrCommissionRuleMissing is returned when no rate is configured for a
// booking channel.  A reservation must not be committed without a defined
// commission outcome.
var ErrCommissionRuleMissing = errors.New("commission rule missing")

var hundred = decimal.NewFromInt(100)

// Table holds the commission percentage per channel and the tax percentage
// applied on top of the commission.  Percentages are expressed as 3.5 for
// 3.5%.
type Table struct {
	Rates   map[model.Channel]decimal.Decimal
	TaxRate decimal.Decimal
}

// DefaultTable is web 3.5%, administrative 1.75%, tax 19%.
func DefaultTable() Table {
	return Table{
		Rates: map[model.Channel]decimal.Decimal{
			model.ChannelWeb:            decimal.RequireFromString("3.5"),
			model.ChannelAdministrative: decimal.RequireFromString("1.75"),
		},
		TaxRate: decimal.NewFromInt(19),
	}
}

// Validate rejects negative or missing percentages.
func (t Table) Validate() error {
	if t.TaxRate.IsNegative() {
		return fmt.Errorf("tax rate must not be negative: %s", t.TaxRate)
	}
	if len(t.Rates) == 0 {
		return fmt.Errorf("%w: empty rate table", ErrCommissionRuleMissing)
	}
	for ch, r := range t.Rates {
		if !ch.Valid() {
			return fmt.Errorf("unknown channel %q in rate table", ch)
		}
		if r.IsNegative() {
			return fmt.Errorf("rate for %s must not be negative: %s", ch, r)
		}
	}
	return nil
}

// Breakdown is the outcome of one commission computation.
type Breakdown struct {
	Rate    decimal.Decimal `json:"rate"`
	ExclTax int64           `json:"excl_tax"`
	Tax     int64           `json:"tax"`
	Total   int64           `json:"total"`
	Net     int64           `json:"net"`
	Exempt  bool            `json:"exempt"`
}

// Calculator applies a rate table.  It holds no mutable state and is safe
// for concurrent use.
type Calculator struct {
	table Table
}

// NewCalculator returns a Calculator over t.
func NewCalculator(t Table) *Calculator {
	return &Calculator{table: t}
}

// Table returns the rate table in use.
func (c *Calculator) Table() Table { return c.table }

// Compute returns the commission for amount booked through ch on date.
// When exemptUntil is set and date falls strictly before it, every
// commission figure is zero and Net equals amount.
func (c *Calculator) Compute(amount int64, ch model.Channel, exemptUntil *time.Time, date time.Time) (Breakdown, error) {
	rate, ok := c.table.Rates[ch]
	if !ok {
		return Breakdown{}, fmt.Errorf("%w: channel %q", ErrCommissionRuleMissing, ch)
	}
	if exemptUntil != nil && model.DateOf(date).Before(model.DateOf(*exemptUntil)) {
		return Breakdown{Rate: decimal.Zero, Net: amount, Exempt: true}, nil
	}

	exclTax := roundHalfUp(decimal.NewFromInt(amount).Mul(rate).Div(hundred))
	tax := roundHalfUp(decimal.NewFromInt(exclTax).Mul(c.table.TaxRate).Div(hundred))
	total := exclTax + tax
	return Breakdown{
		Rate:    rate,
		ExclTax: exclTax,
		Tax:     tax,
		Total:   total,
		Net:     amount - total,
	}, nil
}

var defaultCalculator = NewCalculator(DefaultTable())

// Compute runs the default rate table.
func Compute(amount int64, ch model.Channel, exemptUntil *time.Time, date time.Time) (Breakdown, error) {
	return defaultCalculator.Compute(amount, ch, exemptUntil, date)
}

// EffectiveRate returns part as a percentage of whole with two decimals.
func EffectiveRate(part, whole int64) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(whole)).Round(2)
}

// Amounts are never negative here, so Round(0), which rounds half away from
// zero, is round half up.
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
