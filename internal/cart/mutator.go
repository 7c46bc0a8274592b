package cart

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// PromoState reports whether the promotional window is currently active.
type PromoState interface {
	Active() bool
}

// Mutator applies quantity changes to a line and re-prices it with the
// current promotional state. It never writes; callers persist Change.Patch.
type Mutator struct {
	Promo   PromoState
	Epsilon decimal.Decimal
}

// Change describes the outcome of a mutation.
type Change struct {
	Before          Line
	Line            Line
	Quote           pricing.Quote
	Removed         bool
	Noop            bool
	QuantityChanged bool
	PriceChanged    bool
}

// Patch returns the store update for the change. Quantity and prices travel
// together so a single UpdateLine call persists both.
func (c Change) Patch() Patch {
	var p Patch
	if c.Noop || c.Removed {
		return p
	}
	expect := c.Before.Quantity
	p.ExpectQuantity = &expect
	if c.QuantityChanged {
		qty := c.Line.Quantity
		p.Quantity = &qty
	}
	if c.PriceChanged {
		gross := c.Line.UnitGrossPrice
		taxable := c.Line.UnitTaxableRate
		p.UnitGrossPrice = &gross
		p.UnitTaxableRate = &taxable
	}
	return p
}

func (m Mutator) active() bool {
	return m.Promo != nil && m.Promo.Active()
}

func (m Mutator) epsilon() decimal.Decimal {
	if m.Epsilon.IsZero() {
		return DefaultEpsilon
	}
	return m.Epsilon
}

// Increment adds one unit.
func (m Mutator) Increment(line Line) Change {
	return m.reprice(line, line.Quantity+1)
}

// Decrement removes one unit. Dropping below the minimum order quantity
// removes the line instead.
func (m Mutator) Decrement(line Line) Change {
	next := line.Quantity - 1
	if next < line.MinQuantity() {
		return Change{Before: line, Line: line, Removed: true}
	}
	return m.reprice(line, next)
}

// SetQuantity replaces the quantity. Non-positive values leave the line untouched.
func (m Mutator) SetQuantity(line Line, n int) Change {
	if n <= 0 {
		return Change{Before: line, Line: line, Noop: true}
	}
	return m.reprice(line, n)
}

// SetQuantityInput parses a directly entered quantity and applies it.
func (m Mutator) SetQuantityInput(line Line, raw string) Change {
	n, ok := ParseQuantity(raw)
	if !ok {
		return Change{Before: line, Line: line, Noop: true}
	}
	return m.SetQuantity(line, n)
}

// Add increases the quantity by n units.
func (m Mutator) Add(line Line, n int) Change {
	if n <= 0 {
		return Change{Before: line, Line: line, Noop: true}
	}
	return m.reprice(line, line.Quantity+n)
}

// Reprice resolves the line at its current quantity without changing it.
func (m Mutator) Reprice(line Line) Change {
	return m.reprice(line, line.Quantity)
}

// NewLine builds a priced line for product. The quantity is raised to the
// product's minimum order quantity.
func (m Mutator) NewLine(cartID string, p catalog.Product, qty int, now time.Time) (Line, pricing.Quote) {
	if floor := p.MinQuantity(); qty < floor {
		qty = floor
	}
	policy := p.Policy.Clone()
	quote := pricing.Resolve(policy, qty, m.active())
	line := Line{
		ID:               uuid.NewString(),
		CartID:           cartID,
		ProductID:        p.ID,
		Name:             p.Name,
		Quantity:         qty,
		UnitGrossPrice:   quote.GrossPricePerUnit,
		UnitTaxableRate:  quote.TaxableRatePerUnit,
		TaxPercent:       policy.TaxPercent,
		MinOrderQuantity: p.MinOrderQuantity,
		Policy:           &policy,
		AddedAt:          now,
		UpdatedAt:        now,
	}
	return line, quote
}

func (m Mutator) reprice(line Line, qty int) Change {
	next := line
	next.Quantity = qty
	ch := Change{Before: line, QuantityChanged: qty != line.Quantity}
	if line.Policy != nil {
		q := pricing.Resolve(*line.Policy, qty, m.active())
		ch.Quote = q
		eps := m.epsilon()
		if pricing.Differs(q.GrossPricePerUnit, line.UnitGrossPrice, eps) ||
			pricing.Differs(q.TaxableRatePerUnit, line.UnitTaxableRate, eps) {
			next.UnitGrossPrice = q.GrossPricePerUnit
			next.UnitTaxableRate = q.TaxableRatePerUnit
			ch.PriceChanged = true
		}
	}
	ch.Line = next
	ch.Noop = !ch.QuantityChanged && !ch.PriceChanged
	return ch
}

// ParseQuantity validates a directly entered quantity. Only positive whole
// numbers are accepted.
func ParseQuantity(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
