package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidPolicy is returned when a pricing policy fails validation.
var ErrInvalidPolicy = errors.New("invalid pricing policy")

// Tier is a quantity threshold at or above which a discounted unit price applies.
type Tier struct {
	MinQuantity        int              `json:"minQuantity"`
	GrossPricePerUnit  decimal.Decimal  `json:"grossPricePerUnit"`
	TaxableRatePerUnit *decimal.Decimal `json:"taxableRatePerUnit,omitempty"`
}

// configured reports whether the tier carries a usable price. A zero price
// means the slot was left empty, not that the goods are free.
func (t Tier) configured() bool {
	return t.GrossPricePerUnit.IsPositive()
}

// Policy is the pricing configuration attached to a product.
type Policy struct {
	GrossUnitPrice       decimal.Decimal  `json:"grossUnitPrice"`
	TaxPercent           decimal.Decimal  `json:"taxPercent"`
	RegularTiers         []Tier           `json:"regularTiers,omitempty"`
	PromoTiers           []Tier           `json:"promoTiers,omitempty"`
	PromoSingleUnitPrice *decimal.Decimal `json:"promoSingleUnitPrice,omitempty"`
}

// HasPromo reports whether any promotional price is configured. Zero-priced
// promo tiers and a zero single-unit price count as unset.
func (p Policy) HasPromo() bool {
	if p.PromoSingleUnitPrice != nil && p.PromoSingleUnitPrice.IsPositive() {
		return true
	}
	for _, t := range p.PromoTiers {
		if t.configured() {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of the policy.
func (p Policy) Validate() error {
	if p.GrossUnitPrice.IsNegative() {
		return fmt.Errorf("gross unit price must not be negative: %w", ErrInvalidPolicy)
	}
	if p.TaxPercent.IsNegative() {
		return fmt.Errorf("tax percent must not be negative: %w", ErrInvalidPolicy)
	}
	if p.PromoSingleUnitPrice != nil && p.PromoSingleUnitPrice.IsNegative() {
		return fmt.Errorf("promo single unit price must not be negative: %w", ErrInvalidPolicy)
	}
	if err := validateTiers("regular", p.RegularTiers); err != nil {
		return err
	}
	return validateTiers("promo", p.PromoTiers)
}

func validateTiers(kind string, tiers []Tier) error {
	prev := 0
	for i, t := range tiers {
		if t.MinQuantity <= 0 {
			return fmt.Errorf("%s tier %d: min quantity must be positive: %w", kind, i, ErrInvalidPolicy)
		}
		if t.MinQuantity <= prev {
			return fmt.Errorf("%s tier %d: min quantity %d not above %d: %w", kind, i, t.MinQuantity, prev, ErrInvalidPolicy)
		}
		if t.GrossPricePerUnit.IsNegative() {
			return fmt.Errorf("%s tier %d: price must not be negative: %w", kind, i, ErrInvalidPolicy)
		}
		if t.TaxableRatePerUnit != nil && t.TaxableRatePerUnit.IsNegative() {
			return fmt.Errorf("%s tier %d: taxable rate must not be negative: %w", kind, i, ErrInvalidPolicy)
		}
		prev = t.MinQuantity
	}
	return nil
}

// Clone returns a deep copy so snapshots never share tier slices with the catalog.
func (p Policy) Clone() Policy {
	out := p
	out.RegularTiers = cloneTiers(p.RegularTiers)
	out.PromoTiers = cloneTiers(p.PromoTiers)
	if p.PromoSingleUnitPrice != nil {
		v := *p.PromoSingleUnitPrice
		out.PromoSingleUnitPrice = &v
	}
	return out
}

func cloneTiers(in []Tier) []Tier {
	if in == nil {
		return nil
	}
	out := make([]Tier, len(in))
	for i, t := range in {
		out[i] = t
		if t.TaxableRatePerUnit != nil {
			v := *t.TaxableRatePerUnit
			out[i].TaxableRatePerUnit = &v
		}
	}
	return out
}
