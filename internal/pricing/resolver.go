package pricing

import "github.com/shopspring/decimal"

// Source identifies which branch of the resolution chain produced a quote.
type Source string

const (
	SourceBase        Source = "base"
	SourceRegularTier Source = "regular_tier"
	SourcePromoTier   Source = "promo_tier"
	SourcePromoSingle Source = "promo_single"
)

// Quote is the resolved per-unit price for a quantity.
type Quote struct {
	GrossPricePerUnit  decimal.Decimal
	TaxableRatePerUnit decimal.Decimal
	Source             Source
	// MinQuantity is the threshold of the winning tier, zero otherwise.
	MinQuantity int
}

// Resolve selects the unit price that applies to quantity under the policy.
//
// Promo tiers replace regular tiers entirely while the promo window is active
// and the policy has any promo configuration. Within the chosen list the tier
// with the highest qualifying threshold wins. Without a qualifying tier the
// promo single-unit price applies during the window, and the list price
// otherwise. Missing configuration always falls through, it never fails.
func Resolve(p Policy, quantity int, promoActive bool) Quote {
	usePromo := promoActive && p.HasPromo()

	candidates, tierSource := p.RegularTiers, SourceRegularTier
	if usePromo {
		candidates, tierSource = p.PromoTiers, SourcePromoTier
	}

	var (
		best  Tier
		found bool
	)
	for _, t := range candidates {
		if !t.configured() || t.MinQuantity > quantity {
			continue
		}
		if !found || t.MinQuantity >= best.MinQuantity {
			best, found = t, true
		}
	}

	if found {
		taxable := TaxableFromGross(best.GrossPricePerUnit, p.TaxPercent)
		if best.TaxableRatePerUnit != nil {
			taxable = *best.TaxableRatePerUnit
		}
		return Quote{
			GrossPricePerUnit:  best.GrossPricePerUnit,
			TaxableRatePerUnit: taxable,
			Source:             tierSource,
			MinQuantity:        best.MinQuantity,
		}
	}

	if promoActive && p.PromoSingleUnitPrice != nil && p.PromoSingleUnitPrice.IsPositive() {
		return Quote{
			GrossPricePerUnit:  *p.PromoSingleUnitPrice,
			TaxableRatePerUnit: TaxableFromGross(*p.PromoSingleUnitPrice, p.TaxPercent),
			Source:             SourcePromoSingle,
		}
	}

	return Quote{
		GrossPricePerUnit:  p.GrossUnitPrice,
		TaxableRatePerUnit: TaxableFromGross(p.GrossUnitPrice, p.TaxPercent),
		Source:             SourceBase,
	}
}

// Differs reports whether two amounts differ by more than epsilon.
func Differs(a, b, epsilon decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(epsilon)
}
