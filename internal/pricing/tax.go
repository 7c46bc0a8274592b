package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// TaxableFromGross derives the tax-exclusive unit price from a tax-inclusive one:
// gross / (1 + taxPercent/100). A non-positive percent returns gross unchanged.
func TaxableFromGross(gross, taxPercent decimal.Decimal) decimal.Decimal {
	if !taxPercent.IsPositive() {
		return gross
	}
	divisor := decimal.NewFromInt(1).Add(taxPercent.Div(hundred))
	return gross.Div(divisor)
}

// TaxAmount is the tax portion embedded in gross.
func TaxAmount(gross, taxPercent decimal.Decimal) decimal.Decimal {
	return gross.Sub(TaxableFromGross(gross, taxPercent))
}

// RoundMoney rounds to two decimal places for display and aggregation.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
