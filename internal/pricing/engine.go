package pricing

import "github.com/shopspring/decimal"

// Item describes a priced line used for order total aggregation.
type Item struct {
	Qty             int
	UnitGrossPrice  decimal.Decimal
	UnitTaxableRate decimal.Decimal
}

// Summary aggregates computed totals. Gross always equals Taxable + Tax.
type Summary struct {
	Items   int             `json:"items"`
	Taxable decimal.Decimal `json:"taxable"`
	Tax     decimal.Decimal `json:"tax"`
	Gross   decimal.Decimal `json:"gross"`
}

// Summarize totals the provided lines. Amounts are accumulated at full
// precision and rounded once at the end.
func Summarize(items []Item) Summary {
	gross := decimal.Zero
	taxable := decimal.Zero
	count := 0
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		qty := decimal.NewFromInt(int64(it.Qty))
		gross = gross.Add(it.UnitGrossPrice.Mul(qty))
		taxable = taxable.Add(it.UnitTaxableRate.Mul(qty))
		count += it.Qty
	}
	grossRounded := RoundMoney(gross)
	taxableRounded := RoundMoney(taxable)
	return Summary{
		Items:   count,
		Taxable: taxableRounded,
		Tax:     grossRounded.Sub(taxableRounded),
		Gross:   grossRounded,
	}
}
