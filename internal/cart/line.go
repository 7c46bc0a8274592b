package cart

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/pricing"
)

var (
	// ErrNotFound indicates the requested cart line could not be located.
	ErrNotFound = errors.New("cart line not found")
	// ErrInvalidInput is returned when the provided payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned when a conditional update observes a different quantity.
	ErrConflict = errors.New("cart line changed concurrently")
	// ErrInsufficientStock stops an increase that exceeds available stock.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// DefaultEpsilon is the smallest price difference treated as a real change.
var DefaultEpsilon = decimal.New(1, -3)

// Line is a persisted cart line. Policy is the pricing snapshot captured when
// the product was added; a nil Policy means the snapshot is missing.
type Line struct {
	ID               string          `json:"id"`
	CartID           string          `json:"cartId"`
	ProductID        string          `json:"productId"`
	Name             string          `json:"name"`
	Quantity         int             `json:"quantity"`
	UnitGrossPrice   decimal.Decimal `json:"unitGrossPrice"`
	UnitTaxableRate  decimal.Decimal `json:"unitTaxableRate"`
	TaxPercent       decimal.Decimal `json:"taxPercent"`
	MinOrderQuantity int             `json:"minOrderQuantity"`
	Policy           *pricing.Policy `json:"policy,omitempty"`
	AddedAt          time.Time       `json:"addedAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// MinQuantity returns the effective minimum quantity of the line.
func (l Line) MinQuantity() int {
	if l.MinOrderQuantity < 1 {
		return 1
	}
	return l.MinOrderQuantity
}

// Patch is a partial update applied to a line in a single store operation.
// ExpectQuantity turns the update into a compare-and-set on the stored quantity.
type Patch struct {
	Quantity        *int
	UnitGrossPrice  *decimal.Decimal
	UnitTaxableRate *decimal.Decimal
	ExpectQuantity  *int
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Quantity == nil && p.UnitGrossPrice == nil && p.UnitTaxableRate == nil
}

func (p Patch) apply(l *Line) error {
	if p.ExpectQuantity != nil && *p.ExpectQuantity != l.Quantity {
		return ErrConflict
	}
	if p.Quantity != nil {
		l.Quantity = *p.Quantity
	}
	if p.UnitGrossPrice != nil {
		l.UnitGrossPrice = *p.UnitGrossPrice
	}
	if p.UnitTaxableRate != nil {
		l.UnitTaxableRate = *p.UnitTaxableRate
	}
	return nil
}

// Store persists cart lines. UpdateLine must apply the whole patch atomically.
type Store interface {
	ListLines(ctx context.Context, cartID string) ([]Line, error)
	GetLine(ctx context.Context, cartID, lineID string) (Line, error)
	FindByProduct(ctx context.Context, cartID, productID string) (Line, error)
	InsertLine(ctx context.Context, line Line) (Line, error)
	UpdateLine(ctx context.Context, cartID, lineID string, patch Patch) (Line, error)
	RemoveLine(ctx context.Context, cartID, lineID string) error
	Clear(ctx context.Context, cartID string) error
}

func sortLines(lines []Line) {
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].AddedAt.Equal(lines[j].AddedAt) {
			return lines[i].ID < lines[j].ID
		}
		return lines[i].AddedAt.Before(lines[j].AddedAt)
	})
}

// Items converts lines for order total aggregation.
func Items(lines []Line) []pricing.Item {
	items := make([]pricing.Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, pricing.Item{Qty: l.Quantity, UnitGrossPrice: l.UnitGrossPrice, UnitTaxableRate: l.UnitTaxableRate})
	}
	return items
}
