package catalog

import (
	"context"
	"errors"

	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// ErrProductNotFound indicates the catalog has no product with the requested id.
var ErrProductNotFound = errors.New("product not found")

// Product is the catalog view consumed by the cart. Policy is copied into the
// cart line when the product is added and never refreshed afterwards.
type Product struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Stock            int            `json:"stock"`
	MinOrderQuantity int            `json:"minOrderQuantity"`
	Policy           pricing.Policy `json:"policy"`
}

// MinQuantity returns the effective minimum order quantity (at least one).
func (p Product) MinQuantity() int {
	if p.MinOrderQuantity < 1 {
		return 1
	}
	return p.MinOrderQuantity
}

// Catalog resolves products by id.
type Catalog interface {
	Product(ctx context.Context, id string) (Product, error)
}
