package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/toko-pricing/internal/pricing"
)

type fileDocument struct {
	Products []fileProduct `yaml:"products" validate:"dive"`
}

type fileProduct struct {
	ID                   string     `yaml:"id" validate:"required"`
	Name                 string     `yaml:"name" validate:"required"`
	Stock                int        `yaml:"stock" validate:"gte=0"`
	MinOrderQuantity     int        `yaml:"minOrderQuantity" validate:"gte=0"`
	GrossUnitPrice       string     `yaml:"grossUnitPrice" validate:"required,numeric"`
	TaxPercent           string     `yaml:"taxPercent" validate:"omitempty,numeric"`
	RegularTiers         []fileTier `yaml:"regularTiers" validate:"dive"`
	PromoTiers           []fileTier `yaml:"promoTiers" validate:"dive"`
	PromoSingleUnitPrice string     `yaml:"promoSingleUnitPrice" validate:"omitempty,numeric"`
}

type fileTier struct {
	MinQuantity        int    `yaml:"minQuantity" validate:"gt=0"`
	GrossPricePerUnit  string `yaml:"grossPricePerUnit" validate:"required,numeric"`
	TaxableRatePerUnit string `yaml:"taxableRatePerUnit" validate:"omitempty,numeric"`
}

// FileCatalog is an in-memory catalog loaded from a YAML document.
type FileCatalog struct {
	mu       sync.RWMutex
	products map[string]Product
}

// LoadFile reads and validates a YAML catalog from path.
func LoadFile(path string) (*FileCatalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a YAML catalog.
func Load(r io.Reader) (*FileCatalog, error) {
	var doc fileDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	products := make(map[string]Product, len(doc.Products))
	for _, fp := range doc.Products {
		id := strings.TrimSpace(fp.ID)
		if _, dup := products[id]; dup {
			return nil, fmt.Errorf("duplicate product %q", id)
		}
		p, err := fp.toProduct()
		if err != nil {
			return nil, fmt.Errorf("product %q: %w", id, err)
		}
		products[id] = p
	}
	return &FileCatalog{products: products}, nil
}

// Product implements Catalog.
func (c *FileCatalog) Product(_ context.Context, id string) (Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[strings.TrimSpace(id)]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	p.Policy = p.Policy.Clone()
	return p, nil
}

// IDs lists product ids in sorted order.
func (c *FileCatalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.products))
	for id := range c.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (fp fileProduct) toProduct() (Product, error) {
	gross, err := decimal.NewFromString(fp.GrossUnitPrice)
	if err != nil {
		return Product{}, fmt.Errorf("gross unit price: %w", err)
	}
	policy := pricing.Policy{GrossUnitPrice: gross}
	if fp.TaxPercent != "" {
		if policy.TaxPercent, err = decimal.NewFromString(fp.TaxPercent); err != nil {
			return Product{}, fmt.Errorf("tax percent: %w", err)
		}
	}
	if fp.PromoSingleUnitPrice != "" {
		v, err := decimal.NewFromString(fp.PromoSingleUnitPrice)
		if err != nil {
			return Product{}, fmt.Errorf("promo single unit price: %w", err)
		}
		policy.PromoSingleUnitPrice = &v
	}
	if policy.RegularTiers, err = toTiers(fp.RegularTiers); err != nil {
		return Product{}, fmt.Errorf("regular tiers: %w", err)
	}
	if policy.PromoTiers, err = toTiers(fp.PromoTiers); err != nil {
		return Product{}, fmt.Errorf("promo tiers: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Product{}, err
	}
	return Product{
		ID:               strings.TrimSpace(fp.ID),
		Name:             fp.Name,
		Stock:            fp.Stock,
		MinOrderQuantity: fp.MinOrderQuantity,
		Policy:           policy,
	}, nil
}

func toTiers(in []fileTier) ([]pricing.Tier, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]pricing.Tier, 0, len(in))
	for _, ft := range in {
		gross, err := decimal.NewFromString(ft.GrossPricePerUnit)
		if err != nil {
			return nil, err
		}
		t := pricing.Tier{MinQuantity: ft.MinQuantity, GrossPricePerUnit: gross}
		if ft.TaxableRatePerUnit != "" {
			v, err := decimal.NewFromString(ft.TaxableRatePerUnit)
			if err != nil {
				return nil, err
			}
			t.TaxableRatePerUnit = &v
		}
		out = append(out, t)
	}
	return out, nil
}
