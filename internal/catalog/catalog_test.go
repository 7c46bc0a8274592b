package catalog_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/resilience"
)

const sampleCatalog = `
products:
  - id: rice-5kg
    name: Basmati Rice 5kg
    stock: 40
    minOrderQuantity: 1
    grossUnitPrice: "100"
    taxPercent: "18"
    regularTiers:
      - minQuantity: 10
        grossPricePerUnit: "90"
    promoTiers:
      - minQuantity: 10
        grossPricePerUnit: "80"
        taxableRatePerUnit: "67.80"
    promoSingleUnitPrice: "95"
  - id: tea-1kg
    name: Assam Tea 1kg
    stock: 5
    minOrderQuantity: 2
    grossUnitPrice: "250.50"
`

func TestLoadCatalog(t *testing.T) {
	cat, err := catalog.Load(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	require.Equal(t, []string{"rice-5kg", "tea-1kg"}, cat.IDs())

	p, err := cat.Product(context.Background(), "rice-5kg")
	require.NoError(t, err)
	require.Equal(t, "Basmati Rice 5kg", p.Name)
	require.Equal(t, 40, p.Stock)
	require.Equal(t, "18", p.Policy.TaxPercent.String())
	require.Len(t, p.Policy.RegularTiers, 1)
	require.Len(t, p.Policy.PromoTiers, 1)
	require.NotNil(t, p.Policy.PromoTiers[0].TaxableRatePerUnit)
	require.Equal(t, "95", p.Policy.PromoSingleUnitPrice.String())
	require.True(t, p.Policy.HasPromo())

	tea, err := cat.Product(context.Background(), "tea-1kg")
	require.NoError(t, err)
	require.Equal(t, 2, tea.MinQuantity())
	require.False(t, tea.Policy.HasPromo())

	_, err = cat.Product(context.Background(), "missing")
	require.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestLoadCatalogSnapshotsAreIndependent(t *testing.T) {
	cat, err := catalog.Load(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	p, err := cat.Product(context.Background(), "rice-5kg")
	require.NoError(t, err)
	p.Policy.RegularTiers[0].MinQuantity = 99

	again, err := cat.Product(context.Background(), "rice-5kg")
	require.NoError(t, err)
	require.Equal(t, 10, again.Policy.RegularTiers[0].MinQuantity)
}

func TestLoadCatalogRejectsInvalidPolicies(t *testing.T) {
	cases := map[string]string{
		"duplicate tier": `
products:
  - id: a
    name: A
    grossUnitPrice: "10"
    regularTiers:
      - {minQuantity: 5, grossPricePerUnit: "9"}
      - {minQuantity: 5, grossPricePerUnit: "8"}
`,
		"non numeric price": `
products:
  - id: a
    name: A
    grossUnitPrice: "ten"
`,
		"missing id": `
products:
  - name: A
    grossUnitPrice: "10"
`,
		"zero tier quantity": `
products:
  - id: a
    name: A
    grossUnitPrice: "10"
    promoTiers:
      - {minQuantity: 0, grossPricePerUnit: "9"}
`,
		"duplicate product": `
products:
  - {id: a, name: A, grossUnitPrice: "10"}
  - {id: a, name: B, grossUnitPrice: "11"}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := catalog.Load(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

type countingCatalog struct {
	inner catalog.Catalog
	calls int
}

func (c *countingCatalog) Product(ctx context.Context, id string) (catalog.Product, error) {
	c.calls++
	return c.inner.Product(ctx, id)
}

func TestCachedCatalog(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fileCat, err := catalog.Load(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	source := &countingCatalog{inner: fileCat}
	cached := catalog.CachedCatalog{Source: source, Cache: catalog.NewCache(client, time.Minute)}

	ctx := context.Background()
	first, err := cached.Product(ctx, "rice-5kg")
	require.NoError(t, err)
	second, err := cached.Product(ctx, "rice-5kg")
	require.NoError(t, err)
	require.Equal(t, 1, source.calls)
	require.Equal(t, first.Name, second.Name)
	require.True(t, first.Policy.GrossUnitPrice.Equal(second.Policy.GrossUnitPrice))
	require.True(t, second.Policy.PromoSingleUnitPrice.Equal(*first.Policy.PromoSingleUnitPrice))
	require.True(t, mr.Exists("catalog:products:detail:rice-5kg"))

	_, err = cached.Product(ctx, "nope")
	require.True(t, errors.Is(err, catalog.ErrProductNotFound))
}

func TestCachedCatalogDegradesWithoutRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	fileCat, err := catalog.Load(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	cached := catalog.CachedCatalog{Source: fileCat, Cache: catalog.NewCache(client, time.Minute)}

	p, err := cached.Product(context.Background(), "tea-1kg")
	require.NoError(t, err)
	require.Equal(t, "Assam Tea 1kg", p.Name)
}

func TestCachedCatalogBreakerSkipsFailingRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	fileCat, err := catalog.Load(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	breaker := resilience.NewBreaker(1, 0.5, time.Hour).WithTarget("catalog_cache_test")
	cached := catalog.CachedCatalog{Source: fileCat, Cache: catalog.NewCache(client, time.Minute), Breaker: breaker}

	ctx := context.Background()
	_, err = cached.Product(ctx, "rice-5kg")
	require.NoError(t, err)
	require.Equal(t, resilience.Open, breaker.State())

	p, err := cached.Product(ctx, "tea-1kg")
	require.NoError(t, err)
	require.Equal(t, "Assam Tea 1kg", p.Name)
}

func TestBundledCatalogLoads(t *testing.T) {
	cat, err := catalog.LoadFile("../../configs/catalog.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, cat.IDs())
	for _, id := range cat.IDs() {
		p, err := cat.Product(context.Background(), id)
		require.NoError(t, err)
		require.NoError(t, p.Policy.Validate(), id)
	}
}
