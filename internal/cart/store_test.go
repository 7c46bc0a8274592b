package cart_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/cart"
)

func exerciseStore(t *testing.T, store cart.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	first := pricedLine(2, false)
	first.AddedAt = base
	second := pricedLine(1, false)
	second.ID = "l2"
	second.ProductID = "tea-1kg"
	second.AddedAt = base.Add(time.Minute)

	_, err := store.InsertLine(ctx, second)
	require.NoError(t, err)
	_, err = store.InsertLine(ctx, first)
	require.NoError(t, err)
	_, err = store.InsertLine(ctx, first)
	require.ErrorIs(t, err, cart.ErrConflict)

	lines, err := store.ListLines(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "l1", lines[0].ID)
	require.Equal(t, "l2", lines[1].ID)
	require.NotNil(t, lines[0].Policy)
	require.Len(t, lines[0].Policy.PromoTiers, 1)

	found, err := store.FindByProduct(ctx, "c1", "tea-1kg")
	require.NoError(t, err)
	require.Equal(t, "l2", found.ID)
	_, err = store.FindByProduct(ctx, "c1", "missing")
	require.ErrorIs(t, err, cart.ErrNotFound)

	qty := 10
	gross := dec("90")
	taxable := dec("76.27")
	expect := 2
	updated, err := store.UpdateLine(ctx, "c1", "l1", cart.Patch{Quantity: &qty, UnitGrossPrice: &gross, UnitTaxableRate: &taxable, ExpectQuantity: &expect})
	require.NoError(t, err)
	require.Equal(t, 10, updated.Quantity)

	got, err := store.GetLine(ctx, "c1", "l1")
	require.NoError(t, err)
	require.Equal(t, 10, got.Quantity)
	require.True(t, got.UnitGrossPrice.Equal(gross))
	require.True(t, got.UnitTaxableRate.Equal(taxable))

	stale := 2
	_, err = store.UpdateLine(ctx, "c1", "l1", cart.Patch{UnitGrossPrice: &gross, ExpectQuantity: &stale})
	require.ErrorIs(t, err, cart.ErrConflict)

	_, err = store.UpdateLine(ctx, "c1", "nope", cart.Patch{Quantity: &qty})
	require.ErrorIs(t, err, cart.ErrNotFound)

	require.NoError(t, store.RemoveLine(ctx, "c1", "l2"))
	require.ErrorIs(t, store.RemoveLine(ctx, "c1", "l2"), cart.ErrNotFound)

	require.NoError(t, store.Clear(ctx, "c1"))
	lines, err = store.ListLines(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, cart.NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseStore(t, &cart.RedisStore{Client: client, TTL: time.Hour})
}

func TestRedisStoreRefreshesExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := &cart.RedisStore{Client: client, TTL: time.Hour}
	_, err = store.InsertLine(context.Background(), pricedLine(1, false))
	require.NoError(t, err)
	require.Equal(t, time.Hour, mr.TTL("cart:c1:lines"))

	mr.FastForward(30 * time.Minute)
	qty := 2
	_, err = store.UpdateLine(context.Background(), "c1", "l1", cart.Patch{Quantity: &qty})
	require.NoError(t, err)
	require.Equal(t, time.Hour, mr.TTL("cart:c1:lines"))
}
