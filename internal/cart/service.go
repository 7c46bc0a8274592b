package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/catalog"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// Locker serialises work for a key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// ChangeNotifier is told when a cart's lines were modified.
type ChangeNotifier interface {
	LinesChanged(cartID string)
}

// Service encapsulates cart domain operations.
type Service struct {
	Store    Store
	Catalog  catalog.Catalog
	Promo    PromoState
	Locker   Locker
	LockTTL  time.Duration
	Notifier ChangeNotifier
	Epsilon  decimal.Decimal
	Logger   *zerolog.Logger
	Now      func() time.Time
}

// Totals is the priced view of a cart.
type Totals struct {
	Lines   []Line          `json:"lines"`
	Summary pricing.Summary `json:"summary"`
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *zerolog.Logger {
	if s == nil || s.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return s.Logger
}

func (s *Service) mutator() Mutator {
	return Mutator{Promo: s.Promo, Epsilon: s.Epsilon}
}

func (s *Service) ready() error {
	if s == nil || s.Store == nil {
		return errors.New("cart service not configured")
	}
	return nil
}

func (s *Service) withCart(ctx context.Context, cartID string, fn func(context.Context) error) error {
	if strings.TrimSpace(cartID) == "" {
		return fmt.Errorf("cart id required: %w", ErrInvalidInput)
	}
	if s.Locker == nil {
		return fn(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return s.Locker.WithLock(ctx, "cart:"+cartID, ttl, fn)
}

func (s *Service) notify(cartID string) {
	if s.Notifier != nil {
		s.Notifier.LinesChanged(cartID)
	}
}

// AddProduct puts qty units of a product into the cart. A product already in
// the cart gets the units added to its line; a new line starts at no less than
// the product's minimum order quantity.
func (s *Service) AddProduct(ctx context.Context, cartID, productID string, qty int) (Line, error) {
	if err := s.ready(); err != nil {
		return Line{}, err
	}
	if qty <= 0 {
		return Line{}, fmt.Errorf("qty must be positive: %w", ErrInvalidInput)
	}
	if s.Catalog == nil {
		return Line{}, errors.New("catalog not configured")
	}
	var out Line
	err := s.withCart(ctx, cartID, func(ctx context.Context) error {
		product, err := s.Catalog.Product(ctx, productID)
		if err != nil {
			return fmt.Errorf("load product %s: %w", productID, err)
		}
		existing, err := s.Store.FindByProduct(ctx, cartID, productID)
		switch {
		case err == nil:
			ch := s.mutator().Add(existing, qty)
			if ch.Line.Quantity > product.Stock {
				return stockError(productID, ch.Line.Quantity, product.Stock)
			}
			out, err = s.persist(ctx, ch)
			return err
		case errors.Is(err, ErrNotFound):
			line, quote := s.mutator().NewLine(cartID, product, qty, s.now())
			if line.Quantity > product.Stock {
				return stockError(productID, line.Quantity, product.Stock)
			}
			obs.ObservePriceResolution(string(quote.Source))
			out, err = s.Store.InsertLine(ctx, line)
			return err
		default:
			return err
		}
	})
	s.record("add", err)
	if err != nil {
		return Line{}, err
	}
	s.notify(cartID)
	return out, nil
}

// Increment adds one unit to a line.
func (s *Service) Increment(ctx context.Context, cartID, lineID string) (Change, error) {
	return s.mutate(ctx, "increment", cartID, lineID, func(m Mutator, l Line) Change {
		return m.Increment(l)
	})
}

// Decrement removes one unit from a line, removing the line at its minimum.
func (s *Service) Decrement(ctx context.Context, cartID, lineID string) (Change, error) {
	return s.mutate(ctx, "decrement", cartID, lineID, func(m Mutator, l Line) Change {
		return m.Decrement(l)
	})
}

// SetQuantity applies a directly entered quantity. Input that is not a
// positive whole number leaves the line unchanged and reports Noop.
func (s *Service) SetQuantity(ctx context.Context, cartID, lineID, raw string) (Change, error) {
	return s.mutate(ctx, "set_quantity", cartID, lineID, func(m Mutator, l Line) Change {
		return m.SetQuantityInput(l, raw)
	})
}

func (s *Service) mutate(ctx context.Context, op, cartID, lineID string, apply func(Mutator, Line) Change) (Change, error) {
	if err := s.ready(); err != nil {
		return Change{}, err
	}
	var ch Change
	err := s.withCart(ctx, cartID, func(ctx context.Context) error {
		line, err := s.Store.GetLine(ctx, cartID, lineID)
		if err != nil {
			return err
		}
		ch = apply(s.mutator(), line)
		if ch.Noop {
			return nil
		}
		if !ch.Removed && ch.Line.Quantity > line.Quantity {
			if err := s.checkStock(ctx, ch.Line); err != nil {
				return err
			}
		}
		persisted, err := s.persist(ctx, ch)
		if err != nil {
			return err
		}
		ch.Line = persisted
		return nil
	})
	switch {
	case err != nil:
		s.record(op, err)
	case ch.Noop:
		obs.ObserveCartMutation(op, "noop")
	default:
		obs.ObserveCartMutation(op, "ok")
	}
	if err != nil {
		return Change{}, err
	}
	if !ch.Noop {
		s.notify(cartID)
	}
	return ch, nil
}

func (s *Service) checkStock(ctx context.Context, line Line) error {
	if s.Catalog == nil {
		return nil
	}
	product, err := s.Catalog.Product(ctx, line.ProductID)
	if err != nil {
		return fmt.Errorf("load product %s: %w", line.ProductID, err)
	}
	if line.Quantity > product.Stock {
		return stockError(line.ProductID, line.Quantity, product.Stock)
	}
	return nil
}

// StockShortage is attached to insufficient stock errors.
type StockShortage struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func stockError(productID string, requested, available int) error {
	appErr := common.NewAppError(
		"INSUFFICIENT_STOCK",
		fmt.Sprintf("only %d units of %s available", available, productID),
		http.StatusConflict,
		fmt.Errorf("%d units of %s requested: %w", requested, productID, ErrInsufficientStock),
	)
	appErr.Details = StockShortage{ProductID: productID, Requested: requested, Available: available}
	return appErr
}

func (s *Service) persist(ctx context.Context, ch Change) (Line, error) {
	if ch.Removed {
		return ch.Line, s.Store.RemoveLine(ctx, ch.Line.CartID, ch.Line.ID)
	}
	if ch.Noop {
		return ch.Line, nil
	}
	if ch.Quote.Source != "" {
		obs.ObservePriceResolution(string(ch.Quote.Source))
	}
	return s.Store.UpdateLine(ctx, ch.Line.CartID, ch.Line.ID, ch.Patch())
}

// Remove deletes a line.
func (s *Service) Remove(ctx context.Context, cartID, lineID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	err := s.withCart(ctx, cartID, func(ctx context.Context) error {
		return s.Store.RemoveLine(ctx, cartID, lineID)
	})
	s.record("remove", err)
	if err != nil {
		return err
	}
	s.notify(cartID)
	return nil
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, cartID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	err := s.withCart(ctx, cartID, func(ctx context.Context) error {
		return s.Store.Clear(ctx, cartID)
	})
	s.record("clear", err)
	if err != nil {
		return err
	}
	s.notify(cartID)
	return nil
}

// Lines returns the cart lines in insertion order.
func (s *Service) Lines(ctx context.Context, cartID string) ([]Line, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.Store.ListLines(ctx, cartID)
}

// Totals returns the cart lines with their aggregated order totals.
func (s *Service) Totals(ctx context.Context, cartID string) (Totals, error) {
	lines, err := s.Lines(ctx, cartID)
	if err != nil {
		return Totals{}, err
	}
	return Totals{Lines: lines, Summary: pricing.Summarize(Items(lines))}, nil
}

func (s *Service) record(op string, err error) {
	if err == nil {
		obs.ObserveCartMutation(op, "ok")
		return
	}
	result := "error"
	switch {
	case errors.Is(err, ErrInsufficientStock):
		result = "insufficient_stock"
	case errors.Is(err, ErrNotFound), errors.Is(err, catalog.ErrProductNotFound):
		result = "not_found"
	case errors.Is(err, ErrInvalidInput):
		result = "invalid"
	case errors.Is(err, ErrConflict):
		result = "conflict"
	}
	obs.ObserveCartMutation(op, result)
	if result == "error" {
		s.logger().Error().Err(err).Str("op", op).Msg("cart mutation failed")
	}
}
