// Package cartsync keeps persisted cart line prices consistent with the tier
// a line's quantity and the current promotional state call for.
package cartsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-pricing/internal/cart"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

var (
	// ErrBusy is returned when a reconciliation pass is already running for the cart.
	ErrBusy = errors.New("cartsync: reconciliation in progress")
	// ErrThrottled is returned when an unforced pass is requested too soon after the previous one.
	ErrThrottled = errors.New("cartsync: reconciliation throttled")
	// ErrClosed is returned once the registry has shut down.
	ErrClosed = errors.New("cartsync: registry closed")
)

// Clock reports the promotional state and when it next changes.
type Clock interface {
	Active() bool
	NextBoundary() time.Time
}

// Config tunes the reconciliation loop.
type Config struct {
	PollInterval time.Duration
	SettleDelay  time.Duration
	MinInterval  time.Duration
	Epsilon      decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 300 * time.Millisecond
	}
	if c.MinInterval <= 0 {
		c.MinInterval = time.Second
	}
	if !c.Epsilon.IsPositive() {
		c.Epsilon = cart.DefaultEpsilon
	}
	return c
}

// Result summarises one reconciliation pass.
type Result struct {
	Checked     int  `json:"checked"`
	Updated     int  `json:"updated"`
	Failed      int  `json:"failed"`
	Conflicts   int  `json:"conflicts"`
	PromoActive bool `json:"promoActive"`
}

// Synchronizer re-prices the lines of one cart session whenever the promo
// state flips or the cart's lines change.
type Synchronizer struct {
	cartID string
	store  cart.Store
	clock  Clock
	cfg    Config
	logger zerolog.Logger
	tracer trace.Tracer

	// Now is used for throttling and boundary timers.
	Now func() time.Time

	running atomic.Bool
	changed chan struct{}

	mu         sync.Mutex
	lastRun    time.Time
	lastActive bool
	reconciled bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// New constructs a synchronizer for cartID. A nil logger disables logging.
func New(cartID string, store cart.Store, clock Clock, cfg Config, logger *zerolog.Logger) *Synchronizer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("cart_id", cartID).Logger()
	}
	return &Synchronizer{
		cartID:  cartID,
		store:   store,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		logger:  l,
		tracer:  otel.Tracer("cartsync"),
		changed: make(chan struct{}, 1),
	}
}

// CartID returns the cart this synchronizer maintains.
func (s *Synchronizer) CartID() string { return s.cartID }

func (s *Synchronizer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Start runs a forced pass and then keeps the cart reconciled until ctx is
// cancelled or Stop is called. Calling Start on a running synchronizer does nothing.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(loopCtx, s.done)
}

// Stop cancels the loop and its timers and waits for an in-flight pass to finish.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// LinesChanged schedules a pass once the cart has been quiet for the settle delay.
func (s *Synchronizer) LinesChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.trigger(ctx, true, "start")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	boundary, boundaryC := s.armBoundary()
	settle := time.NewTimer(s.cfg.SettleDelay)
	settle.Stop()
	var settleC <-chan time.Time
	defer func() {
		if boundary != nil {
			boundary.Stop()
		}
		settle.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.stale() {
				s.trigger(ctx, false, "poll")
			}
		case <-boundaryC:
			s.trigger(ctx, true, "boundary")
			boundary, boundaryC = s.armBoundary()
		case <-s.changed:
			if !settle.Stop() {
				select {
				case <-settle.C:
				default:
				}
			}
			settle.Reset(s.cfg.SettleDelay)
			settleC = settle.C
		case <-settleC:
			settleC = nil
			s.trigger(ctx, false, "lines_changed")
		}
	}
}

// armBoundary schedules a one-shot timer at the next promo window edge.
func (s *Synchronizer) armBoundary() (*time.Timer, <-chan time.Time) {
	if s.clock == nil {
		return nil, nil
	}
	next := s.clock.NextBoundary()
	if next.IsZero() {
		return nil, nil
	}
	wait := next.Sub(s.now())
	if wait < 0 {
		wait = 0
	}
	t := time.NewTimer(wait)
	return t, t.C
}

// stale reports whether the promo state moved since the last completed pass.
func (s *Synchronizer) stale() bool {
	active := s.promoActive()
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.reconciled || s.lastActive != active
}

func (s *Synchronizer) promoActive() bool {
	return s.clock != nil && s.clock.Active()
}

func (s *Synchronizer) trigger(ctx context.Context, force bool, reason string) {
	res, err := s.Reconcile(ctx, force)
	switch {
	case errors.Is(err, ErrBusy), errors.Is(err, ErrThrottled):
		s.logger.Debug().Str("reason", reason).Err(err).Msg("reconcile skipped")
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		s.logger.Error().Str("reason", reason).Err(err).Msg("reconcile failed")
	case res.Updated > 0 || res.Failed > 0 || res.Conflicts > 0:
		s.logger.Info().
			Str("reason", reason).
			Int("checked", res.Checked).
			Int("updated", res.Updated).
			Int("failed", res.Failed).
			Int("conflicts", res.Conflicts).
			Bool("promo_active", res.PromoActive).
			Msg("cart reconciled")
	}
}

type promoSnapshot bool

func (p promoSnapshot) Active() bool { return bool(p) }

// Reconcile re-prices every line of the cart against the current promo state
// and writes back only lines whose price moved by more than the epsilon. One
// pass runs at a time; unforced passes are throttled to MinInterval. A failure
// on one line never stops the others.
func (s *Synchronizer) Reconcile(ctx context.Context, force bool) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		obs.ObserveSyncPass("busy", 0)
		return Result{}, ErrBusy
	}
	defer s.running.Store(false)

	now := s.now()
	s.mu.Lock()
	if !force && !s.lastRun.IsZero() && now.Sub(s.lastRun) < s.cfg.MinInterval {
		s.mu.Unlock()
		obs.ObserveSyncPass("throttled", 0)
		return Result{}, ErrThrottled
	}
	s.lastRun = now
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "cartsync.reconcile", trace.WithAttributes(
		attribute.String("cart.id", s.cartID),
		attribute.Bool("cartsync.forced", force),
	))
	defer span.End()
	start := time.Now()

	active := s.promoActive()
	res := Result{PromoActive: active}
	lines, err := s.store.ListLines(ctx, s.cartID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list lines")
		obs.ObserveSyncPass("error", time.Since(start))
		return res, err
	}

	m := cart.Mutator{Promo: promoSnapshot(active), Epsilon: s.cfg.Epsilon}
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			obs.ObserveSyncPass("cancelled", time.Since(start))
			return res, err
		}
		res.Checked++
		if line.Policy == nil {
			res.Failed++
			obs.IncSyncLineFailure("missing_policy")
			s.logger.Warn().Str("line_id", line.ID).Str("product_id", line.ProductID).Msg("cart line has no pricing snapshot")
			continue
		}
		ch := m.Reprice(line)
		if !ch.PriceChanged {
			continue
		}
		_, err := s.store.UpdateLine(ctx, s.cartID, line.ID, ch.Patch())
		switch {
		case err == nil:
			res.Updated++
			obs.ObservePriceResolution(string(ch.Quote.Source))
		case errors.Is(err, cart.ErrConflict), errors.Is(err, cart.ErrNotFound):
			res.Conflicts++
			obs.IncSyncLineFailure("conflict")
			s.logger.Debug().Str("line_id", line.ID).Err(err).Msg("cart line changed during reconcile")
		default:
			res.Failed++
			obs.IncSyncLineFailure("store")
			s.logger.Error().Str("line_id", line.ID).Err(err).Msg("cart line update failed")
		}
	}

	s.mu.Lock()
	s.lastActive = active
	s.reconciled = true
	s.mu.Unlock()

	span.SetAttributes(
		attribute.Int("cartsync.checked", res.Checked),
		attribute.Int("cartsync.updated", res.Updated),
		attribute.Int("cartsync.failed", res.Failed),
		attribute.Bool("promo.active", active),
	)
	obs.AddSyncLineUpdates(res.Updated)
	obs.ObserveSyncPass("ok", time.Since(start))
	return res, nil
}
