package cartsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/cart"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

type session struct {
	sync     *Synchronizer
	lastSeen time.Time
}

// Registry owns one Synchronizer per active cart session.
type Registry struct {
	Store  cart.Store
	Clock  Clock
	Config Config
	Logger *zerolog.Logger
	// IdleTimeout releases sessions that saw no activity for this long. Zero keeps them until released.
	IdleTimeout time.Duration
	Now         func() time.Time

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	sessions map[string]*session
	closed   bool
}

// NewRegistry constructs a registry whose synchronizers live at most as long as ctx.
func NewRegistry(ctx context.Context, store cart.Store, clock Clock, cfg Config, logger *zerolog.Logger) *Registry {
	ctx, cancel := context.WithCancel(ctx)
	return &Registry{
		Store:    store,
		Clock:    clock,
		Config:   cfg,
		Logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Ensure starts a synchronizer for cartID unless one is already running.
func (r *Registry) Ensure(cartID string) {
	r.ensure(cartID)
}

func (r *Registry) ensure(cartID string) *Synchronizer {
	if cartID == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if s, ok := r.sessions[cartID]; ok {
		s.lastSeen = r.now()
		return s.sync
	}
	syncer := New(cartID, r.Store, r.Clock, r.Config, r.Logger)
	r.sessions[cartID] = &session{sync: syncer, lastSeen: r.now()}
	syncer.Start(r.ctx)
	obs.AddActiveSyncSessions(1)
	return syncer
}

// LinesChanged forwards a line change to the cart's synchronizer if it is running.
func (r *Registry) LinesChanged(cartID string) {
	r.mu.Lock()
	s, ok := r.sessions[cartID]
	if ok {
		s.lastSeen = r.now()
	}
	r.mu.Unlock()
	if ok {
		s.sync.LinesChanged()
	}
}

// Sync runs a forced pass for cartID, starting its session if needed.
func (r *Registry) Sync(ctx context.Context, cartID string) (Result, error) {
	if cartID == "" {
		return Result{}, fmt.Errorf("cart id is required: %w", cart.ErrInvalidInput)
	}
	syncer := r.ensure(cartID)
	if syncer == nil {
		return Result{}, ErrClosed
	}
	return syncer.Reconcile(ctx, true)
}

// Release stops the synchronizer for cartID. It reports whether one was running.
func (r *Registry) Release(cartID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[cartID]
	delete(r.sessions, cartID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.sync.Stop()
	obs.AddActiveSyncSessions(-1)
	return true
}

// Active returns the number of running sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep releases sessions idle for longer than IdleTimeout and returns how many were released.
func (r *Registry) Sweep() int {
	if r.IdleTimeout <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.IdleTimeout)
	r.mu.Lock()
	var idle []string
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	r.mu.Unlock()
	released := 0
	for _, id := range idle {
		if r.Release(id) {
			released++
		}
	}
	return released
}

// RunJanitor sweeps idle sessions every interval until the registry closes.
func (r *Registry) RunJanitor(interval time.Duration) {
	if interval <= 0 || r.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 && r.Logger != nil {
				r.Logger.Debug().Int("released", n).Msg("idle cart sessions released")
			}
		}
	}
}

// Close stops every synchronizer. Later Ensure calls are ignored.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.sync.Stop()
		obs.AddActiveSyncSessions(-1)
	}
	r.cancel()
}
