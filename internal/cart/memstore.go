package cart

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps cart lines in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	carts map[string]map[string]Line
	Now   func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]map[string]Line)}
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ListLines returns the lines of a cart ordered by insertion time.
func (s *MemoryStore) ListLines(_ context.Context, cartID string) ([]Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]Line, 0, len(s.carts[cartID]))
	for _, l := range s.carts[cartID] {
		lines = append(lines, l)
	}
	sortLines(lines)
	return lines, nil
}

// GetLine returns a single line.
func (s *MemoryStore) GetLine(_ context.Context, cartID, lineID string) (Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.carts[cartID][lineID]
	if !ok {
		return Line{}, ErrNotFound
	}
	return l, nil
}

// FindByProduct returns the line holding productID.
func (s *MemoryStore) FindByProduct(_ context.Context, cartID, productID string) (Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.carts[cartID] {
		if l.ProductID == productID {
			return l, nil
		}
	}
	return Line{}, ErrNotFound
}

// InsertLine stores a new line.
func (s *MemoryStore) InsertLine(_ context.Context, line Line) (Line, error) {
	if line.ID == "" || line.CartID == "" {
		return Line{}, fmt.Errorf("line and cart id required: %w", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, ok := s.carts[line.CartID]
	if !ok {
		lines = make(map[string]Line)
		s.carts[line.CartID] = lines
	}
	if _, exists := lines[line.ID]; exists {
		return Line{}, fmt.Errorf("line %s already exists: %w", line.ID, ErrConflict)
	}
	if line.Policy != nil {
		snapshot := line.Policy.Clone()
		line.Policy = &snapshot
	}
	now := s.now()
	if line.AddedAt.IsZero() {
		line.AddedAt = now
	}
	line.UpdatedAt = now
	lines[line.ID] = line
	return line, nil
}

// UpdateLine applies patch under the store lock.
func (s *MemoryStore) UpdateLine(_ context.Context, cartID, lineID string, patch Patch) (Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.carts[cartID][lineID]
	if !ok {
		return Line{}, ErrNotFound
	}
	if err := patch.apply(&l); err != nil {
		return Line{}, err
	}
	l.UpdatedAt = s.now()
	s.carts[cartID][lineID] = l
	return l, nil
}

// RemoveLine deletes a line.
func (s *MemoryStore) RemoveLine(_ context.Context, cartID, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[cartID][lineID]; !ok {
		return ErrNotFound
	}
	delete(s.carts[cartID], lineID)
	if len(s.carts[cartID]) == 0 {
		delete(s.carts, cartID)
	}
	return nil
}

// Clear drops every line of a cart.
func (s *MemoryStore) Clear(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, cartID)
	return nil
}
