package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists each cart as a hash of JSON encoded lines keyed by line id.
type RedisStore struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
	Now    func() time.Time
}

func (s *RedisStore) key(cartID string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "cart:"
	}
	return prefix + cartID + ":lines"
}

func (s *RedisStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func (s *RedisStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ListLines returns the lines of a cart ordered by insertion time.
func (s *RedisStore) ListLines(ctx context.Context, cartID string) ([]Line, error) {
	raw, err := s.Client.HGetAll(ctx, s.key(cartID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	lines := make([]Line, 0, len(raw))
	for id, data := range raw {
		var l Line
		if err := json.Unmarshal([]byte(data), &l); err != nil {
			return nil, fmt.Errorf("decode cart line %s: %w", id, err)
		}
		lines = append(lines, l)
	}
	sortLines(lines)
	return lines, nil
}

// GetLine returns a single line.
func (s *RedisStore) GetLine(ctx context.Context, cartID, lineID string) (Line, error) {
	return getLine(ctx, s.Client, s.key(cartID), lineID)
}

// FindByProduct returns the line holding productID.
func (s *RedisStore) FindByProduct(ctx context.Context, cartID, productID string) (Line, error) {
	lines, err := s.ListLines(ctx, cartID)
	if err != nil {
		return Line{}, err
	}
	for _, l := range lines {
		if l.ProductID == productID {
			return l, nil
		}
	}
	return Line{}, ErrNotFound
}

// InsertLine stores a new line and refreshes the cart expiry.
func (s *RedisStore) InsertLine(ctx context.Context, line Line) (Line, error) {
	if line.ID == "" || line.CartID == "" {
		return Line{}, fmt.Errorf("line and cart id required: %w", ErrInvalidInput)
	}
	now := s.now()
	if line.AddedAt.IsZero() {
		line.AddedAt = now
	}
	line.UpdatedAt = now
	data, err := json.Marshal(line)
	if err != nil {
		return Line{}, fmt.Errorf("encode cart line: %w", err)
	}
	key := s.key(line.CartID)
	created, err := s.Client.HSetNX(ctx, key, line.ID, data).Result()
	if err != nil {
		return Line{}, fmt.Errorf("insert cart line: %w", err)
	}
	if !created {
		return Line{}, fmt.Errorf("line %s already exists: %w", line.ID, ErrConflict)
	}
	_ = s.Client.Expire(ctx, key, s.ttl()).Err()
	return line, nil
}

// UpdateLine applies patch inside a WATCH/MULTI transaction so quantity and
// price land together. A concurrent write to the cart surfaces as ErrConflict.
func (s *RedisStore) UpdateLine(ctx context.Context, cartID, lineID string, patch Patch) (Line, error) {
	key := s.key(cartID)
	var updated Line
	err := s.Client.Watch(ctx, func(tx *redis.Tx) error {
		l, err := getLine(ctx, tx, key, lineID)
		if err != nil {
			return err
		}
		if err := patch.apply(&l); err != nil {
			return err
		}
		l.UpdatedAt = s.now()
		data, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("encode cart line: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, lineID, data)
			pipe.Expire(ctx, key, s.ttl())
			return nil
		})
		if err != nil {
			return err
		}
		updated = l
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return Line{}, ErrConflict
	}
	if err != nil {
		return Line{}, err
	}
	return updated, nil
}

// RemoveLine deletes a line.
func (s *RedisStore) RemoveLine(ctx context.Context, cartID, lineID string) error {
	n, err := s.Client.HDel(ctx, s.key(cartID), lineID).Result()
	if err != nil {
		return fmt.Errorf("remove cart line: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear drops every line of a cart.
func (s *RedisStore) Clear(ctx context.Context, cartID string) error {
	return s.Client.Del(ctx, s.key(cartID)).Err()
}

func getLine(ctx context.Context, c redis.Cmdable, key, lineID string) (Line, error) {
	data, err := c.HGet(ctx, key, lineID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Line{}, ErrNotFound
		}
		return Line{}, fmt.Errorf("get cart line: %w", err)
	}
	var l Line
	if err := json.Unmarshal(data, &l); err != nil {
		return Line{}, fmt.Errorf("decode cart line: %w", err)
	}
	return l, nil
}
