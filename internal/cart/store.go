// Package cart manages per-session shopping carts and their budget analysis.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

// Store persists carts by session ID. Get returns a CartNotFound error for
// unknown or expired sessions.
type Store interface {
	Get(ctx context.Context, sessionID string) (*domain.Cart, error)
	Put(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore keeps carts in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	ttl   time.Duration
	carts map[string]memoryEntry
	now   func() time.Time
}

type memoryEntry struct {
	cart      *domain.Cart
	expiresAt time.Time
}

// NewMemoryStore creates a memory store. A zero ttl keeps carts forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:   ttl,
		carts: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

// Get returns a copy of the session's cart.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*domain.Cart, error) {
	s.mu.RLock()
	entry, ok := s.carts[sessionID]
	s.mu.RUnlock()

	if !ok || (!entry.expiresAt.IsZero() && s.now().After(entry.expiresAt)) {
		return nil, domain.CartNotFoundError(sessionID)
	}
	return entry.cart.Clone(), nil
}

// Put stores a copy of cart and refreshes its TTL.
func (s *MemoryStore) Put(_ context.Context, cart *domain.Cart) error {
	entry := memoryEntry{cart: cart.Clone()}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[cart.SessionID] = entry
	s.sweep()
	return nil
}

// Delete removes the session's cart.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
	return nil
}

// sweep drops expired carts. Callers hold the write lock.
func (s *MemoryStore) sweep() {
	if s.ttl <= 0 {
		return
	}
	now := s.now()
	for id, entry := range s.carts {
		if now.After(entry.expiresAt) {
			delete(s.carts, id)
		}
	}
}

// RedisStore keeps carts as JSON documents in Redis with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. The prefix defaults to
// "shop:cart:".
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "shop:cart:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Get loads and decodes the session's cart.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*domain.Cart, error) {
	data, err := s.client.Get(ctx, s.prefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.CartNotFoundError(sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart %s: %w", sessionID, err)
	}

	var c domain.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", sessionID, err)
	}
	return &c, nil
}

// Put encodes and stores cart, refreshing its TTL.
func (s *RedisStore) Put(ctx context.Context, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", cart.SessionID, err)
	}
	if err := s.client.Set(ctx, s.prefix+cart.SessionID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart %s: %w", cart.SessionID, err)
	}
	return nil
}

// Delete removes the session's cart.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.prefix+sessionID).Err(); err != nil {
		return fmt.Errorf("redis delete cart %s: %w", sessionID, err)
	}
	return nil
}
