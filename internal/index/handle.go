package index

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/storage"
)

// Handle points at the live index. Readers load the pointer once per call
// and keep that snapshot; ingestion builds a new index and swaps it in.
type Handle struct {
	current atomic.Pointer[generation]
}

type generation struct {
	idx     Index
	id      string
	builtAt time.Time
}

// NewHandle wraps an initial index.
func NewHandle(initial Index) *Handle {
	h := &Handle{}
	h.current.Store(&generation{idx: initial, id: uuid.NewString(), builtAt: time.Now()})
	return h
}

// Current returns the live index.
func (h *Handle) Current() Index {
	return h.current.Load().idx
}

// Generation identifies the live index. It changes on every swap.
func (h *Handle) Generation() string {
	return h.current.Load().id
}

// BuiltAt returns when the live index was swapped in.
func (h *Handle) BuiltAt() time.Time {
	return h.current.Load().builtAt
}

// Swap atomically replaces the live index and returns the previous one.
func (h *Handle) Swap(next Index) Index {
	prev := h.current.Swap(&generation{idx: next, id: uuid.NewString(), builtAt: time.Now()})
	return prev.idx
}

// Upsert writes to the live index.
func (h *Handle) Upsert(ctx context.Context, entries []Entry) error {
	return h.Current().Upsert(ctx, entries)
}

// Delete removes from the live index.
func (h *Handle) Delete(ctx context.Context, ids ...string) error {
	return h.Current().Delete(ctx, ids...)
}

// DeleteAll empties the live index.
func (h *Handle) DeleteAll(ctx context.Context) error {
	return h.Current().DeleteAll(ctx)
}

// Query queries the live index.
func (h *Handle) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	return h.Current().Query(ctx, vector, topK, filter)
}

// Get reads from the live index.
func (h *Handle) Get(ctx context.Context, id string) (domain.Product, error) {
	return h.Current().Get(ctx, id)
}

// All lists the live index.
func (h *Handle) All(ctx context.Context) ([]domain.Product, error) {
	return h.Current().All(ctx)
}

// Count counts the live index.
func (h *Handle) Count(ctx context.Context) (int, error) {
	return h.Current().Count(ctx)
}

// Dimension returns the live index dimension.
func (h *Handle) Dimension() int {
	return h.Current().Dimension()
}

// Close closes the live index.
func (h *Handle) Close() error {
	return h.Current().Close()
}

var _ Index = (*Handle)(nil)

// Discard tears down idx if its backend holds per-generation state.
func Discard(ctx context.Context, idx Index) error {
	if d, ok := idx.(Discarder); ok {
		return d.Discard(ctx)
	}
	return idx.Close()
}

// BuilderConfig selects the backend for new index generations.
type BuilderConfig struct {
	Backend     string // memory, chromem or pgvector
	Dimension   int
	TablePrefix string
}

// Builder creates an empty index for a new generation.
type Builder func(ctx context.Context) (Index, error)

// NewBuilder returns a Builder for the configured backend. db is only used
// by the pgvector backend.
func NewBuilder(cfg BuilderConfig, db storage.DB) (Builder, error) {
	switch cfg.Backend {
	case "memory", "":
		return func(context.Context) (Index, error) {
			return NewMemoryIndex(cfg.Dimension), nil
		}, nil
	case "chromem":
		return func(context.Context) (Index, error) {
			return NewChromemIndex(cfg.Dimension)
		}, nil
	case "pgvector":
		if db == nil {
			return nil, domain.ConfigError("pgvector backend requires a database", nil)
		}
		prefix := cfg.TablePrefix
		if prefix == "" {
			prefix = "product_vectors"
		}
		return func(ctx context.Context) (Index, error) {
			suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
			return NewPGVectorIndex(ctx, db, fmt.Sprintf("%s_%s", prefix, suffix), cfg.Dimension)
		}, nil
	}
	return nil, domain.ConfigError(fmt.Sprintf("unknown index backend %q", cfg.Backend), nil)
}
