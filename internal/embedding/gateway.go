package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
)

// GatewayConfig holds batching and throttling settings for the gateway.
type GatewayConfig struct {
	BatchSize   int
	Concurrency int
	Timeout     time.Duration
	RateLimit   float64 // provider calls per second, 0 disables
}

// Gateway fronts an Embedder with batching, bounded concurrency, rate
// limiting, per-call timeouts and error classification.
type Gateway struct {
	provider Embedder
	cfg      GatewayConfig
	limiter  *rate.Limiter
	logger   *observability.Logger
}

// NewGateway wraps provider.
func NewGateway(provider Embedder, cfg GatewayConfig, logger *observability.Logger) *Gateway {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Gateway{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.Concurrency),
		logger:   logger,
	}
}

// Dimension returns the vector length every result has.
func (g *Gateway) Dimension() int {
	return g.provider.Dimension()
}

// Model returns the provider model name.
func (g *Gateway) Model() string {
	return g.provider.Model()
}

// EmbedOne embeds a single text.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts, preserving order. Blank texts map to the zero
// vector without a provider call. Any failed batch fails the whole call.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := observability.StartSpan(ctx, "embedding.EmbedBatch", attribute.Int("texts", len(texts)))
	out, pending := g.prepare(texts)

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.cfg.Concurrency)
	for _, chunk := range lo.Chunk(pending, g.cfg.BatchSize) {
		chunk := chunk
		grp.Go(func() error {
			vecs, err := g.call(gctx, pick(texts, chunk))
			if err != nil {
				return err
			}
			for i, idx := range chunk {
				out[idx] = vecs[i]
			}
			return nil
		})
	}

	err := grp.Wait()
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedEach embeds texts like EmbedBatch but reports failures per text. A
// failed batch is retried one text at a time so a single bad input does not
// sink its neighbours. errs is nil when every text succeeded.
func (g *Gateway) EmbedEach(ctx context.Context, texts []string) ([][]float32, []error) {
	ctx, span := observability.StartSpan(ctx, "embedding.EmbedEach", attribute.Int("texts", len(texts)))
	defer span.End()

	out, pending := g.prepare(texts)
	errs := make([]error, len(texts))

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.cfg.Concurrency)
	for _, chunk := range lo.Chunk(pending, g.cfg.BatchSize) {
		chunk := chunk
		grp.Go(func() error {
			vecs, err := g.call(gctx, pick(texts, chunk))
			if err == nil {
				for i, idx := range chunk {
					out[idx] = vecs[i]
				}
				return nil
			}
			if errors.Is(err, domain.ErrDimensionMismatch) {
				return err
			}

			g.logger.Warn().Err(err).Int("batch_size", len(chunk)).Msg("Embedding batch failed, retrying items individually")
			for _, idx := range chunk {
				vecs, err := g.call(gctx, []string{texts[idx]})
				if err != nil {
					if errors.Is(err, domain.ErrDimensionMismatch) {
						return err
					}
					errs[idx] = err
					continue
				}
				out[idx] = vecs[0]
			}
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		for i := range errs {
			if out[i] == nil && errs[i] == nil {
				errs[i] = err
			}
		}
	}

	if lo.EveryBy(errs, func(e error) bool { return e == nil }) {
		return out, nil
	}
	return out, errs
}

// prepare allocates the output, fills zero vectors for blank texts and
// returns the indices that still need the provider.
func (g *Gateway) prepare(texts []string) ([][]float32, []int) {
	out := make([][]float32, len(texts))
	pending := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = make([]float32, g.Dimension())
			continue
		}
		pending = append(pending, i)
	}
	return out, pending
}

// call performs one rate-limited, time-bounded provider call and validates
// the result shape.
func (g *Gateway) call(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, domain.EmbeddingUnavailableError("rate limiter", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	vecs, err := g.provider.Embed(callCtx, texts)
	if err != nil {
		return nil, domain.EmbeddingUnavailableError(fmt.Sprintf("embed %d texts", len(texts)), err)
	}
	if len(vecs) != len(texts) {
		return nil, domain.EmbeddingUnavailableError(fmt.Sprintf("provider returned %d vectors for %d texts", len(vecs), len(texts)), nil)
	}

	dim := g.Dimension()
	for i, v := range vecs {
		if len(v) != dim {
			return nil, domain.ConfigError("embedding provider",
				fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, dim, len(v)))
		}
		vecs[i] = Normalize(v)
	}

	g.logger.Debug().Int("texts", len(texts)).Dur("elapsed", time.Since(start)).Msg("Embedded batch")
	return vecs, nil
}

func pick(texts []string, idx []int) []string {
	return lo.Map(idx, func(i int, _ int) string { return texts[i] })
}
