// Package ingest provides the catalog ingestion pipeline for the shop engine.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/index"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/storage"
)

// VectorEmbedder embeds texts and reports failures per text.
type VectorEmbedder interface {
	EmbedEach(ctx context.Context, texts []string) ([][]float32, []error)
	Dimension() int
}

// Pipeline orchestrates catalog ingestion: normalize, dedupe, embed, build a
// fresh index generation, swap it in and persist the accepted catalog.
// Runs are serialized; readers keep using the previous generation until the
// swap.
type Pipeline struct {
	logger   *observability.Logger
	config   PipelineConfig
	embedder VectorEmbedder
	handle   *index.Handle
	build    index.Builder
	products *storage.ProductRepository
	runs     *storage.IngestRunRepository

	mu sync.Mutex
}

// PipelineConfig holds pipeline configuration.
type PipelineConfig struct {
	PriceTolerance       float64
	MaxDescriptionLength int
	Persist              bool
}

// NewPipeline creates a new ingestion pipeline. products and runs may be nil
// when the catalog is not persisted.
func NewPipeline(
	logger *observability.Logger,
	cfg PipelineConfig,
	embedder VectorEmbedder,
	handle *index.Handle,
	build index.Builder,
	products *storage.ProductRepository,
	runs *storage.IngestRunRepository,
) *Pipeline {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.PriceTolerance <= 0 {
		cfg.PriceTolerance = DefaultPriceTolerance
	}
	if cfg.MaxDescriptionLength <= 0 {
		cfg.MaxDescriptionLength = DefaultMaxDescriptionLength
	}
	return &Pipeline{
		logger:   logger,
		config:   cfg,
		embedder: embedder,
		handle:   handle,
		build:    build,
		products: products,
		runs:     runs,
	}
}

// Ingest replaces the live catalog with records. Malformed records and
// records whose embedding failed are skipped and reported; they never abort
// the run. The run fails, leaving the live index and stored catalog
// untouched, when no record is valid, when every valid record failed to
// embed, or when the new generation cannot be built.
func (p *Pipeline) Ingest(ctx context.Context, source string, records []domain.RawProductRecord) (report *domain.IngestReport, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	runID := uuid.New()
	startTime := time.Now()

	ctx, span := observability.StartSpan(ctx, "ingest.Ingest",
		attribute.String("run_id", runID.String()),
		attribute.Int("records", len(records)))
	defer func() { observability.EndSpan(span, err) }()

	report = &domain.IngestReport{RunID: runID.String()}
	logger := p.logger.WithOperation("ingest").WithRun(report.RunID)

	logger.Info().
		Str("source", source).
		Int("records", len(records)).
		Msg("Starting ingestion run")

	// Step 1: Validate and normalize records
	products := make([]domain.Product, 0, len(records))
	for i, rec := range records {
		product, nerr := Normalize(rec, p.config.MaxDescriptionLength)
		if nerr != nil {
			report.Skipped++
			report.Errors = append(report.Errors, fmt.Sprintf("record %d: %v", i+1, nerr))
			continue
		}
		products = append(products, product)
	}

	// Step 2: Collapse near-duplicates, then ID collisions
	products, dropped := DedupeWithTolerance(products, p.config.PriceTolerance)
	unique := lo.UniqBy(products, func(pr domain.Product) string { return pr.ID })
	report.DuplicateCount = dropped + len(products) - len(unique)
	products = unique
	if len(products) == 0 {
		err = domain.ValidationError(
			fmt.Sprintf("no valid records in batch (%d skipped)", report.Skipped), nil)
		return report, err
	}

	// Step 3: Embed, skipping records whose embedding failed
	entries, failures, err := p.embed(ctx, products)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report, err
	}
	for _, f := range failures {
		report.Skipped++
		report.EmbedFailures++
		report.Errors = append(report.Errors, f)
	}
	if len(entries) == 0 && report.EmbedFailures > 0 {
		err = domain.EmbeddingUnavailableError(
			fmt.Sprintf("all %d products failed to embed", report.EmbedFailures), nil)
		return report, err
	}

	// Step 4: Build the new generation and swap it in
	if err = p.publish(ctx, entries); err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report, err
	}
	report.Accepted = len(entries)

	// Step 5: Persist the accepted catalog and the run summary
	if p.config.Persist {
		p.persist(ctx, logger, source, startTime, report, entries)
	}

	report.Duration = time.Since(startTime)

	logger.Info().
		Int("accepted", report.Accepted).
		Int("skipped", report.Skipped).
		Int("duplicates", report.DuplicateCount).
		Int("embed_failures", report.EmbedFailures).
		Dur("duration", report.Duration).
		Msg("Ingestion run completed")

	return report, nil
}

// IngestRecords maps source records and ingests them.
func IngestRecords[T Record](ctx context.Context, p *Pipeline, source string, records []T) (*domain.IngestReport, error) {
	return p.Ingest(ctx, source, RawRecords(records))
}

// Rebuild re-embeds the persisted catalog into a fresh generation. It is
// used at startup when the index backend does not survive restarts.
func (p *Pipeline) Rebuild(ctx context.Context) (int, error) {
	if p.products == nil {
		return 0, domain.ConfigError("rebuild requires a product repository", nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "ingest.Rebuild")
	var err error
	defer func() { observability.EndSpan(span, err) }()

	products, err := p.products.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(products) == 0 {
		return 0, nil
	}

	entries, failures, err := p.embed(ctx, products)
	if err != nil {
		return 0, err
	}
	for _, f := range failures {
		p.logger.Warn().Str("detail", f).Msg("Skipping product during rebuild")
	}
	if len(entries) == 0 {
		err = domain.EmbeddingUnavailableError("no stored product could be embedded", nil)
		return 0, err
	}

	if err = p.publish(ctx, entries); err != nil {
		return 0, err
	}

	p.logger.Info().Int("products", len(entries)).Int("skipped", len(failures)).Msg("Rebuilt index from stored catalog")
	return len(entries), nil
}

// Remove deletes products from the live index and the stored catalog.
func (p *Pipeline) Remove(ctx context.Context, ids ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.handle.Delete(ctx, ids...); err != nil {
		return err
	}
	if p.products != nil && p.config.Persist {
		if err := p.products.Delete(ctx, ids...); err != nil {
			return fmt.Errorf("delete stored products: %w", err)
		}
	}
	p.logger.Info().Strs("ids", ids).Msg("Removed products")
	return nil
}

// embed returns index entries for every product that embedded to a usable
// vector, plus a description of each product that did not. A dimension
// mismatch is fatal for the whole run.
func (p *Pipeline) embed(ctx context.Context, products []domain.Product) ([]index.Entry, []string, error) {
	if len(products) == 0 {
		return nil, nil, nil
	}

	texts := lo.Map(products, func(pr domain.Product, _ int) string { return pr.EmbeddingText() })
	vectors, errs := p.embedder.EmbedEach(ctx, texts)

	entries := make([]index.Entry, 0, len(products))
	var failures []string
	for i, pr := range products {
		if errs != nil && errs[i] != nil {
			if errors.Is(errs[i], domain.ErrDimensionMismatch) {
				return nil, nil, errs[i]
			}
			p.logger.Warn().Err(errs[i]).Product(pr.ID).Msg("Skipping product, embedding failed")
			failures = append(failures, fmt.Sprintf("product %s: %v", pr.ID, errs[i]))
			continue
		}
		if isZeroVector(vectors[i]) {
			p.logger.Warn().Product(pr.ID).Msg("Skipping product, embedding is a zero vector")
			failures = append(failures, fmt.Sprintf("product %s: zero embedding", pr.ID))
			continue
		}
		entries = append(entries, index.Entry{Product: pr, Vector: vectors[i]})
	}
	return entries, failures, nil
}

// publish builds a new index generation from entries and swaps it in. The
// previous generation is discarded after the swap.
func (p *Pipeline) publish(ctx context.Context, entries []index.Entry) error {
	next, err := p.build(ctx)
	if err != nil {
		return err
	}
	if err := next.Upsert(ctx, entries); err != nil {
		if derr := index.Discard(ctx, next); derr != nil {
			p.logger.Warn().Err(derr).Msg("Failed to discard unfinished index")
		}
		return err
	}

	prev := p.handle.Swap(next)
	if err := index.Discard(ctx, prev); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to discard previous index")
	}

	p.logger.Debug().
		Str("generation", p.handle.Generation()).
		Int("products", len(entries)).
		Msg("Swapped in new index generation")
	return nil
}

// persist stores the accepted catalog and the run. Failures are reported but
// do not undo the swap; the live index is already serving the new catalog.
func (p *Pipeline) persist(ctx context.Context, logger *observability.Logger, source string, started time.Time, report *domain.IngestReport, entries []index.Entry) {
	if p.products != nil {
		products := lo.Map(entries, func(e index.Entry, _ int) domain.Product { return e.Product })
		if err := p.products.ReplaceAll(ctx, products); err != nil {
			logger.Error().Err(err).Msg("Failed to persist catalog")
			report.Errors = append(report.Errors, fmt.Sprintf("persist catalog: %v", err))
		}
	}

	if p.runs != nil {
		run := &storage.IngestRun{
			RunID:          report.RunID,
			Source:         source,
			Accepted:       report.Accepted,
			Skipped:        report.Skipped,
			DuplicateCount: report.DuplicateCount,
			EmbedFailures:  report.EmbedFailures,
			StartedAt:      started.UTC(),
			FinishedAt:     time.Now().UTC(),
		}
		if err := p.runs.Create(ctx, run); err != nil {
			logger.Error().Err(err).Msg("Failed to record ingestion run")
			report.Errors = append(report.Errors, fmt.Sprintf("record run: %v", err))
		}
	}
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
