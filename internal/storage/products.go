package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

var productColumns = []string{
	"id", "name", "description", "category", "brand", "price",
	"image_url", "source_url", "market", "updated_at",
}

// ProductRepository persists the accepted catalog. It is also the corpus
// provider used to rebuild the index on startup.
type ProductRepository struct {
	db DB
	sb sq.StatementBuilderType
}

// NewProductRepository creates a new product repository for the given driver.
func NewProductRepository(db DB, driver string) *ProductRepository {
	return &ProductRepository{db: db, sb: StatementBuilder(driver)}
}

// Upsert inserts or updates products by ID.
func (r *ProductRepository) Upsert(ctx context.Context, products []domain.Product) error {
	now := time.Now().UTC()
	for _, p := range products {
		query, args, err := r.sb.Insert("products").
			Columns(productColumns...).
			Values(p.ID, p.Name, p.Description, p.Category, p.Brand, p.Price,
				p.ImageURL, p.SourceURL, p.Market, now).
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				name = excluded.name, description = excluded.description,
				category = excluded.category, brand = excluded.brand,
				price = excluded.price, image_url = excluded.image_url,
				source_url = excluded.source_url, market = excluded.market,
				updated_at = excluded.updated_at`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build upsert: %w", err)
		}
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
	}
	return nil
}

// ReplaceAll swaps the stored catalog for products.
func (r *ProductRepository) ReplaceAll(ctx context.Context, products []domain.Product) error {
	if err := r.DeleteAll(ctx); err != nil {
		return err
	}
	return r.Upsert(ctx, products)
}

// GetByID retrieves a product by ID.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	query, args, err := r.sb.Select(productColumns...).From("products").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	p := &domain.Product{}
	err = r.db.QueryRowContext(ctx, query, args...).Scan(productFields(p)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return p, nil
}

// List returns all products ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]domain.Product, error) {
	query, args, err := r.sb.Select(productColumns...).From("products").OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(productFields(&p)...); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Count returns the number of stored products.
func (r *ProductRepository) Count(ctx context.Context) (int, error) {
	query, args, err := r.sb.Select("COUNT(*)").From("products").ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// Delete removes products by ID.
func (r *ProductRepository) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := r.sb.Delete("products").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete products: %w", err)
	}
	return nil
}

// DeleteAll removes every product.
func (r *ProductRepository) DeleteAll(ctx context.Context) error {
	query, args, err := r.sb.Delete("products").ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete products: %w", err)
	}
	return nil
}

func productFields(p *domain.Product) []interface{} {
	return []interface{}{
		&p.ID, &p.Name, &p.Description, &p.Category, &p.Brand, &p.Price,
		&p.ImageURL, &p.SourceURL, &p.Market, &p.UpdatedAt,
	}
}

// IngestRun is the persisted summary of an ingestion run.
type IngestRun struct {
	RunID          string    `json:"run_id" db:"run_id"`
	Source         string    `json:"source" db:"source"`
	Accepted       int       `json:"accepted" db:"accepted"`
	Skipped        int       `json:"skipped" db:"skipped"`
	DuplicateCount int       `json:"duplicate_count" db:"duplicate_count"`
	EmbedFailures  int       `json:"embed_failures" db:"embed_failures"`
	StartedAt      time.Time `json:"started_at" db:"started_at"`
	FinishedAt     time.Time `json:"finished_at" db:"finished_at"`
}

// IngestRunRepository records ingestion runs.
type IngestRunRepository struct {
	db DB
	sb sq.StatementBuilderType
}

// NewIngestRunRepository creates a new ingestion run repository.
func NewIngestRunRepository(db DB, driver string) *IngestRunRepository {
	return &IngestRunRepository{db: db, sb: StatementBuilder(driver)}
}

// Create records a finished run.
func (r *IngestRunRepository) Create(ctx context.Context, run *IngestRun) error {
	query, args, err := r.sb.Insert("ingest_runs").
		Columns("run_id", "source", "accepted", "skipped", "duplicate_count", "embed_failures", "started_at", "finished_at").
		Values(run.RunID, run.Source, run.Accepted, run.Skipped, run.DuplicateCount, run.EmbedFailures, run.StartedAt, run.FinishedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// Latest returns the most recent run.
func (r *IngestRunRepository) Latest(ctx context.Context) (*IngestRun, error) {
	query, args, err := r.sb.
		Select("run_id", "source", "accepted", "skipped", "duplicate_count", "embed_failures", "started_at", "finished_at").
		From("ingest_runs").OrderBy("finished_at DESC").Limit(1).ToSql()
	if err != nil {
		return nil, err
	}

	run := &IngestRun{}
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&run.RunID, &run.Source, &run.Accepted, &run.Skipped,
		&run.DuplicateCount, &run.EmbedFailures, &run.StartedAt, &run.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}
