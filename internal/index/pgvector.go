package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	sq "github.com/Masterminds/squirrel"
	"github.com/pgvector/pgvector-go"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/storage"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

var pgProductColumns = []string{
	"id", "name", "description", "category", "brand", "price", "image_url", "source_url", "market",
}

// PGVectorIndex stores products and embeddings in a Postgres table using the
// pgvector extension. Each generation of the catalog gets its own table.
type PGVectorIndex struct {
	db        storage.DB
	sb        sq.StatementBuilderType
	table     string
	dimension int
}

// NewPGVectorIndex creates the backing table if needed.
func NewPGVectorIndex(ctx context.Context, db storage.DB, table string, dimension int) (*PGVectorIndex, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, domain.ConfigError(fmt.Sprintf("invalid pgvector table name %q", table), nil)
	}
	if dimension < 1 {
		return nil, domain.ConfigError("pgvector dimension must be positive", nil)
	}

	idx := &PGVectorIndex{
		db:        db,
		sb:        sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		table:     table,
		dimension: dimension,
	}

	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, domain.IndexUnavailableError("create vector extension", err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category    TEXT NOT NULL DEFAULT '',
			brand       TEXT NOT NULL DEFAULT '',
			price       DOUBLE PRECISION NOT NULL,
			image_url   TEXT NOT NULL DEFAULT '',
			source_url  TEXT NOT NULL DEFAULT '',
			market      TEXT NOT NULL DEFAULT '',
			embedding   vector(%d) NOT NULL
		)`, table, dimension)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, domain.IndexUnavailableError("create vector table", err)
	}

	return idx, nil
}

// Table returns the backing table name.
func (p *PGVectorIndex) Table() string {
	return p.table
}

// Upsert inserts or replaces rows by ID.
func (p *PGVectorIndex) Upsert(ctx context.Context, entries []Entry) error {
	if err := validateEntries(p.dimension, entries); err != nil {
		return err
	}

	for _, e := range entries {
		pr := e.Product
		query, args, err := p.sb.Insert(p.table).
			Columns(append(pgProductColumns, "embedding")...).
			Values(pr.ID, pr.Name, pr.Description, pr.Category, pr.Brand, pr.Price,
				pr.ImageURL, pr.SourceURL, pr.Market, pgvector.NewVector(e.Vector)).
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, description = EXCLUDED.description,
				category = EXCLUDED.category, brand = EXCLUDED.brand,
				price = EXCLUDED.price, image_url = EXCLUDED.image_url,
				source_url = EXCLUDED.source_url, market = EXCLUDED.market,
				embedding = EXCLUDED.embedding`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build upsert: %w", err)
		}
		if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
			return domain.IndexUnavailableError("pgvector upsert "+pr.ID, err)
		}
	}
	return nil
}

// Delete removes rows by ID.
func (p *PGVectorIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := p.sb.Delete(p.table).Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return domain.IndexUnavailableError("pgvector delete", err)
	}
	return nil
}

// DeleteAll truncates the table.
func (p *PGVectorIndex) DeleteAll(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "TRUNCATE TABLE "+p.table); err != nil {
		return domain.IndexUnavailableError("pgvector truncate", err)
	}
	return nil
}

// Query orders by cosine distance (<=>) with ID as tie-break. Filters are
// pushed down into SQL.
func (p *PGVectorIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := validateQuery(p.dimension, vector, topK); err != nil {
		return nil, err
	}

	builder := p.sb.Select(pgProductColumns...).From(p.table)
	if isZero(vector) {
		// pgvector yields NaN for a zero operand; treat every row as orthogonal.
		builder = builder.Column("1.0::float8 AS distance")
	} else {
		builder = builder.Column(sq.Expr("(embedding <=> ?)::float8 AS distance", pgvector.NewVector(vector)))
	}
	if filter.MinPrice != nil {
		builder = builder.Where(sq.GtOrEq{"price": *filter.MinPrice})
	}
	if filter.MaxPrice != nil {
		builder = builder.Where(sq.LtOrEq{"price": *filter.MaxPrice})
	}
	if filter.Category != "" {
		builder = builder.Where("LOWER(category) = LOWER(?)", filter.Category)
	}
	if filter.Brand != "" {
		builder = builder.Where("LOWER(brand) = LOWER(?)", filter.Brand)
	}

	query, args, err := builder.OrderBy("distance ASC", "id ASC").Limit(uint64(topK)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.IndexUnavailableError("pgvector query", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var pr domain.Product
		var distance float64
		if err := rows.Scan(append(pgProductFields(&pr), &distance)...); err != nil {
			return nil, domain.IndexUnavailableError("pgvector scan", err)
		}
		matches = append(matches, Match{Product: pr, Similarity: NormalizeCosine(1 - distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.IndexUnavailableError("pgvector rows", err)
	}

	sortMatches(matches)
	return matches, nil
}

// Get returns a product by ID.
func (p *PGVectorIndex) Get(ctx context.Context, id string) (domain.Product, error) {
	query, args, err := p.sb.Select(pgProductColumns...).From(p.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Product{}, err
	}

	var pr domain.Product
	err = p.db.QueryRowContext(ctx, query, args...).Scan(pgProductFields(&pr)...)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ProductNotFoundError(id)
	}
	if err != nil {
		return domain.Product{}, domain.IndexUnavailableError("pgvector get", err)
	}
	return pr, nil
}

// All returns every product ordered by ID.
func (p *PGVectorIndex) All(ctx context.Context) ([]domain.Product, error) {
	query, args, err := p.sb.Select(pgProductColumns...).From(p.table).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.IndexUnavailableError("pgvector list", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var pr domain.Product
		if err := rows.Scan(pgProductFields(&pr)...); err != nil {
			return nil, domain.IndexUnavailableError("pgvector scan", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// Count returns the number of rows.
func (p *PGVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+p.table).Scan(&n); err != nil {
		return 0, domain.IndexUnavailableError("pgvector count", err)
	}
	return n, nil
}

// Dimension returns the accepted vector length.
func (p *PGVectorIndex) Dimension() int {
	return p.dimension
}

// Close is a no-op; the connection pool is owned by the caller.
func (p *PGVectorIndex) Close() error {
	return nil
}

// Discard drops the generation's table.
func (p *PGVectorIndex) Discard(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+p.table); err != nil {
		return domain.IndexUnavailableError("pgvector drop", err)
	}
	return nil
}

func pgProductFields(p *domain.Product) []interface{} {
	return []interface{}{
		&p.ID, &p.Name, &p.Description, &p.Category, &p.Brand, &p.Price,
		&p.ImageURL, &p.SourceURL, &p.Market,
	}
}
