// Package storage provides the SQL catalog store for the Shop Engine.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// OpenConfig holds connection settings for Open.
type OpenConfig struct {
	Driver          string // sqlite or postgres
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	JournalMode     string
}

// Open opens and pings the catalog database.
func Open(ctx context.Context, cfg OpenConfig) (*sql.DB, error) {
	driverName, err := sqlDriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" && cfg.JournalMode != "" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode="+cfg.JournalMode); err != nil {
			db.Close()
			return nil, fmt.Errorf("set journal mode: %w", err)
		}
	}

	return db, nil
}

func sqlDriverName(driver string) (string, error) {
	switch driver {
	case "sqlite":
		return "sqlite3", nil
	case "postgres":
		return "postgres", nil
	}
	return "", fmt.Errorf("unsupported database driver: %s", driver)
}

// StatementBuilder returns a squirrel builder with the driver's placeholder style.
func StatementBuilder(driver string) sq.StatementBuilderType {
	if driver == "postgres" {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// Migrate applies embedded migrations that have not been recorded yet.
func Migrate(ctx context.Context, db DB, driver string) ([]string, error) {
	if err := ensureSchemaMigrationsTable(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	sb := StatementBuilder(driver)
	var applied []string
	for _, file := range files {
		version := strings.TrimSuffix(strings.TrimPrefix(file, "migrations/"), ".sql")

		query, args, err := sb.Select("COUNT(*)").From("schema_migrations").Where(sq.Eq{"version": version}).ToSql()
		if err != nil {
			return applied, err
		}
		var n int
		if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", version, err)
		}
		if n > 0 {
			continue
		}

		body, err := migrationFS.ReadFile(file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", version, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return applied, fmt.Errorf("run migration %s: %w", version, err)
		}

		query, args, err = sb.Insert("schema_migrations").Columns("version", "applied_at").Values(version, time.Now().UTC()).ToSql()
		if err != nil {
			return applied, err
		}
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return applied, fmt.Errorf("record migration %s: %w", version, err)
		}
		applied = append(applied, version)
	}

	return applied, nil
}

func ensureSchemaMigrationsTable(ctx context.Context, db DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)
	`
	_, err := db.ExecContext(ctx, query)
	return err
}
