// Package config provides unified configuration loading for the Shop Engine.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the Shop Engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Index         IndexConfig         `yaml:"index"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Ranking       RankingConfig       `yaml:"ranking"`
	Budget        BudgetConfig        `yaml:"budget"`
	Generator     GeneratorConfig     `yaml:"generator"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Cart          CartConfig          `yaml:"cart"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	APIKey           string        `yaml:"api_key"` // empty disables auth
}

// DatabaseConfig holds catalog database settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// IndexConfig holds product index settings.
type IndexConfig struct {
	Backend  string         `yaml:"backend"` // memory, chromem or pgvector
	Timeout  time.Duration  `yaml:"timeout"`
	PGVector PGVectorConfig `yaml:"pgvector"`
}

// PGVectorConfig holds pgvector-specific settings.
type PGVectorConfig struct {
	DSN         string `yaml:"dsn"`
	TablePrefix string `yaml:"table_prefix"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"` // openrouter or mock
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Dimension   int           `yaml:"dimension"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RateLimit   float64       `yaml:"rate_limit"` // requests per second, 0 disables
}

// RankingConfig holds scorer and engine settings.
type RankingConfig struct {
	VectorWeight   float64  `yaml:"vector_weight"`
	KeywordWeight  float64  `yaml:"keyword_weight"`
	PriceWeight    float64  `yaml:"price_weight"`
	HeadroomFactor int      `yaml:"headroom_factor"`
	MaxLimit       int      `yaml:"max_limit"`
	ExtraStopwords []string `yaml:"extra_stopwords"`
}

// BudgetConfig holds budget classification settings.
type BudgetConfig struct {
	WarningLow     float64 `yaml:"warning_low"`
	WarningMedium  float64 `yaml:"warning_medium"`
	WarningHigh    float64 `yaml:"warning_high"`
	Currency       string  `yaml:"currency"`
	MaxSuggestions int     `yaml:"max_suggestions"`
}

// GeneratorConfig holds comparison text generation settings.
type GeneratorConfig struct {
	Enabled bool          `yaml:"enabled"`
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// IngestionConfig holds ingestion pipeline settings.
type IngestionConfig struct {
	PriceTolerance       float64 `yaml:"price_tolerance"`
	MaxDescriptionLength int     `yaml:"max_description_length"`
	Persist              bool    `yaml:"persist"`
}

// CartConfig holds cart session settings.
type CartConfig struct {
	Store      string        `yaml:"store"` // memory or redis
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// ObservabilityConfig holds logging and tracing settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads .env files from the working directory and its parents.
// Missing files are ignored; variables already set win.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	_ = godotenv.Load("../../.env")
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			AllowedOrigins:   []string{"*"},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/shop-engine.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Index: IndexConfig{
			Backend: "memory",
			Timeout: 5 * time.Second,
			PGVector: PGVectorConfig{
				TablePrefix: "product_vectors",
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        5 * time.Minute,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:    "mock",
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "google/gemini-embedding-001",
			Dimension:   768,
			BatchSize:   64,
			Concurrency: 4,
			Timeout:     15 * time.Second,
			MaxRetries:  3,
			RateLimit:   10,
		},
		Ranking: RankingConfig{
			VectorWeight:   0.60,
			KeywordWeight:  0.25,
			PriceWeight:    0.15,
			HeadroomFactor: 5,
			MaxLimit:       100,
		},
		Budget: BudgetConfig{
			WarningLow:     75,
			WarningMedium:  85,
			WarningHigh:    95,
			Currency:       "TND",
			MaxSuggestions: 5,
		},
		Generator: GeneratorConfig{
			Enabled: false,
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-4o-mini",
			Timeout: 10 * time.Second,
		},
		Ingestion: IngestionConfig{
			PriceTolerance:       0.01,
			MaxDescriptionLength: 500,
			Persist:              true,
		},
		Cart: CartConfig{
			Store:      "memory",
			SessionTTL: 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "shop-engine",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	switch c.Index.Backend {
	case "memory", "chromem":
	case "pgvector":
		if c.PGVectorDSN() == "" {
			return fmt.Errorf("pgvector backend requires a postgres dsn")
		}
	default:
		return fmt.Errorf("invalid index backend: %s", c.Index.Backend)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Cart.Store != "memory" && c.Cart.Store != "redis" {
		return fmt.Errorf("invalid cart store: %s", c.Cart.Store)
	}

	if c.Embedding.Provider != "openrouter" && c.Embedding.Provider != "mock" {
		return fmt.Errorf("invalid embedding provider: %s", c.Embedding.Provider)
	}
	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("embedding batch_size must be positive")
	}

	w := c.Ranking
	if w.VectorWeight < 0 || w.KeywordWeight < 0 || w.PriceWeight < 0 {
		return fmt.Errorf("ranking weights must be non-negative")
	}
	if sum := w.VectorWeight + w.KeywordWeight + w.PriceWeight; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("ranking weights must sum to 1, got %.4f", sum)
	}
	if w.HeadroomFactor < 1 {
		return fmt.Errorf("headroom_factor must be at least 1")
	}

	b := c.Budget
	if !(0 < b.WarningLow && b.WarningLow < b.WarningMedium && b.WarningMedium < b.WarningHigh && b.WarningHigh <= 100) {
		return fmt.Errorf("budget thresholds must satisfy 0 < warning_low < warning_medium < warning_high <= 100")
	}

	if c.Ingestion.PriceTolerance < 0 || c.Ingestion.PriceTolerance >= 1 {
		return fmt.Errorf("price_tolerance must be in [0, 1)")
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// PGVectorDSN returns the pgvector DSN, falling back to the catalog database.
func (c *Config) PGVectorDSN() string {
	if c.Index.PGVector.DSN != "" {
		return c.Index.PGVector.DSN
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("SHOP_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cart.Store = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("INDEX_BACKEND"); v != "" {
		cfg.Index.Backend = v
	}

	if v := os.Getenv("PGVECTOR_URL"); v != "" {
		cfg.Index.PGVector.DSN = v
	}

	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
		cfg.Embedding.Provider = "openrouter"
		if cfg.Generator.APIKey == "" {
			cfg.Generator.APIKey = v
		}
	}

	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("EMBEDDING_DIMENSION"); v != "" {
		if dim, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimension = dim
		}
	}

	if v := os.Getenv("GENERATOR_MODEL"); v != "" {
		cfg.Generator.Model = v
		cfg.Generator.Enabled = true
	}

	if v := os.Getenv("BUDGET_CURRENCY"); v != "" {
		cfg.Budget.Currency = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		cfg.Observability.ServiceName = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
