// Package postgres persists delivered records into a Postgres table, upserted
// by identity key so redelivery of the same batch is harmless.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skumap/shelfcrawler/internal/catalog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for product rows.
type Config struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Table           string        `mapstructure:"table" yaml:"table"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink writes product rows into Postgres.
type Sink struct {
	pool  execCloser
	table string
	now   func() time.Time
}

// New creates a Postgres-backed Sink using the provided config.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newWithPool(pool, cfg.Table)
}

// NewWithPool constructs a Sink from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newWithPool(pool, table)
}

func newWithPool(pool execCloser, table string) (*Sink, error) {
	if table == "" {
		table = "products"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Sink{pool: pool, table: table, now: time.Now}, nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// DeliverRecords upserts each record by its identity key.
func (s *Sink) DeliverRecords(ctx context.Context, records []catalog.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres sink is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	identity,
	retailer_id,
	external_id,
	title,
	price,
	url,
	category,
	harvested_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (identity) DO UPDATE SET
	title = EXCLUDED.title,
	price = EXCLUDED.price,
	url = EXCLUDED.url,
	category = EXCLUDED.category,
	harvested_at = EXCLUDED.harvested_at`, s.table)

	now := s.now().UTC()
	for _, rec := range records {
		row := rowFor(rec)
		if _, err := s.pool.Exec(ctx, query,
			rec.Identity(),
			row.RetailerID,
			row.ExternalID,
			row.Title,
			row.Price,
			rec.RecordURL(),
			row.Category,
			now,
		); err != nil {
			return fmt.Errorf("upsert record %s: %w", rec.Identity(), err)
		}
	}
	return nil
}

// rowFor extracts the product columns. URL-only records fill just the URL
// column; everything else stays empty.
func rowFor(rec catalog.Record) catalog.ProductRecord {
	if p, ok := rec.(catalog.ProductRecord); ok {
		return p
	}
	return catalog.ProductRecord{URL: rec.RecordURL()}
}
