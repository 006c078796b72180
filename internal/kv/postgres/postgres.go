// Package postgres provides the "postgres" kv driver.
package postgres

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/bosstimer/internal/clock"
	"github.com/jensholdgaard/bosstimer/internal/config"
	"github.com/jensholdgaard/bosstimer/internal/kv"
	"github.com/jensholdgaard/bosstimer/internal/kv/sqlkv"
)

func init() {
	kv.Register("postgres", func(ctx context.Context, cfg config.StorageConfig) (kv.Backend, error) {
		db, err := Connect(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, err
		}
		return New(ctx, db, cfg.Postgres.Table, clock.Real{})
	})
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := otelsql.Open("postgres", dsn,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres database: %w", err)
	}

	// The otelsql wrapper hides the driver name, so name it for placeholder
	// rebinding.
	return sqlx.NewDb(db, "postgres"), nil
}

// New wraps db as a kv.Backend on table, creating the table if needed.
// The Backend owns db and closes it on Close.
func New(ctx context.Context, db *sqlx.DB, table string, clk clock.Clock) (*sqlkv.Store, error) {
	s, err := sqlkv.New(db, table, clk)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
