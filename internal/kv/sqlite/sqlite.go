// Package sqlite provides the "sqlite" kv driver: a single local database
// file, the durable counterpart of browser local storage.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/bosstimer/internal/clock"
	"github.com/jensholdgaard/bosstimer/internal/config"
	"github.com/jensholdgaard/bosstimer/internal/kv"
	"github.com/jensholdgaard/bosstimer/internal/kv/sqlkv"
)

const table = "kv_entries"

func init() {
	kv.Register("sqlite", func(ctx context.Context, cfg config.StorageConfig) (kv.Backend, error) {
		return Open(ctx, cfg.SQLite.Path, clock.Real{})
	})
}

// Open opens (creating if needed) the database file at path.
func Open(ctx context.Context, path string, clk clock.Clock) (*sqlkv.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", filepath.Clean(path))
	db, err := otelsql.Open("sqlite3", dsn,
		otelsql.WithAttributes(semconv.DBSystemSqlite),
	)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// One connection keeps every write on the same handle.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	s, err := sqlkv.New(sqlx.NewDb(db, "sqlite3"), table, clk)
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
