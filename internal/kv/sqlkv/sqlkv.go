// Package sqlkv implements kv.Backend on a single SQL table through sqlx.
// Queries are written with '?' placeholders and rebound for the driver, so
// the same code serves SQLite and Postgres.
package sqlkv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/bosstimer/internal/clock"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is a kv.Backend over one table of (kv_key, kv_value, updated_at).
type Store struct {
	db    *sqlx.DB
	table string
	clock clock.Clock
}

// New returns a Store using table, which must be a plain SQL identifier.
func New(db *sqlx.DB, table string, clk clock.Clock) (*Store, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{db: db, table: table, clock: clk}, nil
}

// EnsureSchema creates the table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		kv_key     TEXT PRIMARY KEY,
		kv_value   TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`, s.table))
	if err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.GetContext(ctx, &v, s.q(`SELECT kv_value FROM %s WHERE kv_key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting key %q: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO %s (kv_key, kv_value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (kv_key) DO UPDATE SET kv_value = excluded.kv_value, updated_at = excluded.updated_at`),
		key, value, s.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting key %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM %s WHERE kv_key = ?`), key); err != nil {
		return fmt.Errorf("deleting key %q: %w", key, err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var err error
	if prefix == "" {
		err = s.db.SelectContext(ctx, &keys, s.q(`SELECT kv_key FROM %s`))
	} else {
		// substr instead of LIKE so '_' and '%' in boss ids stay literal.
		err = s.db.SelectContext(ctx, &keys,
			s.q(`SELECT kv_key FROM %s WHERE substr(kv_key, 1, ?) = ?`),
			utf8.RuneCountInString(prefix), prefix,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM %s`)); err != nil {
		return 0, fmt.Errorf("counting keys: %w", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// q fills in the table name and rebinds placeholders for the driver.
func (s *Store) q(query string) string {
	return s.db.Rebind(fmt.Sprintf(query, s.table))
}
