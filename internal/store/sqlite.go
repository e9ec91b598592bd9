package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ratelimitd/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_counters (
	key TEXT PRIMARY KEY,
	tokens REAL NOT NULL DEFAULT 0,
	last_refill_ns INTEGER NOT NULL DEFAULT 0,
	window_id INTEGER NOT NULL DEFAULT 0,
	current_count INTEGER NOT NULL DEFAULT 0,
	previous_count INTEGER NOT NULL DEFAULT 0,
	expires_at_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rate_limit_counters_expires ON rate_limit_counters(expires_at_ns);
`

// SQLiteStore keeps counter state in a sqlite database. Each decision runs in
// an immediate transaction, which takes the database write lock up front and
// serializes the read-compute-write cycle against other writers. Suitable for
// single-host deployments that need counters to survive restarts.
type SQLiteStore struct {
	db          *sql.DB
	ttlMultiple int
}

// NewSQLiteStore opens the database and ensures the schema exists.
func NewSQLiteStore(cfg models.DatabaseConfig, ttlMultiple int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging sqlite database: %v", ErrUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db, ttlMultiple: ttlMultiple}, nil
}

// sqliteDSN makes writers take the database lock at BEGIN and wait for it
// instead of failing fast with SQLITE_BUSY.
func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "_txlock") {
		dsn += sep + "_txlock=immediate"
		sep = "&"
	}
	if !strings.Contains(dsn, "busy_timeout") {
		dsn += sep + "_pragma=busy_timeout(5000)"
	}
	return dsn
}

func (s *SQLiteStore) Apply(ctx context.Context, key string, policy models.Policy, now time.Time, cost int64) (models.CounterState, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.CounterState{}, false, fmt.Errorf("%w: beginning transaction: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var (
		prev         models.CounterState
		lastRefillNs int64
		found        = true
	)
	row := tx.QueryRowContext(ctx,
		`SELECT tokens, last_refill_ns, window_id, current_count, previous_count
		 FROM rate_limit_counters WHERE key = ?`, key)
	err = row.Scan(&prev.Tokens, &lastRefillNs, &prev.WindowID, &prev.CurrentCount, &prev.PreviousCount)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		found = false
	case err != nil:
		return models.CounterState{}, false, fmt.Errorf("%w: loading counter state: %v", ErrUnavailable, err)
	default:
		prev.LastRefill = time.Unix(0, lastRefillNs)
	}

	next, allowed, err := transition(prev, found, policy, now, cost)
	if err != nil {
		return models.CounterState{}, false, err
	}

	expiresAt := now.Add(idleTTL(policy, s.ttlMultiple))
	_, err = tx.ExecContext(ctx,
		`INSERT INTO rate_limit_counters (key, tokens, last_refill_ns, window_id, current_count, previous_count, expires_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			tokens = excluded.tokens,
			last_refill_ns = excluded.last_refill_ns,
			window_id = excluded.window_id,
			current_count = excluded.current_count,
			previous_count = excluded.previous_count,
			expires_at_ns = excluded.expires_at_ns`,
		key, next.Tokens, next.LastRefill.UnixNano(), next.WindowID, next.CurrentCount, next.PreviousCount, expiresAt.UnixNano())
	if err != nil {
		return models.CounterState{}, false, fmt.Errorf("%w: persisting counter state: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return models.CounterState{}, false, fmt.Errorf("%w: committing decision: %v", ErrUnavailable, err)
	}
	return next, allowed, nil
}

// DeleteExpired purges counter rows whose idle TTL passed before the given
// time. Callers run this periodically; decisions never depend on it.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limit_counters WHERE expires_at_ns < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("deleting expired counters: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
