package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ratelimitd/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_counters (
	key TEXT PRIMARY KEY,
	tokens DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_refill_ns BIGINT NOT NULL DEFAULT 0,
	window_id BIGINT NOT NULL DEFAULT 0,
	current_count BIGINT NOT NULL DEFAULT 0,
	previous_count BIGINT NOT NULL DEFAULT 0,
	expires_at_ns BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rate_limit_counters_expires ON rate_limit_counters (expires_at_ns);
`

const postgresSelectForUpdate = `SELECT tokens, last_refill_ns, window_id, current_count, previous_count
	 FROM rate_limit_counters WHERE key = $1 FOR UPDATE`

// PostgresStore keeps counter state in postgres, shared by all service
// replicas. Each decision locks its key's row with SELECT ... FOR UPDATE, so
// concurrent decisions for one key serialize on the row lock while other
// keys proceed on their own rows. A key's first decision claims the row with
// an insert before deciding, since a missing row gives FOR UPDATE nothing to
// lock.
type PostgresStore struct {
	pool        *pgxpool.Pool
	ttlMultiple int
}

// NewPostgresStore connects to postgres and ensures the schema exists.
func NewPostgresStore(cfg models.DatabaseConfig, ttlMultiple int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: pinging postgres: %v", ErrUnavailable, err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating postgres schema: %w", err)
	}

	return &PostgresStore{pool: pool, ttlMultiple: ttlMultiple}, nil
}

func (s *PostgresStore) Apply(ctx context.Context, key string, policy models.Policy, now time.Time, cost int64) (models.CounterState, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.CounterState{}, false, fmt.Errorf("%w: beginning transaction: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var (
		prev         models.CounterState
		lastRefillNs int64
		found        = true
	)
	row := tx.QueryRow(ctx, postgresSelectForUpdate, key)
	err = row.Scan(&prev.Tokens, &lastRefillNs, &prev.WindowID, &prev.CurrentCount, &prev.PreviousCount)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// FOR UPDATE on a missing row locks nothing, so concurrent first
		// requests for a key would each read an absent state and overwrite
		// one another's upserts. Materialize the row before deciding: the
		// winning insert holds the row lock for the rest of the
		// transaction, and a losing insert blocks on the unique index
		// until the winner commits, then affects zero rows and re-reads
		// the committed state under the row lock.
		tag, insErr := tx.Exec(ctx,
			`INSERT INTO rate_limit_counters (key, expires_at_ns) VALUES ($1, $2)
			 ON CONFLICT (key) DO NOTHING`,
			key, now.Add(idleTTL(policy, s.ttlMultiple)).UnixNano())
		if insErr != nil {
			return models.CounterState{}, false, fmt.Errorf("%w: claiming counter row: %v", ErrUnavailable, insErr)
		}
		if tag.RowsAffected() > 0 {
			found = false
			break
		}
		row = tx.QueryRow(ctx, postgresSelectForUpdate, key)
		if err := row.Scan(&prev.Tokens, &lastRefillNs, &prev.WindowID, &prev.CurrentCount, &prev.PreviousCount); err != nil {
			return models.CounterState{}, false, fmt.Errorf("%w: reloading counter state: %v", ErrUnavailable, err)
		}
		prev.LastRefill = time.Unix(0, lastRefillNs)
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
	_, err = tx.Exec(ctx,
		`INSERT INTO rate_limit_counters (key, tokens, last_refill_ns, window_id, current_count, previous_count, expires_at_ns)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (key) DO UPDATE SET
			tokens = EXCLUDED.tokens,
			last_refill_ns = EXCLUDED.last_refill_ns,
			window_id = EXCLUDED.window_id,
			current_count = EXCLUDED.current_count,
			previous_count = EXCLUDED.previous_count,
			expires_at_ns = EXCLUDED.expires_at_ns`,
		key, next.Tokens, next.LastRefill.UnixNano(), next.WindowID, next.CurrentCount, next.PreviousCount, expiresAt.UnixNano())
	if err != nil {
		return models.CounterState{}, false, fmt.Errorf("%w: persisting counter state: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.CounterState{}, false, fmt.Errorf("%w: committing decision: %v", ErrUnavailable, err)
	}
	return next, allowed, nil
}

// DeleteExpired purges counter rows whose idle TTL passed before the given
// time.
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rate_limit_counters WHERE expires_at_ns < $1`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("deleting expired counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
