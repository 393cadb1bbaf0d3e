package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLocker implements Locker with a lease row per key. A lease is
// taken by inserting the key or stealing an expired row; the token fences
// unlock so an expired-and-reacquired lease cannot be released by its
// previous holder.
type PostgresLocker struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgresLocker constructs a PostgresLocker.
func NewPostgresLocker(pool *pgxpool.Pool, opts Options) *PostgresLocker {
	return &PostgresLocker{pool: pool, opts: opts}
}

// Lock acquires the lease for key, retrying with jittered backoff per the
// configured options. It returns ErrNotAcquired once the budget is spent.
func (l *PostgresLocker) Lock(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	if err := acquireWithRetry(ctx, l, l.opts, key, token, ttl); err != nil {
		return nil, fmt.Errorf("lock %q: %w", key, err)
	}
	return &postgresLease{pool: l.pool, key: key, token: token}, nil
}

func (l *PostgresLocker) tryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	const stmt = `INSERT INTO feed_lock (key, token, expires_at)
        VALUES ($1, $2, now() + $3)
        ON CONFLICT (key) DO UPDATE
            SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
            WHERE feed_lock.expires_at <= now()
        RETURNING token`

	rows, err := l.pool.Query(ctx, stmt, key, token, ttl)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	acquired := rows.Next()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return acquired, nil
}

type postgresLease struct {
	pool  *pgxpool.Pool
	key   string
	token string
}

// Unlock releases the lease. Releasing a lease that already expired and was
// taken over by another holder is a no-op.
func (le *postgresLease) Unlock(ctx context.Context) error {
	_, err := le.pool.Exec(ctx,
		`DELETE FROM feed_lock WHERE key = $1 AND token = $2`,
		le.key, le.token,
	)
	return err
}
