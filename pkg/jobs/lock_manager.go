package jobs

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/iddaa-lens/rds-snapshots/pkg/database"
	"github.com/iddaa-lens/rds-snapshots/pkg/logger"
)

// JobLockManager provides cross-process mutual exclusion for job runs
type JobLockManager interface {
	// AcquireLock attempts to acquire the lock for the given job
	// Returns true if lock was acquired, false if already held elsewhere
	AcquireLock(ctx context.Context, jobName string) (bool, error)

	// ReleaseLock releases the lock for the given job
	ReleaseLock(ctx context.Context, jobName string) error

	// AcquireLockWithTimeout polls for the lock until timeout
	AcquireLockWithTimeout(ctx context.Context, jobName string, timeout time.Duration) (bool, error)
}

// PostgreSQLLockManager implements JobLockManager with PostgreSQL session advisory locks.
// The lock key is derived from namespace and job name, so the same job running
// against two regions does not contend.
type PostgreSQLLockManager struct {
	mu        sync.Mutex
	db        database.DBTX
	namespace string
	logger    *logger.Logger
}

// NewPostgreSQLLockManager creates a lock manager on db, which must be a single session.
// Queries are serialized because a single pgx connection is not safe for concurrent use.
func NewPostgreSQLLockManager(db database.DBTX, namespace string) *PostgreSQLLockManager {
	return &PostgreSQLLockManager{
		db:        db,
		namespace: namespace,
		logger:    logger.New("job-lock-manager"),
	}
}

// LockID returns the advisory lock key for a job
func (p *PostgreSQLLockManager) LockID(jobName string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(p.namespace + "/" + jobName))
	return int64(h.Sum64() &^ (1 << 63))
}

func (p *PostgreSQLLockManager) queryBool(ctx context.Context, query string, lockID int64, dest *bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.QueryRow(ctx, query, lockID).Scan(dest)
}

func (p *PostgreSQLLockManager) AcquireLock(ctx context.Context, jobName string) (bool, error) {
	lockID := p.LockID(jobName)

	var acquired bool
	err := p.queryBool(ctx, "SELECT pg_try_advisory_lock($1)", lockID, &acquired)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("job_name", jobName).
			Int64("lock_id", lockID).
			Str("action", "acquire_lock_failed").
			Msg("Failed to acquire advisory lock")
		return false, fmt.Errorf("failed to acquire lock for job %s: %w", jobName, err)
	}

	if acquired {
		p.logger.Debug().
			Str("job_name", jobName).
			Int64("lock_id", lockID).
			Str("action", "lock_acquired").
			Msg("Acquired advisory lock")
	} else {
		p.logger.Debug().
			Str("job_name", jobName).
			Int64("lock_id", lockID).
			Str("action", "lock_already_held").
			Msg("Lock already held by another run")
	}

	return acquired, nil
}

func (p *PostgreSQLLockManager) ReleaseLock(ctx context.Context, jobName string) error {
	lockID := p.LockID(jobName)

	var released bool
	err := p.queryBool(ctx, "SELECT pg_advisory_unlock($1)", lockID, &released)
	if err != nil {
		return fmt.Errorf("failed to release lock for job %s: %w", jobName, err)
	}

	if !released {
		p.logger.Warn().
			Str("job_name", jobName).
			Int64("lock_id", lockID).
			Str("action", "lock_not_held").
			Msg("Attempted to release lock that was not held")
	}

	return nil
}

func (p *PostgreSQLLockManager) AcquireLockWithTimeout(ctx context.Context, jobName string, timeout time.Duration) (bool, error) {
	acquired, err := p.AcquireLock(ctx, jobName)
	if err != nil || acquired || timeout <= 0 {
		return acquired, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// timing out is "not acquired", not a failure
			return false, nil
		case <-ticker.C:
			acquired, err := p.AcquireLock(ctx, jobName)
			if err != nil {
				if ctx.Err() != nil {
					return false, nil
				}
				return false, err
			}
			if acquired {
				return true, nil
			}
		}
	}
}
