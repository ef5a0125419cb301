package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/iddaa-lens/rds-snapshots/pkg/logger"
)

// LockedJob runs the wrapped job only while holding its lock, so two overlapping
// invocations cannot interleave their snapshot_latest remove/add pairs.
// A run that cannot get the lock within the timeout is skipped, not failed.
type LockedJob struct {
	job         Job
	lockManager JobLockManager
	lockTimeout time.Duration
	logger      *logger.Logger
}

func NewLockedJob(job Job, lockManager JobLockManager, lockTimeout time.Duration) *LockedJob {
	return &LockedJob{
		job:         job,
		lockManager: lockManager,
		lockTimeout: lockTimeout,
		logger:      logger.New("locked-job"),
	}
}

func (l *LockedJob) Name() string {
	return l.job.Name()
}

func (l *LockedJob) Schedule() string {
	return l.job.Schedule()
}

func (l *LockedJob) Execute(ctx context.Context) error {
	jobName := l.job.Name()

	acquired, err := l.lockManager.AcquireLockWithTimeout(ctx, jobName, l.lockTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire lock for job %s: %w", jobName, err)
	}
	if !acquired {
		l.logger.Info().
			Str("job_name", jobName).
			Dur("lock_timeout", l.lockTimeout).
			Str("action", "job_skipped_locked").
			Msg("Job skipped - another run is in progress")
		return nil
	}

	defer func() {
		// release on a fresh context: the job context may already be expired
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.lockManager.ReleaseLock(releaseCtx, jobName); err != nil {
			l.logger.Error().
				Err(err).
				Str("job_name", jobName).
				Str("action", "lock_release_error").
				Msg("Failed to release job lock")
		}
	}()

	return l.job.Execute(ctx)
}
