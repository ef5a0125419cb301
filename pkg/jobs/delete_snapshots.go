package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/iddaa-lens/rds-snapshots/pkg/logger"
	"github.com/iddaa-lens/rds-snapshots/pkg/metrics"
	"github.com/iddaa-lens/rds-snapshots/pkg/sweep"
)

// DeleteSnapshotsJob runs the expiry sweep over all manual snapshots
type DeleteSnapshotsJob struct {
	sweeper  *sweep.Sweeper
	schedule string
	now      Clock
	metrics  *metrics.Metrics
}

func NewDeleteSnapshotsJob(sweeper *sweep.Sweeper, schedule string, clock Clock, m *metrics.Metrics) *DeleteSnapshotsJob {
	if clock == nil {
		clock = time.Now
	}
	return &DeleteSnapshotsJob{
		sweeper:  sweeper,
		schedule: schedule,
		now:      clock,
		metrics:  m,
	}
}

func (j *DeleteSnapshotsJob) Name() string {
	return "delete_snapshots"
}

func (j *DeleteSnapshotsJob) Schedule() string {
	return j.schedule
}

func (j *DeleteSnapshotsJob) Execute(ctx context.Context) error {
	log := logger.WithContext(ctx, "delete-snapshots")
	now := j.now()
	start := time.Now()

	report, err := j.sweeper.Run(ctx, now)
	if err != nil {
		return fmt.Errorf("expiry sweep failed: %w", err)
	}

	log.Info().
		Int("snapshots", len(report.Results)).
		Int("expired", report.Expired()).
		Int("deleted", report.Count(sweep.OutcomeDeleted)).
		Int("not_available", report.Count(sweep.OutcomeNotAvailable)).
		Int("retained", report.Count(sweep.OutcomeRetained)).
		Int("no_expiry", report.Count(sweep.OutcomeNoExpiry)).
		Str("action", "delete_snapshots_summary").
		Msg("Expiry sweep finished")

	log.LogJobComplete(j.Name(), time.Since(start), len(report.Results), report.Count(sweep.OutcomeFailed))
	j.metrics.RecordRun(j.Name(), float64(now.Unix()))
	return nil
}
