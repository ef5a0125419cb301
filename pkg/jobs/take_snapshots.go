package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/iddaa-lens/rds-snapshots/pkg/logger"
	"github.com/iddaa-lens/rds-snapshots/pkg/metrics"
	"github.com/iddaa-lens/rds-snapshots/pkg/provider"
	"github.com/iddaa-lens/rds-snapshots/pkg/scheduler"
)

// Clock returns the current time; jobs read it once per run
type Clock func() time.Time

// TakeSnapshotsJob runs the scheduler over every instance in the region
type TakeSnapshotsJob struct {
	client   provider.Client
	engine   *scheduler.Engine
	schedule string
	now      Clock
	metrics  *metrics.Metrics
}

func NewTakeSnapshotsJob(client provider.Client, engine *scheduler.Engine, schedule string, clock Clock, m *metrics.Metrics) *TakeSnapshotsJob {
	if clock == nil {
		clock = time.Now
	}
	return &TakeSnapshotsJob{
		client:   client,
		engine:   engine,
		schedule: schedule,
		now:      clock,
		metrics:  m,
	}
}

func (j *TakeSnapshotsJob) Name() string {
	return "take_snapshots"
}

func (j *TakeSnapshotsJob) Schedule() string {
	return j.schedule
}

// Execute fails only when the instance listing fails; per-instance
// failures are logged by the engine and counted here.
func (j *TakeSnapshotsJob) Execute(ctx context.Context) error {
	log := logger.WithContext(ctx, "take-snapshots")
	now := j.now()
	start := time.Now()

	instances, err := j.client.ListInstances(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list db instances: %w", err)
	}

	report := j.engine.Run(ctx, instances, now)

	log.Info().
		Int("instances", len(instances)).
		Int("created", report.Count(scheduler.OutcomeCreated)).
		Int("deferred", report.Count(scheduler.OutcomeDeferred)).
		Int("disabled", report.Count(scheduler.OutcomeDisabled)).
		Int("not_due", report.Count(scheduler.OutcomeNotDue)).
		Int("already_done", report.Count(scheduler.OutcomeAlreadyDone)).
		Str("action", "take_snapshots_summary").
		Msg("Snapshot scheduling pass finished")

	log.LogJobComplete(j.Name(), time.Since(start), len(instances), report.Count(scheduler.OutcomeFailed))
	j.metrics.RecordRun(j.Name(), float64(now.Unix()))
	return nil
}
