package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iddaa-lens/rds-snapshots/pkg/logger"
	"github.com/iddaa-lens/rds-snapshots/pkg/models"
	"github.com/iddaa-lens/rds-snapshots/pkg/provider"
	"github.com/iddaa-lens/rds-snapshots/pkg/scheduler"
	"github.com/iddaa-lens/rds-snapshots/pkg/tags"
)

// InstanceSnapshotJob snapshots one named instance on every run, ignoring
// snapshot_schedule and snapshot_latest. snapshot_never and the status check still apply.
type InstanceSnapshotJob struct {
	client        provider.Client
	creator       scheduler.SnapshotCreator
	instanceID    string
	retentionDays int
	schedule      string
	now           Clock
}

func NewInstanceSnapshotJob(client provider.Client, creator scheduler.SnapshotCreator, instanceID string, retentionDays int, schedule string, clock Clock) *InstanceSnapshotJob {
	if clock == nil {
		clock = time.Now
	}
	return &InstanceSnapshotJob{
		client:        client,
		creator:       creator,
		instanceID:    instanceID,
		retentionDays: retentionDays,
		schedule:      schedule,
		now:           clock,
	}
}

func (j *InstanceSnapshotJob) Name() string {
	return "instance_snapshot"
}

func (j *InstanceSnapshotJob) Schedule() string {
	return j.schedule
}

// Execute never returns an error for a missing instance: that is logged as
// bailing out, like every other handled condition of this job.
func (j *InstanceSnapshotJob) Execute(ctx context.Context) error {
	log := logger.WithContext(ctx, "instance-snapshot")
	now := j.now()
	start := time.Now()

	instances, err := j.client.ListInstances(ctx, j.instanceID)
	if err != nil {
		event := log.Warn()
		if !errors.Is(err, provider.ErrInstanceNotFound) {
			event = log.Error().Err(err)
		}
		event.
			Str("db_instance", j.instanceID).
			Str("action", "instance_not_found").
			Msgf("Instance '%s' not found - bailing out", j.instanceID)
		return nil
	}

	failed := 0
	for _, inst := range instances {
		if err := j.snapshot(ctx, log.WithInstance(inst.Identifier), inst, now); err != nil {
			failed++
			log.Error().
				Err(err).
				Str("db_instance", inst.Identifier).
				Str("action", "instance_failed").
				Msgf("Exception occurred for RDS instance %s", inst.Identifier)
		}
	}

	log.LogJobComplete(j.Name(), time.Since(start), len(instances), failed)
	return nil
}

func (j *InstanceSnapshotJob) snapshot(ctx context.Context, log *logger.Logger, inst models.Instance, now time.Time) error {
	set, err := j.client.ListTags(ctx, inst.ARN)
	if err != nil {
		return fmt.Errorf("list tags: %w", err)
	}
	parsed := tags.ParseInstance(set)

	if parsed.Never {
		log.Info().
			Str("action", "snapshot_disabled").
			Msgf("Database %s tagged as never to be backed up", inst.Identifier)
		return nil
	}

	if !inst.Status.Snapshottable() {
		log.Warn().
			Str("status", string(inst.Status)).
			Str("action", "snapshot_deferred").
			Msgf("Database %s is not available - will try again later", inst.Identifier)
		return nil
	}

	retention := tags.ResolveRetention(parsed.RetentionDays, parsed.HasRetentionDays, j.retentionDays)
	if retention.Defaulted {
		log.Warn().
			Str("retention_days", retention.Raw).
			Int("default_retention_days", retention.Days).
			Str("action", "retention_defaulted").
			Msgf("retention_days tag is non-numeric - %s - please check. Using default value %d instead", retention.Raw, retention.Days)
	}

	_, err = j.creator.CreateSnapshot(ctx, inst, retention.Days, now)
	return err
}
