package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/iddaa-lens/rds-snapshots/pkg/logger"
	"github.com/iddaa-lens/rds-snapshots/pkg/metrics"
	"github.com/iddaa-lens/rds-snapshots/pkg/models"
	"github.com/iddaa-lens/rds-snapshots/pkg/provider"
	"github.com/iddaa-lens/rds-snapshots/pkg/tags"
)

// SnapshotCreator creates a snapshot of an instance kept for retentionDays
type SnapshotCreator interface {
	CreateSnapshot(ctx context.Context, inst models.Instance, retentionDays int, now time.Time) (*models.Snapshot, error)
}

// Outcome is what actually happened to an instance in a run
type Outcome int

const (
	OutcomeDisabled Outcome = iota
	OutcomeAlreadyDone
	OutcomeCreated
	// OutcomeDeferred: due, but the instance status did not allow a snapshot
	OutcomeDeferred
	OutcomeNotDue
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDisabled:
		return "disabled"
	case OutcomeAlreadyDone:
		return "already_done"
	case OutcomeCreated:
		return "created"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeNotDue:
		return "not_due"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes the processing of one instance
type Result struct {
	Instance string
	Decision Decision
	Outcome  Outcome
	Snapshot string
	Err      error
}

// Report summarizes a run over all instances
type Report struct {
	Results []Result
}

// Count returns how many results had outcome o
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Engine applies Decide to instances and performs the tag writes and snapshot
// requests each decision implies.
//
// snapshot_latest is updated as remove-then-add because the provider has no
// conditional tag update. The pair is not atomic: two overlapping runs can
// interleave and lose a write or snapshot twice. Jobs guard against that with
// a single-flight lock (see jobs.LockedJob).
type Engine struct {
	client  provider.Client
	creator SnapshotCreator
	policy  Policy
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewEngine(client provider.Client, creator SnapshotCreator, policy Policy, m *metrics.Metrics, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.New("snapshot-scheduler")
	}
	return &Engine{
		client:  client,
		creator: creator,
		policy:  policy,
		metrics: m,
		logger:  log,
	}
}

// Run processes instances one at a time in the given order. A failure on one
// instance is logged with its identifier and never stops the others.
func (e *Engine) Run(ctx context.Context, instances []models.Instance, now time.Time) Report {
	report := Report{Results: make([]Result, 0, len(instances))}

	for _, inst := range instances {
		res := e.ProcessInstance(ctx, inst, now)
		if res.Err != nil {
			e.metrics.RecordItemError("take_snapshots")
			e.logger.Error().
				Err(res.Err).
				Str("db_instance", inst.Identifier).
				Str("action", "instance_failed").
				Msgf("Exception occurred for RDS instance %s", inst.Identifier)
		}
		report.Results = append(report.Results, res)
	}

	return report
}

// ProcessInstance reads the instance tags, decides and writes snapshot_latest back.
// If snapshot creation fails, snapshot_latest stays removed so the next run sees
// it as skipped and tries again.
func (e *Engine) ProcessInstance(ctx context.Context, inst models.Instance, now time.Time) Result {
	res := Result{Instance: inst.Identifier, Outcome: OutcomeFailed}
	log := e.logger.WithInstance(inst.Identifier)
	hour := tags.HourOf(now)

	set, err := e.client.ListTags(ctx, inst.ARN)
	if err != nil {
		res.Err = fmt.Errorf("list tags: %w", err)
		return res
	}
	parsed := tags.ParseInstance(set)

	d := Decide(parsed, hour, e.policy)
	res.Decision = d
	e.metrics.RecordDecision(d.Action.String())

	if d.Action == ActionDisabled {
		log.Info().
			Str("action", "snapshot_disabled").
			Msgf("Database %s tagged as never to be backed up", inst.Identifier)
		res.Outcome = OutcomeDisabled
		return res
	}

	if parsed.HasLatest {
		if err := e.client.RemoveTags(ctx, inst.ARN, tags.KeyLatest.String()); err != nil {
			res.Err = fmt.Errorf("remove %s: %w", tags.KeyLatest, err)
			return res
		}
	}

	switch d.Action {
	case ActionAlreadyDone:
		if err := e.writeLatest(ctx, inst, tags.At(hour)); err != nil {
			res.Err = err
			return res
		}
		log.Info().
			Str("hour", hour.String()).
			Str("action", "snapshot_already_done").
			Msgf("Snapshot already done for %s this hour %s so skipping it", inst.Identifier, hour)
		res.Outcome = OutcomeAlreadyDone

	case ActionDue:
		if !inst.Status.Snapshottable() {
			if err := e.writeLatest(ctx, inst, tags.Skipped()); err != nil {
				res.Err = err
				return res
			}
			log.Warn().
				Str("status", string(inst.Status)).
				Str("action", "snapshot_deferred").
				Msgf("Database %s is not available - will try again later", inst.Identifier)
			res.Outcome = OutcomeDeferred
			return res
		}

		if d.Retention.Defaulted {
			log.Warn().
				Str("retention_days", d.Retention.Raw).
				Int("default_retention_days", d.Retention.Days).
				Str("action", "retention_defaulted").
				Msgf("retention_days tag is non-numeric - %s - please check. Using default value %d instead", d.Retention.Raw, d.Retention.Days)
		}

		snapshot, err := e.creator.CreateSnapshot(ctx, inst, d.Retention.Days, now)
		if err != nil {
			res.Err = err
			return res
		}
		res.Snapshot = snapshot.Identifier

		latest, _ := d.Latest()
		if err := e.writeLatest(ctx, inst, latest); err != nil {
			res.Err = err
			return res
		}
		res.Outcome = OutcomeCreated

	case ActionNotDue:
		latest, _ := d.Latest()
		if err := e.writeLatest(ctx, inst, latest); err != nil {
			res.Err = err
			return res
		}
		log.Info().
			Str("hour", hour.String()).
			Str("schedule", d.Schedule.String()).
			Str("action", "snapshot_not_due").
			Msgf("No snapshots scheduled for %s this hour %s", inst.Identifier, hour)
		res.Outcome = OutcomeNotDue
	}

	return res
}

func (e *Engine) writeLatest(ctx context.Context, inst models.Instance, latest tags.Latest) error {
	err := e.client.AddTags(ctx, inst.ARN, map[string]string{
		tags.KeyLatest.String(): latest.String(),
	})
	if err != nil {
		return fmt.Errorf("add %s=%s: %w", tags.KeyLatest, latest, err)
	}
	return nil
}
