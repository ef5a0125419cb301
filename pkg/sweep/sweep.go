// Package sweep deletes manual snapshots whose snapshot_expiry has passed.
//
// A snapshot without snapshot_expiry never expires; removing the tag is the way to
// keep a snapshot indefinitely. Expired snapshots that are not yet available are
// left for the next run.
package sweep

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

// Outcome is what happened to one snapshot in a sweep
type Outcome int

const (
	OutcomeNoExpiry Outcome = iota
	OutcomeRetained
	OutcomeDeleted
	// OutcomeNotAvailable: expired, but the snapshot status does not allow deletion yet
	OutcomeNotAvailable
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoExpiry:
		return "no_expiry"
	case OutcomeRetained:
		return "retained"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeNotAvailable:
		return "not_available"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes one snapshot in a sweep
type Result struct {
	Snapshot string
	// HasExpiry is set once a snapshot_expiry tag was found, even if it did not parse
	HasExpiry bool
	Expiry    time.Time
	Outcome   Outcome
	Err       error
}

// Report summarizes a sweep
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

// Expired returns how many snapshots were past their expiry, deleted or not
func (r Report) Expired() int {
	return r.Count(OutcomeDeleted) + r.Count(OutcomeNotAvailable)
}

// Tagged returns how many snapshots carried a snapshot_expiry tag
func (r Report) Tagged() int {
	n := 0
	for _, res := range r.Results {
		if res.HasExpiry {
			n++
		}
	}
	return n
}

type Sweeper struct {
	client  provider.Client
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func New(client provider.Client, m *metrics.Metrics, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.New("snapshot-sweeper")
	}
	return &Sweeper{
		client:  client,
		metrics: m,
		logger:  log,
	}
}

// Run evaluates every manual snapshot against now. Expiry values are read as
// wall-clock time in now's location. Only the listing failure is returned;
// per-snapshot failures are logged and reported. The "No expired snapshots found"
// line is logged only when no snapshot carried snapshot_expiry at all.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Report, error) {
	snapshots, err := s.client.ListManualSnapshots(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list manual snapshots: %w", err)
	}

	report := Report{Results: make([]Result, 0, len(snapshots))}
	for _, snap := range snapshots {
		res := s.evaluate(ctx, snap, now)
		if res.Err != nil {
			s.metrics.RecordItemError("delete_snapshots")
			s.logger.WithSnapshot(snap.Identifier).Error().
				Err(res.Err).
				Str("action", "snapshot_failed").
				Msgf("Exception occurred for RDS snapshot %s", snap.Identifier)
		}
		report.Results = append(report.Results, res)
	}

	if report.Tagged() == 0 {
		s.logger.Info().
			Int("snapshots_evaluated", len(snapshots)).
			Str("action", "no_expired_snapshots").
			Msg("No expired snapshots found")
	}

	return report, nil
}

func (s *Sweeper) evaluate(ctx context.Context, snap models.Snapshot, now time.Time) Result {
	res := Result{Snapshot: snap.Identifier, Outcome: OutcomeFailed}
	log := s.logger.WithSnapshot(snap.Identifier)

	set, err := s.client.ListTags(ctx, snap.ARN)
	if err != nil {
		res.Err = fmt.Errorf("list tags: %w", err)
		return res
	}

	value, ok := tags.ExpiryValue(set)
	if !ok {
		res.Outcome = OutcomeNoExpiry
		return res
	}
	res.HasExpiry = true

	expiry, err := tags.ParseExpiry(value, now.Location())
	if err != nil {
		res.Err = err
		return res
	}
	res.Expiry = expiry

	if !expiry.Before(now) {
		res.Outcome = OutcomeRetained
		return res
	}

	if !snap.Status.Deletable() {
		log.Warn().
			Str("status", string(snap.Status)).
			Str("action", "snapshot_not_available").
			Msgf("Snapshot %s not available for deletion", snap.Identifier)
		res.Outcome = OutcomeNotAvailable
		return res
	}

	if err := s.client.DeleteSnapshot(ctx, snap.Identifier); err != nil {
		res.Err = err
		return res
	}

	s.metrics.RecordSnapshotDeleted()
	log.Info().
		Str("snapshot_expiry", value).
		Str("action", "snapshot_deleted").
		Msgf("Snapshot %s deleted", snap.Identifier)
	res.Outcome = OutcomeDeleted
	return res
}
