package executor

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

// Executor issues create-snapshot requests with a computed expiry tag
type Executor struct {
	client  provider.Client
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func New(client provider.Client, m *metrics.Metrics, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.New("snapshot-executor")
	}
	return &Executor{
		client:  client,
		metrics: m,
		logger:  log,
	}
}

// CreateSnapshot snapshots inst as "<identifier>-<YYYYMMDDHHMMSS>" and tags it with
// snapshot_expiry = now + retentionDays. now is taken as-is for both the name and
// the expiry, so every snapshot of one run shares the same timestamp token.
// Errors are returned unchanged in meaning; nothing is retried.
func (e *Executor) CreateSnapshot(ctx context.Context, inst models.Instance, retentionDays int, now time.Time) (*models.Snapshot, error) {
	name := tags.SnapshotName(inst.Identifier, now)
	expiry := tags.FormatExpiry(tags.ExpiryAt(now, retentionDays))

	snapshot, err := e.client.CreateSnapshot(ctx, provider.CreateSnapshotRequest{
		SnapshotIdentifier: name,
		InstanceIdentifier: inst.Identifier,
		Tags:               map[string]string{tags.KeyExpiry.String(): expiry},
	})
	if err != nil {
		return nil, fmt.Errorf("create snapshot %s for %s: %w", name, inst.Identifier, err)
	}

	e.metrics.RecordSnapshotCreated()
	e.logger.Info().
		Str("db_instance", inst.Identifier).
		Str("db_snapshot", snapshot.Identifier).
		Str("snapshot_expiry", expiry).
		Int("retention_days", retentionDays).
		Str("action", "snapshot_created").
		Msgf("Snapshot created for %s: %s", inst.Identifier, snapshot.Identifier)

	return snapshot, nil
}
