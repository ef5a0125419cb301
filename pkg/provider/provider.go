// Package provider defines the cloud database API consumed by the scheduler and the
// expiry sweep, and its AWS RDS implementation.
package provider

import (
	"context"
	"errors"

	"github.com/iddaa-lens/rds-snapshots/pkg/models"
)

var (
	// ErrInstanceNotFound is returned when a filtered instance listing matches nothing
	ErrInstanceNotFound = errors.New("db instance not found")
	// ErrMalformedARN is returned for a resource handle that cannot be used for tag calls
	ErrMalformedARN = errors.New("malformed resource ARN")
)

// CreateSnapshotRequest describes a manual snapshot to create
type CreateSnapshotRequest struct {
	SnapshotIdentifier string
	InstanceIdentifier string
	Tags               map[string]string
}

// Client is the set of provider operations used by the jobs.
// Every call is a blocking request/response; any error is a per-item failure.
type Client interface {
	// ListInstances returns all instances, or only the one named by identifier when it is not empty
	ListInstances(ctx context.Context, identifier string) ([]models.Instance, error)

	// ListTags returns the tags attached to the resource
	ListTags(ctx context.Context, arn string) (map[string]string, error)

	// AddTags attaches or overwrites tags on the resource
	AddTags(ctx context.Context, arn string, tags map[string]string) error

	// RemoveTags deletes tags from the resource by key
	RemoveTags(ctx context.Context, arn string, keys ...string) error

	// CreateSnapshot requests a manual snapshot of an instance
	CreateSnapshot(ctx context.Context, req CreateSnapshotRequest) (*models.Snapshot, error)

	// ListManualSnapshots returns every snapshot of type manual
	ListManualSnapshots(ctx context.Context) ([]models.Snapshot, error)

	// DeleteSnapshot deletes a snapshot by identifier
	DeleteSnapshot(ctx context.Context, identifier string) error
}
