// Package providertest provides an in-memory provider.Client for tests.
package providertest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/iddaa-lens/rds-snapshots/pkg/models"
	"github.com/iddaa-lens/rds-snapshots/pkg/provider"
)

// Call records one provider operation in the order it was made
type Call struct {
	Op       string
	Resource string
	Args     string
}

func (c Call) String() string {
	if c.Args == "" {
		return c.Op + " " + c.Resource
	}
	return c.Op + " " + c.Resource + " " + c.Args
}

// Fake keeps instances, snapshots and tag sets in memory.
// Set an entry in Errors keyed by "<Op> <resource>" to make that call fail.
type Fake struct {
	mu        sync.Mutex
	instances []models.Instance
	snapshots []models.Snapshot
	tags      map[string]map[string]string

	Errors map[string]error
	Calls  []Call
}

// NewFake returns an empty fake
func NewFake() *Fake {
	return &Fake{
		tags:   make(map[string]map[string]string),
		Errors: make(map[string]error),
	}
}

// AddInstance registers an instance with its tags; the ARN is derived from the identifier
func (f *Fake) AddInstance(identifier string, status models.InstanceStatus, set map[string]string) models.Instance {
	f.mu.Lock()
	defer f.mu.Unlock()

	inst := models.Instance{
		Identifier: identifier,
		ARN:        "arn:aws:rds:eu-north-1:123456789012:db:" + identifier,
		Class:      "db.t3.micro",
		Status:     status,
	}
	f.instances = append(f.instances, inst)
	f.tags[inst.ARN] = copyTags(set)
	return inst
}

// AddSnapshot registers a manual snapshot with its tags
func (f *Fake) AddSnapshot(identifier string, status models.SnapshotStatus, set map[string]string) models.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := models.Snapshot{
		Identifier: identifier,
		ARN:        "arn:aws:rds:eu-north-1:123456789012:snapshot:" + identifier,
		Status:     status,
		Type:       models.SnapshotTypeManual,
	}
	f.snapshots = append(f.snapshots, snap)
	f.tags[snap.ARN] = copyTags(set)
	return snap
}

// Tags returns a copy of the tags currently attached to a resource
func (f *Fake) Tags(arn string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyTags(f.tags[arn])
}

// Snapshots returns the snapshots currently held
func (f *Fake) Snapshots() []models.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Snapshot(nil), f.snapshots...)
}

// SnapshotTags returns the tags of a snapshot by identifier
func (f *Fake) SnapshotTags(identifier string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.snapshots {
		if s.Identifier == identifier {
			return copyTags(f.tags[s.ARN])
		}
	}
	return nil
}

// CallsTo returns the recorded calls of one operation
func (f *Fake) CallsTo(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Mutations returns the tag and snapshot writes recorded so far
func (f *Fake) Mutations() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		switch c.Op {
		case "AddTags", "RemoveTags", "CreateSnapshot", "DeleteSnapshot":
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(op, resource, args string) error {
	f.Calls = append(f.Calls, Call{Op: op, Resource: resource, Args: args})
	if err, ok := f.Errors[op+" "+resource]; ok {
		return err
	}
	return nil
}

func (f *Fake) ListInstances(_ context.Context, identifier string) ([]models.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ListInstances", identifier, ""); err != nil {
		return nil, err
	}
	if identifier == "" {
		return append([]models.Instance(nil), f.instances...), nil
	}
	for _, inst := range f.instances {
		if inst.Identifier == identifier {
			return []models.Instance{inst}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", provider.ErrInstanceNotFound, identifier)
}

func (f *Fake) ListTags(_ context.Context, arn string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ListTags", arn, ""); err != nil {
		return nil, err
	}
	set, ok := f.tags[arn]
	if !ok {
		return nil, fmt.Errorf("%w %q", provider.ErrMalformedARN, arn)
	}
	return copyTags(set), nil
}

func (f *Fake) AddTags(_ context.Context, arn string, set map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("AddTags", arn, formatTags(set)); err != nil {
		return err
	}
	if _, ok := f.tags[arn]; !ok {
		return fmt.Errorf("%w %q", provider.ErrMalformedARN, arn)
	}
	for k, v := range set {
		f.tags[arn][k] = v
	}
	return nil
}

func (f *Fake) RemoveTags(_ context.Context, arn string, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("RemoveTags", arn, strings.Join(keys, ",")); err != nil {
		return err
	}
	if _, ok := f.tags[arn]; !ok {
		return fmt.Errorf("%w %q", provider.ErrMalformedARN, arn)
	}
	for _, k := range keys {
		delete(f.tags[arn], k)
	}
	return nil
}

func (f *Fake) CreateSnapshot(_ context.Context, req provider.CreateSnapshotRequest) (*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("CreateSnapshot", req.InstanceIdentifier, req.SnapshotIdentifier+" "+formatTags(req.Tags)); err != nil {
		return nil, err
	}
	snap := models.Snapshot{
		Identifier:         req.SnapshotIdentifier,
		ARN:                "arn:aws:rds:eu-north-1:123456789012:snapshot:" + req.SnapshotIdentifier,
		InstanceIdentifier: req.InstanceIdentifier,
		Status:             models.SnapshotCreating,
		Type:               models.SnapshotTypeManual,
	}
	f.snapshots = append(f.snapshots, snap)
	f.tags[snap.ARN] = copyTags(req.Tags)
	return &snap, nil
}

func (f *Fake) ListManualSnapshots(_ context.Context) ([]models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ListManualSnapshots", "", ""); err != nil {
		return nil, err
	}
	return append([]models.Snapshot(nil), f.snapshots...), nil
}

func (f *Fake) DeleteSnapshot(_ context.Context, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("DeleteSnapshot", identifier, ""); err != nil {
		return err
	}
	for i, s := range f.snapshots {
		if s.Identifier == identifier {
			delete(f.tags, s.ARN)
			f.snapshots = append(f.snapshots[:i], f.snapshots[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("snapshot %s not found", identifier)
}

func copyTags(set map[string]string) map[string]string {
	out := make(map[string]string, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out
}

func formatTags(set map[string]string) string {
	parts := make([]string, 0, len(set))
	for k, v := range set {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Interface guard.
var _ provider.Client = (*Fake)(nil)
