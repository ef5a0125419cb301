package models

// InstanceStatus is the lifecycle status reported for a database instance
type InstanceStatus string

const (
	InstanceAvailable           InstanceStatus = "available"
	InstanceStorageOptimization InstanceStatus = "storage-optimization"
	InstancePending             InstanceStatus = "pending"
	InstanceBackingUp           InstanceStatus = "backing-up"
	InstanceModifying           InstanceStatus = "modifying"
	InstanceStopped             InstanceStatus = "stopped"
)

// Snapshottable reports whether a snapshot can be requested in this status.
// The provider only accepts create-snapshot on available or storage-optimization instances.
func (s InstanceStatus) Snapshottable() bool {
	return s == InstanceAvailable || s == InstanceStorageOptimization
}

// Instance is a managed database instance, the source of snapshots
type Instance struct {
	Identifier string
	ARN        string
	Class      string
	Status     InstanceStatus
}

// SnapshotStatus is the lifecycle status reported for a snapshot
type SnapshotStatus string

const (
	SnapshotAvailable SnapshotStatus = "available"
	SnapshotCreating  SnapshotStatus = "creating"
	SnapshotDeleting  SnapshotStatus = "deleting"
)

// Deletable reports whether a delete request may be issued for the snapshot
func (s SnapshotStatus) Deletable() bool {
	return s == SnapshotAvailable
}

// SnapshotTypeManual is the only snapshot type this service creates and sweeps
const SnapshotTypeManual = "manual"

// Snapshot is a point-in-time backup of an Instance
type Snapshot struct {
	Identifier         string
	ARN                string
	InstanceIdentifier string
	Status             SnapshotStatus
	Type               string
}
