// Package tags converts between provider tag sets and the typed scheduling metadata
// stored in them. All functions are pure.
package tags

// Key is a tag key recognized on an instance or a snapshot
type Key string

const (
	// KeyNever disables all snapshotting when present; its value is ignored
	KeyNever Key = "snapshot_never"
	// KeyRetentionDays holds the number of days a snapshot is kept
	KeyRetentionDays Key = "snapshot_retention_days"
	// KeySchedule holds space-separated two-digit UTC hours
	KeySchedule Key = "snapshot_schedule"
	// KeyLatest is owned by the scheduler: last successful hour or "skipped"
	KeyLatest Key = "snapshot_latest"
	// KeyExpiry is written once on snapshot creation
	KeyExpiry Key = "snapshot_expiry"
)

func (k Key) String() string {
	return string(k)
}

// Instance is the typed view of the scheduling tags attached to an instance
type Instance struct {
	Never bool

	RetentionDays    string
	HasRetentionDays bool

	Schedule    string
	HasSchedule bool

	// Latest is Skipped() when the tag is absent
	Latest    Latest
	HasLatest bool
}

// ParseInstance reads the recognized keys out of a raw instance tag set.
// Unknown keys are ignored.
func ParseInstance(set map[string]string) Instance {
	inst := Instance{Latest: Skipped()}

	for key, value := range set {
		switch Key(key) {
		case KeyNever:
			inst.Never = true
		case KeyRetentionDays:
			inst.RetentionDays = value
			inst.HasRetentionDays = true
		case KeySchedule:
			inst.Schedule = value
			inst.HasSchedule = true
		case KeyLatest:
			inst.Latest = ParseLatest(value)
			inst.HasLatest = true
		}
	}

	return inst
}

// ExpiryValue returns the raw snapshot_expiry value of a snapshot tag set
func ExpiryValue(set map[string]string) (string, bool) {
	value, ok := set[KeyExpiry.String()]
	return value, ok
}
