package tags

const skippedValue = "skipped"

// Latest is the value of snapshot_latest: either the hour of the last
// successful snapshot or the skipped marker that forces a retry
type Latest struct {
	skipped bool
	hour    Hour
}

// Skipped returns the marker that makes the next run take a snapshot
// regardless of the schedule
func Skipped() Latest {
	return Latest{skipped: true}
}

// At returns a Latest recording a snapshot taken at hour h
func At(h Hour) Latest {
	return Latest{hour: h}
}

// ParseLatest reads a snapshot_latest tag value
func ParseLatest(value string) Latest {
	if value == skippedValue {
		return Skipped()
	}
	return At(Hour(value))
}

// IsSkipped reports whether this is the skipped marker
func (l Latest) IsSkipped() bool {
	return l.skipped
}

// Matches reports whether the last snapshot was taken at hour h
func (l Latest) Matches(h Hour) bool {
	return !l.skipped && l.hour == h
}

// String returns the tag value
func (l Latest) String() string {
	if l.skipped {
		return skippedValue
	}
	return string(l.hour)
}
