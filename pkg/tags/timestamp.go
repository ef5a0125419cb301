package tags

import (
	"errors"
	"fmt"
	"time"
)

const (
	// SnapshotNameLayout is appended to the instance identifier to name a snapshot
	SnapshotNameLayout = "20060102150405"
	// ExpiryLayout is the snapshot_expiry format; it carries no zone
	ExpiryLayout = "2006-01-02_15:04:05"
)

// ErrInvalidExpiry is returned when a snapshot_expiry value cannot be parsed
var ErrInvalidExpiry = errors.New("invalid snapshot expiry")

// FormatSnapshotTimestamp returns the second-resolution token used in snapshot names
func FormatSnapshotTimestamp(t time.Time) string {
	return t.Format(SnapshotNameLayout)
}

// ParseSnapshotTimestamp reads a snapshot name token in loc
func ParseSnapshotTimestamp(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(SnapshotNameLayout, value, loc)
}

// SnapshotName builds "<instance>-<timestamp>"
func SnapshotName(instanceID string, t time.Time) string {
	return instanceID + "-" + FormatSnapshotTimestamp(t)
}

// ExpiryAt adds retention in calendar days on t's own clock
func ExpiryAt(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}

// FormatExpiry returns the snapshot_expiry value for t, truncated to the second
func FormatExpiry(t time.Time) string {
	return t.Format(ExpiryLayout)
}

// ParseExpiry reads a snapshot_expiry value as wall-clock time in loc
func ParseExpiry(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(ExpiryLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrInvalidExpiry, value, err)
	}
	return t, nil
}
