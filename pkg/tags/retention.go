package tags

import "strconv"

// DefaultRetentionDays is used when snapshot_retention_days is absent or not numeric
const DefaultRetentionDays = 90

// Retention is a resolved snapshot_retention_days value
type Retention struct {
	Days int
	// Raw is the tag value as found, empty when absent
	Raw string
	// Defaulted is true when Raw was present but not numeric and the fallback was used
	Defaulted bool
}

// ResolveRetention turns a raw tag value into a day count.
// Absent values silently use fallback; present but non-numeric values use fallback
// and set Defaulted so the caller can warn. A negative fallback is treated as zero.
func ResolveRetention(raw string, present bool, fallback int) Retention {
	if fallback < 0 {
		fallback = 0
	}
	if !present {
		return Retention{Days: fallback}
	}
	days, ok := ParseRetentionDays(raw)
	if !ok {
		return Retention{Days: fallback, Raw: raw, Defaulted: true}
	}
	return Retention{Days: days, Raw: raw}
}

// ParseRetentionDays accepts only unsigned decimal digits that fit in an int
func ParseRetentionDays(raw string) (int, bool) {
	if raw == "" {
		return 0, false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return 0, false
		}
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return days, true
}

// FormatRetentionDays returns the tag value for a day count
func FormatRetentionDays(days int) string {
	return strconv.Itoa(days)
}
