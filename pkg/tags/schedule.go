package tags

import (
	"sort"
	"strings"
	"time"
)

// Hour is a two-digit hour of the UTC day, "00" to "23"
type Hour string

// HourOf returns the UTC hour of t as used in schedules and snapshot_latest
func HourOf(t time.Time) Hour {
	return Hour(t.UTC().Format("15"))
}

func (h Hour) String() string {
	return string(h)
}

// Schedule is the set of hours at which a snapshot is due
type Schedule map[Hour]struct{}

// ParseSchedule splits a snapshot_schedule value on single spaces.
// Tokens are not validated: "2" or an empty token is kept as written and simply never matches.
func ParseSchedule(value string) Schedule {
	schedule := make(Schedule)
	for _, token := range strings.Split(value, " ") {
		schedule[Hour(token)] = struct{}{}
	}
	return schedule
}

// Contains reports whether h is a scheduled hour
func (s Schedule) Contains(h Hour) bool {
	_, ok := s[h]
	return ok
}

// Hours returns the scheduled hours in sorted order
func (s Schedule) Hours() []Hour {
	hours := make([]Hour, 0, len(s))
	for h := range s {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i] < hours[j] })
	return hours
}

// String formats the schedule the way it is stored in the tag
func (s Schedule) String() string {
	hours := s.Hours()
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = string(h)
	}
	return strings.Join(parts, " ")
}
