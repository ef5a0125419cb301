// Package scheduler decides, per instance and hour, whether a snapshot is due and keeps
// the snapshot_latest tag in step with that decision.
package scheduler

import (
	"github.com/iddaa-lens/rds-snapshots/pkg/tags"
)

// Action is the outcome of evaluating one instance's tags against the current hour
type Action int

const (
	// ActionDisabled: snapshot_never is present; no tag is touched
	ActionDisabled Action = iota
	// ActionAlreadyDone: snapshot_latest already records the current hour
	ActionAlreadyDone
	// ActionDue: the hour is scheduled or the last attempt was skipped
	ActionDue
	// ActionNotDue: nothing to do this hour
	ActionNotDue
)

func (a Action) String() string {
	switch a {
	case ActionDisabled:
		return "disabled"
	case ActionAlreadyDone:
		return "already_done"
	case ActionDue:
		return "due"
	case ActionNotDue:
		return "not_due"
	default:
		return "unknown"
	}
}

// Policy holds the defaults applied to instances without schedule or retention tags
type Policy struct {
	Name                 string
	DefaultSchedule      string
	DefaultRetentionDays int
}

var (
	// PolicyStandard snapshots untagged instances once a day at 02 UTC
	PolicyStandard = Policy{Name: "standard", DefaultSchedule: "02", DefaultRetentionDays: tags.DefaultRetentionDays}
	// PolicyOffset snapshots untagged instances once a day at 03 UTC
	PolicyOffset = Policy{Name: "offset", DefaultSchedule: "03", DefaultRetentionDays: tags.DefaultRetentionDays}
)

// PolicyByName returns a named default policy
func PolicyByName(name string) (Policy, bool) {
	switch name {
	case PolicyStandard.Name, "":
		return PolicyStandard, true
	case PolicyOffset.Name:
		return PolicyOffset, true
	default:
		return Policy{}, false
	}
}

// Decision is the result of Decide
type Decision struct {
	Action    Action
	Hour      tags.Hour
	Schedule  tags.Schedule
	Retention tags.Retention
	// Prior is the snapshot_latest value read before the decision (Skipped when absent)
	Prior tags.Latest
}

// Latest returns the snapshot_latest value to write back for this decision.
// For ActionDue it is the value after a successful snapshot; a deferred snapshot writes Skipped instead.
// ActionDisabled writes nothing and returns false.
func (d Decision) Latest() (tags.Latest, bool) {
	switch d.Action {
	case ActionAlreadyDone, ActionDue:
		return tags.At(d.Hour), true
	case ActionNotDue:
		return d.Prior, true
	default:
		return tags.Latest{}, false
	}
}

// Decide evaluates an instance's tags at hour. Precedence is fixed:
// disabled, then already done, then due, then not due.
func Decide(inst tags.Instance, hour tags.Hour, policy Policy) Decision {
	scheduleValue := policy.DefaultSchedule
	if inst.HasSchedule {
		scheduleValue = inst.Schedule
	}

	prior := inst.Latest
	if !inst.HasLatest {
		prior = tags.Skipped()
	}

	d := Decision{
		Hour:      hour,
		Schedule:  tags.ParseSchedule(scheduleValue),
		Retention: tags.ResolveRetention(inst.RetentionDays, inst.HasRetentionDays, policy.DefaultRetentionDays),
		Prior:     prior,
	}

	switch {
	case inst.Never:
		d.Action = ActionDisabled
	case prior.Matches(hour):
		d.Action = ActionAlreadyDone
	case d.Schedule.Contains(hour) || prior.IsSkipped():
		d.Action = ActionDue
	default:
		d.Action = ActionNotDue
	}

	return d
}
