// Package policy evaluates the enforcement decision for a device: schedule
// windows, daily quotas with weekend bonus, service quotas and override
// grants, combined in a fixed priority order.
package policy

// Kind classifies a verdict.
type Kind string

const (
	// Allowed means no rule currently restricts the device.
	Allowed Kind = "allowed"
	// Overridden means a block would apply but an active grant suppresses it.
	Overridden Kind = "overridden"
	// BlockedBySchedule means the current time falls inside a blocking window.
	BlockedBySchedule Kind = "blocked_by_schedule"
	// BlockedByQuota means a daily limit (profile or service) is exhausted.
	BlockedByQuota Kind = "blocked_by_quota"
	// BlockedManually means a manual block grant is active for the device.
	BlockedManually Kind = "blocked_manually"
)

// Verdict is the result of evaluating one device.
type Verdict struct {
	Kind Kind
	// Schedule is the name of the blocking window for BlockedBySchedule.
	Schedule string
	// Service is the exhausted service for service-scoped quota blocks.
	Service string
	// Reason carries the override reason for Overridden and BlockedManually.
	Reason string
}

// Blocked reports whether the verdict puts the device in the block set.
func (v Verdict) Blocked() bool {
	switch v.Kind {
	case BlockedBySchedule, BlockedByQuota, BlockedManually:
		return true
	}
	return false
}

// Detail returns the human-readable specifics for logs and events.
func (v Verdict) Detail() string {
	switch v.Kind {
	case BlockedBySchedule:
		return v.Schedule
	case BlockedByQuota:
		return v.Service
	case Overridden, BlockedManually:
		return v.Reason
	}
	return ""
}

func allowed() Verdict { return Verdict{Kind: Allowed} }
