package policy

import (
	"time"

	"grimm.is/curfew/internal/clock"
	"grimm.is/curfew/internal/config"
	"grimm.is/curfew/internal/state"
)

// Input is everything needed to evaluate one device at one instant.
type Input struct {
	Profile *config.Profile
	// Usage is the profile aggregate, not the per-address record: all of a
	// profile's devices draw from one budget.
	Usage state.ProfileUsage
	// Override is the device's grant, nil if none exists. Expired grants
	// must be filtered by the caller.
	Override *state.Override
	// ActiveServices is the device's live connection count per tracked
	// service. A service quota only blocks a device currently using that
	// service.
	ActiveServices map[string]int
}

// Evaluator applies the configured policy.
type Evaluator struct {
	cfg   *config.Config
	clock clock.Clock
}

// NewEvaluator creates an evaluator over the given configuration.
func NewEvaluator(cfg *config.Config, clk clock.Clock) *Evaluator {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Evaluator{cfg: cfg, clock: clk}
}

// Evaluate returns the verdict for one device. Precedence is fixed:
// override, then schedule, then profile quota, then service quotas. An
// active override short-circuits everything, in both directions.
func (e *Evaluator) Evaluate(in Input) Verdict {
	now := e.clock.Now()

	if in.Override != nil && in.Override.Active(now) {
		if in.Override.Block {
			return Verdict{Kind: BlockedManually, Reason: in.Override.Reason}
		}
		return Verdict{Kind: Overridden, Reason: in.Override.Reason}
	}

	if in.Profile == nil || !in.Profile.Enabled {
		return allowed()
	}

	for i := range e.cfg.Schedules {
		sched := &e.cfg.Schedules[i]
		if !sched.Enabled || !sched.AppliesTo(in.Profile.Name) {
			continue
		}
		if scheduleMatches(sched, now) {
			return Verdict{Kind: BlockedBySchedule, Schedule: sched.Name}
		}
	}

	if limit := effectiveLimit(in.Profile.DailyLimitMinutes, in.Profile.WeekendBonusMinutes, now); limit > 0 {
		if in.Usage.UsageToday >= limit {
			return Verdict{Kind: BlockedByQuota}
		}
	}

	for _, sl := range in.Profile.ServiceLimits {
		if in.ActiveServices[sl.Service] == 0 {
			continue
		}
		limit := effectiveLimit(sl.DailyLimitMinutes, sl.WeekendBonusMinutes, now)
		if limit <= 0 {
			continue
		}
		if in.Usage.Services[sl.Service].UsageToday >= limit {
			return Verdict{Kind: BlockedByQuota, Service: sl.Service}
		}
	}

	return allowed()
}

// effectiveLimit is the daily limit plus the weekend bonus when now falls on
// a weekend day. A base limit of zero means unlimited, bonus or not.
func effectiveLimit(limit, bonus int, now time.Time) int {
	if limit <= 0 {
		return 0
	}
	if isWeekend(now.Weekday()) {
		return limit + bonus
	}
	return limit
}

// isWeekend treats Friday through Sunday as the weekend: Friday evening is
// where the extra screen time actually lands.
func isWeekend(d time.Weekday) bool {
	return d == time.Friday || d == time.Saturday || d == time.Sunday
}

// scheduleMatches reports whether now falls inside the schedule's blocking
// window. Windows are end-exclusive. A window whose end is not after its
// start wraps past midnight and covers [start, 24:00) on each listed day plus
// [00:00, end) on the following day.
func scheduleMatches(s *config.Schedule, now time.Time) bool {
	startH, startM, err := config.ParseClock(s.StartTime)
	if err != nil {
		return false
	}
	endH, endM, err := config.ParseClock(s.EndTime)
	if err != nil {
		return false
	}

	start := startH*60 + startM
	end := endH*60 + endM
	minutes := now.Hour()*60 + now.Minute()

	if start < end {
		return dayListed(s.Days, now.Weekday()) && minutes >= start && minutes < end
	}

	// Wraparound: the day list names the day the window starts.
	if minutes >= start {
		return dayListed(s.Days, now.Weekday())
	}
	if minutes < end {
		return dayListed(s.Days, previousDay(now.Weekday()))
	}
	return false
}

func dayListed(days []string, d time.Weekday) bool {
	for _, name := range days {
		if parsed, ok := config.ParseDay(name); ok && parsed == d {
			return true
		}
	}
	return false
}

func previousDay(d time.Weekday) time.Weekday {
	return (d + 6) % 7
}
