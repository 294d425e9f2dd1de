package ledger

import (
	"fmt"
	"time"

	"grimm.is/curfew/internal/metrics"
	"grimm.is/curfew/internal/state"
)

// ResetResult reports which boundary resets a call performed.
type ResetResult struct {
	Daily          bool
	Weekly         bool
	DailyBoundary  time.Time
	WeeklyBoundary time.Time
}

// dailyBoundary returns the most recent occurrence of the reset clock at or
// before now, in now's location.
func dailyBoundary(now time.Time, hour, minute int) time.Time {
	b := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if b.After(now) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}

// weeklyBoundary returns the most recent weekStart day at the reset clock at
// or before now.
func weeklyBoundary(now time.Time, hour, minute int, weekStart time.Weekday) time.Time {
	b := dailyBoundary(now, hour, minute)
	for b.Weekday() != weekStart {
		b = b.AddDate(0, 0, -1)
	}
	return b
}

// ApplyResets zeroes counters for any boundary crossed since the recorded
// watermark. The watermark advances to the boundary itself, not to now, so a
// tick arriving late still resets exactly once per boundary. A zero watermark
// (first run) initializes without wiping whatever state survived.
func (l *Ledger) ApplyResets(resetHour, resetMinute int, weekStart time.Weekday) (ResetResult, error) {
	now := l.clock.Now()
	res := ResetResult{
		DailyBoundary:  dailyBoundary(now, resetHour, resetMinute),
		WeeklyBoundary: weeklyBoundary(now, resetHour, resetMinute, weekStart),
	}

	err := l.store.Update(func(tx state.Tx) error {
		var wm state.Watermarks
		if err := state.GetJSON(tx, state.BucketMeta, state.KeyWatermarks, &wm); err != nil && err != state.ErrNotFound {
			return err
		}

		if wm.LastReset.IsZero() {
			wm.LastReset = res.DailyBoundary
		} else if wm.LastReset.Before(res.DailyBoundary) {
			res.Daily = true
		}
		if wm.LastWeeklyReset.IsZero() {
			wm.LastWeeklyReset = res.WeeklyBoundary
		} else if wm.LastWeeklyReset.Before(res.WeeklyBoundary) {
			res.Weekly = true
		}

		if res.Daily || res.Weekly {
			if err := resetCounters(tx, res.Weekly); err != nil {
				return err
			}
		}
		if res.Daily {
			wm.LastReset = res.DailyBoundary
		}
		if res.Weekly {
			wm.LastWeeklyReset = res.WeeklyBoundary
		}
		return state.SetJSON(tx, state.BucketMeta, state.KeyWatermarks, wm)
	})
	if err != nil {
		return ResetResult{}, err
	}

	if res.Daily {
		metrics.Get().UsageResets.WithLabelValues("daily").Inc()
		l.logger.Info("daily usage reset", "boundary", res.DailyBoundary.Format(time.RFC3339))
	}
	if res.Weekly {
		metrics.Get().UsageResets.WithLabelValues("weekly").Inc()
		l.logger.Info("weekly usage reset", "boundary", res.WeeklyBoundary.Format(time.RFC3339))
	}
	return res, nil
}

// ForceReset zeroes counters immediately. scope is "daily" or "weekly"; a
// weekly reset clears the daily counters too.
func (l *Ledger) ForceReset(scope string) error {
	weekly := false
	switch scope {
	case "daily":
	case "weekly":
		weekly = true
	default:
		return fmt.Errorf("unknown reset scope %q", scope)
	}

	err := l.store.Update(func(tx state.Tx) error {
		return resetCounters(tx, weekly)
	})
	if err != nil {
		return err
	}
	metrics.Get().UsageResets.WithLabelValues("manual").Inc()
	l.logger.Audit("usage_reset", scope, map[string]any{"reason": "manual reset"})
	return nil
}

// resetCounters zeroes today's counters on every usage and profile record,
// and the weekly counters as well when weekly is set. Address records with no
// remaining usage are dropped to keep the table bounded.
func resetCounters(tx state.Tx, weekly bool) error {
	usage, err := state.ListJSON[state.UsageRecord](txLister{tx}, state.BucketUsage)
	if err != nil {
		return err
	}
	for addr, rec := range usage {
		rec.UsageToday = 0
		if weekly {
			rec.UsageWeek = 0
		}
		for svc, su := range rec.Services {
			su.UsageToday = 0
			if weekly {
				su.UsageWeek = 0
			}
			rec.Services[svc] = su
		}
		if rec.UsageWeek == 0 {
			if err := tx.Delete(state.BucketUsage, addr); err != nil {
				return err
			}
			continue
		}
		if err := state.SetJSON(tx, state.BucketUsage, addr, rec); err != nil {
			return err
		}
	}

	profiles, err := state.ListJSON[state.ProfileUsage](txLister{tx}, state.BucketProfiles)
	if err != nil {
		return err
	}
	for name, agg := range profiles {
		agg.UsageToday = 0
		if weekly {
			agg.UsageWeek = 0
		}
		for svc, su := range agg.Services {
			su.UsageToday = 0
			if weekly {
				su.UsageWeek = 0
			}
			agg.Services[svc] = su
		}
		if err := state.SetJSON(tx, state.BucketProfiles, name, agg); err != nil {
			return err
		}
	}
	return nil
}
