package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"grimm.is/curfew/internal/clock"
	"grimm.is/curfew/internal/config"
	"grimm.is/curfew/internal/state"
)

func testConfig() *config.Config {
	return &config.Config{
		Profiles: []config.Profile{
			{
				Name:                "kids",
				DailyLimitMinutes:   120,
				WeekendBonusMinutes: 30,
				Enabled:             true,
				ServiceLimits: []config.ServiceLimit{
					{Service: "gaming", DailyLimitMinutes: 60},
				},
			},
			{Name: "guests", Enabled: true}, // no limit at all
		},
		Schedules: []config.Schedule{
			{
				Name:      "bedtime",
				Profiles:  []string{"kids"},
				Days:      []string{"sunday", "monday", "tuesday", "wednesday", "thursday"},
				StartTime: "21:00",
				EndTime:   "07:00",
				Enabled:   true,
			},
			{
				Name:      "homework",
				Profiles:  []string{"kids"},
				Days:      []string{"monday"},
				StartTime: "16:00",
				EndTime:   "18:00",
				Enabled:   true,
			},
		},
	}
}

func evalAt(t *testing.T, cfg *config.Config, at time.Time, in Input) Verdict {
	t.Helper()
	e := NewEvaluator(cfg, clock.NewMockClock(at))
	return e.Evaluate(in)
}

func profile(cfg *config.Config, name string) *config.Profile {
	return cfg.FindProfile(name)
}

// 2026-03-09 is a Monday.
var (
	monday   = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	saturday = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
)

func TestQuotaExhaustion(t *testing.T) {
	cfg := testConfig()
	in := Input{Profile: profile(cfg, "kids")}

	in.Usage = state.ProfileUsage{UsageToday: 119}
	assert.Equal(t, Allowed, evalAt(t, cfg, monday, in).Kind)

	in.Usage = state.ProfileUsage{UsageToday: 120}
	v := evalAt(t, cfg, monday, in)
	assert.Equal(t, BlockedByQuota, v.Kind)
	assert.True(t, v.Blocked())
	assert.Empty(t, v.Service, "profile quota, not a service quota")
}

func TestWeekendBonus(t *testing.T) {
	cfg := testConfig()
	in := Input{Profile: profile(cfg, "kids")}

	// Saturday: 120 + 30 bonus.
	in.Usage = state.ProfileUsage{UsageToday: 145}
	assert.Equal(t, Allowed, evalAt(t, cfg, saturday, in).Kind)

	in.Usage = state.ProfileUsage{UsageToday: 150}
	assert.Equal(t, BlockedByQuota, evalAt(t, cfg, saturday, in).Kind)

	// Friday counts as the weekend too.
	friday := time.Date(2026, 3, 13, 12, 0, 0, 0, time.UTC)
	in.Usage = state.ProfileUsage{UsageToday: 145}
	assert.Equal(t, Allowed, evalAt(t, cfg, friday, in).Kind)
}

func TestZeroLimitMeansUnlimited(t *testing.T) {
	cfg := testConfig()
	in := Input{
		Profile: profile(cfg, "guests"),
		Usage:   state.ProfileUsage{UsageToday: 100000},
	}
	assert.Equal(t, Allowed, evalAt(t, cfg, monday, in).Kind)
}

func TestServiceQuota(t *testing.T) {
	cfg := testConfig()
	in := Input{
		Profile: profile(cfg, "kids"),
		Usage: state.ProfileUsage{
			UsageToday: 80,
			Services: map[string]state.ServiceUsage{
				"gaming": {UsageToday: 60},
			},
		},
		ActiveServices: map[string]int{"gaming": 2},
	}
	v := evalAt(t, cfg, monday, in)
	assert.Equal(t, BlockedByQuota, v.Kind)
	assert.Equal(t, "gaming", v.Service)
}

func TestServiceQuotaSparesInactiveDevice(t *testing.T) {
	cfg := testConfig()
	in := Input{
		Profile: profile(cfg, "kids"),
		Usage: state.ProfileUsage{
			UsageToday: 80,
			Services: map[string]state.ServiceUsage{
				"gaming": {UsageToday: 60}, // exhausted by a sibling device
			},
		},
	}

	// No live gaming connections: the service quota does not apply.
	assert.Equal(t, Allowed, evalAt(t, cfg, monday, in).Kind)

	// Connections to some other service change nothing.
	in.ActiveServices = map[string]int{"video": 1}
	assert.Equal(t, Allowed, evalAt(t, cfg, monday, in).Kind)

	// The moment the device touches the exhausted service, it blocks.
	in.ActiveServices = map[string]int{"gaming": 1}
	assert.Equal(t, BlockedByQuota, evalAt(t, cfg, monday, in).Kind)
}

func TestProfileQuotaBeatsServiceQuota(t *testing.T) {
	cfg := testConfig()
	in := Input{
		Profile: profile(cfg, "kids"),
		Usage: state.ProfileUsage{
			UsageToday: 120,
			Services: map[string]state.ServiceUsage{
				"gaming": {UsageToday: 60},
			},
		},
		ActiveServices: map[string]int{"gaming": 2},
	}
	v := evalAt(t, cfg, monday, in)
	assert.Equal(t, BlockedByQuota, v.Kind)
	assert.Empty(t, v.Service)
}

func TestScheduleWindow(t *testing.T) {
	cfg := testConfig()
	in := Input{Profile: profile(cfg, "kids")}

	// Monday 16:30, inside the homework window.
	v := evalAt(t, cfg, time.Date(2026, 3, 9, 16, 30, 0, 0, time.UTC), in)
	assert.Equal(t, BlockedBySchedule, v.Kind)
	assert.Equal(t, "homework", v.Schedule)
	assert.Equal(t, "homework", v.Detail())

	// End is exclusive: 18:00 exactly is outside.
	v = evalAt(t, cfg, time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC), in)
	assert.Equal(t, Allowed, v.Kind)

	// Start is inclusive.
	v = evalAt(t, cfg, time.Date(2026, 3, 9, 16, 0, 0, 0, time.UTC), in)
	assert.Equal(t, BlockedBySchedule, v.Kind)
}

func TestScheduleWraparound(t *testing.T) {
	cfg := testConfig()
	in := Input{Profile: profile(cfg, "kids")}

	// Monday 22:00, inside bedtime's evening half.
	v := evalAt(t, cfg, time.Date(2026, 3, 9, 22, 0, 0, 0, time.UTC), in)
	assert.Equal(t, BlockedBySchedule, v.Kind)
	assert.Equal(t, "bedtime", v.Schedule)

	// Tuesday 06:30: still inside the window that started Monday night,
	// even though the day list names the start day.
	v = evalAt(t, cfg, time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC), in)
	assert.Equal(t, BlockedBySchedule, v.Kind)

	// Tuesday 07:00: end-exclusive.
	v = evalAt(t, cfg, time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC), in)
	assert.Equal(t, Allowed, v.Kind)

	// Saturday 06:30: Friday is not a bedtime day, so no carryover.
	v = evalAt(t, cfg, time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC), in)
	assert.Equal(t, Allowed, v.Kind)
}

func TestScheduleBeatsQuota(t *testing.T) {
	cfg := testConfig()
	in := Input{
		Profile: profile(cfg, "kids"),
		Usage:   state.ProfileUsage{UsageToday: 0},
	}
	// Inside bedtime with zero usage: schedule wins over the (unused) quota.
	v := evalAt(t, cfg, time.Date(2026, 3, 9, 22, 0, 0, 0, time.UTC), in)
	assert.Equal(t, BlockedBySchedule, v.Kind)
}

func TestOverrideBeatsEverything(t *testing.T) {
	cfg := testConfig()
	at := time.Date(2026, 3, 9, 22, 0, 0, 0, time.UTC) // inside bedtime
	in := Input{
		Profile: profile(cfg, "kids"),
		Usage:   state.ProfileUsage{UsageToday: 500}, // quota blown too
		Override: &state.Override{
			MAC:       "aa:bb:cc:dd:ee:01",
			GrantedAt: at.Add(-10 * time.Minute),
			ExpiresAt: at.Add(20 * time.Minute),
			Reason:    "finishing homework upload",
		},
	}
	v := evalAt(t, cfg, at, in)
	assert.Equal(t, Overridden, v.Kind)
	assert.False(t, v.Blocked())
	assert.Equal(t, "finishing homework upload", v.Detail())
}

func TestExpiredOverrideIsIgnored(t *testing.T) {
	cfg := testConfig()
	at := time.Date(2026, 3, 9, 22, 0, 0, 0, time.UTC)
	in := Input{
		Profile: profile(cfg, "kids"),
		Override: &state.Override{
			GrantedAt: at.Add(-time.Hour),
			ExpiresAt: at, // expiry is exclusive: expired at exactly now
		},
	}
	assert.Equal(t, BlockedBySchedule, evalAt(t, cfg, at, in).Kind)
}

func TestManualBlock(t *testing.T) {
	cfg := testConfig()
	in := Input{
		Profile: profile(cfg, "guests"), // nothing else would block
		Override: &state.Override{
			ExpiresAt: monday.Add(time.Hour),
			Block:     true,
			Reason:    "grounded",
		},
	}
	v := evalAt(t, cfg, monday, in)
	assert.Equal(t, BlockedManually, v.Kind)
	assert.True(t, v.Blocked())
}

func TestDisabledProfileIsAllowed(t *testing.T) {
	cfg := testConfig()
	cfg.Profiles[0].Enabled = false
	in := Input{
		Profile: profile(cfg, "kids"),
		Usage:   state.ProfileUsage{UsageToday: 500},
	}
	assert.Equal(t, Allowed, evalAt(t, cfg, monday, in).Kind)
}

func TestDisabledScheduleIsIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.Schedules[1].Enabled = false
	in := Input{Profile: profile(cfg, "kids")}
	v := evalAt(t, cfg, time.Date(2026, 3, 9, 16, 30, 0, 0, time.UTC), in)
	assert.Equal(t, Allowed, v.Kind)
}
