package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHCL = `
schema_version = "1.1"

settings {
  tick_interval = "5m"
  reset_time    = "06:00"
  table_name    = "curfew"
}

profile "Kids" {
  daily_limit_minutes   = 120
  weekend_bonus_minutes = 30
  enabled               = true

  service_limit "youtube" {
    daily_limit_minutes = 60
  }

  device "tablet" {
    mac     = "AA-BB-CC-DD-EE-01"
    ip      = "10.0.0.5"
    enabled = true
  }

  device "switch" {
    mac     = "aa:bb:cc:dd:ee:02"
    enabled = true
  }
}

profile "Guests" {
  daily_limit_minutes = 0
  enabled             = true
}

schedule "bedtime" {
  profiles   = ["Kids"]
  days       = ["mon", "tue", "wed", "thu", "sun"]
  start_time = "22:00"
  end_time   = "06:30"
  enabled    = true
}

service "youtube" {
  ranges = ["142.250.0.0/15", "172.217.0.0/16"]
}
`

func TestLoadHCL(t *testing.T) {
	cfg, err := LoadHCL([]byte(sampleHCL), "curfew.hcl")
	require.NoError(t, err)

	require.Len(t, cfg.Profiles, 2)
	kids := cfg.FindProfile("Kids")
	require.NotNil(t, kids)
	assert.Equal(t, 120, kids.DailyLimitMinutes)
	assert.Equal(t, 30, kids.WeekendBonusMinutes)
	require.Len(t, kids.Devices, 2)

	// MAC is canonicalized on load
	assert.Equal(t, "aa:bb:cc:dd:ee:01", kids.Devices[0].MAC)

	dev, owner := cfg.FindDevice("aa:bb:cc:dd:ee:02")
	require.NotNil(t, dev)
	assert.Equal(t, "Kids", owner.Name)

	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, []string{"Kids"}, cfg.Schedules[0].Profiles)

	assert.NotNil(t, kids.ServiceLimitFor("youtube"))
	assert.Nil(t, kids.ServiceLimitFor("tiktok"))

	assert.Equal(t, 5*time.Minute, cfg.Settings.TickIntervalDuration())
	h, m := cfg.Settings.ResetClock()
	assert.Equal(t, 6, h)
	assert.Equal(t, 0, m)
}

func TestSettingsDefaults(t *testing.T) {
	cfg, err := LoadHCL([]byte(`profile "P" { enabled = true }`), "min.hcl")
	require.NoError(t, err)

	require.NotNil(t, cfg.Settings)
	assert.Equal(t, 5*time.Minute, cfg.Settings.TickIntervalDuration())
	assert.Equal(t, 30*time.Second, cfg.Settings.IdentityTTLDuration())
	assert.Equal(t, "curfew_blocked", cfg.Settings.BlockSet)
	assert.Equal(t, "curfew_monitored", cfg.Settings.MonitorSet)
	assert.Equal(t, time.Monday, cfg.Settings.WeekStartDay())
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff", false},
		{"aa-bb-cc-dd-ee-01", "aa:bb:cc:dd:ee:01", false},
		{"aabb.ccdd.ee02", "aa:bb:cc:dd:ee:02", false},
		{" AABBCCDDEE03 ", "aa:bb:cc:dd:ee:03", false},
		{"aa:bb:cc:dd:ee", "", true},
		{"zz:bb:cc:dd:ee:ff", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeMAC(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
		} else {
			require.NoError(t, err, "input %q", tt.in)
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestDuplicateMACRejected(t *testing.T) {
	bad := `
profile "A" {
  enabled = true
  device "one" { mac = "aa:bb:cc:dd:ee:01" }
}
profile "B" {
  enabled = true
  device "two" { mac = "AA-BB-CC-DD-EE-01" }
}
`
	_, err := LoadHCL([]byte(bad), "dup.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already assigned")
}

func TestDanglingReferencesAreWarnings(t *testing.T) {
	hcl := `
profile "Kids" {
  enabled = true
  service_limit "ghost" { daily_limit_minutes = 10 }
}
schedule "late" {
  profiles   = ["Nobody"]
  days       = ["mon"]
  start_time = "22:00"
  end_time   = "23:00"
  enabled    = true
}
`
	result, err := LoadHCLWithOptions([]byte(hcl), "dangling.hcl", DefaultLoadOptions())
	require.NoError(t, err)
	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0], "undefined service")
	assert.Contains(t, result.Warnings[1], "non-existent profile")
}

func TestLegacyScheduleMigration(t *testing.T) {
	legacy := `
schema_version = "1.0"
profile "Kids" { enabled = true }
schedule "bedtime" {
  profile_name = "Kids"
  days         = ["mon,tue,wed"]
  start_time   = "21:00"
  end_time     = "07:00"
  enabled      = true
}
`
	result, err := LoadHCLWithOptions([]byte(legacy), "legacy.hcl", DefaultLoadOptions())
	require.NoError(t, err)
	assert.True(t, result.WasMigrated)

	s := result.Config.Schedules[0]
	assert.Equal(t, []string{"Kids"}, s.Profiles)
	assert.Equal(t, []string{"mon", "tue", "wed"}, s.Days)
	assert.Empty(t, s.LegacyProfile)
}

func TestLoadJSON(t *testing.T) {
	data := []byte(`{
		"profiles": [
			{"name": "Kids", "daily_limit_minutes": 60, "enabled": true,
			 "devices": [{"device_name": "tablet", "mac_address": "aa:bb:cc:dd:ee:01", "enabled": true}]}
		],
		"schedules": [
			{"name": "old", "profile_name": "Kids", "days": ["sat,sun"],
			 "start_time": "20:00", "end_time": "08:00", "enabled": true}
		]
	}`)
	result, err := LoadJSONWithOptions(data, DefaultLoadOptions())
	require.NoError(t, err)
	assert.True(t, result.WasMigrated)
	assert.Equal(t, []string{"Kids"}, result.Config.Schedules[0].Profiles)
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("22:30")
	require.NoError(t, err)
	assert.Equal(t, 22, h)
	assert.Equal(t, 30, m)

	_, _, err = ParseClock("24:00")
	assert.Error(t, err)
	_, _, err = ParseClock("noon")
	assert.Error(t, err)
}
