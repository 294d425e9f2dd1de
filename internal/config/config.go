// Package config provides the declarative policy source: profiles, devices,
// schedules, service definitions and global settings, loaded from HCL (or
// JSON) into an immutable snapshot consumed read-only by the enforcement core.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// CurrentSchemaVersion is written to new configs and used by the loader to
// decide whether legacy-shape migration applies.
const CurrentSchemaVersion = "1.1"

// Config is the root policy snapshot. The enforcement core treats it as
// versioned-on-read: a new snapshot is loaded, never mutated in place.
type Config struct {
	SchemaVersion string     `hcl:"schema_version,optional" json:"schema_version,omitempty"`
	Settings      *Settings  `hcl:"settings,block" json:"settings,omitempty"`
	Profiles      []Profile  `hcl:"profile,block" json:"profiles"`
	Schedules     []Schedule `hcl:"schedule,block" json:"schedules"`
	Services      []Service  `hcl:"service,block" json:"services"`
}

// Settings holds global enforcement parameters. Durations are HCL strings
// ("5m", "30s") parsed once by the accessor methods below.
type Settings struct {
	TickInterval string `hcl:"tick_interval,optional" json:"tick_interval,omitempty"`
	ResetTime    string `hcl:"reset_time,optional" json:"reset_time,omitempty"`
	WeekStart    string `hcl:"week_start,optional" json:"week_start,omitempty"`
	IdentityTTL  string `hcl:"identity_ttl,optional" json:"identity_ttl,omitempty"`
	OnlineWindow string `hcl:"online_window,optional" json:"online_window,omitempty"`
	LeaseFile    string `hcl:"lease_file,optional" json:"lease_file,omitempty"`
	TableFamily  string `hcl:"table_family,optional" json:"table_family,omitempty"`
	TableName    string `hcl:"table_name,optional" json:"table_name,omitempty"`
	BlockSet     string `hcl:"block_set,optional" json:"block_set,omitempty"`
	MonitorSet   string `hcl:"monitor_set,optional" json:"monitor_set,omitempty"`
	StatePath    string `hcl:"state_path,optional" json:"state_path,omitempty"`
	APIListen    string `hcl:"api_listen,optional" json:"api_listen,omitempty"`
}

// Profile is a named policy group sharing one time budget.
// Profile names are unique and case-sensitive.
type Profile struct {
	Name                string         `hcl:"name,label" json:"name"`
	DailyLimitMinutes   int            `hcl:"daily_limit_minutes,optional" json:"daily_limit_minutes"`
	WeekendBonusMinutes int            `hcl:"weekend_bonus_minutes,optional" json:"weekend_bonus_minutes"`
	Enabled             bool           `hcl:"enabled,optional" json:"enabled"`
	ServiceLimits       []ServiceLimit `hcl:"service_limit,block" json:"service_limits,omitempty"`
	Devices             []Device       `hcl:"device,block" json:"devices,omitempty"`
}

// ServiceLimit caps time spent on one tracked service within a profile's day.
type ServiceLimit struct {
	Service             string `hcl:"service,label" json:"service"`
	DailyLimitMinutes   int    `hcl:"daily_limit_minutes" json:"daily_limit_minutes"`
	WeekendBonusMinutes int    `hcl:"weekend_bonus_minutes,optional" json:"weekend_bonus_minutes"`
}

// Device belongs to exactly one profile. The MAC address is the durable
// identity; IP is only an optional static hint for when leases are absent.
type Device struct {
	Name    string `hcl:"name,label" json:"device_name"`
	MAC     string `hcl:"mac" json:"mac_address"`
	IP      string `hcl:"ip,optional" json:"ip_address,omitempty"`
	Enabled bool   `hcl:"enabled,optional" json:"enabled"`
}

// Schedule blocks its profiles during a day-of-week time window, regardless
// of remaining quota. end_time numerically before start_time means the window
// crosses midnight.
type Schedule struct {
	Name      string   `hcl:"name,label" json:"name"`
	Profiles  []string `hcl:"profiles,optional" json:"profile_names"`
	Days      []string `hcl:"days" json:"days"`
	StartTime string   `hcl:"start_time" json:"start_time"`
	EndTime   string   `hcl:"end_time" json:"end_time"`
	Enabled   bool     `hcl:"enabled,optional" json:"enabled"`

	// LegacyProfile holds the pre-1.1 singular reference. The loader folds it
	// into Profiles once; it is never read after migration.
	LegacyProfile string `hcl:"profile_name,optional" json:"profile_name,omitempty"`
}

// AppliesTo reports whether the schedule targets the named profile.
func (s *Schedule) AppliesTo(profile string) bool {
	for _, p := range s.Profiles {
		if p == profile {
			return true
		}
	}
	return false
}

// Service names a set of IP/CIDR ranges supplied externally (the core is not
// a traffic classifier; it trusts these lists).
type Service struct {
	Name   string   `hcl:"name,label" json:"name"`
	Ranges []string `hcl:"ranges" json:"ranges"`
}

// --- Defaults ---

// DefaultSettings returns the settings used when a field (or the whole block)
// is absent.
func DefaultSettings() Settings {
	return Settings{
		TickInterval: "5m",
		ResetTime:    "00:00",
		WeekStart:    "monday",
		IdentityTTL:  "30s",
		OnlineWindow: "15m",
		LeaseFile:    "/var/lib/misc/dnsmasq.leases",
		TableFamily:  "inet",
		TableName:    "curfew",
		BlockSet:     "curfew_blocked",
		MonitorSet:   "curfew_monitored",
		StatePath:    "/var/lib/curfew/state.db",
		APIListen:    "127.0.0.1:8475",
	}
}

// TickIntervalDuration parses the tick interval, defaulting to 5 minutes.
func (s *Settings) TickIntervalDuration() time.Duration {
	return parseDurationOr(s.TickInterval, 5*time.Minute)
}

// IdentityTTLDuration parses the identity cache TTL, defaulting to 30 seconds.
func (s *Settings) IdentityTTLDuration() time.Duration {
	return parseDurationOr(s.IdentityTTL, 30*time.Second)
}

// OnlineWindowDuration parses the recent-activity window, defaulting to 15 minutes.
func (s *Settings) OnlineWindowDuration() time.Duration {
	return parseDurationOr(s.OnlineWindow, 15*time.Minute)
}

// ResetClock returns the daily reset boundary as hour and minute.
func (s *Settings) ResetClock() (hour, minute int) {
	h, m, err := ParseClock(s.ResetTime)
	if err != nil {
		return 0, 0
	}
	return h, m
}

// WeekStartDay returns the configured first day of the rolling week.
func (s *Settings) WeekStartDay() time.Weekday {
	if d, ok := dayNames[strings.ToLower(s.WeekStart)]; ok {
		return d
	}
	return time.Monday
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// --- Lookup helpers ---

// FindProfile returns the profile with the given name, or nil.
func (c *Config) FindProfile(name string) *Profile {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i]
		}
	}
	return nil
}

// FindService returns the service definition with the given name, or nil.
func (c *Config) FindService(name string) *Service {
	for i := range c.Services {
		if c.Services[i].Name == name {
			return &c.Services[i]
		}
	}
	return nil
}

// FindDevice returns the device with the given canonical MAC and its owning
// profile, or (nil, nil).
func (c *Config) FindDevice(mac string) (*Device, *Profile) {
	for i := range c.Profiles {
		p := &c.Profiles[i]
		for j := range p.Devices {
			if p.Devices[j].MAC == mac {
				return &p.Devices[j], p
			}
		}
	}
	return nil, nil
}

// ServiceLimitFor returns the profile's limit for a service, or nil.
func (p *Profile) ServiceLimitFor(service string) *ServiceLimit {
	for i := range p.ServiceLimits {
		if p.ServiceLimits[i].Service == service {
			return &p.ServiceLimits[i]
		}
	}
	return nil
}

// --- MAC and clock parsing ---

var macSepRe = regexp.MustCompile(`[:\-\.]`)

// NormalizeMAC canonicalizes a hardware address to lower-case colon-separated
// form ("AA-BB-CC-DD-EE-01" -> "aa:bb:cc:dd:ee:01"). Returns an error for
// anything that is not 6 octets of hex.
func NormalizeMAC(mac string) (string, error) {
	hex := macSepRe.ReplaceAllString(strings.TrimSpace(mac), "")
	hex = strings.ToLower(hex)
	if len(hex) != 12 {
		return "", fmt.Errorf("invalid MAC address %q", mac)
	}
	for _, r := range hex {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", fmt.Errorf("invalid MAC address %q", mac)
		}
	}
	parts := make([]string, 6)
	for i := 0; i < 6; i++ {
		parts[i] = hex[i*2 : i*2+2]
	}
	return strings.Join(parts, ":"), nil
}

// ParseClock parses an "HH:MM" 24h time-of-day.
func ParseClock(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return hour, minute, nil
}

var dayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseDay maps a day name ("monday", "Mon") to a time.Weekday.
func ParseDay(s string) (time.Weekday, bool) {
	d, ok := dayNames[strings.ToLower(strings.TrimSpace(s))]
	return d, ok
}
