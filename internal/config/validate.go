package config

import (
	"fmt"
	"net/netip"
)

// Validate checks the snapshot for internal consistency.
//
// Two classes of problems:
//   - hard errors (duplicate profile names, duplicate MACs, unparseable
//     times): the config is rejected;
//   - soft inconsistencies (schedule referencing a missing profile, service
//     limit for an undefined service, bad CIDR in a service list): the
//     offending rule is left in place but reported as a warning, and the
//     evaluator skips it. One bad rule must not take the whole policy down.
func Validate(cfg *Config) ([]string, error) {
	var warnings []string

	profileNames := make(map[string]bool)
	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		if p.Name == "" {
			return nil, fmt.Errorf("profile with empty name")
		}
		if profileNames[p.Name] {
			return nil, fmt.Errorf("duplicate profile name %q", p.Name)
		}
		profileNames[p.Name] = true

		if p.DailyLimitMinutes < 0 || p.WeekendBonusMinutes < 0 {
			return nil, fmt.Errorf("profile %q: negative limit", p.Name)
		}
	}

	macs := make(map[string]string)
	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		for j := range p.Devices {
			d := &p.Devices[j]
			if prev, dup := macs[d.MAC]; dup {
				return nil, fmt.Errorf("device %q: MAC %s already assigned to profile %q",
					d.Name, d.MAC, prev)
			}
			macs[d.MAC] = p.Name
			if d.IP != "" {
				if _, err := netip.ParseAddr(d.IP); err != nil {
					warnings = append(warnings, fmt.Sprintf(
						"device %q: ignoring invalid static IP %q", d.Name, d.IP))
					d.IP = ""
				}
			}
		}
	}

	serviceNames := make(map[string]bool)
	for i := range cfg.Services {
		svc := &cfg.Services[i]
		if serviceNames[svc.Name] {
			return nil, fmt.Errorf("duplicate service name %q", svc.Name)
		}
		serviceNames[svc.Name] = true
		for _, r := range svc.Ranges {
			if !validRange(r) {
				warnings = append(warnings, fmt.Sprintf(
					"service %q: ignoring invalid range %q", svc.Name, r))
			}
		}
	}

	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		for _, sl := range p.ServiceLimits {
			if !serviceNames[sl.Service] {
				warnings = append(warnings, fmt.Sprintf(
					"profile %q: service limit references undefined service %q", p.Name, sl.Service))
			}
		}
	}

	for i := range cfg.Schedules {
		s := &cfg.Schedules[i]
		if _, _, err := ParseClock(s.StartTime); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", s.Name, err)
		}
		if _, _, err := ParseClock(s.EndTime); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", s.Name, err)
		}
		for _, d := range s.Days {
			if _, ok := ParseDay(d); !ok {
				warnings = append(warnings, fmt.Sprintf(
					"schedule %q: ignoring unknown day %q", s.Name, d))
			}
		}
		for _, pn := range s.Profiles {
			if !profileNames[pn] {
				warnings = append(warnings, fmt.Sprintf(
					"schedule %q: references non-existent profile %q", s.Name, pn))
			}
		}
	}

	return warnings, nil
}

func validRange(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	if _, err := netip.ParseAddr(s); err == nil {
		return true
	}
	return false
}
