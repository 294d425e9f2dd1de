package config

import (
	"fmt"
	"strings"
)

// MigrateLegacy folds pre-1.1 shapes into the current schema. The old format
// allowed a schedule to name a single profile via "profile_name" and to carry
// its days as one comma-joined string; both coexisted with the new shapes for
// a while, so migration runs unconditionally and is idempotent.
//
// Returns whether anything changed plus human-readable notes for the log.
func MigrateLegacy(cfg *Config) (bool, []string) {
	var notes []string
	migrated := false

	for i := range cfg.Schedules {
		s := &cfg.Schedules[i]

		if len(s.Profiles) == 0 && s.LegacyProfile != "" {
			s.Profiles = []string{s.LegacyProfile}
			migrated = true
			notes = append(notes, fmt.Sprintf(
				"schedule %q: folded legacy profile_name into profiles list", s.Name))
		}
		s.LegacyProfile = ""

		// Old records stored days as "mon,tue,wed" in a single element.
		var days []string
		split := false
		for _, d := range s.Days {
			if strings.Contains(d, ",") {
				split = true
				for _, part := range strings.Split(d, ",") {
					if p := strings.TrimSpace(part); p != "" {
						days = append(days, p)
					}
				}
			} else {
				days = append(days, d)
			}
		}
		if split {
			s.Days = days
			migrated = true
			notes = append(notes, fmt.Sprintf(
				"schedule %q: split comma-joined day string", s.Name))
		}
	}

	return migrated, notes
}
