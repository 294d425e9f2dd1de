package cmd

import (
	"fmt"

	"grimm.is/curfew/internal/brand"
	"grimm.is/curfew/internal/config"
)

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(configFile string, verbose bool) error {
	if configFile == "" {
		return fmt.Errorf("usage: %s check [-v] <config-file>", brand.BinaryName)
	}

	result, err := config.LoadFileWithOptions(configFile, config.LoadOptions{AutoMigrate: true})
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	cfg := result.Config
	fmt.Println("Configuration valid!")
	fmt.Printf("Schema Version: %s\n", cfg.SchemaVersion)
	fmt.Printf("Profiles:  %d\n", len(cfg.Profiles))
	fmt.Printf("Schedules: %d\n", len(cfg.Schedules))
	fmt.Printf("Services:  %d\n", len(cfg.Services))

	if result.WasMigrated {
		fmt.Println("Migration: legacy schema folded into", config.CurrentSchemaVersion)
	}
	for _, w := range result.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	if verbose {
		for _, p := range cfg.Profiles {
			limit := "unlimited"
			if p.DailyLimitMinutes > 0 {
				limit = fmt.Sprintf("%d min/day", p.DailyLimitMinutes)
				if p.WeekendBonusMinutes > 0 {
					limit += fmt.Sprintf(" (+%d weekend)", p.WeekendBonusMinutes)
				}
			}
			fmt.Printf("\nprofile %q: %s\n", p.Name, limit)
			for _, d := range p.Devices {
				fmt.Printf("  device %-20s %s\n", d.Name, d.MAC)
			}
		}
		for _, s := range cfg.Schedules {
			fmt.Printf("\nschedule %q: %s-%s %v -> %v\n",
				s.Name, s.StartTime, s.EndTime, s.Days, s.Profiles)
		}
	}
	return nil
}
