package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// LoadOptions controls how configs are loaded.
type LoadOptions struct {
	// AutoMigrate folds legacy shapes (singular schedule profile references,
	// comma-joined day strings) into the current schema once at load time.
	AutoMigrate bool

	// SkipValidation loads without cross-reference checks (used by tooling
	// that wants to inspect a broken config).
	SkipValidation bool
}

// DefaultLoadOptions returns sensible defaults for loading configs.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{AutoMigrate: true}
}

// LoadResult contains the loaded config and metadata about the load.
type LoadResult struct {
	Config      *Config
	WasMigrated bool
	Warnings    []string
}

// LoadFile loads a config file (HCL or JSON, by extension).
func LoadFile(path string) (*Config, error) {
	result, err := LoadFileWithOptions(path, DefaultLoadOptions())
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadFileWithOptions loads a config file with explicit options.
func LoadFileWithOptions(path string, opts LoadOptions) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return LoadJSONWithOptions(data, opts)
	default:
		return LoadHCLWithOptions(data, path, opts)
	}
}

// LoadHCL loads config from HCL bytes with default options.
func LoadHCL(data []byte, filename string) (*Config, error) {
	result, err := LoadHCLWithOptions(data, filename, DefaultLoadOptions())
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadHCLWithOptions loads HCL with explicit options.
func LoadHCLWithOptions(data []byte, filename string, opts LoadOptions) (*LoadResult, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return nil, fmt.Errorf("HCL parse error: %w", err)
	}
	return finishLoad(&cfg, opts)
}

// LoadJSONWithOptions loads the JSON representation (used by exports and the
// legacy installer format).
func LoadJSONWithOptions(data []byte, opts LoadOptions) (*LoadResult, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}
	return finishLoad(&cfg, opts)
}

// finishLoad applies defaults, migration and validation in that order.
func finishLoad(cfg *Config, opts LoadOptions) (*LoadResult, error) {
	result := &LoadResult{Config: cfg}

	applyDefaults(cfg)

	if opts.AutoMigrate {
		migrated, notes := MigrateLegacy(cfg)
		result.WasMigrated = migrated
		result.Warnings = append(result.Warnings, notes...)
	}

	if err := normalize(cfg); err != nil {
		return nil, err
	}

	if !opts.SkipValidation {
		warnings, err := Validate(cfg)
		if err != nil {
			return nil, err
		}
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = CurrentSchemaVersion
	}
	def := DefaultSettings()
	if cfg.Settings == nil {
		cfg.Settings = &def
		return
	}
	s := cfg.Settings
	if s.TickInterval == "" {
		s.TickInterval = def.TickInterval
	}
	if s.ResetTime == "" {
		s.ResetTime = def.ResetTime
	}
	if s.WeekStart == "" {
		s.WeekStart = def.WeekStart
	}
	if s.IdentityTTL == "" {
		s.IdentityTTL = def.IdentityTTL
	}
	if s.OnlineWindow == "" {
		s.OnlineWindow = def.OnlineWindow
	}
	if s.LeaseFile == "" {
		s.LeaseFile = def.LeaseFile
	}
	if s.TableFamily == "" {
		s.TableFamily = def.TableFamily
	}
	if s.TableName == "" {
		s.TableName = def.TableName
	}
	if s.BlockSet == "" {
		s.BlockSet = def.BlockSet
	}
	if s.MonitorSet == "" {
		s.MonitorSet = def.MonitorSet
	}
	if s.StatePath == "" {
		s.StatePath = def.StatePath
	}
	if s.APIListen == "" {
		s.APIListen = def.APIListen
	}
}

// normalize canonicalizes MAC addresses in place. A malformed MAC is a hard
// error: enforcement keyed on a bad identity is worse than refusing to start.
func normalize(cfg *Config) error {
	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		for j := range p.Devices {
			mac, err := NormalizeMAC(p.Devices[j].MAC)
			if err != nil {
				return fmt.Errorf("profile %q device %q: %w", p.Name, p.Devices[j].Name, err)
			}
			p.Devices[j].MAC = mac
		}
	}
	return nil
}
