package cmd

import (
	"grimm.is/curfew/internal/config"
)

// ResolveAddr picks the API address: an explicit flag wins, then the config
// file's setting, then the shipped default.
func ResolveAddr(configFile, flagAddr string) string {
	if flagAddr != "" {
		return flagAddr
	}
	if result, err := config.LoadFileWithOptions(configFile, config.LoadOptions{AutoMigrate: true}); err == nil {
		if l := result.Config.Settings.APIListen; l != "" {
			return l
		}
	}
	return config.DefaultSettings().APIListen
}
