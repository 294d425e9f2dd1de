// Package cmd implements the CLI subcommands.
package cmd

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"grimm.is/curfew/internal/api"
	"grimm.is/curfew/internal/brand"
	"grimm.is/curfew/internal/clock"
	"grimm.is/curfew/internal/config"
	"grimm.is/curfew/internal/events"
	"grimm.is/curfew/internal/firewall"
	"grimm.is/curfew/internal/health"
	"grimm.is/curfew/internal/identity"
	"grimm.is/curfew/internal/ledger"
	"grimm.is/curfew/internal/logging"
	"grimm.is/curfew/internal/override"
	"grimm.is/curfew/internal/recon"
	"grimm.is/curfew/internal/state"
)

// RunDaemon assembles and runs the enforcement daemon until SIGINT or
// SIGTERM. SIGHUP reloads the configuration file in place.
func RunDaemon(configFile string, debug bool) error {
	logCfg := logging.DefaultConfig()
	if debug {
		logCfg.Level = logging.LevelDebug
	}
	logger := logging.New(logCfg)
	logging.SetDefault(logger)

	result, err := config.LoadFileWithOptions(configFile, config.LoadOptions{AutoMigrate: true})
	if err != nil {
		return err
	}
	cfg := result.Config
	for _, w := range result.Warnings {
		logger.Warn("config warning", "detail", w)
	}
	if result.WasMigrated {
		logger.Info("legacy configuration migrated", "file", configFile)
	}
	settings := cfg.Settings

	store, err := state.Open(state.Options{Path: settings.StatePath, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	hub := events.NewHub()
	clk := &clock.RealClock{}

	resolver := identity.NewResolver(identity.Options{
		Source: identity.NewMultiSource(
			identity.NewLeaseFileSource(settings.LeaseFile),
			identity.NewNeighborSource(),
		),
		Store:        store,
		Clock:        clk,
		Logger:       logger,
		TTL:          settings.IdentityTTLDuration(),
		OnlineWindow: settings.OnlineWindowDuration(),
	})

	nft, err := firewall.NewConn()
	if err != nil {
		return err
	}
	tables := firewall.NewTableStore(nft, firewall.TableConfig{
		Family:     settings.TableFamily,
		Table:      settings.TableName,
		BlockSet:   settings.BlockSet,
		MonitorSet: settings.MonitorSet,
	}, logger)
	if err := tables.Init(); err != nil {
		return err
	}

	led := ledger.New(store, clk, logger)
	ovr := override.NewManager(store, clk, logger, hub)

	engine := recon.New(recon.Options{
		Config:    cfg,
		Resolver:  resolver,
		Ledger:    led,
		Overrides: ovr,
		Sync:      firewall.NewSynchronizer(tables, logger, hub),
		Store:     store,
		Hub:       hub,
		Sampler:   recon.NewConntrackSampler(cfg.Services, clk, logger),
		Clock:     clk,
		Logger:    logger,
	})
	engine.Reload(cfg) // installs static address hints

	server := api.NewServer(api.ServerOptions{
		Listen:    settings.APIListen,
		Engine:    engine,
		Ledger:    led,
		Overrides: ovr,
		Store:     store,
		Hub:       hub,
		Logger:    logger,
		Checks: func() []health.Check {
			return []health.Check{
				health.CheckConntrack(),
				health.CheckLeaseFile(settings.LeaseFile),
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, unix.SIGHUP)
	go func() {
		for range hup {
			reloaded, err := config.LoadFileWithOptions(configFile, config.LoadOptions{AutoMigrate: true})
			if err != nil {
				logger.Error("reload failed, keeping previous config", "error", err)
				continue
			}
			for _, w := range reloaded.Warnings {
				logger.Warn("config warning", "detail", w)
			}
			engine.Reload(reloaded.Config)
		}
	}()

	go func() {
		if err := server.Start(ctx); err != nil {
			logger.Error("api server failed", "error", err)
			stop()
		}
	}()

	logger.Info("daemon started",
		"version", brand.Version, "config", configFile, "profiles", len(cfg.Profiles))
	if err := engine.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
