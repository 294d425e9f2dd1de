// Package recon runs the reconciliation loop. Each tick resolves device
// identities, accrues usage, evaluates policy, and converges the firewall
// sets toward the verdicts. Every phase is state-based: a tick computes the
// full desired state and diffs, so a missed tick costs freshness, never
// correctness.
package recon

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/curfew/internal/clock"
	"grimm.is/curfew/internal/config"
	"grimm.is/curfew/internal/events"
	"grimm.is/curfew/internal/firewall"
	"grimm.is/curfew/internal/identity"
	"grimm.is/curfew/internal/ledger"
	"grimm.is/curfew/internal/logging"
	"grimm.is/curfew/internal/metrics"
	"grimm.is/curfew/internal/override"
	"grimm.is/curfew/internal/policy"
	"grimm.is/curfew/internal/state"
)

// ServiceSampler reports how many active connections an address has to each
// tracked service. A nil sampler disables service-scoped accounting.
type ServiceSampler interface {
	ActiveServices(addr netip.Addr) map[string]int
}

// Options wires the engine's collaborators.
type Options struct {
	Config    *config.Config
	Resolver  *identity.Resolver
	Ledger    *ledger.Ledger
	Overrides *override.Manager
	Sync      *firewall.Synchronizer
	Store     state.Store
	Hub       *events.Hub
	Sampler   ServiceSampler
	Clock     clock.Clock
	Logger    *logging.Logger
}

// Engine is the reconciliation loop.
type Engine struct {
	resolver  *identity.Resolver
	ledger    *ledger.Ledger
	overrides *override.Manager
	sync      *firewall.Synchronizer
	store     state.Store
	hub       *events.Hub
	sampler   ServiceSampler
	clock     clock.Clock
	logger    *logging.Logger

	mu        sync.RWMutex
	cfg       *config.Config
	evaluator *policy.Evaluator

	// busy enforces skip-not-queue: an overlapping tick request returns
	// immediately instead of piling up behind a slow one.
	busy atomic.Bool

	// prevBlocked remembers which devices the last tick blocked, for
	// transition events and to stop blocked devices from accruing time they
	// cannot use.
	prevMu      sync.Mutex
	prevBlocked map[string]bool

	lastReport atomic.Pointer[TickReport]
}

// TickReport summarizes one reconciliation pass.
type TickReport struct {
	Started  time.Time             `json:"started"`
	Duration time.Duration         `json:"duration"`
	Online   int                   `json:"online"`
	Blocked  int                   `json:"blocked"`
	Added    int                   `json:"added"`
	Removed  int                   `json:"removed"`
	Errors   int                   `json:"errors"`
	Resets   []string              `json:"resets,omitempty"`
	Verdicts map[string]DeviceView `json:"verdicts,omitempty"`
}

// DeviceView is one device's outcome within a tick.
type DeviceView struct {
	Name    string `json:"name"`
	Profile string `json:"profile"`
	MAC     string `json:"mac"`
	IP      string `json:"ip,omitempty"`
	Online  bool   `json:"online"`
	Verdict string `json:"verdict"`
	Detail  string `json:"detail,omitempty"`
}

// ErrTickInProgress is returned when a tick is skipped because the previous
// one has not finished.
var ErrTickInProgress = errTickInProgress{}

type errTickInProgress struct{}

func (errTickInProgress) Error() string { return "reconciliation already in progress" }

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Engine{
		resolver:    opts.Resolver,
		ledger:      opts.Ledger,
		overrides:   opts.Overrides,
		sync:        opts.Sync,
		store:       opts.Store,
		hub:         opts.Hub,
		sampler:     opts.Sampler,
		clock:       opts.Clock,
		logger:      opts.Logger.WithComponent("recon"),
		cfg:         opts.Config,
		evaluator:   policy.NewEvaluator(opts.Config, opts.Clock),
		prevBlocked: make(map[string]bool),
	}
}

// Reload swaps in a new configuration snapshot. The running tick finishes
// against the old snapshot; the next tick sees the new one.
func (e *Engine) Reload(cfg *config.Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.evaluator = policy.NewEvaluator(cfg, e.clock)
	e.mu.Unlock()

	hints := make(map[string]string)
	for _, p := range cfg.Profiles {
		for _, d := range p.Devices {
			if d.IP != "" {
				hints[d.MAC] = d.IP
			}
		}
	}
	e.resolver.SetStaticHints(hints)
	e.logger.Info("configuration reloaded",
		"profiles", len(cfg.Profiles), "schedules", len(cfg.Schedules))
}

// Config returns the current configuration snapshot.
func (e *Engine) Config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// LastReport returns the most recent tick report, nil before the first tick.
func (e *Engine) LastReport() *TickReport {
	return e.lastReport.Load()
}

// Run ticks at the configured interval until the context is canceled. The
// first tick runs immediately so a restart converges without waiting.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.Config().Settings.TickIntervalDuration()
	e.logger.Info("reconciliation loop started", "interval", interval)

	if _, err := e.Tick(ctx); err != nil && err != ErrTickInProgress {
		e.logger.Error("initial reconciliation failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("reconciliation loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Tick(ctx); err != nil && err != ErrTickInProgress {
				e.logger.Error("reconciliation failed", "error", err)
			}
		}
	}
}

// Tick runs one reconciliation pass. If a pass is already running the call
// returns ErrTickInProgress; the next scheduled tick recomputes from full
// state, so skipping loses nothing.
func (e *Engine) Tick(ctx context.Context) (*TickReport, error) {
	if !e.busy.CompareAndSwap(false, true) {
		metrics.Get().TicksSkipped.Inc()
		e.logger.Warn("tick skipped, previous still running")
		return nil, ErrTickInProgress
	}
	defer e.busy.Store(false)

	started := e.clock.Now()
	report, err := e.reconcile(ctx)
	report.Started = started
	report.Duration = e.clock.Now().Sub(started)

	m := metrics.Get()
	m.TickDuration.Observe(report.Duration.Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	} else if report.Errors > 0 {
		outcome = "degraded"
	} else {
		m.LastTickSuccess.Set(float64(started.Unix()))
	}
	m.TicksTotal.WithLabelValues(outcome).Inc()
	m.DevicesOnline.Set(float64(report.Online))
	m.DevicesBlocked.Set(float64(report.Blocked))

	e.lastReport.Store(report)
	e.publish(events.EventTickComplete, events.TickData{
		Online:   report.Online,
		Blocked:  report.Blocked,
		Errors:   report.Errors,
		Duration: report.Duration,
	})
	return report, err
}

func (e *Engine) publish(t events.EventType, data any) {
	if e.hub == nil {
		return
	}
	e.hub.Publish(events.Event{Type: t, Source: "recon", Data: data})
}
