package recon

import (
	"context"
	"net/netip"

	"grimm.is/curfew/internal/config"
	"grimm.is/curfew/internal/events"
	"grimm.is/curfew/internal/ledger"
	"grimm.is/curfew/internal/metrics"
	"grimm.is/curfew/internal/policy"
	"grimm.is/curfew/internal/state"
)

// reconcile is one full pass: resets, resolve, accrue, evaluate, converge.
func (e *Engine) reconcile(ctx context.Context) (*TickReport, error) {
	report := &TickReport{Verdicts: make(map[string]DeviceView)}

	e.mu.RLock()
	cfg := e.cfg
	eval := e.evaluator
	e.mu.RUnlock()
	settings := cfg.Settings
	if settings == nil {
		s := config.DefaultSettings()
		settings = &s
	}

	// Boundary resets come first so a tick that crosses midnight evaluates
	// against zeroed counters.
	resetH, resetM := settings.ResetClock()
	resets, err := e.ledger.ApplyResets(resetH, resetM, settings.WeekStartDay())
	if err != nil {
		return report, err
	}
	if resets.Daily {
		report.Resets = append(report.Resets, "daily")
		e.publish(events.EventUsageReset, events.ResetData{Scope: "daily", Boundary: resets.DailyBoundary})
	}
	if resets.Weekly {
		report.Resets = append(report.Resets, "weekly")
		e.publish(events.EventUsageReset, events.ResetData{Scope: "weekly", Boundary: resets.WeeklyBoundary})
	}

	e.resolver.EnsureFresh(ctx)

	type deviceState struct {
		profile  *config.Profile
		device   *config.Device
		addr     netip.Addr
		resolved bool
		online   bool
		services map[string]int
	}

	var devices []deviceState
	assignments := make(map[string][]string)
	for pi := range cfg.Profiles {
		p := &cfg.Profiles[pi]
		for di := range p.Devices {
			d := &p.Devices[di]
			if !d.Enabled {
				continue
			}
			ds := deviceState{profile: p, device: d}
			if addr, ok := e.resolver.Resolve(d.MAC); ok {
				ds.addr = addr
				ds.resolved = true
				ds.online = e.resolver.Online(d.MAC)
				if e.sampler != nil {
					ds.services = e.sampler.ActiveServices(addr)
				}
				assignments[p.Name] = append(assignments[p.Name], addr.String())
			}
			devices = append(devices, ds)
		}
	}

	e.prevMu.Lock()
	prevBlocked := e.prevBlocked
	e.prevMu.Unlock()

	// Accrue for online devices that were not blocked last tick: time behind
	// a dropped connection is not screen time.
	minutes := int(settings.TickIntervalDuration().Minutes())
	var samples []ledger.Sample
	for _, ds := range devices {
		if !ds.online || prevBlocked[ds.device.MAC] {
			continue
		}
		samples = append(samples, ledger.Sample{
			Address:  ds.addr.String(),
			Services: ds.services,
		})
	}
	if err := e.ledger.Accrue(samples, minutes); err != nil {
		// Evaluation continues against the last persisted aggregates.
		e.logger.Error("usage accrual failed", "error", err)
		report.Errors++
	}

	aggregates, err := e.ledger.Aggregate(assignments)
	if err != nil {
		return report, err
	}

	active, err := e.overrides.Active()
	if err != nil {
		e.logger.Error("failed to load overrides", "error", err)
		report.Errors++
		active = nil
	}

	var blockAddrs, monitorAddrs []netip.Addr
	blocked := make(map[string]bool)
	for _, ds := range devices {
		mac := ds.device.MAC
		view := DeviceView{
			Name:    ds.device.Name,
			Profile: ds.profile.Name,
			MAC:     mac,
			Online:  ds.online,
		}
		if !ds.resolved {
			// No address means nothing to enforce against. The device gets a
			// verdict the moment it shows up in a lease.
			view.Verdict = "unresolved"
			report.Verdicts[mac] = view
			continue
		}
		view.IP = ds.addr.String()
		if ds.online {
			report.Online++
		}

		in := policy.Input{
			Profile:        ds.profile,
			Usage:          aggregates[ds.profile.Name],
			ActiveServices: ds.services,
		}
		if ov, ok := active[mac]; ok {
			in.Override = &ov
		}
		v := eval.Evaluate(in)
		metrics.Get().Verdicts.WithLabelValues(string(v.Kind)).Inc()
		view.Verdict = string(v.Kind)
		view.Detail = v.Detail()
		report.Verdicts[mac] = view

		if v.Blocked() {
			// Offline devices stay in the block set too: the block must hold
			// from the first packet when they come back.
			blocked[mac] = true
			blockAddrs = append(blockAddrs, ds.addr)
		}
		// Every resolved device is monitored regardless of verdict, so usage
		// stays visible while a block is in force.
		monitorAddrs = append(monitorAddrs, ds.addr)

		if blocked[mac] != prevBlocked[mac] {
			kind := events.EventDeviceUnblocked
			if blocked[mac] {
				kind = events.EventDeviceBlocked
			}
			e.publish(kind, events.VerdictData{
				MAC: mac, IP: view.IP, Profile: ds.profile.Name,
				Verdict: view.Verdict, Detail: view.Detail,
			})
		}
	}
	report.Blocked = len(blocked)

	// The ledger is already committed; a sync failure degrades enforcement
	// but never loses accounting. The same diff retries next tick.
	syncRes := e.sync.Sync(blockAddrs, monitorAddrs)
	report.Added = syncRes.Added
	report.Removed = syncRes.Removed
	report.Errors += len(syncRes.Errors)

	e.prevMu.Lock()
	e.prevBlocked = blocked
	e.prevMu.Unlock()

	now := e.clock.Now()
	err = e.store.Update(func(tx state.Tx) error {
		var wm state.Watermarks
		if err := state.GetJSON(tx, state.BucketMeta, state.KeyWatermarks, &wm); err != nil && err != state.ErrNotFound {
			return err
		}
		wm.LastCheck = now
		return state.SetJSON(tx, state.BucketMeta, state.KeyWatermarks, wm)
	})
	if err != nil {
		e.logger.Error("failed to record check watermark", "error", err)
		report.Errors++
	}

	return report, nil
}
