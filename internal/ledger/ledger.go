// Package ledger owns the usage counters. Accrual, profile aggregation and
// boundary resets all run as read-modify-write transactions against the state
// store, so the counters stay consistent no matter which actor (tick loop,
// API, manual reset) touches them.
package ledger

import (
	"grimm.is/curfew/internal/clock"
	"grimm.is/curfew/internal/logging"
	"grimm.is/curfew/internal/metrics"
	"grimm.is/curfew/internal/state"
)

// Sample is one online address observed during a tick, with the number of
// active connections it had to each tracked service.
type Sample struct {
	Address  string
	Services map[string]int
}

// Ledger performs usage accounting against the state store.
type Ledger struct {
	store  state.Store
	clock  clock.Clock
	logger *logging.Logger
}

// New creates a ledger over the given store.
func New(store state.Store, clk clock.Clock, logger *logging.Logger) *Ledger {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ledger{store: store, clock: clk, logger: logger.WithComponent("ledger")}
}

// Accrue adds minutes of usage to every sampled address in one transaction.
// An address accrues at most once per call regardless of how many devices
// currently resolve to it.
func (l *Ledger) Accrue(samples []Sample, minutes int) error {
	if minutes <= 0 || len(samples) == 0 {
		return nil
	}
	now := l.clock.Now()

	seen := make(map[string]bool, len(samples))
	return l.store.Update(func(tx state.Tx) error {
		for _, s := range samples {
			if s.Address == "" || seen[s.Address] {
				continue
			}
			seen[s.Address] = true

			var rec state.UsageRecord
			if err := state.GetJSON(tx, state.BucketUsage, s.Address, &rec); err != nil {
				if err != state.ErrNotFound {
					return err
				}
				rec = state.UsageRecord{Address: s.Address}
			}
			rec.UsageToday += minutes
			rec.UsageWeek += minutes
			rec.LastSeen = now

			for svc, conns := range s.Services {
				if rec.Services == nil {
					rec.Services = make(map[string]state.ServiceUsage)
				}
				su := rec.Services[svc]
				su.UsageToday += minutes
				su.UsageWeek += minutes
				su.LastSeen = now
				su.ActiveConnections = conns
				rec.Services[svc] = su
			}

			if err := state.SetJSON(tx, state.BucketUsage, s.Address, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Aggregate recomputes per-profile usage from the per-address records and the
// current profile→address assignment, and persists the result. Aggregates are
// derived fresh each call rather than incremented, so a device that switched
// addresses mid-day keeps counting against its profile.
func (l *Ledger) Aggregate(assignments map[string][]string) (map[string]state.ProfileUsage, error) {
	now := l.clock.Now()
	out := make(map[string]state.ProfileUsage, len(assignments))

	err := l.store.Update(func(tx state.Tx) error {
		usage, err := state.ListJSON[state.UsageRecord](txLister{tx}, state.BucketUsage)
		if err != nil {
			return err
		}

		for profile, addrs := range assignments {
			agg := state.ProfileUsage{Profile: profile, UpdatedAt: now}
			for _, addr := range addrs {
				rec, ok := usage[addr]
				if !ok {
					continue
				}
				agg.UsageToday += rec.UsageToday
				agg.UsageWeek += rec.UsageWeek
				for svc, su := range rec.Services {
					if agg.Services == nil {
						agg.Services = make(map[string]state.ServiceUsage)
					}
					total := agg.Services[svc]
					total.UsageToday += su.UsageToday
					total.UsageWeek += su.UsageWeek
					total.ActiveConnections += su.ActiveConnections
					if su.LastSeen.After(total.LastSeen) {
						total.LastSeen = su.LastSeen
					}
					agg.Services[svc] = total
				}
			}
			if err := state.SetJSON(tx, state.BucketProfiles, profile, agg); err != nil {
				return err
			}
			out[profile] = agg
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for profile, agg := range out {
		metrics.Get().ProfileUsageToday.WithLabelValues(profile).Set(float64(agg.UsageToday))
	}
	return out, nil
}

// ProfileUsage returns the last persisted aggregate for one profile.
func (l *Ledger) ProfileUsage(profile string) (state.ProfileUsage, error) {
	var agg state.ProfileUsage
	err := state.GetJSON(l.store, state.BucketProfiles, profile, &agg)
	if err == state.ErrNotFound {
		return state.ProfileUsage{Profile: profile}, nil
	}
	return agg, err
}

// txLister adapts a Tx to the ListJSON constraint.
type txLister struct{ tx state.Tx }

func (t txLister) List(bucket string) (map[string][]byte, error) {
	return t.tx.List(bucket)
}
