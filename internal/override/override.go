// Package override manages time-bounded grants: temporary allowances that
// suppress blocking for one device, and manual blocks that force it. Grants
// are keyed by MAC, last write wins, and expire on their own; expired records
// are swept lazily rather than by a timer.
package override

import (
	"fmt"
	"time"

	"grimm.is/curfew/internal/clock"
	"grimm.is/curfew/internal/config"
	"grimm.is/curfew/internal/events"
	"grimm.is/curfew/internal/logging"
	"grimm.is/curfew/internal/metrics"
	"grimm.is/curfew/internal/state"
)

// DefaultDuration applies when a grant request does not say how long.
const DefaultDuration = 30 * time.Minute

// MaxDuration caps a single grant; longer allowances belong in the config.
const MaxDuration = 24 * time.Hour

// Manager owns the override bucket in the state store.
type Manager struct {
	store  state.Store
	clock  clock.Clock
	logger *logging.Logger
	hub    *events.Hub
}

// NewManager creates an override manager. The hub may be nil in tests.
func NewManager(store state.Store, clk clock.Clock, logger *logging.Logger, hub *events.Hub) *Manager {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		store:  store,
		clock:  clk,
		logger: logger.WithComponent("override"),
		hub:    hub,
	}
}

// Grant creates or replaces the grant for a device. A zero duration uses the
// default; block makes it a manual block instead of an allowance.
func (m *Manager) Grant(mac string, duration time.Duration, reason string, block bool) (state.Override, error) {
	canonical, err := config.NormalizeMAC(mac)
	if err != nil {
		return state.Override{}, err
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	if duration > MaxDuration {
		return state.Override{}, fmt.Errorf("duration %s exceeds the %s maximum", duration, MaxDuration)
	}

	now := m.clock.Now()
	ov := state.Override{
		MAC:       canonical,
		GrantedAt: now,
		ExpiresAt: now.Add(duration),
		Reason:    reason,
		Block:     block,
	}
	err = m.store.Update(func(tx state.Tx) error {
		return state.SetJSON(tx, state.BucketOverrides, canonical, ov)
	})
	if err != nil {
		return state.Override{}, err
	}

	kind := "allow"
	if block {
		kind = "block"
	}
	metrics.Get().OverridesGranted.WithLabelValues(kind).Inc()
	m.logger.Audit("override_grant", canonical, map[string]any{
		"reason": fmt.Sprintf("%s until %s: %s", kind, ov.ExpiresAt.Format(time.RFC3339), reason)})
	m.publish(events.EventOverrideGranted, ov)
	return ov, nil
}

// Revoke removes a device's grant. Revoking a device with no grant is a no-op.
func (m *Manager) Revoke(mac string) error {
	canonical, err := config.NormalizeMAC(mac)
	if err != nil {
		return err
	}

	var revoked *state.Override
	err = m.store.Update(func(tx state.Tx) error {
		var ov state.Override
		if err := state.GetJSON(tx, state.BucketOverrides, canonical, &ov); err != nil {
			if err == state.ErrNotFound {
				return nil
			}
			return err
		}
		revoked = &ov
		return tx.Delete(state.BucketOverrides, canonical)
	})
	if err != nil || revoked == nil {
		return err
	}

	m.logger.Audit("override_revoke", canonical, map[string]any{"reason": revoked.Reason})
	m.publish(events.EventOverrideRevoked, *revoked)
	return nil
}

// Get returns the device's grant if one is active at the current time.
func (m *Manager) Get(mac string) (*state.Override, error) {
	canonical, err := config.NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}
	var ov state.Override
	if err := state.GetJSON(m.store, state.BucketOverrides, canonical, &ov); err != nil {
		if err == state.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	if !ov.Active(m.clock.Now()) {
		return nil, nil
	}
	return &ov, nil
}

// Active returns all currently active grants keyed by MAC, sweeping expired
// records as a side effect. The tick loop calls this once per tick, which is
// the lazy-cleanup cadence.
func (m *Manager) Active() (map[string]state.Override, error) {
	now := m.clock.Now()
	active := make(map[string]state.Override)
	var expired []state.Override

	err := m.store.Update(func(tx state.Tx) error {
		all, err := state.ListJSON[state.Override](txLister{tx}, state.BucketOverrides)
		if err != nil {
			return err
		}
		for mac, ov := range all {
			if ov.Active(now) {
				active[mac] = ov
				continue
			}
			if err := tx.Delete(state.BucketOverrides, mac); err != nil {
				return err
			}
			expired = append(expired, ov)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, ov := range expired {
		m.logger.Info("override expired", "mac", ov.MAC, "reason", ov.Reason)
		m.publish(events.EventOverrideExpired, ov)
	}
	metrics.Get().OverridesActive.Set(float64(len(active)))
	return active, nil
}

func (m *Manager) publish(t events.EventType, ov state.Override) {
	if m.hub == nil {
		return
	}
	m.hub.Publish(events.Event{
		Type:   t,
		Source: "override",
		Data: events.OverrideData{
			MAC:       ov.MAC,
			ExpiresAt: ov.ExpiresAt,
			Reason:    ov.Reason,
			Block:     ov.Block,
		},
	})
}

type txLister struct{ tx state.Tx }

func (t txLister) List(bucket string) (map[string][]byte, error) {
	return t.tx.List(bucket)
}
