package firewall

import (
	"net/netip"
	"time"

	"grimm.is/curfew/internal/events"
	"grimm.is/curfew/internal/logging"
	"grimm.is/curfew/internal/metrics"
)

// SyncResult reports what one reconciliation pass changed.
type SyncResult struct {
	Added   int
	Removed int
	Errors  []error
}

// Degraded reports whether any element failed to apply. The engine keeps
// running on a degraded sync; the next tick retries the same diff.
func (r SyncResult) Degraded() bool { return len(r.Errors) > 0 }

// Synchronizer converges the kernel sets toward the desired membership.
type Synchronizer struct {
	tables  *TableStore
	logger  *logging.Logger
	hub     *events.Hub
	retries int
	backoff time.Duration
}

// NewSynchronizer creates a synchronizer. The hub may be nil.
func NewSynchronizer(tables *TableStore, logger *logging.Logger, hub *events.Hub) *Synchronizer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Synchronizer{
		tables:  tables,
		logger:  logger.WithComponent("sync"),
		hub:     hub,
		retries: 3,
		backoff: 100 * time.Millisecond,
	}
}

// Sync diffs each set against its desired membership and applies the
// difference. Both sets are staged into one kernel batch; only when the
// batched commit keeps failing does it fall back to element-at-a-time
// commits so a single bad element cannot block the rest.
//
// Sync is idempotent: with the sets already converged it stages nothing.
func (s *Synchronizer) Sync(desiredBlock, desiredMonitor []netip.Addr) SyncResult {
	var res SyncResult

	blockAdd, blockDel, err := s.diff(BlockSet, desiredBlock)
	if err != nil {
		res.Errors = append(res.Errors, err)
	}
	monAdd, monDel, err := s.diff(MonitorSet, desiredMonitor)
	if err != nil {
		res.Errors = append(res.Errors, err)
	}

	ops := []setOp{
		{BlockSet, blockAdd, true},
		{BlockSet, blockDel, false},
		{MonitorSet, monAdd, true},
		{MonitorSet, monDel, false},
	}

	staged := 0
	for _, op := range ops {
		if len(op.addrs) == 0 {
			continue
		}
		if err := s.stage(op); err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		staged += len(op.addrs)
		// Counts reflect what was actually staged, not the diff: an op that
		// failed to stage was never part of the batch.
		if op.add {
			res.Added += len(op.addrs)
		} else {
			res.Removed += len(op.addrs)
		}
	}

	if staged > 0 {
		// A failed commit discards the whole staged batch, so the fallback
		// re-stages every operation itself.
		if err := s.tables.commit(); err != nil {
			s.logger.Warn("batched sync commit failed, applying element-wise", "error", err)
			return s.syncElementWise(ops)
		}
	}

	s.record(res, ops)
	return res
}

type setOp struct {
	set   SetName
	addrs []netip.Addr
	add   bool
}

// syncElementWise retries the staged operations one element per commit,
// collecting failures instead of aborting. Slow, but it isolates the one
// element the kernel rejects.
func (s *Synchronizer) syncElementWise(ops []setOp) SyncResult {
	var res SyncResult
	for _, op := range ops {
		for _, addr := range op.addrs {
			one := setOp{op.set, []netip.Addr{addr}, op.add}
			err := withRetry(s.retries, s.backoff, func() error {
				if err := s.stage(one); err != nil {
					return err
				}
				return s.tables.commit()
			})
			if err != nil {
				res.Errors = append(res.Errors, err)
				metrics.Get().SyncErrors.WithLabelValues(string(op.set)).Inc()
				s.logger.Error("failed to apply set element",
					"set", op.set, "addr", addr, "add", op.add, "error", err)
				continue
			}
			if op.add {
				res.Added++
			} else {
				res.Removed++
			}
		}
	}
	s.record(res, ops)
	return res
}

func (s *Synchronizer) stage(op setOp) error {
	if op.add {
		return s.tables.add(op.set, op.addrs)
	}
	return s.tables.remove(op.set, op.addrs)
}

func (s *Synchronizer) diff(set SetName, desired []netip.Addr) (add, remove []netip.Addr, err error) {
	current, err := s.tables.Show(set)
	if err != nil {
		return nil, nil, err
	}

	have := make(map[netip.Addr]bool, len(current))
	for _, a := range current {
		have[a] = true
	}
	want := make(map[netip.Addr]bool, len(desired))
	for _, a := range desired {
		a = a.Unmap()
		if !a.Is4() || want[a] {
			continue
		}
		want[a] = true
		if !have[a] {
			add = append(add, a)
		}
	}
	for _, a := range current {
		if !want[a] {
			remove = append(remove, a)
		}
	}
	return add, remove, nil
}

func (s *Synchronizer) record(res SyncResult, ops []setOp) {
	m := metrics.Get()
	for _, op := range ops {
		if len(op.addrs) == 0 {
			continue
		}
		kind := "remove"
		if op.add {
			kind = "add"
		}
		m.SyncOps.WithLabelValues(string(op.set), kind).Add(float64(len(op.addrs)))
	}
	if res.Degraded() && s.hub != nil {
		s.hub.Publish(events.Event{
			Type:   events.EventSyncDegraded,
			Source: "sync",
			Data:   events.SyncData{Set: string(BlockSet), Errors: len(res.Errors)},
		})
	}
	if res.Added > 0 || res.Removed > 0 {
		s.logger.Info("sets converged",
			"added", res.Added, "removed", res.Removed, "errors", len(res.Errors))
	}
}
