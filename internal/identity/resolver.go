// Package identity resolves device hardware addresses to current network
// addresses. The mapping is sourced in one batch read per refresh (DHCP
// leases plus the kernel neighbor table), cached with a TTL, and mirrored
// into the state store so status pages see the same view the enforcement
// loop used.
package identity

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"grimm.is/curfew/internal/clock"
	"grimm.is/curfew/internal/logging"
	"grimm.is/curfew/internal/metrics"
	"grimm.is/curfew/internal/state"
)

// Record is one resolved MAC→IP mapping with activity information.
type Record struct {
	MAC      string
	IP       netip.Addr
	Hostname string
	// LastActive is the last time the source showed evidence of traffic
	// (reachable neighbor entry or a fresh lease renewal).
	LastActive time.Time
}

// Source returns the complete current MAC→IP view in one batch read.
// Implementations must honor the context deadline.
type Source interface {
	Read(ctx context.Context) ([]Record, error)
}

// Options configures the resolver.
type Options struct {
	Source       Source
	Store        state.Store // optional mirror target
	Clock        clock.Clock
	Logger       *logging.Logger
	TTL          time.Duration // cache refresh age, default 30s
	ReadTimeout  time.Duration // bound on one batch read, default 5s
	OnlineWindow time.Duration // recent-activity window, default 15m
	StaticHints  map[string]string // mac -> ip fallback from device config
}

// Resolver caches the batch-read identity view.
type Resolver struct {
	source       Source
	store        state.Store
	clock        clock.Clock
	logger       *logging.Logger
	ttl          time.Duration
	readTimeout  time.Duration
	onlineWindow time.Duration
	static       map[string]netip.Addr

	mu          sync.RWMutex
	cache       map[string]Record
	refreshedAt time.Time
}

// NewResolver creates a resolver. The cache starts empty and stale, so the
// first EnsureFresh performs a batch read.
func NewResolver(opts Options) *Resolver {
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.OnlineWindow <= 0 {
		opts.OnlineWindow = 15 * time.Minute
	}

	static := make(map[string]netip.Addr, len(opts.StaticHints))
	for mac, ip := range opts.StaticHints {
		if addr, err := netip.ParseAddr(ip); err == nil {
			static[mac] = addr
		}
	}

	return &Resolver{
		source:       opts.Source,
		store:        opts.Store,
		clock:        opts.Clock,
		logger:       opts.Logger.WithComponent("identity"),
		ttl:          opts.TTL,
		readTimeout:  opts.ReadTimeout,
		onlineWindow: opts.OnlineWindow,
		static:       static,
		cache:        make(map[string]Record),
	}
}

// EnsureFresh refreshes the cache if it is older than the TTL. On a source
// failure the stale cache keeps serving and a warning is logged; the tick
// never blocks on a dead identity source.
func (r *Resolver) EnsureFresh(ctx context.Context) {
	r.mu.RLock()
	age := r.clock.Now().Sub(r.refreshedAt)
	r.mu.RUnlock()

	if age < r.ttl {
		return
	}
	if err := r.Refresh(ctx); err != nil {
		metrics.Get().IdentityRefreshes.WithLabelValues("error").Inc()
		r.logger.Warn("identity refresh failed, serving stale cache",
			"error", err, "cache_age", age.Round(time.Second))
	}
}

// Refresh performs one batch read and replaces the cache. The whole source is
// read in a single pass: refresh cost is O(1) per tick, never O(devices).
func (r *Resolver) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.readTimeout)
	defer cancel()

	records, err := r.source.Read(ctx)
	if err != nil {
		return err
	}

	now := r.clock.Now()
	fresh := make(map[string]Record, len(records))
	for _, rec := range records {
		if rec.MAC == "" || !rec.IP.IsValid() {
			continue
		}
		// Preserve the previous activity timestamp when the new read carries
		// none (a lease line proves presence, not traffic).
		if rec.LastActive.IsZero() {
			if prev, ok := r.lookup(rec.MAC); ok && prev.IP == rec.IP {
				rec.LastActive = prev.LastActive
			}
		}
		fresh[rec.MAC] = rec
	}

	r.mu.Lock()
	r.cache = fresh
	r.refreshedAt = now
	r.mu.Unlock()

	metrics.Get().IdentityRefreshes.WithLabelValues("ok").Inc()
	metrics.Get().AddressesResolved.Set(float64(len(fresh)))

	r.mirror(fresh, now)
	return nil
}

// mirror writes the cache into the state store for external consumers.
// Best-effort: a store failure degrades visibility, not enforcement.
func (r *Resolver) mirror(cache map[string]Record, now time.Time) {
	if r.store == nil {
		return
	}
	err := r.store.Update(func(tx state.Tx) error {
		existing, err := tx.List(state.BucketAddresses)
		if err != nil {
			return err
		}
		for mac := range existing {
			if _, ok := cache[mac]; !ok {
				_ = tx.Delete(state.BucketAddresses, mac)
			}
		}
		for mac, rec := range cache {
			entry := state.AddressEntry{
				MAC:       mac,
				IP:        rec.IP.String(),
				Hostname:  rec.Hostname,
				UpdatedAt: now,
			}
			if err := state.SetJSON(tx, state.BucketAddresses, mac, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("failed to mirror address cache", "error", err)
	}
}

func (r *Resolver) lookup(mac string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.cache[mac]
	return rec, ok
}

// Resolve maps a canonical MAC to its current address. A miss falls back to
// the device's static IP hint if one is configured; otherwise the device is
// treated as offline.
func (r *Resolver) Resolve(mac string) (netip.Addr, bool) {
	if rec, ok := r.lookup(mac); ok {
		return rec.IP, true
	}
	r.mu.RLock()
	addr, ok := r.static[mac]
	r.mu.RUnlock()
	if ok {
		return addr, true
	}
	return netip.Addr{}, false
}

// Online reports whether the device showed recent network activity: it is
// resolved and its last activity falls within the online window. Devices
// known only through a static hint are never considered online on their own.
func (r *Resolver) Online(mac string) bool {
	rec, ok := r.lookup(mac)
	if !ok {
		return false
	}
	if rec.LastActive.IsZero() {
		return false
	}
	return r.clock.Now().Sub(rec.LastActive) <= r.onlineWindow
}

// SetStaticHints replaces the static fallback mappings, for config reloads.
func (r *Resolver) SetStaticHints(hints map[string]string) {
	static := make(map[string]netip.Addr, len(hints))
	for mac, ip := range hints {
		if addr, err := netip.ParseAddr(ip); err == nil {
			static[mac] = addr
		}
	}
	r.mu.Lock()
	r.static = static
	r.mu.Unlock()
}

// Snapshot returns a copy of the current cache.
func (r *Resolver) Snapshot() map[string]Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Record, len(r.cache))
	for k, v := range r.cache {
		out[k] = v
	}
	return out
}

// Age returns how old the cache is.
func (r *Resolver) Age() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.refreshedAt.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return r.clock.Now().Sub(r.refreshedAt)
}
