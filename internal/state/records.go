package state

import (
	"encoding/json"
	"time"
)

// Bucket names. One bucket per record family; keys are the enforcement unit
// for that family (IP for usage, profile name for aggregates, MAC for
// overrides and the address cache).
const (
	BucketUsage     = "usage_by_ip"
	BucketProfiles  = "profile_usage"
	BucketOverrides = "overrides"
	BucketAddresses = "addr_cache"
	BucketMeta      = "meta"
)

// Meta keys.
const (
	KeyWatermarks = "watermarks"
)

// ServiceUsage tracks one service's share of an address's consumption.
type ServiceUsage struct {
	UsageToday        int       `json:"usage_today"`
	UsageWeek         int       `json:"usage_week"`
	LastSeen          time.Time `json:"last_seen,omitzero"`
	ActiveConnections int       `json:"active_connections,omitempty"`
}

// UsageRecord is the per-address consumption counter set. Usage is keyed by
// the resolved address, not the MAC, because the address is the enforcement
// unit the firewall sees.
type UsageRecord struct {
	Address    string                  `json:"address"`
	UsageToday int                     `json:"usage_today"`
	UsageWeek  int                     `json:"usage_week"`
	LastSeen   time.Time               `json:"last_seen,omitzero"`
	Services   map[string]ServiceUsage `json:"services,omitempty"`
}

// ProfileUsage is the aggregate quota enforcement compares against. It sums
// usage across all addresses currently mapped to the profile's devices.
type ProfileUsage struct {
	Profile    string    `json:"profile"`
	UsageToday int       `json:"usage_today"`
	UsageWeek  int       `json:"usage_week"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`

	// Per-service aggregates across the profile's addresses.
	Services map[string]ServiceUsage `json:"services,omitempty"`
}

// Override is a time-bounded grant keyed by MAC. Block inverts the meaning:
// instead of suppressing enforcement it forces a block (manual device block
// from the API). Expired records are inert and cleaned up lazily.
type Override struct {
	MAC       string    `json:"mac"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason,omitempty"`
	Block     bool      `json:"block,omitempty"`
}

// Active reports whether the override still applies at the given time.
func (o Override) Active(now time.Time) bool {
	return o.ExpiresAt.After(now)
}

// AddressEntry is one MAC→IP mapping from the identity source.
type AddressEntry struct {
	MAC       string    `json:"mac"`
	IP        string    `json:"ip"`
	Hostname  string    `json:"hostname,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Watermarks records the reconciliation progress markers.
type Watermarks struct {
	LastCheck       time.Time `json:"last_check,omitzero"`
	LastReset       time.Time `json:"last_reset,omitzero"`
	LastWeeklyReset time.Time `json:"last_weekly_reset,omitzero"`
}

// Snapshot is the read-only view of the whole persistent state, assembled
// for status pages and the API. Unknown fields in stored rows are ignored on
// read, so the schema can grow without breaking old state files.
type Snapshot struct {
	Usage      map[string]UsageRecord  `json:"usage"`
	Profiles   map[string]ProfileUsage `json:"profiles"`
	Overrides  map[string]Override     `json:"overrides"`
	Addresses  map[string]AddressEntry `json:"addresses"`
	Watermarks Watermarks              `json:"watermarks"`
}

// --- typed helpers ---

// GetJSON decodes a stored record. A row that fails to decode is reported as
// ErrNotFound: a corrupt record reads as absent, never as a crash.
func GetJSON(g interface {
	Get(bucket, key string) ([]byte, error)
}, bucket, key string, v any) error {
	data, err := g.Get(bucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrNotFound
	}
	return nil
}

// SetJSON encodes and stores a record.
func SetJSON(s interface {
	Set(bucket, key string, value []byte) error
}, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(bucket, key, data)
}

// ListJSON decodes every record in a bucket into out via the decode callback,
// skipping undecodable rows.
func ListJSON[T any](l interface {
	List(bucket string) (map[string][]byte, error)
}, bucket string) (map[string]T, error) {
	raw, err := l.List(bucket)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(raw))
	for k, data := range raw {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// LoadSnapshot assembles the full persistent state view.
func LoadSnapshot(store Store) (*Snapshot, error) {
	snap := &Snapshot{}

	var err error
	if snap.Usage, err = ListJSON[UsageRecord](store, BucketUsage); err != nil {
		return nil, err
	}
	if snap.Profiles, err = ListJSON[ProfileUsage](store, BucketProfiles); err != nil {
		return nil, err
	}
	if snap.Overrides, err = ListJSON[Override](store, BucketOverrides); err != nil {
		return nil, err
	}
	if snap.Addresses, err = ListJSON[AddressEntry](store, BucketAddresses); err != nil {
		return nil, err
	}

	if err := GetJSON(store, BucketMeta, KeyWatermarks, &snap.Watermarks); err != nil && err != ErrNotFound {
		return nil, err
	}
	return snap, nil
}
