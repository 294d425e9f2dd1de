// Package events provides the pub/sub event bus for enforcement decisions.
// Every core decision point (block applied, override granted, reset
// performed, sync failure) flows through the hub so the API's live stream and
// the audit log see the same data.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Verdict events
	EventDeviceBlocked   EventType = "device.blocked"
	EventDeviceUnblocked EventType = "device.unblocked"

	// Override events
	EventOverrideGranted EventType = "override.granted"
	EventOverrideRevoked EventType = "override.revoked"
	EventOverrideExpired EventType = "override.expired"

	// Usage events
	EventUsageReset EventType = "usage.reset"

	// Reconciliation events
	EventTickComplete EventType = "tick.complete"
	EventSyncDegraded EventType = "sync.degraded"
)

// Event is the core message passed through the event bus.
type Event struct {
	ID        string      `json:"id,omitempty"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"` // Component that emitted: "recon", "api", "sync"
	Data      interface{} `json:"data"`   // Type-specific payload
}

// VerdictData is the payload for device block/unblock events.
type VerdictData struct {
	MAC     string `json:"mac"`
	IP      string `json:"ip,omitempty"`
	Profile string `json:"profile,omitempty"`
	Verdict string `json:"verdict"`
	Detail  string `json:"detail,omitempty"` // schedule name for schedule blocks
}

// OverrideData is the payload for override grant/revoke/expire events.
type OverrideData struct {
	MAC       string    `json:"mac"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Reason    string    `json:"reason,omitempty"`
	Block     bool      `json:"block,omitempty"`
}

// ResetData is the payload for usage reset events.
type ResetData struct {
	Scope    string    `json:"scope"` // "daily" or "weekly"
	Boundary time.Time `json:"boundary"`
}

// TickData is the payload for tick completion events.
type TickData struct {
	Online   int           `json:"online"`
	Blocked  int           `json:"blocked"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// SyncData is the payload for degraded sync events.
type SyncData struct {
	Set    string `json:"set"`
	Errors int    `json:"errors"`
}
