package events

import (
	"testing"
	"time"
)

func TestHubTypedSubscription(t *testing.T) {
	h := NewHub()
	blocked := h.Subscribe(4, EventDeviceBlocked)

	h.Publish(Event{Type: EventDeviceBlocked, Source: "recon",
		Data: VerdictData{MAC: "aa:bb:cc:dd:ee:01", Verdict: "blocked_by_quota"}})
	h.Publish(Event{Type: EventUsageReset, Source: "recon"})

	select {
	case e := <-blocked:
		if e.Type != EventDeviceBlocked {
			t.Errorf("got %s, want %s", e.Type, EventDeviceBlocked)
		}
		if e.ID == "" {
			t.Errorf("event ID not assigned")
		}
		if e.Timestamp.IsZero() {
			t.Errorf("timestamp not assigned")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	select {
	case e := <-blocked:
		t.Errorf("unexpected event %s on typed subscription", e.Type)
	default:
	}
}

func TestHubGlobalSubscription(t *testing.T) {
	h := NewHub()
	all := h.Subscribe(4)

	h.Publish(Event{Type: EventOverrideGranted})
	h.Publish(Event{Type: EventTickComplete})

	if len(all) != 2 {
		t.Errorf("global subscriber should see all events, got %d", len(all))
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub()
	_ = h.Subscribe(1, EventTickComplete)

	h.Publish(Event{Type: EventTickComplete})
	h.Publish(Event{Type: EventTickComplete}) // buffer full, dropped

	published, dropped := h.Stats()
	if published != 2 {
		t.Errorf("published = %d, want 2", published)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(4, EventDeviceBlocked)
	h.Unsubscribe(ch)

	h.Publish(Event{Type: EventDeviceBlocked})
	if len(ch) != 0 {
		t.Errorf("unsubscribed channel received event")
	}
}
