// Package events provides the pub/sub bus that carries knock lifecycle
// notifications from the server to observers (audit trail, tests).
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	EventKnock   EventType = "knock.received"
	EventReset   EventType = "knock.reset"
	EventGrant   EventType = "access.granted"
	EventRevoke  EventType = "access.revoked"
	EventStale   EventType = "access.stale" // timer fired for a superseded grant
	EventFailure EventType = "access.failed" // backend refused a grant or revoke
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"` // emitting component: "listener", "server", "access"
	Data      interface{} `json:"data"`
}

// KnockData is the payload for EventKnock.
type KnockData struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Position int    `json:"position"` // progress length after the knock, 0 if reset
}

// ResetData is the payload for EventReset.
type ResetData struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Reason  string `json:"reason"`
}

// AccessData is the payload for EventGrant, EventRevoke, EventStale and EventFailure.
type AccessData struct {
	GrantID    string    `json:"grant_id"`
	Address    string    `json:"address"`
	Port       int       `json:"port"`
	Generation uint64    `json:"generation"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}
