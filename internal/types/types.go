package types

import "time"

type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Session statuses.
const (
	SessionCreated      = "created"
	SessionConnected    = "connected"
	SessionDisconnected = "disconnected"
)

type Session struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`

	// ActiveTurnID is the turn whose reply is currently streaming, if any.
	ActiveTurnID string     `json:"active_turn_id,omitempty"`
	Turns        int        `json:"turns"`
	LastTurnAt   *time.Time `json:"last_turn_at,omitempty"`
}
