// Package protocol defines the JSON envelopes exchanged between the voice
// client and the dialogue service. It is transport agnostic; the WebSocket
// channel and the dialogue server both speak it.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outbound (client → service) message types.
const (
	TypeCommit = "commit"
	TypeCancel = "cancel"
)

// Inbound (service → client) message types.
const (
	TypeToken     = "ai_token"
	TypeDone      = "ai_done"
	TypeError     = "ai_error"
	TypeCancelled = "ai_cancelled"
)

// UnknownTurnID tags errors that cannot be attributed to a turn. Clients never
// mint it, so such messages are always filtered as foreign.
const UnknownTurnID = "unknown"

var ErrMalformed = errors.New("protocol: malformed envelope")

// Outbound is a commit or cancel envelope sent once per action.
type Outbound struct {
	Type      string `json:"type"`
	TurnID    string `json:"turnId"`
	Text      string `json:"text,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Inbound is a streamed reply event stamped with the turn it belongs to.
type Inbound struct {
	Type       string `json:"type"`
	TurnID     string `json:"turnId"`
	Token      string `json:"token,omitempty"`
	Error      string `json:"error,omitempty"`
	FullText   string `json:"fullText,omitempty"`
	TokenCount int    `json:"tokenCount,omitempty"`
	Message    string `json:"message,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// Millis converts t to unix milliseconds, the wire timestamp unit.
func Millis(t time.Time) int64 { return t.UnixMilli() }

func Commit(turnID, text, reason string, at time.Time) Outbound {
	return Outbound{Type: TypeCommit, TurnID: turnID, Text: text, Reason: reason, Timestamp: Millis(at)}
}

func Cancel(turnID string, at time.Time) Outbound {
	return Outbound{Type: TypeCancel, TurnID: turnID, Timestamp: Millis(at)}
}

func Token(turnID, token string, at time.Time) Inbound {
	return Inbound{Type: TypeToken, TurnID: turnID, Token: token, Timestamp: Millis(at)}
}

func Done(turnID, fullText string, tokenCount int, at time.Time) Inbound {
	return Inbound{Type: TypeDone, TurnID: turnID, FullText: fullText, TokenCount: tokenCount, Timestamp: Millis(at)}
}

func Failed(turnID, message string, at time.Time) Inbound {
	return Inbound{Type: TypeError, TurnID: turnID, Error: message, Timestamp: Millis(at)}
}

func Cancelled(turnID, message string, at time.Time) Inbound {
	return Inbound{Type: TypeCancelled, TurnID: turnID, Message: message, Timestamp: Millis(at)}
}

// DecodeOutbound parses a client envelope. Unknown types and missing turn ids
// are rejected; the partially decoded envelope is still returned so callers
// can attribute the failure.
func DecodeOutbound(data []byte) (Outbound, error) {
	var m Outbound
	if err := json.Unmarshal(data, &m); err != nil {
		return Outbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch m.Type {
	case TypeCommit, TypeCancel:
	default:
		return m, fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	if strings.TrimSpace(m.TurnID) == "" {
		return m, fmt.Errorf("%w: missing turnId", ErrMalformed)
	}
	return m, nil
}

// DecodeInbound parses a service envelope. The type is not restricted so that
// newer services can add message kinds. An empty turn id is accepted here; it
// never matches an active turn on the client.
func DecodeInbound(data []byte) (Inbound, error) {
	var m Inbound
	if err := json.Unmarshal(data, &m); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return m, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return m, nil
}
