// Package turn decides when a speaker has finished an utterance and drives
// one request/response turn at a time against the dialogue service.
//
// Every input (transcript fragments, recognizer lifecycle, timer expiries,
// inbound service messages, user actions) is an Event. [Reduce] computes the
// next [State] and a list of Effects from the current state plus one event;
// [Controller] serializes events and applies the effects (speech source
// start/stop, timers, outbound envelopes, notices).
package turn

import (
	"time"

	"github.com/google/uuid"
)

// Reason records why a turn was opened.
type Reason string

const (
	ReasonFinalSignal        Reason = "finalSignal"
	ReasonSilenceTimeout     Reason = "silenceTimeout"
	ReasonManualStop         Reason = "manualStop"
	ReasonMaxDurationTimeout Reason = "maxDurationTimeout"
)

// Status is the lifecycle status of a turn.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusErrored   Status = "errored"
)

// Open reports whether the status still counts as an in-flight turn.
func (s Status) Open() bool {
	return s == StatusSubmitted || s == StatusStreaming
}

// Phase is the controller state.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseListening     Phase = "listening"
	PhaseCommitting    Phase = "committing"
	PhaseAwaitingReply Phase = "awaiting_reply"
)

// Turn is one submitted utterance and the reply it is waiting for.
type Turn struct {
	ID       string    `json:"id"`
	Reason   Reason    `json:"reason"`
	Status   Status    `json:"status"`
	Text     string    `json:"text"`
	Tokens   int       `json:"tokens"`
	OpenedAt time.Time `json:"openedAt"`
	ClosedAt time.Time `json:"closedAt,omitempty"`
}

// NewTurnID mints a process-unique turn identifier.
func NewTurnID() string { return uuid.NewString() }
