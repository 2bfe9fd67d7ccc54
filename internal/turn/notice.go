package turn

import "time"

// NoticeKind names an observable controller event.
type NoticeKind string

const (
	NoticeStateChanged      NoticeKind = "state_changed"
	NoticeTurnOpened        NoticeKind = "turn_opened"
	NoticeTurnClosed        NoticeKind = "turn_closed"
	NoticeToken             NoticeKind = "token"
	NoticeError             NoticeKind = "error"
	NoticeUtteranceRejected NoticeKind = "utterance_rejected"
	NoticeStaleMessage      NoticeKind = "stale_message"
)

// Notice is delivered to subscribers after the transition that produced it
// has been applied. Only the fields relevant to Kind are set.
type Notice struct {
	Kind NoticeKind `json:"kind"`
	At   time.Time  `json:"at"`

	From Phase `json:"from,omitempty"`
	To   Phase `json:"to,omitempty"`

	// Turn is a copy; mutating it has no effect on the controller.
	Turn   *Turn  `json:"turn,omitempty"`
	TurnID string `json:"turnId,omitempty"`
	Reason Reason `json:"reason,omitempty"`

	Text  string `json:"text,omitempty"`
	Token string `json:"token,omitempty"`

	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	Fatal       bool   `json:"fatal,omitempty"`
	MessageType string `json:"messageType,omitempty"`
}

// Observer receives notices. Observers must not block; they run on the
// goroutine draining the controller's event queue.
type Observer func(Notice)
