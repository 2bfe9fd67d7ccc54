package turn

import (
	"strings"
	"time"
	"unicode/utf8"

	"yuzu/interview/internal/protocol"
)

// State is the complete controller state. Reduce never mutates the value it
// is given; Active is copied before every change.
type State struct {
	Phase  Phase
	Buffer UtteranceBuffer

	// Updates counts interim updates in the current episode. SilenceMark is
	// the value captured when the silence timer was armed; the silence
	// trigger only fires if no update arrived since.
	Updates     uint64
	SilenceMark uint64
	LastUpdate  time.Time

	Active *Turn

	SourceRunning bool
	// Blocked is set by a fatal recognizer error and suppresses every
	// automatic restart until Start is called again.
	Blocked bool
}

// InitialState is the state of a new controller.
func InitialState() State { return State{Phase: PhaseIdle} }

// Env is what a transition may read besides the state and the event. Config
// is a snapshot taken once per event.
type Env struct {
	Config Config
	Now    time.Time
	NewID  func() string
}

// Event is an input to Reduce.
type Event interface{ isEvent() }

type (
	Start         struct{}
	ManualStop    struct{}
	Cancel        struct{}
	SourceStarted struct{}
	SourceEnded   struct{}

	Fragment struct {
		Text  string
		Final bool
	}
	SourceError struct {
		Code string
	}
	TimerFired struct {
		Name TimerName
	}
	Inbound struct {
		Msg protocol.Inbound
	}
	// SubmitFailed reports that the commit for TurnID could not be delivered.
	SubmitFailed struct {
		TurnID string
		Err    error
	}
)

func (Start) isEvent()         {}
func (ManualStop) isEvent()    {}
func (Cancel) isEvent()        {}
func (SourceStarted) isEvent() {}
func (SourceEnded) isEvent()   {}
func (Fragment) isEvent()      {}
func (SourceError) isEvent()   {}
func (TimerFired) isEvent()    {}
func (Inbound) isEvent()       {}
func (SubmitFailed) isEvent()  {}

// Effect is an action Reduce asks the controller to perform, in order.
type Effect interface{ isEffect() }

type (
	StartSource struct{}
	StopSource  struct{}
	ArmTimer    struct {
		Name  TimerName
		After time.Duration
	}
	CancelTimer struct {
		Name TimerName
	}
	SendCommit struct {
		Turn Turn
	}
	SendCancel struct {
		TurnID string
	}
	Notify struct {
		Notice Notice
	}
)

func (StartSource) isEffect() {}
func (StopSource) isEffect()  {}
func (ArmTimer) isEffect()    {}
func (CancelTimer) isEffect() {}
func (SendCommit) isEffect()  {}
func (SendCancel) isEffect()  {}
func (Notify) isEffect()      {}

// Recognizer error codes that need user action before listening can resume.
var fatalRecognizerErrors = map[string]bool{
	"not-allowed":         true,
	"service-not-allowed": true,
	"audio-capture":       true,
}

// IsFatalRecognizerError reports whether code blocks automatic restarts.
func IsFatalRecognizerError(code string) bool { return fatalRecognizerErrors[code] }

// Reduce computes the next state and the effects for one event.
func Reduce(s State, ev Event, env Env) (State, []Effect) {
	r := &reduction{s: s, env: env}
	switch e := ev.(type) {
	case Start:
		r.start()
	case ManualStop:
		if r.s.Phase == PhaseListening {
			r.complete(ReasonManualStop)
		}
	case Cancel:
		r.cancel()
	case Fragment:
		r.fragment(e)
	case SourceStarted:
		r.s.SourceRunning = true
		if r.s.Phase != PhaseListening {
			// The listening window is closed; a late start must not capture.
			r.stopSource()
		}
	case SourceEnded:
		r.sourceEnded()
	case SourceError:
		r.sourceError(e.Code)
	case TimerFired:
		r.timer(e.Name)
	case Inbound:
		r.inbound(e.Msg)
	case SubmitFailed:
		if r.isActive(e.TurnID) {
			msg := "submit failed"
			if e.Err != nil {
				msg = e.Err.Error()
			}
			r.fail(msg)
		}
	}
	return r.s, r.effects
}

type reduction struct {
	s       State
	env     Env
	effects []Effect
}

func (r *reduction) emit(e Effect) { r.effects = append(r.effects, e) }

func (r *reduction) notify(n Notice) {
	n.At = r.env.Now
	r.emit(Notify{Notice: n})
}

func (r *reduction) setPhase(to Phase) {
	from := r.s.Phase
	if from == to {
		return
	}
	r.s.Phase = to
	r.notify(Notice{Kind: NoticeStateChanged, From: from, To: to})
}

func (r *reduction) stopSource() {
	r.s.SourceRunning = false
	r.emit(StopSource{})
}

func (r *reduction) start() {
	if r.s.Phase != PhaseIdle {
		return
	}
	r.s.Blocked = false
	r.emit(CancelTimer{Name: TimerRestart})
	r.setPhase(PhaseListening)
	r.armEpisode()
	if !r.s.Buffer.Empty() {
		// Text carried over from a recognizer that stopped on its own gets
		// the normal silence countdown.
		r.emit(ArmTimer{Name: TimerDebounce, After: r.env.Config.Hangover()})
	}
	if !r.s.SourceRunning {
		r.emit(StartSource{})
	}
}

// openEpisode resets the buffer and arms the single maxDuration timer of a
// new listening episode.
func (r *reduction) openEpisode() {
	r.resetBuffer()
	r.armEpisode()
}

func (r *reduction) armEpisode() {
	r.emit(CancelTimer{Name: TimerDebounce})
	r.emit(CancelTimer{Name: TimerSilence})
	r.emit(ArmTimer{Name: TimerMaxDuration, After: r.env.Config.MaxUtterance()})
}

func (r *reduction) closeEpisode() {
	for _, name := range episodeTimers {
		r.emit(CancelTimer{Name: name})
	}
	r.resetBuffer()
}

func (r *reduction) resetBuffer() {
	r.s.Buffer.Reset()
	r.s.Updates = 0
	r.s.SilenceMark = 0
	r.s.LastUpdate = time.Time{}
}

func (r *reduction) fragment(f Fragment) {
	if r.s.Phase != PhaseListening {
		return
	}
	if f.Final {
		if strings.TrimSpace(f.Text) != "" {
			r.s.Buffer.AppendFinal(f.Text)
		}
		r.complete(ReasonFinalSignal)
		return
	}
	if strings.TrimSpace(f.Text) == "" {
		return
	}
	r.s.Buffer.SetInterim(f.Text)
	r.s.Updates++
	r.s.LastUpdate = r.env.Now
	r.emit(CancelTimer{Name: TimerSilence})
	r.emit(ArmTimer{Name: TimerDebounce, After: r.env.Config.Hangover()})
}

func (r *reduction) timer(name TimerName) {
	switch name {
	case TimerDebounce:
		if r.s.Phase != PhaseListening {
			return
		}
		r.s.SilenceMark = r.s.Updates
		r.emit(ArmTimer{Name: TimerSilence, After: r.env.Config.SilenceAfterDebounce()})
	case TimerSilence:
		if r.s.Phase != PhaseListening || r.s.Updates != r.s.SilenceMark {
			return
		}
		if quiet := r.env.Now.Sub(r.s.LastUpdate); quiet < r.env.Config.Silence() {
			// silenceMs was raised after this timer was armed.
			r.emit(ArmTimer{Name: TimerSilence, After: r.env.Config.Silence() - quiet})
			return
		}
		r.complete(ReasonSilenceTimeout)
	case TimerMaxDuration:
		if r.s.Phase == PhaseListening {
			r.complete(ReasonMaxDurationTimeout)
		}
	case TimerRestart:
		if !r.s.Blocked {
			r.start()
		}
	}
}

// complete is the shared completion path. A rejected utterance opens a fresh
// episode and keeps listening.
func (r *reduction) complete(reason Reason) {
	if !r.finish(reason) {
		r.openEpisode()
	}
}

// finish ends the current episode and opens a turn if the utterance passes
// the length filter. It reports whether a turn was opened.
func (r *reduction) finish(reason Reason) bool {
	for _, name := range episodeTimers {
		r.emit(CancelTimer{Name: name})
	}
	text := r.s.Buffer.Flush()
	r.resetBuffer()

	if text == "" || utf8.RuneCountInString(text) < r.env.Config.MinCharsToCommit {
		r.notify(Notice{Kind: NoticeUtteranceRejected, Reason: reason, Text: text})
		return false
	}

	t := &Turn{
		ID:       r.env.NewID(),
		Reason:   reason,
		Status:   StatusSubmitted,
		Text:     text,
		OpenedAt: r.env.Now,
	}
	r.setPhase(PhaseCommitting)
	r.s.Active = t
	// Close the listening window before the commit leaves.
	r.stopSource()
	r.emit(SendCommit{Turn: *t})
	snapshot := *t
	r.notify(Notice{Kind: NoticeTurnOpened, Turn: &snapshot, TurnID: t.ID, Reason: reason, Text: text})
	r.setPhase(PhaseAwaitingReply)
	return true
}

func (r *reduction) cancel() {
	if r.s.Phase != PhaseAwaitingReply || r.s.Active == nil {
		return
	}
	r.emit(SendCancel{TurnID: r.s.Active.ID})
	r.closeTurn(StatusCancelled, "")
	if !r.s.Blocked {
		r.start()
	}
}

func (r *reduction) sourceEnded() {
	r.s.SourceRunning = false
	if r.s.Phase != PhaseListening {
		return
	}
	// A recognizer stopping on its own is not a trigger: the text heard so
	// far is kept for the next episode.
	for _, name := range episodeTimers {
		r.emit(CancelTimer{Name: name})
	}
	r.s.Buffer.Carry()
	r.setPhase(PhaseIdle)
	r.scheduleRestart(r.env.Config.RestartDelay())
}

func (r *reduction) sourceError(code string) {
	fatal := IsFatalRecognizerError(code)
	r.notify(Notice{Kind: NoticeError, Code: code, Fatal: fatal, Message: "speech source error: " + code})
	if !fatal {
		return
	}
	r.s.Blocked = true
	r.emit(CancelTimer{Name: TimerRestart})
	switch r.s.Phase {
	case PhaseListening:
		r.closeEpisode()
		r.setPhase(PhaseIdle)
	case PhaseIdle:
		r.resetBuffer()
	}
	if r.s.SourceRunning {
		r.stopSource()
	}
}

func (r *reduction) isActive(turnID string) bool {
	return r.s.Active != nil && turnID != "" && turnID == r.s.Active.ID && r.s.Phase == PhaseAwaitingReply
}

func (r *reduction) inbound(m protocol.Inbound) {
	if !r.isActive(m.TurnID) {
		r.notify(Notice{Kind: NoticeStaleMessage, TurnID: m.TurnID, MessageType: m.Type})
		return
	}
	switch m.Type {
	case protocol.TypeToken:
		t := *r.s.Active
		t.Status = StatusStreaming
		t.Tokens++
		r.s.Active = &t
		r.notify(Notice{Kind: NoticeToken, TurnID: t.ID, Token: m.Token})
	case protocol.TypeDone:
		r.closeTurn(StatusCompleted, m.FullText)
		r.scheduleRestart(r.env.Config.DoneGrace())
	case protocol.TypeError:
		msg := m.Error
		if msg == "" {
			msg = m.Message
		}
		r.fail(msg)
	case protocol.TypeCancelled:
		r.closeTurn(StatusCancelled, "")
		r.scheduleRestart(r.env.Config.DoneGrace())
	}
}

func (r *reduction) fail(msg string) {
	id := r.s.Active.ID
	r.notify(Notice{Kind: NoticeError, TurnID: id, Message: msg})
	r.closeTurn(StatusErrored, "")
	r.scheduleRestart(r.env.Config.ErrorGrace())
}

// closeTurn marks the active turn terminal and returns to Idle. reply is the
// assistant text reported by the service, if any.
func (r *reduction) closeTurn(status Status, reply string) {
	t := *r.s.Active
	t.Status = status
	t.ClosedAt = r.env.Now
	r.s.Active = nil
	r.notify(Notice{Kind: NoticeTurnClosed, Turn: &t, TurnID: t.ID, Reason: t.Reason, Text: reply})
	r.setPhase(PhaseIdle)
}

func (r *reduction) scheduleRestart(after time.Duration) {
	if r.s.Blocked {
		return
	}
	r.emit(ArmTimer{Name: TimerRestart, After: after})
}
