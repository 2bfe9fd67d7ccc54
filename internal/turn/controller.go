package turn

import (
	"log/slog"
	"sync"

	"yuzu/interview/internal/protocol"
)

// Source is the speech recognition capability. Start and Stop must be
// idempotent. Implementations report fragments and lifecycle changes back
// through the controller's Handle methods, possibly synchronously from
// inside Start or Stop.
type Source interface {
	Start() error
	Stop() error
}

// Channel delivers outbound envelopes to the dialogue service. Send must not
// block on the network.
type Channel interface {
	Send(msg protocol.Outbound) error
}

// SourceStartFailed is the error code reported when Source.Start fails.
const SourceStartFailed = "start-failed"

type Option func(*Controller)

func WithClock(c Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(ctl *Controller) { ctl.log = l } }

// WithConfigStore shares a runtime-mutable config with an operator surface.
func WithConfigStore(s *ConfigStore) Option { return func(ctl *Controller) { ctl.cfg = s } }

func WithIDGenerator(f func() string) Option { return func(ctl *Controller) { ctl.newID = f } }

// Controller owns the turn state machine and the speech source. Inputs may
// arrive from any goroutine; they are queued and applied one at a time, and
// an input raised while effects are being applied runs after the current
// transition has finished.
type Controller struct {
	source  Source
	channel Channel
	clock   Clock
	log     *slog.Logger
	cfg     *ConfigStore
	newID   func() string
	timers  *TimerSet

	mu       sync.Mutex
	queue    []Event
	draining bool
	closed   bool

	stateMu   sync.RWMutex
	state     State
	observers map[int]Observer
	nextObs   int
}

// timerExpired is the raw timer callback; it becomes a TimerFired only if
// its generation is still current.
type timerExpired struct {
	name TimerName
	gen  uint64
}

func (timerExpired) isEvent() {}

func New(source Source, ch Channel, opts ...Option) *Controller {
	c := &Controller{
		source:    source,
		channel:   ch,
		clock:     SystemClock{},
		log:       slog.Default(),
		newID:     NewTurnID,
		state:     InitialState(),
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg == nil {
		c.cfg = NewConfigStore(DefaultConfig())
	}
	c.log = c.log.With("component", "turn")
	c.timers = NewTimerSet(c.clock)
	return c
}

// Start begins listening. It also clears a block left by a fatal recognizer
// error. It is a no-op unless the controller is idle.
func (c *Controller) Start() { c.dispatch(Start{}) }

// ManualStop completes the current utterance immediately.
func (c *Controller) ManualStop() { c.dispatch(ManualStop{}) }

// Cancel abandons the turn awaiting a reply and resumes listening. Duplicate
// calls are no-ops.
func (c *Controller) Cancel() { c.dispatch(Cancel{}) }

func (c *Controller) HandleFragment(text string, final bool) {
	c.dispatch(Fragment{Text: text, Final: final})
}

func (c *Controller) HandleSourceStarted()          { c.dispatch(SourceStarted{}) }
func (c *Controller) HandleSourceEnded()            { c.dispatch(SourceEnded{}) }
func (c *Controller) HandleSourceError(code string) { c.dispatch(SourceError{Code: code}) }

// HandleInbound feeds a service message through the turn id filter.
func (c *Controller) HandleInbound(msg protocol.Inbound) { c.dispatch(Inbound{Msg: msg}) }

// SubmitFailed reports that the commit for turnID never reached the service.
func (c *Controller) SubmitFailed(turnID string, err error) {
	c.dispatch(SubmitFailed{TurnID: turnID, Err: err})
}

func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// ActiveTurn returns a copy of the in-flight turn, if any.
func (c *Controller) ActiveTurn() (Turn, bool) {
	s := c.State()
	if s.Active == nil {
		return Turn{}, false
	}
	return *s.Active, true
}

// Config returns the configuration the next event will be evaluated with.
func (c *Controller) Config() Config { return c.cfg.Load() }

// Subscribe registers an observer and returns a function removing it.
func (c *Controller) Subscribe(o Observer) func() {
	c.stateMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = o
	c.stateMu.Unlock()
	return func() {
		c.stateMu.Lock()
		delete(c.observers, id)
		c.stateMu.Unlock()
	}
}

// Close stops all timers and the speech source. Events arriving afterwards
// are dropped.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.queue = nil
	c.mu.Unlock()

	c.timers.CancelAll()
	if c.State().SourceRunning {
		return c.source.Stop()
	}
	return nil
}

func (c *Controller) dispatch(ev Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, ev)
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.queue) > 0 && !c.closed {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		c.step(next)
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

func (c *Controller) step(ev Event) {
	if te, ok := ev.(timerExpired); ok {
		if !c.timers.Expire(te.name, te.gen) {
			c.log.Debug("stale timer ignored", "timer", te.name)
			return
		}
		ev = TimerFired{Name: te.name}
	}

	env := Env{Config: c.cfg.Load(), Now: c.clock.Now(), NewID: c.newID}

	c.stateMu.Lock()
	next, effects := Reduce(c.state, ev, env)
	c.state = next
	c.stateMu.Unlock()

	for _, eff := range effects {
		c.apply(eff)
	}
}

func (c *Controller) apply(eff Effect) {
	switch e := eff.(type) {
	case StartSource:
		if err := c.source.Start(); err != nil {
			c.log.Error("speech source start failed", "err", err)
			c.observe(Notice{Kind: NoticeError, At: c.clock.Now(), Code: SourceStartFailed, Message: err.Error()})
			// Treated as a spontaneous end so the idle restart path retries.
			c.dispatch(SourceEnded{})
		}
	case StopSource:
		if err := c.source.Stop(); err != nil {
			c.log.Warn("speech source stop failed", "err", err)
		}
	case ArmTimer:
		name := e.Name
		c.timers.Arm(name, e.After, func(gen uint64) {
			c.dispatch(timerExpired{name: name, gen: gen})
		})
	case CancelTimer:
		c.timers.Cancel(e.Name)
	case SendCommit:
		t := e.Turn
		msg := protocol.Commit(t.ID, t.Text, string(t.Reason), t.OpenedAt)
		if err := c.channel.Send(msg); err != nil {
			c.log.Error("commit not delivered", "turn_id", t.ID, "err", err)
			c.dispatch(SubmitFailed{TurnID: t.ID, Err: err})
		}
	case SendCancel:
		if err := c.channel.Send(protocol.Cancel(e.TurnID, c.clock.Now())); err != nil {
			c.log.Warn("cancel not delivered", "turn_id", e.TurnID, "err", err)
		}
	case Notify:
		c.observe(e.Notice)
	}
}

func (c *Controller) observe(n Notice) {
	recordNotice(n)
	c.logNotice(n)

	c.stateMu.RLock()
	obs := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		obs = append(obs, o)
	}
	c.stateMu.RUnlock()
	for _, o := range obs {
		o(n)
	}
}

func (c *Controller) logNotice(n Notice) {
	switch n.Kind {
	case NoticeStateChanged:
		c.log.Debug("state changed", "from", n.From, "to", n.To)
	case NoticeTurnOpened:
		c.log.Info("turn opened", "turn_id", n.TurnID, "reason", n.Reason, "chars", len([]rune(n.Text)))
	case NoticeTurnClosed:
		c.log.Info("turn closed", "turn_id", n.TurnID, "status", n.Turn.Status, "tokens", n.Turn.Tokens)
	case NoticeUtteranceRejected:
		c.log.Debug("utterance rejected", "reason", n.Reason, "text", n.Text)
	case NoticeStaleMessage:
		c.log.Debug("stale message dropped", "turn_id", n.TurnID, "type", n.MessageType)
	case NoticeError:
		if n.Fatal {
			c.log.Error("speech source blocked", "code", n.Code)
		} else {
			c.log.Warn("turn error", "turn_id", n.TurnID, "code", n.Code, "message", n.Message)
		}
	}
}
