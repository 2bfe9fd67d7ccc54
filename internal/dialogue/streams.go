// Package dialogue is the service side of the interview channel: it accepts
// committed utterances over a WebSocket and streams model replies back,
// stamped with the turn they answer.
package dialogue

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"yuzu/interview/internal/floor"
	"yuzu/interview/internal/llm"
	"yuzu/interview/internal/protocol"
)

// Emit delivers one reply event to the session's client.
type Emit func(msg protocol.Inbound)

// StreamConfig is applied to every model request.
type StreamConfig struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Streams runs at most one reply stream per session.
type Streams struct {
	llm  llm.Streamer
	cfg  StreamConfig
	log  *slog.Logger
	now  func() time.Time
	base context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*sessionStreams
	wg       sync.WaitGroup
}

type sessionStreams struct {
	floor  *floor.Manager
	active *stream
}

type stream struct {
	turnID string
	cancel context.CancelFunc

	// mu is held while emitting, so once stop returns nothing more is sent.
	mu      sync.Mutex
	stopped bool
	emit    Emit
}

func NewStreams(model llm.Streamer, cfg StreamConfig, log *slog.Logger) *Streams {
	if log == nil {
		log = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Streams{
		llm:      model,
		cfg:      cfg,
		log:      log.With("component", "streams"),
		now:      time.Now,
		base:     base,
		stop:     stop,
		sessions: make(map[string]*sessionStreams),
	}
}

// Start answers turnID. A reply still streaming for an older turn of the same
// session is cancelled first and will not emit again. It reports the
// superseded turn id, if any, and false if turnID was already answered.
// onStart, if set, runs before the reply can emit anything.
func (s *Streams) Start(sessionID, turnID, text string, emit Emit, onStart func()) (superseded string, started bool) {
	s.mu.Lock()
	sess := s.session(sessionID)
	d := sess.floor.OnCommit(turnID)
	if d.Duplicate {
		s.mu.Unlock()
		return "", false
	}
	if d.ShouldStop && sess.active != nil {
		sess.active.halt()
		metricStreamsFinished.WithLabelValues(d.Reason).Inc()
		superseded = d.StopTurnID
	}
	ctx, cancel := context.WithCancel(s.base)
	st := &stream{turnID: turnID, cancel: cancel, emit: emit}
	sess.active = st
	s.wg.Add(1)
	s.mu.Unlock()

	if onStart != nil {
		onStart()
	}
	metricStreamsStarted.Inc()
	go s.run(ctx, sessionID, st, text)
	return superseded, true
}

// Cancel stops the reply for turnID if it is the session's active one.
func (s *Streams) Cancel(sessionID, turnID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	d := sess.floor.OnCancel(turnID)
	if !d.ShouldStop {
		return false
	}
	if sess.active != nil && sess.active.turnID == turnID {
		sess.active.halt()
		sess.active = nil
	}
	metricStreamsFinished.WithLabelValues(d.Reason).Inc()
	return true
}

// CancelSession stops the session's reply and forgets the session.
func (s *Streams) CancelSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if sess.active != nil {
		sess.active.halt()
		metricStreamsFinished.WithLabelValues("disconnected").Inc()
	}
	delete(s.sessions, sessionID)
}

// Active returns the turn currently being answered for the session.
func (s *Streams) Active(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok && sess.active != nil {
		return sess.active.turnID
	}
	return ""
}

// Close cancels every stream and waits for them to exit.
func (s *Streams) Close() {
	s.mu.Lock()
	for _, sess := range s.sessions {
		if sess.active != nil {
			sess.active.halt()
		}
	}
	s.mu.Unlock()
	s.stop()
	s.wg.Wait()
}

func (s *Streams) session(id string) *sessionStreams {
	sess, ok := s.sessions[id]
	if !ok {
		sess = &sessionStreams{floor: floor.New()}
		s.sessions[id] = sess
	}
	return sess
}

func (s *Streams) run(ctx context.Context, sessionID string, st *stream, text string) {
	defer s.wg.Done()
	defer st.cancel()
	log := s.log.With("session_id", sessionID, "turn_id", st.turnID)
	started := s.now()

	ch, err := s.llm.Stream(ctx, llm.Request{
		SystemPrompt: s.cfg.SystemPrompt,
		UserText:     text,
		MaxTokens:    s.cfg.MaxTokens,
		Temperature:  s.cfg.Temperature,
	})
	if err != nil {
		log.Error("model stream failed to start", "err", err)
		s.finish(sessionID, st, protocol.Failed(st.turnID, err.Error(), s.now()), "error")
		return
	}

	var full strings.Builder
	count := 0
	for chunk := range ch {
		if chunk.Err != nil {
			log.Warn("model stream failed", "err", chunk.Err, "tokens", count)
			s.finish(sessionID, st, protocol.Failed(st.turnID, chunk.Err.Error(), s.now()), "error")
			return
		}
		if count == 0 {
			metricFirstToken.Observe(float64(s.now().Sub(started).Milliseconds()))
		}
		count++
		full.WriteString(chunk.Text)
		if !st.send(protocol.Token(st.turnID, chunk.Text, s.now())) {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	log.Debug("reply complete", "tokens", count, "ms", s.now().Sub(started).Milliseconds())
	s.finish(sessionID, st, protocol.Done(st.turnID, full.String(), count, s.now()), "done")
}

// finish sends the terminal message unless the stream lost the floor.
func (s *Streams) finish(sessionID string, st *stream, msg protocol.Inbound, outcome string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	current := ok && sess.active == st
	if current {
		sess.active = nil
		sess.floor.OnFinished(st.turnID)
	}
	s.mu.Unlock()
	if !current {
		return
	}
	if st.send(msg) {
		metricStreamsFinished.WithLabelValues(outcome).Inc()
	}
}

func (st *stream) send(msg protocol.Inbound) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.stopped {
		return false
	}
	st.emit(msg)
	return true
}

// halt cancels the stream and waits for any in-flight emit to finish.
func (st *stream) halt() {
	st.cancel()
	st.mu.Lock()
	st.stopped = true
	st.mu.Unlock()
}
