package speech

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Handler receives recognizer output. *turn.Controller satisfies it.
type Handler interface {
	HandleFragment(text string, final bool)
	HandleSourceStarted()
	HandleSourceEnded()
	HandleSourceError(code string)
}

var ErrNoHandler = errors.New("speech: no handler set")

type Option func(*ScriptSource)

// WithFragmentGap sets the delay after each interim or final line.
func WithFragmentGap(d time.Duration) Option { return func(s *ScriptSource) { s.gap = d } }

func WithLogger(l *slog.Logger) Option { return func(s *ScriptSource) { s.log = l } }

// ScriptSource replays steps like a continuous recognizer. The cursor
// survives Stop, so the next Start resumes where the script left off. Each
// run reports started once and ended once, except that a run superseded by a
// newer one does not report its end.
type ScriptSource struct {
	steps []Step
	gap   time.Duration
	log   *slog.Logger

	mu      sync.Mutex
	handler Handler
	cursor  int
	running bool
	run     uint64
	stop    chan struct{}
}

func NewScriptSource(steps []Step, opts ...Option) *ScriptSource {
	s := &ScriptSource{steps: steps, gap: 120 * time.Millisecond, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "speech")
	return s
}

func (s *ScriptSource) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Start begins a run. Starting a running source is a no-op.
func (s *ScriptSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return ErrNoHandler
	}
	if s.running {
		return nil
	}
	s.running = true
	s.run++
	s.stop = make(chan struct{})
	go s.loop(s.handler, s.run, s.stop)
	return nil
}

// Stop ends the current run. The end is reported asynchronously.
func (s *ScriptSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	close(s.stop)
	return nil
}

func (s *ScriptSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Exhausted reports whether every step has been replayed.
func (s *ScriptSource) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor >= len(s.steps)
}

// next claims the step under the cursor for run. A stopped or superseded run
// claims nothing, so the step is left for the next Start.
func (s *ScriptSource) next(run uint64) (Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != run || !s.running || s.cursor >= len(s.steps) {
		return Step{}, false
	}
	st := s.steps[s.cursor]
	s.cursor++
	return st, true
}

func (s *ScriptSource) current(run uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run == run
}

func (s *ScriptSource) loop(h Handler, run uint64, stop chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.run == run && s.running {
			// Spontaneous end.
			s.running = false
			close(s.stop)
		}
		s.mu.Unlock()
		if s.current(run) {
			h.HandleSourceEnded()
		}
	}()

	h.HandleSourceStarted()
	for {
		select {
		case <-stop:
			return
		default:
		}
		st, ok := s.next(run)
		if !ok {
			// Out of script or stopped: stay open like a recognizer hearing
			// silence until the stop is seen.
			<-stop
			return
		}
		switch st.Kind {
		case StepInterim, StepFinal:
			h.HandleFragment(st.Text, st.Kind == StepFinal)
			if !wait(s.gap, stop) {
				return
			}
		case StepPause:
			if !wait(st.Pause, stop) {
				return
			}
		case StepError:
			s.log.Debug("scripted recognizer error", "code", st.Code)
			h.HandleSourceError(st.Code)
		case StepEnd:
			return
		}
	}
}

// wait sleeps for d unless stop closes first.
func wait(d time.Duration, stop <-chan struct{}) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}
