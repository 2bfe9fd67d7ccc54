package turn

import (
	"sync"
	"time"
)

// Clock is the time source for the controller. Tests substitute a manual
// clock so timers can be advanced deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// TimerName identifies one of the controller's timers.
type TimerName string

const (
	TimerDebounce    TimerName = "debounce"
	TimerSilence     TimerName = "silence"
	TimerMaxDuration TimerName = "maxDuration"
	TimerRestart     TimerName = "restart"
)

// episodeTimers are the timers owned by a listening episode.
var episodeTimers = []TimerName{TimerDebounce, TimerSilence, TimerMaxDuration}

type armed struct {
	gen   uint64
	timer Timer
}

// TimerSet holds at most one live timer per name. Each arm gets a new
// generation; an expiry whose generation is no longer current was cancelled
// or re-armed in the meantime and must be ignored.
type TimerSet struct {
	clock Clock

	mu     sync.Mutex
	gen    uint64
	timers map[TimerName]armed
}

func NewTimerSet(clock Clock) *TimerSet {
	return &TimerSet{clock: clock, timers: make(map[TimerName]armed)}
}

// Arm (re)schedules name. fire receives the generation of this arm and is
// called on the clock's goroutine.
func (s *TimerSet) Arm(name TimerName, after time.Duration, fire func(gen uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[name]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	t := s.clock.AfterFunc(after, func() { fire(gen) })
	s.timers[name] = armed{gen: gen, timer: t}
}

func (s *TimerSet) Cancel(name TimerName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[name]; ok {
		old.timer.Stop()
		delete(s.timers, name)
	}
}

func (s *TimerSet) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, name)
	}
}

// Expire consumes the expiry of name at generation gen. It reports false for
// stale expiries.
func (s *TimerSet) Expire(name TimerName, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.timers[name]
	if !ok || a.gen != gen {
		return false
	}
	delete(s.timers, name)
	return true
}

func (s *TimerSet) Armed(name TimerName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}

// Len is the number of live timers.
func (s *TimerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
