package turn

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Config holds the tunable turn-detection parameters. All durations are in
// milliseconds so the values can be edited as plain numbers at runtime.
type Config struct {
	// SilenceMs is how long the interim text must stay unchanged before the
	// utterance is committed.
	SilenceMs int `json:"silenceMs"`
	// HangoverMs is the debounce applied to interim updates before the silence
	// countdown starts. It is part of SilenceMs, not added to it.
	HangoverMs int `json:"hangoverMs"`
	// MaxUtteranceMs bounds a listening episode regardless of the recognizer.
	MaxUtteranceMs int `json:"maxUtteranceMs"`
	// MinCharsToCommit rejects shorter utterances (counted in runes, after trim).
	MinCharsToCommit int `json:"minCharsToCommit"`

	DoneGraceMs    int `json:"doneGraceMs"`
	ErrorGraceMs   int `json:"errorGraceMs"`
	RestartDelayMs int `json:"restartDelayMs"`
}

// DefaultConfig returns the production-tuned defaults.
func DefaultConfig() Config {
	return Config{
		SilenceMs:        900,
		HangoverMs:       200,
		MaxUtteranceMs:   25000,
		MinCharsToCommit: 3,
		DoneGraceMs:      1000,
		ErrorGraceMs:     2000,
		RestartDelayMs:   2000,
	}
}

// Validate checks that the values are usable together.
func (c Config) Validate() error {
	var errs []error
	if c.SilenceMs <= 0 {
		errs = append(errs, fmt.Errorf("silenceMs must be positive, got %d", c.SilenceMs))
	}
	if c.HangoverMs < 0 {
		errs = append(errs, fmt.Errorf("hangoverMs must not be negative, got %d", c.HangoverMs))
	}
	if c.HangoverMs >= c.SilenceMs && c.SilenceMs > 0 {
		errs = append(errs, fmt.Errorf("hangoverMs (%d) must be shorter than silenceMs (%d)", c.HangoverMs, c.SilenceMs))
	}
	if c.MaxUtteranceMs <= c.SilenceMs {
		errs = append(errs, fmt.Errorf("maxUtteranceMs (%d) must exceed silenceMs (%d)", c.MaxUtteranceMs, c.SilenceMs))
	}
	if c.MinCharsToCommit < 1 {
		errs = append(errs, fmt.Errorf("minCharsToCommit must be at least 1, got %d", c.MinCharsToCommit))
	}
	if c.DoneGraceMs < 0 || c.ErrorGraceMs < 0 || c.RestartDelayMs < 0 {
		errs = append(errs, errors.New("grace and restart delays must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("turn config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) Hangover() time.Duration     { return ms(c.HangoverMs) }
func (c Config) MaxUtterance() time.Duration { return ms(c.MaxUtteranceMs) }
func (c Config) DoneGrace() time.Duration    { return ms(c.DoneGraceMs) }
func (c Config) ErrorGrace() time.Duration   { return ms(c.ErrorGraceMs) }
func (c Config) RestartDelay() time.Duration { return ms(c.RestartDelayMs) }
func (c Config) Silence() time.Duration      { return ms(c.SilenceMs) }

// SilenceAfterDebounce is the delay armed once the debounce settles, so that
// debounce plus silence add up to SilenceMs of unchanged text.
func (c Config) SilenceAfterDebounce() time.Duration {
	d := c.SilenceMs - c.HangoverMs
	if d < 0 {
		d = 0
	}
	return ms(d)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// ConfigStore is the runtime-mutable holder an operator edits. The controller
// takes one snapshot per event, so an update never lands mid-evaluation.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg Config
}

// NewConfigStore returns a store seeded with cfg. Invalid seeds fall back to
// the defaults.
func NewConfigStore(cfg Config) *ConfigStore {
	if err := cfg.Validate(); err != nil {
		cfg = DefaultConfig()
	}
	return &ConfigStore{cfg: cfg}
}

func (s *ConfigStore) Load() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Store replaces the configuration if it validates.
func (s *ConfigStore) Store(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}
