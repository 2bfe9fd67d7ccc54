// Package speech provides speech sources for the turn controller. The only
// implementation replays a transcript script, which stands in for a platform
// recognizer in local runs and integration tests.
package speech

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

type StepKind string

const (
	StepInterim StepKind = "interim"
	StepFinal   StepKind = "final"
	StepPause   StepKind = "pause"
	StepError   StepKind = "error"
	StepEnd     StepKind = "end"
)

// Step is one line of a script.
type Step struct {
	Kind  StepKind
	Text  string
	Pause time.Duration
	Code  string
}

// ParseScript reads one directive per line:
//
//	interim: hello th
//	final: hello there
//	pause: 900ms
//	error: no-speech
//	end
//
// Blank lines and lines starting with # are skipped.
func ParseScript(r io.Reader) ([]Step, error) {
	var steps []Step
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if raw == string(StepEnd) {
			steps = append(steps, Step{Kind: StepEnd})
			continue
		}
		key, val, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, fmt.Errorf("speech: line %d: expected \"kind: value\", got %q", line, raw)
		}
		val = strings.TrimSpace(val)
		switch StepKind(strings.TrimSpace(key)) {
		case StepInterim:
			steps = append(steps, Step{Kind: StepInterim, Text: val})
		case StepFinal:
			steps = append(steps, Step{Kind: StepFinal, Text: val})
		case StepPause:
			d, err := time.ParseDuration(val)
			if err != nil || d < 0 {
				return nil, fmt.Errorf("speech: line %d: bad pause %q", line, val)
			}
			steps = append(steps, Step{Kind: StepPause, Pause: d})
		case StepError:
			if val == "" {
				return nil, fmt.Errorf("speech: line %d: error needs a code", line)
			}
			steps = append(steps, Step{Kind: StepError, Code: val})
		default:
			return nil, fmt.Errorf("speech: line %d: unknown directive %q", line, key)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("speech: read script: %w", err)
	}
	return steps, nil
}
