package llm

import (
	"context"
	"strings"
	"time"
)

// Echo is a local stand-in for a model: it acknowledges the utterance word
// by word. Used when no API key is configured.
type Echo struct {
	Delay time.Duration
}

func NewEcho(delay time.Duration) *Echo { return &Echo{Delay: delay} }

func (e *Echo) Name() string { return "echo" }

func (e *Echo) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	reply := "You said: " + strings.TrimSpace(req.UserText) + ". Could you tell me more?"
	words := strings.Fields(reply)
	limit := len(words)
	if req.MaxTokens > 0 && req.MaxTokens < limit {
		limit = req.MaxTokens
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		for i, w := range words[:limit] {
			if i > 0 {
				w = " " + w
			}
			if e.Delay > 0 {
				t := time.NewTimer(e.Delay)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return
				}
			}
			select {
			case ch <- Chunk{Text: w}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
