// Package llm streams interviewer replies from a language model.
package llm

import "context"

// DefaultSystemPrompt frames the model as the interviewer.
const DefaultSystemPrompt = "You are a professional AI interviewer. Engage in depth with the candidate based on their answers, asking one focused follow-up question at a time."

// Request is one user utterance to answer.
type Request struct {
	SystemPrompt string
	UserText     string
	MaxTokens    int
	Temperature  float64
}

// Chunk is one streamed piece of the reply. A chunk with Err set is the last
// one on the channel.
type Chunk struct {
	Text string
	Err  error
}

// Streamer produces a reply as a stream of chunks. The channel is closed when
// the reply ends or ctx is cancelled.
type Streamer interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
	Name() string
}
