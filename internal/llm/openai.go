package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// OpenAI streams chat completions from an OpenAI compatible endpoint.
type OpenAI struct {
	client oai.Client
	model  string
}

type openAIConfig struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

type OpenAIOption func(*openAIConfig)

// WithBaseURL points the client at a compatible gateway instead of the
// public API.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithTimeout bounds the wait for the response headers. A reply that is
// already streaming is bounded only by the caller's context.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *openAIConfig) { c.timeout = d }
}

func WithMaxRetries(n int) OpenAIOption {
	return func(c *openAIConfig) { c.maxRetries = n }
}

func NewOpenAI(apiKey, model string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("llm: openai api key must not be empty")
	}
	if model == "" {
		return nil, errors.New("llm: openai model must not be empty")
	}
	cfg := &openAIConfig{maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = cfg.timeout
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Transport: tr}))
	}
	return &OpenAI{client: oai.NewClient(reqOpts...), model: model}, nil
}

func (p *OpenAI) Name() string { return "openai:" + p.model }

// Ping lists the models visible to the configured key.
func (p *OpenAI) Ping(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return fmt.Errorf("llm: openai list models: %w", err)
	}
	return nil
}

func (p *OpenAI) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req))
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("llm: openai start stream: %w", err)
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			select {
			case ch <- Chunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- Chunk{Err: fmt.Errorf("llm: openai stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

func (p *OpenAI) params(req Request) oai.ChatCompletionNewParams {
	sys := req.SystemPrompt
	if sys == "" {
		sys = DefaultSystemPrompt
	}
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(sys),
			oai.UserMessage(req.UserText),
		},
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}
