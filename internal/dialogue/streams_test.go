package dialogue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"yuzu/interview/internal/llm"
	"yuzu/interview/internal/protocol"
)

// gatedStreamer hands each request's chunks to the test.
type gatedStreamer struct {
	mu      sync.Mutex
	feeds   map[string]chan llm.Chunk
	started chan string
}

func newGatedStreamer() *gatedStreamer {
	return &gatedStreamer{feeds: make(map[string]chan llm.Chunk), started: make(chan string, 16)}
}

func (g *gatedStreamer) Name() string { return "gated" }

func (g *gatedStreamer) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	in := make(chan llm.Chunk, 16)
	out := make(chan llm.Chunk)
	g.mu.Lock()
	g.feeds[req.UserText] = in
	g.mu.Unlock()
	go func() {
		defer close(out)
		for {
			select {
			case c, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	g.started <- req.UserText
	return out, nil
}

func (g *gatedStreamer) feed(t *testing.T, text string) chan llm.Chunk {
	t.Helper()
	select {
	case got := <-g.started:
		require.Equal(t, text, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("stream for %q never started", text)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.feeds[text]
}

type sink struct {
	mu   sync.Mutex
	msgs []protocol.Inbound
}

func (s *sink) emit(m protocol.Inbound) {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
}

func (s *sink) all() []protocol.Inbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Inbound(nil), s.msgs...)
}

func (s *sink) terminal(turnID string) []protocol.Inbound {
	var out []protocol.Inbound
	for _, m := range s.all() {
		if m.TurnID == turnID && m.Type != protocol.TypeToken {
			out = append(out, m)
		}
	}
	return out
}

func TestStreamsTokensThenDone(t *testing.T) {
	g := newGatedStreamer()
	s := NewStreams(g, StreamConfig{}, nil)
	defer s.Close()
	out := &sink{}

	_, ok := s.Start("s1", "t1", "hello", out.emit, nil)
	require.True(t, ok)
	feed := g.feed(t, "hello")
	feed <- llm.Chunk{Text: "Hi"}
	feed <- llm.Chunk{Text: " there"}
	close(feed)

	require.Eventually(t, func() bool { return len(out.terminal("t1")) == 1 }, 2*time.Second, 5*time.Millisecond)
	msgs := out.all()
	require.Len(t, msgs, 3)
	require.Equal(t, protocol.TypeToken, msgs[0].Type)
	require.Equal(t, "Hi", msgs[0].Token)
	require.Equal(t, protocol.TypeDone, msgs[2].Type)
	require.Equal(t, "Hi there", msgs[2].FullText)
	require.Equal(t, 2, msgs[2].TokenCount)
	require.Empty(t, s.Active("s1"))
}

func TestStreamsNewCommitSupersedes(t *testing.T) {
	g := newGatedStreamer()
	s := NewStreams(g, StreamConfig{}, nil)
	defer s.Close()
	out := &sink{}

	s.Start("s1", "t1", "one", out.emit, nil)
	first := g.feed(t, "one")
	first <- llm.Chunk{Text: "partial"}
	require.Eventually(t, func() bool { return len(out.all()) == 1 }, 2*time.Second, 5*time.Millisecond)

	superseded, ok := s.Start("s1", "t2", "two", out.emit, nil)
	require.True(t, ok)
	require.Equal(t, "t1", superseded)
	require.Equal(t, "t2", s.Active("s1"))
	close(first)

	second := g.feed(t, "two")
	second <- llm.Chunk{Text: "fresh"}
	close(second)

	require.Eventually(t, func() bool { return len(out.terminal("t2")) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, out.terminal("t1"), "a superseded reply never completes")
}

func TestStreamsCancelMatchesTurn(t *testing.T) {
	g := newGatedStreamer()
	s := NewStreams(g, StreamConfig{}, nil)
	defer s.Close()
	out := &sink{}

	s.Start("s1", "t1", "hello", out.emit, nil)
	feed := g.feed(t, "hello")

	require.False(t, s.Cancel("s1", "other"))
	require.False(t, s.Cancel("s2", "t1"))
	require.True(t, s.Cancel("s1", "t1"))
	require.False(t, s.Cancel("s1", "t1"))
	require.Empty(t, s.Active("s1"))

	close(feed)
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, out.all())
}

func TestStreamsDuplicateCommit(t *testing.T) {
	g := newGatedStreamer()
	s := NewStreams(g, StreamConfig{}, nil)
	defer s.Close()
	out := &sink{}

	began := 0
	_, ok := s.Start("s1", "t1", "hello", out.emit, func() { began++ })
	require.True(t, ok)
	_, ok = s.Start("s1", "t1", "hello", out.emit, func() { began++ })
	require.False(t, ok)
	require.Equal(t, 1, began)
	close(g.feed(t, "hello"))
}

func TestStreamsFailure(t *testing.T) {
	g := newGatedStreamer()
	s := NewStreams(g, StreamConfig{}, nil)
	defer s.Close()
	out := &sink{}

	s.Start("s1", "t1", "hello", out.emit, nil)
	feed := g.feed(t, "hello")
	feed <- llm.Chunk{Err: errors.New("upstream 500")}

	require.Eventually(t, func() bool { return len(out.terminal("t1")) == 1 }, 2*time.Second, 5*time.Millisecond)
	msg := out.terminal("t1")[0]
	require.Equal(t, protocol.TypeError, msg.Type)
	require.Contains(t, msg.Error, "upstream 500")
}

type failingStreamer struct{}

func (failingStreamer) Name() string { return "failing" }
func (failingStreamer) Stream(context.Context, llm.Request) (<-chan llm.Chunk, error) {
	return nil, errors.New("no model")
}

func TestStreamsStartFailure(t *testing.T) {
	s := NewStreams(failingStreamer{}, StreamConfig{}, nil)
	defer s.Close()
	out := &sink{}

	s.Start("s1", "t1", "hello", out.emit, nil)
	require.Eventually(t, func() bool { return len(out.terminal("t1")) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, protocol.TypeError, out.terminal("t1")[0].Type)
}

func TestStreamsCancelSession(t *testing.T) {
	g := newGatedStreamer()
	s := NewStreams(g, StreamConfig{}, nil)
	defer s.Close()
	out := &sink{}

	s.Start("s1", "t1", "hello", out.emit, nil)
	feed := g.feed(t, "hello")
	s.CancelSession("s1")
	close(feed)
	require.Empty(t, s.Active("s1"))

	// A fresh session state accepts the same turn id again.
	_, ok := s.Start("s1", "t1", "again", out.emit, nil)
	require.True(t, ok)
	close(g.feed(t, "again"))
}
