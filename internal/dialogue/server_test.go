package dialogue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"yuzu/interview/internal/auth"
	"yuzu/interview/internal/channel"
	"yuzu/interview/internal/llm"
	"yuzu/interview/internal/protocol"
	"yuzu/interview/internal/speech"
	"yuzu/interview/internal/store"
	"yuzu/interview/internal/turn"
	"yuzu/interview/internal/types"
)

type harness struct {
	srv     *httptest.Server
	store   *store.Store
	streams *Streams
}

func newHarness(t *testing.T, model llm.Streamer, signer auth.Signer) *harness {
	t.Helper()
	st := store.New()
	require.NoError(t, st.CreateSession(&types.Session{ID: "s1", CreatedAt: time.Now()}))
	streams := NewStreams(model, StreamConfig{SystemPrompt: llm.DefaultSystemPrompt}, nil)
	srv := NewServer(st, NewRegistry(), streams, signer, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/interview", srv.HandleInterviewWS)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		streams.Close()
		ts.Close()
	})
	return &harness{srv: ts, store: st, streams: streams}
}

func (h *harness) url(query string) string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/interview?" + query
}

type inbox struct {
	mu   sync.Mutex
	msgs []protocol.Inbound
}

func (b *inbox) add(m protocol.Inbound) {
	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	b.mu.Unlock()
}

func (b *inbox) find(typ, turnID string) (protocol.Inbound, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.msgs {
		if m.Type == typ && m.TurnID == turnID {
			return m, true
		}
	}
	return protocol.Inbound{}, false
}

func (b *inbox) tokens(turnID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.msgs {
		if m.Type == protocol.TypeToken && m.TurnID == turnID {
			n++
		}
	}
	return n
}

func dial(t *testing.T, url, token string) (*channel.Client, *inbox) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := channel.Dial(ctx, url, token)
	require.NoError(t, err)
	box := &inbox{}
	go func() { _ = c.Run(context.Background(), box.add) }()
	t.Cleanup(func() { _ = c.Close() })
	return c, box
}

func TestCommitStreamsReply(t *testing.T) {
	h := newHarness(t, llm.NewEcho(0), auth.Signer{})
	c, box := dial(t, h.url("session_id=s1"), "")

	require.NoError(t, c.Send(protocol.Commit("t1", "hello there", "finalSignal", time.Now())))

	var done protocol.Inbound
	require.Eventually(t, func() bool {
		var ok bool
		done, ok = box.find(protocol.TypeDone, "t1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "You said: hello there. Could you tell me more?", done.FullText)
	require.Equal(t, 9, done.TokenCount)
	require.Equal(t, 9, box.tokens("t1"))

	sess := h.store.GetSession("s1")
	require.Equal(t, types.SessionConnected, sess.Status)
	require.Equal(t, 1, sess.Turns)
	require.Empty(t, sess.ActiveTurnID)
}

func TestMalformedMessageAnsweredWithError(t *testing.T) {
	h := newHarness(t, llm.NewEcho(0), auth.Signer{})
	c, box := dial(t, h.url("session_id=s1"), "")

	require.NoError(t, c.Send(protocol.Outbound{Type: "shout", TurnID: "t1"}))
	require.Eventually(t, func() bool {
		_, ok := box.find(protocol.TypeError, protocol.UnknownTurnID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCancelStopsReply(t *testing.T) {
	h := newHarness(t, llm.NewEcho(40*time.Millisecond), auth.Signer{})
	c, box := dial(t, h.url("session_id=s1"), "")

	require.NoError(t, c.Send(protocol.Commit("t1", "a long answer", "manualStop", time.Now())))
	require.Eventually(t, func() bool { return box.tokens("t1") > 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Send(protocol.Cancel("t1", time.Now())))

	require.Eventually(t, func() bool {
		_, ok := box.find(protocol.TypeCancelled, "t1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	_, done := box.find(protocol.TypeDone, "t1")
	require.False(t, done)

	// A second cancel finds nothing to stop and is not answered.
	require.NoError(t, c.Send(protocol.Cancel("t1", time.Now())))
	time.Sleep(50 * time.Millisecond)
	box.mu.Lock()
	n := 0
	for _, m := range box.msgs {
		if m.Type == protocol.TypeCancelled {
			n++
		}
	}
	box.mu.Unlock()
	require.Equal(t, 1, n)
}

func TestUpgradeChecks(t *testing.T) {
	signer := auth.Signer{Secret: "k", TTL: time.Minute}
	h := newHarness(t, llm.NewEcho(0), signer)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := channel.Dial(ctx, h.url(""), "")
	require.Error(t, err, "missing session id")
	_, err = channel.Dial(ctx, h.url("session_id=nope"), "")
	require.Error(t, err, "unknown session")
	_, err = channel.Dial(ctx, h.url("session_id=s1"), "")
	require.Error(t, err, "missing token")
	_, err = channel.Dial(ctx, h.url("session_id=s1"), "garbage")
	require.Error(t, err, "bad token")

	tok, err := signer.Mint("s1", time.Now())
	require.NoError(t, err)
	c, err := channel.Dial(ctx, h.url("session_id=s1"), tok)
	require.NoError(t, err)
	_ = c.Close()

	c, err = channel.Dial(ctx, h.url("session_id=s1&token="+tok), "")
	require.NoError(t, err)
	_ = c.Close()
}

// The whole loop: scripted speech drives the controller, the controller
// commits over the channel, the service streams a reply, and the controller
// closes the turn and goes back to listening.
func TestControllerRoundTrip(t *testing.T) {
	h := newHarness(t, llm.NewEcho(0), auth.Signer{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := channel.Dial(ctx, h.url("session_id=s1"), "")
	require.NoError(t, err)
	defer c.Close()

	steps, err := speech.ParseScript(strings.NewReader("interim: tell me\nfinal: tell me about the role\n"))
	require.NoError(t, err)
	src := speech.NewScriptSource(steps, speech.WithFragmentGap(time.Millisecond))

	cfg := turn.DefaultConfig()
	cfg.DoneGraceMs = 10
	ctl := turn.New(src, c, turn.WithConfigStore(turn.NewConfigStore(cfg)))
	defer ctl.Close()
	src.SetHandler(ctl)
	c.OnSendError(ctl.SubmitFailed)
	go func() { _ = c.Run(ctx, ctl.HandleInbound) }()

	closed := make(chan turn.Notice, 4)
	ctl.Subscribe(func(n turn.Notice) {
		if n.Kind == turn.NoticeTurnClosed {
			closed <- n
		}
	})
	ctl.Start()

	select {
	case n := <-closed:
		require.Equal(t, turn.StatusCompleted, n.Turn.Status)
		require.Equal(t, "tell me about the role", n.Turn.Text)
		require.Equal(t, "You said: tell me about the role. Could you tell me more?", n.Text)
		require.Equal(t, 12, n.Turn.Tokens)
	case <-time.After(3 * time.Second):
		t.Fatal("turn never closed")
	}
	require.Eventually(t, func() bool { return ctl.State().Phase == turn.PhaseListening }, 2*time.Second, 5*time.Millisecond)
}
