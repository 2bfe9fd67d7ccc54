package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"yuzu/interview/internal/protocol"
)

// replyServer answers every commit with a token and a done event, and
// records the Authorization header it saw.
func replyServer(t *testing.T, gotAuth chan<- string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		c, err := ws.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(ws.StatusNormalClosure, "")
		ctx := r.Context()
		for {
			var m protocol.Outbound
			if err := wsjson.Read(ctx, c, &m); err != nil {
				return
			}
			now := time.Now()
			_ = c.Write(ctx, ws.MessageText, []byte("not json"))
			_ = wsjson.Write(ctx, c, protocol.Token(m.TurnID, "Hi", now))
			_ = wsjson.Write(ctx, c, protocol.Done(m.TurnID, "Hi", 1, now))
		}
	}))
}

func wsURL(s *httptest.Server) string { return "ws" + strings.TrimPrefix(s.URL, "http") }

func TestClientRoundTrip(t *testing.T) {
	auth := make(chan string, 1)
	srv := replyServer(t, auth)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL(srv), "tok-1")
	require.NoError(t, err)
	require.Equal(t, "Bearer tok-1", <-auth)

	got := make(chan protocol.Inbound, 4)
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx, func(m protocol.Inbound) { got <- m }) }()

	require.NoError(t, c.Send(protocol.Commit("t-1", "hello there", "finalSignal", time.Now())))

	first := <-got
	require.Equal(t, protocol.TypeToken, first.Type)
	require.Equal(t, "t-1", first.TurnID)
	second := <-got
	require.Equal(t, protocol.TypeDone, second.Type)
	require.Equal(t, 1, second.TokenCount)

	_ = c.Close()
	require.NoError(t, <-runDone)
	require.ErrorIs(t, c.Send(protocol.Cancel("t-1", time.Now())), ErrClosed)
	require.NoError(t, c.Close(), "second close is a no-op")
}

func TestClientBackpressure(t *testing.T) {
	auth := make(chan string, 1)
	srv := replyServer(t, auth)
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), "", WithQueueSize(1))
	require.NoError(t, err)
	defer c.Close()
	require.Equal(t, "", <-auth)

	// Hold the writer so the queue cannot drain.
	c.cancel()
	c.wg.Wait()
	require.NoError(t, c.Send(protocol.Cancel("a", time.Now())))
	require.ErrorIs(t, c.Send(protocol.Cancel("b", time.Now())), ErrBackpressure)
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id": "s-1",
			"token":      "tok",
			"ws_url":     "/ws/interview?session_id=s-1",
		})
	}))
	defer srv.Close()

	s, err := CreateSession(context.Background(), srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	require.Equal(t, Session{ID: "s-1", Token: "tok", WSURL: "/ws/interview?session_id=s-1"}, s)
}

func TestCreateSessionErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := CreateSession(context.Background(), nil, srv.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct{ base, ws, want string }{
		{"http://localhost:8080", "/ws/interview?session_id=a", "ws://localhost:8080/ws/interview?session_id=a"},
		{"https://api.example.com/", "ws/interview", "wss://api.example.com/ws/interview"},
		{"http://x", "wss://other/ws", "wss://other/ws"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, WebSocketURL(tc.base, tc.ws))
	}
}
