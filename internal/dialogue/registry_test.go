package dialogue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"yuzu/interview/internal/auth"
	"yuzu/interview/internal/llm"
	"yuzu/interview/internal/protocol"
	"yuzu/interview/internal/types"
)

func TestRegistrySendWithoutConnection(t *testing.T) {
	r := NewRegistry()
	err := r.SendJSON(context.Background(), "s1", map[string]string{"type": "ai_token"})
	require.ErrorIs(t, err, ErrNotConnected)
	require.False(t, r.Remove("s1", nil))
}

// A second client for the same session takes over; the first connection's
// exit must not tear down the newer one.
func TestReconnectReplacesConnection(t *testing.T) {
	h := newHarness(t, llm.NewEcho(0), auth.Signer{})
	dial(t, h.url("session_id=s1"), "")
	require.Eventually(t, func() bool { return len(h.store.ListEvents("s1")) > 0 }, 2*time.Second, 5*time.Millisecond)
	second, box := dial(t, h.url("session_id=s1"), "")

	require.Eventually(t, func() bool {
		for _, e := range h.store.ListEvents("s1") {
			if e.Type == "client_replaced" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, second.Send(protocol.Commit("t1", "still here", "finalSignal", time.Now())))
	require.Eventually(t, func() bool {
		_, ok := box.find(protocol.TypeDone, "t1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, types.SessionConnected, h.store.GetSession("s1").Status)
}
