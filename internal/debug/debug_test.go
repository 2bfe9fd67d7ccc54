package debug

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"yuzu/interview/internal/turn"
)

func TestRecorderKeepsNewest(t *testing.T) {
	r := NewRecorder(3)
	require.Empty(t, r.Snapshot())
	for i := 0; i < 5; i++ {
		r.Observe(turn.Notice{Kind: turn.NoticeToken, Token: fmt.Sprint(i)})
	}
	got := r.Snapshot()
	require.Len(t, got, 3)
	require.Equal(t, "2", got[0].Token)
	require.Equal(t, "4", got[2].Token)
	require.EqualValues(t, 5, r.Total())
}

func TestConfigEndpoint(t *testing.T) {
	store := turn.NewConfigStore(turn.DefaultConfig())
	srv := httptest.NewServer(NewHandler(store, NewRecorder(0), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/config")
	require.NoError(t, err)
	var got turn.Config
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	require.Equal(t, turn.DefaultConfig(), got)

	put := func(body string) int {
		req, err := http.NewRequest(http.MethodPut, srv.URL+"/debug/config", strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, http.StatusOK, put(`{"silenceMs":1500}`))
	require.Equal(t, 1500, store.Load().SilenceMs)
	require.Equal(t, 200, store.Load().HangoverMs, "unspecified fields are kept")

	require.Equal(t, http.StatusBadRequest, put(`{"hangoverMs":2000}`))
	require.Equal(t, 200, store.Load().HangoverMs)
	require.Equal(t, http.StatusBadRequest, put(`{`))
}

func TestNoticesAndState(t *testing.T) {
	rec := NewRecorder(10)
	rec.Observe(turn.Notice{Kind: turn.NoticeStateChanged, From: turn.PhaseIdle, To: turn.PhaseListening})
	rec.Observe(turn.Notice{Kind: turn.NoticeTurnOpened, TurnID: "t1"})

	state := func() turn.State { return turn.State{Phase: turn.PhaseAwaitingReply, Active: &turn.Turn{ID: "t1"}} }
	srv := httptest.NewServer(NewHandler(turn.NewConfigStore(turn.DefaultConfig()), rec, state))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/notices?kind=turn_opened")
	require.NoError(t, err)
	var body struct {
		Total   uint64        `json:"total"`
		Notices []turn.Notice `json:"notices"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	require.EqualValues(t, 2, body.Total)
	require.Len(t, body.Notices, 1)
	require.Equal(t, "t1", body.Notices[0].TurnID)

	resp, err = http.Get(srv.URL + "/debug/state")
	require.NoError(t, err)
	var view map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	resp.Body.Close()
	require.Equal(t, "awaiting_reply", view["phase"])
}
