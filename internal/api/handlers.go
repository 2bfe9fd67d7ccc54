package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"yuzu/interview/internal/auth"
	"yuzu/interview/internal/health"
	"yuzu/interview/internal/store"
	"yuzu/interview/internal/types"
)

// WSPath is where the interview channel is served.
const WSPath = "/ws/interview"

type Handlers struct {
	store  *store.Store
	signer auth.Signer
	checks []health.Check
	log    *slog.Logger
	// wsBase, if set, prefixes the returned ws_url (e.g. wss://host).
	wsBase string
}

func NewHandlers(st *store.Store, signer auth.Signer, wsBase string, log *slog.Logger, checks ...health.Check) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{store: st, signer: signer, checks: checks, log: log.With("component", "api"), wsBase: wsBase}
}

func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.New().String()
	now := time.Now().UTC()

	var token string
	if h.signer.Enabled() {
		var err error
		token, err = h.signer.Mint(id, now)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	sess := &types.Session{ID: id, CreatedAt: now, Status: types.SessionCreated}
	if err := h.store.CreateSession(sess); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	h.store.AppendEvent(id, "session_created", nil)
	h.log.Info("session created", "session_id", id)

	resp := map[string]any{
		"session_id": id,
		"ws_url":     h.wsBase + WSPath + "?session_id=" + url.QueryEscape(id),
	}
	if token != "" {
		resp["token"] = token
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	sess := h.store.GetSession(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request, id string) {
	sess := h.store.GetSession(id)
	if sess == nil {
		http.NotFound(w, r)
		return
	}
	events := h.store.ListEvents(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     events,
	})
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st := health.CheckAll(ctx, h.checks...)
	status := http.StatusOK
	if !st.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
