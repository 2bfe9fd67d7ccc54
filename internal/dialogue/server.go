package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"yuzu/interview/internal/auth"
	"yuzu/interview/internal/protocol"
	"yuzu/interview/internal/store"
	"yuzu/interview/internal/types"
)

const cancelledMessage = "reply cancelled"

type Server struct {
	Store   *store.Store
	Reg     *Registry
	Streams *Streams
	Signer  auth.Signer
	Log     *slog.Logger

	// WriteTimeout bounds a single reply write.
	WriteTimeout time.Duration
	now          func() time.Time
}

func NewServer(st *store.Store, reg *Registry, streams *Streams, signer auth.Signer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Store:        st,
		Reg:          reg,
		Streams:      streams,
		Signer:       signer,
		Log:          log.With("component", "dialogue"),
		WriteTimeout: 5 * time.Second,
		now:          time.Now,
	}
}

// HandleInterviewWS serves /ws/interview?session_id=...
func (s *Server) HandleInterviewWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	if s.Store.GetSession(sessionID) == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if s.Signer.Enabled() {
		token := bearer(r)
		if token == "" {
			token = q.Get("token")
		}
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if err := s.Signer.Verify(token, sessionID, s.now()); err != nil {
			s.Log.Warn("token rejected", "session_id", sessionID, "err", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		s.Log.Error("ws accept", "session_id", sessionID, "err", err)
		return
	}
	log := s.Log.With("session_id", sessionID)
	if s.Reg.Replace(sessionID, c) {
		s.Store.AppendEvent(sessionID, "client_replaced", nil)
	}
	s.Store.SetStatus(sessionID, types.SessionConnected)
	s.Store.AppendEvent(sessionID, "client_connected", nil)
	log.Info("client connected")

	ctx := r.Context()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if status := ws.CloseStatus(err); status != ws.StatusNormalClosure && status != ws.StatusGoingAway && !errors.Is(err, context.Canceled) {
				log.Debug("read ended", "err", err)
			}
			break
		}
		if typ != ws.MessageText && typ != ws.MessageBinary {
			continue
		}
		s.handleMessage(ctx, sessionID, data)
	}

	_ = c.Close(ws.StatusNormalClosure, "done")
	if s.Reg.Remove(sessionID, c) {
		s.Streams.CancelSession(sessionID)
		s.Store.SetStatus(sessionID, types.SessionDisconnected)
	}
	s.Store.AppendEvent(sessionID, "client_disconnected", nil)
	log.Info("client disconnected")
}

func (s *Server) handleMessage(ctx context.Context, sessionID string, data []byte) {
	msg, err := protocol.DecodeOutbound(data)
	if err != nil {
		metricMalformed.Inc()
		s.Store.AppendEvent(sessionID, "client_msg_invalid", map[string]any{"error": err.Error()})
		s.send(ctx, sessionID, protocol.Failed(protocol.UnknownTurnID, err.Error(), s.now()))
		return
	}
	switch msg.Type {
	case protocol.TypeCommit:
		s.commit(ctx, sessionID, msg)
	case protocol.TypeCancel:
		s.cancel(ctx, sessionID, msg)
	}
}

func (s *Server) commit(ctx context.Context, sessionID string, msg protocol.Outbound) {
	text := strings.TrimSpace(msg.Text)
	s.Store.AppendEvent(sessionID, "commit", map[string]any{
		"turn_id": msg.TurnID,
		"reason":  msg.Reason,
		"chars":   len([]rune(text)),
	})
	if text == "" {
		s.send(ctx, sessionID, protocol.Failed(msg.TurnID, "empty utterance", s.now()))
		return
	}
	begin := func() { s.Store.BeginTurn(sessionID, msg.TurnID) }
	superseded, started := s.Streams.Start(sessionID, msg.TurnID, text, s.emitter(sessionID), begin)
	if !started {
		s.Store.AppendEvent(sessionID, "commit_duplicate", map[string]any{"turn_id": msg.TurnID})
		return
	}
	if superseded != "" {
		s.Store.AppendEvent(sessionID, "stream_superseded", map[string]any{"turn_id": superseded, "by": msg.TurnID})
	}
	s.Log.Info("commit", "session_id", sessionID, "turn_id", msg.TurnID, "reason", msg.Reason)
}

func (s *Server) cancel(ctx context.Context, sessionID string, msg protocol.Outbound) {
	if !s.Streams.Cancel(sessionID, msg.TurnID) {
		s.Log.Debug("cancel for inactive turn", "session_id", sessionID, "turn_id", msg.TurnID)
		s.Store.AppendEvent(sessionID, "cancel_ignored", map[string]any{"turn_id": msg.TurnID})
		return
	}
	s.Store.EndTurn(sessionID, msg.TurnID)
	s.Store.AppendEvent(sessionID, "stream_cancelled", map[string]any{"turn_id": msg.TurnID})
	s.send(ctx, sessionID, protocol.Cancelled(msg.TurnID, cancelledMessage, s.now()))
}

// emitter forwards reply events to whichever connection the session holds.
func (s *Server) emitter(sessionID string) Emit {
	return func(msg protocol.Inbound) {
		switch msg.Type {
		case protocol.TypeDone:
			s.Store.EndTurn(sessionID, msg.TurnID)
			s.Store.AppendEvent(sessionID, "reply_done", map[string]any{"turn_id": msg.TurnID, "tokens": msg.TokenCount})
		case protocol.TypeError:
			s.Store.EndTurn(sessionID, msg.TurnID)
			s.Store.AppendEvent(sessionID, "reply_error", map[string]any{"turn_id": msg.TurnID, "error": msg.Error})
		}
		s.send(context.Background(), sessionID, msg)
	}
}

func (s *Server) send(ctx context.Context, sessionID string, msg protocol.Inbound) {
	wctx, cancel := context.WithTimeout(ctx, s.WriteTimeout)
	defer cancel()
	if err := s.Reg.SendJSON(wctx, sessionID, msg); err != nil {
		s.Log.Warn("send failed", "session_id", sessionID, "type", msg.Type, "turn_id", msg.TurnID, "err", err)
	}
}

func bearer(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
}
