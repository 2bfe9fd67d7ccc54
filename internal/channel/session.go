package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Session is the service's answer to POST /sessions.
type Session struct {
	ID    string `json:"session_id"`
	Token string `json:"token"`
	WSURL string `json:"ws_url"`
}

// CreateSession opens a new interview session on the service at baseURL.
func CreateSession(ctx context.Context, hc *http.Client, baseURL string) (Session, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	url := strings.TrimSuffix(baseURL, "/") + "/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return Session{}, fmt.Errorf("channel: create session: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("channel: create session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Session{}, fmt.Errorf("channel: create session: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Session{}, fmt.Errorf("channel: decode session: %w", err)
	}
	if s.ID == "" || s.WSURL == "" {
		return Session{}, fmt.Errorf("channel: create session: incomplete response")
	}
	return s, nil
}

// WebSocketURL resolves a ws_url that may be relative to the service base.
func WebSocketURL(baseURL, wsURL string) string {
	if strings.HasPrefix(wsURL, "ws://") || strings.HasPrefix(wsURL, "wss://") {
		return wsURL
	}
	base := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/" + strings.TrimPrefix(wsURL, "/")
}
