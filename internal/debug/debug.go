// Package debug serves the client's runtime tuning surface: read and edit the
// turn-detection config while the controller runs, and inspect what it did.
package debug

import (
	"encoding/json"
	"net/http"
	"sync"

	"yuzu/interview/internal/turn"
)

const DefaultCapacity = 200

// Recorder keeps the most recent controller notices.
type Recorder struct {
	mu    sync.Mutex
	buf   []turn.Notice
	next  int
	full  bool
	total uint64
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{buf: make([]turn.Notice, capacity)}
}

// Observe is a turn.Observer.
func (r *Recorder) Observe(n turn.Notice) {
	r.mu.Lock()
	r.buf[r.next] = n
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.total++
	r.mu.Unlock()
}

// Snapshot returns the retained notices, oldest first.
func (r *Recorder) Snapshot() []turn.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]turn.Notice(nil), r.buf[:r.next]...)
	}
	out := make([]turn.Notice, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Total counts every notice ever observed, including evicted ones.
func (r *Recorder) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

type stateView struct {
	Phase         turn.Phase `json:"phase"`
	Buffer        string     `json:"buffer"`
	Active        *turn.Turn `json:"active,omitempty"`
	SourceRunning bool       `json:"sourceRunning"`
	Blocked       bool       `json:"blocked"`
}

// NewHandler serves /debug/config, /debug/notices and /debug/state. state
// may be nil.
func NewHandler(cfg *turn.ConfigStore, rec *Recorder, state func() turn.State) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/config", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, cfg.Load())
		case http.MethodPut, http.MethodPatch:
			// Fields missing from the body keep their current values.
			next := cfg.Load()
			if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json: " + err.Error()})
				return
			}
			if err := cfg.Store(next); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, cfg.Load())
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/debug/notices", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		notices := rec.Snapshot()
		if kind := r.URL.Query().Get("kind"); kind != "" {
			filtered := notices[:0]
			for _, n := range notices {
				if string(n.Kind) == kind {
					filtered = append(filtered, n)
				}
			}
			notices = filtered
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": rec.Total(), "notices": notices})
	})

	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		if state == nil {
			http.NotFound(w, r)
			return
		}
		s := state()
		writeJSON(w, http.StatusOK, stateView{
			Phase:         s.Phase,
			Buffer:        s.Buffer.Text(),
			Active:        s.Active,
			SourceRunning: s.SourceRunning,
			Blocked:       s.Blocked,
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
