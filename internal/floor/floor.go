// Package floor decides which turn holds the reply floor of a session. At
// most one turn is answered at a time; a newer commit takes the floor from
// the one still streaming.
package floor

// Reasons a turn loses the floor.
const (
	ReasonSuperseded = "superseded"
	ReasonCancelled  = "cancelled"
)

// Decision represents the action the floor manager wants to take.
type Decision struct {
	ShouldStop bool
	StopTurnID string
	Reason     string
	// Duplicate is set for a commit of the turn that already holds the floor.
	Duplicate bool
}

// MaxFinished is how many finished turn ids are remembered for duplicate
// detection. Older ids are forgotten in the order they finished.
const MaxFinished = 64

// Manager is not safe for concurrent use; callers hold their own lock.
type Manager struct {
	activeTurnID string
	finished     map[string]bool
	order        []string
}

func New() *Manager { return &Manager{finished: make(map[string]bool)} }

func (m *Manager) Active() string { return m.activeTurnID }

// OnCommit gives the floor to turnID.
func (m *Manager) OnCommit(turnID string) Decision {
	if turnID == m.activeTurnID || m.finished[turnID] {
		return Decision{Duplicate: true}
	}
	prev := m.activeTurnID
	m.activeTurnID = turnID
	if prev != "" {
		m.markFinished(prev)
		return Decision{ShouldStop: true, StopTurnID: prev, Reason: ReasonSuperseded}
	}
	return Decision{}
}

// OnCancel stops turnID if it holds the floor. Cancels for any other turn
// are ignored.
func (m *Manager) OnCancel(turnID string) Decision {
	if turnID == "" || turnID != m.activeTurnID {
		return Decision{}
	}
	m.release(turnID)
	return Decision{ShouldStop: true, StopTurnID: turnID, Reason: ReasonCancelled}
}

// OnFinished releases the floor after a reply ended on its own. It reports
// whether turnID still held it.
func (m *Manager) OnFinished(turnID string) bool {
	if turnID == "" || turnID != m.activeTurnID {
		return false
	}
	m.release(turnID)
	return true
}

func (m *Manager) release(turnID string) {
	m.activeTurnID = ""
	m.markFinished(turnID)
}

func (m *Manager) markFinished(turnID string) {
	if m.finished[turnID] {
		return
	}
	m.finished[turnID] = true
	m.order = append(m.order, turnID)
	if len(m.order) > MaxFinished {
		delete(m.finished, m.order[0])
		m.order = m.order[1:]
	}
}
