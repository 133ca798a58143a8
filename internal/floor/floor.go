package floor

import "sync"

// Stage is the lifecycle position of the in-flight persona turn.
type Stage int

const (
	Idle Stage = iota
	Selected
	AwaitingGeneration
	Speaking
)

func (s Stage) String() string {
	switch s {
	case Idle:
		return "idle"
	case Selected:
		return "selected"
	case AwaitingGeneration:
		return "awaiting_generation"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Source identifies the kind of human input action.
type Source string

const (
	SourceTyped Source = "typed"
	SourceVoice Source = "voice"
)

// Decision is what the floor reports back for a human input action.
type Decision struct {
	Interrupted bool
	PersonaID   string
	Stage       Stage
	Source      Source
}

// Manager tracks the single persona holding the floor. At most one persona is
// active at any instant.
type Manager struct {
	mu     sync.Mutex
	stage  Stage
	active string
}

func New() *Manager { return &Manager{} }

// OnSelected claims the floor for personaID. It fails while another turn is in flight.
func (m *Manager) OnSelected(personaID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stage != Idle {
		return false
	}
	m.stage = Selected
	m.active = personaID
	return true
}

func (m *Manager) OnGenerating(personaID string) {
	m.advance(personaID, AwaitingGeneration)
}

func (m *Manager) OnSpeaking(personaID string) {
	m.advance(personaID, Speaking)
}

func (m *Manager) advance(personaID string, to Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != personaID || m.stage == Idle {
		return
	}
	m.stage = to
}

// OnReleased frees the floor after a commit or an abandoned turn.
func (m *Manager) OnReleased(personaID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Regardless of stage, a release by the holder clears the floor.
	if m.active != personaID {
		return
	}
	m.stage = Idle
	m.active = ""
}

// OnHumanInput reports an interruption when a persona turn is in flight.
// Typed submissions and voice activation are treated alike.
func (m *Manager) OnHumanInput(src Source) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stage == Idle {
		return Decision{Source: src}
	}
	return Decision{Interrupted: true, PersonaID: m.active, Stage: m.stage, Source: src}
}

// Active returns the persona holding the floor, if any.
func (m *Manager) Active() (string, Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.stage
}

// Busy reports whether a persona turn is in flight.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage != Idle
}
