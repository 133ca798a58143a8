package orchestrator

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Manager starts sessions and keeps them addressable by id.
type Manager struct {
	gen  Generator
	eval Evaluator
	sink EventSink
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. A nil sink discards events and a nil
// evaluator always yields the fallback report.
func NewManager(gen Generator, eval Evaluator, sink EventSink, opts Options) *Manager {
	if sink == nil {
		sink = nopSink{}
	}
	return &Manager{
		gen:      gen,
		eval:     eval,
		sink:     sink,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// StartSession creates a session for the confirmed topic and starts its idle
// timer.
func (m *Manager) StartSession(cfg Config) (*Session, error) {
	return m.StartSessionWithID(uuid.NewString(), cfg)
}

// StartSessionWithID is StartSession with a caller-chosen id.
func (m *Manager) StartSessionWithID(id string, cfg Config) (*Session, error) {
	if m.gen == nil {
		return nil, ErrNoGenerator
	}
	cfg.Topic = strings.TrimSpace(cfg.Topic)
	cfg.JobTitle = strings.TrimSpace(cfg.JobTitle)
	if cfg.Topic == "" {
		return nil, ErrEmptyInput
	}
	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return nil, ErrSessionExists
	}
	s := newSession(id, cfg, m.opts.withDefaults(), m.gen, m.eval, m.sink)
	m.sessions[id] = s
	m.mu.Unlock()

	metricSessionsActive.Inc()
	s.start()
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// End tears down and forgets a session.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.End()
	return nil
}

func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Shutdown ends every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.End()
	}
	log.Info().Int("sessions", len(all)).Msg("orchestrator shut down")
}
