package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"yuzu/discussion/internal/types"
)

var ErrSessionExists = errors.New("session already exists")
var ErrSessionNotFound = errors.New("session not found")

// maxEvents caps the per-session log. The oldest events are dropped and a
// single truncation marker is kept at the tail.
const maxEvents = 200

// subscriberBuffer is how many events a slow subscriber may lag before
// events are dropped for it.
const subscriberBuffer = 64

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	events   map[string][]types.Event
	seq      map[string]int64
	subs     map[string]map[int]chan types.Event
	nextSub  int
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*types.Session),
		events:   make(map[string][]types.Event),
		seq:      make(map[string]int64),
		subs:     make(map[string]map[int]chan types.Event),
	}
}

func (s *Store) CreateSession(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrSessionExists
	}
	if sess.Status == "" {
		sess.Status = types.StatusActive
	}
	s.sessions[sess.ID] = sess
	if _, ok := s.events[sess.ID]; !ok {
		s.events[sess.ID] = []types.Event{}
	}
	return nil
}

// GetSession returns a copy of the record, or nil.
func (s *Store) GetSession(id string) *types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	cp := *sess
	return &cp
}

func (s *Store) SetStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Status = status
	if status == types.StatusEnded {
		now := time.Now().UTC()
		sess.EndedAt = &now
	}
	return nil
}

func (s *Store) ListSessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Publish records an event and fans it out to live subscribers. It never
// blocks, so it is safe to call from a session loop.
func (s *Store) Publish(sessionID, typ string, payload map[string]any) {
	s.AppendEvent(sessionID, typ, payload)
}

func (s *Store) AppendEvent(sessionID, typ string, payload map[string]any) types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[sessionID]++
	evt := types.Event{Seq: s.seq[sessionID], Type: typ, Ts: time.Now().UTC(), Payload: payload}
	s.events[sessionID] = append(s.events[sessionID], evt)
	if l := len(s.events[sessionID]); l > maxEvents {
		// Keep space for a single truncation warning so the total stays at maxEvents
		keep := maxEvents - 1
		dropped := l - keep
		s.events[sessionID] = append([]types.Event(nil), s.events[sessionID][l-keep:]...)
		s.seq[sessionID]++
		warn := types.Event{
			Seq:     s.seq[sessionID],
			Type:    "events_truncated",
			Ts:      time.Now().UTC(),
			Payload: map[string]any{"session_id": sessionID, "dropped": dropped, "kept": keep},
		}
		s.events[sessionID] = append(s.events[sessionID], warn)
	}
	for _, ch := range s.subs[sessionID] {
		select {
		case ch <- evt:
		default:
		}
	}
	return evt
}

func (s *Store) ListEvents(sessionID string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[sessionID]
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}

// Subscribe streams future events of a session. The returned func must be
// called to release the subscription; it closes the channel.
func (s *Store) Subscribe(sessionID string) (<-chan types.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan types.Event, subscriberBuffer)
	if s.subs[sessionID] == nil {
		s.subs[sessionID] = make(map[int]chan types.Event)
	}
	s.subs[sessionID][id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[sessionID], id)
			if len(s.subs[sessionID]) == 0 {
				delete(s.subs, sessionID)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}
