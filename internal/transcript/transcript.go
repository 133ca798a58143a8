package transcript

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"yuzu/discussion/internal/persona"
)

// ErrFrozen is returned when appending to a finished transcript.
var ErrFrozen = errors.New("transcript is frozen")

// Kind distinguishes system notices from spoken turns.
type Kind string

const (
	KindSystem Kind = "system"
	KindSpoken Kind = "spoken"
)

// Turn is one committed utterance. Turns are never edited once appended.
type Turn struct {
	ID          string    `json:"id"`
	Seq         int       `json:"seq"`
	SpeakerID   string    `json:"speaker_id"`
	SpeakerName string    `json:"speaker_name"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
	Kind        Kind      `json:"kind"`
}

// IsHuman reports whether the turn was spoken by the human participant.
func (t Turn) IsHuman() bool { return t.SpeakerID == persona.HumanID }

// Observer is notified after every append with the new turn and the full history.
type Observer func(turn Turn, history []Turn)

// Store is an append-only ordered log of turns.
type Store struct {
	mu        sync.RWMutex
	turns     []Turn
	frozen    bool
	observers []Observer
	now       func() time.Time
}

func New() *Store {
	return &Store{now: time.Now}
}

// Observe registers an observer. Observers run synchronously inside Append.
func (s *Store) Observe(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Append records a spoken turn and returns it.
func (s *Store) Append(speakerID, speakerName, text string) (Turn, error) {
	return s.append(speakerID, speakerName, text, KindSpoken)
}

// AppendSystem records a system notice. System notices do not count as spoken turns.
func (s *Store) AppendSystem(text string) (Turn, error) {
	return s.append("system", "系统", text, KindSystem)
}

func (s *Store) append(speakerID, speakerName, text string, kind Kind) (Turn, error) {
	s.mu.Lock()
	if s.frozen {
		s.mu.Unlock()
		return Turn{}, ErrFrozen
	}
	t := Turn{
		ID:          uuid.NewString(),
		Seq:         len(s.turns) + 1,
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
		Text:        text,
		CreatedAt:   s.now().UTC(),
		Kind:        kind,
	}
	s.turns = append(s.turns, t)
	history := make([]Turn, len(s.turns))
	copy(history, s.turns)
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o(t, history)
	}
	return t, nil
}

// All returns a copy of the transcript in insertion order.
func (s *Store) All() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Spoken returns only the spoken turns, in order.
func (s *Store) Spoken() []Turn {
	return Spoken(s.All())
}

// Len returns the number of turns, including system notices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Last returns the most recent spoken turn.
func (s *Store) Last() (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Kind == KindSpoken {
			return s.turns[i], true
		}
	}
	return Turn{}, false
}

// LastHuman returns the most recent human turn.
func (s *Store) LastHuman() (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].IsHuman() {
			return s.turns[i], true
		}
	}
	return Turn{}, false
}

// Freeze stops further appends. It is idempotent.
func (s *Store) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Spoken filters out system notices.
func Spoken(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Kind == KindSpoken {
			out = append(out, t)
		}
	}
	return out
}

// Tail returns at most n trailing turns.
func Tail(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// VoiceShare is the rounded percentage of spoken turns contributed by the human.
// An empty transcript yields 0.
func VoiceShare(turns []Turn) int {
	spoken := Spoken(turns)
	if len(spoken) == 0 {
		return 0
	}
	human := 0
	for _, t := range spoken {
		if t.IsHuman() {
			human++
		}
	}
	return int(math.Round(100 * float64(human) / float64(len(spoken))))
}
