// Package scheduler picks the next persona to speak and how long the simulated
// speech lasts.
package scheduler

import (
	"math/rand"
	"sync"
	"time"

	"yuzu/discussion/internal/cues"
	"yuzu/discussion/internal/persona"
)

// Rand is the random source used for every scheduling decision.
// *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	Perm(n int) []int
}

// NewRand returns a goroutine-safe Rand seeded with seed.
func NewRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Perm(n int) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Perm(n)
}

// Between returns a uniformly random duration in [lo, hi).
func Between(r Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.Float64()*float64(hi-lo))
}

// Pool hands out personas from a shuffled working queue so every persona gets
// a turn before anyone speaks twice.
type Pool struct {
	roster persona.Roster
	rnd    Rand
	queue  []string
	last   string
}

func NewPool(roster persona.Roster, rnd Rand) *Pool {
	return &Pool{roster: roster, rnd: rnd}
}

// Next removes and returns the next persona. It avoids exclude and the persona
// it returned last whenever the queue offers an alternative.
func (p *Pool) Next(exclude string) persona.Persona {
	if len(p.queue) == 0 {
		p.refill()
	}
	pick := 0
	if len(p.queue) > 1 {
		pick = -1
		for i, id := range p.queue {
			if id != exclude && id != p.last {
				pick = i
				break
			}
		}
		if pick < 0 {
			for i, id := range p.queue {
				if id != p.last {
					pick = i
					break
				}
			}
		}
		if pick < 0 {
			pick = 0
		}
	}
	id := p.queue[pick]
	p.queue = append(p.queue[:pick], p.queue[pick+1:]...)
	p.last = id
	per, _ := p.roster.Get(id)
	return per
}

func (p *Pool) refill() {
	ids := p.roster.IDs()
	perm := p.rnd.Perm(len(ids))
	p.queue = make([]string, len(ids))
	for i, j := range perm {
		p.queue[i] = ids[j]
	}
}

const (
	// CharsPerSecond is the assumed speaking rate.
	CharsPerSecond = 2.8
	MinSpeaking    = 800 * time.Millisecond
	MaxSpeaking    = 5000 * time.Millisecond
	// SummaryFactor stretches long-form summary delivery once someone has volunteered.
	SummaryFactor = 1.5
)

// SpeakingDuration is how long an utterance takes to deliver.
func SpeakingDuration(text string, volunteered bool) time.Duration {
	d := time.Duration(float64(cues.Len(text)) / CharsPerSecond * float64(time.Second))
	if d < MinSpeaking {
		d = MinSpeaking
	}
	if d > MaxSpeaking {
		d = MaxSpeaking
	}
	if volunteered && cues.LongForm(text) {
		d = time.Duration(float64(d) * SummaryFactor)
	}
	return d
}
