package scheduler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yuzu/discussion/internal/persona"
)

func TestPoolNeverRepeatsBackToBack(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		p := NewPool(persona.Default, NewRand(seed))
		prev := ""
		for i := 0; i < 200; i++ {
			exclude := persona.HumanID
			if i%2 == 0 {
				exclude = prev
			}
			next := p.Next(exclude)
			require.NotEqual(t, prev, next.ID, "seed %d call %d", seed, i)
			prev = next.ID
		}
	}
}

func TestPoolCoversRosterBeforeReshuffle(t *testing.T) {
	p := NewPool(persona.Default, NewRand(7))
	seen := map[string]bool{}
	for range persona.Default {
		seen[p.Next("").ID] = true
	}
	assert.Len(t, seen, len(persona.Default))
}

func TestPoolSkipsExcludedFront(t *testing.T) {
	roster := persona.Roster{{ID: "a"}, {ID: "b"}}
	p := NewPool(roster, fixedRand{perm: []int{0, 1}})
	assert.Equal(t, "b", p.Next("a").ID)
	assert.Equal(t, "a", p.Next("a").ID, "only one entry left")
}

func TestPoolSinglePersona(t *testing.T) {
	roster := persona.Roster{{ID: "solo"}}
	p := NewPool(roster, NewRand(1))
	assert.Equal(t, "solo", p.Next("solo").ID)
	assert.Equal(t, "solo", p.Next("solo").ID)
}

func TestSpeakingDurationBounds(t *testing.T) {
	assert.Equal(t, MinSpeaking, SpeakingDuration("好", false))
	assert.Equal(t, MaxSpeaking, SpeakingDuration(strings.Repeat("长", 500), false))
	assert.Equal(t, time.Duration(float64(MaxSpeaking)*SummaryFactor), SpeakingDuration(strings.Repeat("长", 500), true))
	assert.Equal(t, time.Duration(float64(MinSpeaking)*SummaryFactor), SpeakingDuration("总结", true))

	prev := time.Duration(0)
	for n := 1; n < 40; n++ {
		d := SpeakingDuration(strings.Repeat("字", n), false)
		assert.GreaterOrEqual(t, d, prev)
		assert.GreaterOrEqual(t, d, MinSpeaking)
		assert.LessOrEqual(t, d, MaxSpeaking)
		prev = d
	}
}

func TestSpeakingDurationMultiplierNeedsVolunteer(t *testing.T) {
	text := strings.Repeat("字", 120)
	assert.Equal(t, SpeakingDuration(text, false), MaxSpeaking)
	assert.Greater(t, SpeakingDuration(text, true), SpeakingDuration(text, false))
}

func TestBetween(t *testing.T) {
	r := NewRand(3)
	for i := 0; i < 100; i++ {
		d := Between(r, time.Second, 2*time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 2*time.Second)
	}
	assert.Equal(t, time.Second, Between(r, time.Second, time.Second))
}

type fixedRand struct {
	f    float64
	perm []int
}

func (f fixedRand) Float64() float64 { return f.f }
func (f fixedRand) Perm(int) []int { return append([]int(nil), f.perm...) }
