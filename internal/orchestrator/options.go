package orchestrator

import (
	"time"

	"yuzu/discussion/internal/persona"
	"yuzu/discussion/internal/scheduler"
)

const (
	DefaultMaxRounds        = 25
	DefaultIdleGrace        = 2500 * time.Millisecond
	DefaultChainProbability = 0.4
	DefaultInterruptDisplay = 2500 * time.Millisecond

	// turns of history handed to the generator
	transcriptTail = 6
	// a human turn gets one reply with this probability, otherwise two
	singleReplyProbability = 0.6
	busyRetry              = 500 * time.Millisecond
)

var (
	chainDelay      = [2]time.Duration{1200 * time.Millisecond, 3000 * time.Millisecond}
	inviteDelay     = [2]time.Duration{1500 * time.Millisecond, 2500 * time.Millisecond}
	humanReplyDelay = [2]time.Duration{1500 * time.Millisecond, 2500 * time.Millisecond}
	volunteerPause  = [2]time.Duration{2 * time.Second, 3 * time.Second}
)

// Options tune a session. Zero values fall back to the defaults above, except
// ChainProbability where zero disables random chaining.
type Options struct {
	MaxRounds        int
	IdleGrace        time.Duration
	ChainProbability float64
	InterruptDisplay time.Duration

	// TimeScale multiplies every simulated delay. 1 is real time.
	TimeScale float64

	// FallbackUtterance, when set, is committed in place of a failed
	// generation. When empty a failed turn is abandoned.
	FallbackUtterance string

	// RoundLimitNotice, when set, is appended as a system notice the first
	// time the round cap stops a turn.
	RoundLimitNotice string

	Roster persona.Roster
	Rand   scheduler.Rand
}

// DefaultOptions mirrors the product defaults.
func DefaultOptions() Options {
	return Options{
		MaxRounds:        DefaultMaxRounds,
		IdleGrace:        DefaultIdleGrace,
		ChainProbability: DefaultChainProbability,
		InterruptDisplay: DefaultInterruptDisplay,
		TimeScale:        1,
		Roster:           persona.Default,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultMaxRounds
	}
	if o.IdleGrace <= 0 {
		o.IdleGrace = DefaultIdleGrace
	}
	if o.InterruptDisplay <= 0 {
		o.InterruptDisplay = DefaultInterruptDisplay
	}
	if o.TimeScale <= 0 {
		o.TimeScale = 1
	}
	if len(o.Roster) == 0 {
		o.Roster = persona.Default
	}
	if o.Rand == nil {
		o.Rand = scheduler.NewRand(time.Now().UnixNano())
	}
	return o
}

func (o Options) scale(d time.Duration) time.Duration {
	return time.Duration(float64(d) * o.TimeScale)
}
