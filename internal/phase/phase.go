// Package phase infers the forward-only discussion phase from the transcript.
package phase

import (
	"sync"

	"yuzu/discussion/internal/cues"
	"yuzu/discussion/internal/transcript"
)

// Phase is one of four ordered discussion stages.
type Phase int

const (
	Opening Phase = iota
	Deepening
	GuidingSummary
	FinalWrapUp
)

func (p Phase) String() string {
	switch p {
	case Opening:
		return "opening"
	case Deepening:
		return "deepening"
	case GuidingSummary:
		return "guiding_summary"
	case FinalWrapUp:
		return "final_wrap_up"
	default:
		return "unknown"
	}
}

// Label is the stage name shown to participants and used in generation prompts.
func (p Phase) Label() string {
	switch p {
	case Opening:
		return "开局框架"
	case Deepening:
		return "深入讨论"
	case GuidingSummary:
		return "总结引导"
	case FinalWrapUp:
		return "收尾补充"
	default:
		return ""
	}
}

// Tip is a short coaching hint for the human participant.
func (p Phase) Tip() string {
	if p < GuidingSummary {
		return "当前阶段重点是贡献具体想法，争取在方案中留下你的逻辑印记。"
	}
	return "讨论已接近尾声，请关注是否有人已经做出了总结，若没有，你可以尝试引导。"
}

// RecentWindow is how many trailing turns count as "recent".
const RecentWindow = 8

// Rule decides whether the phase may leave current. recent is the trailing
// window of history.
type Rule func(current Phase, recent, history []transcript.Turn) bool

// Rules maps a phase to the rule that moves it to the next phase.
type Rules map[Phase]Rule

// DefaultRules returns the heuristic transition rules. allPointsDiscussed gates
// the count-based move into the summary phase; nil means no gating.
func DefaultRules(allPointsDiscussed func() bool) Rules {
	return Rules{
		Opening:        OpensDeepening,
		Deepening:      invitesSummary(allPointsDiscussed),
		GuidingSummary: SummaryDelivered,
	}
}

// OpensDeepening fires once three turns exist and a recent turn is substantive.
func OpensDeepening(_ Phase, recent, history []transcript.Turn) bool {
	if len(history) < 3 {
		return false
	}
	for _, t := range recent {
		if cues.Substantive(t.Text) {
			return true
		}
	}
	return false
}

func invitesSummary(allPointsDiscussed func() bool) Rule {
	return func(_ Phase, _ []transcript.Turn, history []transcript.Turn) bool {
		for _, t := range history {
			if cues.SolicitsSummary(t.Text) || cues.Volunteers(t.Text) {
				return true
			}
		}
		if allPointsDiscussed != nil && !allPointsDiscussed() {
			return false
		}
		return len(history) >= 10 && distinctSpeakers(history) >= 3
	}
}

// SummaryDelivered fires once any turn looks like a structured summary.
func SummaryDelivered(_ Phase, _ []transcript.Turn, history []transcript.Turn) bool {
	for _, t := range history {
		if cues.StructuredSummary(t.Text) {
			return true
		}
	}
	return false
}

func distinctSpeakers(turns []transcript.Turn) int {
	seen := make(map[string]struct{})
	for _, t := range turns {
		seen[t.SpeakerID] = struct{}{}
	}
	return len(seen)
}

// Tracker holds the current phase. It only ever moves forward.
type Tracker struct {
	mu      sync.Mutex
	current Phase
	rules   Rules
}

func NewTracker(rules Rules) *Tracker {
	return &Tracker{current: Opening, rules: rules}
}

func (t *Tracker) Current() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Update re-evaluates the rules against history and returns the previous and
// new phase. Several transitions may fire in one update.
func (t *Tracker) Update(history []transcript.Turn) (from, to Phase) {
	spoken := transcript.Spoken(history)
	recent := transcript.Tail(spoken, RecentWindow)

	t.mu.Lock()
	defer t.mu.Unlock()
	from = t.current
	if len(spoken) == 0 {
		return from, from
	}
	next := t.current
	for next < FinalWrapUp {
		rule := t.rules[next]
		if rule == nil || !rule(next, recent, spoken) {
			break
		}
		next++
	}
	if next > t.current {
		t.current = next
	}
	return from, t.current
}
