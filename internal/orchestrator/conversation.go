package orchestrator

import (
	"errors"
	"strings"
	"time"

	"yuzu/discussion/internal/cues"
	"yuzu/discussion/internal/floor"
	"yuzu/discussion/internal/persona"
	"yuzu/discussion/internal/phase"
	"yuzu/discussion/internal/scheduler"
	"yuzu/discussion/internal/transcript"
)

var errEmptyReply = errors.New("generator returned an empty reply")

// triggerTurn starts a persona turn. It is a no-op once the round cap is hit
// or while another persona holds the floor.
func (s *Session) triggerTurn(p persona.Persona, cap int, marker string) bool {
	if s.frozen {
		return false
	}
	if s.round >= s.opts.MaxRounds {
		if !s.roundCapped {
			s.roundCapped = true
			metricRoundLimit.Inc()
			s.log.Info().Int("round", s.round).Msg("round limit reached")
			if s.opts.RoundLimitNotice != "" {
				if _, err := s.transcript.AppendSystem(s.opts.RoundLimitNotice); err != nil {
					s.log.Warn().Err(err).Msg("round limit notice dropped")
				}
			}
			s.publish(EventRoundLimit, map[string]any{"round": s.round})
		}
		return false
	}
	if !s.floor.OnSelected(p.ID) {
		s.log.Debug().Str("persona_id", p.ID).Msg("floor busy, turn not started")
		return false
	}
	s.round++
	s.attempts++
	att := &attempt{seq: s.attempts, persona: p, marker: marker, cap: cap, round: s.round}
	s.inflight = att
	s.floor.OnGenerating(p.ID)
	s.log.Debug().Str("persona_id", p.ID).Int("round", s.round).Str("marker", marker).Msg("turn selected")
	s.publish(EventSpeakerActive, map[string]any{
		"persona_id": p.ID,
		"name":       p.Name,
		"stage":      floor.AwaitingGeneration.String(),
		"round":      s.round,
	})

	req := s.request(p)
	ctx := s.ctx
	go func() {
		start := time.Now()
		text, err := s.gen.Generate(ctx, req)
		metricGenerationLatency.Observe(float64(time.Since(start).Milliseconds()))
		s.post(func() { s.onGenerated(att, text, err) })
	}()
	return true
}

func (s *Session) request(p persona.Persona) Request {
	return Request{
		Persona:    p,
		Topic:      s.cfg.Topic,
		JobTitle:   s.cfg.JobTitle,
		Transcript: transcript.Tail(s.transcript.Spoken(), transcriptTail),
		Phase:      s.phases.Current(),
		Summary:    s.summary,
		KeyPoints:  s.points.Context(),
		Round:      s.round,
		MaxRounds:  s.opts.MaxRounds,
	}
}

func (s *Session) onGenerated(att *attempt, text string, err error) {
	if s.inflight != att {
		return
	}
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = errEmptyReply
	}
	if err != nil {
		metricGenerationFailures.Inc()
		s.log.Error().Err(err).Str("persona_id", att.persona.ID).Int("round", att.round).Msg("reply generation failed")
		if s.opts.FallbackUtterance == "" {
			s.abandon(att, err)
			return
		}
		text = s.opts.FallbackUtterance
	}
	s.floor.OnSpeaking(att.persona.ID)
	d := scheduler.SpeakingDuration(text, s.summary.Volunteered)
	metricSpeakingSeconds.Observe(d.Seconds())
	s.publish(EventSpeakerActive, map[string]any{
		"persona_id":  att.persona.ID,
		"name":        att.persona.Name,
		"stage":       floor.Speaking.String(),
		"round":       att.round,
		"duration_ms": d.Milliseconds(),
	})
	s.schedule(task{kind: taskCommit, attempt: att.seq, text: text}, d)
}

// abandon drops a failed turn without touching the transcript. The round it
// consumed is given back.
func (s *Session) abandon(att *attempt, err error) {
	s.floor.OnReleased(att.persona.ID)
	s.inflight = nil
	s.round--
	s.publish(EventGenerationFailed, map[string]any{"persona_id": att.persona.ID, "error": err.Error()})
	s.publish(EventSpeakerCleared, map[string]any{"persona_id": att.persona.ID})
}

func (s *Session) commit(t task) {
	att := s.inflight
	if att == nil || att.seq != t.attempt {
		return
	}
	s.inflight = nil
	s.floor.OnReleased(att.persona.ID)
	s.publish(EventSpeakerCleared, map[string]any{"persona_id": att.persona.ID})

	prev, _ := s.transcript.Last()
	if _, err := s.transcript.Append(att.persona.ID, att.persona.Name, t.text); err != nil {
		s.log.Warn().Err(err).Str("persona_id", att.persona.ID).Msg("commit dropped")
		return
	}
	metricTurnsCommitted.WithLabelValues("persona").Inc()
	if att.marker != "" {
		s.replies[att.marker]++
	}
	s.updateSummaryFlow(att.persona.Role, false, t.text)
	s.chainAfter(att, prev)
}

// onAppend keeps the trackers in step with the transcript.
func (s *Session) onAppend(turn transcript.Turn, history []transcript.Turn) {
	if turn.Kind != transcript.KindSpoken {
		return
	}
	s.publish(EventTurnCommitted, map[string]any{"turn": turn})
	if s.points.Advance(turn.Text) {
		c := s.points.Cursor()
		s.log.Debug().Int("index", c.Index).Bool("done", c.Done).Msg("key point advanced")
		s.publish(EventKeyPointAdvanced, map[string]any{"cursor": c})
	}
	if from, to := s.phases.Update(history); to != from {
		metricPhaseTransitions.WithLabelValues(from.String(), to.String()).Inc()
		s.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("phase changed")
		s.publish(EventPhaseChanged, map[string]any{"from": from.String(), "to": to.String(), "label": to.Label()})
	}
}

func (s *Session) summaryEligible() bool {
	ph := s.phases.Current()
	return ph >= phase.GuidingSummary || (ph == phase.Deepening && s.points.AllDiscussed())
}

func (s *Session) updateSummaryFlow(role persona.Role, human bool, text string) {
	before := s.summary
	if !human && role == persona.RoleStructured && s.summaryEligible() && cues.Guides(text) {
		s.summary.Guided = true
	}
	if before.Volunteered && cues.Len(text) > cues.LongFormLen {
		s.summary.Completed = true
	}
	if cues.Volunteers(text) {
		s.summary.Volunteered = true
	}
	if s.summary != before {
		s.log.Debug().Bool("guided", s.summary.Guided).Bool("volunteered", s.summary.Volunteered).
			Bool("completed", s.summary.Completed).Msg("summary flow updated")
		s.publish(EventSummaryFlow, map[string]any{"summary": s.summary})
	}
}

// chainAfter decides whether another persona speaks without waiting for the
// human. Replies spawned by a human turn are paced by that turn's cap.
func (s *Session) chainAfter(att *attempt, prev transcript.Turn) {
	if att.marker != "" {
		if last, ok := s.transcript.LastHuman(); !ok || last.ID != att.marker {
			s.decide("stale_marker")
			return
		}
		if s.replies[att.marker] >= att.cap {
			s.decide("reply_cap")
			return
		}
		s.schedule(task{kind: taskHumanReply, marker: att.marker, cap: att.cap},
			scheduler.Between(s.rnd, humanReplyDelay[0], humanReplyDelay[1]))
		s.decide("human_chain")
		return
	}
	if prev.IsHuman() {
		s.decide("after_human")
		return
	}
	if s.summary.Guided && !s.summary.Volunteered {
		s.schedule(task{kind: taskChain}, scheduler.Between(s.rnd, inviteDelay[0], inviteDelay[1]))
		s.decide("invite_volunteer")
		return
	}
	if s.rnd.Float64() < s.opts.ChainProbability {
		s.schedule(task{kind: taskChain}, scheduler.Between(s.rnd, chainDelay[0], chainDelay[1]))
		s.decide("chain")
		return
	}
	s.decide("await_human")
}

func (s *Session) decide(decision string) {
	metricChainDecisions.WithLabelValues(decision).Inc()
	s.log.Debug().Str("decision", decision).Msg("chain decision")
	s.publish(EventChainDecision, map[string]any{"decision": decision})
}

func (s *Session) chain() {
	if s.floor.Busy() {
		s.log.Debug().Msg("chain dropped, floor busy")
		return
	}
	last, _ := s.transcript.Last()
	s.triggerTurn(s.pool.Next(last.SpeakerID), 0, "")
}

func (s *Session) idleStart() {
	if s.humanActed || len(s.transcript.Spoken()) > 0 {
		return
	}
	s.log.Debug().Msg("idle grace elapsed, starting discussion")
	s.triggerTurn(s.pool.Next(""), 0, "")
}

// TriggerTurn starts a turn for personaID, or the next scheduled persona when
// personaID is empty. A positive cap with a human turn marker bounds how many
// replies that human turn may receive. It reports whether a turn started.
func (s *Session) TriggerTurn(personaID string, cap int, marker string) (bool, error) {
	var started bool
	var lookupErr error
	err := s.call(func() {
		var p persona.Persona
		if personaID == "" {
			last, _ := s.transcript.Last()
			p = s.pool.Next(last.SpeakerID)
		} else {
			var ok bool
			if p, ok = s.opts.Roster.Get(personaID); !ok {
				lookupErr = ErrUnknownPersona
				return
			}
		}
		if marker == "" {
			cap = 0
		}
		started = s.triggerTurn(p, cap, marker)
	})
	if err != nil {
		return false, err
	}
	return started, lookupErr
}
