package orchestrator

import (
	"strings"
	"time"

	"yuzu/discussion/internal/cues"
	"yuzu/discussion/internal/floor"
	"yuzu/discussion/internal/persona"
	"yuzu/discussion/internal/scheduler"
)

// SubmitHumanTurn appends the human's text and schedules the personas'
// reply. Blank text, a frozen session and a closed session are ignored and
// reported as false.
func (s *Session) SubmitHumanTurn(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	var ok bool
	if err := s.call(func() { ok = s.submitHuman(text) }); err != nil {
		return false
	}
	return ok
}

func (s *Session) submitHuman(text string) bool {
	if s.frozen {
		return false
	}
	s.markHumanActed()
	s.detectInterruption(floor.SourceTyped)

	turn, err := s.transcript.Append(persona.HumanID, persona.HumanName, text)
	if err != nil {
		s.log.Warn().Err(err).Msg("human turn dropped")
		return false
	}
	metricTurnsCommitted.WithLabelValues("human").Inc()
	s.updateSummaryFlow("", true, text)

	// The newest human turn owns the next reply chain. Replies to older
	// human turns stop at their stale marker, so their counts can go.
	s.tasks.cancel(taskChain, taskHumanReply)
	s.replies = map[string]int{turn.ID: 0}

	delay := scheduler.SpeakingDuration(text, s.summary.Volunteered)
	if cues.Volunteers(text) {
		delay += scheduler.Between(s.rnd, volunteerPause[0], volunteerPause[1])
	}
	replies := 1
	if s.rnd.Float64() >= singleReplyProbability {
		replies = 2
	}
	s.schedule(task{kind: taskHumanReply, marker: turn.ID, cap: replies}, delay)
	s.log.Debug().Str("turn_id", turn.ID).Int("replies", replies).Dur("delay", s.opts.scale(delay)).Msg("human turn recorded")
	return true
}

// ActivateMicrophone records that the human started speaking.
func (s *Session) ActivateMicrophone() error {
	return s.call(func() {
		if s.frozen {
			return
		}
		s.markHumanActed()
		s.detectInterruption(floor.SourceVoice)
		s.publish(EventMicrophone, nil)
	})
}

func (s *Session) markHumanActed() {
	if s.humanActed {
		return
	}
	s.humanActed = true
	s.tasks.cancel(taskIdleStart)
}

// humanReply issues the next reply spawned by a human turn.
func (s *Session) humanReply(t task) {
	if last, ok := s.transcript.LastHuman(); !ok || last.ID != t.marker {
		return
	}
	if s.replies[t.marker] >= t.cap {
		return
	}
	if s.floor.Busy() {
		s.schedule(t, busyRetry)
		return
	}
	last, _ := s.transcript.Last()
	s.triggerTurn(s.pool.Next(last.SpeakerID), t.cap, t.marker)
}

// detectInterruption raises a display-only flag when the human acts while a
// persona holds the floor.
func (s *Session) detectInterruption(src floor.Source) {
	d := s.floor.OnHumanInput(src)
	if !d.Interrupted {
		return
	}
	metricInterruptions.WithLabelValues(string(src)).Inc()
	s.interruption = &Interruption{PersonaID: d.PersonaID, Source: string(src), At: time.Now().UTC()}
	s.tasks.cancel(taskClearInterruption)
	s.schedule(task{kind: taskClearInterruption}, s.opts.InterruptDisplay)
	s.log.Info().Str("persona_id", d.PersonaID).Str("source", string(src)).Str("stage", d.Stage.String()).Msg("interruption")
	s.publish(EventInterruption, map[string]any{"persona_id": d.PersonaID, "source": string(src), "stage": d.Stage.String()})
}

func (s *Session) clearInterruption() {
	if s.interruption == nil {
		return
	}
	s.interruption = nil
	s.publish(EventInterruptionCleared, nil)
}
