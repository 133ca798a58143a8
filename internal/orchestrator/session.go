package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"yuzu/discussion/internal/feedback"
	"yuzu/discussion/internal/floor"
	"yuzu/discussion/internal/keypoints"
	"yuzu/discussion/internal/persona"
	"yuzu/discussion/internal/phase"
	"yuzu/discussion/internal/scheduler"
	"yuzu/discussion/internal/transcript"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrEmptyInput      = errors.New("empty input")
	ErrNoGenerator     = errors.New("no reply generator configured")
	ErrUnknownPersona  = errors.New("unknown persona")
)

// Generator produces a persona reply. Implementations may block on the
// network; the session never calls it on its own loop.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Evaluator scores a frozen session.
type Evaluator interface {
	Evaluate(ctx context.Context, req feedback.Request) (feedback.Report, error)
}

// EventSink receives live session events. Publish is called from the session
// loop and must not block.
type EventSink interface {
	Publish(sessionID, typ string, payload map[string]any)
}

type nopSink struct{}

func (nopSink) Publish(string, string, map[string]any) {}

// Request is everything a generator gets to write one persona reply.
type Request struct {
	Persona    persona.Persona
	Topic      string
	JobTitle   string
	Transcript []transcript.Turn
	Phase      phase.Phase
	Summary    SummaryFlow
	KeyPoints  string
	Round      int
	MaxRounds  int
}

// SummaryFlow flags only ever flip from false to true.
type SummaryFlow struct {
	Guided      bool `json:"guided"`
	Volunteered bool `json:"volunteered"`
	Completed   bool `json:"completed"`
}

// Config describes the discussion a session runs.
type Config struct {
	Topic    string `json:"topic"`
	JobTitle string `json:"job_title"`
	Company  string `json:"company,omitempty"`
}

type ActiveSpeaker struct {
	PersonaID string `json:"persona_id"`
	Name      string `json:"name"`
	Stage     string `json:"stage"`
}

type Interruption struct {
	PersonaID string    `json:"persona_id"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}

// Snapshot is a consistent read of session state.
type Snapshot struct {
	ID            string            `json:"session_id"`
	Config        Config            `json:"config"`
	Phase         string            `json:"phase"`
	PhaseLabel    string            `json:"phase_label"`
	Tip           string            `json:"tip"`
	Round         int               `json:"round"`
	MaxRounds     int               `json:"max_rounds"`
	ActiveSpeaker *ActiveSpeaker    `json:"active_speaker,omitempty"`
	Summary       SummaryFlow       `json:"summary"`
	KeyPoints     []string          `json:"key_points"`
	Cursor        keypoints.Cursor  `json:"key_point_cursor"`
	Interruption  *Interruption     `json:"interruption,omitempty"`
	Frozen        bool              `json:"frozen"`
	VoiceShare    int               `json:"voice_share"`
	Turns         []transcript.Turn `json:"turns"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Evaluation is the result of closing a session for review.
type Evaluation struct {
	Turns      []transcript.Turn `json:"turns"`
	VoiceShare int               `json:"voice_share"`
	Report     feedback.Report   `json:"report"`
}

// attempt is one in-flight persona turn.
type attempt struct {
	seq     uint64
	persona persona.Persona
	marker  string // human turn that spawned this reply, if any
	cap     int
	round   int
}

// Session owns all state of one discussion. Every mutation happens on the
// loop goroutine started by the Manager.
type Session struct {
	id        string
	cfg       Config
	opts      Options
	gen       Generator
	eval      Evaluator
	sink      EventSink
	log       zerolog.Logger
	createdAt time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	cmds    chan func()
	done    chan struct{}
	endOnce sync.Once

	// loop-owned
	transcript   *transcript.Store
	points       *keypoints.Tracker
	phases       *phase.Tracker
	pool         *scheduler.Pool
	floor        *floor.Manager
	rnd          scheduler.Rand
	round        int
	roundCapped  bool
	summary      SummaryFlow
	humanActed   bool
	interruption *Interruption
	inflight     *attempt
	replies      map[string]int // human turn id -> committed replies it spawned
	attempts     uint64
	tasks        taskQueue
	frozen       bool
}

func newSession(id string, cfg Config, opts Options, gen Generator, eval Evaluator, sink EventSink) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		cfg:        cfg,
		opts:       opts,
		gen:        gen,
		eval:       eval,
		sink:       sink,
		log:        log.With().Str("session_id", id).Logger(),
		createdAt:  time.Now().UTC(),
		ctx:        ctx,
		cancel:     cancel,
		cmds:       make(chan func()),
		done:       make(chan struct{}),
		transcript: transcript.New(),
		points:     keypoints.NewTracker(keypoints.Extract(cfg.Topic)),
		pool:       scheduler.NewPool(opts.Roster, opts.Rand),
		floor:      floor.New(),
		rnd:        opts.Rand,
		replies:    make(map[string]int),
	}
	s.phases = phase.NewTracker(phase.DefaultRules(s.points.AllDiscussed))
	s.transcript.Observe(s.onAppend)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Config() Config { return s.cfg }

// KeyPoints returns the points extracted from the topic at start.
func (s *Session) KeyPoints() []string { return s.points.Points() }

// Done is closed once the session loop has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) start() {
	s.schedule(task{kind: taskIdleStart}, s.opts.IdleGrace)
	s.publish(EventSessionStarted, map[string]any{
		"topic":      s.cfg.Topic,
		"job_title":  s.cfg.JobTitle,
		"key_points": s.points.Points(),
		"phase":      s.phases.Current().String(),
	})
	s.log.Info().Int("key_points", len(s.points.Points())).Msg("session started")
	go s.run()
}

func (s *Session) run() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		if at, ok := s.tasks.next(); ok {
			timer.Reset(time.Until(at))
		} else {
			timer.Stop()
		}
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.cmds:
			fn()
		case <-timer.C:
			s.runDue(time.Now())
		}
	}
}

// call runs fn on the loop and waits for it.
func (s *Session) call(fn func()) error {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { defer close(done); fn() }:
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
	<-done
	return nil
}

// post hands fn to the loop without waiting. It is dropped once the session
// is torn down.
func (s *Session) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.ctx.Done():
	}
}

func (s *Session) publish(typ string, payload map[string]any) {
	s.sink.Publish(s.id, typ, payload)
}

// Snapshot returns the current state.
func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.call(func() { snap = s.snapshot() })
	return snap, err
}

func (s *Session) snapshot() Snapshot {
	ph := s.phases.Current()
	turns := s.transcript.All()
	snap := Snapshot{
		ID:         s.id,
		Config:     s.cfg,
		Phase:      ph.String(),
		PhaseLabel: ph.Label(),
		Tip:        ph.Tip(),
		Round:      s.round,
		MaxRounds:  s.opts.MaxRounds,
		Summary:    s.summary,
		KeyPoints:  s.points.Points(),
		Cursor:     s.points.Cursor(),
		Frozen:     s.frozen,
		VoiceShare: transcript.VoiceShare(transcript.Spoken(turns)),
		Turns:      turns,
		CreatedAt:  s.createdAt,
	}
	if id, stage := s.floor.Active(); stage != floor.Idle {
		p, _ := s.opts.Roster.Get(id)
		snap.ActiveSpeaker = &ActiveSpeaker{PersonaID: id, Name: p.Name, Stage: stage.String()}
	}
	if s.interruption != nil {
		in := *s.interruption
		snap.Interruption = &in
	}
	return snap
}

// RequestFinalEvaluation freezes the session and scores the transcript. The
// report falls back to a fixed one when the evaluator fails.
func (s *Session) RequestFinalEvaluation(ctx context.Context) (Evaluation, error) {
	var turns []transcript.Turn
	if err := s.call(func() {
		s.freeze()
		turns = s.transcript.All()
	}); err != nil {
		return Evaluation{}, err
	}
	spoken := transcript.Spoken(turns)
	share := transcript.VoiceShare(spoken)
	ev := Evaluation{Turns: turns, VoiceShare: share, Report: feedback.Fallback(share)}
	if s.eval == nil {
		return ev, nil
	}
	report, err := s.eval.Evaluate(ctx, feedback.Request{
		Topic:      s.cfg.Topic,
		JobTitle:   s.cfg.JobTitle,
		Transcript: spoken,
		VoiceShare: share,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("evaluation failed, using fallback report")
		return ev, nil
	}
	report.VoiceShare = share
	ev.Report = report
	return ev, nil
}

func (s *Session) freeze() {
	if s.frozen {
		return
	}
	s.frozen = true
	s.transcript.Freeze()
	s.tasks.clear()
	if s.inflight != nil {
		s.floor.OnReleased(s.inflight.persona.ID)
		s.inflight = nil
	}
	s.interruption = nil
	s.log.Info().Int("turns", s.transcript.Len()).Int("round", s.round).Msg("session frozen")
	s.publish(EventFrozen, map[string]any{"turns": s.transcript.Len(), "round": s.round})
}

// End tears the session down. Pending timers die with the loop and in-flight
// generation results are discarded.
func (s *Session) End() {
	s.endOnce.Do(func() {
		s.cancel()
		<-s.done
		metricSessionsActive.Dec()
		s.log.Info().Msg("session ended")
		s.publish(EventEnded, nil)
	})
}
