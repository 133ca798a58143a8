package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yuzu/discussion/internal/feedback"
	"yuzu/discussion/internal/persona"
	"yuzu/discussion/internal/phase"
	"yuzu/discussion/internal/scheduler"
	"yuzu/discussion/internal/transcript"
)

const (
	plainTopic = "【背景】某咖啡品牌计划进入三线城市市场。请小组讨论进入策略。"
	keyTopic   = `【背景】某电商平台新用户次日留存下降了15%。
【核心问题】
1. 分析留存下降的主要原因；
2. 提出三项可落地的改进措施；
【时间分配】讨论25分钟。`

	substantiveLine = "我认为我们的方案应该先确定目标用户，再根据预算和时间安排推进执行，同时评估主要风险。"
	summaryLine     = "我来总结一下：第一，我们确定了目标用户是年轻白领；第二，预算控制在五十万以内；第三，执行分三个阶段推进，首先做调研，其次做试点，最后全面推广。另外，我们也讨论了潜在的风险和应对措施。综上，这是我们小组的共识方案，请大家补充。"
	replyLine       = "我同意这个方向，补充一点执行上的顾虑。"
)

// fixedRand returns the same float every time and never shuffles.
type fixedRand struct{ f float64 }

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) Perm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return p
}

type genFunc func(ctx context.Context, req Request) (string, error)

func (f genFunc) Generate(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

type recorder struct {
	mu   sync.Mutex
	text string
	reqs []Request
}

func (r *recorder) Generate(_ context.Context, req Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return r.text, nil
}

func (r *recorder) requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.reqs...)
}

type published struct {
	typ     string
	payload map[string]any
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []published
}

func (s *sinkRecorder) Publish(_ string, typ string, payload map[string]any) {
	s.mu.Lock()
	s.events = append(s.events, published{typ, payload})
	s.mu.Unlock()
}

func (s *sinkRecorder) all(typ string) []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []published
	for _, e := range s.events {
		if e.typ == typ {
			out = append(out, e)
		}
	}
	return out
}

func (s *sinkRecorder) has(typ string) bool { return len(s.all(typ)) > 0 }

func (s *sinkRecorder) decisions() []string {
	var out []string
	for _, e := range s.all(EventChainDecision) {
		out = append(out, e.payload["decision"].(string))
	}
	return out
}

func testOptions(rnd scheduler.Rand) Options {
	return Options{
		MaxRounds:        DefaultMaxRounds,
		IdleGrace:        time.Hour,
		InterruptDisplay: DefaultInterruptDisplay,
		TimeScale:        0.001,
		Roster:           persona.Default,
		Rand:             rnd,
	}
}

func startSession(t *testing.T, gen Generator, sink EventSink, opts Options) *Session {
	t.Helper()
	m := NewManager(gen, nil, sink, opts)
	s, err := m.StartSession(Config{Topic: plainTopic, JobTitle: "市场经理"})
	require.NoError(t, err)
	t.Cleanup(s.End)
	return s
}

func snapshot(s *Session) Snapshot {
	snap, _ := s.Snapshot()
	return snap
}

func spoken(s *Session) []transcript.Turn {
	return transcript.Spoken(snapshot(s).Turns)
}

func TestIdleStartTriggersExactlyOneTurn(t *testing.T) {
	opts := testOptions(fixedRand{0.5})
	opts.IdleGrace = 2 * time.Second
	s := startSession(t, &recorder{text: replyLine}, nil, opts)

	require.Eventually(t, func() bool { return len(spoken(s)) == 1 }, time.Second, 2*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	snap := snapshot(s)
	assert.Len(t, transcript.Spoken(snap.Turns), 1)
	assert.Equal(t, 1, snap.Round)
	assert.Nil(t, snap.ActiveSpeaker)
	assert.Equal(t, "char1", snap.Turns[0].SpeakerID)
}

func TestHumanActionCancelsIdleStart(t *testing.T) {
	sink := &sinkRecorder{}
	opts := testOptions(fixedRand{0.5})
	opts.IdleGrace = 20 * time.Second
	s := startSession(t, &recorder{text: replyLine}, sink, opts)

	require.NoError(t, s.ActivateMicrophone())
	time.Sleep(60 * time.Millisecond)

	snap := snapshot(s)
	assert.Empty(t, snap.Turns)
	assert.Equal(t, 0, snap.Round)
	assert.True(t, sink.has(EventMicrophone))
	assert.False(t, sink.has(EventInterruption))
}

func TestInterruptionRaisedAndCleared(t *testing.T) {
	sink := &sinkRecorder{}
	release := make(chan struct{})
	defer close(release)
	gen := genFunc(func(ctx context.Context, _ Request) (string, error) {
		select {
		case <-release:
			return replyLine, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	opts := testOptions(fixedRand{0.5})
	opts.IdleGrace = time.Millisecond
	opts.InterruptDisplay = 20 * time.Second
	s := startSession(t, gen, sink, opts)

	require.Eventually(t, func() bool { return snapshot(s).ActiveSpeaker != nil }, time.Second, time.Millisecond)
	require.True(t, s.SubmitHumanTurn("等一下，我有不同的看法。"))

	raised := sink.all(EventInterruption)
	require.Len(t, raised, 1)
	assert.Equal(t, "char1", raised[0].payload["persona_id"])
	assert.Equal(t, "typed", raised[0].payload["source"])

	require.Eventually(t, func() bool { return sink.has(EventInterruptionCleared) }, time.Second, time.Millisecond)
	snap := snapshot(s)
	assert.Nil(t, snap.Interruption)
	assert.Equal(t, 1, snap.Round)
	require.NotNil(t, snap.ActiveSpeaker)
	assert.Equal(t, "char1", snap.ActiveSpeaker.PersonaID)
	assert.Equal(t, phase.Opening.String(), snap.Phase)
}

func TestMicrophoneDuringTurnInterrupts(t *testing.T) {
	sink := &sinkRecorder{}
	gen := genFunc(func(ctx context.Context, _ Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	s := startSession(t, gen, sink, testOptions(fixedRand{0.5}))

	started, err := s.TriggerTurn("char3", 0, "")
	require.NoError(t, err)
	require.True(t, started)
	require.NoError(t, s.ActivateMicrophone())

	raised := sink.all(EventInterruption)
	require.Len(t, raised, 1)
	assert.Equal(t, "voice", raised[0].payload["source"])
	assert.Equal(t, "char3", raised[0].payload["persona_id"])
}

func TestVolunteeringIsRecordedAndNotReinvited(t *testing.T) {
	sink := &sinkRecorder{}
	rec := &recorder{text: replyLine}
	s := startSession(t, rec, sink, testOptions(fixedRand{0.9}))

	require.True(t, s.SubmitHumanTurn(summaryLine))
	assert.True(t, snapshot(s).Summary.Volunteered)

	require.Eventually(t, func() bool { return len(spoken(s)) == 3 }, 2*time.Second, 2*time.Millisecond)
	for _, req := range rec.requests() {
		assert.True(t, req.Summary.Volunteered)
	}
	assert.NotContains(t, sink.decisions(), "invite_volunteer")
	assert.False(t, snapshot(s).Summary.Guided)
}

func TestHumanTurnGetsBoundedReplies(t *testing.T) {
	cases := []struct {
		name    string
		f       float64
		replies int
	}{
		{"one reply", 0.1, 1},
		{"two replies", 0.9, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &sinkRecorder{}
			s := startSession(t, &recorder{text: replyLine}, sink, testOptions(fixedRand{tc.f}))
			require.True(t, s.SubmitHumanTurn("大家好，我先抛个观点。"))

			require.Eventually(t, func() bool { return len(spoken(s)) == 1+tc.replies }, 2*time.Second, 2*time.Millisecond)
			time.Sleep(50 * time.Millisecond)

			turns := spoken(s)
			require.Len(t, turns, 1+tc.replies)
			assert.True(t, turns[0].IsHuman())
			for i := 2; i < len(turns); i++ {
				assert.NotEqual(t, turns[i-1].SpeakerID, turns[i].SpeakerID)
			}
			assert.Contains(t, sink.decisions(), "reply_cap")
		})
	}
}

func TestRoundLimitMakesTriggerNoop(t *testing.T) {
	sink := &sinkRecorder{}
	opts := testOptions(fixedRand{0.5})
	opts.MaxRounds = 1
	opts.IdleGrace = time.Millisecond
	s := startSession(t, &recorder{text: replyLine}, sink, opts)

	require.Eventually(t, func() bool {
		snap := snapshot(s)
		return len(transcript.Spoken(snap.Turns)) == 1 && snap.ActiveSpeaker == nil
	}, time.Second, time.Millisecond)

	started, err := s.TriggerTurn("char2", 0, "")
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, 1, snapshot(s).Round)
	assert.True(t, sink.has(EventRoundLimit))
	assert.Len(t, snapshot(s).Turns, 1)

	// the human can still speak, nobody answers
	require.True(t, s.SubmitHumanTurn("我补充一个想法。"))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, spoken(s), 2)
	assert.Equal(t, 1, snapshot(s).Round)
}

func TestRoundLimitNoticeIsOptIn(t *testing.T) {
	opts := testOptions(fixedRand{0.5})
	opts.MaxRounds = 1
	opts.IdleGrace = time.Millisecond
	opts.RoundLimitNotice = "轮次已用尽"
	s := startSession(t, &recorder{text: replyLine}, &sinkRecorder{}, opts)

	require.Eventually(t, func() bool { return len(spoken(s)) == 1 && snapshot(s).ActiveSpeaker == nil }, time.Second, time.Millisecond)
	for i := 0; i < 2; i++ {
		started, err := s.TriggerTurn("", 0, "")
		require.NoError(t, err)
		assert.False(t, started)
	}
	turns := snapshot(s).Turns
	require.Len(t, turns, 2)
	assert.Equal(t, transcript.KindSystem, turns[1].Kind)
	assert.Equal(t, "轮次已用尽", turns[1].Text)
	assert.Equal(t, 1, snapshot(s).Round)
}

func TestHumanTurnOverInFlightReplyStillGetsAnswered(t *testing.T) {
	sink := &sinkRecorder{}
	release := make(chan struct{})
	var mu sync.Mutex
	var sawHuman []bool
	gen := genFunc(func(ctx context.Context, req Request) (string, error) {
		seen := false
		for _, turn := range req.Transcript {
			if turn.IsHuman() {
				seen = true
			}
		}
		mu.Lock()
		sawHuman = append(sawHuman, seen)
		first := len(sawHuman) == 1
		mu.Unlock()
		if first {
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return replyLine, nil
	})
	calls := func() []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), sawHuman...)
	}

	opts := testOptions(fixedRand{0.1}) // one reply per human turn
	opts.IdleGrace = time.Millisecond
	s := startSession(t, gen, sink, opts)

	require.Eventually(t, func() bool { return snapshot(s).ActiveSpeaker != nil }, time.Second, time.Millisecond)
	require.True(t, s.SubmitHumanTurn("等一下，我觉得应该先看数据。"))
	close(release)

	require.Eventually(t, func() bool { return len(spoken(s)) == 3 }, 2*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	turns := spoken(s)
	require.Len(t, turns, 3)
	assert.True(t, turns[0].IsHuman())
	assert.False(t, turns[1].IsHuman())
	assert.False(t, turns[2].IsHuman())
	assert.Equal(t, []bool{false, true}, calls())
	assert.Contains(t, sink.decisions(), "after_human")
	assert.Contains(t, sink.decisions(), "reply_cap")
}

func TestGenerationFailureAbandonsTurn(t *testing.T) {
	sink := &sinkRecorder{}
	gen := genFunc(func(context.Context, Request) (string, error) { return "", errors.New("upstream 502") })
	opts := testOptions(fixedRand{0.1})
	opts.ChainProbability = 1
	opts.IdleGrace = time.Millisecond
	s := startSession(t, gen, sink, opts)

	require.Eventually(t, func() bool { return sink.has(EventGenerationFailed) }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	snap := snapshot(s)
	assert.Empty(t, snap.Turns)
	assert.Equal(t, 0, snap.Round)
	assert.Nil(t, snap.ActiveSpeaker)
	assert.Len(t, sink.all(EventGenerationFailed), 1)
	assert.Empty(t, sink.decisions())

	started, err := s.TriggerTurn("char3", 0, "")
	require.NoError(t, err)
	assert.True(t, started)
}

func TestFallbackUtteranceReplacesFailedReply(t *testing.T) {
	gen := genFunc(func(context.Context, Request) (string, error) { return "", errors.New("timeout") })
	opts := testOptions(fixedRand{0.5})
	opts.IdleGrace = time.Millisecond
	opts.FallbackUtterance = "时间紧迫，我们必须尽快达成共识。"
	s := startSession(t, gen, nil, opts)

	require.Eventually(t, func() bool { return len(spoken(s)) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, opts.FallbackUtterance, spoken(s)[0].Text)
	assert.Equal(t, 1, snapshot(s).Round)
}

func TestAtMostOneActiveSpeaker(t *testing.T) {
	gen := genFunc(func(ctx context.Context, _ Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	s := startSession(t, gen, nil, testOptions(fixedRand{0.5}))

	started, err := s.TriggerTurn("char1", 0, "")
	require.NoError(t, err)
	require.True(t, started)

	started, err = s.TriggerTurn("char2", 0, "")
	require.NoError(t, err)
	assert.False(t, started)

	snap := snapshot(s)
	require.NotNil(t, snap.ActiveSpeaker)
	assert.Equal(t, "char1", snap.ActiveSpeaker.PersonaID)
	assert.Equal(t, 1, snap.Round)

	_, err = s.TriggerTurn("nobody", 0, "")
	assert.ErrorIs(t, err, ErrUnknownPersona)
}

func TestPhaseNeverRegresses(t *testing.T) {
	sink := &sinkRecorder{}
	s := startSession(t, &recorder{text: replyLine}, sink, testOptions(fixedRand{0.1}))

	order := map[string]int{}
	for p := phase.Opening; p <= phase.FinalWrapUp; p++ {
		order[p.String()] = int(p)
	}
	lines := []string{
		substantiveLine, substantiveLine, substantiveLine,
		"谁来总结一下我们的讨论并汇报？",
		summaryLine,
	}
	last := 0
	for _, line := range lines {
		require.True(t, s.SubmitHumanTurn(line))
		cur := order[snapshot(s).Phase]
		assert.GreaterOrEqual(t, cur, last)
		last = cur
	}
	assert.Equal(t, phase.FinalWrapUp.String(), snapshot(s).Phase)
	for _, e := range sink.all(EventPhaseChanged) {
		assert.Less(t, order[e.payload["from"].(string)], order[e.payload["to"].(string)])
	}
}

func TestKeyPointContextReachesGenerator(t *testing.T) {
	rec := &recorder{text: replyLine}
	m := NewManager(rec, nil, nil, testOptions(fixedRand{0.5}))
	s, err := m.StartSession(Config{Topic: keyTopic, JobTitle: "运营"})
	require.NoError(t, err)
	t.Cleanup(s.End)
	assert.Len(t, s.KeyPoints(), 2)

	started, err := s.TriggerTurn("char2", 0, "")
	require.NoError(t, err)
	require.True(t, started)
	require.Eventually(t, func() bool { return len(rec.requests()) == 1 }, time.Second, time.Millisecond)

	req := rec.requests()[0]
	assert.Equal(t, "char2", req.Persona.ID)
	assert.Contains(t, req.KeyPoints, "分析留存下降的主要原因")
	assert.Equal(t, "运营", req.JobTitle)
	assert.Equal(t, 1, req.Round)
	assert.Equal(t, phase.Opening, req.Phase)
}

type fakeEvaluator struct {
	report feedback.Report
	err    error
}

func (f fakeEvaluator) Evaluate(context.Context, feedback.Request) (feedback.Report, error) {
	return f.report, f.err
}

func TestRequestFinalEvaluationFreezes(t *testing.T) {
	cases := []struct {
		name     string
		eval     fakeEvaluator
		score    int
		fallback bool
	}{
		{"report", fakeEvaluator{report: feedback.Report{OverallScore: 88, VoiceShare: 3}}, 88, false},
		{"fallback", fakeEvaluator{err: errors.New("bad json")}, 60, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &sinkRecorder{}
			m := NewManager(&recorder{text: replyLine}, tc.eval, sink, testOptions(fixedRand{0.1}))
			s, err := m.StartSession(Config{Topic: plainTopic, JobTitle: "市场经理"})
			require.NoError(t, err)
			t.Cleanup(s.End)

			require.True(t, s.SubmitHumanTurn("我先说说我的看法。"))
			require.Eventually(t, func() bool { return len(spoken(s)) == 2 }, 2*time.Second, 2*time.Millisecond)

			ev, err := s.RequestFinalEvaluation(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 50, ev.VoiceShare)
			assert.Equal(t, 50, ev.Report.VoiceShare)
			assert.Equal(t, tc.score, ev.Report.OverallScore)
			assert.Equal(t, tc.fallback, ev.Report.Fallback)
			assert.Len(t, ev.Turns, 2)

			assert.False(t, s.SubmitHumanTurn("还能说吗？"))
			assert.True(t, snapshot(s).Frozen)
			assert.True(t, sink.has(EventFrozen))
		})
	}
}

func TestEndDiscardsInFlightReply(t *testing.T) {
	release := make(chan struct{})
	gen := genFunc(func(context.Context, Request) (string, error) {
		<-release
		return replyLine, nil
	})
	m := NewManager(gen, nil, nil, testOptions(fixedRand{0.5}))
	s, err := m.StartSession(Config{Topic: plainTopic})
	require.NoError(t, err)

	started, err := s.TriggerTurn("", 0, "")
	require.NoError(t, err)
	require.True(t, started)

	require.NoError(t, m.End(s.ID()))
	close(release)

	_, err = s.Snapshot()
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, s.SubmitHumanTurn("有人吗？"))
	assert.ErrorIs(t, s.ActivateMicrophone(), ErrSessionClosed)
	assert.ErrorIs(t, m.End(s.ID()), ErrSessionNotFound)
}

func TestBlankHumanTurnIgnored(t *testing.T) {
	sink := &sinkRecorder{}
	s := startSession(t, &recorder{text: replyLine}, sink, testOptions(fixedRand{0.5}))
	assert.False(t, s.SubmitHumanTurn("   \n"))
	assert.Empty(t, snapshot(s).Turns)
	assert.False(t, sink.has(EventTurnCommitted))
}

func TestManagerStartErrors(t *testing.T) {
	_, err := NewManager(nil, nil, nil, Options{}).StartSession(Config{Topic: plainTopic})
	assert.ErrorIs(t, err, ErrNoGenerator)

	m := NewManager(&recorder{}, nil, nil, testOptions(fixedRand{0.5}))
	_, err = m.StartSession(Config{Topic: "  "})
	assert.ErrorIs(t, err, ErrEmptyInput)

	s, err := m.StartSessionWithID("fixed", Config{Topic: plainTopic})
	require.NoError(t, err)
	_, err = m.StartSessionWithID("fixed", Config{Topic: plainTopic})
	assert.ErrorIs(t, err, ErrSessionExists)
	assert.Equal(t, []string{"fixed"}, m.IDs())

	m.Shutdown()
	<-s.Done()
	assert.Empty(t, m.IDs())
}

func TestStructuredGuidanceInvitesVolunteer(t *testing.T) {
	sink := &sinkRecorder{}
	opts := testOptions(fixedRand{0.9}).withDefaults()
	s := newSession("guided", Config{Topic: plainTopic}, opts, &recorder{}, nil, sink)
	solicit := "谁来总结一下我们的讨论并汇报？"

	_, err := s.transcript.Append("char2", "李雅", solicit)
	require.NoError(t, err)
	s.updateSummaryFlow(persona.RoleStructured, false, solicit)
	assert.False(t, s.summary.Guided, "not eligible during the opening")

	for _, id := range []string{"char1", "char3", persona.HumanID} {
		_, err := s.transcript.Append(id, id, substantiveLine)
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, s.phases.Current(), phase.GuidingSummary)

	s.updateSummaryFlow(persona.RoleAggressive, false, solicit)
	assert.False(t, s.summary.Guided, "only the structured persona guides")

	s.updateSummaryFlow(persona.RoleStructured, false, solicit)
	assert.True(t, s.summary.Guided)

	prev := transcript.Turn{SpeakerID: "char3"}
	char2, _ := persona.Default.Get("char2")
	s.chainAfter(&attempt{persona: char2}, prev)
	assert.True(t, s.tasks.has(taskChain))
	assert.Equal(t, []string{"invite_volunteer"}, sink.decisions())

	s.tasks.clear()
	s.updateSummaryFlow(persona.RoleDetail, false, "好，我来总结。")
	assert.True(t, s.summary.Volunteered)
	s.chainAfter(&attempt{persona: char2}, prev)
	assert.False(t, s.tasks.has(taskChain))
	assert.Equal(t, "await_human", sink.decisions()[1])

	s.updateSummaryFlow(persona.RoleDetail, false, summaryLine)
	assert.True(t, s.summary.Completed)
}
