package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yuzu/discussion/internal/persona"
)

func TestAppendAssignsOrderAndNotifies(t *testing.T) {
	s := New()
	var seen []int
	s.Observe(func(turn Turn, history []Turn) {
		seen = append(seen, len(history))
		assert.Equal(t, turn.ID, history[len(history)-1].ID)
	})

	a, err := s.Append("char1", "张强", "大家好")
	require.NoError(t, err)
	b, err := s.Append(persona.HumanID, persona.HumanName, "我先说两句")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Less(t, a.Seq, b.Seq)
	assert.Equal(t, []int{1, 2}, seen)
	assert.True(t, b.IsHuman())
	assert.Len(t, s.All(), 2)
}

func TestAllReturnsCopy(t *testing.T) {
	s := New()
	_, _ = s.Append("char1", "张强", "第一句")
	got := s.All()
	got[0].Text = "changed"
	assert.Equal(t, "第一句", s.All()[0].Text)
}

func TestFreezeRejectsAppends(t *testing.T) {
	s := New()
	s.Freeze()
	_, err := s.Append("char1", "张强", "too late")
	assert.ErrorIs(t, err, ErrFrozen)
	assert.Equal(t, 0, s.Len())
}

func TestSystemNoticesAreNotSpoken(t *testing.T) {
	s := New()
	_, _ = s.Append(persona.HumanID, persona.HumanName, "我的观点")
	_, _ = s.AppendSystem("notice")
	_, _ = s.Append("char2", "李雅", "补充")
	assert.Equal(t, 3, s.Len())
	spoken := s.Spoken()
	require.Len(t, spoken, 2)
	assert.Equal(t, "char2", spoken[1].SpeakerID)
	last, ok := s.LastHuman()
	require.True(t, ok)
	assert.Equal(t, "我的观点", last.Text)
}

func TestVoiceShare(t *testing.T) {
	assert.Equal(t, 0, VoiceShare(nil))

	turns := []Turn{
		{SpeakerID: "char1", Kind: KindSpoken},
		{SpeakerID: persona.HumanID, Kind: KindSpoken},
		{SpeakerID: "char2", Kind: KindSpoken},
		{SpeakerID: "char3", Kind: KindSpoken},
		{SpeakerID: "system", Kind: KindSystem},
	}
	assert.Equal(t, 25, VoiceShare(turns))

	turns = append(turns, Turn{SpeakerID: persona.HumanID, Kind: KindSpoken})
	assert.Equal(t, 40, VoiceShare(turns))
}

func TestLastHumanAndTail(t *testing.T) {
	s := New()
	_, ok := s.LastHuman()
	assert.False(t, ok)
	_, _ = s.Append(persona.HumanID, persona.HumanName, "one")
	_, _ = s.Append("char1", "张强", "two")
	h, ok := s.LastHuman()
	require.True(t, ok)
	assert.Equal(t, "one", h.Text)
	last, _ := s.Last()
	assert.Equal(t, "two", last.Text)
	assert.Len(t, Tail(s.All(), 1), 1)
	assert.Len(t, Tail(s.All(), 10), 2)
}
