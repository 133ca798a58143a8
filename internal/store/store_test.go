package store

import (
	"testing"
	"time"

	"yuzu/discussion/internal/types"
)

func TestCreateAndGetSession(t *testing.T) {
	st := New()
	s := &types.Session{ID: "abc123", Topic: "题目", CreatedAt: time.Now()}
	if err := st.CreateSession(s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	got := st.GetSession("abc123")
	if got == nil || got.ID != s.ID || got.Status != types.StatusActive {
		t.Fatalf("expected active session %q, got %#v", s.ID, got)
	}
	if err := st.CreateSession(s); err != ErrSessionExists {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	st := New()
	_ = st.CreateSession(&types.Session{ID: "s1"})
	if err := st.SetStatus("s1", types.StatusEnded); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got := st.GetSession("s1")
	if got.Status != types.StatusEnded || got.EndedAt == nil {
		t.Fatalf("expected ended session, got %#v", got)
	}
	if err := st.SetStatus("missing", types.StatusEnded); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEventLogIsCapped(t *testing.T) {
	st := New()
	for i := 0; i < maxEvents+50; i++ {
		st.AppendEvent("s1", "turn_committed", map[string]any{"i": i})
	}
	evts := st.ListEvents("s1")
	if len(evts) != maxEvents {
		t.Fatalf("expected %d events, got %d", maxEvents, len(evts))
	}
	last := evts[len(evts)-1]
	if last.Type != "events_truncated" {
		t.Fatalf("expected truncation marker at tail, got %q", last.Type)
	}
	for i := 1; i < len(evts); i++ {
		if evts[i].Seq <= evts[i-1].Seq {
			t.Fatalf("sequence not increasing at %d", i)
		}
	}
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	st := New()
	ch, cancel := st.Subscribe("s1")
	st.Publish("s1", "interruption", map[string]any{"persona_id": "char1"})
	st.Publish("other", "interruption", nil)

	select {
	case evt := <-ch:
		if evt.Type != "interruption" || evt.Payload["persona_id"] != "char1" {
			t.Fatalf("unexpected event %#v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	st.Publish("s1", "after_cancel", nil)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	st := New()
	_, cancel := st.Subscribe("s1")
	defer cancel()
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			st.Publish("s1", "x", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}
