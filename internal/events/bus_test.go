package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		defer cancel()

		b.Publish("recording_started", "sess-1", "q-1", map[string]string{"msg": "hello"})

		select {
		case evt := <-ch:
			if evt.Type != "recording_started" {
				t.Errorf("Type = %q, want recording_started", evt.Type)
			}
			if evt.SessionID != "sess-1" {
				t.Errorf("SessionID = %q, want sess-1", evt.SessionID)
			}
			if evt.QuestionID != "q-1" {
				t.Errorf("QuestionID = %q, want q-1", evt.QuestionID)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			var payload map[string]string
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["msg"] != "hello" {
				t.Errorf("payload msg = %q, want hello", payload["msg"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filtered_subscriber_misses_non_matching", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{Types: []string{"session_complete"}})
		defer cancel()

		b.Publish("recording_started", "sess-1", "", "x")

		select {
		case evt := <-ch:
			t.Fatalf("should not receive event, got %+v", evt)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("cancel_stops_delivery", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		cancel()

		b.Publish("recording_started", "sess-1", "", "x")

		select {
		case <-ch:
			t.Fatal("should not receive event after cancel")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("multiple_subscribers", func(t *testing.T) {
		b := NewBus(64)
		ch1, cancel1 := b.Subscribe(Filter{})
		defer cancel1()
		ch2, cancel2 := b.Subscribe(Filter{})
		defer cancel2()

		b.Publish("question_advanced", "sess-1", "q-2", "x")

		for i, ch := range []<-chan Event{ch1, ch2} {
			select {
			case evt := <-ch:
				if evt.Type != "question_advanced" {
					t.Errorf("subscriber %d: Type = %q, want question_advanced", i, evt.Type)
				}
			case <-time.After(time.Second):
				t.Fatalf("subscriber %d: timed out", i)
			}
		}
	})
}

func TestBusReplaySince(t *testing.T) {
	t.Run("replay_all_when_empty_lastID", func(t *testing.T) {
		b := NewBus(64)
		b.Publish("recording_started", "sess-1", "", "a")
		b.Publish("session_complete", "sess-1", "", "b")

		events := b.ReplaySince("", Filter{})
		if len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
	})

	t.Run("replay_after_specific_id", func(t *testing.T) {
		b := NewBus(64)
		b.Publish("recording_started", "sess-1", "", "a")

		all := b.ReplaySince("", Filter{})
		if len(all) != 1 {
			t.Fatalf("expected 1 event, got %d", len(all))
		}
		firstID := all[0].ID

		b.Publish("session_complete", "sess-1", "", "b")

		events := b.ReplaySince(firstID, Filter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (after first)", len(events))
		}
		if events[0].Type != "session_complete" {
			t.Errorf("Type = %q, want session_complete", events[0].Type)
		}
	})

	t.Run("replay_with_filter", func(t *testing.T) {
		b := NewBus(64)
		b.Publish("recording_started", "sess-1", "", "a")
		b.Publish("recording_started", "sess-2", "", "b")

		events := b.ReplaySince("", Filter{SessionIDs: []string{"sess-2"}})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (filtered)", len(events))
		}
		if events[0].SessionID != "sess-2" {
			t.Errorf("SessionID = %q, want sess-2", events[0].SessionID)
		}
	})

	t.Run("unknown_lastID_replays_all", func(t *testing.T) {
		b := NewBus(64)
		b.Publish("recording_started", "sess-1", "", "a")

		// A lastEventID lost to ring wrap falls back to replaying everything
		// still buffered, so the client misses as little as possible.
		events := b.ReplaySince("nonexistent-id", Filter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (fallback replay all)", len(events))
		}
	})
}

func TestMatchesFilter(t *testing.T) {
	tests := []struct {
		name   string
		event  Event
		filter Filter
		want   bool
	}{
		{
			name:   "empty_filter_matches_all",
			event:  Event{Type: "recording_started", SessionID: "s1"},
			filter: Filter{},
			want:   true,
		},
		{
			name:   "type_match",
			event:  Event{Type: "analysis_merged"},
			filter: Filter{Types: []string{"analysis_merged"}},
			want:   true,
		},
		{
			name:   "type_no_match",
			event:  Event{Type: "analysis_merged"},
			filter: Filter{Types: []string{"analysis_failed"}},
			want:   false,
		},
		{
			name:   "type_multiple_one_matches",
			event:  Event{Type: "session_complete"},
			filter: Filter{Types: []string{"recording_started", "session_complete"}},
			want:   true,
		},
		{
			name:   "session_match",
			event:  Event{Type: "recording_started", SessionID: "s1"},
			filter: Filter{SessionIDs: []string{"s1", "s2"}},
			want:   true,
		},
		{
			name:   "session_no_match",
			event:  Event{Type: "recording_started", SessionID: "s3"},
			filter: Filter{SessionIDs: []string{"s1", "s2"}},
			want:   false,
		},
		{
			name:   "empty_session_passes_through",
			event:  Event{Type: "health"},
			filter: Filter{SessionIDs: []string{"s1"}},
			want:   true,
		},
		{
			name:   "multi_all_pass",
			event:  Event{Type: "analysis_merged", SessionID: "s1"},
			filter: Filter{Types: []string{"analysis_merged"}, SessionIDs: []string{"s1"}},
			want:   true,
		},
		{
			name:   "multi_one_fails",
			event:  Event{Type: "analysis_merged", SessionID: "s2"},
			filter: Filter{Types: []string{"analysis_merged"}, SessionIDs: []string{"s1"}},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchesFilter(tt.event, tt.filter)
			if got != tt.want {
				t.Errorf("matchesFilter(%+v, %+v) = %v, want %v", tt.event, tt.filter, got, tt.want)
			}
		})
	}
}
