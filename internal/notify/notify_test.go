package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/zektor/internal/event"
)

func TestTopic(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		msg    Message
		want   string
	}{
		{"stage entered", "zektor", Message{Type: event.TypeStageEntered, Stage: 3}, "zektor/stages/3/entered"},
		{"started", "zektor", Message{Type: event.TypeSessionStarted}, "zektor/sessions/started"},
		{"completed", "zektor/", Message{Type: event.TypeSessionCompleted}, "zektor/sessions/completed"},
		{"score", "site/a", Message{Type: event.TypeScoreAdjusted}, "site/a/sessions/score"},
		{"no prefix", "", Message{Type: event.TypeSessionStarted}, "sessions/started"},
		{"other", "z", Message{Type: "custom.thing"}, "z/events/custom/thing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Topic(tt.prefix, tt.msg); got != tt.want {
				t.Errorf("Topic() = %q, want %q", got, tt.want)
			}
		})
	}
}

func label(n int) string { return map[int]string{1: "Forest", 2: "Hallway"}[n] }

func TestFromEvent(t *testing.T) {
	ref := event.SessionRef{ID: 4, Name: "blue team", Stage: 2, Score: 9}

	tests := []struct {
		name string
		ev   event.Event
		want Message
		ok   bool
	}{
		{
			name: "stage entered",
			ev:   event.NewStageEnteredEvent(ref, 1),
			want: Message{EventID: "id", Type: event.TypeStageEntered, SessionID: 4, Name: "blue team", Stage: 2, StageLabel: "Hallway", Score: 9},
			ok:   true,
		},
		{
			name: "completed uses final stage",
			ev:   event.NewSessionCompletedEvent(event.SessionRef{ID: 4, Score: 9}, 1, time.Minute),
			want: Message{EventID: "id", Type: event.TypeSessionCompleted, SessionID: 4, Stage: 1, StageLabel: "Forest", Score: 9},
			ok:   true,
		},
		{
			name: "score carries delta",
			ev:   event.NewScoreAdjustedEvent(ref, -3),
			want: Message{EventID: "id", Type: event.TypeScoreAdjusted, SessionID: 4, Name: "blue team", Stage: 2, StageLabel: "Hallway", Score: 9, Delta: -3},
			ok:   true,
		},
		{
			name: "unplaced start has no stage",
			ev:   event.NewSessionStartedEvent(event.SessionRef{ID: 5}, false),
			want: Message{EventID: "id", Type: event.TypeSessionStarted, SessionID: 5},
			ok:   true,
		},
		{
			name: "persistence failure is not sent",
			ev:   event.NewPersistenceFailedEvent("start", context.DeadlineExceeded, true),
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromEvent(tt.ev, "id", label)
			if ok != tt.ok {
				t.Fatalf("FromEvent() ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			got.Timestamp = time.Time{}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FromEvent() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type fakePublisher struct {
	topic   string
	payload []byte
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.topic, p.payload = topic, payload
	return nil
}

func TestMQTTNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewMQTTNotifier(pub, "zektor")

	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := Message{EventID: "e-1", Type: event.TypeStageEntered, SessionID: 2, Stage: 3, StageLabel: "Electricity", Score: 4, Timestamp: ts}
	if err := n.Notify(context.Background(), msg); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if pub.topic != "zektor/stages/3/entered" {
		t.Errorf("topic = %q, want zektor/stages/3/entered", pub.topic)
	}
	var decoded map[string]any
	if err := json.Unmarshal(pub.payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	for _, key := range []string{"event_id", "type", "session_id", "stage", "stage_label", "score", "timestamp"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("payload missing %q: %s", key, pub.payload)
		}
	}
}

func TestLogNotifier(t *testing.T) {
	if err := NewLogNotifier(nil, "z").Notify(context.Background(), Message{Type: event.TypeSessionStarted}); err != nil {
		t.Errorf("Notify() error = %v", err)
	}
}
