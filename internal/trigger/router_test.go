package trigger

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/zektor/internal/broker"
	"github.com/Iron-Ham/zektor/internal/config"
	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/lifecycle"
	"github.com/Iron-Ham/zektor/internal/logging"
)

func testRules() config.TriggersConfig {
	return config.TriggersConfig{
		Progression: []config.ProgressionRule{
			{Stage: 1, Topic: "sensors/door", Message: "Open"},
			{Stage: 2, Topic: "sensors/bridge", Message: "crossed", BlockedBy: []int{3, 4}},
			{Stage: 3, Topic: "sensors/final", Message: "done"},
		},
		Scoring: []config.ScoringRule{
			{Stage: 2, Topic: "sensors/button", Positive: 5, Negative: 2},
		},
	}
}

// startAt creates sessions until one occupies each given stage, walking
// them forward from stage 1.
func startAt(t *testing.T, m *lifecycle.Manager, stages ...int) {
	t.Helper()
	ctx := context.Background()
	for i := len(stages) - 1; i >= 0; i-- {
		res, err := m.Start(ctx, "")
		if err != nil || !res.Placed {
			t.Fatalf("Start() = %+v, %v", res, err)
		}
		for s := 1; s < stages[i]; s++ {
			if _, err := m.Advance(ctx, res.ID); err != nil {
				t.Fatalf("Advance(%d) error = %v", res.ID, err)
			}
		}
	}
}

func TestTopics(t *testing.T) {
	r := NewRouter(lifecycle.New(5), testRules())
	want := []string{"sensors/bridge", "sensors/button", "sensors/door", "sensors/final"}
	if diff := cmp.Diff(want, r.Topics()); diff != "" {
		t.Errorf("Topics() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize(t *testing.T) {
	for in, want := range map[string]string{" OPEN\n": "open", "Positive": "positive", "": ""} {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProcessProgression(t *testing.T) {
	ctx := context.Background()
	m := lifecycle.New(5)
	r := NewRouter(m, testRules())
	startAt(t, m, 1)

	actions := r.Process(ctx, Message{Topic: "sensors/door", Payload: "  OPEN "})
	if len(actions) != 1 || actions[0].Err != nil {
		t.Fatalf("Process() = %+v, want one successful action", actions)
	}
	if actions[0].SessionID != 1 {
		t.Errorf("SessionID = %d, want 1", actions[0].SessionID)
	}

	sess, _ := m.Get(1)
	if stage, _ := sess.Position.Stage(); stage != 2 {
		t.Errorf("session 1 at %v, want stage 2", sess.Position)
	}
}

func TestProcessIgnoresMismatch(t *testing.T) {
	ctx := context.Background()
	m := lifecycle.New(5)
	r := NewRouter(m, testRules())
	startAt(t, m, 1)

	for _, msg := range []Message{
		{Topic: "sensors/door", Payload: "closed"},
		{Topic: "sensors/other", Payload: "open"},
		{Topic: "sensors/button", Payload: "maybe"},
	} {
		if actions := r.Process(ctx, msg); len(actions) != 0 {
			t.Errorf("Process(%+v) = %+v, want no actions", msg, actions)
		}
	}
}

func TestProcessEmptyStage(t *testing.T) {
	r := NewRouter(lifecycle.New(5), testRules())

	actions := r.Process(context.Background(), Message{Topic: "sensors/final", Payload: "done"})
	if len(actions) != 1 || !errors.Is(actions[0].Err, errors.ErrStageEmpty) {
		t.Errorf("Process() = %+v, want ErrStageEmpty", actions)
	}
}

func TestProcessBlocked(t *testing.T) {
	ctx := context.Background()
	m := lifecycle.New(5)
	r := NewRouter(m, testRules())
	startAt(t, m, 2, 4) // session 1 at 4, session 2 at 2

	actions := r.Process(ctx, Message{Topic: "sensors/bridge", Payload: "crossed"})
	if len(actions) != 1 || !errors.Is(actions[0].Err, errors.ErrSlotOccupied) {
		t.Fatalf("Process() = %+v, want ErrSlotOccupied", actions)
	}

	before := m.View()
	if occ, ok := before.Occupant(2); !ok || occ.ID != 2 {
		t.Errorf("stage 2 occupant = %+v, %v; want session 2", occ, ok)
	}
}

func TestProcessLogLevelFollowsSeverity(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, m *lifecycle.Manager)
		msg     Message
		wantLog []string
	}{
		{
			name:    "empty stage",
			msg:     Message{Topic: "sensors/final", Payload: "done"},
			wantLog: []string{`"level":"DEBUG"`, `"msg":"trigger ignored"`, `"severity":"debug"`},
		},
		{
			name:    "blocked stage",
			setup:   func(t *testing.T, m *lifecycle.Manager) { startAt(t, m, 2, 4) },
			msg:     Message{Topic: "sensors/bridge", Payload: "crossed"},
			wantLog: []string{`"level":"INFO"`, `"msg":"trigger not applied"`, `"severity":"info"`},
		},
		{
			name:    "applied",
			setup:   func(t *testing.T, m *lifecycle.Manager) { startAt(t, m, 1) },
			msg:     Message{Topic: "sensors/door", Payload: "open"},
			wantLog: []string{`"level":"INFO"`, `"msg":"trigger applied"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := lifecycle.New(5)
			if tt.setup != nil {
				tt.setup(t, m)
			}
			var buf bytes.Buffer
			r := NewRouter(m, testRules(), WithLogger(logging.New(&buf, "debug")))
			r.Process(context.Background(), tt.msg)

			logged := buf.String()
			for _, want := range tt.wantLog {
				if !strings.Contains(logged, want) {
					t.Errorf("log output missing %s:\n%s", want, logged)
				}
			}
			if strings.Contains(logged, `"level":"ERROR"`) {
				t.Errorf("caller error logged at ERROR:\n%s", logged)
			}
		})
	}
}

func TestProcessScoring(t *testing.T) {
	ctx := context.Background()
	m := lifecycle.New(5)
	r := NewRouter(m, testRules())
	startAt(t, m, 2)

	r.Process(ctx, Message{Topic: "sensors/button", Payload: "positive"})
	r.Process(ctx, Message{Topic: "sensors/button", Payload: "Positive"})
	r.Process(ctx, Message{Topic: "sensors/button", Payload: "negative"})

	sess, _ := m.Get(1)
	if sess.Score != 8 {
		t.Errorf("Score = %d, want 8", sess.Score)
	}
}

type fakeSubscriber struct {
	topics []string
	h      broker.Handler
}

func (f *fakeSubscriber) Subscribe(_ context.Context, topic string, h broker.Handler) error {
	f.topics = append(f.topics, topic)
	f.h = h
	return nil
}

func TestAttachAndWorker(t *testing.T) {
	ctx := context.Background()
	m := lifecycle.New(5)
	r := NewRouter(m, testRules(), WithQueueSize(8))
	startAt(t, m, 1)

	sub := &fakeSubscriber{}
	if err := r.Attach(ctx, sub); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if len(sub.topics) != 4 {
		t.Fatalf("subscribed %v, want 4 topics", sub.topics)
	}

	r.Start(ctx)
	defer r.Stop()

	// Door then bridge: the session walks from 1 to 3 in order.
	sub.h("sensors/door", []byte("open"))
	sub.h("sensors/bridge", []byte("crossed"))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sess, _ := m.Get(1)
		if stage, _ := sess.Position.Stage(); stage == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	sess, _ := m.Get(1)
	t.Fatalf("session 1 at %v, want stage 3", sess.Position)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	r := NewRouter(lifecycle.New(5), testRules(), WithQueueSize(1))
	r.Enqueue("a", nil)
	r.Enqueue("a", nil)
	r.Enqueue("a", nil)
	if got := r.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}
