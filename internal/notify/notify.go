// Package notify turns lifecycle events into outbound notifications.
//
// A Dispatcher subscribes to the event bus and queues one Message per
// notifiable event. A single worker drains the queue into a Notifier, so
// messages leave in the order the events were published. When the queue is
// full new messages are dropped and counted; the lifecycle never waits on a
// slow broker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/zektor/internal/event"
	"github.com/Iron-Ham/zektor/internal/logging"
)

// Message is the payload published for one event.
type Message struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	SessionID  int       `json:"session_id"`
	Name       string    `json:"name,omitempty"`
	Stage      int       `json:"stage,omitempty"`
	StageLabel string    `json:"stage_label,omitempty"`
	Score      int       `json:"score"`
	Delta      int       `json:"delta,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Topic returns the topic m is published on under prefix:
//
//	<prefix>/sessions/started
//	<prefix>/stages/<n>/entered
//	<prefix>/sessions/completed
//	<prefix>/sessions/score
func Topic(prefix string, m Message) string {
	var suffix string
	switch m.Type {
	case event.TypeStageEntered:
		suffix = fmt.Sprintf("stages/%d/entered", m.Stage)
	case event.TypeSessionStarted:
		suffix = "sessions/started"
	case event.TypeSessionCompleted:
		suffix = "sessions/completed"
	case event.TypeScoreAdjusted:
		suffix = "sessions/score"
	default:
		suffix = "events/" + strings.ReplaceAll(m.Type, ".", "/")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// Notifier delivers one message.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// Publisher is the transport an MQTTNotifier writes to. *broker.Client
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MQTTNotifier publishes messages as JSON under a topic prefix.
type MQTTNotifier struct {
	pub    Publisher
	prefix string
}

// NewMQTTNotifier creates an MQTTNotifier.
func NewMQTTNotifier(pub Publisher, prefix string) *MQTTNotifier {
	return &MQTTNotifier{pub: pub, prefix: prefix}
}

// Notify implements Notifier.
func (n *MQTTNotifier) Notify(ctx context.Context, m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return n.pub.Publish(ctx, Topic(n.prefix, m), payload)
}

// LogNotifier writes messages to the log instead of a broker.
type LogNotifier struct {
	logger *logging.Logger
	prefix string
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *logging.Logger, prefix string) *LogNotifier {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &LogNotifier{logger: logger.WithComponent("notify"), prefix: prefix}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, m Message) error {
	n.logger.WithSession(m.SessionID).Info("notification",
		"topic", Topic(n.prefix, m),
		"event_id", m.EventID,
		"type", m.Type,
		"stage", m.Stage,
		"score", m.Score)
	return nil
}

// FromEvent builds the message for e. It reports false for events that are
// not sent as notifications.
func FromEvent(e event.Event, id string, label func(int) string) (Message, bool) {
	se, ok := e.(event.SessionEvent)
	if !ok {
		return Message{}, false
	}
	ref := se.Session()
	m := Message{
		EventID:   id,
		Type:      e.EventType(),
		SessionID: ref.ID,
		Name:      ref.Name,
		Stage:     ref.Stage,
		Score:     ref.Score,
		Timestamp: e.Timestamp().UTC(),
	}

	switch ev := e.(type) {
	case event.SessionCompletedEvent:
		m.Stage = ev.FinalStage
	case event.ScoreAdjustedEvent:
		m.Delta = ev.Delta
	case event.SessionStartedEvent, event.StageEnteredEvent:
	default:
		return Message{}, false
	}

	if m.Stage > 0 && label != nil {
		m.StageLabel = label(m.Stage)
	}
	return m, true
}
