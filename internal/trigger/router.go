// Package trigger maps inbound broker messages to lifecycle commands.
//
// Messages are queued by the broker's delivery goroutine and applied by a
// single worker, so commands run in arrival order. Progression rules advance
// the session occupying a stage; scoring rules adjust its score. A message
// for an empty stage is ignored.
package trigger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/zektor/internal/broker"
	"github.com/Iron-Ham/zektor/internal/config"
	"github.com/Iron-Ham/zektor/internal/errors"
	"github.com/Iron-Ham/zektor/internal/lifecycle"
	"github.com/Iron-Ham/zektor/internal/logging"
)

// Payloads recognized by scoring rules.
const (
	PayloadPositive = "positive"
	PayloadNegative = "negative"
)

// DefaultQueueSize is used when NewRouter is given a non-positive size.
const DefaultQueueSize = 256

// Commander is the part of the lifecycle manager the router drives.
type Commander interface {
	AdvanceFrom(ctx context.Context, stage int, blockers []int) (lifecycle.AdvanceResult, error)
	AdjustScoreAt(ctx context.Context, stage, delta int) (int, int, error)
}

// Subscriber registers topic handlers. *broker.Client satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h broker.Handler) error
}

// Message is one inbound broker message.
type Message struct {
	Topic   string
	Payload string
}

// Action records what a message did.
type Action struct {
	Kind      string // "advance" or "score"
	Stage     int
	SessionID int
	Err       error
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithQueueSize sets the inbound queue capacity.
func WithQueueSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.queue = make(chan Message, n)
		}
	}
}

// Router applies trigger rules to inbound messages.
type Router struct {
	cmd         Commander
	progression []config.ProgressionRule
	scoring     []config.ScoringRule
	logger      *logging.Logger
	queue       chan Message

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      conc.WaitGroup
	started bool

	dropped atomic.Int64
}

// NewRouter creates a router for the given rules.
func NewRouter(cmd Commander, rules config.TriggersConfig, opts ...Option) *Router {
	r := &Router{
		cmd:         cmd,
		progression: rules.Progression,
		scoring:     rules.Scoring,
		logger:      logging.NopLogger(),
		queue:       make(chan Message, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("trigger")
	return r
}

// Normalize lower-cases and trims a payload for comparison.
func Normalize(payload string) string {
	return strings.ToLower(strings.TrimSpace(payload))
}

// Topics returns every topic a rule listens on, sorted and deduplicated.
func (r *Router) Topics() []string {
	seen := make(map[string]bool)
	for _, rule := range r.progression {
		seen[rule.Topic] = true
	}
	for _, rule := range r.scoring {
		seen[rule.Topic] = true
	}
	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Attach subscribes Enqueue to every rule topic on sub.
func (r *Router) Attach(ctx context.Context, sub Subscriber) error {
	for _, topic := range r.Topics() {
		if err := sub.Subscribe(ctx, topic, r.Enqueue); err != nil {
			return err
		}
		r.logger.Info("listening for triggers", "topic", topic)
	}
	return nil
}

// Enqueue queues a message without blocking. It drops the message when the
// queue is full.
func (r *Router) Enqueue(topic string, payload []byte) {
	select {
	case r.queue <- Message{Topic: topic, Payload: string(payload)}:
	default:
		r.dropped.Add(1)
		r.logger.Warn("trigger queue full, dropping message", "topic", topic)
	}
}

// Dropped returns how many messages were discarded because the queue was
// full.
func (r *Router) Dropped() int64 {
	return r.dropped.Load()
}

// Start launches the worker that applies queued messages.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Go(func() {
		for {
			select {
			case m := <-r.queue:
				r.Process(ctx, m)
			case <-ctx.Done():
				return
			}
		}
	})
}

// Stop stops the worker and waits for it. Messages still queued are
// discarded.
func (r *Router) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Process applies every rule matching m, in configuration order, and
// reports what each did.
func (r *Router) Process(ctx context.Context, m Message) []Action {
	payload := Normalize(m.Payload)
	var actions []Action

	for _, rule := range r.progression {
		if rule.Topic != m.Topic || Normalize(rule.Message) != payload {
			continue
		}
		res, err := r.cmd.AdvanceFrom(ctx, rule.Stage, rule.BlockedBy)
		actions = append(actions, Action{Kind: "advance", Stage: rule.Stage, SessionID: res.ID, Err: err})
		r.logResult(m, "advance", rule.Stage, res.ID, err)
	}

	for _, rule := range r.scoring {
		if rule.Topic != m.Topic {
			continue
		}
		var delta int
		switch payload {
		case PayloadPositive:
			delta = rule.Positive
		case PayloadNegative:
			delta = -rule.Negative
		default:
			r.logger.Debug("ignoring scoring payload", "topic", m.Topic, "payload", payload)
			continue
		}
		id, score, err := r.cmd.AdjustScoreAt(ctx, rule.Stage, delta)
		actions = append(actions, Action{Kind: "score", Stage: rule.Stage, SessionID: id, Err: err})
		r.logResult(m, "score", rule.Stage, id, err, "delta", delta, "score", score)
	}

	if len(actions) == 0 {
		r.logger.Debug("no trigger matched", "topic", m.Topic, "payload", payload)
	}
	return actions
}

func (r *Router) logResult(m Message, kind string, stage, id int, err error, args ...any) {
	l := r.logger.WithStage(stage)
	args = append([]any{"topic", m.Topic, "action", kind}, args...)
	if err == nil {
		l.WithSession(id).Info("trigger applied", args...)
		return
	}

	sev := errors.GetSeverity(err)
	args = append(args, "error", err.Error(), "severity", sev.String())
	switch sev {
	case errors.SeverityDebug:
		l.Debug("trigger ignored", args...)
	case errors.SeverityInfo:
		l.Info("trigger not applied", args...)
	case errors.SeverityWarning:
		l.Warn("trigger refused", args...)
	default:
		l.Error("trigger failed", args...)
	}
}
