package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/zektor/internal/event"
	"github.com/Iron-Ham/zektor/internal/logging"
)

// DefaultQueueSize is used when NewDispatcher is given a non-positive size.
const DefaultQueueSize = 256

// flushTimeout bounds delivery of the messages still queued at Stop.
const flushTimeout = 2 * time.Second

// Stats counts what the dispatcher has done since it was created.
type Stats struct {
	Sent    int64
	Failed  int64
	Dropped int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithStageLabels sets the function that names stages in payloads.
func WithStageLabels(label func(int) string) DispatcherOption {
	return func(d *Dispatcher) { d.label = label }
}

// WithIDGenerator overrides uuid generation for event ids.
func WithIDGenerator(gen func() string) DispatcherOption {
	return func(d *Dispatcher) {
		if gen != nil {
			d.newID = gen
		}
	}
}

// Dispatcher queues messages from the bus and delivers them in order.
type Dispatcher struct {
	notifier Notifier
	logger   *logging.Logger
	label    func(int) string
	newID    func() string
	queue    chan Message

	bus   *event.Bus
	subID string

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      conc.WaitGroup
	started bool

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewDispatcher creates a Dispatcher that delivers to n through a queue of
// size messages.
func NewDispatcher(n Notifier, size int, opts ...DispatcherOption) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	d := &Dispatcher{
		notifier: n,
		logger:   logging.NopLogger(),
		newID:    uuid.NewString,
		queue:    make(chan Message, size),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("notify")
	return d
}

// Attach subscribes the dispatcher to every event on bus.
func (d *Dispatcher) Attach(bus *event.Bus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bus = bus
	d.subID = bus.SubscribeAll(d.Handle)
}

// Handle converts e into a message and queues it without blocking. It is
// the bus handler installed by Attach.
func (d *Dispatcher) Handle(e event.Event) {
	m, ok := FromEvent(e, d.newID(), d.label)
	if !ok {
		return
	}
	select {
	case d.queue <- m:
	default:
		d.dropped.Add(1)
		d.logger.WithSession(m.SessionID).Warn("notification queue full, dropping message",
			"type", m.Type, "event_id", m.EventID)
	}
}

// Start launches the delivery worker. It runs until ctx is canceled or Stop
// is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Go(func() { d.run(ctx) })
}

// Stop detaches from the bus, delivers what is already queued within a
// short deadline, and waits for the worker to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	bus, subID := d.bus, d.subID
	d.subID = ""
	cancel := d.cancel
	d.mu.Unlock()

	if bus != nil && subID != "" {
		bus.Unsubscribe(subID)
	}
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// Stats returns the delivery counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case m := <-d.queue:
			d.deliver(ctx, m)
		case <-ctx.Done():
			d.flush()
			return
		}
	}
}

func (d *Dispatcher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case m := <-d.queue:
			d.deliver(ctx, m)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) {
	if err := d.notifier.Notify(ctx, m); err != nil {
		d.failed.Add(1)
		d.logger.WithSession(m.SessionID).Warn("notification failed",
			"type", m.Type, "event_id", m.EventID, "error", err.Error())
		return
	}
	d.sent.Add(1)
	d.logger.WithSession(m.SessionID).Debug("notification sent", "type", m.Type, "event_id", m.EventID)
}
