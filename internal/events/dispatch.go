package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/fixaren/backoffice/internal/metrics"
	"go.uber.org/zap"
)

// Dispatcher errors.
var (
	ErrQueueFull        = errors.New("events: dispatch queue full")
	ErrDispatcherClosed = errors.New("events: dispatcher closed")
)

// Dispatcher defaults.
const (
	DefaultQueueSize      = 256
	DefaultPublishTimeout = 10 * time.Second
)

// DispatcherOpts configures a Dispatcher. Zero fields get defaults.
type DispatcherOpts struct {
	QueueSize int
	Timeout   time.Duration // per event
	Log       *zap.SugaredLogger
	Metrics   *metrics.Metrics
}

// Dispatcher queues events and delivers them to a sink from a single
// worker goroutine, so Publish never waits on the network. Delivery keeps
// the caller's context values but not its cancellation. The wrapped sink
// is expected to log its own failures, as Fanout does.
type Dispatcher struct {
	sink    Sink
	queue   chan queuedEvent
	timeout time.Duration
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	once     sync.Once
	closeErr error
}

type queuedEvent struct {
	ctx context.Context
	ev  Event
}

// NewDispatcher starts a worker delivering to sink.
func NewDispatcher(sink Sink, opts DispatcherOpts) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPublishTimeout
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan queuedEvent, opts.QueueSize),
		timeout: opts.Timeout,
		log:     opts.Log,
		metrics: opts.Metrics,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Name implements Sink.
func (d *Dispatcher) Name() string { return "dispatcher" }

// Publish enqueues ev. It returns ErrQueueFull without blocking when the
// worker has fallen behind, and ErrDispatcherClosed after Close.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), ev: ev}:
		return nil
	default:
		d.metrics.ObservePublish(d.Name(), ErrQueueFull)
		d.log.Warnw("event dropped", "type", ev.Type, "tenant", ev.TenantID, "deal", ev.DealID, "error", ErrQueueFull)
		return ErrQueueFull
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for q := range d.queue {
		ctx, cancel := context.WithTimeout(q.ctx, d.timeout)
		_ = d.sink.Publish(ctx, q.ev)
		cancel()
	}
}

// Close stops accepting events, waits for queued ones to be delivered and
// then closes the wrapped sink.
func (d *Dispatcher) Close() error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		<-d.done
		if c, ok := d.sink.(io.Closer); ok {
			d.closeErr = c.Close()
		}
	})
	return d.closeErr
}
