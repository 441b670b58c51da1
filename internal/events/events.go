// Package events defines pipeline events and the sinks that receive them
// after a mutation commits.
package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fixaren/backoffice/internal/metrics"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeDealCreated    = "deal.created"
	TypeDealMoved      = "deal.moved"
	TypeDealWon        = "deal.won"
	TypeDealLost       = "deal.lost"
	TypeActivityUndone = "activity.undone"
)

// Event describes one committed pipeline mutation.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	TenantID    string    `json:"tenant_id"`
	DealID      string    `json:"deal_id"`
	DealTitle   string    `json:"deal_title"`
	ActivityID  string    `json:"activity_id"`
	FromStage   string    `json:"from_stage,omitempty"`
	ToStage     string    `json:"to_stage,omitempty"`
	Value       string    `json:"value,omitempty"`
	TriggeredBy string    `json:"triggered_by"`
	ActorID     string    `json:"actor_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	// Mute asks announcement sinks to stay quiet about this event.
	Mute bool `json:"mute,omitempty"`
}

// Sink receives pipeline events. Delivery is best effort.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// Fanout delivers each event to every configured sink.
type Fanout struct {
	sinks   []Sink
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewFanout builds a Fanout over sinks. log and m may be nil.
func NewFanout(log *zap.SugaredLogger, m *metrics.Metrics, sinks ...Sink) *Fanout {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Fanout{sinks: sinks, log: log, metrics: m}
}

// Name implements Sink.
func (f *Fanout) Name() string { return "fanout" }

// Len returns the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Publish delivers ev to all sinks. Every sink is attempted; failures are
// logged and joined into the returned error.
func (f *Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range f.sinks {
		err := s.Publish(ctx, ev)
		f.metrics.ObservePublish(s.Name(), err)
		if err != nil {
			f.log.Warnw("event delivery failed", "sink", s.Name(), "type", ev.Type, "deal", ev.DealID, "error", err)
			errs = append(errs, fmt.Errorf("events: %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("events: close %s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Filter wraps an announcement sink so it only receives the listed event
// types. Muted events are dropped.
func Filter(s Sink, types ...string) Sink {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return &filtered{Sink: s, allowed: allowed}
}

type filtered struct {
	Sink
	allowed map[string]bool
}

func (f *filtered) Publish(ctx context.Context, ev Event) error {
	if ev.Mute || !f.allowed[ev.Type] {
		return nil
	}
	return f.Sink.Publish(ctx, ev)
}

func (f *filtered) Close() error {
	if c, ok := f.Sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Recorder is an in-memory sink that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// Name implements Sink.
func (r *Recorder) Name() string { return "recorder" }

// Publish implements Sink.
func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

// FailWith makes subsequent Publish calls return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
