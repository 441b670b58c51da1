// Package pipeline implements the sales pipeline engine: per-tenant stage
// registry, deal transitions with an append-only activity ledger, undo,
// automation settings and triggers, and pipeline statistics.
//
// Every deal mutation runs in one store transaction guarded by a
// compare-and-swap on the deal's version, so a deal's stage and its ledger
// never diverge and concurrent writers get ErrConflict instead of a lost
// update.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/fixaren/backoffice/internal/events"
	"github.com/fixaren/backoffice/internal/logging"
	"github.com/fixaren/backoffice/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Activity types.
const (
	TypeDealCreated     = "deal_created"
	TypeStageMoved      = "stage_moved"
	TypeAutomatedAction = "automated_action"
)

// Who caused a ledger entry.
const (
	TriggeredByUser       = "user"
	TriggeredBySystem     = "system"
	TriggeredByAutomation = "automation"
)

// Deal priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Deal origins.
const (
	OriginManual    = "manual"
	OriginAutomated = "automated"
)

// Page sizes for list operations.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var (
	validTriggeredBy = map[string]bool{TriggeredByUser: true, TriggeredBySystem: true, TriggeredByAutomation: true}
	validPriorities  = map[string]bool{PriorityLow: true, PriorityMedium: true, PriorityHigh: true}
	validOrigins     = map[string]bool{OriginManual: true, OriginAutomated: true}
)

// Service is the pipeline engine. It keeps no per-request state; all
// durable state lives in the store.
type Service struct {
	db      *gorm.DB
	now     func() time.Time
	newID   func() string
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	events  events.Sink
}

// Options configures a Service. Zero fields get defaults: UTC wall clock,
// random UUIDs, a no-op logger, no metrics and no event sink.
type Options struct {
	Now     func() time.Time
	NewID   func() string
	Log     *zap.SugaredLogger
	Metrics *metrics.Metrics
	// Events is called inline after every commit; sinks that reach the
	// network belong behind an events.Dispatcher.
	Events events.Sink
}

// New creates a Service over db.
func New(db *gorm.DB, opts Options) *Service {
	s := &Service{
		db:      db,
		now:     opts.Now,
		newID:   opts.NewID,
		log:     opts.Log,
		metrics: opts.Metrics,
		events:  opts.Events,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	return s
}

// DB returns the underlying store handle.
func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) observe(op string, start time.Time, err error) {
	s.metrics.ObserveOperation(op, resultLabel(err), time.Since(start))
}

// publish hands ev to the sink after commit. The caller's cancellation is
// dropped so a client that goes away after commit does not lose the event.
// Sinks log and count their own failures.
func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.events == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	ev.ID = s.newID()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now()
	}
	if ev.Type == events.TypeDealWon {
		if settings, err := s.readAutomationSettings(ctx, ev.TenantID); err == nil && !settings.NotifyOnWon {
			ev.Mute = true
		}
	}
	_ = s.events.Publish(ctx, ev)
}

// logger prefers the request-scoped logger carried on ctx.
func (s *Service) logger(ctx context.Context) *zap.SugaredLogger {
	return logging.FromContextOr(ctx, s.log)
}

func requireTenant(tenant string) error {
	if strings.TrimSpace(tenant) == "" {
		return validationf("tenant id is required")
	}
	return nil
}

// pageSize resolves a requested limit to the effective page size.
func pageSize(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, validationf("limit must not be negative")
	case limit == 0:
		return DefaultPageSize, nil
	case limit > MaxPageSize:
		return MaxPageSize, nil
	default:
		return limit, nil
	}
}
