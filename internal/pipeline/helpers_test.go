package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fixaren/backoffice/internal/config"
	"github.com/fixaren/backoffice/internal/db"
	"github.com/fixaren/backoffice/internal/events"
	"github.com/fixaren/backoffice/internal/metrics"
	"github.com/fixaren/backoffice/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const tenantA = "tenant-a"

// testClock hands out strictly increasing whole-second timestamps.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	svc     *Service
	clock   *testClock
	events  *events.Recorder
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(gdb) })
	require.NoError(t, db.AutoMigrate(gdb))

	env := &testEnv{
		clock:   newTestClock(),
		events:  &events.Recorder{},
		metrics: metrics.New(nil),
	}
	env.svc = New(gdb, Options{
		Now:     env.clock.Now,
		Metrics: env.metrics,
		Events:  env.events,
	})
	return env
}

func (e *testEnv) createDeal(t *testing.T, title string) *models.Deal {
	t.Helper()
	deal, err := e.svc.CreateDeal(context.Background(), tenantA, CreateDealInput{Title: title, ActorID: "u1"})
	require.NoError(t, err)
	return deal
}

func (e *testEnv) stage(t *testing.T, slug string) *models.Stage {
	t.Helper()
	st, err := e.svc.GetStageBySlug(context.Background(), tenantA, slug)
	require.NoError(t, err)
	return st
}

// ledger returns all of a deal's entries, oldest first.
func (e *testEnv) ledger(t *testing.T, dealID string) []models.Activity {
	t.Helper()
	var rows []models.Activity
	require.NoError(t, e.svc.DB().Where("deal_id = ?", dealID).Order("sequence ASC").Find(&rows).Error)
	return rows
}

func (e *testEnv) countActivities(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.svc.DB().Model(&models.Activity{}).Count(&n).Error)
	return n
}

// assertLedgerConsistent checks that the deal's stage equals the target of
// its most recent non-undone entry, that its version equals the highest
// sequence, and that undone entries carry a timestamp.
func (e *testEnv) assertLedgerConsistent(t *testing.T, dealID string) {
	t.Helper()
	deal, err := e.svc.GetDeal(context.Background(), tenantA, dealID)
	require.NoError(t, err)
	rows := e.ledger(t, dealID)
	require.NotEmpty(t, rows)

	var latest Entry
	for i, row := range rows {
		require.Equal(t, int64(i+1), row.Sequence, "sequences must be contiguous")
		if row.Undone {
			require.NotNil(t, row.UndoneAt, "undone entry %s has no undone_at", row.ID)
		}
		entry, err := DecodeEntry(row)
		require.NoError(t, err)
		if !row.Undone {
			latest = entry
		}
	}
	require.NotNil(t, latest)
	require.Equal(t, latest.Target(), deal.StageID, "deal stage must match latest non-undone entry")
	require.Equal(t, rows[len(rows)-1].Sequence, deal.Version)
}

func money(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}
