package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fixaren/backoffice/internal/config"
	"github.com/fixaren/backoffice/internal/db"
	"github.com/fixaren/backoffice/internal/metrics"
	"github.com/fixaren/backoffice/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var clockStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type testAPI struct {
	srv     *Server
	svc     *pipeline.Service
	reg     *prometheus.Registry
	tokenA  string
	tokenB  string
	handler http.Handler
}

func newTestAPI(t *testing.T, mutate ...func(*Options)) *testAPI {
	t.Helper()
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(gdb) })
	require.NoError(t, db.AutoMigrate(gdb))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	clock := &stepClock{t: clockStart}
	svc := pipeline.New(gdb, pipeline.Options{Now: clock.Now, Metrics: m})

	opts := Options{
		Service:      svc,
		JWTSecret:    testSecret,
		Metrics:      m,
		Gatherer:     reg,
		PollInterval: 10 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	srv, err := New(opts)
	require.NoError(t, err)

	return &testAPI{
		srv:     srv,
		svc:     svc,
		reg:     reg,
		tokenA:  mustToken(t, "tenant-a", "anna"),
		tokenB:  mustToken(t, "tenant-b", "bo"),
		handler: srv.Handler(),
	}
}

func mustToken(t *testing.T, tenant, user string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, tenant, user, time.Hour)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[apiError](t, w).Error.Code
}

type dealJSON struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	StageID string `json:"stage_id"`
	Value   string `json:"value"`
	Version int64  `json:"version"`
}

type activityJSON struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Sequence int64  `json:"sequence"`
	Undone   bool   `json:"undone"`
	ToStage  *struct {
		Slug string `json:"slug"`
	} `json:"to_stage"`
}
