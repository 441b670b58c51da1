package httpapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fixaren/backoffice/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresServiceAndSecret(t *testing.T) {
	_, err := New(Options{JWTSecret: "x"})
	assert.ErrorContains(t, err, "service is required")

	api := newTestAPI(t)
	_, err = New(Options{Service: api.svc})
	assert.ErrorContains(t, err, "jwt secret is required")
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodPost, "/api/stages/ensure", api.tokenA, nil)

	w := api.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `backoffice_http_requests_total{method="POST",route="/api/stages/ensure",status="200"} 1`)
	assert.Contains(t, w.Body.String(), "backoffice_operations_total")
}

func TestAuth(t *testing.T) {
	api := newTestAPI(t)
	forged, err := IssueToken("other-secret", "tenant-a", "anna", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "tenant-a", "anna", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", forged},
		{"expired", expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodGet, "/api/deals", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "unauthorized", errorCode(t, w))
		})
	}
}

func TestIssueToken_Validation(t *testing.T) {
	_, err := IssueToken("", "t", "u", time.Hour)
	assert.Error(t, err)
	_, err = IssueToken("s", "", "u", time.Hour)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)
	_, ok = bearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = bearerToken("")
	assert.False(t, ok)
}

func TestStages(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/stages", api.tokenA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[struct{ Stages []any }](t, w).Stages)

	w = api.do(t, http.MethodPost, "/api/stages/ensure", api.tokenA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stages := decode[struct {
		Stages []struct{ Slug string } `json:"stages"`
	}](t, w).Stages
	require.Len(t, stages, 5)
	assert.Equal(t, "lead", stages[0].Slug)
	assert.Equal(t, "lost", stages[4].Slug)
}

func TestDealLifecycle(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/deals", api.tokenA, map[string]any{
		"title": "Byt säkring",
		"value": "1500",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	deal := decode[dealJSON](t, w)
	assert.Equal(t, int64(1), deal.Version)
	assert.Equal(t, "1500", deal.Value)

	w = api.do(t, http.MethodGet, "/api/deals", api.tokenA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct{ Deals []dealJSON }](t, w).Deals, 1)

	w = api.do(t, http.MethodPost, "/api/deals/"+deal.ID+"/move", api.tokenA, map[string]any{"stage": "quoted"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	moved := decode[struct {
		Deal  dealJSON `json:"deal"`
		Moved bool     `json:"moved"`
	}](t, w)
	assert.True(t, moved.Moved)
	assert.Equal(t, int64(2), moved.Deal.Version)

	w = api.do(t, http.MethodPost, "/api/deals/"+deal.ID+"/move", api.tokenA, map[string]any{"stage": "quoted"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[struct{ Moved bool }](t, w).Moved)

	w = api.do(t, http.MethodGet, "/api/deals/"+deal.ID+"/activity", api.tokenA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[struct{ Activity []activityJSON }](t, w).Activity
	require.Len(t, entries, 2)
	assert.Equal(t, pipeline.TypeStageMoved, entries[0].Type)
	require.NotNil(t, entries[0].ToStage)
	assert.Equal(t, "quoted", entries[0].ToStage.Slug)
	created := entries[1]

	w = api.do(t, http.MethodPost, "/api/activity/"+entries[0].ID+"/undo", api.tokenA, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	undo := decode[struct {
		Deal   dealJSON     `json:"deal"`
		Undone activityJSON `json:"undone"`
	}](t, w)
	assert.True(t, undo.Undone.Undone)
	assert.Equal(t, int64(3), undo.Deal.Version)

	w = api.do(t, http.MethodPost, "/api/activity/"+entries[0].ID+"/undo", api.tokenA, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_undone", errorCode(t, w))

	w = api.do(t, http.MethodPost, "/api/activity/"+created.ID+"/undo", api.tokenA, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "cannot_undo_creation", errorCode(t, w))
}

func TestUpdateDeal(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodPost, "/api/deals", api.tokenA, map[string]any{"title": "Old"})
	require.Equal(t, http.StatusCreated, w.Code)
	deal := decode[dealJSON](t, w)

	w = api.do(t, http.MethodPatch, "/api/deals/"+deal.ID, api.tokenA, map[string]any{"title": "New", "value": "250.50"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[dealJSON](t, w)
	assert.Equal(t, "New", got.Title)
	assert.Equal(t, "250.5", got.Value)
	assert.Equal(t, int64(1), got.Version)

	w = api.do(t, http.MethodGet, "/api/deals/"+deal.ID, api.tokenA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "New", decode[dealJSON](t, w).Title)
}

func TestErrorResponses(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodPost, "/api/deals", api.tokenA, map[string]any{"title": "X"})
	require.Equal(t, http.StatusCreated, w.Code)
	deal := decode[dealJSON](t, w)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"malformed json", http.MethodPost, "/api/deals", "{", http.StatusBadRequest, "bad_request"},
		{"missing title", http.MethodPost, "/api/deals", map[string]any{}, http.StatusBadRequest, "bad_request"},
		{"unknown stage on create", http.MethodPost, "/api/deals", map[string]any{"title": "Y", "stage": "nope"}, http.StatusBadRequest, "unknown_stage"},
		{"unknown stage on move", http.MethodPost, "/api/deals/" + deal.ID + "/move", map[string]any{"stage": "nope"}, http.StatusBadRequest, "unknown_stage"},
		{"move without stage", http.MethodPost, "/api/deals/" + deal.ID + "/move", map[string]any{}, http.StatusBadRequest, "bad_request"},
		{"stale version", http.MethodPost, "/api/deals/" + deal.ID + "/move", map[string]any{"stage": "won", "expected_version": 7}, http.StatusConflict, "conflict"},
		{"missing deal", http.MethodGet, "/api/deals/does-not-exist", nil, http.StatusNotFound, "not_found"},
		{"missing activity", http.MethodPost, "/api/activity/does-not-exist/undo", nil, http.StatusNotFound, "not_found"},
		{"bad limit", http.MethodGet, "/api/deals?limit=abc", nil, http.StatusBadRequest, "bad_request"},
		{"bad since", http.MethodGet, "/api/activity?since=yesterday", nil, http.StatusBadRequest, "bad_request"},
		{"bad triggered_by", http.MethodGet, "/api/activity?triggered_by=robot", nil, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, tt.method, tt.path, api.tokenA, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestTenantIsolation(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodPost, "/api/deals", api.tokenA, map[string]any{"title": "A only"})
	require.Equal(t, http.StatusCreated, w.Code)
	deal := decode[dealJSON](t, w)

	w = api.do(t, http.MethodGet, "/api/deals/"+deal.ID, api.tokenB, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodGet, "/api/deals", api.tokenB, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[struct{ Deals []dealJSON }](t, w).Deals)

	w = api.do(t, http.MethodGet, "/api/activity", api.tokenB, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[struct{ Activity []activityJSON }](t, w).Activity)
}

func TestAutomationAndTriggers(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/automation", api.tokenA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"auto_create_on_booking":true`)

	w = api.do(t, http.MethodPatch, "/api/automation", api.tokenA, map[string]any{"stale_lead_days": 14})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"stale_lead_days":14`)
	assert.Contains(t, w.Body.String(), `"advance_on_quote_sent":true`)

	w = api.do(t, http.MethodPost, "/api/automation/triggers", api.tokenA, map[string]any{
		"kind":  "booking_created",
		"title": "Laddbox installation",
		"value": 12000,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[struct {
		Applied bool     `json:"applied"`
		Deal    dealJSON `json:"deal"`
	}](t, w)
	require.True(t, res.Applied)

	w = api.do(t, http.MethodPost, "/api/automation/triggers", api.tokenA, map[string]any{
		"kind":    "invoice_paid",
		"deal_id": res.Deal.ID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[struct{ Applied bool }](t, w).Applied)

	w = api.do(t, http.MethodGet, "/api/activity?triggered_by=automation", api.tokenA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct{ Activity []activityJSON }](t, w).Activity, 2)

	w = api.do(t, http.MethodPost, "/api/automation/triggers", api.tokenA, map[string]any{"kind": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStats(t *testing.T) {
	api := newTestAPI(t)
	for _, v := range []string{"100", "200", "300"} {
		w := api.do(t, http.MethodPost, "/api/deals", api.tokenA, map[string]any{"title": "D", "stage": "quoted", "value": v})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := api.do(t, http.MethodGet, "/api/stats", api.tokenA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[struct {
		TotalCount int    `json:"total_count"`
		TotalValue string `json:"total_value"`
		Stages     []struct {
			Slug  string `json:"slug"`
			Count int    `json:"count"`
			Value string `json:"value"`
		} `json:"stages"`
	}](t, w)
	assert.Equal(t, 3, stats.TotalCount)
	assert.Equal(t, "600", stats.TotalValue)
	for _, st := range stats.Stages {
		if st.Slug == "quoted" {
			assert.Equal(t, 3, st.Count)
			assert.Equal(t, "600", st.Value)
		}
	}
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, func(o *Options) {
		o.RateLimit = 0.001
		o.Burst = 2
	})
	for i := 0; i < 2; i++ {
		w := api.do(t, http.MethodGet, "/api/stages", api.tokenA, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := api.do(t, http.MethodGet, "/api/stages", api.tokenA, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", errorCode(t, w))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	w = api.do(t, http.MethodGet, "/api/stages", api.tokenB, nil)
	assert.Equal(t, http.StatusOK, w.Code, "buckets are per tenant")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{pipeline.ErrValidation, 400, "bad_request"},
		{pipeline.ErrUnknownStage, 400, "unknown_stage"},
		{pipeline.ErrCannotUndoCreation, 400, "cannot_undo_creation"},
		{pipeline.ErrNotFound, 404, "not_found"},
		{pipeline.ErrConflict, 409, "conflict"},
		{pipeline.ErrAlreadyUndone, 409, "already_undone"},
		{pipeline.ErrNotLatest, 409, "not_latest"},
		{fmt.Errorf("%w: db down", pipeline.ErrStoreUnavailable), 500, "internal_error"},
		{errors.New("boom"), 500, "internal_error"},
	}
	for _, tt := range tests {
		status, code := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestActivityStream(t *testing.T) {
	api := newTestAPI(t)
	ts := httptest.NewServer(api.handler)
	defer ts.Close()

	w := api.do(t, http.MethodPost, "/api/deals", api.tokenA, map[string]any{"title": "Streamed"})
	require.Equal(t, http.StatusCreated, w.Code)
	api.do(t, http.MethodPost, "/api/deals", api.tokenB, map[string]any{"title": "Other tenant"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := ts.URL + "/api/activity/stream?since=" + clockStart.Format(time.RFC3339)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+api.tokenA)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	var data []string
	scanner := bufio.NewScanner(resp.Body)
	for len(data) < 1 && scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: ") && len(events) > 0 && events[len(events)-1] == "activity":
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	cancel()

	require.Len(t, data, 1)
	assert.Equal(t, "connected", events[0])
	assert.Contains(t, data[0], `"type":"deal_created"`)
	assert.Contains(t, data[0], `"tenant_id":"tenant-a"`)
}

func TestStreamCursor_Dedupes(t *testing.T) {
	t0 := clockStart
	view := func(id string, at time.Time) pipeline.ActivityView {
		v := pipeline.ActivityView{}
		v.ID = id
		v.CreatedAt = at
		return v
	}
	c := &streamCursor{since: t0, seen: map[string]bool{}}

	// newest first, as ListActivity returns them
	got := c.advance([]pipeline.ActivityView{view("b", t0.Add(time.Second)), view("a", t0)})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	got = c.advance([]pipeline.ActivityView{view("c", t0.Add(time.Second)), view("b", t0.Add(time.Second))})
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, t0.Add(time.Second), c.since)

	assert.Empty(t, c.advance(nil))
}
