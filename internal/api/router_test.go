package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatpulse/internal/api/handlers"
	apimiddleware "threatpulse/internal/api/middleware"
	"threatpulse/internal/config"
	"threatpulse/internal/domain/models"
	"threatpulse/internal/domain/services"
	"threatpulse/internal/infrastructure/store"
	"threatpulse/internal/sources"
	"threatpulse/pkg/logger"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fakeSnapshots struct {
	current *models.AggregateSnapshot
	refresh services.RefreshResult
	err     error
	calls   int
}

func (f *fakeSnapshots) Current() *models.AggregateSnapshot { return f.current }

func (f *fakeSnapshots) Refresh(context.Context) (services.RefreshResult, error) {
	f.calls++
	return f.refresh, f.err
}

func testSnapshot() *models.AggregateSnapshot {
	snap := models.NewEmptySnapshot(testNow)
	snap.ID = "snap-1"
	snap.Status = models.SnapshotStatusOK
	snap.TotalThreats = 1
	snap.TopThreats = []models.ThreatRecord{{Indicator: "1.2.3.4", Type: models.IndicatorTypeIP, RiskScore: 80, Severity: models.SeverityCritical}}
	snap.Sources["abuseipdb"] = models.SourceStatus{
		Name:    "AbuseIPDB",
		Status:  models.FeedStatusOK,
		Count:   1,
		Threats: []models.RawThreatRecord{{Indicator: "1.2.3.4"}},
	}
	return snap
}

type testEnv struct {
	handler   http.Handler
	snapshots *fakeSnapshots
	lists     *store.ListStore
	history   *store.HistoryStore
}

func newTestEnv(t *testing.T, mutationsPerMinute, importsPerMinute int) *testEnv {
	t.Helper()
	log := logger.NewNop()
	dir := t.TempDir()

	cfg, err := config.LoadDefault()
	require.NoError(t, err)
	cfg.RateLimit.ListMutationsPerMinute = mutationsPerMinute
	cfg.RateLimit.BulkImportsPerMinute = importsPerMinute

	snaps := &fakeSnapshots{current: testSnapshot()}
	lists := store.NewListStore(dir, log)
	history := store.NewHistoryStore(dir, cfg.History, func() time.Time { return testNow }, log)
	reg := sources.NewRegistry(log)

	limiter, err := apimiddleware.NewLocalLimiter(100)
	require.NoError(t, err)

	h := handlers.NewHandlers(handlers.Dependencies{
		Snapshots: snaps,
		History:   history,
		Lists:     lists,
		Registry:  reg,
		Checks: []handlers.ReadinessCheck{
			{Name: "store", Check: func(context.Context) error { return nil }},
		},
		Version: "test",
		Logger:  log,
	})

	return &testEnv{
		handler:   NewRouter(*cfg, h, nil, limiter, log).Setup(),
		snapshots: snaps,
		lists:     lists,
		history:   history,
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestRouter_CurrentSnapshotIsPublic(t *testing.T) {
	env := newTestEnv(t, 10, 5)

	rec := env.do(http.MethodGet, "/api/v1/threats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	snap := decode[models.AggregateSnapshot](t, rec)
	assert.Equal(t, "snap-1", snap.ID)
	require.Len(t, snap.TopThreats, 1)
	assert.Nil(t, snap.Sources["abuseipdb"].Threats)
	assert.Equal(t, 1, snap.Sources["abuseipdb"].Count)
}

func TestRouter_Refresh(t *testing.T) {
	env := newTestEnv(t, 10, 5)

	env.snapshots.refresh = services.RefreshResult{Snapshot: testSnapshot()}
	rec := env.do(http.MethodPost, "/api/v1/threats/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	res := decode[services.RefreshResult](t, rec)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "snap-1", res.Snapshot.ID)

	env.snapshots.refresh = services.RefreshResult{Snapshot: testSnapshot(), TimedOut: true}
	rec = env.do(http.MethodPost, "/api/v1/threats/refresh", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, decode[services.RefreshResult](t, rec).TimedOut)

	env.snapshots.err = services.ErrDistributorStopped
	rec = env.do(http.MethodPost, "/api/v1/threats/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_HistoryEndpoints(t *testing.T) {
	env := newTestEnv(t, 10, 5)
	snap := testSnapshot()
	snap.ByCountry["RU"] = 4
	require.NoError(t, env.history.Append(snap))

	rec := env.do(http.MethodGet, "/api/v1/threats/timeline?days=500", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Days     int                    `json:"days"`
		Timeline []models.TimelinePoint `json:"timeline"`
	}](t, rec)
	assert.Equal(t, 30, body.Days)
	require.Len(t, body.Timeline, 1)
	assert.Equal(t, "2026-10-14", body.Timeline[0].Date)

	rec = env.do(http.MethodGet, "/api/v1/threats/country-trends", "")
	require.Equal(t, http.StatusOK, rec.Code)
	trends := decode[struct {
		Trends []models.CountryTrendPoint `json:"trends"`
	}](t, rec)
	require.Len(t, trends.Trends, 1)
	assert.Equal(t, 4, trends.Trends[0].ByCountry["RU"])

	rec = env.do(http.MethodGet, "/api/v1/threats/timeline?days=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_ListLifecycle(t *testing.T) {
	env := newTestEnv(t, 10, 5)

	rec := env.do(http.MethodPost, "/api/v1/lists/whitelist", `{"indicator":"good.example.com"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/lists/whitelist", `{"indicator":"good.example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	res := decode[models.ListMutationResult](t, rec)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 1, res.Size)

	rec = env.do(http.MethodGet, "/api/v1/lists", "")
	require.Equal(t, http.StatusOK, rec.Code)
	lists := decode[models.ThreatLists](t, rec)
	assert.Equal(t, []string{"good.example.com"}, lists.Whitelist)
	assert.Empty(t, lists.Blacklist)

	rec = env.do(http.MethodDelete, "/api/v1/lists/blacklist/1.2.3.4", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodDelete, "/api/v1/lists/whitelist/good.example.com", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, env.lists.Size(models.ListWhitelist))

	rec = env.do(http.MethodPost, "/api/v1/lists/blacklist/import", `{"indicators":["1.1.1.1","2.2.2.2","1.1.1.1"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	res = decode[models.ListMutationResult](t, rec)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.Skipped)

	rec = env.do(http.MethodDelete, "/api/v1/lists/blacklist/"+"http:%2F%2Fevil.com%2Fx", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_ListValidation(t *testing.T) {
	env := newTestEnv(t, 10, 5)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown list", http.MethodPost, "/api/v1/lists/greylist", `{"indicator":"x"}`, http.StatusNotFound},
		{"malformed body", http.MethodPost, "/api/v1/lists/whitelist", `{`, http.StatusBadRequest},
		{"empty indicator", http.MethodPost, "/api/v1/lists/whitelist", `{"indicator":""}`, http.StatusBadRequest},
		{"too long", http.MethodPost, "/api/v1/lists/whitelist", `{"indicator":"` + strings.Repeat("a", 501) + `"}`, http.StatusBadRequest},
		{"empty import", http.MethodPost, "/api/v1/lists/whitelist/import", `{"indicators":[]}`, http.StatusBadRequest},
		{"blank import entry", http.MethodPost, "/api/v1/lists/whitelist/import", `{"indicators":["ok",""]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestRouter_ListMutationsAreRateLimited(t *testing.T) {
	env := newTestEnv(t, 2, 1)

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodPost, "/api/v1/lists/blacklist", `{"indicator":"9.9.9.9"}`)
		assert.Less(t, rec.Code, 300)
	}
	rec := env.do(http.MethodPost, "/api/v1/lists/blacklist", `{"indicator":"9.9.9.9"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// bulk imports use their own budget
	rec = env.do(http.MethodPost, "/api/v1/lists/blacklist/import", `{"indicators":["8.8.8.8"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodPost, "/api/v1/lists/blacklist/import", `{"indicators":["7.7.7.7"]}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// reads are never limited
	rec = env.do(http.MethodGet, "/api/v1/lists", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_SourcesAndHealth(t *testing.T) {
	env := newTestEnv(t, 10, 5)

	rec := env.do(http.MethodGet, "/api/v1/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"snapshot_id":"snap-1"`)

	rec = env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	ready := decode[handlers.HealthResponse](t, rec)
	assert.Equal(t, "healthy", ready.Checks["store"])

	rec = env.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
