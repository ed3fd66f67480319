package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/recommender/internal/config"
	"github.com/aristath/recommender/internal/di"
	testingpkg "github.com/aristath/recommender/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) (*Server, *di.Container) {
	t.Helper()

	cfg := &config.Config{
		DataDir:                    t.TempDir(),
		Port:                       8080,
		DevMode:                    true,
		RiskFreeRate:               0.02,
		LookbackPeriods:            252,
		PeriodsPerYear:             252,
		MinObservations:            30,
		CoverageThreshold:          0.95,
		CovarianceEstimator:        config.EstimatorSample,
		SolverMaxIterations:        5000,
		DiversificationFloorWeight: 0.02,
		CacheTTL:                   time.Hour,
		CleanupSchedule:            "0 0 * * * *",
	}
	cfg.UniverseSource, cfg.PricesSource = testingpkg.WriteSnapshots(t, t.TempDir(), testingpkg.NewSecurityFixtures(), 300, 42)

	container, err := di.Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	require.NoError(t, container.Jobs.Import.Run())

	return New(Config{Log: zerolog.Nop(), Config: cfg, Container: container}), container
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	s, _ := setupServer(t)

	w := serve(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "recommender", body["service"])
}

func TestOptimizeRecordsMetrics(t *testing.T) {
	s, _ := setupServer(t)

	w := serve(s, http.MethodPost, "/api/optimizer/optimize", `{"risk_tier": "medium", "horizon_years": 5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(s, http.MethodPost, "/api/optimizer/optimize", `{"risk_tier": "reckless", "horizon_years": 5}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `recommender_http_requests_total{method="POST",route="/api/optimizer/optimize",status="200"} 1`)
	assert.Contains(t, body, `recommender_http_requests_total{method="POST",route="/api/optimizer/optimize",status="400"} 1`)
	assert.Contains(t, body, `recommender_optimizer_optimizations_total{outcome="ok",tier="medium"} 1`)
	assert.Contains(t, body, `recommender_optimizer_optimizations_total{outcome="InvalidInput",tier="unknown"} 1`)
}

func TestUniverseRoutesMounted(t *testing.T) {
	s, _ := setupServer(t)

	w := serve(s, http.MethodGet, "/api/universe/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			TotalSymbols int `json:"total_symbols"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 22, body.Data.TotalSymbols)
}

func TestHandleSystemStatus(t *testing.T) {
	s, _ := setupServer(t)

	w := serve(s, http.MethodGet, "/api/system/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body SystemStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	require.Len(t, body.Databases, 2)
	assert.Equal(t, "history", body.Databases[0].Name)
	assert.True(t, body.Databases[0].Healthy)
	assert.Greater(t, body.Databases[0].PageCount, int64(0))
	require.NotNil(t, body.Universe)
	assert.Equal(t, 22, body.Universe.TotalSymbols)
	assert.Equal(t, 2, body.ScheduledJobs)
}

func TestHandleListJobs(t *testing.T) {
	s, _ := setupServer(t)

	w := serve(s, http.MethodGet, "/api/system/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Jobs []JobInfo `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []JobInfo{
		{Name: "import_market_data"},
		{Name: "warm_statistics"},
		{Name: "calculation_cache_cleanup"},
		{Name: "check_databases"},
	}, body.Jobs)
}

func TestHandleTriggerJob(t *testing.T) {
	s, container := setupServer(t)

	w := serve(s, http.MethodPost, "/api/system/jobs/warm_statistics", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "warm_statistics", body["job"])
	assert.Equal(t, 1, container.StatisticsCache.Len())

	w = serve(s, http.MethodPost, "/api/system/jobs/sync_cycle", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s, http.MethodGet, "/api/system/jobs/warm_statistics", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/optimizer/optimize", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}
