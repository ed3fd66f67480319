package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestCollector_InstrumentHandlerUsesRoutePattern(t *testing.T) {
	collector, err := NewCollector()
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Use(collector.InstrumentHandler)
	router.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	for _, path := range []string{"/items/1", "/items/2"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusAccepted, rr.Code)
	}

	body := scrape(t, collector)
	assert.Contains(t, body, `recommender_http_requests_total{method="GET",route="/items/{id}",status="202"} 2`)
	assert.Contains(t, body, `recommender_http_request_duration_seconds_count{method="GET",route="/items/{id}",status="202"} 2`)
}

func TestCollector_RecordOptimization(t *testing.T) {
	collector, err := NewCollector()
	require.NoError(t, err)

	collector.RecordOptimization("low", "ok", []string{"volatility_band_relaxed"}, 20*time.Millisecond)
	collector.RecordOptimization("low", "ok", nil, 10*time.Millisecond)
	collector.RecordOptimization("high", "Infeasible", nil, time.Millisecond)

	body := scrape(t, collector)
	assert.Contains(t, body, `recommender_optimizer_optimizations_total{outcome="ok",tier="low"} 2`)
	assert.Contains(t, body, `recommender_optimizer_optimizations_total{outcome="Infeasible",tier="high"} 1`)
	assert.Contains(t, body, `recommender_optimizer_backoff_steps_total{step="volatility_band_relaxed"} 1`)
	assert.Contains(t, body, `recommender_optimizer_solve_duration_seconds_count{tier="low"} 2`)
}
