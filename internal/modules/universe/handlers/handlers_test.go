package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/recommender/internal/modules/universe"
	testingpkg "github.com/aristath/recommender/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) chi.Router {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "history")
	t.Cleanup(cleanup)

	log := zerolog.Nop()
	securities := universe.NewSecurityRepository(db.Conn(), log)
	history := universe.NewHistoryDB(db.Conn(), log)
	market := universe.NewMarketData(securities, history, log)

	ctx := context.Background()
	require.NoError(t, securities.Upsert(ctx, []universe.Security{
		{Symbol: "AAPL", Sector: "IT"},
		{Symbol: "KO", Sector: "Food & Beverages"},
	}))
	series := testingpkg.GeneratePrices([]string{"AAPL", "KO"}, 40, 7)
	for symbol, closes := range series.Closes {
		prices := make([]universe.DailyPrice, len(closes))
		for i, c := range closes {
			prices[i] = universe.DailyPrice{Date: series.Dates[i], Close: c}
		}
		require.NoError(t, history.SyncPrices(ctx, symbol, prices))
	}

	handler := NewHandler(
		universe.NewService(securities, history, market, log),
		ProfileDefaults{Lookback: 30, PeriodsPerYear: 252, RiskFreeRate: 0.04},
		log,
	)
	router := chi.NewRouter()
	router.Route("/api", handler.RegisterRoutes)
	return router
}

func TestHandleGetUniverse(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/universe/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []universe.Security `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, "AAPL", body.Data[0].Symbol)
}

func TestHandleGetStats(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/universe/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data universe.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Data.TotalSymbols)
	assert.Equal(t, int64(80), body.Data.PriceRows)
}

func TestHandleGetReturns(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/universe/returns?lookback=20", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []universe.ReturnProfile `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, 20, body.Data[0].Observations)

	req = httptest.NewRequest(http.MethodGet, "/api/universe/returns?lookback=-1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
