package api

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/celebrum-netinfer/internal/api/handlers"
	"github.com/irfndi/celebrum-netinfer/internal/config"
	"github.com/irfndi/celebrum-netinfer/internal/metrics"
	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultAnalysisConfig()
	cfg.TimeHours = 0
	cfg.MaxLagSources = 2
	cfg.MaxLagTarget = 1
	cfg.NPermMaxStat = 10
	cfg.NPermMinStat = 10
	cfg.NPermOmnibus = 10

	reg := prometheus.NewRegistry()
	svc, err := services.NewNetworkAnalysisService(cfg, nil, metrics.NewPipelineMetrics(reg), nil, nil)
	require.NoError(t, err)

	return NewRouter(Dependencies{Runner: svc, Gatherer: reg})
}

// sineSet gives two series moving in lockstep plus one on its own.
func sineSet(n int) *models.SeriesSet {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	set := &models.SeriesSet{Values: map[string][]float64{}}
	for _, id := range []string{"AAA", "BBB", "CCC"} {
		set.Values[id] = make([]float64, n)
	}
	set.Timestamps = make([]time.Time, n)
	for i := 0; i < n; i++ {
		set.Timestamps[i] = t0.Add(time.Duration(i) * time.Hour)
		x := float64(i)
		set.Values["AAA"][i] = 100 + 5*math.Sin(x/3)
		set.Values["BBB"][i] = 50 + 2.5*math.Sin(x/3)
		set.Values["CCC"][i] = 20 + math.Cos(x*1.7)*math.Sin(x/11)
	}
	return set
}

func TestRoutes_Health(t *testing.T) {
	router := newTestRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not configured", resp.Services["database"])
}

func TestRoutes_AnalysisAndMetrics(t *testing.T) {
	router := newTestRouter(t)

	body, err := json.Marshal(handlers.AnalysisRequest{Series: sineSet(120)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report models.AnalysisReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 3, report.Summary.TotalAssets)
	require.NotEmpty(t, report.CorrelationPairs)
	assert.Equal(t, "AAA", report.CorrelationPairs[0].Asset1)
	assert.Equal(t, "BBB", report.CorrelationPairs[0].Asset2)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `netinfer_runs_total{status="ok"} 1`)
}

func TestRoutes_RunWithoutStorage(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis/run", bytes.NewBufferString(`{"symbols":["A","B"]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
