package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant/backtest"
)

func TestObserve(t *testing.T) {
	m := New(nil)

	m.ObserveRun("single", "completed", 20*time.Millisecond)
	m.ObserveRun("single", "completed", 30*time.Millisecond)
	m.ObserveRun("single", "failed", time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("single", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("single", "failed")))

	m.ObserveRejections([]backtest.Rejection{
		{Reason: backtest.RejectT1},
		{Reason: backtest.RejectT1},
		{Reason: backtest.RejectInsufficientCash},
	})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RejectionsTotal.WithLabelValues("t1_restricted")))

	m.ObserveOptimize(&backtest.OptimizeResult{Successful: 3, Skipped: 1})
	m.ObserveOptimize(nil)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CombinationsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CombinationsTotal.WithLabelValues("skipped")))
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.ObserveHTTP(http.MethodGet, "/health", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `quant_http_requests_total{method="GET",route="/health",status="200"} 1`), body)
}
