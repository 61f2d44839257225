package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRPCCall("GetHealth", "success", "localnet", 0.01)
	m.RecordSmokeRun("Hip", "initialize", "success", "", 0.5)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "solana_rpc_calls_total")
	assert.Contains(t, names, "smoke_runs_total")
	assert.Contains(t, names, "smoke_run_duration_seconds")
}

func TestRecordHelpers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRPCCall("SendTransaction", "error", "localnet", 0.2)
	m.RecordRPCCall("SendTransaction", "error", "localnet", 0.3)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.solanaRPCCallsTotal.WithLabelValues("SendTransaction", "error", "localnet")))

	m.RecordRateLimitHit("devnet")
	m.RecordRPCRetry("GetLatestBlockhash", "rate_limit")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.solanaRPCRateLimitHits.WithLabelValues("devnet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.solanaRPCRetries.WithLabelValues("GetLatestBlockhash", "rate_limit")))

	m.RecordSmokeRun("Hip", "initialize", "failed", "connection", 1.5)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.smokeRunsTotal.WithLabelValues("Hip", "initialize", "failed", "connection")))

	m.RecordSmokeSuccess("Hip", 1700000000, 42)
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.smokeLastSuccessSeconds.WithLabelValues("Hip")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.smokeConfirmSlot.WithLabelValues("Hip")))

	m.RecordWorkflowDuration("Hip", "success", 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.smokeWorkflowExecutionsTotal.WithLabelValues("Hip", "success")))

	m.RecordDBQuery("insert", "smoke_runs", 0.01, nil)
	m.RecordDBQuery("insert", "smoke_runs", 0.01, errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("insert", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("insert", "error")))

	m.RecordNATSPublish("smoke.hip", "success", 0.001)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.natsMessagesPublished.WithLabelValues("smoke.hip", "success")))
}

func TestStatusCodeToString(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		204: "2xx",
		302: "3xx",
		404: "4xx",
		503: "5xx",
		0:   "unknown",
		999: "unknown",
	}
	for code, want := range tests {
		assert.Equal(t, want, statusCodeToString(code), code)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	h := HTTPMetricsMiddleware(m, "/api/v1/runs")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, target := range []string{"/api/v1/runs", "/api/v1/runs?fail=1"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/runs", "GET", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/runs", "GET", "4xx")))

	t.Run("nil metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		HTTPMetricsMiddleware(nil, "/health")(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
