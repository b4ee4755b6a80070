package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"dify-chat/internal/llm"
)

func TestRecorderCountsAttemptsAndOutcomes(t *testing.T) {
	var rec Recorder

	before503 := testutil.ToFloat64(chatAttemptsTotal.WithLabelValues("503"))
	beforeQuota := testutil.ToFloat64(chatOutcomesTotal.WithLabelValues("quota_exceeded"))
	beforeOK := testutil.ToFloat64(chatOutcomesTotal.WithLabelValues("ok"))

	rec.Attempt("503")
	rec.Attempt("503")
	rec.Outcome(llm.Failed(llm.CategoryQuotaExceeded, "", "", 1), time.Second)
	rec.Outcome(llm.Succeeded("a", "c", 1), time.Second)

	assert.Equal(t, before503+2, testutil.ToFloat64(chatAttemptsTotal.WithLabelValues("503")))
	assert.Equal(t, beforeQuota+1, testutil.ToFloat64(chatOutcomesTotal.WithLabelValues("quota_exceeded")))
	assert.Equal(t, beforeOK+1, testutil.ToFloat64(chatOutcomesTotal.WithLabelValues("ok")))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/sessions/{id}/messages", "418"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/abc/messages", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/sessions/{id}/messages", "418")))
	assert.Equal(t, float64(0), testutil.ToFloat64(httpRequestsInFlight))
}

func TestHandlerExposesMetrics(t *testing.T) {
	Recorder{}.Attempt("timeout")

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, MetricsPath, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chat_upstream_attempts_total")
}
