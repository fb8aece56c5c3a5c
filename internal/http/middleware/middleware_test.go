package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/usd-asset-library/backend/internal/observability"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/pkg/reqctx"
)

func TestRequestContextEchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestContext())
	var seen reqctx.Meta
	var ok bool
	r.GET("/x", func(c *gin.Context) {
		seen, ok = reqctx.From(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if !ok || seen.RequestID != "req-1" {
		t.Fatalf("request meta not attached: %+v", seen)
	}
	if rec.Header().Get("X-Request-Id") != "req-1" {
		t.Fatalf("request id not echoed: %q", rec.Header().Get("X-Request-Id"))
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Header().Get("X-Request-Id") == "" || seen.RequestID != rec.Header().Get("X-Request-Id") {
		t.Fatalf("generated request id not echoed: header=%q seen=%q", rec.Header().Get("X-Request-Id"), seen.RequestID)
	}
}

func TestMetricsAndRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	m := observability.NewMetrics()
	r := gin.New()
	r.Use(RequestLogger(log), Metrics(m))
	r.GET("/api/assets/:name", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/assets/chair", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
	n, err := testutil.GatherAndCount(m.Registry(), "assetlib_api_requests_total")
	if err != nil || n != 1 {
		t.Fatalf("expected one request series, got %d err=%v", n, err)
	}
}
