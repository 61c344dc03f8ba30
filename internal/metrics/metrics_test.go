package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "lumenguard_") {
		t.Error("expected lumenguard metrics in output")
	}
}

func TestAssessmentCounter(t *testing.T) {
	AssessmentsTotal.WithLabelValues("asset", "CRITICAL").Inc()

	var m dto.Metric
	if err := AssessmentsTotal.WithLabelValues("asset", "CRITICAL").Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Counter.GetValue() < 1 {
		t.Errorf("expected counter >= 1, got %f", m.Counter.GetValue())
	}
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/analyze/address/:address", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/analyze/address/GABC", nil)
	r.ServeHTTP(w, req)

	var m dto.Metric
	counter := HTTPRequestsTotal.WithLabelValues("GET", "/v1/analyze/address/:address", "2xx")
	if err := counter.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Counter.GetValue() < 1 {
		t.Error("middleware did not record the request")
	}
}
