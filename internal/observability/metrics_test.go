package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.Stock().ObserveMovement("IN", 5)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "odyssey_stock_movements_total") {
		t.Fatalf("expected body to contain odyssey_stock_movements_total, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestStockMetricsSplitsDirection(t *testing.T) {
	stock := NewMetrics().Stock()
	stock.ObserveMovement("IN", 10)
	stock.ObserveMovement("OUT", -4)
	stock.ObserveMovement("ADJUSTMENT", -2)
	stock.ObserveMovement("ADJUSTMENT", 0)
	stock.ObserveRejection("insufficient_stock")

	if got := testutil.ToFloat64(stock.units.WithLabelValues("in")); got != 10 {
		t.Fatalf("in units = %v", got)
	}
	if got := testutil.ToFloat64(stock.units.WithLabelValues("out")); got != 6 {
		t.Fatalf("out units = %v", got)
	}
	if got := testutil.ToFloat64(stock.movements.WithLabelValues("ADJUSTMENT")); got != 2 {
		t.Fatalf("adjustments = %v", got)
	}
	if got := testutil.ToFloat64(stock.rejections.WithLabelValues("insufficient_stock")); got != 1 {
		t.Fatalf("rejections = %v", got)
	}

	var nilMetrics *StockMetrics
	nilMetrics.ObserveMovement("IN", 1)
	nilMetrics.ObserveRejection("x")
}
