package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/currency"

	"marketplace-dashboard/internal/config"
	"marketplace-dashboard/internal/models"
	"marketplace-dashboard/internal/server"
	"marketplace-dashboard/internal/services"
)

func createTestServer(t *testing.T) *server.Server {
	t.Helper()

	approved := time.Date(2023, 1, 15, 10, 0, 0, 0, time.UTC)
	analytics := services.NewAnalytics(currency.BRL)
	analytics.SetData(
		[]models.Order{
			{
				OrderID: "O1", OrderItemID: 1, Category: "toys",
				PaymentValue: 10, ReviewScore: 5,
				PurchasedAt: approved.Add(-24 * time.Hour), ApprovedAt: approved,
				CustomerState: "SP", CustomerCity: "sao paulo", PaymentType: "credit_card",
			},
		},
		[]models.GeoPoint{{ZipPrefix: 1001, Point: [2]float64{-46.63, -23.55}}},
	)

	dashboard := config.DashboardConfig{CurrencyCode: "BRL", HistogramBins: 20, RankingSize: 5}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	templateHandlers := &server.TemplateHandlers{Dashboard: handleDashboard}

	return server.NewServer(analytics, dashboard, logger, templateHandlers)
}

func TestRoutes(t *testing.T) {
	srv := createTestServer(t)

	paths := []string{
		"/health",
		"/admin/stats",
		"/api/meta",
		"/api/summary",
		"/api/daily-orders",
		"/api/category-sales",
		"/api/review-scores",
		"/api/delivery-times",
		"/api/demographics",
		"/api/correlation",
		"/api/geolocation",
	}

	for _, path := range paths {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("GET %s: status = %d, want 200", path, w.Code)
		}
	}
}

func TestAPIEnvelope(t *testing.T) {
	srv := createTestServer(t)

	req := httptest.NewRequest("GET", "/api/summary", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var envelope struct {
		Data    models.MetricSummary `json:"data"`
		Success bool                 `json:"success"`
	}
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !envelope.Success {
		t.Error("expected success=true")
	}
	if envelope.Data.OrderCount != 1 {
		t.Errorf("order_count = %d, want 1", envelope.Data.OrderCount)
	}
	if !strings.Contains(envelope.Data.FormattedRevenue, "R$") {
		t.Errorf("formatted revenue %q missing currency symbol", envelope.Data.FormattedRevenue)
	}
}

func TestDashboardPage(t *testing.T) {
	srv := createTestServer(t)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"summary-content", "daily-content", "datastar"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if cc := w.Header().Get("Cache-Control"); cc != cacheMaxAge {
		t.Errorf("Cache-Control = %q, want %q", cc, cacheMaxAge)
	}
}

func TestSSERoutes(t *testing.T) {
	srv := createTestServer(t)

	for _, path := range []string{"/sse/summary", "/sse/daily-orders", "/sse/refresh-all"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)

		if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
			t.Errorf("GET %s: Content-Type = %q, want text/event-stream", path, ct)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := createTestServer(t)

	req := httptest.NewRequest("POST", "/api/summary", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
