package server

import (
	"log/slog"
	"net/http"

	"marketplace-dashboard/internal/config"
	"marketplace-dashboard/internal/handlers"
	"marketplace-dashboard/internal/services"
)

type Server struct {
	analytics   *services.Analytics
	mux         *http.ServeMux
	logger      *slog.Logger
	apiHandlers *handlers.APIHandlers
	sseHandlers *handlers.SSEHandlers
}

type TemplateHandlers struct {
	Dashboard http.HandlerFunc
}

func NewServer(analytics *services.Analytics, dashboard config.DashboardConfig, logger *slog.Logger, templateHandlers *TemplateHandlers) *Server {
	s := &Server{
		analytics:   analytics,
		mux:         http.NewServeMux(),
		logger:      logger,
		apiHandlers: handlers.NewAPIHandlers(analytics, dashboard, logger),
		sseHandlers: handlers.NewSSEHandlers(analytics, dashboard, logger),
	}
	s.setupRoutes(templateHandlers)
	return s
}

func (s *Server) setupRoutes(templateHandlers *TemplateHandlers) {
	// Dashboard routes
	s.mux.HandleFunc("GET /", templateHandlers.Dashboard)
	s.mux.HandleFunc("GET /health", s.apiHandlers.HandleHealth)
	s.mux.HandleFunc("GET /admin/stats", s.apiHandlers.HandleStats)

	// REST API endpoints
	s.mux.HandleFunc("GET /api/meta", s.apiHandlers.HandleMeta)
	s.mux.HandleFunc("GET /api/summary", s.apiHandlers.HandleSummary)
	s.mux.HandleFunc("GET /api/daily-orders", s.apiHandlers.HandleDailyOrders)
	s.mux.HandleFunc("GET /api/category-sales", s.apiHandlers.HandleCategorySales)
	s.mux.HandleFunc("GET /api/review-scores", s.apiHandlers.HandleReviewScores)
	s.mux.HandleFunc("GET /api/delivery-times", s.apiHandlers.HandleDeliveryTimes)
	s.mux.HandleFunc("GET /api/demographics", s.apiHandlers.HandleDemographics)
	s.mux.HandleFunc("GET /api/correlation", s.apiHandlers.HandleCorrelation)
	s.mux.HandleFunc("GET /api/geolocation", s.apiHandlers.HandleGeolocation)

	// Datastar SSE endpoints
	s.mux.HandleFunc("GET /sse/summary", s.sseHandlers.HandleSummary)
	s.mux.HandleFunc("GET /sse/daily-orders", s.sseHandlers.HandleDailyOrders)
	s.mux.HandleFunc("GET /sse/refresh-all", s.sseHandlers.HandleRefreshAll)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
