package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketplace-dashboard/internal/config"
	"marketplace-dashboard/internal/errors"
	"marketplace-dashboard/internal/models"
	"marketplace-dashboard/internal/observability"
	"marketplace-dashboard/internal/services"
)

const dateLayout = "2006-01-02"

type APIHandlers struct {
	analytics *services.Analytics
	dashboard config.DashboardConfig
	logger    *slog.Logger
}

func NewAPIHandlers(analytics *services.Analytics, dashboard config.DashboardConfig, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		analytics: analytics,
		dashboard: dashboard,
		logger:    logger,
	}
}

// dateRange resolves the start/end query parameters against the dataset's
// approval-date bounds. The aggregation core does not validate ranges, so
// an inverted range is rejected here.
func (h *APIHandlers) dateRange(r *http.Request) (time.Time, time.Time, *errors.AppError) {
	return parseDateRange(h.analytics.Meta(), r)
}

func parseDateRange(meta models.DatasetMeta, r *http.Request) (start, end time.Time, appErr *errors.AppError) {
	start, end = meta.MinApprovedAt, meta.MaxApprovedAt

	q := r.URL.Query()
	if s := q.Get("start"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return start, end, errors.BadRequestWrap(err, "invalid start date, expected YYYY-MM-DD")
		}
		start = t
	}
	if s := q.Get("end"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return start, end, errors.BadRequestWrap(err, "invalid end date, expected YYYY-MM-DD")
		}
		// The end date is inclusive through its last instant.
		end = t.Add(24*time.Hour - time.Nanosecond)
	}

	if end.Before(start) {
		return start, end, errors.BadRequest("start date must not be after end date")
	}
	return start, end, nil
}

func categoriesParam(r *http.Request) []string {
	raw := r.URL.Query().Get("categories")
	if raw == "" {
		return nil
	}
	var categories []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}
	return categories
}

func (h *APIHandlers) writeError(w http.ResponseWriter, r *http.Request, appErr *errors.AppError) {
	errors.WriteError(w, h.logger, appErr, observability.GetRequestID(r.Context()))
}

func writeCached(w http.ResponseWriter, data any) {
	errors.WriteSuccessWithHeaders(w, data, map[string]string{
		"Cache-Control": "public, max-age=300",
	})
}

func (h *APIHandlers) HandleMeta(w http.ResponseWriter, r *http.Request) {
	writeCached(w, h.analytics.Meta())
}

func (h *APIHandlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	start, end, appErr := h.dateRange(r)
	if appErr != nil {
		h.writeError(w, r, appErr)
		return
	}

	writeCached(w, h.analytics.Summary(start, end, categoriesParam(r)))
}

func (h *APIHandlers) HandleDailyOrders(w http.ResponseWriter, r *http.Request) {
	start, end, appErr := h.dateRange(r)
	if appErr != nil {
		h.writeError(w, r, appErr)
		return
	}

	writeCached(w, h.analytics.Daily(start, end))
}

func (h *APIHandlers) HandleCategorySales(w http.ResponseWriter, r *http.Request) {
	start, end, appErr := h.dateRange(r)
	if appErr != nil {
		h.writeError(w, r, appErr)
		return
	}

	limit := h.dashboard.RankingSize
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeError(w, r, errors.BadRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}

	writeCached(w, h.analytics.Categories(start, end, limit))
}

func (h *APIHandlers) HandleReviewScores(w http.ResponseWriter, r *http.Request) {
	start, end, appErr := h.dateRange(r)
	if appErr != nil {
		h.writeError(w, r, appErr)
		return
	}

	writeCached(w, h.analytics.ReviewScores(start, end))
}

func (h *APIHandlers) HandleDeliveryTimes(w http.ResponseWriter, r *http.Request) {
	start, end, appErr := h.dateRange(r)
	if appErr != nil {
		h.writeError(w, r, appErr)
		return
	}

	bins := h.dashboard.HistogramBins
	if s := r.URL.Query().Get("bins"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeError(w, r, errors.BadRequest("bins must be a positive integer"))
			return
		}
		bins = n
	}

	writeCached(w, h.analytics.DeliveryTimes(start, end, bins))
}

func (h *APIHandlers) HandleDemographics(w http.ResponseWriter, r *http.Request) {
	start, end, appErr := h.dateRange(r)
	if appErr != nil {
		h.writeError(w, r, appErr)
		return
	}

	writeCached(w, h.analytics.Demographics(start, end))
}

func (h *APIHandlers) HandleCorrelation(w http.ResponseWriter, r *http.Request) {
	start, end, appErr := h.dateRange(r)
	if appErr != nil {
		h.writeError(w, r, appErr)
		return
	}

	threshold := 0.0
	if s := r.URL.Query().Get("threshold"); s != "" {
		t, err := strconv.ParseFloat(s, 64)
		if err != nil || t < -1 || t > 1 {
			h.writeError(w, r, errors.BadRequest("threshold must be a number between -1 and 1"))
			return
		}
		threshold = t
	}

	writeCached(w, h.analytics.Correlation(start, end, threshold))
}

func (h *APIHandlers) HandleGeolocation(w http.ResponseWriter, r *http.Request) {
	meta := h.analytics.Meta()
	lo, hi := meta.MinZipPrefix, meta.MaxZipPrefix

	q := r.URL.Query()
	if s := q.Get("min_zip"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, r, errors.BadRequest("min_zip must be an integer"))
			return
		}
		lo = n
	}
	if s := q.Get("max_zip"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, r, errors.BadRequest("max_zip must be an integer"))
			return
		}
		hi = n
	}
	if lo > hi {
		h.writeError(w, r, errors.BadRequest("min_zip must not exceed max_zip"))
		return
	}

	writeCached(w, h.analytics.Geolocation(lo, hi))
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	errors.WriteSuccess(w, healthData)
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccess(w, h.analytics.Stats())
}
