package handlers

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/starfederation/datastar-go/datastar"

	"marketplace-dashboard/internal/config"
	"marketplace-dashboard/internal/models"
	"marketplace-dashboard/internal/services"
)

var summaryTemplate = template.Must(template.New("summary").Parse(`
<div id="summary-content">
<div class="metric-cards">
<div class="metric"><span class="metric-label">Orders</span><strong>{{.OrderCount}}</strong></div>
<div class="metric"><span class="metric-label">Revenue</span><strong>{{.Revenue}}</strong></div>
<div class="metric"><span class="metric-label">Mean Review</span><strong>{{.MeanReview}}</strong></div>
</div>
</div>`))

type SSEHandlers struct {
	analytics *services.Analytics
	dashboard config.DashboardConfig
	logger    *slog.Logger
}

func NewSSEHandlers(analytics *services.Analytics, dashboard config.DashboardConfig, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		analytics: analytics,
		dashboard: dashboard,
		logger:    logger,
	}
}

type summaryView struct {
	OrderCount int
	Revenue    string
	MeanReview string
}

// renderSummary turns the metric set into the header fragment. A nil mean
// review renders as "n/a" rather than zero.
func (h *SSEHandlers) renderSummary(summary models.MetricSummary) (string, error) {
	view := summaryView{
		OrderCount: summary.OrderCount,
		Revenue:    summary.FormattedRevenue,
		MeanReview: "n/a",
	}
	if summary.MeanReview != nil {
		view.MeanReview = strconv.FormatFloat(*summary.MeanReview, 'f', 2, 64)
	}

	var buf strings.Builder
	err := summaryTemplate.Execute(&buf, view)
	return buf.String(), err
}

func (h *SSEHandlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	start, end, appErr := parseDateRange(h.analytics.Meta(), r)
	if appErr != nil {
		h.logger.Warn("sse summary rejected", "error", appErr)
		return
	}

	summary := h.analytics.Summary(start, end, categoriesParam(r))
	html, err := h.renderSummary(summary)
	if err != nil {
		h.logger.Error("render summary", "error", err)
		return
	}

	sse.PatchElements(html)

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *SSEHandlers) HandleDailyOrders(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	start, end, appErr := parseDateRange(h.analytics.Meta(), r)
	if appErr != nil {
		h.logger.Warn("sse daily orders rejected", "error", appErr)
		return
	}

	series := h.analytics.Daily(start, end)
	jsonData, err := json.Marshal(map[string]any{
		"dailyData": series,
	})
	if err != nil {
		h.logger.Error("marshal daily data", "error", err)
		return
	}
	sse.PatchSignals(jsonData)

	sse.PatchElements(`<div id="daily-content">Daily orders chart data loaded</div>`)

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *SSEHandlers) HandleRefreshAll(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	start, end, appErr := parseDateRange(h.analytics.Meta(), r)
	if appErr != nil {
		h.logger.Warn("sse refresh rejected", "error", appErr)
		return
	}

	summary := h.analytics.Summary(start, end, categoriesParam(r))
	html, err := h.renderSummary(summary)
	if err != nil {
		h.logger.Error("render summary", "error", err)
		return
	}
	sse.PatchElements(html)

	allSignals, err := json.Marshal(map[string]any{
		"dailyData":        h.analytics.Daily(start, end),
		"categoryData":     h.analytics.Categories(start, end, h.dashboard.RankingSize),
		"reviewData":       h.analytics.ReviewScores(start, end),
		"demographicsData": h.analytics.Demographics(start, end),
	})
	if err != nil {
		h.logger.Error("marshal refresh signals", "error", err)
		return
	}
	sse.PatchSignals(allSignals)

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
