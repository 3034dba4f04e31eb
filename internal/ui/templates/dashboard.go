package templates

import (
	"context"
	"html/template"
	"io"

	"github.com/a-h/templ"
)

var page = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8"/>
<meta name="viewport" content="width=device-width, initial-scale=1"/>
<title>Marketplace Dashboard</title>
<script type="module" src="https://cdn.jsdelivr.net/gh/starfederation/datastar@main/bundles/datastar.js"></script>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; background: #f6f7fb; }
h1 { color: #2c3a5c; }
.panel { background: #fff; border-radius: 8px; padding: 1.5rem; margin-bottom: 1.5rem; box-shadow: 0 1px 3px rgba(0,0,0,.08); }
.metric-cards { display: flex; gap: 2rem; }
.metric { display: flex; flex-direction: column; }
.metric-label { color: #6b7280; font-size: .85rem; }
.metric strong { font-size: 1.6rem; color: #577fd7; }
</style>
</head>
<body data-signals="{dailyData: [], categoryData: {}, reviewData: [], demographicsData: {}}"
      data-on-load="@get('/sse/refresh-all')">
<h1>Marketplace Dashboard</h1>
<div class="panel" id="summary-content">Loading metrics…</div>
<div class="panel" id="daily-content">Loading daily orders…</div>
<div class="panel" id="category-content" data-text="JSON.stringify($categoryData)">Loading category ranking…</div>
<div class="panel" id="review-content" data-text="JSON.stringify($reviewData)">Loading review scores…</div>
<div class="panel" id="demographics-content" data-text="JSON.stringify($demographicsData)">Loading demographics…</div>
</body>
</html>`))

// Dashboard is the reactive page shell. All data arrives through the SSE
// endpoints after load.
func Dashboard() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return page.Execute(w, nil)
	})
}
