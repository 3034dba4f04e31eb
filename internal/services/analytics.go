package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"marketplace-dashboard/internal/models"
)

const DefaultHistogramBins = 20

// Analytics holds the immutable dataset and answers every dashboard query
// by recomputing the summary from scratch. No derived table is cached:
// a filter-parameter change simply runs the pipeline again.
type Analytics struct {
	mu     sync.RWMutex
	ds     *Dataset
	cur    currency.Unit
	logger *slog.Logger
}

func NewAnalytics(cur currency.Unit) *Analytics {
	return &Analytics{
		ds:     NewDataset(nil, nil),
		cur:    cur,
		logger: slog.Default(),
	}
}

// SetData replaces the dataset with in-memory rows, used by tests and by
// the loaders.
func (a *Analytics) SetData(orders []models.Order, geo []models.GeoPoint) {
	ds := NewDataset(orders, geo)
	a.mu.Lock()
	a.ds = ds
	a.mu.Unlock()
}

// LoadFromCSV loads both source datasets, preferring a fresh gob snapshot
// over re-parsing the CSVs. The two files parse concurrently.
func (a *Analytics) LoadFromCSV(ctx context.Context, ordersPath, geoPath string) error {
	if snap, err := loadSnapshot(ordersPath, geoPath); err == nil && snapshotFresh(snap, ordersPath, geoPath) {
		a.SetData(snap.Orders, snap.Geo)
		a.logger.Info("loaded from cache", "orders", len(snap.Orders), "geo_points", len(snap.Geo))
		return nil
	}

	start := time.Now()
	a.logger.Info("processing CSV files", "orders", ordersPath, "geolocation", geoPath)

	var (
		orders []models.Order
		geo    []models.GeoPoint
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := loadOrdersCSV(gctx, ordersPath)
		if err != nil {
			return fmt.Errorf("orders csv: %w", err)
		}
		orders = rows
		return nil
	})
	g.Go(func() error {
		rows, err := loadGeolocationCSV(gctx, geoPath)
		if err != nil {
			return fmt.Errorf("geolocation csv: %w", err)
		}
		geo = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	a.SetData(orders, geo)

	if err := a.SaveSnapshot(ordersPath, geoPath); err != nil {
		a.logger.Warn("failed to save cache", "error", err)
	}

	duration := time.Since(start)
	count := int64(len(orders) + len(geo))
	a.logger.Info("csv processing complete",
		"orders", len(orders),
		"geo_points", len(geo),
		"duration", duration,
		"rate", fmt.Sprintf("%.0f records/sec", float64(count)/duration.Seconds()))
	return nil
}

// SaveSnapshot persists the current dataset to the gob cache, so the next
// start can boot from it even when the save after load failed.
func (a *Analytics) SaveSnapshot(ordersPath, geoPath string) error {
	return saveSnapshot(ordersPath, geoPath, a.dataset())
}

func (a *Analytics) dataset() *Dataset {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ds
}

func (a *Analytics) Meta() models.DatasetMeta {
	return a.dataset().Meta()
}

// Working derives the working table for one request: the orders restricted
// to the inclusive approval-date range.
func (a *Analytics) Working(start, end time.Time) []models.Order {
	return FilterByApprovalDate(a.dataset().Orders(), start, end)
}

func (a *Analytics) Summary(start, end time.Time, categories []string) models.MetricSummary {
	return Summarize(a.Working(start, end), categories, a.cur)
}

func (a *Analytics) Daily(start, end time.Time) models.DailySeries {
	days := DailyOrderSeries(a.Working(start, end))

	series := models.DailySeries{Days: days}
	for _, d := range days {
		series.TotalOrders += d.OrderCount
		series.TotalRevenue += d.Revenue
	}
	series.FormattedRevenue = FormatAmount(a.cur, series.TotalRevenue)
	return series
}

func (a *Analytics) Categories(start, end time.Time, limit int) models.CategoryRanking {
	return RankCategories(a.Working(start, end), limit)
}

func (a *Analytics) ReviewScores(start, end time.Time) []models.ReviewScoreCount {
	return ReviewScoreDistribution(a.Working(start, end))
}

func (a *Analytics) DeliveryTimes(start, end time.Time, bins int) []models.HistogramBin {
	return DeliveryTimeHistogram(a.Working(start, end), bins)
}

func (a *Analytics) Demographics(start, end time.Time) models.Demographics {
	return GroupDemographics(a.Working(start, end))
}

func (a *Analytics) Correlation(start, end time.Time, threshold float64) models.CorrelationMatrix {
	return Correlate(a.Working(start, end), threshold)
}

func (a *Analytics) Geolocation(lo, hi int) models.GeoResult {
	return FilterGeolocation(a.dataset().Geolocation(), lo, hi)
}

// Utility method for monitoring
func (a *Analytics) Stats() map[string]any {
	meta := a.Meta()
	return map[string]any{
		"order_rows":   meta.OrderRows,
		"geo_rows":     meta.GeoRows,
		"categories":   len(meta.Categories),
		"min_approved": meta.MinApprovedAt,
		"max_approved": meta.MaxApprovedAt,
	}
}

// FilterByApprovalDate returns the rows whose approval timestamp lies in
// [start, end], both ends inclusive. Rows that were never approved carry a
// zero timestamp and are excluded. Pure: the input slice is untouched.
func FilterByApprovalDate(orders []models.Order, start, end time.Time) []models.Order {
	out := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if o.ApprovedAt.IsZero() {
			continue
		}
		if o.ApprovedAt.Before(start) || o.ApprovedAt.After(end) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// FilterByCategories keeps rows whose category label exactly matches one of
// the selected labels. An empty selection keeps the whole table.
func FilterByCategories(orders []models.Order, categories []string) []models.Order {
	if len(categories) == 0 {
		return orders
	}
	selected := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		selected[c] = struct{}{}
	}
	out := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if _, ok := selected[o.Category]; ok {
			out = append(out, o)
		}
	}
	return out
}

func countDistinctOrders(orders []models.Order) int {
	seen := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		seen[o.OrderID] = struct{}{}
	}
	return len(seen)
}

// DailyOrderSeries buckets the working table by calendar day of approval.
// Per day: distinct orders, summed item sequence values and summed payment
// values. Days without orders are absent rows, not zeroes.
func DailyOrderSeries(orders []models.Order) []models.DailyOrders {
	type bucket struct {
		orderIDs map[string]struct{}
		items    int
		revenue  float64
	}
	buckets := make(map[time.Time]*bucket)

	for _, o := range orders {
		if o.ApprovedAt.IsZero() {
			continue
		}
		day := o.ApprovedAt.UTC().Truncate(24 * time.Hour)
		b := buckets[day]
		if b == nil {
			b = &bucket{orderIDs: make(map[string]struct{})}
			buckets[day] = b
		}
		b.orderIDs[o.OrderID] = struct{}{}
		b.items += o.OrderItemID
		b.revenue += o.PaymentValue
	}

	result := make([]models.DailyOrders, 0, len(buckets))
	for day, b := range buckets {
		result = append(result, models.DailyOrders{
			Day:        day,
			OrderCount: len(b.orderIDs),
			ItemCount:  b.items,
			Revenue:    b.revenue,
		})
	}
	slices.SortFunc(result, func(a, b models.DailyOrders) int {
		return a.Day.Compare(b.Day)
	})
	return result
}

// RankCategories sums item counts per category. Top and Bottom come from
// two independent sort-and-slice passes rather than reversing one list,
// because ties can make the two ends disagree.
func RankCategories(orders []models.Order, limit int) models.CategoryRanking {
	totals := make(map[string]int)
	for _, o := range orders {
		totals[o.Category] += o.OrderItemID
	}

	all := make([]models.CategorySales, 0, len(totals))
	for category, items := range totals {
		all = append(all, models.CategorySales{Category: category, ItemCount: items})
	}

	desc := slices.Clone(all)
	slices.SortFunc(desc, func(a, b models.CategorySales) int {
		if a.ItemCount != b.ItemCount {
			return b.ItemCount - a.ItemCount
		}
		return compareStrings(a.Category, b.Category)
	})

	asc := slices.Clone(all)
	slices.SortFunc(asc, func(a, b models.CategorySales) int {
		if a.ItemCount != b.ItemCount {
			return a.ItemCount - b.ItemCount
		}
		return compareStrings(a.Category, b.Category)
	})

	return models.CategoryRanking{
		All:    desc,
		Top:    head(desc, limit),
		Bottom: head(asc, limit),
	}
}

func head[T any](s []T, n int) []T {
	if n < 0 || n > len(s) {
		n = len(s)
	}
	return slices.Clone(s[:n])
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ReviewScoreDistribution counts rows per review score, most frequent
// first, with each count also expressed as a percentage of the total.
func ReviewScoreDistribution(orders []models.Order) []models.ReviewScoreCount {
	counts := make(map[int]int)
	for _, o := range orders {
		counts[o.ReviewScore]++
	}

	result := make([]models.ReviewScoreCount, 0, len(counts))
	for score, count := range counts {
		result = append(result, models.ReviewScoreCount{Score: score, Count: count})
	}
	slices.SortFunc(result, func(a, b models.ReviewScoreCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return b.Score - a.Score
	})

	if len(orders) > 0 {
		total := float64(len(orders))
		for i := range result {
			result[i].Percent = float64(result[i].Count) / total * 100
		}
	}
	return result
}

// DeliveryTimeHistogram buckets delivery durations into equal-width bins.
// Undelivered rows carry no duration and are excluded. Empty input yields
// an empty histogram.
func DeliveryTimeHistogram(orders []models.Order, bins int) []models.HistogramBin {
	if bins <= 0 {
		bins = DefaultHistogramBins
	}

	var xs []float64
	for _, o := range orders {
		if days, ok := o.DeliveryDays(); ok {
			xs = append(xs, days)
		}
	}
	if len(xs) == 0 {
		return nil
	}
	slices.Sort(xs)

	min, max := xs[0], xs[len(xs)-1]
	if min == max {
		return []models.HistogramBin{{From: min, To: max, Count: len(xs)}}
	}

	edges := floats.Span(make([]float64, bins+1), min, max)

	// stat.Histogram half-opens every bin, so the last divider is nudged up
	// to keep the maximum value inside it.
	dividers := slices.Clone(edges)
	dividers[bins] = math.Nextafter(max, math.Inf(1))
	counts := stat.Histogram(nil, dividers, xs, nil)

	result := make([]models.HistogramBin, bins)
	for i := 0; i < bins; i++ {
		result[i] = models.HistogramBin{
			From:  edges[i],
			To:    edges[i+1],
			Count: int(counts[i]),
		}
	}
	return result
}

// GroupDemographics groups distinct order counts by customer state,
// customer city (top 10) and payment type.
func GroupDemographics(orders []models.Order) models.Demographics {
	return models.Demographics{
		ByState:       distinctOrdersBy(orders, func(o models.Order) string { return o.CustomerState }, 0),
		TopCities:     distinctOrdersBy(orders, func(o models.Order) string { return o.CustomerCity }, 10),
		ByPaymentType: distinctOrdersBy(orders, func(o models.Order) string { return o.PaymentType }, 0),
	}
}

func distinctOrdersBy(orders []models.Order, key func(models.Order) string, limit int) []models.GroupCount {
	groups := make(map[string]map[string]struct{})
	for _, o := range orders {
		k := key(o)
		if groups[k] == nil {
			groups[k] = make(map[string]struct{})
		}
		groups[k][o.OrderID] = struct{}{}
	}

	result := make([]models.GroupCount, 0, len(groups))
	for k, ids := range groups {
		result = append(result, models.GroupCount{Key: k, OrderCount: len(ids)})
	}
	slices.SortFunc(result, func(a, b models.GroupCount) int {
		if a.OrderCount != b.OrderCount {
			return b.OrderCount - a.OrderCount
		}
		return compareStrings(a.Key, b.Key)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Numeric columns of the working table, in matrix order.
var correlationColumns = []string{
	"order_item_id",
	"payment_value",
	"review_score",
	"delivery_days",
}

// Correlate computes the pairwise Pearson matrix over the numeric columns.
// Cells with |r| below the threshold are masked to nil, as are pairs with
// fewer than two complete observations.
func Correlate(orders []models.Order, threshold float64) models.CorrelationMatrix {
	n := len(correlationColumns)
	values := make([][]float64, n)
	present := make([][]bool, n)
	for i := range values {
		values[i] = make([]float64, len(orders))
		present[i] = make([]bool, len(orders))
	}

	for r, o := range orders {
		values[0][r], present[0][r] = float64(o.OrderItemID), true
		values[1][r], present[1][r] = o.PaymentValue, true
		values[2][r], present[2][r] = float64(o.ReviewScore), true
		values[3][r], present[3][r] = o.DeliveryDays()
	}

	cells := make([][]*float64, n)
	for i := range cells {
		cells[i] = make([]*float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cell := correlationCell(values[i], present[i], values[j], present[j], threshold)
			cells[i][j] = cell
			cells[j][i] = cell
		}
	}

	return models.CorrelationMatrix{Columns: slices.Clone(correlationColumns), Cells: cells}
}

func correlationCell(x []float64, xok []bool, y []float64, yok []bool, threshold float64) *float64 {
	var xs, ys []float64
	for r := range x {
		if xok[r] && yok[r] {
			xs = append(xs, x[r])
			ys = append(ys, y[r])
		}
	}
	if len(xs) < 2 {
		return nil
	}

	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) || math.Abs(r) < threshold {
		return nil
	}
	return &r
}

// Summarize computes the headline metrics over the working table, first
// restricted to the selected categories when any are selected. An empty
// selection means the whole table, not an empty result.
func Summarize(orders []models.Order, categories []string, cur currency.Unit) models.MetricSummary {
	selected := FilterByCategories(orders, categories)

	summary := models.MetricSummary{
		OrderCount: countDistinctOrders(selected),
	}
	var reviewSum int
	for _, o := range selected {
		summary.TotalRevenue += o.PaymentValue
		reviewSum += o.ReviewScore
	}
	summary.FormattedRevenue = FormatAmount(cur, summary.TotalRevenue)

	if len(selected) > 0 {
		mean := math.Round(float64(reviewSum)/float64(len(selected))*100) / 100
		summary.MeanReview = &mean
	}
	return summary
}

// currencyLocales picks the display locale for the configured currency, the
// way the upstream dataset pairs BRL with pt-BR.
var currencyLocales = map[currency.Unit]language.Tag{
	currency.BRL: language.BrazilianPortuguese,
	currency.USD: language.AmericanEnglish,
	currency.EUR: language.German,
	currency.GBP: language.BritishEnglish,
}

// FormatAmount renders an amount with the currency's symbol and the digit
// and decimal separators of its locale.
func FormatAmount(cur currency.Unit, value float64) string {
	tag, ok := currencyLocales[cur]
	if !ok {
		tag = language.English
	}
	return message.NewPrinter(tag).Sprintf("%v", currency.Symbol(cur.Amount(value)))
}

// FilterGeolocation keeps points whose zip prefix lies in [lo, hi]
// inclusive, and reports their planar bound for the map viewport.
func FilterGeolocation(points []models.GeoPoint, lo, hi int) models.GeoResult {
	matched := make([]models.GeoPoint, 0, len(points))
	coords := make(orb.MultiPoint, 0, len(points))
	for _, p := range points {
		if p.ZipPrefix < lo || p.ZipPrefix > hi {
			continue
		}
		matched = append(matched, p)
		coords = append(coords, p.Point)
	}

	result := models.GeoResult{Points: matched}
	if len(coords) > 0 {
		result.Bound = coords.Bound()
	}
	return result
}
