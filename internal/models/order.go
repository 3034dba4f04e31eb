package models

import (
	"time"

	"github.com/paulmach/orb"
)

// Order is one order item row. OrderID repeats across rows of the same
// order, so counting orders means counting distinct OrderIDs while counting
// items means summing the OrderItemID sequence values.
type Order struct {
	OrderID             string
	OrderItemID         int
	Category            string
	PaymentValue        float64
	ReviewScore         int
	PurchasedAt         time.Time
	ApprovedAt          time.Time
	CarrierDeliveredAt  time.Time
	CustomerDeliveredAt time.Time
	EstimatedDeliveryAt time.Time
	ShippingLimitAt     time.Time
	CustomerState       string
	CustomerCity        string
	PaymentType         string
}

// DeliveryDays reports the elapsed time between purchase and customer
// delivery in fractional days. ok is false for undelivered orders.
func (o Order) DeliveryDays() (days float64, ok bool) {
	if o.CustomerDeliveredAt.IsZero() || o.PurchasedAt.IsZero() {
		return 0, false
	}
	return o.CustomerDeliveredAt.Sub(o.PurchasedAt).Hours() / 24, true
}

// GeoPoint is one geolocation row. Point is (lng, lat).
type GeoPoint struct {
	ZipPrefix int       `json:"zip_code_prefix"`
	Point     orb.Point `json:"point"`
}

type DailyOrders struct {
	Day        time.Time `json:"day"`
	OrderCount int       `json:"order_count"`
	ItemCount  int       `json:"order_item_count"`
	Revenue    float64   `json:"revenue"`
}

// DailySeries is the daily order buckets plus the totals shown above the
// chart. Days with no approved orders are absent rather than zero-filled.
type DailySeries struct {
	Days             []DailyOrders `json:"days"`
	TotalOrders      int           `json:"total_orders"`
	TotalRevenue     float64       `json:"total_revenue"`
	FormattedRevenue string        `json:"formatted_revenue"`
}

type CategorySales struct {
	Category  string `json:"category"`
	ItemCount int    `json:"item_count"`
}

// CategoryRanking carries both ends of the sales ranking. Top and Bottom
// come from two independent sorts, which can disagree beyond a reversal
// when categories tie.
type CategoryRanking struct {
	All    []CategorySales `json:"all"`
	Top    []CategorySales `json:"top"`
	Bottom []CategorySales `json:"bottom"`
}

type ReviewScoreCount struct {
	Score   int     `json:"score"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

type HistogramBin struct {
	From  float64 `json:"from"`
	To    float64 `json:"to"`
	Count int     `json:"count"`
}

// GroupCount is a distinct-order count for one grouping key (state, city,
// or payment type).
type GroupCount struct {
	Key        string `json:"key"`
	OrderCount int    `json:"order_count"`
}

type Demographics struct {
	ByState       []GroupCount `json:"by_state"`
	TopCities     []GroupCount `json:"top_cities"`
	ByPaymentType []GroupCount `json:"by_payment_type"`
}

// CorrelationMatrix is a symmetric Pearson matrix over the working table's
// numeric columns. A nil cell is masked, either by the caller threshold or
// because the pair had fewer than two complete observations.
type CorrelationMatrix struct {
	Columns []string     `json:"columns"`
	Cells   [][]*float64 `json:"cells"`
}

// MetricSummary is the headline metric set. MeanReview is nil when the
// table is empty; consumers treat nil as "no value", never as zero.
type MetricSummary struct {
	OrderCount       int      `json:"order_count"`
	TotalRevenue     float64  `json:"total_revenue"`
	FormattedRevenue string   `json:"formatted_revenue"`
	MeanReview       *float64 `json:"mean_review"`
}

// GeoResult is the filtered geolocation rows plus their planar bound for
// fitting the map viewport.
type GeoResult struct {
	Points []GeoPoint `json:"points"`
	Bound  orb.Bound  `json:"bound"`
}

// DatasetMeta describes the loaded dataset's extremes, used by the UI to
// initialise the date pickers, category multiselect and zip range slider.
type DatasetMeta struct {
	MinApprovedAt time.Time `json:"min_approved_at"`
	MaxApprovedAt time.Time `json:"max_approved_at"`
	Categories    []string  `json:"categories"`
	MinZipPrefix  int       `json:"min_zip_prefix"`
	MaxZipPrefix  int       `json:"max_zip_prefix"`
	OrderRows     int       `json:"order_rows"`
	GeoRows       int       `json:"geo_rows"`
}
