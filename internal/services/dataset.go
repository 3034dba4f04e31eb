package services

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"marketplace-dashboard/internal/models"
)

const (
	batchSize    = 10000
	maxWorkers   = 10
	cacheVersion = "v1"
	cacheDir     = ".cache"

	timestampLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
)

// Dataset is the immutable in-memory source the whole dashboard reads from.
// It is built once at load time and passed into every aggregation call;
// nothing ever mutates it, so concurrent sessions share it freely.
type Dataset struct {
	orders []models.Order
	geo    []models.GeoPoint

	minApproved time.Time
	maxApproved time.Time
	categories  []string
	minZip      int
	maxZip      int
	loadedAt    time.Time
}

func NewDataset(orders []models.Order, geo []models.GeoPoint) *Dataset {
	d := &Dataset{
		orders:   orders,
		geo:      geo,
		loadedAt: time.Now(),
	}

	seen := make(map[string]struct{})
	for _, o := range orders {
		if !o.ApprovedAt.IsZero() {
			if d.minApproved.IsZero() || o.ApprovedAt.Before(d.minApproved) {
				d.minApproved = o.ApprovedAt
			}
			if o.ApprovedAt.After(d.maxApproved) {
				d.maxApproved = o.ApprovedAt
			}
		}
		if o.Category != "" {
			if _, ok := seen[o.Category]; !ok {
				seen[o.Category] = struct{}{}
				d.categories = append(d.categories, o.Category)
			}
		}
	}
	slices.Sort(d.categories)

	for i, g := range geo {
		if i == 0 || g.ZipPrefix < d.minZip {
			d.minZip = g.ZipPrefix
		}
		if g.ZipPrefix > d.maxZip {
			d.maxZip = g.ZipPrefix
		}
	}

	return d
}

func (d *Dataset) Orders() []models.Order         { return d.orders }
func (d *Dataset) Geolocation() []models.GeoPoint { return d.geo }

func (d *Dataset) Meta() models.DatasetMeta {
	return models.DatasetMeta{
		MinApprovedAt: d.minApproved,
		MaxApprovedAt: d.maxApproved,
		Categories:    d.categories,
		MinZipPrefix:  d.minZip,
		MaxZipPrefix:  d.maxZip,
		OrderRows:     len(d.orders),
		GeoRows:       len(d.geo),
	}
}

// orderColumns maps header names to field positions, so the loader survives
// column reordering in the export.
var orderColumns = []string{
	"order_id",
	"order_item_id",
	"product_category_name_english",
	"payment_value",
	"review_score",
	"order_purchase_timestamp",
	"order_approved_at",
	"order_delivered_carrier_date",
	"order_delivered_customer_date",
	"order_estimated_delivery_date",
	"shipping_limit_date",
	"customer_state",
	"customer_city",
	"payment_type",
}

type columnIndex map[string]int

func indexHeader(header string, required []string) (columnIndex, error) {
	idx := make(columnIndex)
	for i, name := range strings.Split(header, ",") {
		idx[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	return idx, nil
}

func (idx columnIndex) field(record []string, name string) string {
	i := idx[name]
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func parseOrder(idx columnIndex, record []string) (models.Order, error) {
	orderID := idx.field(record, "order_id")
	if orderID == "" {
		return models.Order{}, fmt.Errorf("empty order_id")
	}

	itemID, err := strconv.Atoi(idx.field(record, "order_item_id"))
	if err != nil {
		return models.Order{}, fmt.Errorf("order_item_id: %w", err)
	}

	payment, err := strconv.ParseFloat(idx.field(record, "payment_value"), 64)
	if err != nil {
		return models.Order{}, fmt.Errorf("payment_value: %w", err)
	}

	// Review scores arrive as "4.0" in the merged export.
	scoreF, err := strconv.ParseFloat(idx.field(record, "review_score"), 64)
	if err != nil {
		return models.Order{}, fmt.Errorf("review_score: %w", err)
	}

	o := models.Order{
		OrderID:       orderID,
		OrderItemID:   itemID,
		Category:      idx.field(record, "product_category_name_english"),
		PaymentValue:  payment,
		ReviewScore:   int(scoreF),
		CustomerState: idx.field(record, "customer_state"),
		CustomerCity:  idx.field(record, "customer_city"),
		PaymentType:   idx.field(record, "payment_type"),
	}

	for _, ts := range []struct {
		name string
		dst  *time.Time
	}{
		{"order_purchase_timestamp", &o.PurchasedAt},
		{"order_approved_at", &o.ApprovedAt},
		{"order_delivered_carrier_date", &o.CarrierDeliveredAt},
		{"order_delivered_customer_date", &o.CustomerDeliveredAt},
		{"order_estimated_delivery_date", &o.EstimatedDeliveryAt},
		{"shipping_limit_date", &o.ShippingLimitAt},
	} {
		t, err := parseTimestamp(idx.field(record, ts.name))
		if err != nil {
			return models.Order{}, fmt.Errorf("%s: %w", ts.name, err)
		}
		*ts.dst = t
	}

	return o, nil
}

// parseTimestamp accepts the dataset's datetime format and bare dates.
// Lifecycle timestamps are optional: undelivered orders leave them empty.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(dateLayout, s)
}

func parseGeoPoint(idx columnIndex, record []string) (models.GeoPoint, error) {
	zip, err := strconv.Atoi(idx.field(record, "geolocation_zip_code_prefix"))
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("zip prefix: %w", err)
	}
	lat, err := strconv.ParseFloat(idx.field(record, "geolocation_lat"), 64)
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(idx.field(record, "geolocation_lng"), 64)
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("longitude: %w", err)
	}
	return models.GeoPoint{ZipPrefix: zip, Point: orb.Point{lng, lat}}, nil
}

// streamRows scans a CSV file in batches, parsing each batch's lines on a
// bounded worker group and appending the valid rows via collect. Invalid
// rows are skipped, not fatal. Rows are delivered in file order.
func streamRows[T any](ctx context.Context, filename string, required []string, parse func(columnIndex, []string) (T, error), collect func([]T)) (int64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024) // 10MB buffer

	if !scanner.Scan() {
		return 0, fmt.Errorf("empty file")
	}
	idx, err := indexHeader(scanner.Text(), required)
	if err != nil {
		return 0, fmt.Errorf("header: %w", err)
	}

	total := int64(0)
	batch := make([]string, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		rows, err := parseBatch(ctx, idx, batch, parse)
		if err != nil {
			return err
		}
		collect(rows)
		total += int64(len(rows))
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		batch = append(batch, scanner.Text())
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("scan error: %w", err)
	}
	if total == 0 {
		return 0, fmt.Errorf("no valid records found")
	}
	return total, nil
}

// parseBatch parses one batch on a bounded worker group. Each worker writes
// into its own index slot, so compacting the valid rows keeps file order.
func parseBatch[T any](ctx context.Context, idx columnIndex, batch []string, parse func(columnIndex, []string) (T, error)) ([]T, error) {
	var wg errgroup.Group
	wg.SetLimit(maxWorkers)

	parsed := make([]T, len(batch))
	valid := make([]bool, len(batch))

	for i, line := range batch {
		wg.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			row, err := parse(idx, strings.Split(line, ","))
			if err != nil {
				return nil // Skip invalid records
			}
			parsed[i], valid[i] = row, true
			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		return nil, err
	}

	rows := make([]T, 0, len(batch))
	for i, ok := range valid {
		if ok {
			rows = append(rows, parsed[i])
		}
	}
	return rows, nil
}

func loadOrdersCSV(ctx context.Context, filename string) ([]models.Order, error) {
	var orders []models.Order
	_, err := streamRows(ctx, filename, orderColumns, parseOrder, func(rows []models.Order) {
		orders = append(orders, rows...)
	})
	return orders, err
}

func loadGeolocationCSV(ctx context.Context, filename string) ([]models.GeoPoint, error) {
	required := []string{"geolocation_zip_code_prefix", "geolocation_lat", "geolocation_lng"}
	var points []models.GeoPoint
	_, err := streamRows(ctx, filename, required, parseGeoPoint, func(rows []models.GeoPoint) {
		points = append(points, rows...)
	})
	return points, err
}

// Cache management

type datasetSnapshot struct {
	Orders  []models.Order
	Geo     []models.GeoPoint
	SavedAt time.Time
}

func cacheFilename(ordersPath, geoPath string) string {
	key := strings.ReplaceAll(ordersPath+"__"+geoPath, "/", "_")
	return fmt.Sprintf("%s/%s_%s.gob", cacheDir, key, cacheVersion)
}

func saveSnapshot(ordersPath, geoPath string, d *Dataset) error {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}

	file, err := os.Create(cacheFilename(ordersPath, geoPath))
	if err != nil {
		return err
	}
	defer file.Close()

	snap := datasetSnapshot{Orders: d.orders, Geo: d.geo, SavedAt: d.loadedAt}
	return gob.NewEncoder(file).Encode(snap)
}

func loadSnapshot(ordersPath, geoPath string) (*datasetSnapshot, error) {
	file, err := os.Open(cacheFilename(ordersPath, geoPath))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var snap datasetSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// snapshotFresh reports whether the cached snapshot postdates both source
// files.
func snapshotFresh(snap *datasetSnapshot, paths ...string) bool {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.ModTime().After(snap.SavedAt) {
			return false
		}
	}
	return true
}
