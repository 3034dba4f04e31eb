package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/currency"
)

const ordersCSVHeader = "order_id,order_item_id,product_category_name_english,payment_value,review_score,order_purchase_timestamp,order_approved_at,order_delivered_carrier_date,order_delivered_customer_date,order_estimated_delivery_date,shipping_limit_date,customer_state,customer_city,payment_type"

const geoCSVHeader = "geolocation_zip_code_prefix,geolocation_lat,geolocation_lng"

func createTempCSV(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "test*.csv")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}

func TestLoadOrdersCSV(t *testing.T) {
	csv := ordersCSVHeader + `
O1,1,electronics,100.50,5.0,2023-01-14 09:00:00,2023-01-15 10:30:00,2023-01-16 08:00:00,2023-01-20 14:00:00,2023-01-25 00:00:00,2023-01-18 00:00:00,SP,sao paulo,credit_card
O2,1,toys,30.00,4.0,2023-01-16 11:00:00,2023-01-17 08:00:00,,,2023-01-30 00:00:00,2023-01-20 00:00:00,RJ,rio de janeiro,boleto`

	orders, err := loadOrdersCSV(context.Background(), createTempCSV(t, csv))
	if err != nil {
		t.Fatalf("loadOrdersCSV() failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}

	o := orders[0]
	if o.OrderID != "O1" || o.Category != "electronics" || o.PaymentValue != 100.50 {
		t.Errorf("unexpected first order: %+v", o)
	}
	if o.ReviewScore != 5 {
		t.Errorf("review score = %d, want 5 (parsed from \"5.0\")", o.ReviewScore)
	}
	if !o.ApprovedAt.Equal(time.Date(2023, 1, 15, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("approved at = %v", o.ApprovedAt)
	}
	if days, ok := o.DeliveryDays(); !ok || days <= 0 {
		t.Errorf("delivery days = %v ok=%v, want positive duration", days, ok)
	}

	// O2 is undelivered: empty timestamps stay zero.
	if _, ok := orders[1].DeliveryDays(); ok {
		t.Error("undelivered order should report no delivery duration")
	}
}

func TestLoadOrdersCSV_PreservesFileOrder(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(ordersCSVHeader)
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&sb, "\nO%03d,1,toys,10.00,4.0,2023-01-14 09:00:00,2023-01-15 10:30:00,,,,,SP,sao paulo,credit_card", i)
	}

	orders, err := loadOrdersCSV(context.Background(), createTempCSV(t, sb.String()))
	if err != nil {
		t.Fatalf("loadOrdersCSV() failed: %v", err)
	}
	if len(orders) != 500 {
		t.Fatalf("expected 500 orders, got %d", len(orders))
	}

	// Parsing fans out to workers; rows must still come back in file order.
	for i, o := range orders {
		if want := fmt.Sprintf("O%03d", i); o.OrderID != want {
			t.Fatalf("row %d has order id %s, want %s", i, o.OrderID, want)
		}
	}
}

func TestLoadOrdersCSV_SkipsInvalidRows(t *testing.T) {
	csv := ordersCSVHeader + `
O1,1,electronics,100.50,5.0,2023-01-14 09:00:00,2023-01-15 10:30:00,,,,,SP,sao paulo,credit_card
O2,not-a-number,toys,30.00,4.0,2023-01-16 11:00:00,2023-01-17 08:00:00,,,,,RJ,rio,boleto
,1,toys,30.00,4.0,2023-01-16 11:00:00,2023-01-17 08:00:00,,,,,RJ,rio,boleto`

	orders, err := loadOrdersCSV(context.Background(), createTempCSV(t, csv))
	if err != nil {
		t.Fatalf("loadOrdersCSV() failed: %v", err)
	}
	if len(orders) != 1 {
		t.Errorf("expected 1 valid order after skipping bad rows, got %d", len(orders))
	}
}

func TestLoadOrdersCSV_MissingColumn(t *testing.T) {
	csv := "order_id,order_item_id\nO1,1"
	if _, err := loadOrdersCSV(context.Background(), createTempCSV(t, csv)); err == nil {
		t.Error("expected an error for a header missing required columns")
	}
}

func TestLoadOrdersCSV_EmptyFile(t *testing.T) {
	if _, err := loadOrdersCSV(context.Background(), createTempCSV(t, "")); err == nil {
		t.Error("expected an error for an empty file")
	}
}

func TestLoadOrdersCSV_NoValidRecords(t *testing.T) {
	if _, err := loadOrdersCSV(context.Background(), createTempCSV(t, ordersCSVHeader)); err == nil {
		t.Error("expected an error when no rows parse")
	}
}

func TestLoadGeolocationCSV(t *testing.T) {
	csv := geoCSVHeader + `
1001,-23.55,-46.63
20000,-22.90,-43.17`

	points, err := loadGeolocationCSV(context.Background(), createTempCSV(t, csv))
	if err != nil {
		t.Fatalf("loadGeolocationCSV() failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].ZipPrefix != 1001 {
		t.Errorf("zip prefix = %d, want 1001", points[0].ZipPrefix)
	}
	if points[0].Point.Lat() != -23.55 || points[0].Point.Lon() != -46.63 {
		t.Errorf("point = %v, want (lng -46.63, lat -23.55)", points[0].Point)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
		zero    bool
	}{
		{"2023-01-15 10:30:00", false, false},
		{"2023-01-15", false, false},
		{"", false, true},
		{"15/01/2023", true, false},
	}

	for _, tt := range tests {
		got, err := parseTimestamp(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTimestamp(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got.IsZero() != tt.zero {
			t.Errorf("parseTimestamp(%q) zero = %v, want %v", tt.in, got.IsZero(), tt.zero)
		}
	}
}

func TestAnalytics_LoadFromCSV(t *testing.T) {
	ordersCSV := ordersCSVHeader + `
O1,1,electronics,100.50,5.0,2023-01-14 09:00:00,2023-01-15 10:30:00,,2023-01-20 14:00:00,,,SP,sao paulo,credit_card`
	geoCSV := geoCSVHeader + `
1001,-23.55,-46.63`

	a := NewAnalytics(currency.BRL)
	err := a.LoadFromCSV(context.Background(), createTempCSV(t, ordersCSV), createTempCSV(t, geoCSV))
	if err != nil {
		t.Fatalf("LoadFromCSV() failed: %v", err)
	}

	meta := a.Meta()
	if meta.OrderRows != 1 || meta.GeoRows != 1 {
		t.Errorf("meta rows = %d/%d, want 1/1", meta.OrderRows, meta.GeoRows)
	}
}

func TestAnalytics_LoadFromCSV_MissingFile(t *testing.T) {
	a := NewAnalytics(currency.BRL)
	geoCSV := geoCSVHeader + "\n1001,-23.55,-46.63"
	err := a.LoadFromCSV(context.Background(), "does-not-exist.csv", createTempCSV(t, geoCSV))
	if err == nil {
		t.Error("expected an error for a missing orders file")
	}
}

func TestAnalytics_SaveSnapshot(t *testing.T) {
	a := NewAnalytics(currency.BRL)
	a.SetData(testOrders(), testGeoPoints())

	dir := t.TempDir()
	ordersPath := filepath.Join(dir, "orders.csv")
	geoPath := filepath.Join(dir, "geolocation.csv")

	if err := a.SaveSnapshot(ordersPath, geoPath); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}

	snap, err := loadSnapshot(ordersPath, geoPath)
	if err != nil {
		t.Fatalf("loadSnapshot() failed: %v", err)
	}
	if len(snap.Orders) != len(testOrders()) || len(snap.Geo) != len(testGeoPoints()) {
		t.Errorf("snapshot holds %d orders and %d geo points, want %d and %d",
			len(snap.Orders), len(snap.Geo), len(testOrders()), len(testGeoPoints()))
	}
	if snap.Orders[0].OrderID != "O1" {
		t.Errorf("first snapshot order = %s, want O1", snap.Orders[0].OrderID)
	}
}

func TestNewDataset_Empty(t *testing.T) {
	d := NewDataset(nil, nil)
	meta := d.Meta()
	if meta.OrderRows != 0 || meta.GeoRows != 0 {
		t.Errorf("empty dataset meta = %+v", meta)
	}
	if len(meta.Categories) != 0 {
		t.Errorf("empty dataset has categories: %v", meta.Categories)
	}
}
