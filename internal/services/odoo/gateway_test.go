package odoo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/eckpick/internal/models"
)

// fakeOdoo keeps records per model and understands the few domain
// operators the gateway sends. Unknown fields and operators do not filter.
type fakeOdoo struct {
	mu      sync.Mutex
	records map[string][]map[string]interface{}
	domains map[string][]interface{}
	writes  []map[string]interface{}
	calls   int
	failErr error
}

func m2o(id int64, name string) []interface{} { return []interface{}{id, name} }

func newFakeOdoo() *fakeOdoo {
	line := func(id, loc int64, locName string, product int64, productName string, picking int64, batch int64, done, reserved float64) map[string]interface{} {
		return map[string]interface{}{
			"id":                 id,
			"location_id":        m2o(loc, locName),
			"product_id":         m2o(product, productName),
			"picking_id":         m2o(picking, fmt.Sprintf("WH/OUT/%05d", picking)),
			"picking_partner_id": m2o(900+picking, fmt.Sprintf("Customer %d", picking)),
			"product_uom_id":     m2o(1, "Units"),
			"lot_id":             false,
			"batch_id":           m2o(batch, fmt.Sprintf("BATCH/%d", batch)),
			"state":              "assigned",
			"qty_done":           done,
			"reserved_uom_qty":   reserved,
		}
	}
	lines := []map[string]interface{}{
		line(101, 11, "WH/Stock/A01", 1, "[APL] Apple", 201, 7, 0, 5),
		line(102, 11, "WH/Stock/A01", 2, "[BAN] Banana", 201, 7, 5, 5),
		line(103, 12, "WH/Stock/Cold/C01", 3, "[MLK] Milk", 202, 7, 0, 2),
		line(104, 13, "WH/Other/X", 1, "[APL] Apple", 202, 7, 0, 1),
		line(105, 11, "WH/Stock/A01", 2, "[BAN] Banana", 203, 8, 0, 1),
	}
	lines[2]["lot_id"] = m2o(301, "L-42")

	return &fakeOdoo{
		domains: make(map[string][]interface{}),
		records: map[string][]map[string]interface{}{
			"stock.move.line": lines,
			"stock.picking.batch": {
				{"id": int64(7), "name": "BATCH/7", "state": "in_progress", "scheduled_date": "2026-01-02 08:00:00", "picking_ids": []interface{}{int64(201), int64(202)}, "move_line_ids": []interface{}{int64(101), int64(102), int64(103), int64(104)}},
				{"id": int64(9), "name": "BATCH/9", "state": "done", "scheduled_date": false, "picking_ids": []interface{}{}, "move_line_ids": []interface{}{}},
			},
			"stock.picking": {
				{"id": int64(201), "name": "WH/OUT/00201", "state": "assigned", "origin": "SO201", "partner_id": m2o(1101, "Alice"), "batch_id": m2o(7, "BATCH/7"), "scheduled_date": false, "note": "<p>Leave at <b>door</b></p>", "picking_type_code": "outgoing"},
				{"id": int64(202), "name": "WH/OUT/00202", "state": "assigned", "origin": false, "partner_id": false, "batch_id": m2o(7, "BATCH/7"), "scheduled_date": false, "note": false, "picking_type_code": "outgoing"},
			},
			"stock.location": {
				{"id": int64(11), "complete_name": "WH/Stock/A01", "barcode": "LOC-A01"},
				{"id": int64(12), "complete_name": "WH/Stock/Cold/C01", "barcode": false},
				{"id": int64(13), "complete_name": "WH/Other/X", "barcode": false},
			},
			"product.product": {
				{"id": int64(1), "name": "Apple", "default_code": "APL", "barcode": "400001"},
				{"id": int64(2), "name": "Banana", "default_code": "BAN", "barcode": false},
				{"id": int64(3), "name": "Milk", "default_code": false, "barcode": "400003"},
			},
			"stock.lot": {
				{"id": int64(301), "name": "L-42"},
			},
		},
	}
}

func idKey(v interface{}) string {
	if pair, ok := v.([]interface{}); ok {
		if len(pair) == 0 {
			return ""
		}
		return fmt.Sprint(pair[0])
	}
	return fmt.Sprint(v)
}

func inList(v interface{}, list interface{}) bool {
	items, _ := list.([]interface{})
	for _, item := range items {
		if idKey(v) == idKey(item) {
			return true
		}
	}
	return false
}

func matches(rec map[string]interface{}, domain []interface{}) bool {
	for _, term := range domain {
		t, ok := term.([]interface{})
		if !ok || len(t) != 3 {
			continue
		}
		v, present := rec[t[0].(string)]
		if !present {
			continue
		}
		switch t[1] {
		case "=":
			if idKey(v) != idKey(t[2]) {
				return false
			}
		case "!=":
			if idKey(v) == idKey(t[2]) {
				return false
			}
		case "in":
			if !inList(v, t[2]) {
				return false
			}
		case "not in":
			if inList(v, t[2]) {
				return false
			}
		}
	}
	return true
}

func (f *fakeOdoo) SearchRead(ctx context.Context, model string, domain []interface{}, fields []string, limit, offset int, result interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failErr != nil {
		return f.failErr
	}
	f.domains[model] = domain
	var out []map[string]interface{}
	for _, rec := range f.records[model] {
		if matches(rec, domain) {
			out = append(out, rec)
		}
	}
	if out == nil {
		out = []map[string]interface{}{}
	}
	return convert(out, result)
}

func (f *fakeOdoo) Read(ctx context.Context, model string, ids []int64, fields []string, result interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failErr != nil {
		return f.failErr
	}
	out := []map[string]interface{}{}
	for _, rec := range f.records[model] {
		for _, id := range ids {
			if rec["id"] == id {
				out = append(out, rec)
			}
		}
	}
	return convert(out, result)
}

func (f *fakeOdoo) Write(ctx context.Context, model string, ids []int64, values map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failErr != nil {
		return false, f.failErr
	}
	f.writes = append(f.writes, map[string]interface{}{"model": model, "ids": ids, "values": values})
	return true, nil
}

func testZones() []models.Zone {
	return []models.Zone{
		{ID: "ambient", Name: "Ambient", LocationPrefix: "WH/Stock"},
		{ID: "cold", Name: "Cold", LocationPrefix: "WH/Stock/Cold/"},
	}
}

func newTestGateway(f *fakeOdoo, cfg BreakerConfig) *Gateway {
	return NewGateway(f, testZones(), cfg, zerolog.Nop())
}

func TestListBatches(t *testing.T) {
	g := newTestGateway(newFakeOdoo(), DefaultBreakerConfig())

	batches, err := g.ListBatches(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 1)

	b := batches[0]
	assert.Equal(t, int64(7), b.ID)
	assert.Equal(t, "BATCH/7", b.Name)
	assert.Equal(t, models.BatchStateInProgress, b.State)
	assert.Equal(t, 2, b.OrderCount)
	assert.Equal(t, 4, b.ProductCount)
	assert.Equal(t, 1, b.NoteCount)
	require.NotNil(t, b.ScheduledDate)
	assert.Equal(t, time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC), *b.ScheduledDate)
}

func TestListZoneLocationsUsesLongestPrefix(t *testing.T) {
	g := newTestGateway(newFakeOdoo(), DefaultBreakerConfig())
	ctx := context.Background()

	ambient, err := g.ListZoneLocations(ctx, 7, "ambient")
	require.NoError(t, err)
	require.Len(t, ambient, 1)
	assert.Equal(t, models.StockLocation{
		ID:             11,
		Name:           "WH/Stock/A01",
		Barcode:        "LOC-A01",
		ProductPreview: []string{"[APL] Apple"},
		OperationCount: 2,
	}, ambient[0])

	cold, err := g.ListZoneLocations(ctx, 7, "cold")
	require.NoError(t, err)
	require.Len(t, cold, 1)
	assert.Equal(t, int64(12), cold[0].ID)

	_, err = g.ListZoneLocations(ctx, 7, "frozen")
	assert.Error(t, err)
}

func TestListLocationOperations(t *testing.T) {
	g := newTestGateway(newFakeOdoo(), DefaultBreakerConfig())

	ops, err := g.ListLocationOperations(context.Background(), 7, 11)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	apple := ops[0]
	assert.Equal(t, int64(101), apple.ID)
	assert.Equal(t, "Apple", apple.ProductName)
	assert.Equal(t, "APL", apple.ProductCode)
	assert.Equal(t, "400001", apple.ProductBarcode)
	assert.Equal(t, 5.0, apple.RequiredQty)
	assert.Equal(t, 0.0, apple.DoneQty)
	assert.Equal(t, "Units", apple.UoM)
	assert.Equal(t, "Customer 201", apple.CustomerName)
	assert.Equal(t, "Leave at door", apple.CustomerNote)

	assert.True(t, ops[1].IsDone())
}

func TestOrderOperationsCarryLots(t *testing.T) {
	g := newTestGateway(newFakeOdoo(), DefaultBreakerConfig())
	ctx := context.Background()

	locs, err := g.ListOrderLocations(ctx, 202)
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 13}, []int64{locs[0].ID, locs[1].ID}, "single order ignores zones")

	ops, err := g.ListOrderOperations(ctx, 202, 12)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "L-42", ops[0].Lot)
	assert.Equal(t, "", ops[0].CustomerNote)
}

func TestListZoneAggregateCounts(t *testing.T) {
	g := newTestGateway(newFakeOdoo(), DefaultBreakerConfig())

	counts, err := g.ListZoneAggregateCounts(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ambient": 1, "cold": 1}, counts)
}

func TestSearchOrders(t *testing.T) {
	f := newFakeOdoo()
	g := newTestGateway(f, DefaultBreakerConfig())

	orders, err := g.SearchOrders(context.Background(), " SO201 ")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "Alice", orders[0].PartnerName)
	assert.Equal(t, "SO201", orders[0].Origin)
	assert.Contains(t, f.domains["stock.picking"], "|")
	assert.Contains(t, f.domains["stock.picking"], []interface{}{"name", "ilike", "SO201"})
}

func TestWriteOperationQuantity(t *testing.T) {
	f := newFakeOdoo()
	g := newTestGateway(f, DefaultBreakerConfig())

	ok, err := g.WriteOperationQuantity(context.Background(), 101, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, f.writes, 1)
	assert.Equal(t, "stock.move.line", f.writes[0]["model"])
	assert.Equal(t, []int64{101}, f.writes[0]["ids"])
	assert.Equal(t, map[string]interface{}{"qty_done": 3.0}, f.writes[0]["values"])
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	f := newFakeOdoo()
	boom := errors.New("connection refused")
	f.failErr = boom
	g := newTestGateway(f, BreakerConfig{MaxRequests: 1, Timeout: time.Hour, FailureThreshold: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.ListBatches(ctx)
		assert.ErrorIs(t, err, boom)
	}
	calls := f.calls

	_, err := g.ListBatches(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, calls, f.calls, "open breaker does not reach Odoo")
	assert.Equal(t, "open", g.State())
}

func TestCancelledCallSkipsOdoo(t *testing.T) {
	f := newFakeOdoo()
	g := newTestGateway(f, DefaultBreakerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.ListBatches(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.calls)
}
