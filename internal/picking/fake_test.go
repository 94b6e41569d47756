package picking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/eckpick/internal/models"
	"github.com/xelth-com/eckpick/internal/picking/store"
)

var errBackendDown = errors.New("connection refused")

type recordedWrite struct {
	OperationID int64
	DoneQty     float64
}

// fakeGateway serves canned data and records every call
type fakeGateway struct {
	mu        sync.Mutex
	batches   []models.Batch
	zoneLocs  map[string][]models.StockLocation
	orderLocs []models.StockLocation
	ops       map[int64][]models.Operation
	counts    map[string]int

	calls     map[string]int
	opCalls   []int64
	writes    []recordedWrite
	callTimes []time.Time // location list and operation reads, in order

	failLocations error
	failOps       map[int64]error
	failCounts    error
	failWrite     error
	rejectWrite   bool
	opGate        chan struct{}
	writeGate     chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		batches: []models.Batch{{ID: 10, Name: "BATCH/0010"}, {ID: 11, Name: "BATCH/0011"}},
		zoneLocs: map[string][]models.StockLocation{
			"A": {
				{ID: 4, Name: "WH/Stock/A04"},
				{ID: 2, Name: "WH/Stock/A02"},
				{ID: 1, Name: "WH/Stock/A01"},
				{ID: 3, Name: "WH/Stock/A03"},
			},
			"B": {{ID: 20, Name: "WH/Stock/B01"}},
		},
		orderLocs: []models.StockLocation{{ID: 1, Name: "WH/Stock/A01"}, {ID: 20, Name: "WH/Stock/B01"}},
		ops: map[int64][]models.Operation{
			1:  {{ID: 101, LocationID: 1, ProductName: "Pears", RequiredQty: 2}, {ID: 102, LocationID: 1, ProductName: "apples", RequiredQty: 1}},
			2:  {{ID: 201, LocationID: 2, ProductName: "Plums", RequiredQty: 1}},
			3:  {{ID: 301, LocationID: 3, ProductName: "Kiwis", RequiredQty: 3}},
			4:  {{ID: 401, LocationID: 4, ProductName: "Limes", RequiredQty: 1}},
			20: {{ID: 2001, LocationID: 20, ProductName: "Dates", RequiredQty: 1}},
		},
		counts:  map[string]int{"A": 4, "B": 1},
		calls:   make(map[string]int),
		failOps: make(map[int64]error),
	}
}

func (g *fakeGateway) record(name string) {
	g.mu.Lock()
	g.calls[name]++
	g.mu.Unlock()
}

func (g *fakeGateway) callCount(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

func (g *fakeGateway) calledAt() []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]time.Time(nil), g.callTimes...)
}

func (g *fakeGateway) setDone(locationID int64, done float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.ops[locationID] {
		g.ops[locationID][i].DoneQty = done
		if done < 0 {
			g.ops[locationID][i].DoneQty = g.ops[locationID][i].RequiredQty
		}
	}
}

func (g *fakeGateway) recordedWrites() []recordedWrite {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]recordedWrite(nil), g.writes...)
}

func (g *fakeGateway) ListBatches(ctx context.Context) ([]models.Batch, error) {
	g.record("ListBatches")
	return append([]models.Batch(nil), g.batches...), nil
}

func (g *fakeGateway) ListZoneLocations(ctx context.Context, batchID int64, zoneID string) ([]models.StockLocation, error) {
	g.record("ListZoneLocations")
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callTimes = append(g.callTimes, time.Now())
	if g.failLocations != nil {
		return nil, g.failLocations
	}
	return append([]models.StockLocation(nil), g.zoneLocs[zoneID]...), nil
}

func (g *fakeGateway) ListLocationOperations(ctx context.Context, batchID, locationID int64) ([]models.Operation, error) {
	g.record("ListLocationOperations")
	g.mu.Lock()
	gate := g.opGate
	g.opCalls = append(g.opCalls, locationID)
	g.callTimes = append(g.callTimes, time.Now())
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failOps[locationID]; err != nil {
		return nil, err
	}
	return append([]models.Operation(nil), g.ops[locationID]...), nil
}

func (g *fakeGateway) WriteOperationQuantity(ctx context.Context, operationID int64, doneQty float64) (bool, error) {
	g.record("WriteOperationQuantity")
	g.mu.Lock()
	gate := g.writeGate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWrite != nil {
		return false, g.failWrite
	}
	if g.rejectWrite {
		return false, nil
	}
	g.writes = append(g.writes, recordedWrite{OperationID: operationID, DoneQty: doneQty})
	for loc, ops := range g.ops {
		for i := range ops {
			if ops[i].ID == operationID {
				g.ops[loc][i].DoneQty = doneQty
			}
		}
	}
	return true, nil
}

func (g *fakeGateway) ListZoneAggregateCounts(ctx context.Context, batchID int64) (map[string]int, error) {
	g.record("ListZoneAggregateCounts")
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCounts != nil {
		return nil, g.failCounts
	}
	out := make(map[string]int, len(g.counts))
	for k, v := range g.counts {
		out[k] = v
	}
	return out, nil
}

func (g *fakeGateway) SearchOrders(ctx context.Context, query string) ([]models.Order, error) {
	g.record("SearchOrders")
	return []models.Order{{ID: 77, Name: "WH/OUT/00077", PartnerName: "Acme"}}, nil
}

func (g *fakeGateway) ListOrderLocations(ctx context.Context, orderID int64) ([]models.StockLocation, error) {
	g.record("ListOrderLocations")
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.StockLocation(nil), g.orderLocs...), nil
}

func (g *fakeGateway) ListOrderOperations(ctx context.Context, orderID, locationID int64) ([]models.Operation, error) {
	g.record("ListOrderOperations")
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.Operation(nil), g.ops[locationID]...), nil
}

// eventLog collects published events
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(t EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (l *eventLog) last(t EventType) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == t {
			return l.events[i], true
		}
	}
	return Event{}, false
}

func testZones() []models.Zone {
	return []models.Zone{
		{ID: "B", Name: "Zone B", Sequence: 2},
		{ID: "A", Name: "Zone A", Sequence: 1},
	}
}

func testTiming() Timing {
	return Timing{
		PrefetchCount:        3,
		RefreshInterval:      time.Hour,
		RefreshLocationLimit: 3,
		AdvanceDelay:         5 * time.Millisecond,
		CelebrationDuration:  40 * time.Millisecond,
		ScanAlertDuration:    40 * time.Millisecond,
		WriteTimeout:         time.Second,
	}
}

func newTestSession(t *testing.T, gw *fakeGateway, tune func(*Timing)) (*Session, *eventLog) {
	t.Helper()
	timing := testTiming()
	if tune != nil {
		tune(&timing)
	}
	events := &eventLog{}
	s, err := NewSession("test", Deps{
		Gateway: gw,
		Zones:   testZones(),
		Timing:  timing,
		Events:  events,
		Logger:  zerolog.Nop(),
	}, store.NewMemoryStore())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(false) })
	return s, events
}

// enterZone selects batch 10 and zone A, then waits for the prefetch
func enterZone(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SelectBatch(ctx, 10))
	require.NoError(t, s.SelectZone(ctx, "A"))
	require.NoError(t, s.Navigator().WaitPrefetch(ctx))
}
