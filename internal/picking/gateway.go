package picking

import (
	"context"

	"github.com/xelth-com/eckpick/internal/models"
)

// Gateway is the external fulfillment backend (Odoo in production).
// Implementations return raw transport errors; this package converts them.
type Gateway interface {
	ListBatches(ctx context.Context) ([]models.Batch, error)
	ListZoneLocations(ctx context.Context, batchID int64, zoneID string) ([]models.StockLocation, error)
	ListLocationOperations(ctx context.Context, batchID, locationID int64) ([]models.Operation, error)
	WriteOperationQuantity(ctx context.Context, operationID int64, doneQty float64) (bool, error)
	ListZoneAggregateCounts(ctx context.Context, batchID int64) (map[string]int, error)

	SearchOrders(ctx context.Context, query string) ([]models.Order, error)
	ListOrderLocations(ctx context.Context, orderID int64) ([]models.StockLocation, error)
	ListOrderOperations(ctx context.Context, orderID, locationID int64) ([]models.Operation, error)
}

// PickingContext is one of the two picking flows: batch-driven or single order.
// Both share the cache shape but live in disjoint key namespaces.
type PickingContext interface {
	ContextID() models.ContextID
	ListLocations(ctx context.Context, zoneID string) ([]models.StockLocation, error)
	ListOperations(ctx context.Context, locationID int64) ([]models.Operation, error)
	// ReportsCompletion tells whether leaving a zone produces a completion report
	ReportsCompletion() bool
}

type batchContext struct {
	gw      Gateway
	metrics Metrics
	batchID int64
}

// NewBatchContext picks a batch zone by zone
func NewBatchContext(gw Gateway, m Metrics, batchID int64) PickingContext {
	return &batchContext{gw: gw, metrics: orNop(m), batchID: batchID}
}

func (c *batchContext) ContextID() models.ContextID { return models.BatchContext(c.batchID) }

func (c *batchContext) ListLocations(ctx context.Context, zoneID string) ([]models.StockLocation, error) {
	locs, err := c.gw.ListZoneLocations(ctx, c.batchID, zoneID)
	c.metrics.GatewayCall("list_zone_locations", err)
	return locs, remote("list zone locations", err)
}

func (c *batchContext) ListOperations(ctx context.Context, locationID int64) ([]models.Operation, error) {
	ops, err := c.gw.ListLocationOperations(ctx, c.batchID, locationID)
	c.metrics.GatewayCall("list_location_operations", err)
	return ops, remote("list location operations", err)
}

func (c *batchContext) ReportsCompletion() bool { return true }

type orderContext struct {
	gw      Gateway
	metrics Metrics
	orderID int64
}

// NewOrderContext picks one order without the zone tier
func NewOrderContext(gw Gateway, m Metrics, orderID int64) PickingContext {
	return &orderContext{gw: gw, metrics: orNop(m), orderID: orderID}
}

func (c *orderContext) ContextID() models.ContextID { return models.OrderContext(c.orderID) }

// ListLocations ignores the zone: a single order is picked across all zones
func (c *orderContext) ListLocations(ctx context.Context, _ string) ([]models.StockLocation, error) {
	locs, err := c.gw.ListOrderLocations(ctx, c.orderID)
	c.metrics.GatewayCall("list_order_locations", err)
	return locs, remote("list order locations", err)
}

func (c *orderContext) ListOperations(ctx context.Context, locationID int64) ([]models.Operation, error) {
	ops, err := c.gw.ListOrderOperations(ctx, c.orderID, locationID)
	c.metrics.GatewayCall("list_order_operations", err)
	return ops, remote("list order operations", err)
}

func (c *orderContext) ReportsCompletion() bool { return false }
