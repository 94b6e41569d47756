package odoo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/xelth-com/eckpick/internal/models"
)

// ErrCircuitOpen is returned while the breaker rejects calls to Odoo
var ErrCircuitOpen = errors.New("odoo circuit breaker is open")

// rpc is the subset of Client the gateway needs
type rpc interface {
	SearchRead(ctx context.Context, model string, domain []interface{}, fields []string, limit, offset int, result interface{}) error
	Read(ctx context.Context, model string, ids []int64, fields []string, result interface{}) error
	Write(ctx context.Context, model string, ids []int64, values map[string]interface{}) (bool, error)
}

// BreakerConfig tunes the circuit breaker guarding Odoo calls
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig trips after five consecutive failures and probes again after 30s
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

const (
	maxBatches     = 200
	maxOrders      = 50
	maxMoveLines   = 5000
	previewLimit   = 3
	outgoingPicked = "outgoing"
)

var (
	moveLineFields = []string{
		"location_id", "product_id", "picking_id", "picking_partner_id",
		"product_uom_id", "lot_id", "qty_done", "reserved_uom_qty",
	}
	htmlTag = regexp.MustCompile(`<[^>]*>`)
)

type batchRecord struct {
	ID            int64      `json:"id"`
	Name          OdooString `json:"name"`
	State         OdooString `json:"state"`
	ScheduledDate OdooTime   `json:"scheduled_date"`
	PickingIDs    []int64    `json:"picking_ids"`
	MoveLineIDs   []int64    `json:"move_line_ids"`
}

type pickingRecord struct {
	ID            int64      `json:"id"`
	Name          OdooString `json:"name"`
	State         OdooString `json:"state"`
	Origin        OdooString `json:"origin"`
	Partner       Many2One   `json:"partner_id"`
	Batch         Many2One   `json:"batch_id"`
	ScheduledDate OdooTime   `json:"scheduled_date"`
	Note          OdooString `json:"note"`
}

type moveLineRecord struct {
	ID          int64    `json:"id"`
	Location    Many2One `json:"location_id"`
	Product     Many2One `json:"product_id"`
	Picking     Many2One `json:"picking_id"`
	Partner     Many2One `json:"picking_partner_id"`
	UoM         Many2One `json:"product_uom_id"`
	Lot         Many2One `json:"lot_id"`
	QtyDone     float64  `json:"qty_done"`
	ReservedQty float64  `json:"reserved_uom_qty"`
}

func (r moveLineRecord) open() bool { return r.QtyDone < r.ReservedQty }

type productRecord struct {
	ID          int64      `json:"id"`
	Name        OdooString `json:"name"`
	DefaultCode OdooString `json:"default_code"`
	Barcode     OdooString `json:"barcode"`
}

type locationRecord struct {
	ID           int64      `json:"id"`
	CompleteName OdooString `json:"complete_name"`
	Barcode      OdooString `json:"barcode"`
}

type lotRecord struct {
	ID   int64      `json:"id"`
	Name OdooString `json:"name"`
}

// Gateway serves the picking engine from Odoo stock models.
// Zones are not an Odoo concept: a location belongs to the zone whose
// LocationPrefix is the longest match of its complete name.
type Gateway struct {
	rpc     rpc
	breaker *gobreaker.CircuitBreaker
	zones   []models.Zone
	log     zerolog.Logger
}

// NewGateway wraps an Odoo client with a circuit breaker
func NewGateway(client rpc, zones []models.Zone, cfg BreakerConfig, log zerolog.Logger) *Gateway {
	log = log.With().Str("component", "odoo-gateway").Logger()
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultBreakerConfig().FailureThreshold
	}
	settings := gobreaker.Settings{
		Name:        "odoo",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// a cancelled caller says nothing about Odoo's health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("⚡ Circuit breaker state changed")
		},
	}
	return &Gateway{
		rpc:     client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		zones:   zones,
		log:     log,
	}
}

// State exposes the breaker state for health reporting
func (g *Gateway) State() string { return g.breaker.State().String() }

func guarded[T any](g *Gateway, ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w", op, ErrCircuitOpen)
		}
		g.log.Error().Err(err).Str("op", op).Msg("Odoo call failed")
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	return res.(T), nil
}

// ListBatches returns batches that still have picking to do
func (g *Gateway) ListBatches(ctx context.Context) ([]models.Batch, error) {
	return guarded(g, ctx, "list batches", func() ([]models.Batch, error) {
		var recs []batchRecord
		domain := []interface{}{
			[]interface{}{"state", "in", []interface{}{"draft", "in_progress"}},
		}
		fields := []string{"name", "state", "scheduled_date", "picking_ids", "move_line_ids"}
		if err := g.rpc.SearchRead(ctx, "stock.picking.batch", domain, fields, maxBatches, 0, &recs); err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return []models.Batch{}, nil
		}

		ids := make([]interface{}, 0, len(recs))
		for _, r := range recs {
			ids = append(ids, r.ID)
		}
		var noted []pickingRecord
		noteDomain := []interface{}{
			[]interface{}{"batch_id", "in", ids},
			[]interface{}{"note", "!=", false},
		}
		if err := g.rpc.SearchRead(ctx, "stock.picking", noteDomain, []string{"batch_id"}, 0, 0, &noted); err != nil {
			return nil, err
		}
		notes := make(map[int64]int)
		for _, p := range noted {
			notes[p.Batch.ID]++
		}

		out := make([]models.Batch, 0, len(recs))
		for _, r := range recs {
			out = append(out, models.Batch{
				ID:            r.ID,
				Name:          r.Name.String(),
				State:         models.BatchState(r.State),
				ScheduledDate: r.ScheduledDate.Ptr(),
				OrderCount:    len(r.PickingIDs),
				ProductCount:  len(r.MoveLineIDs),
				NoteCount:     notes[r.ID],
			})
		}
		return out, nil
	})
}

// ListZoneLocations returns the locations of a zone holding batch move lines
func (g *Gateway) ListZoneLocations(ctx context.Context, batchID int64, zoneID string) ([]models.StockLocation, error) {
	if _, ok := models.FindZone(g.zones, zoneID); !ok {
		return nil, fmt.Errorf("unknown zone %q", zoneID)
	}
	return guarded(g, ctx, "list zone locations", func() ([]models.StockLocation, error) {
		lines, err := g.moveLines(ctx, batchDomain(batchID))
		if err != nil {
			return nil, err
		}
		locs, err := g.locations(ctx, lines)
		if err != nil {
			return nil, err
		}
		out := locs[:0]
		for _, l := range locs {
			if z, ok := g.zoneFor(l.Name); ok && z.ID == zoneID {
				out = append(out, l)
			}
		}
		return out, nil
	})
}

// ListLocationOperations returns the batch move lines of one location
func (g *Gateway) ListLocationOperations(ctx context.Context, batchID, locationID int64) ([]models.Operation, error) {
	return guarded(g, ctx, "list location operations", func() ([]models.Operation, error) {
		domain := append(batchDomain(batchID), []interface{}{"location_id", "=", locationID})
		lines, err := g.moveLines(ctx, domain)
		if err != nil {
			return nil, err
		}
		return g.operations(ctx, lines)
	})
}

// WriteOperationQuantity sets qty_done on a move line
func (g *Gateway) WriteOperationQuantity(ctx context.Context, operationID int64, doneQty float64) (bool, error) {
	return guarded(g, ctx, "write operation quantity", func() (bool, error) {
		return g.rpc.Write(ctx, "stock.move.line", []int64{operationID}, map[string]interface{}{"qty_done": doneQty})
	})
}

// ListZoneAggregateCounts counts open move lines per zone
func (g *Gateway) ListZoneAggregateCounts(ctx context.Context, batchID int64) (map[string]int, error) {
	return guarded(g, ctx, "list zone counts", func() (map[string]int, error) {
		lines, err := g.moveLines(ctx, batchDomain(batchID))
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int, len(g.zones))
		for _, z := range g.zones {
			counts[z.ID] = 0
		}
		for _, l := range lines {
			if !l.open() {
				continue
			}
			if z, ok := g.zoneFor(l.Location.Name); ok {
				counts[z.ID]++
			}
		}
		return counts, nil
	})
}

// SearchOrders finds outgoing pickings ready to pick by name or source document
func (g *Gateway) SearchOrders(ctx context.Context, query string) ([]models.Order, error) {
	return guarded(g, ctx, "search orders", func() ([]models.Order, error) {
		domain := []interface{}{
			[]interface{}{"picking_type_code", "=", outgoingPicked},
			[]interface{}{"state", "in", []interface{}{"confirmed", "assigned"}},
		}
		if q := strings.TrimSpace(query); q != "" {
			domain = append(domain, "|",
				[]interface{}{"name", "ilike", q},
				[]interface{}{"origin", "ilike", q},
			)
		}
		var recs []pickingRecord
		fields := []string{"name", "state", "origin", "partner_id", "scheduled_date"}
		if err := g.rpc.SearchRead(ctx, "stock.picking", domain, fields, maxOrders, 0, &recs); err != nil {
			return nil, err
		}
		out := make([]models.Order, 0, len(recs))
		for _, r := range recs {
			out = append(out, models.Order{
				ID:            r.ID,
				Name:          r.Name.String(),
				PartnerName:   r.Partner.Name,
				State:         r.State.String(),
				ScheduledDate: r.ScheduledDate.Ptr(),
				Origin:        r.Origin.String(),
			})
		}
		return out, nil
	})
}

// ListOrderLocations returns every location an order picks from, regardless of zone
func (g *Gateway) ListOrderLocations(ctx context.Context, orderID int64) ([]models.StockLocation, error) {
	return guarded(g, ctx, "list order locations", func() ([]models.StockLocation, error) {
		lines, err := g.moveLines(ctx, orderDomain(orderID))
		if err != nil {
			return nil, err
		}
		return g.locations(ctx, lines)
	})
}

// ListOrderOperations returns the move lines of an order at one location
func (g *Gateway) ListOrderOperations(ctx context.Context, orderID, locationID int64) ([]models.Operation, error) {
	return guarded(g, ctx, "list order operations", func() ([]models.Operation, error) {
		domain := append(orderDomain(orderID), []interface{}{"location_id", "=", locationID})
		lines, err := g.moveLines(ctx, domain)
		if err != nil {
			return nil, err
		}
		return g.operations(ctx, lines)
	})
}

func batchDomain(batchID int64) []interface{} {
	return []interface{}{
		[]interface{}{"batch_id", "=", batchID},
		[]interface{}{"state", "not in", []interface{}{"done", "cancel"}},
	}
}

func orderDomain(orderID int64) []interface{} {
	return []interface{}{
		[]interface{}{"picking_id", "=", orderID},
		[]interface{}{"state", "not in", []interface{}{"done", "cancel"}},
	}
}

func (g *Gateway) moveLines(ctx context.Context, domain []interface{}) ([]moveLineRecord, error) {
	var lines []moveLineRecord
	if err := g.rpc.SearchRead(ctx, "stock.move.line", domain, moveLineFields, maxMoveLines, 0, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// locations groups move lines by source location, keeping first-seen order
func (g *Gateway) locations(ctx context.Context, lines []moveLineRecord) ([]models.StockLocation, error) {
	byID := make(map[int64]*models.StockLocation)
	var order []int64
	seen := make(map[int64]map[int64]bool)
	for _, l := range lines {
		if !l.Location.Set() {
			continue
		}
		loc, ok := byID[l.Location.ID]
		if !ok {
			loc = &models.StockLocation{ID: l.Location.ID, Name: l.Location.Name}
			byID[l.Location.ID] = loc
			seen[l.Location.ID] = make(map[int64]bool)
			order = append(order, l.Location.ID)
		}
		loc.OperationCount++
		if l.open() && len(loc.ProductPreview) < previewLimit && !seen[loc.ID][l.Product.ID] {
			seen[loc.ID][l.Product.ID] = true
			loc.ProductPreview = append(loc.ProductPreview, l.Product.Name)
		}
	}

	var recs []locationRecord
	if err := g.rpc.Read(ctx, "stock.location", order, []string{"complete_name", "barcode"}, &recs); err != nil {
		return nil, err
	}
	for _, r := range recs {
		if loc, ok := byID[r.ID]; ok {
			if name := r.CompleteName.String(); name != "" {
				loc.Name = name
			}
			loc.Barcode = r.Barcode.String()
		}
	}

	out := make([]models.StockLocation, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (g *Gateway) operations(ctx context.Context, lines []moveLineRecord) ([]models.Operation, error) {
	var productIDs, pickingIDs, lotIDs []int64
	for _, l := range lines {
		productIDs = appendUnique(productIDs, l.Product.ID)
		pickingIDs = appendUnique(pickingIDs, l.Picking.ID)
		lotIDs = appendUnique(lotIDs, l.Lot.ID)
	}

	var products []productRecord
	if err := g.rpc.Read(ctx, "product.product", productIDs, []string{"name", "default_code", "barcode"}, &products); err != nil {
		return nil, err
	}
	productByID := make(map[int64]productRecord, len(products))
	for _, p := range products {
		productByID[p.ID] = p
	}

	var pickings []pickingRecord
	if err := g.rpc.Read(ctx, "stock.picking", pickingIDs, []string{"note"}, &pickings); err != nil {
		return nil, err
	}
	noteByPicking := make(map[int64]string, len(pickings))
	for _, p := range pickings {
		noteByPicking[p.ID] = plainText(p.Note.String())
	}

	var lots []lotRecord
	if err := g.rpc.Read(ctx, "stock.lot", lotIDs, []string{"name"}, &lots); err != nil {
		return nil, err
	}
	lotByID := make(map[int64]string, len(lots))
	for _, l := range lots {
		lotByID[l.ID] = l.Name.String()
	}

	out := make([]models.Operation, 0, len(lines))
	for _, l := range lines {
		op := models.Operation{
			ID:           l.ID,
			LocationID:   l.Location.ID,
			ProductID:    l.Product.ID,
			ProductName:  l.Product.Name,
			RequiredQty:  l.ReservedQty,
			DoneQty:      l.QtyDone,
			UoM:          l.UoM.Name,
			Lot:          l.Lot.Name,
			CustomerName: l.Partner.Name,
			CustomerNote: noteByPicking[l.Picking.ID],
		}
		if p, ok := productByID[l.Product.ID]; ok {
			if name := p.Name.String(); name != "" {
				op.ProductName = name
			}
			op.ProductCode = p.DefaultCode.String()
			op.ProductBarcode = p.Barcode.String()
		}
		if lot, ok := lotByID[l.Lot.ID]; ok && lot != "" {
			op.Lot = lot
		}
		out = append(out, op)
	}
	return out, nil
}

// zoneFor picks the zone with the longest prefix owning the location path
func (g *Gateway) zoneFor(locationName string) (models.Zone, bool) {
	var (
		best  models.Zone
		found bool
	)
	for _, z := range g.zones {
		prefix := strings.TrimRight(z.LocationPrefix, "/")
		if prefix == "" {
			continue
		}
		if locationName != prefix && !strings.HasPrefix(locationName, prefix+"/") {
			continue
		}
		if !found || len(prefix) > len(strings.TrimRight(best.LocationPrefix, "/")) {
			best, found = z, true
		}
	}
	return best, found
}

func appendUnique(ids []int64, id int64) []int64 {
	if id == 0 {
		return ids
	}
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// plainText strips the HTML Odoo stores in note fields
func plainText(s string) string {
	s = htmlTag.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
