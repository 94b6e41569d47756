package picking

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/xelth-com/eckpick/internal/models"
	"github.com/xelth-com/eckpick/internal/picking/cache"
)

// Mode is the screen the picker is on
type Mode string

const (
	ModeBatchSelect   Mode = "batch_select"
	ModeOrderSelect   Mode = "order_select"
	ModeZoneSelect    Mode = "zone_select"
	ModeLocationList  Mode = "location_list"
	ModeOperationList Mode = "operation_list"
	ModeCelebration   Mode = "celebration"
)

// Flow is batch picking (zone by zone) or single order picking
type Flow string

const (
	FlowBatch  Flow = "batch"
	FlowSingle Flow = "single"
)

type locationTiming struct {
	openedAt    time.Time
	completedAt time.Time
}

type navState struct {
	mode Mode
	flow Flow
	pctx PickingContext

	batch      *models.Batch
	order      *models.Order
	zoneCounts map[string]int

	zone       *models.Zone
	locations  []models.StockLocation
	location   *models.StockLocation
	operations []models.Operation

	highlighted int64
	celebrated  bool
	// visit changes whenever the location list is entered or left;
	// delayed callbacks compare it before acting
	visit     uint64
	zoneStart time.Time
	timings   map[int64]*locationTiming

	batches []models.Batch
	orders  []models.Order
}

// Navigator owns the picking state machine of one session. Every transition
// runs under one lock; network calls run outside of it.
type Navigator struct {
	id      string
	baseCtx context.Context
	gw      Gateway
	cache   *cache.Cache
	zones   []models.Zone
	timing  Timing
	locale  language.Tag
	log     zerolog.Logger
	metrics Metrics
	events  EventSink
	now     func() time.Time

	prefetcher *Prefetcher
	refresher  *Refresher
	loads      singleflight.Group

	mu          sync.Mutex
	st          navState
	refresh     *RefreshHandle
	prefetching <-chan struct{}
	closed      bool
}

type navigatorConfig struct {
	id      string
	baseCtx context.Context
	gw      Gateway
	cache   *cache.Cache
	zones   []models.Zone
	timing  Timing
	locale  language.Tag
	log     zerolog.Logger
	metrics Metrics
	events  EventSink
}

func newNavigator(cfg navigatorConfig) *Navigator {
	f := fetcher{cache: cfg.cache, log: cfg.log, metrics: cfg.metrics, locale: cfg.locale}
	zones := append([]models.Zone(nil), cfg.zones...)
	models.SortZones(zones)
	return &Navigator{
		id:         cfg.id,
		baseCtx:    cfg.baseCtx,
		gw:         cfg.gw,
		cache:      cfg.cache,
		zones:      zones,
		timing:     cfg.timing,
		locale:     cfg.locale,
		log:        cfg.log,
		metrics:    cfg.metrics,
		events:     cfg.events,
		now:        time.Now,
		prefetcher: &Prefetcher{fetcher: f, count: cfg.timing.PrefetchCount, pace: cfg.timing.PrefetchPace},
		refresher: &Refresher{
			fetcher:  f,
			interval: cfg.timing.RefreshInterval,
			limit:    cfg.timing.RefreshLocationLimit,
			pace:     cfg.timing.RefreshPace,
		},
		st: navState{mode: ModeBatchSelect, flow: FlowBatch},
	}
}

// Mode returns the current screen
func (n *Navigator) Mode() Mode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.st.mode
}

// Zones returns the configured zones in display order
func (n *Navigator) Zones() []models.Zone {
	return append([]models.Zone(nil), n.zones...)
}

// ListBatches loads the batch selection screen
func (n *Navigator) ListBatches(ctx context.Context) ([]models.Batch, error) {
	batches, err := n.gw.ListBatches(ctx)
	n.metrics.GatewayCall("list_batches", err)
	if err != nil {
		n.log.Error().Err(err).Msg("failed to list batches")
		return nil, remote("list batches", err)
	}
	n.mu.Lock()
	n.st.batches = batches
	n.mu.Unlock()
	return batches, nil
}

// SearchOrders loads the order selection screen of the single flow
func (n *Navigator) SearchOrders(ctx context.Context, query string) ([]models.Order, error) {
	orders, err := n.gw.SearchOrders(ctx, query)
	n.metrics.GatewayCall("search_orders", err)
	if err != nil {
		n.log.Error().Err(err).Str("query", query).Msg("failed to search orders")
		return nil, remote("search orders", err)
	}
	n.mu.Lock()
	n.st.orders = orders
	n.mu.Unlock()
	return orders, nil
}

// SwitchFlow toggles between batch picking and single order picking
func (n *Navigator) SwitchFlow(flow Flow) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.st.mode != ModeBatchSelect && n.st.mode != ModeOrderSelect {
		return invalidTransition("switch flow", n.st.mode)
	}
	n.st.flow = flow
	if flow == FlowSingle {
		n.st.mode = ModeOrderSelect
	} else {
		n.st.mode = ModeBatchSelect
	}
	n.publishState()
	return nil
}

// SelectBatch makes batchID the active context and shows its zones.
// Zone counts are best effort: a failure leaves them empty.
func (n *Navigator) SelectBatch(ctx context.Context, batchID int64) error {
	n.mu.Lock()
	if n.st.mode != ModeBatchSelect && n.st.mode != ModeZoneSelect {
		defer n.mu.Unlock()
		return invalidTransition("select batch", n.st.mode)
	}
	pctx := NewBatchContext(n.gw, n.metrics, batchID)
	if err := n.switchContext(pctx); err != nil {
		n.mu.Unlock()
		return err
	}
	n.st.batch = n.lookupBatch(batchID)
	n.st.order = nil
	n.st.flow = FlowBatch
	n.st.mode = ModeZoneSelect
	n.publishState()
	n.mu.Unlock()

	counts, err := n.gw.ListZoneAggregateCounts(ctx, batchID)
	n.metrics.GatewayCall("list_zone_aggregate_counts", err)
	if err != nil {
		n.log.Warn().Err(err).Int64("batch_id", batchID).Msg("zone counts unavailable")
		counts = map[string]int{}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.st.pctx == pctx {
		n.st.zoneCounts = counts
		n.publishState()
	}
	return nil
}

// SelectOrder makes orderID the active context and goes straight to its locations
func (n *Navigator) SelectOrder(ctx context.Context, orderID int64) error {
	n.mu.Lock()
	if n.st.mode != ModeOrderSelect {
		defer n.mu.Unlock()
		return invalidTransition("select order", n.st.mode)
	}
	pctx := NewOrderContext(n.gw, n.metrics, orderID)
	if err := n.switchContext(pctx); err != nil {
		n.mu.Unlock()
		return err
	}
	n.st.order = n.lookupOrder(orderID)
	n.st.batch = nil
	n.st.flow = FlowSingle
	n.mu.Unlock()

	return n.enterList(ctx, pctx, nil, ModeOrderSelect)
}

// SelectZone loads the locations of zoneID. Failure keeps the zone screen.
func (n *Navigator) SelectZone(ctx context.Context, zoneID string) error {
	n.mu.Lock()
	if n.st.mode != ModeZoneSelect {
		defer n.mu.Unlock()
		return invalidTransition("select zone", n.st.mode)
	}
	zone, ok := models.FindZone(n.zones, zoneID)
	if !ok {
		n.mu.Unlock()
		return ErrUnknownZone
	}
	pctx := n.st.pctx
	n.mu.Unlock()

	return n.enterList(ctx, pctx, &zone, ModeZoneSelect)
}

// enterList loads the location list without holding the lock, then moves to
// the list only if nothing else happened meanwhile.
func (n *Navigator) enterList(ctx context.Context, pctx PickingContext, zone *models.Zone, from Mode) error {
	zoneID := ""
	if zone != nil {
		zoneID = zone.ID
	}
	locs, err := pctx.ListLocations(ctx, zoneID)

	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		n.log.Error().Err(err).Str("context", pctx.ContextID().String()).Str("zone", zoneID).Msg("failed to load locations")
		return err
	}
	if n.closed {
		return ErrSessionClosed
	}
	if n.st.mode != from || n.st.pctx != pctx {
		return ErrStaleContext
	}
	SortLocations(locs, n.locale)

	n.st.zone = zone
	n.st.locations = locs
	n.st.location = nil
	n.st.operations = nil
	n.st.highlighted = 0
	n.st.celebrated = false
	n.st.visit++
	n.st.zoneStart = n.now()
	n.st.timings = make(map[int64]*locationTiming)
	n.st.mode = ModeLocationList

	n.prefetching = n.prefetcher.Launch(n.baseCtx, pctx, locs, n.cache.Ticket())
	n.startRefresh()
	n.log.Info().Str("context", pctx.ContextID().String()).Str("zone", zoneID).Int("locations", len(locs)).Msg("entered location list")
	n.publishState()
	return nil
}

// OpenLocation shows the operations of locationID, from cache when possible.
// On a load failure the list stays on screen.
func (n *Navigator) OpenLocation(ctx context.Context, locationID int64) ([]models.Operation, error) {
	n.mu.Lock()
	if n.st.mode != ModeLocationList {
		defer n.mu.Unlock()
		return nil, invalidTransition("open location", n.st.mode)
	}
	loc, ok := n.findLocation(locationID)
	if !ok {
		n.mu.Unlock()
		return nil, ErrUnknownLocation
	}
	pctx, visit := n.st.pctx, n.st.visit
	key := models.NewCacheKey(pctx.ContextID(), locationID)
	if ops, ok := n.cache.Get(key); ok {
		defer n.mu.Unlock()
		n.showLocation(loc, ops)
		return cloneOperations(ops), nil
	}
	t := n.cache.Ticket()
	n.mu.Unlock()

	ops, err := n.loadOperations(ctx, pctx, key, t)

	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		n.log.Error().Err(err).Str("key", key.String()).Msg("failed to load operations")
		return nil, err
	}
	if n.st.visit != visit || n.st.mode != ModeLocationList {
		return nil, ErrStaleContext
	}
	n.showLocation(loc, ops)
	return cloneOperations(ops), nil
}

// loadOperations collapses concurrent loads of the same key into one call
func (n *Navigator) loadOperations(ctx context.Context, pctx PickingContext, key models.CacheKey, t cache.Ticket) ([]models.Operation, error) {
	v, err, _ := n.loads.Do(key.String(), func() (any, error) {
		ops, err := pctx.ListOperations(ctx, key.LocationID)
		if err != nil {
			return nil, err
		}
		SortOperations(ops, n.locale)
		if _, _, err := n.cache.StoreFetched(t, key, ops); err != nil {
			return nil, err
		}
		// a pending local edit may have been laid over the snapshot
		if cached, ok := n.cache.Peek(key); ok && n.cache.Current(t) {
			return cached, nil
		}
		return ops, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneOperations(v.([]models.Operation)), nil
}

// Back leaves the current screen for its parent
func (n *Navigator) Back() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.st.mode {
	case ModeOperationList:
		n.st.mode = ModeLocationList
		n.st.location = nil
		n.st.operations = nil
		n.startRefresh()
	case ModeLocationList, ModeCelebration:
		n.stopRefresh()
		if n.st.pctx != nil && n.st.pctx.ReportsCompletion() {
			n.publishZoneReport()
		}
		n.leaveList()
		if n.st.flow == FlowSingle {
			n.st.mode = ModeOrderSelect
		} else {
			n.st.mode = ModeZoneSelect
		}
	case ModeZoneSelect:
		n.st.mode = ModeBatchSelect
	default:
		return invalidTransition("go back", n.st.mode)
	}
	n.publishState()
	return nil
}

// Highlight marks a location in the list without opening it
func (n *Navigator) Highlight(locationID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.st.mode != ModeLocationList {
		return invalidTransition("highlight location", n.st.mode)
	}
	if _, ok := n.findLocation(locationID); !ok {
		return ErrUnknownLocation
	}
	n.setHighlight(locationID)
	return nil
}

// ClearCache drops every cached entry while keeping the current screen.
// An open location keeps its in-view operations.
func (n *Navigator) ClearCache() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.cache.InvalidateAll(); err != nil {
		return err
	}
	if n.st.mode == ModeLocationList || n.st.mode == ModeCelebration {
		n.startRefresh()
	}
	n.log.Info().Msg("session cache cleared")
	n.publishState()
	return nil
}

// WaitPrefetch blocks until the last launched prefetch finished
func (n *Navigator) WaitPrefetch(ctx context.Context) error {
	n.mu.Lock()
	done := n.prefetching
	n.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Navigator) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.stopRefresh()
	n.st.visit++
}

// switchContext invalidates the cache unless pctx is the context it already
// serves. Callers hold n.mu.
func (n *Navigator) switchContext(pctx PickingContext) error {
	n.stopRefresh()
	id := pctx.ContextID()
	changed := n.st.pctx != nil && n.st.pctx.ContextID() != id
	if changed || !n.cache.HoldsOnly(id) {
		if err := n.cache.InvalidateAll(); err != nil {
			n.log.Error().Err(err).Msg("failed to invalidate cache on context switch")
			return err
		}
	}
	n.leaveList()
	n.st.pctx = pctx
	n.st.zoneCounts = nil
	return nil
}

// leaveList resets everything scoped to one visit of a location list
func (n *Navigator) leaveList() {
	n.st.zone = nil
	n.st.locations = nil
	n.st.location = nil
	n.st.operations = nil
	n.st.highlighted = 0
	n.st.celebrated = false
	n.st.zoneStart = time.Time{}
	n.st.timings = nil
	n.st.visit++
}

func (n *Navigator) showLocation(loc models.StockLocation, ops []models.Operation) {
	n.stopRefresh()
	n.st.location = &loc
	n.st.operations = ops
	n.st.highlighted = loc.ID
	n.st.mode = ModeOperationList
	if n.st.timings != nil {
		tm := n.st.timings[loc.ID]
		if tm == nil {
			tm = &locationTiming{}
			n.st.timings[loc.ID] = tm
		}
		if tm.openedAt.IsZero() {
			tm.openedAt = n.now()
		}
	}
	n.publishState()
}

func (n *Navigator) startRefresh() {
	n.stopRefresh()
	if n.closed || n.st.pctx == nil {
		return
	}
	zoneID := ""
	if n.st.zone != nil {
		zoneID = n.st.zone.ID
	}
	visit := n.st.visit
	n.refresh = n.refresher.Start(n.baseCtx, n.st.pctx, zoneID, n.cache.Ticket(), func(locs []models.StockLocation) {
		n.applyRefresh(visit, locs)
	})
}

func (n *Navigator) stopRefresh() {
	if n.refresh != nil {
		n.refresh.Stop()
		n.refresh = nil
	}
}

func (n *Navigator) applyRefresh(visit uint64, locs []models.StockLocation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.st.visit != visit {
		return
	}
	if n.st.mode != ModeLocationList && n.st.mode != ModeCelebration {
		return
	}
	n.st.locations = locs
	n.publish(EventLocationsRefreshed, map[string]any{"count": len(locs)})
}

// scheduleAdvance runs the auto-advance after the configured delay.
// Callers hold n.mu.
func (n *Navigator) scheduleAdvance(locationID int64) {
	visit := n.st.visit
	time.AfterFunc(n.timing.AdvanceDelay, func() {
		n.autoAdvance(visit, locationID)
	})
}

// autoAdvance returns to the list when the open location is done and
// highlights the next incomplete location after it. It never opens one.
func (n *Navigator) autoAdvance(visit uint64, locationID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || n.st.visit != visit {
		return
	}
	switch n.st.mode {
	case ModeOperationList:
		if n.st.location == nil || n.st.location.ID != locationID {
			return
		}
		if !models.ComputeLocationStatus(n.st.operations).IsFullyCompleted {
			return
		}
		n.st.mode = ModeLocationList
		n.st.location = nil
		n.st.operations = nil
		n.startRefresh()
	case ModeLocationList:
	default:
		return
	}
	n.advanceFrom(locationID)
	n.publishState()
}

// advanceFrom scans forward only; earlier incomplete locations are left alone
func (n *Navigator) advanceFrom(locationID int64) {
	statuses := n.cache.StatusesFor(n.st.pctx.ContextID())
	start := -1
	for i, loc := range n.st.locations {
		if loc.ID == locationID {
			start = i
			break
		}
	}
	for _, loc := range n.st.locations[start+1:] {
		if !statuses[loc.ID].IsFullyCompleted {
			n.setHighlight(loc.ID)
			return
		}
	}
	if n.allComplete(statuses) {
		n.celebrate()
	}
}

func (n *Navigator) allComplete(statuses map[int64]models.LocationStatus) bool {
	if len(n.st.locations) == 0 {
		return false
	}
	for _, loc := range n.st.locations {
		if !statuses[loc.ID].IsFullyCompleted {
			return false
		}
	}
	return true
}

func (n *Navigator) setHighlight(locationID int64) {
	n.st.highlighted = locationID
	n.publish(EventLocationHighlighted, map[string]any{"location_id": locationID})
}

// celebrate fires at most once per visit of a location list
func (n *Navigator) celebrate() {
	if n.st.celebrated {
		return
	}
	n.st.celebrated = true
	n.st.mode = ModeCelebration
	n.publish(EventCelebrationStarted, n.zoneData())
	visit := n.st.visit
	time.AfterFunc(n.timing.CelebrationDuration, func() {
		n.endCelebration(visit)
	})
}

func (n *Navigator) endCelebration(visit uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || n.st.visit != visit || n.st.mode != ModeCelebration {
		return
	}
	n.st.mode = ModeLocationList
	n.publish(EventCelebrationEnded, n.zoneData())
	n.publishState()
}

func (n *Navigator) zoneData() map[string]any {
	data := map[string]any{"locations": len(n.st.locations)}
	if n.st.zone != nil {
		data["zone_id"] = n.st.zone.ID
	}
	return data
}

func (n *Navigator) findLocation(id int64) (models.StockLocation, bool) {
	for _, loc := range n.st.locations {
		if loc.ID == id {
			return loc, true
		}
	}
	return models.StockLocation{}, false
}

func (n *Navigator) lookupBatch(id int64) *models.Batch {
	for _, b := range n.st.batches {
		if b.ID == id {
			return &b
		}
	}
	return &models.Batch{ID: id}
}

func (n *Navigator) lookupOrder(id int64) *models.Order {
	for _, o := range n.st.orders {
		if o.ID == id {
			return &o
		}
	}
	return &models.Order{ID: id}
}

func (n *Navigator) publish(t EventType, data any) {
	n.events.Publish(Event{Type: t, SessionID: n.id, At: n.now(), Data: data})
}

func (n *Navigator) publishState() {
	n.publish(EventStateChanged, map[string]any{"mode": n.st.mode, "flow": n.st.flow})
}

func cloneOperations(ops []models.Operation) []models.Operation {
	return append([]models.Operation(nil), ops...)
}
