package picking

import (
	"context"
	"time"

	"github.com/xelth-com/eckpick/internal/models"
	"github.com/xelth-com/eckpick/internal/picking/cache"
)

// Refresher periodically reloads the location list and the operations of the
// first few locations while the location list is on screen.
type Refresher struct {
	fetcher
	interval time.Duration
	limit    int
	pace     time.Duration
}

// RefreshHandle controls one running refresher
type RefreshHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the refresher without waiting for it
func (h *RefreshHandle) Stop() {
	if h != nil {
		h.cancel()
	}
}

// Done closes once the refresher goroutine returned
func (h *RefreshHandle) Done() <-chan struct{} { return h.done }

// Start launches the periodic refresh. onLocations receives every reloaded,
// sorted location list. The refresher ends on its own once launch goes stale.
func (r *Refresher) Start(parent context.Context, pctx PickingContext, zoneID string, launch cache.Ticket, onLocations func([]models.StockLocation)) *RefreshHandle {
	ctx, cancel := context.WithCancel(parent)
	h := &RefreshHandle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !r.tick(ctx, pctx, zoneID, launch, onLocations) {
					return
				}
			}
		}
	}()
	return h
}

// tick reports false once the context it was started for is gone
func (r *Refresher) tick(ctx context.Context, pctx PickingContext, zoneID string, launch cache.Ticket, onLocations func([]models.StockLocation)) bool {
	if !r.cache.Current(launch) {
		r.log.Debug().Str("context", pctx.ContextID().String()).Msg("refresher context invalidated")
		return false
	}
	locs, err := pctx.ListLocations(ctx, zoneID)
	r.metrics.BackgroundFetch(fetchKindRefresh, err)
	if err != nil {
		r.log.Warn().Err(err).Str("zone", zoneID).Msg("location refresh failed")
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	SortLocations(locs, r.locale)
	if onLocations != nil {
		onLocations(locs)
	}

	t := r.cache.Ticket()
	if t.Generation != launch.Generation {
		return false
	}
	n := len(locs)
	if r.limit > 0 {
		n = min(r.limit, n)
	}
	// the location list above was the first call of this tick
	for _, loc := range locs[:n] {
		if !sleep(ctx, r.pace) {
			return false
		}
		r.fetch(ctx, fetchKindRefresh, pctx, t, loc)
	}
	return true
}
