package picking

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/xelth-com/eckpick/internal/models"
	"github.com/xelth-com/eckpick/internal/picking/cache"
)

const (
	fetchKindPrefetch = "prefetch"
	fetchKindRefresh  = "refresh"
)

// fetcher is the shared background path: load, sort, hand to the cache
type fetcher struct {
	cache   *cache.Cache
	log     zerolog.Logger
	metrics Metrics
	locale  language.Tag
}

func (f *fetcher) fetch(ctx context.Context, kind string, pctx PickingContext, t cache.Ticket, loc models.StockLocation) error {
	ops, err := pctx.ListOperations(ctx, loc.ID)
	f.metrics.BackgroundFetch(kind, err)
	if err != nil {
		f.log.Warn().Err(err).Str("kind", kind).Int64("location_id", loc.ID).Msg("background fetch failed")
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	SortOperations(ops, f.locale)
	key := models.NewCacheKey(pctx.ContextID(), loc.ID)
	if _, _, err := f.cache.StoreFetched(t, key, ops); err != nil {
		f.log.Error().Err(err).Str("key", key.String()).Msg("failed to store fetched operations")
		return err
	}
	return nil
}

// sleep waits d or until ctx ends; it reports whether work may continue
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Prefetcher warms the cache for the first locations of a freshly entered zone
type Prefetcher struct {
	fetcher
	count int
	pace  time.Duration
}

// Run fetches the first count uncached locations one after another.
// It never fails: errors are logged and the next location is tried.
// Every gateway call after the first waits out the pace, failed or not.
// Returns the number of locations fetched.
func (p *Prefetcher) Run(ctx context.Context, pctx PickingContext, locs []models.StockLocation, t cache.Ticket) int {
	n := min(p.count, len(locs))
	attempted, fetched := 0, 0
	for _, loc := range locs[:n] {
		if ctx.Err() != nil || !p.cache.Current(t) {
			return fetched
		}
		if p.cache.Has(models.NewCacheKey(pctx.ContextID(), loc.ID)) {
			continue
		}
		if attempted > 0 && !sleep(ctx, p.pace) {
			return fetched
		}
		attempted++
		if err := p.fetch(ctx, fetchKindPrefetch, pctx, t, loc); err == nil {
			fetched++
		}
	}
	if fetched > 0 {
		p.log.Debug().Int("fetched", fetched).Str("context", pctx.ContextID().String()).Msg("prefetch finished")
	}
	return fetched
}

// Launch runs the prefetch in its own goroutine; the channel closes when done
func (p *Prefetcher) Launch(ctx context.Context, pctx PickingContext, locs []models.StockLocation, t cache.Ticket) <-chan struct{} {
	done := make(chan struct{})
	list := append([]models.StockLocation(nil), locs...)
	go func() {
		defer close(done)
		p.Run(ctx, pctx, list, t)
	}()
	return done
}
