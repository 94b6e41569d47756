// Package cache is the in-memory mirror of a picking session's persistent store.
//
// All writers (prefetch, refresh, user edits) go through one Cache, which
// serializes them under a single lock and persists each change before it
// becomes visible in memory.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xelth-com/eckpick/internal/models"
	"github.com/xelth-com/eckpick/internal/picking/store"
)

// ErrInconsistentStatus is returned by SetStatus when the status does not match
// the operations stored under the same key.
var ErrInconsistentStatus = errors.New("status does not match cached operations")

// Drop reasons reported to the Observer
const (
	DropStaleContext = "stale_context"
	DropSuperseded   = "superseded_by_local_edit"
)

// Observer receives cache events, typically a metrics collector
type Observer interface {
	CacheHit()
	CacheMiss()
	WriteDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) CacheHit()           {}
func (nopObserver) CacheMiss()          {}
func (nopObserver) WriteDropped(string) {}

// Ticket tags background work with the cache state it was launched against.
// Generation changes on every invalidation; Seq orders writes within a generation.
type Ticket struct {
	Generation uint64
	Seq        uint64
	IssuedAt   time.Time
}

// Edit is one user quantity change on a cached operation
type Edit struct {
	OperationID int64
	DoneQty     float64
}

type pendingEdit struct {
	doneQty float64
	seq     uint64
}

// Cache mirrors the persistent store of one session
type Cache struct {
	mu       sync.RWMutex
	store    store.Store
	log      zerolog.Logger
	observer Observer
	now      func() time.Time

	generation uint64
	seq        uint64

	operations map[string][]models.Operation
	timestamps map[string]time.Time
	statuses   map[string]models.LocationStatus

	// unconfirmed local edits, overlaid on fetched snapshots
	pending map[string]map[int64]pendingEdit
	// seq of the latest local edit per key
	localSeq map[string]uint64
}

// Option configures a Cache
type Option func(*Cache)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

func WithObserver(o Observer) Option {
	return func(c *Cache) {
		if o != nil {
			c.observer = o
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache over st and hydrates it from whatever st already holds.
// Unreadable persisted state is discarded: the cache only ever warms.
func New(st store.Store, opts ...Option) (*Cache, error) {
	c := &Cache{
		store:      st,
		log:        zerolog.Nop(),
		observer:   nopObserver{},
		now:        time.Now,
		generation: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reset()

	if err := c.hydrate(); err != nil {
		c.log.Warn().Err(err).Msg("discarding unreadable session cache")
		c.reset()
		if err := st.Clear(); err != nil {
			return nil, fmt.Errorf("failed to clear session store: %w", err)
		}
	}
	return c, nil
}

func (c *Cache) reset() {
	c.operations = make(map[string][]models.Operation)
	c.timestamps = make(map[string]time.Time)
	c.statuses = make(map[string]models.LocationStatus)
	c.pending = make(map[string]map[int64]pendingEdit)
	c.localSeq = make(map[string]uint64)
}

func (c *Cache) hydrate() error {
	entries, err := c.store.Load()
	if err != nil {
		return err
	}
	ops := make(map[string][]models.Operation)
	stamps := make(map[string]time.Time)
	statuses := make(map[string]models.LocationStatus)
	if err := unmarshalEntry(entries, store.EntryOperations, &ops); err != nil {
		return err
	}
	if err := unmarshalEntry(entries, store.EntryTimestamps, &stamps); err != nil {
		return err
	}
	if err := unmarshalEntry(entries, store.EntryStatuses, &statuses); err != nil {
		return err
	}
	for key, list := range ops {
		if _, err := models.ParseCacheKey(key); err != nil {
			return err
		}
		// status is derived; never trust a persisted one that disagrees
		status := models.ComputeLocationStatus(list)
		status.UpdatedAt = stamps[key]
		statuses[key] = status
	}
	for key := range statuses {
		if _, ok := ops[key]; !ok {
			delete(statuses, key)
		}
	}
	c.operations, c.timestamps, c.statuses = ops, stamps, statuses
	if len(ops) > 0 {
		c.log.Info().Int("locations", len(ops)).Msg("session cache restored")
	}
	return nil
}

func unmarshalEntry(entries map[string][]byte, name string, v any) error {
	raw, ok := entries[name]
	if !ok || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("entry %s: %w", name, err)
	}
	return nil
}

// Ticket returns the tag background work must carry to write later
func (c *Cache) Ticket() Ticket {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Ticket{Generation: c.generation, Seq: c.seq, IssuedAt: c.now()}
}

// Current reports whether t still belongs to the live generation
func (c *Cache) Current(t Ticket) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return t.Generation == c.generation
}

// Get returns a copy of the cached operations for key
func (c *Cache) Get(key models.CacheKey) ([]models.Operation, bool) {
	c.mu.RLock()
	ops, ok := c.operations[key.String()]
	c.mu.RUnlock()
	if !ok {
		c.observer.CacheMiss()
		return nil, false
	}
	c.observer.CacheHit()
	return cloneOps(ops), true
}

// Has reports whether key is cached, without counting a hit or miss
func (c *Cache) Has(key models.CacheKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.operations[key.String()]
	return ok
}

// Peek returns a copy of the cached operations without counting a hit or miss
func (c *Cache) Peek(key models.CacheKey) ([]models.Operation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ops, ok := c.operations[key.String()]
	if !ok {
		return nil, false
	}
	return cloneOps(ops), true
}

// HoldsOnly reports whether every cached entry belongs to ctx
func (c *Cache) HoldsOnly(ctx models.ContextID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for raw := range c.operations {
		key, err := models.ParseCacheKey(raw)
		if err != nil || key.Context != ctx {
			return false
		}
	}
	return true
}

// GetStatus returns the derived status stored for key
func (c *Cache) GetStatus(key models.CacheKey) (models.LocationStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.statuses[key.String()]
	return s, ok
}

// StatusesFor returns every cached status of one context, by location id
func (c *Cache) StatusesFor(ctx models.ContextID) map[int64]models.LocationStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]models.LocationStatus)
	for raw, status := range c.statuses {
		key, err := models.ParseCacheKey(raw)
		if err != nil || key.Context != ctx {
			continue
		}
		out[key.LocationID] = status
	}
	return out
}

// Timestamp returns when key was last written
func (c *Cache) Timestamp(key models.CacheKey) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.timestamps[key.String()]
	return ts, ok
}

// Len returns the number of cached locations
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.operations)
}

// Keys lists the cached keys in their persisted order
func (c *Cache) Keys() []models.CacheKey {
	c.mu.RLock()
	names := make([]string, 0, len(c.operations))
	for name := range c.operations {
		names = append(names, name)
	}
	slices.Sort(names)
	c.mu.RUnlock()

	keys := make([]models.CacheKey, 0, len(names))
	for _, name := range names {
		key, err := models.ParseCacheKey(name)
		if err != nil {
			c.log.Warn().Err(err).Msg("skipping unreadable cache key")
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Put stores ops and their derived status under key
func (c *Cache) Put(key models.CacheKey, ops []models.Operation) (models.LocationStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(key.String(), cloneOps(ops))
}

// SetStatus stores a status for key. The status must agree with the cached
// operations, otherwise ErrInconsistentStatus is returned and nothing changes.
func (c *Cache) SetStatus(key models.CacheKey, status models.LocationStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key.String()
	ops, ok := c.operations[k]
	if !ok || !models.ComputeLocationStatus(ops).SameProgress(status) {
		return ErrInconsistentStatus
	}
	_, err := c.write(k, ops)
	return err
}

// StoreLocal is the optimistic user write. The edit stays pending, and wins
// over fetched snapshots, until ConfirmWrite is called for it.
func (c *Cache) StoreLocal(key models.CacheKey, ops []models.Operation, edit Edit) (models.LocationStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key.String()
	status, err := c.write(k, cloneOps(ops))
	if err != nil {
		return status, err
	}
	if c.pending[k] == nil {
		c.pending[k] = make(map[int64]pendingEdit)
	}
	c.pending[k][edit.OperationID] = pendingEdit{doneQty: edit.DoneQty, seq: c.seq}
	c.localSeq[k] = c.seq
	return status, nil
}

// StoreFetched is the only entry point for background writes. The write is
// dropped when the ticket belongs to an invalidated generation or was issued
// before a later local edit of the same key. Pending local edits are laid over
// the fetched snapshot. stored reports whether anything was written.
func (c *Cache) StoreFetched(t Ticket, key models.CacheKey, ops []models.Operation) (status models.LocationStatus, stored bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key.String()
	if t.Generation != c.generation {
		c.observer.WriteDropped(DropStaleContext)
		c.log.Debug().Str("key", k).Msg("dropping fetch for invalidated context")
		return status, false, nil
	}
	if seq, ok := c.localSeq[k]; ok && seq > t.Seq {
		c.observer.WriteDropped(DropSuperseded)
		c.log.Debug().Str("key", k).Msg("dropping fetch older than local edit")
		return c.statuses[k], false, nil
	}

	merged := cloneOps(ops)
	if edits := c.pending[k]; len(edits) > 0 {
		for i := range merged {
			if e, ok := edits[merged[i].ID]; ok {
				merged[i].DoneQty = e.doneQty
			}
		}
	}
	status, err = c.write(k, merged)
	return status, err == nil, err
}

// ConfirmWrite clears a pending edit once the backend accepted it. A later
// edit of the same operation keeps its own pending entry. Releasing the
// overlay counts as a local event: fetches ticketed before it may have read
// the backend ahead of the write and are dropped.
func (c *Cache) ConfirmWrite(t Ticket, key models.CacheKey, edit Edit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Generation != c.generation {
		return
	}
	k := key.String()
	if e, ok := c.pending[k][edit.OperationID]; ok && e.doneQty == edit.DoneQty {
		delete(c.pending[k], edit.OperationID)
		if len(c.pending[k]) == 0 {
			delete(c.pending, k)
		}
		c.seq++
		c.localSeq[k] = c.seq
	}
}

// PendingEdits returns the number of unconfirmed local edits
func (c *Cache) PendingEdits() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, edits := range c.pending {
		n += len(edits)
	}
	return n
}

// InvalidateAll flushes memory and the persistent store together. Any ticket
// issued before the call becomes stale.
func (c *Cache) InvalidateAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear session store: %w", err)
	}
	c.reset()
	c.generation++
	c.log.Debug().Uint64("generation", c.generation).Msg("cache invalidated")
	return nil
}

// write persists the next state, then swaps it in. Callers hold c.mu.
func (c *Cache) write(k string, ops []models.Operation) (models.LocationStatus, error) {
	now := c.now()
	status := models.ComputeLocationStatus(ops)
	status.UpdatedAt = now

	nextOps := maps.Clone(c.operations)
	nextOps[k] = ops
	nextStamps := maps.Clone(c.timestamps)
	nextStamps[k] = now
	nextStatuses := maps.Clone(c.statuses)
	nextStatuses[k] = status

	entries, err := encode(nextOps, nextStamps, nextStatuses)
	if err != nil {
		return status, err
	}
	if err := c.store.Save(entries); err != nil {
		return status, fmt.Errorf("failed to persist cache entry %s: %w", k, err)
	}

	c.operations, c.timestamps, c.statuses = nextOps, nextStamps, nextStatuses
	c.seq++
	return status, nil
}

func encode(ops map[string][]models.Operation, stamps map[string]time.Time, statuses map[string]models.LocationStatus) (map[string][]byte, error) {
	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operations: %w", err)
	}
	stampsJSON, err := json.Marshal(stamps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode timestamps: %w", err)
	}
	statusJSON, err := json.Marshal(statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to encode statuses: %w", err)
	}
	return map[string][]byte{
		store.EntryOperations: opsJSON,
		store.EntryTimestamps: stampsJSON,
		store.EntryStatuses:   statusJSON,
	}, nil
}

func cloneOps(ops []models.Operation) []models.Operation {
	if ops == nil {
		return []models.Operation{}
	}
	out := make([]models.Operation, len(ops))
	copy(out, ops)
	return out
}
