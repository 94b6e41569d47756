package picking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xelth-com/eckpick/internal/models"
	"github.com/xelth-com/eckpick/internal/picking/cache"
	"github.com/xelth-com/eckpick/internal/picking/scanner"
	"github.com/xelth-com/eckpick/internal/picking/store"
)

// Deps are shared by every session of a Manager
type Deps struct {
	Gateway Gateway
	Zones   []models.Zone
	Timing  Timing
	Locale  string
	Retry   RetryPolicy
	Events  EventSink
	Metrics Metrics
	Logger  zerolog.Logger
}

// ScanAlert is the large, self-clearing no-match signal
type ScanAlert struct {
	Input     string    `json:"input"`
	Mode      Mode      `json:"mode"`
	ExpiresAt time.Time `json:"expires_at"`
}

// WriteError is a quantity write the backend did not take.
// The optimistic local value stays in place.
type WriteError struct {
	WriteID     string    `json:"write_id"`
	OperationID int64     `json:"operation_id"`
	DoneQty     float64   `json:"done_qty"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

const maxWriteErrors = 20

// Session is one picker's device: navigation, edits, cache and store
type Session struct {
	ID string

	nav     *Navigator
	mutator *Mutator
	outbox  *Outbox
	cache   *cache.Cache
	store   store.Store
	cancel  context.CancelFunc
	log     zerolog.Logger
	metrics Metrics
	timing  Timing

	mu          sync.Mutex
	alert       *ScanAlert
	alertSeq    uint64
	writeErrors []WriteError
	closed      bool
}

// NewSession restores whatever st holds and starts the write worker
func NewSession(id string, deps Deps, st store.Store) (*Session, error) {
	log := deps.Logger.With().Str("session", id).Logger()
	m := orNop(deps.Metrics)
	events := deps.Events
	if events == nil {
		events = nopSink{}
	}
	timing := deps.Timing.withDefaults()

	c, err := cache.New(st, cache.WithLogger(log), cache.WithObserver(m))
	if err != nil {
		return nil, fmt.Errorf("failed to open session cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:      id,
		cache:   c,
		store:   st,
		cancel:  cancel,
		log:     log,
		metrics: m,
		timing:  timing,
	}
	s.nav = newNavigator(navigatorConfig{
		id:      id,
		baseCtx: ctx,
		gw:      deps.Gateway,
		cache:   c,
		zones:   deps.Zones,
		timing:  timing,
		locale:  parseLocale(deps.Locale),
		log:     log,
		metrics: m,
		events:  events,
	})
	s.outbox = NewOutbox(deps.Gateway.WriteOperationQuantity, deps.Retry, timing.WriteTimeout, log, m, s.writeDone)
	s.mutator = &Mutator{nav: s.nav, outbox: s.outbox}
	m.SessionOpened()
	return s, nil
}

func (s *Session) Navigator() *Navigator { return s.nav }

func (s *Session) Cache() *cache.Cache { return s.cache }

func (s *Session) ListBatches(ctx context.Context) ([]models.Batch, error) {
	return s.nav.ListBatches(ctx)
}

func (s *Session) SearchOrders(ctx context.Context, query string) ([]models.Order, error) {
	return s.nav.SearchOrders(ctx, query)
}

func (s *Session) SwitchFlow(flow Flow) error { return s.nav.SwitchFlow(flow) }

func (s *Session) SelectBatch(ctx context.Context, batchID int64) error {
	return s.nav.SelectBatch(ctx, batchID)
}

func (s *Session) SelectOrder(ctx context.Context, orderID int64) error {
	return s.nav.SelectOrder(ctx, orderID)
}

func (s *Session) SelectZone(ctx context.Context, zoneID string) error {
	return s.nav.SelectZone(ctx, zoneID)
}

func (s *Session) OpenLocation(ctx context.Context, locationID int64) ([]models.Operation, error) {
	return s.nav.OpenLocation(ctx, locationID)
}

func (s *Session) Back() error { return s.nav.Back() }

func (s *Session) ClearCache() error { return s.nav.ClearCache() }

func (s *Session) SetQuantity(ctx context.Context, operationID int64, doneQty float64) (*MutationResult, error) {
	return s.mutator.SetQuantity(ctx, operationID, doneQty)
}

// ScanLocation highlights the location matching input. No match raises the
// scan alert instead of failing the request.
func (s *Session) ScanLocation(input string) (models.StockLocation, error) {
	n := s.nav
	n.mu.Lock()
	if n.st.mode != ModeLocationList {
		defer n.mu.Unlock()
		return models.StockLocation{}, invalidTransition("scan location", n.st.mode)
	}
	loc, ok := scanner.MatchLocation(input, n.st.locations)
	if ok {
		n.setHighlight(loc.ID)
	}
	n.mu.Unlock()

	if !ok {
		s.raiseAlert(input, ModeLocationList)
		return loc, ErrNoMatch
	}
	return loc, nil
}

// ScanOperation finds the operation of the open location matching input
func (s *Session) ScanOperation(input string) (models.Operation, error) {
	n := s.nav
	n.mu.Lock()
	if n.st.mode != ModeOperationList {
		defer n.mu.Unlock()
		return models.Operation{}, invalidTransition("scan product", n.st.mode)
	}
	op, ok := scanner.MatchOperation(input, n.st.operations)
	n.mu.Unlock()

	if !ok {
		s.raiseAlert(input, ModeOperationList)
		return op, ErrNoMatch
	}
	return op, nil
}

func (s *Session) raiseAlert(input string, mode Mode) {
	s.mu.Lock()
	s.alertSeq++
	seq := s.alertSeq
	s.alert = &ScanAlert{Input: input, Mode: mode, ExpiresAt: time.Now().Add(s.timing.ScanAlertDuration)}
	s.mu.Unlock()

	s.log.Info().Str("input", input).Str("mode", string(mode)).Msg("scan matched nothing")
	s.nav.publish(EventScanNoMatch, map[string]any{"input": input, "mode": mode})
	time.AfterFunc(s.timing.ScanAlertDuration, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.alertSeq == seq {
			s.alert = nil
		}
	})
}

// ScanAlert returns the active no-match alert, if any
func (s *Session) ScanAlert() *ScanAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alert == nil {
		return nil
	}
	a := *s.alert
	return &a
}

// writeDone runs on the outbox worker
func (s *Session) writeDone(res WriteResult) {
	w := res.Write
	if res.Err == nil {
		s.cache.ConfirmWrite(w.Ticket, w.Key, cache.Edit{OperationID: w.OperationID, DoneQty: w.DoneQty})
		return
	}
	s.log.Error().Err(res.Err).Int64("operation_id", w.OperationID).Float64("done_qty", w.DoneQty).Int("attempts", res.Attempts).Msg("quantity write failed")

	we := WriteError{
		WriteID:     w.ID,
		OperationID: w.OperationID,
		DoneQty:     w.DoneQty,
		Message:     res.Err.Error(),
		At:          time.Now(),
	}
	s.mu.Lock()
	s.writeErrors = append(s.writeErrors, we)
	if len(s.writeErrors) > maxWriteErrors {
		s.writeErrors = s.writeErrors[len(s.writeErrors)-maxWriteErrors:]
	}
	s.mu.Unlock()
	s.nav.publish(EventWriteFailed, we)
}

// WriteErrors returns the most recent failed writes, oldest first
func (s *Session) WriteErrors() []WriteError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WriteError(nil), s.writeErrors...)
}

// DismissWriteErrors clears the recoverable error banner
func (s *Session) DismissWriteErrors() {
	s.mu.Lock()
	s.writeErrors = nil
	s.mu.Unlock()
}

// Close stops background work. With clear the persistent store is wiped,
// which is what logging out does.
func (s *Session) Close(clear bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.nav.close()
	s.cancel()
	s.outbox.Close()
	s.metrics.SessionClosed()

	var err error
	if clear {
		if cerr := s.cache.InvalidateAll(); cerr != nil {
			err = cerr
		}
	}
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
