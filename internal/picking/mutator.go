package picking

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/xelth-com/eckpick/internal/models"
	"github.com/xelth-com/eckpick/internal/picking/cache"
)

// MutationResult is what the UI needs right after a quantity change
type MutationResult struct {
	Operation          models.Operation      `json:"operation"`
	Status             models.LocationStatus `json:"status"`
	OperationCompleted bool                  `json:"operation_completed"`
	LocationCompleted  bool                  `json:"location_completed"`
	WriteID            string                `json:"write_id"`

	Write *WriteTicket `json:"-"`
}

// Mutator applies quantity edits: cache first, backend afterwards
type Mutator struct {
	nav    *Navigator
	outbox *Outbox
}

// SetQuantity records doneQty for an operation of the open location.
// The cache and the UI change at once; the backend write is queued.
func (m *Mutator) SetQuantity(ctx context.Context, operationID int64, doneQty float64) (*MutationResult, error) {
	if doneQty < 0 || math.IsNaN(doneQty) || math.IsInf(doneQty, 0) {
		return nil, ErrInvalidQuantity
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := m.nav
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrSessionClosed
	}
	idx := -1
	if n.st.mode == ModeOperationList && n.st.location != nil {
		for i, op := range n.st.operations {
			if op.ID == operationID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		mode := n.st.mode
		n.mu.Unlock()
		n.log.Error().Int64("operation_id", operationID).Str("mode", string(mode)).Msg("quantity change for an operation that is not loaded")
		return nil, fmt.Errorf("%w: %d", ErrOperationNotLoaded, operationID)
	}

	loc := *n.st.location
	key := models.NewCacheKey(n.st.pctx.ContextID(), loc.ID)
	before := models.ComputeLocationStatus(n.st.operations)
	old := n.st.operations[idx]

	next := cloneOperations(n.st.operations)
	next[idx].DoneQty = doneQty
	status, err := n.cache.StoreLocal(key, next, cache.Edit{OperationID: operationID, DoneQty: doneQty})
	if err != nil {
		n.mu.Unlock()
		n.log.Error().Err(err).Str("key", key.String()).Msg("failed to store quantity change")
		return nil, err
	}
	n.st.operations = next

	res := &MutationResult{
		Operation:          next[idx],
		Status:             status,
		OperationCompleted: old.DoneQty < old.RequiredQty && doneQty >= old.RequiredQty,
		LocationCompleted:  !before.IsFullyCompleted && status.IsFullyCompleted,
	}
	if res.OperationCompleted {
		n.publish(EventOperationCompleted, map[string]any{"operation_id": operationID, "location_id": loc.ID})
	}
	if res.LocationCompleted {
		if tm := n.st.timings[loc.ID]; tm != nil {
			tm.completedAt = n.now()
		}
		n.publish(EventLocationCompleted, map[string]any{"location_id": loc.ID})
		n.scheduleAdvance(loc.ID)
	}

	// enqueued under the lock so backend order matches edit order
	w := QuantityWrite{
		ID:          uuid.NewString(),
		Key:         key,
		OperationID: operationID,
		DoneQty:     doneQty,
		Ticket:      n.cache.Ticket(),
	}
	res.WriteID = w.ID
	res.Write = m.outbox.Enqueue(w)
	n.mu.Unlock()
	return res, nil
}
