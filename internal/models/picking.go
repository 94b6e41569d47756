package models

import (
	"fmt"
	"strings"
	"time"
)

// BatchState mirrors the lifecycle of 'stock.picking.batch'
type BatchState string

const (
	BatchStateDraft      BatchState = "draft"
	BatchStateInProgress BatchState = "in_progress"
	BatchStateDone       BatchState = "done"
)

// Batch mirrors 'stock.picking.batch' (a group of delivery orders picked together).
// Read-only for the picking engine.
type Batch struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	State         BatchState `json:"state"`
	OrderCount    int        `json:"order_count"`
	ProductCount  int        `json:"product_count"`
	NoteCount     int        `json:"note_count"` // customer notes requiring attention
}

// Order mirrors a single 'stock.picking' used by the single picking flow
type Order struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"` // WH/OUT/00042
	PartnerName   string     `json:"partner_name"`
	State         string     `json:"state"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	Origin        string     `json:"origin"`
}

// StockLocation is a pickable slot as seen by the picking flow.
// Name is the full slash-delimited path ("WH/Stock/A01").
type StockLocation struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	Barcode        string   `json:"barcode,omitempty"`
	ProductPreview []string `json:"product_preview,omitempty"`
	OperationCount int      `json:"operation_count"`
}

// ShortName returns the last segment of the location path
func (l StockLocation) ShortName() string {
	name := strings.TrimRight(l.Name, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return strings.TrimSpace(name[i+1:])
	}
	return strings.TrimSpace(name)
}

// Operation is one pick instruction (mirrors 'stock.move.line').
// DoneQty is mutated locally first and pushed to Odoo afterwards.
type Operation struct {
	ID             int64      `json:"id"`
	LocationID     int64      `json:"location_id"`
	ProductID      int64      `json:"product_id"`
	ProductName    string     `json:"product_name"`
	ProductCode    string     `json:"product_code,omitempty"`
	ProductBarcode string     `json:"product_barcode,omitempty"`
	RequiredQty    float64    `json:"required_qty"`
	DoneQty        float64    `json:"done_qty"`
	UoM            string     `json:"uom"`
	Lot            string     `json:"lot,omitempty"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	CustomerName   string     `json:"customer_name,omitempty"`
	CustomerNote   string     `json:"customer_note,omitempty"`
}

// IsDone reports whether the required quantity has been reached (over-pick counts)
func (o Operation) IsDone() bool {
	return o.DoneQty >= o.RequiredQty
}

// IsPartial reports progress that has started but not reached the required quantity
func (o Operation) IsPartial() bool {
	return o.DoneQty > 0 && o.DoneQty < o.RequiredQty
}

// ContextKind separates the batch flow from the single order flow
type ContextKind string

const (
	ContextBatch ContextKind = "batch"
	ContextOrder ContextKind = "order"
)

// ContextID scopes a cache namespace: a batch id or a single order id
type ContextID struct {
	Kind ContextKind `json:"kind"`
	ID   int64       `json:"id"`
}

func BatchContext(id int64) ContextID { return ContextID{Kind: ContextBatch, ID: id} }

func OrderContext(id int64) ContextID { return ContextID{Kind: ContextOrder, ID: id} }

func (c ContextID) String() string {
	return fmt.Sprintf("%s:%d", c.Kind, c.ID)
}

// IsZero reports whether no context has been selected
func (c ContextID) IsZero() bool {
	return c.Kind == "" && c.ID == 0
}

// CacheKey identifies the operations of one location within one context
type CacheKey struct {
	Context    ContextID
	LocationID int64
}

func NewCacheKey(ctx ContextID, locationID int64) CacheKey {
	return CacheKey{Context: ctx, LocationID: locationID}
}

// String is the persisted form, e.g. "batch:10/loc:5"
func (k CacheKey) String() string {
	return fmt.Sprintf("%s/loc:%d", k.Context, k.LocationID)
}

// ParseCacheKey is the inverse of CacheKey.String
func ParseCacheKey(s string) (CacheKey, error) {
	var (
		kind    string
		ctxID   int64
		locID   int64
		key     CacheKey
		ctxPart string
		locPart string
	)
	i := strings.Index(s, "/")
	if i < 0 {
		return key, fmt.Errorf("invalid cache key %q", s)
	}
	ctxPart, locPart = s[:i], s[i+1:]
	j := strings.Index(ctxPart, ":")
	if j < 0 {
		return key, fmt.Errorf("invalid cache key %q", s)
	}
	kind = ctxPart[:j]
	if _, err := fmt.Sscanf(ctxPart[j+1:], "%d", &ctxID); err != nil {
		return key, fmt.Errorf("invalid cache key %q: %w", s, err)
	}
	if _, err := fmt.Sscanf(locPart, "loc:%d", &locID); err != nil {
		return key, fmt.Errorf("invalid cache key %q: %w", s, err)
	}
	switch ContextKind(kind) {
	case ContextBatch, ContextOrder:
	default:
		return key, fmt.Errorf("invalid cache key %q: unknown context kind", s)
	}
	return CacheKey{Context: ContextID{Kind: ContextKind(kind), ID: ctxID}, LocationID: locID}, nil
}

// LocationStatus is derived from the operations of one location, never authoritative.
// CompletedOps counts fully and partially done operations so the UI can tell
// "some progress" apart from "no progress".
type LocationStatus struct {
	CompletedOps     int       `json:"completed_ops"`
	FullyDoneOps     int       `json:"fully_done_ops"`
	TotalOps         int       `json:"total_ops"`
	IsFullyCompleted bool      `json:"is_fully_completed"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Badge is the rendering hint for a location: complete, partial or none
func (s LocationStatus) Badge() string {
	switch {
	case s.IsFullyCompleted:
		return "complete"
	case s.CompletedOps > 0:
		return "partial"
	default:
		return "none"
	}
}

// ComputeLocationStatus derives the status of a location from its operations.
// An empty list is never fully completed.
func ComputeLocationStatus(ops []Operation) LocationStatus {
	status := LocationStatus{TotalOps: len(ops)}
	for _, op := range ops {
		switch {
		case op.IsDone():
			status.FullyDoneOps++
			status.CompletedOps++
		case op.IsPartial():
			status.CompletedOps++
		}
	}
	status.IsFullyCompleted = status.TotalOps > 0 && status.FullyDoneOps == status.TotalOps
	return status
}

// SameProgress compares the derived fields, ignoring UpdatedAt
func (s LocationStatus) SameProgress(other LocationStatus) bool {
	return s.CompletedOps == other.CompletedOps &&
		s.FullyDoneOps == other.FullyDoneOps &&
		s.TotalOps == other.TotalOps &&
		s.IsFullyCompleted == other.IsFullyCompleted
}
