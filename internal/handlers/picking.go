package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/xelth-com/eckpick/internal/middleware"
	"github.com/xelth-com/eckpick/internal/models"
	"github.com/xelth-com/eckpick/internal/picking"
)

// FlowRequest switches between batch and single order picking
type FlowRequest struct {
	Flow picking.Flow `json:"flow"`
}

// QuantityRequest sets the done quantity of one operation
type QuantityRequest struct {
	DoneQty *float64 `json:"done_qty"`
}

// ScanRequest represents the payload from a scanner
type ScanRequest struct {
	Barcode string `json:"barcode"`
}

// ScanResponse tells which kind of record the scan resolved to
type ScanResponse struct {
	Type      string                `json:"type"` // location, operation
	Location  *models.StockLocation `json:"location,omitempty"`
	Operation *models.Operation     `json:"operation,omitempty"`
}

// session resolves (or opens) the session named by the request header
func (r *Router) session(w http.ResponseWriter, req *http.Request) (*picking.Session, bool) {
	id, _ := middleware.SessionFromContext(req.Context())
	s, err := r.sessions.Session(id)
	if err != nil {
		r.fail(w, err)
		return nil, false
	}
	return s, true
}

func pathID(req *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
}

func (r *Router) getState(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot())
}

// endSession is the logout: background work stops and the cache is wiped
func (r *Router) endSession(w http.ResponseWriter, req *http.Request) {
	id, _ := middleware.SessionFromContext(req.Context())
	if err := r.sessions.End(id); err != nil {
		r.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) switchFlow(w http.ResponseWriter, req *http.Request) {
	var body FlowRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		return
	}
	if body.Flow != picking.FlowBatch && body.Flow != picking.FlowSingle {
		respondError(w, http.StatusBadRequest, "INVALID_FLOW", "flow must be batch or single")
		return
	}
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	if err := s.SwitchFlow(body.Flow); err != nil {
		r.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot())
}

func (r *Router) listBatches(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	batches, err := s.ListBatches(req.Context())
	if err != nil {
		r.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, batches)
}

func (r *Router) selectBatch(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "invalid batch id")
		return
	}
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	if err := s.SelectBatch(req.Context(), id); err != nil {
		r.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot())
}

func (r *Router) searchOrders(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	orders, err := s.SearchOrders(req.Context(), req.URL.Query().Get("q"))
	if err != nil {
		r.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (r *Router) selectOrder(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "invalid order id")
		return
	}
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	if err := s.SelectOrder(req.Context(), id); err != nil {
		r.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot())
}

func (r *Router) selectZone(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	if err := s.SelectZone(req.Context(), mux.Vars(req)["zone"]); err != nil {
		r.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot())
}

func (r *Router) openLocation(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "invalid location id")
		return
	}
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	if _, err := s.OpenLocation(req.Context(), id); err != nil {
		r.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot())
}

// setQuantity applies an edit locally and queues the backend write.
// With ?wait=true the response waits for the backend result.
func (r *Router) setQuantity(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "invalid operation id")
		return
	}
	var body QuantityRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.DoneQty == nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "done_qty is required")
		return
	}
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	res, err := s.SetQuantity(req.Context(), id, *body.DoneQty)
	if err != nil {
		r.fail(w, err)
		return
	}
	if req.URL.Query().Get("wait") == "true" && res.Write != nil {
		if err := res.Write.Wait(req.Context()); err != nil {
			r.fail(w, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, res)
}

// scan resolves a barcode against the current screen: locations on the
// location list, operations on the operation list
func (r *Router) scan(w http.ResponseWriter, req *http.Request) {
	var body ScanRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		return
	}
	barcode := strings.TrimSpace(body.Barcode)
	if barcode == "" {
		respondError(w, http.StatusBadRequest, "EMPTY_BARCODE", "Empty barcode")
		return
	}
	s, ok := r.session(w, req)
	if !ok {
		return
	}

	switch s.Navigator().Mode() {
	case picking.ModeLocationList:
		loc, err := s.ScanLocation(barcode)
		if err != nil {
			r.fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, ScanResponse{Type: "location", Location: &loc})
	case picking.ModeOperationList:
		op, err := s.ScanOperation(barcode)
		if err != nil {
			r.fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, ScanResponse{Type: "operation", Operation: &op})
	default:
		respondError(w, http.StatusConflict, "INVALID_TRANSITION", "nothing to scan on this screen")
	}
}

func (r *Router) back(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	if err := s.Back(); err != nil {
		r.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot())
}

func (r *Router) clearCache(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	if err := s.ClearCache(); err != nil {
		r.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Snapshot())
}

func (r *Router) dismissWriteErrors(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	s.DismissWriteErrors()
	w.WriteHeader(http.StatusNoContent)
}

// fail maps engine errors onto HTTP status codes
func (r *Router) fail(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		r.log.Error().Err(err).Str("code", code).Msg("Request failed")
	}
	respondError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, picking.ErrWriteRejected):
		return http.StatusBadGateway, "WRITE_REJECTED"
	case errors.Is(err, picking.ErrRemoteUnavailable):
		return http.StatusBadGateway, "REMOTE_UNAVAILABLE"
	case errors.Is(err, picking.ErrStaleContext):
		return http.StatusConflict, "STALE_CONTEXT"
	case errors.Is(err, picking.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, picking.ErrSessionClosed):
		return http.StatusConflict, "SESSION_CLOSED"
	case errors.Is(err, picking.ErrOperationNotLoaded):
		return http.StatusConflict, "OPERATION_NOT_LOADED"
	case errors.Is(err, picking.ErrNoMatch):
		return http.StatusNotFound, "NO_MATCH"
	case errors.Is(err, picking.ErrUnknownZone):
		return http.StatusNotFound, "UNKNOWN_ZONE"
	case errors.Is(err, picking.ErrUnknownLocation):
		return http.StatusNotFound, "UNKNOWN_LOCATION"
	case errors.Is(err, picking.ErrInvalidQuantity):
		return http.StatusBadRequest, "INVALID_QUANTITY"
	case errors.Is(err, picking.ErrInvalidSession):
		return http.StatusBadRequest, "INVALID_SESSION"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "TIMEOUT"
	}
	return http.StatusInternalServerError, "INTERNAL"
}
