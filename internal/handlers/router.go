package handlers

import (
	"encoding/json"
	"maps"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/xelth-com/eckpick/internal/buildinfo"
	"github.com/xelth-com/eckpick/internal/metrics"
	"github.com/xelth-com/eckpick/internal/middleware"
	"github.com/xelth-com/eckpick/internal/picking"
	"github.com/xelth-com/eckpick/internal/websocket"
)

// Options wires the router to the running services
type Options struct {
	Sessions *picking.Manager
	Hub      *websocket.Hub
	Gatherer prometheus.Gatherer
	// Health adds component states (e.g. the Odoo breaker) to /health
	Health func() map[string]string
	Logger zerolog.Logger
}

// Router wraps the mux router and the session manager
type Router struct {
	*mux.Router
	sessions *picking.Manager
	hub      *websocket.Hub
	health   func() map[string]string
	log      zerolog.Logger
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(opts Options) *Router {
	r := &Router{
		Router:   mux.NewRouter(),
		sessions: opts.Sessions,
		hub:      opts.Hub,
		health:   opts.Health,
		log:      opts.Logger.With().Str("component", "http").Logger(),
	}
	r.Use(middleware.RequestLogger(r.log))

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")
	if opts.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(opts.Gatherer)).Methods("GET")
	}
	if r.hub != nil {
		r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
			websocket.ServeWs(r.hub, w, req)
		})
	}

	// Picking routes, scoped by the X-Session-ID header
	api := r.PathPrefix("/api/picking").Subrouter()
	api.Use(middleware.RequireSession)
	api.HandleFunc("/state", r.getState).Methods("GET")
	api.HandleFunc("/session", r.endSession).Methods("DELETE")
	api.HandleFunc("/flow", r.switchFlow).Methods("POST")
	api.HandleFunc("/batches", r.listBatches).Methods("GET")
	api.HandleFunc("/batches/{id:[0-9]+}/select", r.selectBatch).Methods("POST")
	api.HandleFunc("/orders", r.searchOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}/select", r.selectOrder).Methods("POST")
	api.HandleFunc("/zones/{zone}/select", r.selectZone).Methods("POST")
	api.HandleFunc("/locations/{id:[0-9]+}/open", r.openLocation).Methods("POST")
	api.HandleFunc("/operations/{id:[0-9]+}/quantity", r.setQuantity).Methods("POST")
	api.HandleFunc("/scan", r.scan).Methods("POST")
	api.HandleFunc("/back", r.back).Methods("POST")
	api.HandleFunc("/cache/clear", r.clearCache).Methods("POST")
	api.HandleFunc("/write-errors", r.dismissWriteErrors).Methods("DELETE")

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	status := buildinfo.Fields()
	status["status"] = "ok"
	if r.health != nil {
		maps.Copy(status, r.health())
	}
	respondJSON(w, http.StatusOK, status)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
