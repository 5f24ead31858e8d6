// Package handlers serves the simulator's operations API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/auth"
	"github.com/ukydev/fleet-simulator/internal/middleware"
	"github.com/ukydev/fleet-simulator/internal/simulation"
)

const defaultHealthTimeout = 3 * time.Second

// Fleet exposes the live simulation state.
type Fleet interface {
	Snapshot() []simulation.VehicleSnapshot
}

// OpsHandler handles health, metrics and fleet inspection requests.
type OpsHandler struct {
	fleet         Fleet
	prober        simulation.Prober
	healthTimeout time.Duration
}

// NewOpsHandler creates a handler. prober may be nil, in which case the
// health check always succeeds.
func NewOpsHandler(fleet Fleet, prober simulation.Prober) *OpsHandler {
	return &OpsHandler{
		fleet:         fleet,
		prober:        prober,
		healthTimeout: defaultHealthTimeout,
	}
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// VehiclesResponse is the body of GET /api/vehicles.
type VehiclesResponse struct {
	Count    int                          `json:"count"`
	Vehicles []simulation.VehicleSnapshot `json:"vehicles"`
}

// Health pings the backend.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.prober != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
		defer cancel()
		if err := h.prober.Ping(ctx); err != nil {
			log.WithError(err).Warn("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ListVehicles returns the snapshot of every simulated vehicle, optionally
// filtered by ?mode=moving|paused|defective.
func (h *OpsHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles := h.fleet.Snapshot()
	if mode := r.URL.Query().Get("mode"); mode != "" {
		switch mode {
		case simulation.ModeMoving, simulation.ModePaused, simulation.ModeDefective:
		default:
			http.Error(w, "Invalid mode", http.StatusBadRequest)
			return
		}
		filtered := make([]simulation.VehicleSnapshot, 0, len(vehicles))
		for _, v := range vehicles {
			if v.Mode == mode {
				filtered = append(filtered, v)
			}
		}
		vehicles = filtered
	}
	writeJSON(w, http.StatusOK, VehiclesResponse{Count: len(vehicles), Vehicles: vehicles})
}

// GetVehicle returns one vehicle by IMEI.
func (h *OpsHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	imei := mux.Vars(r)["imei"]
	for _, v := range h.fleet.Snapshot() {
		if v.IMEI == imei {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	http.Error(w, "Vehicle not found", http.StatusNotFound)
}

// RouterConfig configures the ops router.
type RouterConfig struct {
	// Auth protects /api when set.
	Auth *auth.Service
	// RateLimit caps /api requests per client within RateWindow; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// NewRouter wires the ops endpoints.
func NewRouter(h *OpsHandler, cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger)

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	if cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		api.Use(middleware.NewRateLimitMiddleware().RateLimit(cfg.RateLimit, cfg.RateWindow))
	}
	if cfg.Auth != nil {
		am := middleware.NewAuthMiddleware(cfg.Auth)
		api.Use(am.Authenticate, am.RequireRole(auth.RoleOperator))
	}
	api.HandleFunc("/vehicles", h.ListVehicles).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{imei}", h.GetVehicle).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}
