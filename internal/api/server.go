package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/laik/xnet/internal/device"
	"github.com/laik/xnet/internal/manager"
	"github.com/laik/xnet/internal/model"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is the slice of the manager the API depends on.
type Engine interface {
	Snapshot() (model.Snapshot, error)
	DeviceSnapshot(id uint32) (model.DeviceSnapshot, error)
	Devices() []device.Device
	Attach(iface string) error
	Detach(iface string) error
}

// Handler holds the dependencies for the API handlers.
type Handler struct {
	engine Engine
}

// NewHandler creates the API handler over the given engine.
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// Router builds the route table. The Prometheus endpoint is mounted only
// when metrics exposition is enabled in config.
func (h *Handler) Router(metricsEnabled bool) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", h.healthHandler).Methods("GET")
	r.HandleFunc("/api/v1/stats", h.statsHandler).Methods("GET")
	r.HandleFunc("/api/v1/devices", h.listDevicesHandler).Methods("GET")
	r.HandleFunc("/api/v1/devices", h.updateDevicesHandler).Methods("POST")
	r.HandleFunc("/api/v1/devices/{id}/stats", h.deviceStatsHandler).Methods("GET")
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}
	return r
}

func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

// statsHandler serves the full statistics snapshot.
func (h *Handler) statsHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to snapshot statistics: %v", err), errStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// deviceRequest is the body of POST /api/v1/devices.
type deviceRequest struct {
	Interface string `json:"iface"`
	Action    string `json:"action"`
}

// updateDevicesHandler attaches or detaches one interface.
func (h *Handler) updateDevicesHandler(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Interface == "" {
		http.Error(w, "iface is required", http.StatusBadRequest)
		return
	}

	var err error
	switch req.Action {
	case "add":
		err = h.engine.Attach(req.Interface)
	case "remove":
		err = h.engine.Detach(req.Interface)
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", req.Action), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to %s %s: %v", req.Action, req.Interface, err), errStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"iface":  req.Interface,
		"action": req.Action,
	})
}

// listDevicesHandler serves the registered device list.
func (h *Handler) listDevicesHandler(w http.ResponseWriter, r *http.Request) {
	devs := h.engine.Devices()
	if devs == nil {
		devs = []device.Device{}
	}
	writeJSON(w, http.StatusOK, devs)
}

// deviceStatsHandler serves the device-scoped statistics view.
func (h *Handler) deviceStatsHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 32)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid device id %q", vars["id"]), http.StatusBadRequest)
		return
	}
	snap, err := h.engine.DeviceSnapshot(uint32(id))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to snapshot device %d: %v", id, err), errStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func errStatus(err error) int {
	if errors.Is(err, manager.ErrLifecycleConflict) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonBytes)
}
