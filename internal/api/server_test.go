package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/laik/xnet/internal/device"
	"github.com/laik/xnet/internal/manager"
	"github.com/laik/xnet/internal/model"
)

// stubEngine implements Engine with canned data, recording the attach and
// detach calls it receives.
type stubEngine struct {
	snap     model.Snapshot
	devSnap  model.DeviceSnapshot
	devices  []device.Device
	err      error
	attached []string
	detached []string
}

func (e *stubEngine) Snapshot() (model.Snapshot, error) {
	if e.err != nil {
		return model.Snapshot{}, e.err
	}
	return e.snap, nil
}

func (e *stubEngine) DeviceSnapshot(id uint32) (model.DeviceSnapshot, error) {
	if e.err != nil {
		return model.DeviceSnapshot{}, e.err
	}
	ds := e.devSnap
	ds.DeviceID = id
	return ds, nil
}

func (e *stubEngine) Devices() []device.Device { return e.devices }

func (e *stubEngine) Attach(iface string) error {
	if e.err != nil {
		return e.err
	}
	e.attached = append(e.attached, iface)
	return nil
}

func (e *stubEngine) Detach(iface string) error {
	if e.err != nil {
		return e.err
	}
	e.detached = append(e.detached, iface)
	return nil
}

func serve(engine Engine, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	NewHandler(engine).Router(false).ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	w := serve(&stubEngine{}, "GET", "/", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("expected body %q, got %q", "ok", w.Body.String())
	}
}

func TestStatsEndpoint(t *testing.T) {
	engine := &stubEngine{
		snap: model.Snapshot{
			TotalPackets: 42,
			TotalBytes:   4200,
			Connections: []model.ConnEntry{
				{SrcIP: "10.0.0.1", SrcPort: 33000, DstIP: "10.0.0.2", DstPort: 80, State: "connecting", Packets: 1, Bytes: 40},
			},
		},
	}

	w := serve(engine, "GET", "/api/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json content type, got %q", ct)
	}

	var snap model.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if snap.TotalPackets != 42 || snap.TotalBytes != 4200 {
		t.Errorf("unexpected totals: %d packets, %d bytes", snap.TotalPackets, snap.TotalBytes)
	}
	if len(snap.Connections) != 1 || snap.Connections[0].State != "connecting" {
		t.Errorf("unexpected connections: %+v", snap.Connections)
	}
}

func TestStatsWhileUnloaded(t *testing.T) {
	engine := &stubEngine{err: fmt.Errorf("no program loaded: %w", manager.ErrLifecycleConflict)}
	w := serve(engine, "GET", "/api/v1/stats", "")
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
}

func TestDeviceActions(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"add", `{"iface": "eth0", "action": "add"}`, http.StatusOK},
		{"remove", `{"iface": "eth0", "action": "remove"}`, http.StatusOK},
		{"unknown action", `{"iface": "eth0", "action": "toggle"}`, http.StatusBadRequest},
		{"missing iface", `{"action": "add"}`, http.StatusBadRequest},
		{"malformed body", `{"iface": `, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{}
			w := serve(engine, "POST", "/api/v1/devices", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d (%s)", tt.wantCode, w.Code, w.Body.String())
			}
			if tt.name == "add" && (len(engine.attached) != 1 || engine.attached[0] != "eth0") {
				t.Errorf("expected attach of eth0, got %v", engine.attached)
			}
			if tt.name == "remove" && (len(engine.detached) != 1 || engine.detached[0] != "eth0") {
				t.Errorf("expected detach of eth0, got %v", engine.detached)
			}
		})
	}
}

func TestDeviceActionErrors(t *testing.T) {
	conflicted := &stubEngine{err: fmt.Errorf("interface eth0 already attached: %w", manager.ErrLifecycleConflict)}
	w := serve(conflicted, "POST", "/api/v1/devices", `{"iface": "eth0", "action": "add"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409 for lifecycle conflict, got %d", w.Code)
	}

	failed := &stubEngine{err: fmt.Errorf("failed to open device eth0: permission denied")}
	w = serve(failed, "POST", "/api/v1/devices", `{"iface": "eth0", "action": "add"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500 for capture failure, got %d", w.Code)
	}
}

func TestListDevices(t *testing.T) {
	// 1. No devices renders an empty array, not null.
	w := serve(&stubEngine{}, "GET", "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("expected empty array, got %q", got)
	}

	// 2. Registered devices come back with name, id and paired flag.
	engine := &stubEngine{devices: []device.Device{
		{Name: "eth0", ID: 5},
		{Name: "veth0a1b2c", ID: 7, Paired: true},
	}}
	w = serve(engine, "GET", "/api/v1/devices", "")
	var devs []device.Device
	if err := json.NewDecoder(w.Body).Decode(&devs); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(devs) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devs))
	}
	if devs[1].Name != "veth0a1b2c" || !devs[1].Paired {
		t.Errorf("unexpected device entry: %+v", devs[1])
	}
}

func TestDeviceStatsEndpoint(t *testing.T) {
	engine := &stubEngine{
		devSnap: model.DeviceSnapshot{
			Device: "eth0",
			Directions: []model.DeviceEntry{
				{DeviceID: 5, Direction: "ingress", Packets: 3, Bytes: 120},
			},
		},
	}

	w := serve(engine, "GET", "/api/v1/devices/5/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var snap model.DeviceSnapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if snap.DeviceID != 5 || snap.Device != "eth0" {
		t.Errorf("unexpected device snapshot: id=%d device=%q", snap.DeviceID, snap.Device)
	}
	if len(snap.Directions) != 1 {
		t.Errorf("expected 1 direction row, got %d", len(snap.Directions))
	}

	// Non-numeric ids are rejected before the engine sees them.
	w = serve(engine, "GET", "/api/v1/devices/abc/stats", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad id, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)

	w := httptest.NewRecorder()
	NewHandler(&stubEngine{}).Router(true).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 with metrics enabled, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	NewHandler(&stubEngine{}).Router(false).ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 with metrics disabled, got %d", w.Code)
	}
}
