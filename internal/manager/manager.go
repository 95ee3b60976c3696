package manager

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/laik/xnet/internal/capture"
	"github.com/laik/xnet/internal/config"
	"github.com/laik/xnet/internal/datapath"
	"github.com/laik/xnet/internal/device"
	"github.com/laik/xnet/internal/events"
	"github.com/laik/xnet/internal/metrics"
	"github.com/laik/xnet/internal/model"
	"github.com/laik/xnet/internal/snapshot"
)

// ErrLifecycleConflict is returned when a load/attach/detach/unload is
// requested in a state that does not permit it. Callers surface it as a
// request-level error; nothing is retried automatically.
var ErrLifecycleConflict = errors.New("operation not permitted in current state")

// State is the lifecycle state of the engine instance.
type State uint8

const (
	StateUnloaded State = iota
	StateLoaded
	StateAttached
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateAttached:
		return "attached"
	case StateDetached:
		return "detached"
	}
	return "unloaded"
}

// Hook attaches packet capture to one interface and feeds the pipeline.
type Hook interface {
	Attach(iface string, deviceID uint32, pipe *datapath.Pipeline) (io.Closer, error)
}

// Publisher ships flow events off the box.
type Publisher interface {
	Publish(ev model.FlowEvent) error
	Close()
}

const eventBufferSize = 1024

// program bundles one loaded engine instance: registry, pipeline and the
// event channel feeding the pump. A fresh program is built on every load,
// so unload/reload starts over with empty tables.
type program struct {
	registry *device.Registry
	pipeline *datapath.Pipeline
	events   chan model.FlowEvent
}

// Manager owns the engine lifecycle: Unloaded → Loaded → Attached →
// Detached → Unloaded. Mutations serialize on one mutex. Statistics reads
// go through an atomic pointer to the loaded program and never touch that
// mutex, so query traffic is never queued behind an attach.
type Manager struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	hook      Hook
	resolver  device.Resolver
	writers   []snapshot.Writer
	publisher Publisher

	mu          sync.Mutex
	state       State
	attachments map[string]attachment

	prog atomic.Pointer[program]

	done   chan struct{}
	snapWg sync.WaitGroup
	pumpWg sync.WaitGroup
}

type attachment struct {
	closer   io.Closer
	deviceID uint32
}

// Option overrides one of the manager's collaborators, mostly for tests.
type Option func(*Manager)

func WithHook(h Hook) Option { return func(m *Manager) { m.hook = h } }

func WithResolver(r device.Resolver) Option { return func(m *Manager) { m.resolver = r } }

func WithPublisher(p Publisher) Option { return func(m *Manager) { m.publisher = p } }

func WithWriters(ws ...snapshot.Writer) Option { return func(m *Manager) { m.writers = ws } }

// New builds a manager and its collaborators from config.
func New(cfg *config.Config, mt *metrics.Metrics, opts ...Option) (*Manager, error) {
	if mt == nil {
		mt = metrics.New()
	}
	m := &Manager{
		cfg:         cfg,
		metrics:     mt,
		hook:        capture.NewHook(cfg.Capture),
		resolver:    device.NetlinkResolver{},
		attachments: make(map[string]attachment),
		done:        make(chan struct{}),
	}

	for _, def := range cfg.Snapshot.Writers {
		if !def.Enabled {
			continue
		}
		w, err := snapshot.New(def)
		if err != nil {
			return nil, fmt.Errorf("failed to build snapshot writer: %w", err)
		}
		m.writers = append(m.writers, w)
	}

	if cfg.NATS.Enabled {
		pub, err := events.NewPublisher(cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("failed to connect flow-event publisher: %w", err)
		}
		m.publisher = pub
	}

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// --- Lifecycle mutations ---

// Load creates a fresh program instance with empty tables.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateUnloaded {
		return fmt.Errorf("load in state %s: %w", m.state, ErrLifecycleConflict)
	}

	prog := &program{registry: device.NewRegistry()}
	if m.publisher != nil {
		prog.events = make(chan model.FlowEvent, eventBufferSize)
	}
	prog.pipeline = datapath.NewPipeline(prog.registry, m.metrics, prog.events)
	m.prog.Store(prog)

	if prog.events != nil {
		m.pumpWg.Add(1)
		go m.runEventPump(prog.events)
	}

	m.state = StateLoaded
	log.Println("Engine loaded.")
	return nil
}

// Attach registers the interface in the device registry and starts capture
// on it. The device id is the kernel interface index from the resolver.
func (m *Manager) Attach(iface string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateUnloaded {
		return fmt.Errorf("attach in state %s: %w", m.state, ErrLifecycleConflict)
	}
	if _, ok := m.attachments[iface]; ok {
		return fmt.Errorf("interface %s already attached: %w", iface, ErrLifecycleConflict)
	}

	prog := m.prog.Load()
	id, paired, err := m.resolver.Resolve(iface)
	if err != nil {
		return fmt.Errorf("failed to resolve interface %s: %w", iface, err)
	}
	if err := prog.registry.Register(iface, id, paired); err != nil {
		return fmt.Errorf("failed to register device %s: %w", iface, err)
	}

	closer, err := m.hook.Attach(iface, id, prog.pipeline)
	if err != nil {
		prog.registry.Unregister(iface)
		return fmt.Errorf("failed to attach capture on %s: %w", iface, err)
	}

	m.attachments[iface] = attachment{closer: closer, deviceID: id}
	m.state = StateAttached
	m.metrics.DevicesAttached.Inc()
	log.Printf("Attached %s (device id %d, paired=%v)", iface, id, paired)
	return nil
}

// Detach stops capture on the interface and removes its registration.
// Statistics rows already recorded for the device id survive until unload.
func (m *Manager) Detach(iface string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	att, ok := m.attachments[iface]
	if !ok {
		return fmt.Errorf("interface %s not attached: %w", iface, ErrLifecycleConflict)
	}

	if err := att.closer.Close(); err != nil {
		log.Printf("Error closing capture on %s: %v", iface, err)
	}
	delete(m.attachments, iface)
	if prog := m.prog.Load(); prog != nil {
		prog.registry.Unregister(iface)
	}
	m.metrics.DevicesAttached.Dec()

	if len(m.attachments) == 0 {
		m.state = StateDetached
	}
	log.Printf("Detached %s", iface)
	return nil
}

// Unload detaches every interface and discards the program instance along
// with all of its tables.
func (m *Manager) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked()
}

func (m *Manager) unloadLocked() error {
	if m.state == StateUnloaded {
		return fmt.Errorf("unload in state %s: %w", m.state, ErrLifecycleConflict)
	}

	for iface, att := range m.attachments {
		if err := att.closer.Close(); err != nil {
			log.Printf("Error closing capture on %s: %v", iface, err)
		}
		delete(m.attachments, iface)
		m.metrics.DevicesAttached.Dec()
	}

	// Capture loops have exited, so nothing feeds the event channel or the
	// tables anymore.
	prog := m.prog.Load()
	m.prog.Store(nil)
	if prog != nil {
		prog.pipeline.Reset()
		if prog.events != nil {
			close(prog.events)
		}
	}

	m.state = StateUnloaded
	log.Println("Engine unloaded.")
	return nil
}

// --- Lock-free reads ---

// Snapshot returns the full statistics view. It never takes the lifecycle
// lock, so a concurrent attach cannot delay it.
func (m *Manager) Snapshot() (model.Snapshot, error) {
	prog := m.prog.Load()
	if prog == nil {
		return model.Snapshot{}, fmt.Errorf("no program loaded: %w", ErrLifecycleConflict)
	}
	return prog.pipeline.Snapshot(time.Now()), nil
}

// DeviceSnapshot returns the device-scoped view for one device id.
func (m *Manager) DeviceSnapshot(id uint32) (model.DeviceSnapshot, error) {
	prog := m.prog.Load()
	if prog == nil {
		return model.DeviceSnapshot{}, fmt.Errorf("no program loaded: %w", ErrLifecycleConflict)
	}
	return prog.pipeline.DeviceSnapshot(id, time.Now()), nil
}

// Devices lists the registered devices, ordered by id.
func (m *Manager) Devices() []device.Device {
	prog := m.prog.Load()
	if prog == nil {
		return nil
	}
	return prog.registry.Devices()
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// --- Service loop ---

// Start loads the engine, attaches the configured interfaces and begins
// the snapshot loops.
func (m *Manager) Start() error {
	if err := m.Load(); err != nil {
		return err
	}
	for _, iface := range m.cfg.Capture.Interfaces {
		if err := m.Attach(iface); err != nil {
			return err
		}
	}

	for _, w := range m.writers {
		m.snapWg.Add(1)
		go m.runSnapshotter(w)
		log.Printf("Started snapshotter with interval %s.", w.GetInterval())
	}
	return nil
}

// Stop gracefully shuts the engine down.
func (m *Manager) Stop() {
	log.Println("Manager stopping...")

	// 1. Let snapshotters write a final snapshot while the tables are
	// still live.
	close(m.done)
	m.snapWg.Wait()

	// 2. Tear down capture and the program instance.
	m.mu.Lock()
	if m.state != StateUnloaded {
		if err := m.unloadLocked(); err != nil {
			log.Printf("Unload on stop: %v", err)
		}
	}
	m.mu.Unlock()

	// 3. Wait for the event pump to drain, then close the publisher.
	m.pumpWg.Wait()
	if m.publisher != nil {
		m.publisher.Close()
	}
	log.Println("Manager stopped.")
}

// runSnapshotter drives one writer on its own interval, with a final
// snapshot on shutdown.
func (m *Manager) runSnapshotter(w snapshot.Writer) {
	defer m.snapWg.Done()
	interval := w.GetInterval()
	if interval <= 0 {
		log.Printf("Invalid interval %s for writer, snapshotter will not run.", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.writeSnapshot(w)
		case <-m.done:
			m.writeSnapshot(w)
			return
		}
	}
}

func (m *Manager) writeSnapshot(w snapshot.Writer) {
	snap, err := m.Snapshot()
	if err != nil {
		return
	}
	if err := w.Write(snap); err != nil {
		log.Printf("Error writing snapshot: %v", err)
	}
}

// runEventPump forwards flow events to the publisher until the program's
// channel is closed on unload.
func (m *Manager) runEventPump(ch <-chan model.FlowEvent) {
	defer m.pumpWg.Done()
	for ev := range ch {
		if err := m.publisher.Publish(ev); err != nil {
			log.Printf("Failed to publish flow event: %v", err)
		}
	}
}
