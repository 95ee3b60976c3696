package device

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/laik/xnet/internal/model"
)

const (
	// MaxNameLen mirrors the fixed-width name field of the registry.
	MaxNameLen = 16
	// Capacity bounds the number of simultaneously registered devices.
	Capacity = 64
)

var (
	ErrRegistryFull = errors.New("device registry full")
	ErrNameTooLong  = errors.New("device name exceeds 16 bytes")
)

// pairedPrefixes name the interface classes whose hook-reported direction is
// inverted relative to the administrator's view of the device: the hook sits
// on the host end of a virtual cable, so it sees the peer's egress as
// ingress.
var pairedPrefixes = []string{"veth"}

// Paired reports whether an interface name belongs to an inverted class.
func Paired(name string) bool {
	for _, prefix := range pairedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Normalize maps the hook-reported direction to the logical direction for a
// device. Pure; the paired flag comes from the registry entry.
func Normalize(paired, hookIngress bool) model.Direction {
	if hookIngress != paired {
		return model.DirectionIngress
	}
	return model.DirectionEgress
}

// Device is one registered interface binding. The id is assigned externally
// (the kernel interface index), never derived from the name.
type Device struct {
	Name   string `json:"name"`
	ID     uint32 `json:"id"`
	Paired bool   `json:"paired"`
}

// Registry binds interface names to device ids, capacity-bounded at 64
// entries. Lookups are taken on the packet path, so they use a read lock
// only; mutations come from the manager and are rare.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Device
	byID   map[uint32]*Device
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Device),
		byID:   make(map[uint32]*Device),
	}
}

// Register inserts the binding for name, overwriting any existing binding
// with the same name. Overwrites do not count against capacity.
func (r *Registry) Register(name string, id uint32, paired bool) error {
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		if r.byID[existing.ID] == existing {
			delete(r.byID, existing.ID)
		}
	} else if len(r.byName) >= Capacity {
		return ErrRegistryFull
	}

	d := &Device{Name: name, ID: id, Paired: paired}
	r.byName[name] = d
	r.byID[id] = d
	return nil
}

// Lookup returns the binding for an interface name.
func (r *Registry) Lookup(name string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.byName[name]; ok {
		return *d, true
	}
	return Device{}, false
}

// LookupByID returns the binding for a device id.
func (r *Registry) LookupByID(id uint32) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.byID[id]; ok {
		return *d, true
	}
	return Device{}, false
}

// Unregister removes the binding for name. Removing an unknown name is a
// no-op, and existing statistics rows for the device id are untouched.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byName[name]
	if !ok {
		return
	}
	delete(r.byName, name)
	if r.byID[d.ID] == d {
		delete(r.byID, d.ID)
	}
}

// Devices returns all bindings ordered by device id.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, *d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
