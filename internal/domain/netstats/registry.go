// internal/domain/netstats/registry.go
package netstats

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotLoaded is returned while the registry has not completed its first load.
var ErrNotLoaded = errors.New("network interfaces are not loaded yet")

// LookupState is the outcome of a registry lookup.
type LookupState int

const (
	NotLoaded LookupState = iota
	NotFound
	Found
)

func (s LookupState) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case NotFound:
		return "not_found"
	case Found:
		return "found"
	default:
		return fmt.Sprintf("LookupState(%d)", int(s))
	}
}

// Lookup carries the interface found by a registry query, if any.
type Lookup struct {
	Interface Interface
	State     LookupState
}

// Err maps a NotLoaded lookup to ErrNotLoaded.
func (l Lookup) Err() error {
	if l.State == NotLoaded {
		return ErrNotLoaded
	}
	return nil
}

// InterfaceLister is the part of Repository the registry loads from.
type InterfaceLister interface {
	ListInterfaces(ctx context.Context) ([]Interface, error)
}

// Registry caches the known network interfaces per subscriber.
// It is empty and reports NotLoaded until Load succeeds once.
type Registry struct {
	source InterfaceLister

	mu           sync.RWMutex
	loaded       bool
	bySubscriber map[int64][]Interface
}

func NewRegistry(source InterfaceLister) *Registry {
	return &Registry{source: source, bySubscriber: make(map[int64][]Interface)}
}

// Load replaces the cached interfaces with the current contents of the source.
// A failed load keeps the previous snapshot.
func (r *Registry) Load(ctx context.Context) error {
	ifaces, err := r.source.ListInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("failed to load network interfaces: %w", err)
	}

	bySubscriber := make(map[int64][]Interface)
	for _, iface := range ifaces {
		bySubscriber[iface.SubscriberID] = append(bySubscriber[iface.SubscriberID], iface)
	}

	r.mu.Lock()
	r.bySubscriber = bySubscriber
	r.loaded = true
	r.mu.Unlock()
	return nil
}

// Loaded reports whether the first Load has completed.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Add registers an interface without a full reload. Re-adding an ID is a no-op.
func (r *Registry) Add(iface Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, known := range r.bySubscriber[iface.SubscriberID] {
		if known.ID == iface.ID {
			return
		}
	}
	r.bySubscriber[iface.SubscriberID] = append(r.bySubscriber[iface.SubscriberID], iface)
}

// Find returns the first interface of the subscriber matching the predicate.
func (r *Registry) Find(subscriberID int64, match func(Interface) bool) Lookup {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return Lookup{State: NotLoaded}
	}
	for _, iface := range r.bySubscriber[subscriberID] {
		if match(iface) {
			return Lookup{Interface: iface, State: Found}
		}
	}
	return Lookup{State: NotFound}
}

// CurrentSIMInterface finds the mobile interface of the SIM identified by iccid.
func (r *Registry) CurrentSIMInterface(subscriberID int64, iccid string) Lookup {
	if !IsValidICCID(iccid) {
		if !r.Loaded() {
			return Lookup{State: NotLoaded}
		}
		return Lookup{State: NotFound}
	}
	return r.Find(subscriberID, func(iface Interface) bool {
		return iface.ID == iccid
	})
}

// WifiInterface finds the subscriber's wifi interface.
func (r *Registry) WifiInterface(subscriberID int64) Lookup {
	return r.Find(subscriberID, func(iface Interface) bool {
		return iface.Type == TypeWifi
	})
}
