package backends

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"

	"speak2type/internal/domain"
	"speak2type/internal/ports"
)

var (
	ErrDuplicateBackend   = errors.New("backend id already registered")
	ErrRegistrySealed     = errors.New("backend registry is sealed")
	ErrUnknownBackend     = errors.New("unknown backend id")
	ErrBackendUnavailable = errors.New("backend is not available")
)

// Registry maps backend ids to implementations. It is populated once during
// startup and then sealed; selection can change at any time.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]ports.Backend
	order    []string
	sealed   bool
	current  string
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]ports.Backend)}
}

// Register adds a backend under its descriptor id.
func (r *Registry) Register(backend ports.Backend) error {
	id := backend.Descriptor().ID
	if id == "" {
		return errors.New("backend descriptor has an empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, exists := r.backends[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBackend, id)
	}
	r.backends[id] = backend
	r.order = append(r.order, id)
	return nil
}

// Seal prevents further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

func (r *Registry) Lookup(id string) (ports.Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backend, ok := r.backends[id]
	return backend, ok
}

// Select makes id the active backend. An unknown or unavailable id leaves no
// backend selected; a different backend is never substituted.
func (r *Registry) Select(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	backend, ok := r.backends[id]
	if !ok {
		r.current = ""
		return fmt.Errorf("%w: %q", ErrUnknownBackend, id)
	}
	if !backend.Available() {
		r.current = ""
		return fmt.Errorf("%w: %q", ErrBackendUnavailable, id)
	}
	if r.current != id {
		slog.Info("speech backend selected", "backend", id)
	}
	r.current = id
	return nil
}

// Clear deselects the active backend.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = ""
}

// Current returns the selected backend, if any.
func (r *Registry) Current() (ports.Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == "" {
		return nil, false
	}
	backend, ok := r.backends[r.current]
	return backend, ok
}

func (r *Registry) CurrentID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Descriptors lists registered backends in registration order.
func (r *Registry) Descriptors() []domain.BackendDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.order, func(id string, _ int) domain.BackendDescriptor {
		return r.backends[id].Descriptor()
	})
}

// AvailableIDs lists ids of backends that report themselves usable, sorted.
func (r *Registry) AvailableIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := lo.Filter(r.order, func(id string, _ int) bool {
		return r.backends[id].Available()
	})
	sort.Strings(ids)
	return ids
}
