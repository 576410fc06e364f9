package providers

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate provider
	ErrProviderAlreadyRegistered = errors.New("provider already registered")

	// ErrPrimaryAlreadyRegistered is returned when a second primary is registered
	ErrPrimaryAlreadyRegistered = errors.New("primary provider already registered")
)

// Registration is a provider together with its routing attributes
type Registration struct {
	Provider *Provider
	Priority int
	Primary  bool

	seq int
}

// Registry holds providers ordered by descending priority
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Registration
	ordered []*Registration
	nextSeq int
	logger  *zap.Logger
}

// NewRegistry creates a new provider registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Registration),
		logger:  logger,
	}
}

// Register adds a provider. Equal priorities keep registration order.
func (r *Registry) Register(provider *Provider, priority int, primary bool) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return ErrProviderAlreadyRegistered
	}
	if primary {
		for _, e := range r.ordered {
			if e.Primary {
				return ErrPrimaryAlreadyRegistered
			}
		}
	}

	entry := &Registration{
		Provider: provider,
		Priority: priority,
		Primary:  primary,
		seq:      r.nextSeq,
	}
	r.nextSeq++
	r.entries[name] = entry
	r.ordered = append(r.ordered, entry)
	sort.SliceStable(r.ordered, func(i, j int) bool {
		if r.ordered[i].Priority != r.ordered[j].Priority {
			return r.ordered[i].Priority > r.ordered[j].Priority
		}
		return r.ordered[i].seq < r.ordered[j].seq
	})

	r.logger.Info("provider registered",
		zap.String("provider", name),
		zap.Int("priority", priority),
		zap.Bool("primary", primary))

	return nil
}

// Unregister removes a provider. In-flight calls holding it are unaffected.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		return ErrProviderNotFound
	}
	delete(r.entries, name)

	kept := r.ordered[:0]
	for _, e := range r.ordered {
		if e.Provider.Name() != name {
			kept = append(kept, e)
		}
	}
	r.ordered = kept

	return nil
}

// Get retrieves a registration by provider name
func (r *Registry) Get(name string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[name]
	if !exists {
		return nil, ErrProviderNotFound
	}
	return entry, nil
}

// List returns all registrations in descending priority order
func (r *Registry) List() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Registration, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Primary returns the primary registration, or nil
func (r *Registry) Primary() *Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.ordered {
		if e.Primary {
			return e
		}
	}
	return nil
}

// Count returns the number of registered providers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
