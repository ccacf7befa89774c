package cloudauth

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/anirudhbiyani/crossfed/pkg/logging"
)

// Backend constructs a vendor's storage client from a credential record.
type Backend func(ctx context.Context, rec *CredentialRecord, opts BackendOptions) (Store, error)

// BackendOptions carries shared dependencies into a Backend.
type BackendOptions struct {
	HTTPClient *http.Client
	Logger     logging.Logger

	// Endpoint overrides the vendor's service URL. Empty means the SDK
	// default.
	Endpoint string
}

// Registry manages storage backend registration.
// It provides thread-safe access to registered backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[CloudProvider]Backend
}

// DefaultRegistry is the global backend registry.
// Provider packages register their backends via init() functions.
var DefaultRegistry = NewRegistry()

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[CloudProvider]Backend),
	}
}

// Register adds a backend for a vendor.
func (r *Registry) Register(p CloudProvider, b Backend) error {
	if _, err := ParseProvider(string(p)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[p]; exists {
		return fmt.Errorf("storage backend already registered: %s", p)
	}

	r.backends[p] = b
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(p CloudProvider, b Backend) {
	if err := r.Register(p, b); err != nil {
		panic(err)
	}
}

// Get retrieves the backend for a vendor.
func (r *Registry) Get(p CloudProvider) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.backends[p]
	if !exists {
		return nil, ErrConfiguration(fmt.Sprintf("no storage backend registered for %s", p)).WithProvider(p)
	}
	return b, nil
}

// Providers returns the vendors with a registered backend.
func (r *Registry) Providers() []CloudProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]CloudProvider, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Register adds a backend to the default registry.
func Register(p CloudProvider, b Backend) error {
	return DefaultRegistry.Register(p, b)
}
