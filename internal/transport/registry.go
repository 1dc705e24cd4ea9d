package transport

import (
	"fmt"
	"slices"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/mesh-intelligence/databind/pkg/types"
)

// Factory builds a Transport from configuration.
type Factory func(cfg types.Config) (types.Transport, error)

// Registry maps transport names to factories. It is owned by the host; there
// is no global instance.
type Registry struct {
	factories *xsync.MapOf[string, Factory]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: xsync.NewMapOf[string, Factory]()}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.factories.Store(name, f)
}

// Lookup returns the factory for name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	return r.factories.Load(name)
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	var names []string
	r.factories.Range(func(name string, _ Factory) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

// Open builds the transport named by cfg.Transport.
func (r *Registry) Open(cfg types.Config) (types.Transport, error) {
	f, ok := r.Lookup(cfg.Transport)
	if !ok {
		return nil, fmt.Errorf("open transport %q: %w", cfg.Transport, types.ErrTransportUnknown)
	}
	return f(cfg)
}

// RegisterBuiltins registers the memory and remote transports.
func RegisterBuiltins(r *Registry) {
	r.Register(types.TransportMemory, func(cfg types.Config) (types.Transport, error) {
		return NewMemory(nil, MemoryOptions{IDField: cfg.IDFieldOrDefault()}), nil
	})
	r.Register(types.TransportRemote, func(cfg types.Config) (types.Transport, error) {
		if cfg.Endpoint == "" {
			return nil, types.ErrEndpointEmpty
		}
		return RemoteForBase(cfg.Endpoint, RemoteOptions{
			CacheTTL: time.Duration(cfg.CacheTTL) * time.Second,
		}), nil
	})
}
