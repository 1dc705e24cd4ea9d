// Package sqlite provides the public API for the SQLite document backend.
// It exposes the factory and the transport registration while keeping the
// implementation internal.
package sqlite

import (
	"fmt"

	"github.com/mesh-intelligence/databind/internal/sqlite"
	"github.com/mesh-intelligence/databind/internal/transport"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// Backend is the SQLite document backend.
type Backend = sqlite.Backend

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	backend := sqlite.NewBackend()
//	err := backend.Attach(types.Config{
//	    Transport:  types.TransportSQLite,
//	    DataDir:    ".databind",
//	    Collection: "products",
//	})
//	defer backend.Detach()
func NewBackend() *Backend {
	return sqlite.NewBackend()
}

// Register adds the sqlite transport to r. The factory attaches b on first
// use and returns the collection named by the config.
func Register(r *transport.Registry, b *Backend) {
	r.Register(types.TransportSQLite, func(cfg types.Config) (types.Transport, error) {
		if cfg.Collection == "" {
			return nil, fmt.Errorf("open sqlite: %w", types.ErrInvalidCollection)
		}
		if err := b.Attach(cfg); err != nil && err != types.ErrAlreadyAttached {
			return nil, err
		}
		c, err := b.Collection(cfg.Collection)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
