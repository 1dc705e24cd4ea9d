package cli

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/databind/internal/datasource"
	"github.com/mesh-intelligence/databind/internal/model"
	"github.com/mesh-intelligence/databind/internal/reader"
	"github.com/mesh-intelligence/databind/internal/transport"
	"github.com/mesh-intelligence/databind/pkg/sqlite"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// session is a transport registry bound to one configuration. All
// collections opened through it share a single SQLite backend.
type session struct {
	cfg       types.Config
	registry  *transport.Registry
	backend   *sqlite.Backend
	transport types.Transport
}

// openSession registers the memory, remote and sqlite transports and opens
// the collection named by c.
func openSession(c types.Config) (*session, error) {
	s := &session{cfg: c, registry: transport.NewRegistry(), backend: sqlite.NewBackend()}
	transport.RegisterBuiltins(s.registry)
	sqlite.Register(s.registry, s.backend)

	tr, err := s.Open(c.Collection)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.transport = tr
	return s, nil
}

// Open returns the transport for another collection of the same store.
func (s *session) Open(collection string) (types.Transport, error) {
	c := s.cfg
	c.Collection = collection
	tr, err := s.registry.Open(c)
	if err != nil {
		return nil, fmt.Errorf("open %s transport: %w", c.Transport, err)
	}
	glog.V(1).Infof("opened %s transport for collection %q", c.Transport, collection)
	return tr, nil
}

// Close detaches the SQLite backend, flushing pending writes. It is a no-op
// for other transports.
func (s *session) Close() error { return s.backend.Detach() }

// definition returns the model for records: the model section of the
// config when present, otherwise an untyped model keyed by the configured
// id field.
func definition(c types.Config, b binding) (*model.Definition, error) {
	if b.Model != nil {
		s := *b.Model
		if s.ID == "" {
			s.ID = c.IDFieldOrDefault()
		}
		return model.Define(s)
	}
	return model.Define(model.Schema{ID: c.IDFieldOrDefault()})
}

// dataSourceOptions returns Data Source options for c over tr. Work runs
// on the calling goroutine so commands finish deterministically.
func dataSourceOptions(c types.Config, b binding, tr types.Transport) (datasource.Options, error) {
	def, err := definition(c, b)
	if err != nil {
		return datasource.Options{}, err
	}
	opts := datasource.Options{
		Transport: tr,
		Model:     def,
		PageSize:  c.PageSize,
		Server:    c.Server,
		Batch:     c.Batch,
		Executor:  datasource.Synchronous,
	}
	if b.Reader != nil {
		opts.Reader = reader.New(b.Reader.Schema(def))
	}
	return opts, nil
}
