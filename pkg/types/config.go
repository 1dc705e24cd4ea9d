package types

import "errors"

// Config holds transport selection and Data Source defaults used by the CLI
// and by hosts that build a Data Source from a file.
type Config struct {
	Transport  string        `json:"transport" yaml:"transport"`
	DataDir    string        `json:"data_dir" yaml:"data_dir,omitempty"`
	Collection string        `json:"collection" yaml:"collection,omitempty"`
	Endpoint   string        `json:"endpoint" yaml:"endpoint,omitempty"`
	IDField    string        `json:"id_field" yaml:"id_field,omitempty"`
	PageSize   int           `json:"page_size" yaml:"page_size,omitempty"`
	Server     ServerOptions `json:"server" yaml:"server"`
	Batch      bool          `json:"batch" yaml:"batch,omitempty"`
	CacheTTL   int           `json:"cache_ttl" yaml:"cache_ttl,omitempty"`
	SQLite     *SQLiteConfig `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
}

// ServerOptions selects which query operations are delegated to the remote
// store instead of the local query engine.
type ServerOptions struct {
	Paging     bool `json:"paging" yaml:"paging"`
	Sorting    bool `json:"sorting" yaml:"sorting"`
	Filtering  bool `json:"filtering" yaml:"filtering"`
	Grouping   bool `json:"grouping" yaml:"grouping"`
	Aggregates bool `json:"aggregates" yaml:"aggregates"`
}

// Any reports whether at least one operation runs on the server.
func (s ServerOptions) Any() bool {
	return s.Paging || s.Sorting || s.Filtering || s.Grouping || s.Aggregates
}

// Supported transport names.
const (
	TransportMemory = "memory"
	TransportRemote = "remote"
	TransportSQLite = "sqlite"
)

// DefaultIDField is the identity field used when none is configured.
const DefaultIDField = "id"

// Config validation errors.
var (
	ErrTransportEmpty       = errors.New("transport must not be empty")
	ErrTransportUnknown     = errors.New("unknown transport")
	ErrEndpointEmpty        = errors.New("remote transport requires an endpoint")
	ErrPageSizeInvalid      = errors.New("page size must not be negative")
	ErrCacheTTLInvalid      = errors.New("cache ttl must not be negative")
	ErrSyncStrategyUnknown  = errors.New("unknown sync strategy")
	ErrBatchSizeInvalid     = errors.New("batch size must be positive")
	ErrBatchIntervalInvalid = errors.New("batch interval must be positive")
)

// knownTransports lists the transports that Validate accepts.
var knownTransports = map[string]bool{
	TransportMemory: true,
	TransportRemote: true,
	TransportSQLite: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Transport == "" {
		return ErrTransportEmpty
	}
	if !knownTransports[c.Transport] {
		return ErrTransportUnknown
	}
	if c.Transport == TransportRemote && c.Endpoint == "" {
		return ErrEndpointEmpty
	}
	if c.PageSize < 0 {
		return ErrPageSizeInvalid
	}
	if c.CacheTTL < 0 {
		return ErrCacheTTLInvalid
	}
	if c.SQLite != nil {
		return c.SQLite.Validate()
	}
	return nil
}

// IDFieldOrDefault returns the configured id field or DefaultIDField.
func (c Config) IDFieldOrDefault() string {
	if c.IDField == "" {
		return DefaultIDField
	}
	return c.IDField
}

// Sync strategies for the SQLite document backend.
const (
	SyncImmediate = "immediate"
	SyncOnClose   = "on_close"
	SyncBatch     = "batch"
)

// Defaults applied by the SQLiteConfig getters.
const (
	DefaultBatchSize     = 10
	DefaultBatchInterval = 5
)

// SQLiteConfig controls when the SQLite backend persists collections to
// their JSONL files.
type SQLiteConfig struct {
	SyncStrategy  string `json:"sync_strategy" yaml:"sync_strategy"`
	BatchSize     int    `json:"batch_size" yaml:"batch_size,omitempty"`
	BatchInterval int    `json:"batch_interval" yaml:"batch_interval,omitempty"`
}

// Validate checks the sync strategy and its batch parameters.
func (c *SQLiteConfig) Validate() error {
	switch c.SyncStrategy {
	case "", SyncImmediate, SyncOnClose:
		return nil
	case SyncBatch:
		if c.BatchSize < 0 {
			return ErrBatchSizeInvalid
		}
		if c.BatchInterval < 0 {
			return ErrBatchIntervalInvalid
		}
		return nil
	default:
		return ErrSyncStrategyUnknown
	}
}

// GetSyncStrategy returns the strategy, defaulting to immediate. Safe on nil.
func (c *SQLiteConfig) GetSyncStrategy() string {
	if c == nil || c.SyncStrategy == "" {
		return SyncImmediate
	}
	return c.SyncStrategy
}

// GetBatchSize returns the batch size, defaulting to DefaultBatchSize. Safe on nil.
func (c *SQLiteConfig) GetBatchSize() int {
	if c == nil || c.BatchSize == 0 {
		return DefaultBatchSize
	}
	return c.BatchSize
}

// GetBatchInterval returns the batch interval in seconds, defaulting to
// DefaultBatchInterval. Safe on nil.
func (c *SQLiteConfig) GetBatchInterval() int {
	if c == nil || c.BatchInterval == 0 {
		return DefaultBatchInterval
	}
	return c.BatchInterval
}
