package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/databind/internal/model"
	"github.com/mesh-intelligence/databind/internal/paths"
	"github.com/mesh-intelligence/databind/internal/reader"
	"github.com/mesh-intelligence/databind/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
	envFileName    = ".env"
	envPrefix      = "DATABIND"

	cfgKeyTransport     = "transport"
	cfgKeyDataDir       = "data_dir"
	cfgKeyCollection    = "collection"
	cfgKeyEndpoint      = "endpoint"
	cfgKeyIDField       = "id_field"
	cfgKeyPageSize      = "page_size"
	cfgKeyBatch         = "batch"
	cfgKeyCacheTTL      = "cache_ttl"
	cfgKeyPaging        = "server.paging"
	cfgKeySorting       = "server.sorting"
	cfgKeyFiltering     = "server.filtering"
	cfgKeyGrouping      = "server.grouping"
	cfgKeyAggregates    = "server.aggregates"
	cfgKeySyncStrategy  = "sqlite.sync_strategy"
	cfgKeyBatchSize     = "sqlite.batch_size"
	cfgKeyBatchInterval = "sqlite.batch_interval"

	defaultTransport  = types.TransportSQLite
	defaultCollection = "records"
	defaultPageSize   = 20
)

// defaultConfig is what init writes to config.yaml.
func defaultConfig(dataDir string) types.Config {
	return types.Config{
		Transport:  defaultTransport,
		DataDir:    dataDir,
		Collection: defaultCollection,
		IDField:    types.DefaultIDField,
		PageSize:   defaultPageSize,
		Server: types.ServerOptions{
			Paging:     true,
			Sorting:    true,
			Filtering:  true,
			Grouping:   true,
			Aggregates: true,
		},
		SQLite: &types.SQLiteConfig{SyncStrategy: types.SyncImmediate},
	}
}

// loadEnvFiles loads .env from the working directory and the config
// directory. Variables already set in the environment win.
func loadEnvFiles(configDir string) error {
	for _, path := range []string{envFileName, filepath.Join(configDir, envFileName)} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// newViper returns a Viper reading config.yaml from configDir with
// DATABIND_* environment overrides.
func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetDefault(cfgKeyTransport, defaultTransport)
	v.SetDefault(cfgKeyCollection, defaultCollection)
	v.SetDefault(cfgKeyIDField, types.DefaultIDField)
	v.SetDefault(cfgKeyPageSize, defaultPageSize)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// binding holds the model and reader sections of config.yaml. They are
// decoded with yaml.v3 straight from the file since Viper lower-cases map
// keys, and model field names are case sensitive.
type binding struct {
	Model  *model.Schema  `yaml:"model,omitempty"`
	Reader *reader.Config `yaml:"reader,omitempty"`
}

// loadConfig resolves the config directory, reads config.yaml and returns
// the validated configuration with DataDir resolved. A missing config.yaml
// is not an error.
func loadConfig() (types.Config, binding, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return types.Config{}, binding{}, fmt.Errorf("resolve config dir: %w", err)
	}
	if err := loadEnvFiles(configDir); err != nil {
		return types.Config{}, binding{}, err
	}

	v := newViper(configDir)
	var b binding
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return types.Config{}, binding{}, fmt.Errorf("read config: %w", err)
		}
	} else if b, err = readBinding(v.ConfigFileUsed()); err != nil {
		return types.Config{}, binding{}, err
	}

	c := configFrom(v)
	if c.DataDir, err = paths.ResolveDataDir(flags.dataDir, c.DataDir); err != nil {
		return types.Config{}, binding{}, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := c.Validate(); err != nil {
		return types.Config{}, binding{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, b, nil
}

func readBinding(path string) (binding, error) {
	var b binding
	data, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("parse %s: %w", path, err)
	}
	return b, nil
}

func configFrom(v *viper.Viper) types.Config {
	c := types.Config{
		Transport:  v.GetString(cfgKeyTransport),
		DataDir:    v.GetString(cfgKeyDataDir),
		Collection: v.GetString(cfgKeyCollection),
		Endpoint:   v.GetString(cfgKeyEndpoint),
		IDField:    v.GetString(cfgKeyIDField),
		PageSize:   v.GetInt(cfgKeyPageSize),
		Batch:      v.GetBool(cfgKeyBatch),
		CacheTTL:   v.GetInt(cfgKeyCacheTTL),
		Server: types.ServerOptions{
			Paging:     v.GetBool(cfgKeyPaging),
			Sorting:    v.GetBool(cfgKeySorting),
			Filtering:  v.GetBool(cfgKeyFiltering),
			Grouping:   v.GetBool(cfgKeyGrouping),
			Aggregates: v.GetBool(cfgKeyAggregates),
		},
	}
	if v.IsSet(cfgKeySyncStrategy) || v.IsSet(cfgKeyBatchSize) || v.IsSet(cfgKeyBatchInterval) {
		c.SQLite = &types.SQLiteConfig{
			SyncStrategy:  v.GetString(cfgKeySyncStrategy),
			BatchSize:     v.GetInt(cfgKeyBatchSize),
			BatchInterval: v.GetInt(cfgKeyBatchInterval),
		}
	}
	return c
}

// writeConfigIfMissing creates config.yaml from c if the file does not
// exist. An existing file is left alone.
func writeConfigIfMissing(path string, c types.Config) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config file: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	header := []byte("# databind configuration\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
