package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/databind/internal/paths"
	"github.com/mesh-intelligence/databind/pkg/sqlite"
	"github.com/mesh-intelligence/databind/pkg/types"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configuration and data directories",
		Long: "Write a default config.yaml if none exists, then attach the SQLite\n" +
			"backend once so the data directory is created.",
		Args: cobra.NoArgs,
		RunE: runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return sysError(err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return sysError(fmt.Errorf("create config directory: %w", err))
	}

	configPath := filepath.Join(configDir, configFileExt)
	var dataDir string
	if flags.dataDir != "" {
		dataDir = cfg.DataDir
	}
	written, err := writeConfigIfMissing(configPath, defaultConfig(dataDir))
	if err != nil {
		return sysError(fmt.Errorf("write config: %w", err))
	}

	backendCfg := cfg
	backendCfg.Transport = types.TransportSQLite
	backend := sqlite.NewBackend()
	if err := backend.Attach(backendCfg); err != nil {
		return sysError(fmt.Errorf("initialize storage: %w", err))
	}
	if err := backend.Detach(); err != nil {
		return sysError(fmt.Errorf("finalize storage: %w", err))
	}

	out := cmd.OutOrStdout()
	if flags.jsonMode {
		return printJSON(out, map[string]any{
			"config":  configPath,
			"created": written,
			"dataDir": cfg.DataDir,
		})
	}
	if written {
		fmt.Fprintf(out, "wrote %s\n", configPath)
	}
	fmt.Fprintf(out, "databind initialized in %s\n", cfg.DataDir)
	return nil
}
