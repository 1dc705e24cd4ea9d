// Package paths resolves where databind keeps its configuration, its
// collections and its offline state.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user directories.
const AppName = "databind"

// DefaultDataDirName is the working-directory data location used when
// nothing else is configured.
const DefaultDataDirName = ".databind"

// Environment variables overriding the directories.
const (
	EnvConfigDir = "DATABIND_CONFIG_DIR"
	EnvDataDir   = "DATABIND_DATA_DIR"
)

// OfflineDirName is the data subdirectory holding offline snapshots.
const OfflineDirName = "offline"

// platformDir can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// appDir returns $xdgVar/databind on Linux, falling back to ~/<linuxRel>,
// and the user config directory elsewhere.
func appDir(xdgVar string, linuxRel ...string) (string, error) {
	if runtime.GOOS != "linux" {
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppName), nil
	}
	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, linuxRel...), AppName)...), nil
}

// DefaultConfigDir returns the platform configuration directory:
// $XDG_CONFIG_HOME/databind or ~/.config/databind on Linux, the user
// config directory elsewhere.
func DefaultConfigDir() (string, error) {
	return appDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform data directory:
// $XDG_DATA_HOME/databind or ~/.local/share/databind on Linux, the user
// config directory elsewhere.
func DefaultDataDir() (string, error) {
	return appDir("XDG_DATA_HOME", ".local", "share")
}

// ResolveConfigDir applies flag > DATABIND_CONFIG_DIR > platform default.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir applies flag > config file value > DATABIND_DATA_DIR >
// ./.databind.
func ResolveDataDir(flag, configValue string) (string, error) {
	for _, dir := range []string{flag, configValue, os.Getenv(EnvDataDir)} {
		if dir != "" {
			return filepath.Abs(dir)
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}

// OfflineFile returns the offline snapshot path for a collection.
func OfflineFile(dataDir, collection string) string {
	return filepath.Join(dataDir, OfflineDirName, collection+".json")
}
