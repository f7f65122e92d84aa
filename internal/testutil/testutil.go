// Package testutil provides testing utilities for zektor tests.
package testutil

import (
	"testing"

	"github.com/Iron-Ham/zektor/internal/config"
	"github.com/spf13/viper"
)

// TestEnv is the profile name used by test data directories.
const TestEnv = "test"

// SetupViper resets the global viper instance to defaults, points the data
// directory at a fresh temporary directory and isolates the user config
// directory. Returns the data directory. Viper is reset again when the
// test completes.
func SetupViper(t *testing.T) string {
	t.Helper()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dataDir := t.TempDir()

	viper.Reset()
	config.SetDefaults()
	viper.Set("env", TestEnv)
	viper.Set("persistence.data_dir", dataDir)
	viper.Set("no_color", true)
	t.Cleanup(viper.Reset)

	return dataDir
}

// Config returns the default configuration with a fresh data directory
// and the given persistence backend.
func Config(t *testing.T, backend string) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Env = TestEnv
	cfg.Persistence.Backend = backend
	cfg.Persistence.DataDir = t.TempDir()
	return cfg
}
