package main

import (
	"testing"

	"github.com/storysync/storysync/internal/config"
)

// initTestConfig loads configuration from an empty directory, so only the
// environment and defaults apply.
func initTestConfig(t *testing.T) error {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("STORYSYNC_CONFIG", "")
	t.Chdir(t.TempDir())
	t.Cleanup(config.ResetForTesting)
	return config.InitializeFile("")
}
