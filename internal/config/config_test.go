package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaultsWhenDirectoriesProvided(t *testing.T) {
	path := writeConfigFile(t, "watch:\n  directories:\n    - /classes\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/classes"}, cfg.Watch.Directories)
	assert.True(t, cfg.Watch.Recursive)
	assert.Equal(t, 5, cfg.Watch.BurstThreshold)
	assert.Equal(t, "Automatic", cfg.Reconciler.DefaultStrategy)
	assert.Equal(t, "ForceRollback", cfg.Rollback.BytecodeConflict)
	assert.Equal(t, "AbortOnConflict", cfg.Rollback.InstanceConflict)
}

func TestLoadFailsWithoutAnyWatchDirectory(t *testing.T) {
	path := writeConfigFile(t, "log:\n  level: info\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownReconcilerStrategy(t *testing.T) {
	path := writeConfigFile(t, "watch:\n  directories:\n    - /classes\nreconciler:\n  default_strategy: Bogus\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownRollbackStrategy(t *testing.T) {
	path := writeConfigFile(t, "watch:\n  directories:\n    - /classes\nrollback:\n  bytecode_conflict: Bogus\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	path := writeConfigFile(t, "watch:\n  directories:\n    - /classes\n  burst_threshold: 9\nlog:\n  level: debug\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Watch.BurstThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadToleratesMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err) // no directories configured: defaults alone do not satisfy validation
}
