package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesConfigFileAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(envConfigDir, dir)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, SetupSuggest, cfg.Setup)
	require.Equal(t, "25G", cfg.SetupSize)

	_, statErr := os.Stat(filepath.Join(dir, "config.yml"))
	require.NoError(t, statErr)
}

func TestLoadMergesUserFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(envConfigDir, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("setupSize: 50G\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "50G", cfg.SetupSize)
	require.Equal(t, SetupSuggest, cfg.Setup, "keys absent from the user file keep their default")
}

func TestLoadAppliesEnvOverridesOverFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(envConfigDir, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("debug: false\nsetup: never\n"), 0o644))
	t.Setenv(envDebug, "1")
	t.Setenv(envSetup, "auto")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.Debug, "FINGERTIP_DEBUG=1 must override the file")
	require.Equal(t, SetupAuto, cfg.Setup, "FINGERTIP_SETUP must override the file")
}

func TestLoadPreservesExplicitLockTimeout(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(envConfigDir, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("lockTimeout: 30s\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	d, err := cfg.LockTimeoutDuration()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, d)
}

func TestLockTimeoutDurationDefaultsToUnbounded(t *testing.T) {
	d, err := (EngineConfig{}).LockTimeoutDuration()
	require.NoError(t, err)
	require.Zero(t, d)
}
