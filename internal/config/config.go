// Package config loads EngineConfig, the small set of ambient settings
// not tied to any one pipeline run: kill-switch flags, the default lock
// timeout, and the CoW-FS setup wizard's behavior. A yaml file under the
// user's config directory is loaded over the built-in defaults, so an
// empty or partial file is still valid.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/OpenPeeDeeP/xdg"
	"github.com/jesseduffield/yaml"

	"github.com/fingertip-dev/fingertip/internal/expiration"
)

// SetupMode is FINGERTIP_SETUP's three-way CoW-FS wizard behavior.
type SetupMode string

const (
	SetupAuto    SetupMode = "auto"
	SetupSuggest SetupMode = "suggest"
	SetupNever   SetupMode = "never"
)

const (
	envDebug     = "FINGERTIP_DEBUG"
	envSetup     = "FINGERTIP_SETUP"
	envSetupSize = "FINGERTIP_SETUP_SIZE"
	envCacheDir  = "FINGERTIP_CACHE_DIR"
	envConfigDir = "FINGERTIP_CONFIG_DIR"
)

// EngineConfig is fingertip's on-disk configuration, loaded once per
// process by the Engine. LockTimeout is a duration string ("30s", "5m",
// "0") rather than a native yaml duration, the same string-then-parse
// convention internal/expiration and the step resolver's dotted-path
// assignment already use.
type EngineConfig struct {
	Debug             bool      `yaml:"debug,omitempty"`
	IgnoreCodeChanges bool      `yaml:"ignoreCodeChanges,omitempty"`
	LockTimeout       string    `yaml:"lockTimeout,omitempty"`
	Setup             SetupMode `yaml:"setup,omitempty"`
	SetupSize         string    `yaml:"setupSize,omitempty"`
}

// LockTimeoutDuration parses LockTimeout, treating "" the same as "0":
// block indefinitely.
func (c EngineConfig) LockTimeoutDuration() (time.Duration, error) {
	if c.LockTimeout == "" {
		return 0, nil
	}
	return expiration.ParseInterval(c.LockTimeout)
}

// Default returns fingertip's built-in configuration, the base every
// loaded config.yml is merged into — see loadFile below. Never default a
// bool to true here: false is the zero value, and would be
// indistinguishable from "not set" once merged with a user file that
// omits the key.
func Default() EngineConfig {
	return EngineConfig{
		Setup:     SetupSuggest,
		SetupSize: "25G",
	}
}

// Dir resolves fingertip's config directory, honoring FINGERTIP_CONFIG_DIR
// as an escape hatch for tests and containerized runs.
func Dir() (string, error) {
	dir := os.Getenv(envConfigDir)
	if dir == "" {
		dir = xdg.New("", "fingertip").ConfigHome()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Load reads <config-dir>/config.yml over Default() (creating an empty
// file if none exists yet), then applies environment-variable overrides,
// which always win over the file.
func Load() (EngineConfig, error) {
	dir, err := Dir()
	if err != nil {
		return EngineConfig{}, err
	}
	cfg, err := loadFile(filepath.Join(dir, "config.yml"), Default())
	if err != nil {
		return EngineConfig{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func loadFile(path string, base EngineConfig) (EngineConfig, error) {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return EngineConfig{}, err
		}
		if f, err := os.Create(path); err != nil {
			return EngineConfig{}, err
		} else {
			f.Close()
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, err
	}
	if err := yaml.Unmarshal(content, &base); err != nil {
		return EngineConfig{}, err
	}
	return base, nil
}

func applyEnvOverrides(cfg *EngineConfig) {
	if os.Getenv(envDebug) == "1" {
		cfg.Debug = true
	}
	if m := SetupMode(os.Getenv(envSetup)); m == SetupAuto || m == SetupSuggest || m == SetupNever {
		cfg.Setup = m
	}
	if size := os.Getenv(envSetupSize); size != "" {
		cfg.SetupSize = size
	}
	if os.Getenv("FINGERTIP_IGNORE_CODE_CHANGES") == "1" {
		cfg.IgnoreCodeChanges = true
	}
}

// CacheRoot resolves the cache-root directory FINGERTIP_CACHE_DIR
// overrides, or the xdg cache-home default — the same resolution
// internal/paths.NewLayout performs, exposed here too so callers that
// need the bare path (e.g. a "--config" style status printout) don't
// have to build a whole Layout to get it.
func CacheRoot() string {
	if dir := os.Getenv(envCacheDir); dir != "" {
		return dir
	}
	return xdg.New("", "fingertip").CacheHome()
}
