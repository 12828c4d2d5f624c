// Package config loads and validates the launcher's optional TOML
// configuration. The file tunes operational policy (lock directory, watchdog
// budget, logging); everything security-relevant is compiled in and cannot
// be overridden here.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/isseis/go-safe-confine-runner/internal/cmdcommon"
	"github.com/isseis/go-safe-confine-runner/internal/common"
	"github.com/isseis/go-safe-confine-runner/internal/safefileio"
)

// Error definitions for the config package
var (
	// ErrLockDirNotAbsolute is returned when lock_dir is not an absolute path
	ErrLockDirNotAbsolute = errors.New("lock_dir must be an absolute path")
	// ErrInvalidWatchdogBudget is returned when the watchdog budget is not positive
	ErrInvalidWatchdogBudget = errors.New("watchdog_timeout_seconds must be positive")
	// ErrInvalidLogLevel is returned when log_level is not a known level
	ErrInvalidLogLevel = errors.New("log_level must be one of debug, info, warn, error")
)

// Config is the launcher configuration after defaults are applied.
type Config struct {
	// LockDir is the lock directory (absolute path).
	LockDir string `toml:"lock_dir"`

	// WatchdogTimeoutSeconds bounds lock acquisition.
	WatchdogTimeoutSeconds int `toml:"watchdog_timeout_seconds"`

	// LogDir, when set, enables the per-run JSON log file.
	LogDir string `toml:"log_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// InspectBinary enables the pre-exec raw-syscall scan.
	InspectBinary bool `toml:"inspect_binary"`
}

// WatchdogBudget returns the watchdog budget as a duration.
func (c *Config) WatchdogBudget() time.Duration {
	return time.Duration(c.WatchdogTimeoutSeconds) * time.Second
}

// SlogLevel maps the configured level name to a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
}

// defaultConfig returns the built-in production defaults.
func defaultConfig() *Config {
	return &Config{
		LockDir:                cmdcommon.DefaultLockDirectory,
		WatchdogTimeoutSeconds: 6,
		LogLevel:               "info",
		InspectBinary:          true,
	}
}

// Loader reads configuration files.
type Loader struct {
	fs common.FileSystem
}

// NewLoader creates a Loader that reads through the symlink-safe opener.
func NewLoader() *Loader {
	return NewLoaderWithFS(safeFS{})
}

// NewLoaderWithFS creates a Loader with a custom FileSystem for tests.
func NewLoaderWithFS(fs common.FileSystem) *Loader {
	return &Loader{fs: fs}
}

// Load reads and validates the configuration at path, applying built-in
// defaults for unset fields. An empty path, or the default path being
// absent, yields the defaults.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	if path == cmdcommon.DefaultConfigPath {
		exists, err := l.fs.FileExists(path)
		if err != nil {
			return nil, fmt.Errorf("cannot probe config file %s: %w", path, err)
		}
		if !exists {
			return cfg, nil
		}
	}

	content, err := l.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if err := unmarshalStrict(content, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// unmarshalStrict decodes TOML rejecting unknown fields, so a typo in an
// operational knob fails loudly instead of silently using the default.
func unmarshalStrict(content []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

func validate(cfg *Config) error {
	if !filepath.IsAbs(cfg.LockDir) {
		return fmt.Errorf("%w: %q", ErrLockDirNotAbsolute, cfg.LockDir)
	}
	if cfg.WatchdogTimeoutSeconds <= 0 {
		return ErrInvalidWatchdogBudget
	}
	if _, err := cfg.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// safeFS adapts safefileio to the common.FileSystem interface.
type safeFS struct{}

func (safeFS) ReadFile(path string) ([]byte, error) {
	return safefileio.SafeReadFile(path)
}

func (safeFS) Lstat(path string) (fs.FileInfo, error) {
	return os.Lstat(path)
}

func (safeFS) FileExists(path string) (bool, error) {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
