// Package main provides the entry point for the confinement launcher. It
// parses command-line arguments, loads configuration, assembles the logger,
// and hands control to the launch sequence; on success the process image is
// replaced by the confined program.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/isseis/go-safe-confine-runner/internal/cmdcommon"
	"github.com/isseis/go-safe-confine-runner/internal/launcher"
	"github.com/isseis/go-safe-confine-runner/internal/launcher/apperr"
	"github.com/isseis/go-safe-confine-runner/internal/launcher/bootstrap"
	"github.com/isseis/go-safe-confine-runner/internal/launcher/config"
	"github.com/isseis/go-safe-confine-runner/internal/launcher/grouppolicy"
	"github.com/isseis/go-safe-confine-runner/internal/launcher/identity"
	"github.com/isseis/go-safe-confine-runner/internal/launcher/lockfile"
	"github.com/isseis/go-safe-confine-runner/internal/logging"
)

var (
	configPath  = flag.String("config", cmdcommon.DefaultConfigPath, "path to config file")
	logLevel    = flag.String("log-level", "", "log level (debug, info, warn, error); overrides the config file")
	logDir      = flag.String("log-dir", "", "directory to place per-run JSON log (auto-named); overrides the config file")
	lockDir     = flag.String("lock-dir", "", "lock directory; overrides the config file")
	dryRun      = flag.Bool("dry-run", false, "walk the launch sequence without privilege transitions or exec")
	quiet       = flag.Bool("quiet", false, "force non-interactive console output")
	interactive = flag.Bool("interactive", false, "force interactive console output")
)

func main() {
	// Generate run ID early for error handling
	runID := logging.GenerateRunID()

	if err := run(runID); err != nil {
		var preExecErr *logging.PreExecutionError
		if errors.As(err, &preExecErr) {
			logging.HandlePreExecutionError(preExecErr.Type, preExecErr.Message, preExecErr.Component, runID)
			os.Exit(1)
		}
		// The group policy denial is the one failure reported to the
		// caller instead of terminating through the error protocol.
		if apperr.Match(err, grouppolicy.Domain, grouppolicy.CodeNoGroupPrivilege) {
			logging.HandlePreExecutionError(logging.ErrorTypeGroupPolicy, err.Error(), "grouppolicy", runID)
			os.Exit(1)
		}
		var launchErr *apperr.Error
		if errors.As(err, &launchErr) {
			apperr.Die(err)
		}
		logging.HandlePreExecutionError(logging.ErrorTypeSystemError, err.Error(), "main", runID)
		os.Exit(1)
	}
}

func run(runID string) error {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		return &logging.PreExecutionError{
			Type:      logging.ErrorTypeConfigParsing,
			Message:   fmt.Sprintf("Failed to load config: %v", err),
			Component: "config",
			RunID:     runID,
			Err:       err,
		}
	}

	if err := setupLogger(cfg, runID); err != nil {
		return &logging.PreExecutionError{
			Type:      logging.ErrorTypeLogFileOpen,
			Message:   fmt.Sprintf("Failed to setup logger: %v", err),
			Component: "logging",
			RunID:     runID,
			Err:       err,
		}
	}

	target, err := targetFromArgs(flag.Args())
	if err != nil {
		return &logging.PreExecutionError{
			Type:      logging.ErrorTypeRequiredArgumentMissing,
			Message:   err.Error(),
			Component: "main",
			RunID:     runID,
			Err:       err,
		}
	}

	logger := slog.Default().With("run_id", runID)

	locks, err := lockfile.NewManager(cfg.LockDir, logger,
		lockfile.WithWatchdogBudget(cfg.WatchdogBudget()))
	if err != nil {
		return err
	}
	defer func() {
		if err := locks.Close(); err != nil {
			logger.Warn("cannot close lock directory", "error", err)
		}
	}()

	opts := []launcher.Option{
		launcher.WithBinaryInspection(cfg.InspectBinary),
	}
	if *dryRun {
		opts = append(opts, launcher.WithDryRun())
	}

	l := launcher.NewLauncher(
		identity.NewManager(logger),
		locks,
		grouppolicy.NewChecker(logger),
		launcher.NopHooks{},
		logger,
		opts...)

	// Run only returns on failure or after a completed dry run.
	return l.Run(target)
}

// loadConfig loads the TOML configuration and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader().Load(*configPath)
	if err != nil {
		return nil, err
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logDir != "" {
		cfg.LogDir = *logDir
	}
	if *lockDir != "" {
		cfg.LockDir = *lockDir
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config, runID string) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	return bootstrap.SetupLoggerWithConfig(bootstrap.LoggerConfig{
		Level:  level,
		LogDir: cfg.LogDir,
		RunID:  runID,
	}, *interactive, *quiet)
}

// targetFromArgs builds the launch target from the positional arguments:
// <target-name> <command> [args...].
func targetFromArgs(args []string) (launcher.Target, error) {
	if len(args) < 2 {
		return launcher.Target{}, errors.New("usage: confine [flags] <target-name> <command> [args...]")
	}
	return launcher.Target{
		Name:    args[0],
		Command: args[1],
		Args:    args[2:],
	}, nil
}
