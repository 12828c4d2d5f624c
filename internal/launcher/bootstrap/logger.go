// Package bootstrap assembles the launcher's runtime services during startup,
// before any privileged work begins. Keeping the assembly here lets the
// command-line entry points stay small and lets tests build the same wiring
// with injected pieces.
package bootstrap

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/isseis/go-safe-confine-runner/internal/logging"
	"github.com/isseis/go-safe-confine-runner/internal/terminal"
)

// LoggerConfig holds all configuration for logger setup.
type LoggerConfig struct {
	Level         slog.Level
	LogDir        string // empty disables the per-run JSON log file
	RunID         string
	ConsoleWriter io.Writer // defaults to stderr; stdout belongs to the confined program
}

// SetupLoggerWithConfig initializes the logging system with all handlers
// atomically and installs the result as the slog default.
//
// This function must be called exactly once during startup, before any
// logging happens and before privileges are touched, so that a failure here
// still surfaces as a pre-execution error rather than a half-logged launch.
func SetupLoggerWithConfig(config LoggerConfig, forceInteractive, forceQuiet bool) error {
	var handlers []slog.Handler

	detector := terminal.NewInteractiveDetector(terminal.DetectorOptions{
		ForceInteractive:    forceInteractive,
		ForceNonInteractive: forceQuiet,
	})

	// 1. Console handler. Human-facing output goes to stderr because stdout
	// is handed to the confined program on exec. In non-interactive
	// contexts only warnings and errors reach the console; the per-run log
	// file keeps the full record.
	consoleWriter := config.ConsoleWriter
	if consoleWriter == nil {
		consoleWriter = os.Stderr
	}
	consoleLevel := config.Level
	if !detector.IsInteractive() && consoleLevel < slog.LevelWarn {
		consoleLevel = slog.LevelWarn
	}
	handlers = append(handlers, slog.NewTextHandler(consoleWriter, &slog.HandlerOptions{
		Level: consoleLevel,
	}))

	// 2. Machine-readable log handler (to file, per-run auto-named).
	if config.LogDir != "" {
		logF, err := logging.OpenPerRunLogFile(config.LogDir, config.RunID)
		if err != nil {
			return fmt.Errorf("failed to open per-run log file: %w", err)
		}

		jsonHandler := slog.NewJSONHandler(logF, &slog.HandlerOptions{
			Level: config.Level,
		})
		handlers = append(handlers, jsonHandler.WithAttrs([]slog.Attr{
			slog.Int("pid", os.Getpid()),
			slog.Int("schema_version", 1),
			slog.String("run_id", config.RunID),
		}))
	}

	slog.SetDefault(slog.New(logging.NewMultiHandler(handlers...)))

	slog.Debug("logger initialized",
		"log_level", config.Level,
		"log_dir", config.LogDir,
		"run_id", config.RunID,
		"interactive", detector.IsInteractive())

	return nil
}
