// Package main provides a diagnostic for cooperating processes whose
// precondition is that the launcher already holds a target's lock. It probes
// the lock non-blockingly: finding it held is success, finding it free means
// the coordination contract is broken.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/isseis/go-safe-confine-runner/internal/cmdcommon"
	"github.com/isseis/go-safe-confine-runner/internal/launcher/apperr"
	"github.com/isseis/go-safe-confine-runner/internal/launcher/lockfile"
)

// ErrTargetNameRequired is returned when no target name is given.
var ErrTargetNameRequired = errors.New("usage: lockcheck [flags] <target-name>")

var (
	lockDir  = flag.String("lock-dir", cmdcommon.DefaultLockDirectory, "lock directory")
	logLevel = flag.String("log-level", "warn", "log level (debug, info, warn, error)")
)

func main() {
	if err := run(); err != nil {
		var probeErr *apperr.Error
		if errors.As(err, &probeErr) {
			apperr.Die(err)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()
	if flag.NArg() != 1 {
		return ErrTargetNameRequired
	}
	name := flag.Arg(0)

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	locks, err := lockfile.NewManager(*lockDir, logger)
	if err != nil {
		return err
	}
	defer locks.Close()

	if err := locks.VerifyHeld(name); err != nil {
		return err
	}
	fmt.Printf("lock on %s is held\n", name)
	return nil
}
