// Package logging provides the launcher's logging plumbing on top of slog:
// safe per-run log file creation, multi-handler fan-out, and structured
// reporting for failures that happen before the logger exists.
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/isseis/go-safe-confine-runner/internal/safefileio"
)

// Common errors
var (
	ErrEmptyLogDirectory = errors.New("log directory cannot be empty")
)

const (
	logDirPerm  os.FileMode = 0o750
	logFilePerm os.FileMode = 0o600
)

// GenerateRunID generates a new UUID v4 identifying one launcher invocation.
// The run id appears in every log record and in pre-execution error output
// so a single launch can be traced across console, file and syslog.
func GenerateRunID() string {
	return uuid.New().String()
}

// unknownHostToken stands in for the hostname in log file names when the
// kernel cannot report one; the name must stay parseable either way.
const unknownHostToken = "unknown-host"

// osHostname is swapped out by tests exercising the fallback.
var osHostname = os.Hostname

// logHostname returns the host token used in per-run log file names.
func logHostname() string {
	hostname, err := osHostname()
	if err != nil {
		return unknownHostToken
	}
	return hostname
}

// PerRunLogPath builds the auto-named per-run log file path inside dir.
func PerRunLogPath(dir, runID string) string {
	timestamp := time.Now().Format("20060102T150405Z")
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s.json", logHostname(), timestamp, runID))
}

// OpenPerRunLogFile validates the log directory and opens the per-run log
// file through the symlink-safe opener. The launcher may still hold elevated
// privileges when the logger is assembled, so following a planted symlink
// here would be a root file overwrite.
func OpenPerRunLogFile(dir, runID string) (*os.File, error) {
	if dir == "" {
		return nil, ErrEmptyLogDirectory
	}
	if err := os.MkdirAll(dir, logDirPerm); err != nil {
		return nil, fmt.Errorf("cannot create log directory %s: %w", dir, err)
	}

	path := PerRunLogPath(dir, runID)
	file, err := safefileio.SafeOpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, logFilePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return file, nil
}
