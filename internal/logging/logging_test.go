package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRunID_Uniqueness(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := GenerateRunID()
		require.NotEmpty(t, id)
		_, dup := seen[id]
		require.False(t, dup, "run IDs must be unique")
		seen[id] = struct{}{}
	}
}

func TestOpenPerRunLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	runID := GenerateRunID()

	f, err := OpenPerRunLogFile(dir, runID)
	require.NoError(t, err)
	defer f.Close()

	assert.Contains(t, f.Name(), runID)
	assert.True(t, strings.HasSuffix(f.Name(), ".json"))

	info, err := os.Stat(f.Name())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpenPerRunLogFile_EmptyDir(t *testing.T) {
	_, err := OpenPerRunLogFile("", "run")
	assert.ErrorIs(t, err, ErrEmptyLogDirectory)
}

func TestPerRunLogPath_HostnameFallback(t *testing.T) {
	orig := osHostname
	defer func() { osHostname = orig }()

	osHostname = func() (string, error) { return "builder", nil }
	assert.True(t, strings.HasPrefix(filepath.Base(PerRunLogPath("/var/log", "run-1")), "builder"))

	osHostname = func() (string, error) { return "", errors.New("no hostname") }
	assert.True(t, strings.HasPrefix(filepath.Base(PerRunLogPath("/var/log", "run-1")), unknownHostToken),
		"an undeterminable hostname must not break the log file name")
}

func TestMultiHandler_FanOut(t *testing.T) {
	var bufA, bufB bytes.Buffer
	a := slog.NewTextHandler(&bufA, &slog.HandlerOptions{Level: slog.LevelInfo})
	b := slog.NewTextHandler(&bufB, &slog.HandlerOptions{Level: slog.LevelError})

	logger := slog.New(NewMultiHandler(a, b))
	logger.Info("lock acquired", "scope", "global")

	assert.Contains(t, bufA.String(), "lock acquired")
	assert.Empty(t, bufB.String(), "error-level handler must filter info records")

	logger.Error("watchdog expired")
	assert.Contains(t, bufB.String(), "watchdog expired")
}

func TestMultiHandler_Enabled(t *testing.T) {
	var buf bytes.Buffer
	h := NewMultiHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestPreExecutionError_Error(t *testing.T) {
	err := &PreExecutionError{
		Type:      ErrorTypeLockAcquisition,
		Message:   "watchdog expired",
		Component: "lockfile",
		RunID:     "run-1",
	}
	msg := err.Error()
	assert.Contains(t, msg, "lock_acquisition_failed")
	assert.Contains(t, msg, "watchdog expired")
	assert.Contains(t, msg, "run-1")
}
