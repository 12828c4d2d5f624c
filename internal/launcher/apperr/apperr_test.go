package apperr

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("lockfile", 3, "cannot lock %q", "firefox")

	assert.Equal(t, "lockfile", err.Domain())
	assert.Equal(t, 3, err.Code())
	assert.Equal(t, `cannot lock "firefox"`, err.Error())
}

func TestFromSystem(t *testing.T) {
	err := FromSystem(syscall.EACCES, "cannot open lock directory %s", "/run/lock")

	assert.Equal(t, DomainSystem, err.Domain())
	assert.Equal(t, int(syscall.EACCES), err.Code())
	assert.Equal(t, "cannot open lock directory /run/lock", err.Error())
	assert.ErrorIs(t, err, syscall.EACCES, "wrapped errno should survive for errors.Is")
}

func TestFromSystem_WrappedPathError(t *testing.T) {
	cause := &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT}
	err := FromSystem(cause, "cannot stat reference binary")

	assert.Equal(t, int(syscall.ENOENT), err.Code(), "errno should be extracted through wrapping")
}

func TestFromSystem_NonErrnoCause(t *testing.T) {
	err := FromSystem(errors.New("opaque failure"), "unprivileged setup failed")

	assert.Equal(t, CodeNone, err.Code())
}

func TestAccessors_NilError(t *testing.T) {
	var err *Error

	assert.Panics(t, func() { _ = err.Domain() }, "Domain on nil error must panic")
	assert.Panics(t, func() { _ = err.Code() }, "Code on nil error must panic")
	assert.Panics(t, func() { _ = err.Error() }, "Error on nil error must panic")
}

func TestMatch(t *testing.T) {
	err := New("grouppolicy", 1, "no group privilege")

	assert.True(t, Match(err, "grouppolicy", 1))
	assert.False(t, Match(err, "grouppolicy", 42))
	assert.False(t, Match(err, "lockfile", 1))
	assert.False(t, Match(nil, "grouppolicy", 1), "nil error never matches")
	assert.False(t, Match(errors.New("plain"), "grouppolicy", 1), "unstructured error never matches")
	assert.Panics(t, func() { Match(err, "", 0) }, "empty domain is a contract violation")
}

func TestMatch_ThroughWrapping(t *testing.T) {
	inner := New("lockfile", 2, "watchdog expired")
	wrapped := fmt.Errorf("acquiring target lock: %w", inner)

	assert.True(t, Match(wrapped, "lockfile", 2), "Match must see through %%w wrapping")
}

func TestForward_StoresIntoRecipient(t *testing.T) {
	src := New("identity", CodeNone, "cannot drop privileges")

	var slot error
	Forward(&slot, src)
	require.NotNil(t, slot)
	assert.Same(t, src, slot.(*Error), "responsibility transfers to the recipient")
}

func TestForward_NilErrorIsNoOp(t *testing.T) {
	var slot error
	Forward(&slot, nil)
	assert.NoError(t, slot)

	// A nil recipient with a nil error must not terminate either.
	Forward(nil, nil)
}

func TestForward_NilRecipientDies(t *testing.T) {
	exitCode := -1
	osExit = func(code int) { exitCode = code }
	defer func() { osExit = os.Exit }()

	// With the exit seam swapped, Forward must return cleanly after the
	// terminate call rather than fall through and store into the nil slot.
	require.NotPanics(t, func() {
		Forward(nil, New("lockfile", CodeNone, "lock acquisition timed out"))
	})
	assert.Equal(t, 1, exitCode, "forwarding with no recipient must terminate")
}

func TestDie_NilErrorPanics(t *testing.T) {
	assert.Panics(t, func() { Die(nil) })
}
