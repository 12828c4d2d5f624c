// Package lockfile implements the launcher's cross-process exclusive locks.
// Locks are advisory flock(2) locks on files in a well-known runtime
// directory, scoped globally, per confinement target, or per (target, user)
// purely by filename. Acquisition is bounded by a watchdog deadline: a
// launcher that cannot get its coordination lock within the budget must not
// proceed, so expiry is reported as a fatal error and never retried.
package lockfile

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sys/unix"

	"github.com/isseis/go-safe-confine-runner/internal/launcher/apperr"
)

// Domain is the structured-error domain for lock failures.
const Domain = "lockfile"

// Error codes within Domain.
const (
	// CodeWatchdogExpired means the lock could not be acquired within the
	// watchdog budget.
	CodeWatchdogExpired = 1
	// CodeNotHeld means VerifyHeld found the lock unexpectedly free.
	CodeNotHeld = 2
)

const (
	// DefaultWatchdogBudget bounds how long one acquisition may block.
	DefaultWatchdogBudget = 6 * time.Second

	// globalLockName is the filename of the global-scope lock.
	globalLockName = ".lock"

	lockDirPerm  = 0o755
	lockFilePerm = 0o600

	// pollInterval is the spacing of non-blocking flock attempts while
	// waiting for a contended lock.
	pollInterval = 50 * time.Millisecond
)

// Manager acquires and releases locks inside one lock directory. It holds an
// open descriptor on the directory so lock files are always created relative
// to it, never through a path an attacker could redirect with a symlink.
type Manager struct {
	dir    string
	dirFD  int
	budget time.Duration
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithWatchdogBudget overrides the acquisition budget. Intended for tests
// and for configuration loaded at startup; there is no per-operation budget.
func WithWatchdogBudget(budget time.Duration) Option {
	return func(m *Manager) { m.budget = budget }
}

// NewManager opens (creating if missing, mode 0755) the lock directory and
// returns a Manager bound to it. The directory's parent must already exist.
func NewManager(dir string, logger *slog.Logger, opts ...Option) (*Manager, error) {
	dirFD, err := openLockDir(dir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		dir:    dir,
		dirFD:  dirFD,
		budget: DefaultWatchdogBudget,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// openLockDir creates and opens the lock directory by walking the path one
// component at a time relative to the previously opened descriptor. Each
// step uses O_NOFOLLOW, so a symlink anywhere in the path fails with ELOOP
// instead of redirecting where lock files are created.
func openLockDir(dir string) (int, error) {
	clean := filepath.Clean(dir)
	walked := "."
	if filepath.IsAbs(clean) {
		walked = "/"
		clean = strings.TrimPrefix(clean, "/")
	}
	if clean == "" || clean == "." {
		return -1, apperr.FromSystem(unix.EINVAL, "cannot use %s as a lock directory", dir)
	}

	parentFD, err := unix.Open(walked, unix.O_DIRECTORY|unix.O_CLOEXEC|unix.O_RDONLY, 0)
	if err != nil {
		return -1, apperr.FromSystem(err, "cannot open lock directory parent %s", walked)
	}

	components := strings.Split(clean, "/")
	for _, comp := range components[:len(components)-1] {
		walked = filepath.Join(walked, comp)
		fd, err := unix.Openat(parentFD, comp, unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC|unix.O_RDONLY, 0)
		unix.Close(parentFD)
		if err != nil {
			return -1, apperr.FromSystem(err, "cannot open lock directory parent %s", walked)
		}
		parentFD = fd
	}
	defer unix.Close(parentFD)

	base := components[len(components)-1]
	if err := unix.Mkdirat(parentFD, base, lockDirPerm); err != nil && err != unix.EEXIST {
		return -1, apperr.FromSystem(err, "cannot create lock directory %s", dir)
	}

	dirFD, err := unix.Openat(parentFD, base, unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC|unix.O_RDONLY, 0)
	if err != nil {
		return -1, apperr.FromSystem(err, "cannot open lock directory %s", dir)
	}
	return dirFD, nil
}

// Close releases the Manager's directory descriptor. Held locks stay valid;
// they own their file descriptors independently.
func (m *Manager) Close() error {
	if m.dirFD < 0 {
		return nil
	}
	err := unix.Close(m.dirFD)
	m.dirFD = -1
	if err != nil {
		return apperr.FromSystem(err, "cannot close lock directory %s", m.dir)
	}
	return nil
}

// Dir returns the directory the Manager operates in.
func (m *Manager) Dir() string {
	return m.dir
}

// Lock is an acquired exclusive lock. The lock belongs to the open file
// description, so it survives fork/exec of unrelated descriptors and dies
// with the process at the latest.
type Lock struct {
	fd      int
	name    string
	session string
	logger  *slog.Logger
}

// AcquireGlobal takes the lock serializing all launcher instances.
func (m *Manager) AcquireGlobal() (*Lock, error) {
	return m.acquire(globalLockName, "global")
}

// AcquireTarget takes the lock serializing launchers of one confinement
// target. name must be a previously validated target identifier.
func (m *Manager) AcquireTarget(name string) (*Lock, error) {
	return m.acquire(targetLockName(name), "target")
}

// AcquireTargetForUser takes the per-(target, user) lock. Root has no
// per-user namespace: uid 0 acquires the plain target lock.
func (m *Manager) AcquireTargetForUser(name string, uid int) (*Lock, error) {
	if uid == 0 {
		return m.AcquireTarget(name)
	}
	return m.acquire(fmt.Sprintf("%s.%d.lock", name, uid), "target-user")
}

func targetLockName(name string) string {
	return name + ".lock"
}

// acquire opens (creating if needed) the named lock file and polls a
// non-blocking exclusive flock until it succeeds or the watchdog deadline
// passes. The deadline check happens in the same loop iteration as the
// failed attempt, so a stale expiry can never be attributed to a later
// operation.
func (m *Manager) acquire(name, scope string) (*Lock, error) {
	fd, err := m.openLockFile(name)
	if err != nil {
		return nil, err
	}

	session := ulid.Make().String()
	deadline := time.Now().Add(m.budget)

	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK && err != unix.EINTR {
			unix.Close(fd)
			return nil, apperr.FromSystem(err, "cannot acquire lock on %s", filepath.Join(m.dir, name))
		}
		if time.Now().After(deadline) {
			unix.Close(fd)
			return nil, apperr.New(Domain, CodeWatchdogExpired,
				"cannot acquire lock on %s: timed out after %v", filepath.Join(m.dir, name), m.budget)
		}
		time.Sleep(pollInterval)
	}

	m.logger.Debug("lock acquired",
		"scope", scope,
		"file", filepath.Join(m.dir, name),
		"lock_session", session)

	return &Lock{fd: fd, name: name, session: session, logger: m.logger}, nil
}

// openLockFile opens the named lock file relative to the held directory
// descriptor. O_NOFOLLOW resists symlinks planted in the lock directory,
// O_CLOEXEC keeps the descriptor from leaking into the confined program.
func (m *Manager) openLockFile(name string) (int, error) {
	fd, err := unix.Openat(m.dirFD, name,
		unix.O_CREAT|unix.O_RDWR|unix.O_NOFOLLOW|unix.O_CLOEXEC, lockFilePerm)
	if err != nil {
		return -1, apperr.FromSystem(err, "cannot open lock file %s", filepath.Join(m.dir, name))
	}
	return fd, nil
}

// VerifyHeld asserts that the target's lock is currently held by some other
// process. It is used by cooperating processes whose precondition is "the
// orchestration already holds this lock". Finding the lock free is the
// failure: the accidental lock is released and a fatal error returned.
func (m *Manager) VerifyHeld(name string) error {
	fd, err := m.openLockFile(targetLockName(name))
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		// Held by someone else, as required.
		return nil
	}
	if err != nil {
		return apperr.FromSystem(err, "cannot probe lock on %s", filepath.Join(m.dir, targetLockName(name)))
	}

	// The probe succeeded, so nobody held the lock. Undo it before
	// reporting the violated precondition.
	if uerr := unix.Flock(fd, unix.LOCK_UN); uerr != nil {
		return apperr.FromSystem(uerr, "cannot release probe lock on %s", filepath.Join(m.dir, targetLockName(name)))
	}
	return apperr.New(Domain, CodeNotHeld, "lock on %s is not held", filepath.Join(m.dir, targetLockName(name)))
}

// Release unlocks and closes the lock in one operation. The lock file stays
// on disk so the name remains stable for subsequent acquisitions. Releasing
// a lock twice is a programmer-contract violation.
func (l *Lock) Release() error {
	if l.fd < 0 {
		panic("lockfile: Release called on already-released lock")
	}

	if err := unix.Flock(l.fd, unix.LOCK_UN); err != nil {
		return apperr.FromSystem(err, "cannot unlock %s", l.name)
	}
	fd := l.fd
	l.fd = -1
	if err := unix.Close(fd); err != nil {
		return apperr.FromSystem(err, "cannot close lock file %s", l.name)
	}

	l.logger.Debug("lock released", "file", l.name, "lock_session", l.session)
	return nil
}

// Session returns the ULID identifying this acquisition in log records.
func (l *Lock) Session() string {
	return l.session
}
