// Package launcher contains the control flow of one confined launch: group
// policy check, lock acquisition, the privilege transition schedule around
// the confinement setup hooks, and the final exec of the confined program.
// All privileged mechanism (namespaces, cgroups, security profiles) lives
// behind the ConfinementHooks interface; this package owns only the order
// and the invariants between the steps.
package launcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/isseis/go-safe-confine-runner/internal/launcher/elfinspect"
	"github.com/isseis/go-safe-confine-runner/internal/launcher/identity"
	"github.com/isseis/go-safe-confine-runner/internal/launcher/lockfile"
)

// Error definitions for target validation
var (
	// ErrEmptyTargetName is returned when the target name is empty
	ErrEmptyTargetName = errors.New("target name cannot be empty")
	// ErrInvalidTargetName is returned when the target name cannot serve as
	// a lock file name
	ErrInvalidTargetName = errors.New("target name must not contain path separators or dots")
	// ErrCommandNotAbsolute is returned when the program path is not absolute
	ErrCommandNotAbsolute = errors.New("command must be an absolute path")
)

// Target describes the program to confine and launch.
type Target struct {
	// Name identifies the confinement target; it scopes the per-target
	// locks.
	Name string

	// Command is the absolute path of the program to exec.
	Command string

	// Args are the program arguments, not including argv[0].
	Args []string

	// Env is the environment for the program; nil means inherit.
	Env []string
}

// ConfinementHooks is the boundary to the privileged confinement mechanism.
// SetupUnprivileged runs with the effective identity dropped to the invoking
// user; SetupPrivileged runs with effective root and must do all namespace,
// cgroup and security-profile work.
type ConfinementHooks interface {
	SetupUnprivileged(target Target) error
	SetupPrivileged(target Target) error
}

// NopHooks is a ConfinementHooks that does nothing. Used when the
// confinement mechanism is configured elsewhere and by tests.
type NopHooks struct{}

// SetupUnprivileged implements ConfinementHooks.
func (NopHooks) SetupUnprivileged(Target) error { return nil }

// SetupPrivileged implements ConfinementHooks.
func (NopHooks) SetupPrivileged(Target) error { return nil }

// Authorizer is the group policy decision point.
type Authorizer interface {
	Authorize(rootFD int) (bool, error)
}

// execFunc replaces the process image. Injectable so tests can observe the
// exec instead of being replaced by it.
type execFunc func(argv0 string, argv []string, envv []string) error

// Launcher runs the launch sequence. Construct with NewLauncher; the zero
// value is not usable.
type Launcher struct {
	ids      *identity.Manager
	locks    *lockfile.Manager
	policy   Authorizer
	hooks    ConfinementHooks
	logger   *slog.Logger
	rootPath string
	inspect  bool
	dryRun   bool
	execve   execFunc
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithDryRun walks the launch sequence without privilege transitions,
// confinement hooks, or the final exec. Policy and locking still run.
func WithDryRun() Option {
	return func(l *Launcher) { l.dryRun = true }
}

// WithBinaryInspection toggles the pre-exec raw-syscall scan of the confined
// program.
func WithBinaryInspection(enabled bool) Option {
	return func(l *Launcher) { l.inspect = enabled }
}

// WithRootPath overrides the filesystem root the group policy check probes
// under. Tests point this at a fixture tree.
func WithRootPath(path string) Option {
	return func(l *Launcher) { l.rootPath = path }
}

// WithExecFunc overrides the exec syscall. Tests only.
func WithExecFunc(fn func(argv0 string, argv []string, envv []string) error) Option {
	return func(l *Launcher) { l.execve = fn }
}

// NewLauncher creates a Launcher over the given collaborators.
func NewLauncher(ids *identity.Manager, locks *lockfile.Manager, policy Authorizer, hooks ConfinementHooks, logger *slog.Logger, opts ...Option) *Launcher {
	l := &Launcher{
		ids:      ids,
		locks:    locks,
		policy:   policy,
		hooks:    hooks,
		logger:   logger,
		rootPath: "/",
		inspect:  true,
		execve:   unix.Exec,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the launch sequence for the target. On success the process
// image is replaced and Run never returns; every return is therefore a
// failure (or a completed dry run).
func (l *Launcher) Run(target Target) error {
	if err := validateTarget(target); err != nil {
		return err
	}

	// The invoking user's identity is resolved exactly once, before any
	// transition can disturb it.
	real := l.ids.Real()
	logger := l.logger.With("target", target.Name, "caller_uid", real.UID)

	// Shed a set-group-ID elevation before anything else runs. The group
	// transitions later in the sequence assume the group triple is already
	// the caller's.
	if !l.dryRun {
		if err := l.ids.ShedGroup(real.GID); err != nil {
			return fmt.Errorf("cannot shed setgid group: %w", err)
		}
	}

	if err := l.authorize(logger); err != nil {
		return err
	}

	held, err := l.acquireLocks(target.Name, real.UID, logger)
	if err != nil {
		return err
	}

	if err := l.setupConfinement(target, real, logger); err != nil {
		l.releaseBestEffort(held, logger)
		return err
	}

	l.inspectBinary(target, logger)

	// Locks are released in reverse acquisition order, before exec, so the
	// confined program never inherits a hold it cannot release.
	for i := len(held) - 1; i >= 0; i-- {
		if err := held[i].Release(); err != nil {
			return fmt.Errorf("cannot release lock: %w", err)
		}
	}

	if l.dryRun {
		logger.Info("dry run complete, not executing", "command", target.Command)
		return nil
	}

	argv := append([]string{target.Command}, target.Args...)
	envv := target.Env
	if envv == nil {
		envv = os.Environ()
	}
	logger.Info("executing confined program", "command", target.Command)
	if err := l.execve(target.Command, argv, envv); err != nil {
		return fmt.Errorf("cannot execute %s: %w", target.Command, err)
	}
	return nil
}

// authorize runs the group policy check against the real filesystem root.
// The denial error is returned untouched so the caller can distinguish it
// from operational failures.
func (l *Launcher) authorize(logger *slog.Logger) error {
	rootFD, err := unix.Open(l.rootPath, unix.O_DIRECTORY|unix.O_CLOEXEC|unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open filesystem root %s: %w", l.rootPath, err)
	}
	defer unix.Close(rootFD)

	allowed, err := l.policy.Authorize(rootFD)
	if err != nil {
		return err
	}
	if !allowed {
		// Authorize reports denial through its error; a bare false would
		// break that contract.
		panic("launcher: Authorize returned false without an error")
	}
	logger.Debug("group policy check passed")
	return nil
}

// acquireLocks takes the coordination locks in the fixed global, target,
// target-user order. The invoking root user holds no separate per-user lock;
// the target lock already serializes it.
func (l *Launcher) acquireLocks(name string, uid int, logger *slog.Logger) ([]*lockfile.Lock, error) {
	var held []*lockfile.Lock

	acquire := func(f func() (*lockfile.Lock, error)) error {
		lock, err := f()
		if err != nil {
			l.releaseBestEffort(held, logger)
			return err
		}
		held = append(held, lock)
		return nil
	}

	if err := acquire(l.locks.AcquireGlobal); err != nil {
		return nil, err
	}
	if err := acquire(func() (*lockfile.Lock, error) { return l.locks.AcquireTarget(name) }); err != nil {
		return nil, err
	}
	if uid != 0 {
		if err := acquire(func() (*lockfile.Lock, error) { return l.locks.AcquireTargetForUser(name, uid) }); err != nil {
			return nil, err
		}
	}
	return held, nil
}

// setupConfinement runs the two hook phases under the privilege transition
// schedule: temporary drop for the unprivileged phase, raise to root for the
// privileged phase, then the permanent drop. After this returns nil the
// process can never regain elevated privilege.
func (l *Launcher) setupConfinement(target Target, real identity.Snapshot, logger *slog.Logger) error {
	if l.dryRun {
		logger.Info("dry run: skipping privilege transitions and confinement setup")
		return nil
	}

	snap, err := l.ids.DropTemporarily(real.UID, real.GID)
	if err != nil {
		return fmt.Errorf("cannot drop privileges for unprivileged setup: %w", err)
	}
	if err := l.hooks.SetupUnprivileged(target); err != nil {
		// Restore before reporting so the error path runs with the same
		// identity as the caller of this function.
		if rerr := l.ids.Restore(snap); rerr != nil {
			return fmt.Errorf("cannot restore privileges after failed unprivileged setup: %w", rerr)
		}
		return fmt.Errorf("unprivileged confinement setup failed: %w", err)
	}
	if err := l.ids.Restore(snap); err != nil {
		return fmt.Errorf("cannot restore privileges after unprivileged setup: %w", err)
	}

	if _, err := l.ids.RaiseToRoot(); err != nil {
		return fmt.Errorf("cannot raise privileges for confinement setup: %w", err)
	}
	if err := l.hooks.SetupPrivileged(target); err != nil {
		return fmt.Errorf("privileged confinement setup failed: %w", err)
	}

	if err := l.ids.DropPermanently(real.UID, real.GID); err != nil {
		return fmt.Errorf("cannot permanently drop privileges: %w", err)
	}
	logger.Debug("confinement setup complete, privileges permanently dropped")
	return nil
}

// inspectBinary scans the confined program for raw syscall instructions and
// logs what it finds. Inspection is advisory; it never stops the launch.
func (l *Launcher) inspectBinary(target Target, logger *slog.Logger) {
	if !l.inspect {
		return
	}
	report, err := elfinspect.Inspect(target.Command)
	if err != nil {
		logger.Warn("binary inspection failed", "command", target.Command, "error", err)
		return
	}
	if report.Skipped {
		logger.Debug("binary inspection skipped", "command", target.Command, "reason", report.Reason)
		return
	}
	if report.SyscallCount > 0 {
		logger.Warn("confined program makes raw syscalls",
			"command", target.Command,
			"syscall_count", report.SyscallCount)
	}
}

// releaseBestEffort unwinds held locks on a failure path. Release errors are
// logged, not returned; the original failure is the one worth reporting.
func (l *Launcher) releaseBestEffort(held []*lockfile.Lock, logger *slog.Logger) {
	for i := len(held) - 1; i >= 0; i-- {
		if err := held[i].Release(); err != nil {
			logger.Error("cannot release lock during failure unwind", "error", err)
		}
	}
}

// validateTarget rejects targets whose name cannot serve as a lock file name
// or whose command cannot be exec'd.
func validateTarget(target Target) error {
	if target.Name == "" {
		return ErrEmptyTargetName
	}
	if strings.ContainsAny(target.Name, "/.") {
		return fmt.Errorf("%w: %q", ErrInvalidTargetName, target.Name)
	}
	if !strings.HasPrefix(target.Command, "/") {
		return fmt.Errorf("%w: %q", ErrCommandNotAbsolute, target.Command)
	}
	return nil
}
