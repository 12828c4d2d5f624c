// Package grouppolicy decides whether the invoking user may run the
// launcher at all. Local administrators restrict access by chgrp'ing the
// trusted reference binary on the host filesystem; the check compares that
// binary's owning group against the caller's real and supplementary groups.
// It runs before any privileged work and is the only core operation whose
// failure is reported to the caller instead of terminating the process.
package grouppolicy

import (
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/isseis/go-safe-confine-runner/internal/groupmembership"
	"github.com/isseis/go-safe-confine-runner/internal/launcher/apperr"
)

// Domain is the structured-error domain for authorization failures.
const Domain = "grouppolicy"

// CodeNoGroupPrivilege means the caller is not a member of the trusted
// group.
const CodeNoGroupPrivilege = 1

// NoGroupPrivilegeMessage is the fixed denial text reported to the user.
const NoGroupPrivilegeMessage = "user is not a member of the group owning the launcher"

// ReferencePaths are the canonical locations of the trusted reference
// binary, probed in order, relative to the root-directory descriptor passed
// to Authorize. They are relative so tests (and launchers already inside a
// namespace) can direct the probe at an arbitrary root.
var ReferencePaths = []string{
	"usr/lib/go-safe-confine-runner/confine",
	"usr/libexec/go-safe-confine-runner/confine",
}

// StatFunc stats a path relative to a directory descriptor without
// following a trailing symlink policy of its own; the production
// implementation is unix.Fstatat.
type StatFunc func(dirfd int, path string, st *unix.Stat_t) error

// Checker performs the authorization check.
type Checker struct {
	creds  groupmembership.Credentials
	paths  []string
	stat   StatFunc
	logger *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithStat overrides how the reference binary is stat'd. Tests use this to
// fabricate ownership states (such as a root-group binary) that an
// unprivileged process cannot create on disk.
func WithStat(stat StatFunc) Option {
	return func(c *Checker) { c.stat = stat }
}

// NewChecker creates a Checker over the current process's credentials.
func NewChecker(logger *slog.Logger) *Checker {
	return NewCheckerWithOptions(groupmembership.NewProcessCredentials(), ReferencePaths, logger)
}

// NewCheckerWithOptions creates a Checker with injected credentials and
// probe paths. Tests use this to mock both the caller and the reference
// binary.
func NewCheckerWithOptions(creds groupmembership.Credentials, paths []string, logger *slog.Logger, opts ...Option) *Checker {
	c := &Checker{
		creds: creds,
		paths: paths,
		stat: func(dirfd int, path string, st *unix.Stat_t) error {
			return unix.Fstatat(dirfd, path, st, 0)
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorize reports whether the caller may proceed. rootFD must be an open
// descriptor on the filesystem root the reference binary lives under,
// normally the real root, explicitly so the check escapes any namespace the
// launcher may already be confined to.
//
// The decision: a root caller is always authorized; a reference binary
// group-owned by root means no restrictive policy is configured; otherwise
// membership of the binary's owning group is required. Denial is returned
// as a structured, non-fatal error so the orchestration can report it.
func (c *Checker) Authorize(rootFD int) (bool, error) {
	if c.creds.RealGID() == 0 {
		return true, nil
	}

	st, err := c.statReferenceBinary(rootFD)
	if err != nil {
		return false, err
	}

	if st.Gid == 0 {
		return true, nil
	}

	member, err := groupmembership.CallerInGroup(c.creds, int(st.Gid))
	if err != nil {
		return false, apperr.FromSystem(err, "cannot read the caller's group list")
	}
	if member {
		return true, nil
	}

	c.logger.Info("group policy denied launch",
		"required_gid", st.Gid,
		"caller_gid", c.creds.RealGID())
	return false, apperr.New(Domain, CodeNoGroupPrivilege, NoGroupPrivilegeMessage)
}

// statReferenceBinary probes the canonical locations in order. A missing
// first location is not an error; any stat failure other than ENOENT is.
func (c *Checker) statReferenceBinary(rootFD int) (*unix.Stat_t, error) {
	var st unix.Stat_t
	for _, path := range c.paths {
		err := c.stat(rootFD, path, &st)
		if err == nil {
			return &st, nil
		}
		if err != unix.ENOENT {
			return nil, apperr.FromSystem(err, "cannot stat reference binary %s", path)
		}
	}
	return nil, apperr.FromSystem(unix.ENOENT, "cannot locate the launcher reference binary")
}
