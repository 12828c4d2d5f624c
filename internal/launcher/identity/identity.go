// Package identity implements the launcher's privilege transition state
// machine over the POSIX real/effective/saved credential triple. Every
// transition re-reads the resulting identity and treats any partially
// applied change as a fatal error: continuing with an inconsistent uid/gid
// triple is worse than crashing. There is no retry semantic anywhere in this
// package.
package identity

import (
	"log/slog"

	"github.com/isseis/go-safe-confine-runner/internal/launcher/apperr"
)

// Domain is the structured-error domain for privilege transition failures.
const Domain = "identity"

// CodeInconsistentTriple means a transition left the credential triple in a
// state other than the one requested.
const CodeInconsistentTriple = 1

// Unchanged is the sentinel meaning "leave this id as it is".
const Unchanged = -1

// Snapshot is a point-in-time effective identity, captured before a
// temporary transition and consumed by Restore afterward.
type Snapshot struct {
	UID int
	GID int
}

// Manager performs privilege transitions through an injectable Syscalls
// implementation so the state machine is testable without running setuid.
type Manager struct {
	sys    Syscalls
	logger *slog.Logger
}

// NewManager creates a Manager operating on the real process credentials.
func NewManager(logger *slog.Logger) *Manager {
	return NewManagerWithSyscalls(NewProcessSyscalls(), logger)
}

// NewManagerWithSyscalls creates a Manager over the given syscall
// implementation. Tests inject a fake here.
func NewManagerWithSyscalls(sys Syscalls, logger *slog.Logger) *Manager {
	return &Manager{sys: sys, logger: logger}
}

// Effective returns the current effective identity.
func (m *Manager) Effective() Snapshot {
	return Snapshot{UID: m.sys.Geteuid(), GID: m.sys.Getegid()}
}

// Real returns the invoking user's identity, the real uid/gid. Under a
// setuid-root binary the real ids identify the caller while the effective
// ids carry the elevation.
func (m *Manager) Real() Snapshot {
	ruid, _, _ := m.sys.Getresuid()
	rgid, _, _ := m.sys.Getresgid()
	return Snapshot{UID: ruid, GID: rgid}
}

// DropPermanently sets real = effective = saved to the invoking user's
// identity for both user and group, in group-first order. The group change
// is only performed when effective group is currently root and the target is
// not; supplementary groups are deliberately left untouched (the invoking
// user's own memberships are not a privilege the launcher needs to strip).
// After this returns nil, no raise operation can restore elevated effective
// privilege.
func (m *Manager) DropPermanently(ruid, rgid int) error {
	if rgid != Unchanged {
		_, egid, _ := m.sys.Getresgid()
		if egid == 0 && rgid != 0 {
			if err := m.sys.Setresgid(rgid, rgid, rgid); err != nil {
				return apperr.FromSystem(err, "cannot set group identity to %d", rgid)
			}
		}
		if err := m.verifyGIDTripleDropped(rgid); err != nil {
			return err
		}
	}

	if ruid != Unchanged {
		if err := m.sys.Setresuid(ruid, ruid, ruid); err != nil {
			return apperr.FromSystem(err, "cannot set user identity to %d", ruid)
		}
		if err := m.verifyUIDTripleDropped(ruid); err != nil {
			return err
		}
	}

	m.logger.Info("privileges permanently dropped",
		"uid", ruid, "gid", rgid)
	return nil
}

// RaiseToRoot raises the effective user and group ids to root, leaving real
// and saved ids intact so a later Restore can drop back without the kernel's
// setuid-root path. Returns the effective identity captured before the
// raise.
func (m *Manager) RaiseToRoot() (Snapshot, error) {
	old := m.Effective()

	// The user id is raised first: a root effective uid is what permits
	// the arbitrary group change that follows.
	if old.UID != 0 {
		if err := m.sys.Setresuid(Unchanged, 0, Unchanged); err != nil {
			return Snapshot{}, apperr.FromSystem(err, "cannot raise effective uid to root")
		}
		if euid := m.sys.Geteuid(); euid != 0 {
			return Snapshot{}, apperr.New(Domain, CodeInconsistentTriple,
				"effective uid is %d after raising to root", euid)
		}
	}
	if old.GID != 0 {
		if err := m.sys.Setresgid(Unchanged, 0, Unchanged); err != nil {
			return Snapshot{}, apperr.FromSystem(err, "cannot raise effective gid to root")
		}
		if egid := m.sys.Getegid(); egid != 0 {
			return Snapshot{}, apperr.New(Domain, CodeInconsistentTriple,
				"effective gid is %d after raising to root", egid)
		}
	}

	m.logger.Debug("effective identity raised to root",
		"previous_uid", old.UID, "previous_gid", old.GID)
	return old, nil
}

// DropTemporarily lowers the effective identity to the given uid/gid,
// leaving real and saved ids intact. Either field may be Unchanged. Returns
// the effective identity captured before the drop.
func (m *Manager) DropTemporarily(uid, gid int) (Snapshot, error) {
	old := m.Effective()

	// Group first: once the effective uid leaves root the process may no
	// longer be allowed to change its group.
	if gid != Unchanged && gid != old.GID {
		if err := m.sys.Setresgid(Unchanged, gid, Unchanged); err != nil {
			return Snapshot{}, apperr.FromSystem(err, "cannot drop effective gid to %d", gid)
		}
		if egid := m.sys.Getegid(); egid != gid {
			return Snapshot{}, apperr.New(Domain, CodeInconsistentTriple,
				"effective gid is %d after dropping to %d", egid, gid)
		}
	}
	if uid != Unchanged && uid != old.UID {
		if err := m.sys.Setresuid(Unchanged, uid, Unchanged); err != nil {
			return Snapshot{}, apperr.FromSystem(err, "cannot drop effective uid to %d", uid)
		}
		if euid := m.sys.Geteuid(); euid != uid {
			return Snapshot{}, apperr.New(Domain, CodeInconsistentTriple,
				"effective uid is %d after dropping to %d", euid, uid)
		}
	}

	m.logger.Debug("effective identity temporarily dropped",
		"uid", uid, "gid", gid, "previous_uid", old.UID, "previous_gid", old.GID)
	return old, nil
}

// Restore puts the effective identity back to a previously captured
// snapshot, validating the result. Saved ids are not touched by Restore or
// by the transition it reverses, so raise/restore pairs are reversible.
func (m *Manager) Restore(s Snapshot) error {
	current := m.Effective()

	if s.UID == 0 && current.UID != 0 {
		// Restoring root effective uid first re-grants the right to make
		// the group change below.
		if err := m.setEffectiveUID(s.UID); err != nil {
			return err
		}
		if s.GID != Unchanged && s.GID != current.GID {
			if err := m.setEffectiveGID(s.GID); err != nil {
				return err
			}
		}
		return nil
	}

	if s.GID != Unchanged && s.GID != current.GID {
		if err := m.setEffectiveGID(s.GID); err != nil {
			return err
		}
	}
	if s.UID != Unchanged && s.UID != current.UID {
		if err := m.setEffectiveUID(s.UID); err != nil {
			return err
		}
	}
	return nil
}

// ShedGroup permanently drops an elevated group identity, independently of
// the user-id transitions. It runs right after startup when the binary was
// invoked set-group-ID: group privilege is dropped first and raised last on
// the surrounding orchestration's schedule, so it cannot wait for the final
// permanent drop.
func (m *Manager) ShedGroup(rgid int) error {
	r, e, s := m.sys.Getresgid()
	if r == rgid && e == rgid && s == rgid {
		return nil
	}
	if err := m.sys.Setresgid(rgid, rgid, rgid); err != nil {
		return apperr.FromSystem(err, "cannot shed group identity to %d", rgid)
	}
	return m.verifyGIDTripleDropped(rgid)
}

// RaiseRealUID makes the real uid root for kernel interfaces that check the
// real rather than the effective id. It only acts when the real uid is not
// already root and the effective uid is, avoiding privilege widening when
// none is needed.
func (m *Manager) RaiseRealUID() error {
	r, e, _ := m.sys.Getresuid()
	if r == 0 || e != 0 {
		return nil
	}
	if err := m.sys.Setresuid(0, Unchanged, Unchanged); err != nil {
		return apperr.FromSystem(err, "cannot raise real uid to root")
	}
	if r, _, _ := m.sys.Getresuid(); r != 0 {
		return apperr.New(Domain, CodeInconsistentTriple,
			"real uid is %d after raising to root", r)
	}
	m.logger.Debug("real uid raised to root")
	return nil
}

func (m *Manager) setEffectiveUID(uid int) error {
	if err := m.sys.Setresuid(Unchanged, uid, Unchanged); err != nil {
		return apperr.FromSystem(err, "cannot restore effective uid to %d", uid)
	}
	if euid := m.sys.Geteuid(); euid != uid {
		return apperr.New(Domain, CodeInconsistentTriple,
			"effective uid is %d after restoring to %d", euid, uid)
	}
	return nil
}

func (m *Manager) setEffectiveGID(gid int) error {
	if err := m.sys.Setresgid(Unchanged, gid, Unchanged); err != nil {
		return apperr.FromSystem(err, "cannot restore effective gid to %d", gid)
	}
	if egid := m.sys.Getegid(); egid != gid {
		return apperr.New(Domain, CodeInconsistentTriple,
			"effective gid is %d after restoring to %d", egid, gid)
	}
	return nil
}

// verifyUIDTripleDropped re-reads the uid triple after a permanent drop and
// rejects any state from which elevated privilege is still reachable.
func (m *Manager) verifyUIDTripleDropped(uid int) error {
	r, e, s := m.sys.Getresuid()
	if r != uid || e != uid || s != uid {
		return apperr.New(Domain, CodeInconsistentTriple,
			"uid triple is (%d,%d,%d) after dropping to %d", r, e, s, uid)
	}
	if uid != 0 && (r == 0 || e == 0 || s == 0) {
		return apperr.New(Domain, CodeInconsistentTriple,
			"root uid still reachable after permanent drop")
	}
	return nil
}

// verifyGIDTripleDropped is the group counterpart of
// verifyUIDTripleDropped.
func (m *Manager) verifyGIDTripleDropped(gid int) error {
	r, e, s := m.sys.Getresgid()
	if r != gid || e != gid || s != gid {
		return apperr.New(Domain, CodeInconsistentTriple,
			"gid triple is (%d,%d,%d) after dropping to %d", r, e, s, gid)
	}
	if gid != 0 && (r == 0 || e == 0 || s == 0) {
		return apperr.New(Domain, CodeInconsistentTriple,
			"root gid still reachable after permanent drop")
	}
	return nil
}
