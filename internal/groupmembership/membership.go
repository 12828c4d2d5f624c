// Package groupmembership answers questions about the invoking user's group
// memberships. The launcher's authorization decision compares a trusted
// binary's owning group against the caller's real and supplementary groups,
// so the queries here deliberately use the process credentials (getgid,
// getgroups) rather than the user database: what matters is what the kernel
// will enforce, not what /etc/group says.
package groupmembership

import (
	"fmt"
	"slices"

	"golang.org/x/sys/unix"
)

// Credentials reads group identity from the process. It is an interface so
// tests can present arbitrary group sets without changing process state.
type Credentials interface {
	// RealGID returns the real group id of the process
	RealGID() int
	// SupplementaryGIDs returns the supplementary group ids of the process
	SupplementaryGIDs() ([]int, error)
}

// ProcessCredentials implements Credentials against the current process.
type ProcessCredentials struct{}

// NewProcessCredentials creates a Credentials view of the current process.
func NewProcessCredentials() *ProcessCredentials {
	return &ProcessCredentials{}
}

// RealGID returns the real group id of the process
func (*ProcessCredentials) RealGID() int {
	return unix.Getgid()
}

// SupplementaryGIDs returns the supplementary group ids of the process
func (*ProcessCredentials) SupplementaryGIDs() ([]int, error) {
	gids, err := unix.Getgroups()
	if err != nil {
		return nil, fmt.Errorf("failed to read supplementary groups: %w", err)
	}
	return gids, nil
}

// CallerInGroup reports whether the caller's real group or any supplementary
// group equals gid.
func CallerInGroup(creds Credentials, gid int) (bool, error) {
	if creds.RealGID() == gid {
		return true, nil
	}
	supplementary, err := creds.SupplementaryGIDs()
	if err != nil {
		return false, err
	}
	return slices.Contains(supplementary, gid), nil
}
