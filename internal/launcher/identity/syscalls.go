package identity

import "golang.org/x/sys/unix"

// Syscalls is the slice of the credential API the state machine needs. The
// production implementation talks to the kernel; tests substitute a fake
// triple so transitions can be exercised without a setuid binary.
type Syscalls interface {
	Geteuid() int
	Getegid() int
	Getresuid() (ruid, euid, suid int)
	Getresgid() (rgid, egid, sgid int)
	Setresuid(ruid, euid, suid int) error
	Setresgid(rgid, egid, sgid int) error
}

// ProcessSyscalls implements Syscalls against the current process. Since
// Go 1.16 the setresuid/setresgid wrappers apply to all threads, which is
// what a privilege transition requires.
type ProcessSyscalls struct{}

// NewProcessSyscalls returns the production Syscalls implementation.
func NewProcessSyscalls() *ProcessSyscalls {
	return &ProcessSyscalls{}
}

// Geteuid returns the effective user id.
func (*ProcessSyscalls) Geteuid() int { return unix.Geteuid() }

// Getegid returns the effective group id.
func (*ProcessSyscalls) Getegid() int { return unix.Getegid() }

// Getresuid returns the real, effective and saved user ids.
func (*ProcessSyscalls) Getresuid() (int, int, int) { return unix.Getresuid() }

// Getresgid returns the real, effective and saved group ids.
func (*ProcessSyscalls) Getresgid() (int, int, int) { return unix.Getresgid() }

// Setresuid sets the real, effective and saved user ids; -1 leaves a field
// unchanged.
func (*ProcessSyscalls) Setresuid(ruid, euid, suid int) error {
	return unix.Setresuid(ruid, euid, suid)
}

// Setresgid sets the real, effective and saved group ids; -1 leaves a field
// unchanged.
func (*ProcessSyscalls) Setresgid(rgid, egid, sgid int) error {
	return unix.Setresgid(rgid, egid, sgid)
}
