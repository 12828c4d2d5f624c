// Package cmdcommon provides common constants and defaults shared by the
// command-line binaries.
package cmdcommon

// Build-time variables (set via ldflags)
var (
	// DefaultLockDirectory is where lock files live in production.
	DefaultLockDirectory = "/run/go-safe-confine-runner/lock"

	// DefaultConfigPath is probed when no --config flag is given. A
	// missing file is not an error; built-in defaults apply.
	DefaultConfigPath = "/etc/go-safe-confine-runner/config.toml"
)
