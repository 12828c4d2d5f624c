// Package terminal provides helpers for detecting whether the launcher is
// talking to an interactive terminal or running from a non-interactive
// context (CI, service manager, another program). The console log handler
// uses this to decide between human-oriented and machine-oriented output.
package terminal

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ciEnvVars contains common CI environment variables
var ciEnvVars = []string{
	"CI",                     // Generic CI indicator
	"CONTINUOUS_INTEGRATION", // Generic CI indicator
	"GITHUB_ACTIONS",         // GitHub Actions
	"TRAVIS",                 // Travis CI
	"CIRCLECI",               // Circle CI
	"JENKINS_URL",            // Jenkins
	"BUILD_NUMBER",           // Jenkins/TeamCity/etc
	"GITLAB_CI",              // GitLab CI
	"BUILDKITE",              // Buildkite
	"DRONE",                  // Drone CI
}

// DetectorOptions contains options for controlling interactive detection
type DetectorOptions struct {
	ForceInteractive    bool // Force interactive mode regardless of environment
	ForceNonInteractive bool // Force non-interactive mode regardless of environment
}

// InteractiveDetector interface defines methods for detecting interactive terminal capabilities
type InteractiveDetector interface {
	IsInteractive() bool
	IsTerminal() bool
	IsCIEnvironment() bool
}

// DefaultInteractiveDetector implements InteractiveDetector
type DefaultInteractiveDetector struct {
	options DetectorOptions
}

// NewInteractiveDetector creates a new interactive detector with the given options
func NewInteractiveDetector(options DetectorOptions) InteractiveDetector {
	return &DefaultInteractiveDetector{options: options}
}

// IsInteractive returns true if the current environment is interactive.
// Command line overrides win over CI detection, which wins over the
// terminal check.
func (d *DefaultInteractiveDetector) IsInteractive() bool {
	if d.options.ForceInteractive {
		return true
	}
	if d.options.ForceNonInteractive {
		return false
	}
	if d.IsCIEnvironment() {
		return false
	}
	return d.IsTerminal()
}

// IsTerminal checks if stderr is connected to a terminal. The launcher's
// human-facing messages go to stderr; stdout belongs to the confined
// program after exec.
func (d *DefaultInteractiveDetector) IsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// IsCIEnvironment checks if the current environment is a CI/CD system
func (d *DefaultInteractiveDetector) IsCIEnvironment() bool {
	for _, envVar := range ciEnvVars {
		if value := os.Getenv(envVar); value != "" {
			// CI=false or CI=0 should not be considered a CI environment
			if envVar == "CI" {
				return isCITruthy(value)
			}
			return true
		}
	}
	return false
}

func isCITruthy(value string) bool {
	lower := strings.ToLower(strings.TrimSpace(value))
	return lower != "false" && lower != "0" && lower != "no"
}
