package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsInteractive_ForceOverrides(t *testing.T) {
	forced := NewInteractiveDetector(DetectorOptions{ForceInteractive: true})
	assert.True(t, forced.IsInteractive(), "ForceInteractive must win over everything")

	quiet := NewInteractiveDetector(DetectorOptions{ForceNonInteractive: true})
	assert.False(t, quiet.IsInteractive(), "ForceNonInteractive must win over everything")
}

func TestIsCIEnvironment(t *testing.T) {
	tests := []struct {
		name   string
		envVar string
		value  string
		want   bool
	}{
		{"github actions", "GITHUB_ACTIONS", "true", true},
		{"generic ci truthy", "CI", "1", true},
		{"generic ci false", "CI", "false", false},
		{"generic ci zero", "CI", "0", false},
		{"jenkins", "JENKINS_URL", "http://jenkins", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range ciEnvVars {
				t.Setenv(v, "")
			}
			t.Setenv(tt.envVar, tt.value)

			d := NewInteractiveDetector(DetectorOptions{})
			assert.Equal(t, tt.want, d.IsCIEnvironment())
		})
	}
}

func TestIsInteractive_CIDefeatsTerminal(t *testing.T) {
	t.Setenv("CI", "true")
	d := NewInteractiveDetector(DetectorOptions{})
	assert.False(t, d.IsInteractive())
}
