package logging

import (
	"fmt"
	"log/slog"
	"os"
)

// ErrorType classifies failures that happen before the confined program is
// reached. They are reported on stderr in a fixed format because the logger
// may not exist yet when they occur.
type ErrorType string

const (
	// ErrorTypeConfigParsing represents configuration parsing failures
	ErrorTypeConfigParsing ErrorType = "config_parsing_failed"
	// ErrorTypeLogFileOpen represents log file opening failures
	ErrorTypeLogFileOpen ErrorType = "log_file_open_failed"
	// ErrorTypePrivilegeTransition represents privilege raise/drop failures
	ErrorTypePrivilegeTransition ErrorType = "privilege_transition_failed"
	// ErrorTypeLockAcquisition represents lock acquisition failures, including watchdog expiry
	ErrorTypeLockAcquisition ErrorType = "lock_acquisition_failed"
	// ErrorTypeGroupPolicy represents denial by the group ownership policy
	ErrorTypeGroupPolicy ErrorType = "group_policy_denied"
	// ErrorTypeRequiredArgumentMissing represents missing required argument errors
	ErrorTypeRequiredArgumentMissing ErrorType = "required_argument_missing"
	// ErrorTypeSystemError represents other system errors
	ErrorTypeSystemError ErrorType = "system_error"
)

// PreExecutionError represents an error that occurs before the confined
// program is exec'd.
type PreExecutionError struct {
	Type      ErrorType
	Message   string
	Component string
	RunID     string
	Err       error // Wrapped error for better error context preservation
}

// Error implements the error interface
func (e *PreExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v (component: %s, run_id: %s)", e.Type, e.Message, e.Err, e.Component, e.RunID)
	}
	return fmt.Sprintf("%s: %s (component: %s, run_id: %s)", e.Type, e.Message, e.Component, e.RunID)
}

// Unwrap implements error wrapping for errors.Unwrap
func (e *PreExecutionError) Unwrap() error {
	return e.Err
}

// HandlePreExecutionError reports a pre-execution failure on stderr and, when
// a logger has been installed, through slog as well.
func HandlePreExecutionError(errorType ErrorType, errorMsg, component, runID string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", errorType)
	if component != "" {
		fmt.Fprintf(os.Stderr, "  Component: %s\n", component)
	}
	fmt.Fprintf(os.Stderr, "  Details: %s\n", errorMsg)
	if runID != "" {
		fmt.Fprintf(os.Stderr, "  Run ID: %s\n", runID)
	}

	slog.Error("Pre-execution error occurred",
		"error_type", string(errorType),
		"error_message", errorMsg,
		"component", component,
		"run_id", runID,
	)
}
