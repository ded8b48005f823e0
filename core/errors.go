package core

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError is a user-actionable problem with the inputs of a run. It is
// reported before any work starts.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration and input errors
const (
	ErrCodeMissingAuth     = "MISSING_AUTH"
	ErrCodeMissingPrompt   = "MISSING_PROMPT"
	ErrCodeNoSelection     = "NO_SELECTION"
	ErrCodeUnknownLayer    = "UNKNOWN_LAYER"
	ErrCodeInvalidValue    = "INVALID_VALUE"
	ErrCodeNoDocument      = "NO_DOCUMENT"
	ErrCodeWorkspaceLocked = "WORKSPACE_LOCKED"
)

// ErrMissingAuth returns an error for a blank credential.
func ErrMissingAuth(provider string) *ConfigError {
	var action string
	switch provider {
	case ProviderOpenAI:
		action = "Set OPENAI_API_KEY in your environment or .env file"
	default:
		action = "Set REPLICATE_API_TOKEN or pass --token"
	}
	return &ConfigError{
		Code:    ErrCodeMissingAuth,
		Message: "API token blank",
		Action:  action,
	}
}

// ErrMissingPrompt returns an error for a blank prompt.
func ErrMissingPrompt() *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingPrompt,
		Message: "Prompt blank",
		Action:  "Describe what should appear with --prompt",
	}
}

// ErrNoSelection returns an error when no layer would be processed.
func ErrNoSelection(batchMode bool) *ConfigError {
	action := "Mark a layer active in the workspace or pass --active"
	if batchMode {
		action = "Select one or more layers with --select"
	}
	return &ConfigError{
		Code:    ErrCodeNoSelection,
		Message: "No layer selected",
		Action:  action,
	}
}

// ErrUnknownLayer returns an error for a selection naming a missing layer.
func ErrUnknownLayer(name string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeUnknownLayer,
		Message: fmt.Sprintf("Layer %q does not exist", name),
		Action:  "Run 'fluxfill layers' to list the workspace layers",
	}
}

// ErrAmbiguousLayer returns an error for a layer name shared by several
// layers.
func ErrAmbiguousLayer(name string, ids []string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeUnknownLayer,
		Message: fmt.Sprintf("Layer name %q matches %d layers (%s)", name, len(ids), strings.Join(ids, ", ")),
		Action:  "Select the layer by ID instead",
	}
}

// ErrNoDocument returns an error when no document is open.
func ErrNoDocument() *ConfigError {
	return &ConfigError{
		Code:    ErrCodeNoDocument,
		Message: "No active document",
		Action:  "Pass --workspace pointing at a workspace directory",
	}
}

// IsConfigError checks if an error is a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}

// ErrWorkspaceLocked returns an error when another process holds the
// workspace.
func ErrWorkspaceLocked(dir string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeWorkspaceLocked,
		Message: fmt.Sprintf("Workspace %s is in use by another fluxfill process", dir),
		Action:  "Wait for the other run to finish, or remove a stale lock file",
	}
}
