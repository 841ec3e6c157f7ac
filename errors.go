package payflow

import "fmt"

// FlowError represents a workflow-specific error
type FlowError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeNotFound        = "not_found"
	ErrCodeInvalidState    = "invalid_state"
	ErrCodeUpstreamFailure = "upstream_failure"
	ErrCodeParseError      = "parse_error"
)

// NewFlowError creates a new flow error
func NewFlowError(code, message string, details map[string]interface{}) *FlowError {
	return &FlowError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// notFoundError builds the standard error for an unknown session or entry id.
func notFoundError(kind, id string) *FlowError {
	return &FlowError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %s not found", kind, id),
	}
}
