package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Manifest errors (MANIFEST-001 to MANIFEST-099)
	ErrCodeManifestNotFound  ErrorCode = "MANIFEST-001"
	ErrCodeManifestInvalid   ErrorCode = "MANIFEST-002"
	ErrCodeManifestUnmarshal ErrorCode = "MANIFEST-003"
	ErrCodeManifestEmpty     ErrorCode = "MANIFEST-004"

	// Policy errors (POLICY-001 to POLICY-099)
	ErrCodePolicyNotFound  ErrorCode = "POLICY-001"
	ErrCodePolicyInvalid   ErrorCode = "POLICY-002"
	ErrCodePolicyAmbiguous ErrorCode = "POLICY-003"
	ErrCodePolicyConvert   ErrorCode = "POLICY-004"

	// Cluster errors (CLUSTER-001 to CLUSTER-099)
	ErrCodeClusterConnect      ErrorCode = "CLUSTER-001"
	ErrCodeClusterApplyFailed  ErrorCode = "CLUSTER-002"
	ErrCodeClusterFetchFailed  ErrorCode = "CLUSTER-003"
	ErrCodeClusterTimeout      ErrorCode = "CLUSTER-004"
	ErrCodeClusterNotConnected ErrorCode = "CLUSTER-005"

	// Advisor errors (ADVISOR-001 to ADVISOR-099)
	ErrCodeAdvisorNotFound      ErrorCode = "ADVISOR-001"
	ErrCodeAdvisorConfig        ErrorCode = "ADVISOR-002"
	ErrCodeAdvisorAuth          ErrorCode = "ADVISOR-003"
	ErrCodeAdvisorAPI           ErrorCode = "ADVISOR-004"
	ErrCodeAdvisorTimeout       ErrorCode = "ADVISOR-005"
	ErrCodeAdvisorLowConfidence ErrorCode = "ADVISOR-006"

	// Convergence loop errors (LOOP-001 to LOOP-099)
	ErrCodeLoopBudgetExhausted ErrorCode = "LOOP-001"
	ErrCodeLoopCancelled       ErrorCode = "LOOP-002"
	ErrCodeLoopInvalidBudget   ErrorCode = "LOOP-003"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
)

// PilotError represents an enhanced error with code, suggestions, and documentation
type PilotError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *PilotError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *PilotError) Unwrap() error {
	return e.Cause
}

// New creates a new PilotError
func New(code ErrorCode, message string) *PilotError {
	return &PilotError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new PilotError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *PilotError {
	return &PilotError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *PilotError) WithSuggestion(suggestion string) *PilotError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *PilotError) WithSuggestions(suggestions ...string) *PilotError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *PilotError) WithDocs(url string) *PilotError {
	e.DocsURL = url
	return e
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var pe *PilotError
	return stderrors.As(err, &pe) && pe.Code == code
}
