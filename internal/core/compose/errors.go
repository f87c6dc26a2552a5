package compose

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("compose document is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Document structure errors
	ErrNotMapping = errors.New("document root must be a mapping")

	// Include resolution errors
	ErrIncludeNotFound = errors.New("included file not found")
	ErrCircularInclude = errors.New("circular include detected")

	// Extends resolution errors
	ErrExtendsBaseNotFound = errors.New("extended service not found")
	ErrCircularExtends     = errors.New("circular extends detected")
	ErrInvalidExtends      = errors.New("extends must name a service")

	// Variable interpolation errors
	ErrRequiredVariable = errors.New("required variable is missing")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "services.web" or an included file path
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// ResolveError reports a failed include or extends traversal. Chain holds the
// visited path (file paths or service names) when the failure is a cycle.
type ResolveError struct {
	Stage   string // "include" or "extends"
	Chain   []string
	Message string
	Err     error
}

func (e *ResolveError) Error() string {
	if len(e.Chain) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Chain, " -> "))
	}
	return e.Message
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// NewCycleError creates a ResolveError for a cycle through chain.
func NewCycleError(stage string, chain []string, err error) *ResolveError {
	return &ResolveError{
		Stage:   stage,
		Chain:   append([]string(nil), chain...),
		Message: err.Error(),
		Err:     err,
	}
}
