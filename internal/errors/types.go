package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeCompile    ErrorType = "compile"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error codes shared across packages.
const (
	CodeCleanFailed     = "CLEAN_FAILED"
	CodeGlobFailed      = "GLOB_FAILED"
	CodeReadFailed      = "READ_FAILED"
	CodeWriteFailed     = "WRITE_FAILED"
	CodeCompileFailed   = "COMPILE_FAILED"
	CodeOptimizeFailed  = "OPTIMIZE_FAILED"
	CodeNoOutput        = "NO_OUTPUT"
	CodeMissingProxyURL = "MISSING_PROXY_URL"
	CodeInvalidProxyURL = "INVALID_PROXY_URL"
	CodeInvalidConfig   = "INVALID_CONFIG"
	CodeUnknownCategory = "UNKNOWN_CATEGORY"
)

// PipelineError is a structured error carrying the category and file it
// happened in.
type PipelineError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Category    string
	FilePath    string
	Line        int
	Column      int
	Recoverable bool
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Category != "" {
		parts = append(parts, "category:"+e.Category)
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code so sentinel comparisons work through wrapping.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithLocation adds file location information.
func (e *PipelineError) WithLocation(filePath string, line, column int) *PipelineError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithCategory adds the asset category the error belongs to.
func (e *PipelineError) WithCategory(category string) *PipelineError {
	e.Category = category

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewCompileError creates a per-file compile error. Compile errors never abort
// a run; the offending file is dropped.
func NewCompileError(message string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeCompile,
		Code:        CodeCompileFailed,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error. It fails the current run of one category.
func NewIOError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error. These are fatal at startup.
func NewConfigError(code, message string) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	return false
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool {
	return hasType(err, ErrorTypeConfig)
}

// IsCompileError checks if an error came from the style compiler.
func IsCompileError(err error) bool {
	return hasType(err, ErrorTypeCompile)
}

func hasType(err error, t ErrorType) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Type == t
	}

	return false
}
