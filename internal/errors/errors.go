package errors

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// BuildError represents a single per-file failure inside a pipeline run.
type BuildError struct {
	Category  string
	File      string
	Line      int
	Column    int
	Message   string
	Severity  ErrorSeverity
	Timestamp time.Time
}

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
	ErrorSeverityFatal
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	case ErrorSeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error implements the error interface
func (be *BuildError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", be.File, be.Line, be.Column, be.Severity, be.Message)
}

// FromPipelineError converts a located pipeline error into a BuildError.
func FromPipelineError(pe *PipelineError, severity ErrorSeverity) BuildError {
	msg := pe.Message
	if pe.Cause != nil {
		msg += ": " + pe.Cause.Error()
	}
	return BuildError{
		Category: pe.Category,
		File:     pe.FilePath,
		Line:     pe.Line,
		Column:   pe.Column,
		Message:  msg,
		Severity: severity,
	}
}

// ErrorCollector collects per-file errors for one pipeline run. Safe for
// concurrent use.
type ErrorCollector struct {
	buildErrors []BuildError
	mutex       sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		buildErrors: make([]BuildError, 0),
	}
}

// Add adds a build error to the collector
func (ec *ErrorCollector) Add(err BuildError) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	if err.Timestamp.IsZero() {
		err.Timestamp = time.Now()
	}
	ec.buildErrors = append(ec.buildErrors, err)
}

// GetErrors returns all collected build errors
func (ec *ErrorCollector) GetErrors() []BuildError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]BuildError, len(ec.buildErrors))
	copy(result, ec.buildErrors)
	return result
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.buildErrors) > 0
}

// Count returns the number of collected errors.
func (ec *ErrorCollector) Count() int {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.buildErrors)
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.buildErrors = ec.buildErrors[:0]
}

// GetErrorsByFile returns errors for a specific file
func (ec *ErrorCollector) GetErrorsByFile(file string) []BuildError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var fileErrors []BuildError
	for _, err := range ec.buildErrors {
		if err.File == file {
			fileErrors = append(fileErrors, err)
		}
	}
	return fileErrors
}

// Files returns the sorted set of files that produced errors.
func (ec *ErrorCollector) Files() []string {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	seen := make(map[string]bool)
	var files []string
	for _, err := range ec.buildErrors {
		if !seen[err.File] {
			seen[err.File] = true
			files = append(files, err.File)
		}
	}
	sort.Strings(files)
	return files
}
