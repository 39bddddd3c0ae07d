package errors

import (
	"fmt"
	"strings"
)

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// ConfigurationError generates suggestions for configuration issues
func ConfigurationError(configError string, configPath string) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{
		{
			Title:       "Check configuration file",
			Description: "Verify your config file exists and has valid syntax",
			Command:     "cat " + configPath,
		},
	}

	if strings.Contains(configError, "proxyUrl") || strings.Contains(configError, CodeMissingProxyURL) {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Set the proxy URL",
			Description: "The watch command fronts an existing local server and needs its address",
			Example:     `{ "proxyUrl": "http://localhost:8000" }`,
		})
		suggestions = append(suggestions, ErrorSuggestion{
			Title:   "Or pass it through the environment",
			Command: "ASSETPIPE_PROXYURL=http://localhost:8000 assetpipe watch",
		})
	}

	if strings.Contains(configError, "json") || strings.Contains(configError, "yaml") ||
		strings.Contains(configError, "unmarshal") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Fix config syntax",
			Description: "There's a syntax error in your configuration file",
		})
	}

	if strings.Contains(configError, "glob") || strings.Contains(configError, "pattern") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Check glob patterns",
			Description: "Patterns use doublestar syntax; brackets and braces must be balanced",
			Command:     "assetpipe catalog",
		})
	}

	return suggestions
}

// ServerStartError generates suggestions for a live-reload server that failed
// to bind.
func ServerStartError(err error, port int) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{}

	errStr := err.Error()

	if strings.Contains(errStr, "address already in use") || strings.Contains(errStr, "bind") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Port already in use",
			Description: fmt.Sprintf("Port %d is already being used by another process", port),
			Command:     fmt.Sprintf("lsof -i :%d", port),
		})

		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Use a different port",
			Description: "Start the proxy on a different port",
			Command:     fmt.Sprintf("assetpipe watch --port %d", port+1),
		})
	}

	if strings.Contains(errStr, "permission denied") && port < 1024 {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Use unprivileged port",
			Description: "Ports below 1024 require root privileges",
			Command:     "assetpipe watch --port 3000",
		})
	}

	return suggestions
}

// FormatSuggestions formats suggestions into a user-friendly string
func FormatSuggestions(title string, suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return title
	}

	var output strings.Builder
	output.WriteString(title + "\n\n")
	output.WriteString("Suggestions:\n")

	for i, suggestion := range suggestions {
		output.WriteString(fmt.Sprintf("  %d. %s\n", i+1, suggestion.Title))
		if suggestion.Description != "" {
			output.WriteString(fmt.Sprintf("     %s\n", suggestion.Description))
		}
		if suggestion.Command != "" {
			output.WriteString(fmt.Sprintf("     Run: %s\n", suggestion.Command))
		}
		if suggestion.Example != "" {
			output.WriteString(fmt.Sprintf("     Example: %s\n", suggestion.Example))
		}
		output.WriteString("\n")
	}

	return output.String()
}

// EnhancedError wraps an error with suggestions
type EnhancedError struct {
	OriginalError error
	Title         string
	Suggestions   []ErrorSuggestion
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	return FormatSuggestions(e.Title, e.Suggestions)
}

// Unwrap returns the original error
func (e *EnhancedError) Unwrap() error {
	return e.OriginalError
}

// NewEnhancedError creates a new enhanced error with suggestions
func NewEnhancedError(title string, originalError error, suggestions []ErrorSuggestion) *EnhancedError {
	return &EnhancedError{
		OriginalError: originalError,
		Title:         title,
		Suggestions:   suggestions,
	}
}
