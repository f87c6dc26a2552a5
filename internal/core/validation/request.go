package validation

import (
	"fmt"
	"strings"
)

// =============================================================================
// Request Validation Functions
// =============================================================================

// ValidateCreateProjectFields validates required fields for project creation.
// Returns the field name and error message if validation fails.
func ValidateCreateProjectFields(name, content string) (field, message string) {
	if strings.TrimSpace(name) == "" {
		return "name", "name is required"
	}
	if strings.TrimSpace(content) == "" {
		return "content", "content is required"
	}
	return "", ""
}

// ValidateResolveFields validates an inline resolve request.
func ValidateResolveFields(content string, profiles []string) (field, message string) {
	if strings.TrimSpace(content) == "" {
		return "content", "content is required"
	}
	for _, p := range profiles {
		if strings.TrimSpace(p) == "" {
			return "profiles", "profile names cannot be empty"
		}
	}
	return "", ""
}

// ValidateCompareFields checks that a comparison names at least two projects.
// count is the number of projects supplied.
func ValidateCompareFields(field string, count int) (string, string) {
	if count < 2 {
		return field, fmt.Sprintf("at least two projects are required, got %d", count)
	}
	return "", ""
}

// ValidateChoice checks that value is one of allowed. An empty value is
// accepted and means the caller's default.
//
// Example:
//
//	field, msg := ValidateChoice("output", format, "yaml", "json")
func ValidateChoice(field, value string, allowed ...string) (string, string) {
	if value == "" {
		return "", ""
	}
	for _, a := range allowed {
		if value == a {
			return "", ""
		}
	}
	return field, fmt.Sprintf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}
