// Package validation provides pure validation functions for API handlers and
// CLI flags.
//
// All functions are pure (no I/O, no side effects). Field checks return the
// offending field name and a message, or two empty strings when the input is
// acceptable.
//
// # Functions
//
//   - ValidateCreateProjectFields: Validate required fields for project creation
//   - ValidateResolveFields: Validate an inline resolve request
//   - ValidateCompareFields: Validate the project list of a comparison
//   - ValidateChoice: Validate an enumerated option such as an output format
//
// # Usage
//
//	if field, msg := validation.ValidateCreateProjectFields(name, content); field != "" {
//	    // Return 400 Bad Request with msg
//	}
package validation
