// Package variables implements ${...} substitution over document trees and
// .env-style text parsing.
package variables

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/artpar/stacklens/internal/core/compose"
)

// =============================================================================
// Substitution Grammar
// =============================================================================

var referencePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// escapePlaceholder stands in for "$$" while references are expanded.
const escapePlaceholder = "\x00stacklens-dollar\x00"

// Failure is a required-variable violation from ${X:?msg} or ${X?msg}.
type Failure struct {
	Variable   string `json:"variable"`
	Message    string `json:"message"`
	Expression string `json:"expression"`
	Path       string `json:"path,omitempty"`
}

func (f *Failure) Error() string {
	if f.Path != "" {
		return fmt.Sprintf("%s: variable %s: %s", f.Path, f.Variable, f.Message)
	}
	return fmt.Sprintf("variable %s: %s", f.Variable, f.Message)
}

func (f *Failure) Unwrap() error {
	return compose.ErrRequiredVariable
}

// Substitute expands every ${...} reference in s against env.
//
// A reference that fails a requirement is left untouched in the result and
// reported as a Failure; the remaining references are still expanded.
// "$$" is an escape for a literal "$" and is never expanded.
func Substitute(s string, env Environment) (string, []Failure) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	var failures []Failure
	escaped := strings.ReplaceAll(s, "$$", escapePlaceholder)

	expanded := referencePattern.ReplaceAllStringFunc(escaped, func(match string) string {
		value, failure := evaluate(match[2:len(match)-1], env)
		if failure != nil {
			failure.Expression = restoreEscapes(match)
			failures = append(failures, *failure)
			return match
		}
		return value
	})

	return restoreEscapes(expanded), failures
}

func restoreEscapes(s string) string {
	return strings.ReplaceAll(s, escapePlaceholder, "$")
}

// evaluate resolves one reference body. Operators are tried in the order
// ":?", "?" (only without "-"), ":-", "-".
func evaluate(expr string, env Environment) (string, *Failure) {
	if idx := strings.Index(expr, ":?"); idx != -1 {
		name, msg := expr[:idx], expr[idx+2:]
		if v, ok := env.Lookup(name); ok && v != "" {
			return v, nil
		}
		return "", requiredFailure(name, msg, "is required and must not be empty")
	}

	if strings.Contains(expr, "?") && !strings.Contains(expr, "-") {
		idx := strings.Index(expr, "?")
		name, msg := expr[:idx], expr[idx+1:]
		if v, ok := env.Lookup(name); ok {
			return v, nil
		}
		return "", requiredFailure(name, msg, "is required")
	}

	if idx := strings.Index(expr, ":-"); idx != -1 {
		name, def := expr[:idx], expr[idx+2:]
		if v, ok := env.Lookup(name); ok && v != "" {
			return v, nil
		}
		return def, nil
	}

	if idx := strings.Index(expr, "-"); idx != -1 {
		name, def := expr[:idx], expr[idx+1:]
		if v, ok := env.Lookup(name); ok {
			return v, nil
		}
		return def, nil
	}

	v, _ := env.Lookup(expr)
	return v, nil
}

func requiredFailure(name, msg, fallback string) *Failure {
	if msg == "" {
		msg = fmt.Sprintf("%s %s", name, fallback)
	}
	return &Failure{Variable: name, Message: msg}
}

// =============================================================================
// Tree Interpolation
// =============================================================================

// Resolved replaces a string leaf that contained at least one reference when
// metadata is requested.
type Resolved struct {
	Value     string   `json:"value" yaml:"value"`
	Original  string   `json:"original" yaml:"original"`
	Variables []string `json:"variables" yaml:"variables"`
}

// Options controls how Interpolate reports failures.
type Options struct {
	// Strict makes the first failure abort interpolation with an error.
	Strict bool
	// OnFailure receives each failure when Strict is false.
	OnFailure func(Failure)
}

// Interpolate returns a copy of value with every string leaf substituted.
// Mapping keys are never substituted. The input is not modified.
func Interpolate(value any, env Environment, includeMetadata bool, opts Options) (any, error) {
	return interpolateValue(value, "", env, includeMetadata, opts)
}

// InterpolateDocument is Interpolate for a whole document.
func InterpolateDocument(doc *compose.Document, env Environment, includeMetadata bool, opts Options) (*compose.Document, error) {
	if doc == nil {
		return nil, nil
	}
	out, err := Interpolate(doc, env, includeMetadata, opts)
	if err != nil {
		return nil, err
	}
	return out.(*compose.Document), nil
}

func interpolateValue(value any, path string, env Environment, includeMetadata bool, opts Options) (any, error) {
	switch t := value.(type) {
	case *compose.Mapping:
		out := compose.NewMapping()
		var err error
		t.Each(func(key string, v any) {
			if err != nil {
				return
			}
			var resolved any
			resolved, err = interpolateValue(v, joinPath(path, key), env, includeMetadata, opts)
			out.Set(key, resolved)
		})
		if err != nil {
			return nil, err
		}
		return out, nil

	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			resolved, err := interpolateValue(item, fmt.Sprintf("%s[%d]", path, i), env, includeMetadata, opts)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	case string:
		return interpolateString(t, path, env, includeMetadata, opts)

	default:
		return value, nil
	}
}

func interpolateString(s, path string, env Environment, includeMetadata bool, opts Options) (any, error) {
	result, failures := Substitute(s, env)
	for _, f := range failures {
		f.Path = path
		if opts.Strict {
			return nil, &f
		}
		if opts.OnFailure != nil {
			opts.OnFailure(f)
		}
	}

	if includeMetadata {
		if refs := referencedIn(s); len(refs) > 0 {
			return Resolved{Value: result, Original: s, Variables: refs}, nil
		}
	}
	return result, nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// =============================================================================
// Reference Scans
// =============================================================================

// ExtractReferencedVariables returns the sorted base names of every variable
// referenced anywhere in value. Escaped "$${...}" text is not a reference.
func ExtractReferencedVariables(value any) []string {
	seen := make(map[string]bool)
	collectReferences(value, seen)

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FindUndefinedVariables returns the sorted referenced variables absent from env.
func FindUndefinedVariables(value any, env Environment) []string {
	var out []string
	for _, name := range ExtractReferencedVariables(value) {
		if _, ok := env.Lookup(name); !ok {
			out = append(out, name)
		}
	}
	return out
}

func collectReferences(value any, seen map[string]bool) {
	switch t := value.(type) {
	case *compose.Mapping:
		t.Each(func(_ string, v any) {
			collectReferences(v, seen)
		})
	case []any:
		for _, item := range t {
			collectReferences(item, seen)
		}
	case string:
		for _, name := range referencedIn(t) {
			seen[name] = true
		}
	case Resolved:
		for _, name := range t.Variables {
			seen[name] = true
		}
	}
}

// referencedIn lists the variable base names in s in order of appearance,
// without duplicates.
func referencedIn(s string) []string {
	if !strings.Contains(s, "${") {
		return nil
	}

	escaped := strings.ReplaceAll(s, "$$", escapePlaceholder)
	var names []string
	seen := make(map[string]bool)
	for _, m := range referencePattern.FindAllStringSubmatch(escaped, -1) {
		name := baseName(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

func baseName(expr string) string {
	if idx := strings.IndexAny(expr, ":?-"); idx != -1 {
		return expr[:idx]
	}
	return expr
}
