// Package resolve runs the resolution pipeline: parse, include, extends,
// metadata extraction, variable interpolation and profile filtering.
//
// Only an unparseable root document is fatal. Every other stage failure is
// recorded as a diagnostic and the pipeline continues with the document as
// it was before the failed stage.
package resolve

import (
	"errors"
	"fmt"

	"github.com/artpar/stacklens/internal/core/compose"
	"github.com/artpar/stacklens/internal/core/extends"
	"github.com/artpar/stacklens/internal/core/include"
	"github.com/artpar/stacklens/internal/core/profiles"
	"github.com/artpar/stacklens/internal/core/variables"
)

// Resolve resolves text into a ParseResult. It never returns nil.
func Resolve(text string, opts Options) *ParseResult {
	result := newResult()

	doc, err := compose.ParseDocument(text)
	if err != nil {
		result.err = err
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Kind:    KindFatal,
			Message: err.Error(),
			Stage:   StageParse,
		})
		return result
	}

	if opts.EnableIncludes {
		doc = runIncludes(doc, opts, result)
	}

	if opts.EnableExtends {
		doc = runExtends(doc, result)
	}

	// Metadata describes the full document, before interpolation and filtering.
	result.Profiles = profiles.List(doc)
	result.ProfileCounts = profiles.CountByProfile(doc)
	result.ReferencedVariables = variables.ExtractReferencedVariables(doc)
	if undefined := variables.FindUndefinedVariables(doc, opts.Env); undefined != nil {
		result.UndefinedVariables = undefined
	}

	if opts.EnableVariables {
		doc = runVariables(doc, opts, result)
	}

	if opts.EnableProfiles {
		doc = profiles.Filter(doc, opts.ActiveProfiles)
	}

	result.Document = doc
	return result
}

// ResolveDocument resolves text and returns only the document. It fails when
// the root cannot be parsed; recoverable diagnostics are dropped.
func ResolveDocument(text string, opts Options) (*compose.Document, error) {
	result := Resolve(text, opts)
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to resolve document: %w", err)
	}
	return result.Document, nil
}

// =============================================================================
// Stages
// =============================================================================

func runIncludes(doc *compose.Document, opts Options, result *ParseResult) *compose.Document {
	merged, err := include.Resolve(doc, opts.RootPath, opts.Files)
	if err != nil {
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Kind:    KindInclude,
			Message: err.Error(),
			Stage:   StageInclude,
			Extra:   chainExtra(err),
		})
		return doc
	}
	return merged
}

func runExtends(doc *compose.Document, result *ParseResult) *compose.Document {
	resolved, err := extends.Resolve(doc)

	for _, w := range resolved.Warnings {
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Kind:    KindWarning,
			Message: w,
			Stage:   StageExtends,
		})
	}

	if err != nil {
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Kind:    KindExtends,
			Message: err.Error(),
			Stage:   StageExtends,
			Extra:   chainExtra(err),
		})
		return doc
	}
	return resolved.Document
}

func runVariables(doc *compose.Document, opts Options, result *ParseResult) *compose.Document {
	for _, name := range result.UndefinedVariables {
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Kind:    KindWarning,
			Message: fmt.Sprintf("variable %s is not set; substituting an empty string unless a default applies", name),
			Stage:   StageVariables,
			Extra:   map[string]any{"variable": name},
		})
	}

	seen := make(map[string]bool)
	onFailure := func(f variables.Failure) {
		key := f.Variable + "\x00" + f.Message
		if seen[key] {
			return
		}
		seen[key] = true
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Kind:    KindVariable,
			Message: fmt.Sprintf("variable %s: %s", f.Variable, f.Message),
			Stage:   StageVariables,
			Extra:   map[string]any{"variable": f.Variable, "path": f.Path},
		})
	}

	out, err := variables.InterpolateDocument(doc, opts.Env, opts.AddMetadata, variables.Options{OnFailure: onFailure})
	if err != nil {
		return doc
	}
	return out
}

// chainExtra exposes the cycle chain of a resolve error, if any.
func chainExtra(err error) map[string]any {
	var resolveErr *compose.ResolveError
	if !errors.As(err, &resolveErr) || len(resolveErr.Chain) == 0 {
		return nil
	}
	return map[string]any{"chain": resolveErr.Chain}
}
