package resolve

import (
	"github.com/artpar/stacklens/internal/core/compose"
	"github.com/artpar/stacklens/internal/core/paths"
	"github.com/artpar/stacklens/internal/core/variables"
)

// =============================================================================
// Diagnostics
// =============================================================================

// Kind classifies a diagnostic.
type Kind string

const (
	KindInclude  Kind = "include"
	KindExtends  Kind = "extends"
	KindVariable Kind = "variable"
	KindWarning  Kind = "warning"
	KindFatal    Kind = "fatal"
)

// Pipeline stage names reported on diagnostics.
const (
	StageParse     = "parse"
	StageInclude   = "include"
	StageExtends   = "extends"
	StageVariables = "variables"
	StageProfiles  = "profiles"
)

// Diagnostic is a finding recorded while resolving. Only KindFatal means the
// pipeline stopped.
type Diagnostic struct {
	Kind    Kind           `json:"kind" yaml:"kind"`
	Message string         `json:"message" yaml:"message"`
	Stage   string         `json:"stage" yaml:"stage"`
	Extra   map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// =============================================================================
// Options and Results
// =============================================================================

// Options configures one resolution.
type Options struct {
	// RootPath is the FileMap key of the document being resolved. Include
	// paths are relative to it.
	RootPath string
	Env      variables.Environment
	Files    paths.FileMap

	ActiveProfiles []string

	EnableIncludes  bool
	EnableExtends   bool
	EnableVariables bool
	EnableProfiles  bool

	// AddMetadata replaces interpolated string leaves with variables.Resolved records.
	AddMetadata bool
}

// DefaultOptions enables every stage.
func DefaultOptions() Options {
	return Options{
		EnableIncludes:  true,
		EnableExtends:   true,
		EnableVariables: true,
		EnableProfiles:  true,
	}
}

// ParseResult is the outcome of a resolution. Document is nil only when the
// root text could not be parsed.
type ParseResult struct {
	Document            *compose.Document `json:"document"`
	Profiles            []string          `json:"profiles"`
	ProfileCounts       map[string]int    `json:"profile_counts"`
	ReferencedVariables []string          `json:"referenced_variables"`
	UndefinedVariables  []string          `json:"undefined_variables"`
	Diagnostics         []Diagnostic      `json:"diagnostics"`

	err error
}

// Fatal reports whether resolution aborted.
func (r *ParseResult) Fatal() bool {
	return r.err != nil
}

// Err returns the fatal parse error, if any.
func (r *ParseResult) Err() error {
	return r.err
}

// CountKind returns the number of diagnostics of the given kind.
func (r *ParseResult) CountKind(kind Kind) int {
	n := 0
	for _, d := range r.Diagnostics {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

func newResult() *ParseResult {
	return &ParseResult{
		Profiles:            []string{},
		ProfileCounts:       map[string]int{},
		ReferencedVariables: []string{},
		UndefinedVariables:  []string{},
		Diagnostics:         []Diagnostic{},
	}
}
