package api

import (
	"time"

	"github.com/artpar/stacklens/internal/core/compare"
	"github.com/artpar/stacklens/internal/core/domain"
	"github.com/artpar/stacklens/internal/core/paths"
	"github.com/artpar/stacklens/internal/core/resolve"
)

// =============================================================================
// Request Types
// =============================================================================

// StageOptions toggles pipeline stages. Nil fields keep the stage enabled.
type StageOptions struct {
	Includes  *bool `json:"includes,omitempty"`
	Extends   *bool `json:"extends,omitempty"`
	Variables *bool `json:"variables,omitempty"`
	Profiles  *bool `json:"profiles,omitempty"`
	Metadata  bool  `json:"metadata,omitempty"`
}

// ResolveRequest is the request body for resolving an unsaved stack.
type ResolveRequest struct {
	Content  string            `json:"content"`
	RootPath string            `json:"root_path,omitempty"`
	Files    []paths.File      `json:"files,omitempty"`
	EnvText  string            `json:"env_text,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Profiles []string          `json:"profiles,omitempty"`
	Options  *StageOptions     `json:"options,omitempty"`
}

// CompareRequest is the request body for comparing unsaved stacks.
type CompareRequest struct {
	Projects []CompareProject `json:"projects"`
}

// CompareProject is one stack of a CompareRequest.
type CompareProject struct {
	ID       string       `json:"id,omitempty"`
	Name     string       `json:"name"`
	Content  string       `json:"content"`
	RootPath string       `json:"root_path,omitempty"`
	Files    []paths.File `json:"files,omitempty"`
	EnvText  string       `json:"env_text,omitempty"`
	Profiles []string     `json:"profiles,omitempty"`
}

// CreateProjectRequest is the request body for saving a project.
type CreateProjectRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	RootPath    string       `json:"root_path,omitempty"`
	Content     string       `json:"content"`
	Files       []paths.File `json:"files,omitempty"`
	EnvText     string       `json:"env_text,omitempty"`
	Profiles    []string     `json:"profiles,omitempty"`
}

// UpdateProjectRequest is the request body for updating a project. Empty
// fields are left unchanged.
type UpdateProjectRequest struct {
	Name        string       `json:"name,omitempty"`
	Description string       `json:"description,omitempty"`
	RootPath    string       `json:"root_path,omitempty"`
	Content     string       `json:"content,omitempty"`
	Files       []paths.File `json:"files,omitempty"`
	EnvText     *string      `json:"env_text,omitempty"`
	Profiles    []string     `json:"profiles,omitempty"`
}

// CreateComparisonRequest is the request body for comparing saved projects.
type CreateComparisonRequest struct {
	Name       string   `json:"name,omitempty"`
	ProjectIDs []string `json:"project_ids"`
}

// =============================================================================
// Response Types
// =============================================================================

// CompareResponse is the response for an inline comparison.
type CompareResponse struct {
	Findings []compare.Finding `json:"findings"`
	Summary  compare.Summary   `json:"summary"`
}

// ResolveFailure reports a stack that could not be parsed during a
// comparison.
type ResolveFailure struct {
	Error       string               `json:"error"`
	Code        string               `json:"code"`
	Project     string               `json:"project"`
	Diagnostics []resolve.Diagnostic `json:"diagnostics"`
}

// ProjectResponse is the response for project operations.
type ProjectResponse struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Slug        string       `json:"slug"`
	Description string       `json:"description"`
	RootPath    string       `json:"root_path"`
	Content     string       `json:"content"`
	Files       []paths.File `json:"files"`
	EnvText     string       `json:"env_text"`
	Profiles    []string     `json:"profiles"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ListProjectsResponse is the response for listing projects.
type ListProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// ListComparisonsResponse is the response for listing comparison reports.
type ListComparisonsResponse struct {
	Comparisons []domain.ComparisonReport `json:"comparisons"`
	Total       int                       `json:"total"`
	Limit       int                       `json:"limit"`
	Offset      int                       `json:"offset"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
