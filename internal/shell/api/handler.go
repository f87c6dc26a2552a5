// Package api provides HTTP handlers for the stacklens API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/stacklens/internal/core/compare"
	"github.com/artpar/stacklens/internal/core/domain"
	"github.com/artpar/stacklens/internal/core/paths"
	"github.com/artpar/stacklens/internal/core/resolve"
	"github.com/artpar/stacklens/internal/core/validation"
	"github.com/artpar/stacklens/internal/core/variables"
	"github.com/artpar/stacklens/internal/shell/store"
	"github.com/artpar/stacklens/internal/shell/workspace"
)

var errInvalidProject = errors.New("invalid project")

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	store       store.Store
	loader      *workspace.Loader
	logger      *slog.Logger
	concurrency int
	version     string
}

// NewHandler creates a new API handler. concurrency bounds how many stacks a
// comparison resolves at once.
func NewHandler(s store.Store, loader *workspace.Loader, l *slog.Logger, concurrency int, version string) *Handler {
	if l == nil {
		l = slog.Default()
	}
	if loader == nil {
		loader = workspace.New(workspace.Options{}, l)
	}
	if concurrency <= 0 {
		concurrency = workspace.DefaultConcurrency
	}
	return &Handler{
		store:       s,
		loader:      loader,
		logger:      l,
		concurrency: concurrency,
		version:     version,
	}
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: h.version})
}

// =============================================================================
// Stateless Handlers
// =============================================================================

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	if field, msg := validation.ValidateResolveFields(req.Content, req.Profiles); field != "" {
		h.writeError(w, http.StatusBadRequest, msg, "validation_error")
		return
	}

	p, err := h.loadInline("inline", req.RootPath, req.Content, req.Files, req.EnvText)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}
	p.Env = variables.MergeEnvironments(p.Env, req.Env)

	result := resolve.Resolve(p.Content, applyStages(p.ResolveOptions(req.Profiles), req.Options))
	addCollisions(result, p.Collisions)

	h.writeResult(w, result)
}

func (h *Handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	if field, msg := validation.ValidateCompareFields("projects", len(req.Projects)); field != "" {
		h.writeError(w, http.StatusBadRequest, msg, "validation_error")
		return
	}

	inputs := make([]workspace.Input, 0, len(req.Projects))
	for i, cp := range req.Projects {
		if field, msg := validation.ValidateResolveFields(cp.Content, cp.Profiles); field != "" {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("project %d: %s", i, msg), "validation_error")
			return
		}

		id := cp.ID
		if id == "" {
			id = fmt.Sprintf("project-%d", i+1)
		}
		name := cp.Name
		if name == "" {
			name = id
		}

		p, err := h.loadInline(name, cp.RootPath, cp.Content, cp.Files, cp.EnvText)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("project %d: %s", i, err), "validation_error")
			return
		}
		inputs = append(inputs, workspace.Input{
			ID:      id,
			Name:    name,
			Text:    p.Content,
			Options: p.ResolveOptions(cp.Profiles),
		})
	}

	findings, ok := h.compareInputs(r.Context(), w, inputs)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, CompareResponse{
		Findings: findings,
		Summary:  compare.Summarize(findings),
	})
}

// =============================================================================
// Project Handlers
// =============================================================================

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	if field, msg := validation.ValidateCreateProjectFields(req.Name, req.Content); field != "" {
		h.writeError(w, http.StatusBadRequest, msg, "validation_error")
		return
	}

	project, err := domain.NewProject(req.Name, req.RootPath, req.Content)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}
	project.Description = req.Description
	project.Files = req.Files
	project.EnvText = req.EnvText
	project.Profiles = req.Profiles

	if errs := domain.ValidateProject(*project); len(errs) > 0 {
		h.writeError(w, http.StatusBadRequest, errors.Join(errs...).Error(), "validation_error")
		return
	}

	if err := h.store.CreateProject(r.Context(), project); err != nil {
		if errors.Is(err, store.ErrDuplicateSlug) || errors.Is(err, store.ErrDuplicateID) {
			h.writeError(w, http.StatusConflict, "a project with this name already exists", "project_exists")
			return
		}
		h.logger.Error("failed to create project", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create project", "internal_error")
		return
	}

	h.logger.Info("project created", "project_id", project.ID, "slug", project.Slug)
	h.writeJSON(w, http.StatusCreated, projectToResponse(project))
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := h.lookupProject(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, projectToResponse(project))
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)

	projects, err := h.store.ListProjects(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list projects", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list projects", "internal_error")
		return
	}

	resp := ListProjectsResponse{
		Projects: make([]ProjectResponse, 0, len(projects)),
		Total:    len(projects),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}
	for _, p := range projects {
		resp.Projects = append(resp.Projects, projectToResponse(&p))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	var updated *domain.Project
	err := h.store.WithTx(r.Context(), func(tx store.Store) error {
		project, err := tx.GetProject(r.Context(), id)
		if err != nil {
			return err
		}

		// Apply updates
		if req.Name != "" {
			project.Name = req.Name
			project.Slug = domain.Slugify(req.Name)
		}
		if req.Description != "" {
			project.Description = req.Description
		}
		if req.RootPath != "" {
			project.RootPath = paths.Normalize(req.RootPath)
		}
		if req.Content != "" {
			project.Content = req.Content
		}
		if req.Files != nil {
			project.Files = req.Files
		}
		if req.EnvText != nil {
			project.EnvText = *req.EnvText
		}
		if req.Profiles != nil {
			project.Profiles = req.Profiles
		}

		if errs := domain.ValidateProject(*project); len(errs) > 0 {
			return fmt.Errorf("%w: %w", errInvalidProject, errors.Join(errs...))
		}

		project.Touch()
		if err := tx.UpdateProject(r.Context(), project); err != nil {
			return err
		}
		updated = project
		return nil
	})
	if err != nil {
		switch {
		case isNotFound(err):
			h.writeError(w, http.StatusNotFound, "project not found", "project_not_found")
		case errors.Is(err, errInvalidProject):
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		case errors.Is(err, store.ErrDuplicateSlug):
			h.writeError(w, http.StatusConflict, "a project with this name already exists", "project_exists")
		default:
			h.logger.Error("failed to update project", "project_id", id, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to update project", "internal_error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, projectToResponse(updated))
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteProject(r.Context(), id); err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "project not found", "project_not_found")
			return
		}
		h.logger.Error("failed to delete project", "project_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete project", "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleResolvedProject resolves a saved project. Repeated ?profile= values
// override the project's saved profiles.
func (h *Handler) handleResolvedProject(w http.ResponseWriter, r *http.Request) {
	project, ok := h.lookupProject(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	active := r.URL.Query()["profile"]
	if err := domain.ValidateProfiles(active); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}
	if len(active) == 0 {
		active = project.Profiles
	}

	p, err := h.loader.FromDomain(project)
	if err != nil {
		h.logger.Error("failed to load project", "project_id", project.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load project", "internal_error")
		return
	}

	result := resolve.Resolve(p.Content, p.ResolveOptions(active))
	addCollisions(result, p.Collisions)

	h.writeResult(w, result)
}

// =============================================================================
// Comparison Handlers
// =============================================================================

func (h *Handler) handleCreateComparison(w http.ResponseWriter, r *http.Request) {
	var req CreateComparisonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	if field, msg := validation.ValidateCompareFields("project_ids", len(req.ProjectIDs)); field != "" {
		h.writeError(w, http.StatusBadRequest, msg, "validation_error")
		return
	}
	if err := domain.ValidateComparisonProjects(req.ProjectIDs); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	inputs := make([]workspace.Input, 0, len(req.ProjectIDs))
	for _, id := range req.ProjectIDs {
		project, ok := h.lookupProject(w, r, id)
		if !ok {
			return
		}
		p, err := h.loader.FromDomain(project)
		if err != nil {
			h.logger.Error("failed to load project", "project_id", id, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to load project", "internal_error")
			return
		}
		inputs = append(inputs, workspace.Input{
			ID:      project.ID,
			Name:    project.Name,
			Text:    p.Content,
			Options: p.ResolveOptions(project.Profiles),
		})
	}

	findings, ok := h.compareInputs(r.Context(), w, inputs)
	if !ok {
		return
	}

	report, err := domain.NewComparisonReport(req.Name, req.ProjectIDs, findings)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	if err := h.store.CreateComparisonReport(r.Context(), report); err != nil {
		h.logger.Error("failed to save comparison", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to save comparison", "internal_error")
		return
	}

	h.logger.Info("comparison created",
		"comparison_id", report.ID,
		"projects", len(report.ProjectIDs),
		"findings", report.Summary.Total)
	h.writeJSON(w, http.StatusCreated, report)
}

func (h *Handler) handleGetComparison(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := h.store.GetComparisonReport(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "comparison not found", "comparison_not_found")
			return
		}
		h.logger.Error("failed to get comparison", "comparison_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get comparison", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleListComparisons(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)

	reports, err := h.store.ListComparisonReports(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list comparisons", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list comparisons", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, ListComparisonsResponse{
		Comparisons: reports,
		Total:       len(reports),
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	})
}

// =============================================================================
// Helpers
// =============================================================================

// loadInline builds a loadable project from request fields without saving it.
func (h *Handler) loadInline(name, rootPath, content string, files []paths.File, envText string) (*workspace.Project, error) {
	if rootPath == "" {
		rootPath = domain.DefaultRootPath
	}
	if err := domain.ValidateRootPath(rootPath); err != nil {
		return nil, err
	}
	if errs := domain.ValidateFiles(rootPath, files); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return h.loader.FromDomain(&domain.Project{
		Name:     name,
		RootPath: rootPath,
		Content:  content,
		Files:    files,
		EnvText:  envText,
	})
}

// compareInputs resolves inputs concurrently and compares the results. It
// writes the error response itself and reports false when one was written.
func (h *Handler) compareInputs(ctx context.Context, w http.ResponseWriter, inputs []workspace.Input) ([]compare.Finding, bool) {
	outputs, err := workspace.ResolveAll(ctx, inputs, h.concurrency, h.logger)
	if err != nil {
		h.logger.Error("failed to resolve projects", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to resolve projects", "internal_error")
		return nil, false
	}

	projects := make([]compare.Project, 0, len(outputs))
	for _, out := range outputs {
		if out.Result.Fatal() {
			h.writeJSON(w, http.StatusUnprocessableEntity, ResolveFailure{
				Error:       fmt.Sprintf("project %q could not be resolved: %v", out.Name, out.Result.Err()),
				Code:        "resolve_failed",
				Project:     out.ID,
				Diagnostics: out.Result.Diagnostics,
			})
			return nil, false
		}
		projects = append(projects, compare.Project{
			ID:       out.ID,
			Name:     out.Name,
			Document: out.Result.Document,
		})
	}

	return compare.Compare(projects), true
}

func (h *Handler) lookupProject(w http.ResponseWriter, r *http.Request, id string) (*domain.Project, bool) {
	project, err := h.store.GetProject(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, fmt.Sprintf("project %s not found", id), "project_not_found")
			return nil, false
		}
		h.logger.Error("failed to get project", "project_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get project", "internal_error")
		return nil, false
	}
	return project, true
}

// applyStages turns off the stages a request disabled.
func applyStages(opts resolve.Options, stages *StageOptions) resolve.Options {
	if stages == nil {
		return opts
	}
	if stages.Includes != nil {
		opts.EnableIncludes = *stages.Includes
	}
	if stages.Extends != nil {
		opts.EnableExtends = *stages.Extends
	}
	if stages.Variables != nil {
		opts.EnableVariables = *stages.Variables
	}
	if stages.Profiles != nil {
		opts.EnableProfiles = *stages.Profiles
	}
	opts.AddMetadata = stages.Metadata
	return opts
}

// addCollisions reports file-name collisions found while building the file
// map as warnings.
func addCollisions(result *resolve.ParseResult, collisions []string) {
	for _, c := range collisions {
		result.Diagnostics = append(result.Diagnostics, resolve.Diagnostic{
			Kind:    resolve.KindWarning,
			Message: c,
			Stage:   resolve.StageInclude,
		})
	}
}

func listOptions(r *http.Request) store.ListOptions {
	opts := store.DefaultListOptions()

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}

	return opts.Normalize()
}

// writeResult writes a resolution result: 200, or 422 when it is fatal.
func (h *Handler) writeResult(w http.ResponseWriter, result *resolve.ParseResult) {
	status := http.StatusOK
	if result.Fatal() {
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, result)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func projectToResponse(p *domain.Project) ProjectResponse {
	files := p.Files
	if files == nil {
		files = []paths.File{}
	}
	profiles := p.Profiles
	if profiles == nil {
		profiles = []string{}
	}
	return ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		RootPath:    p.RootPath,
		Content:     p.Content,
		Files:       files,
		EnvText:     p.EnvText,
		Profiles:    profiles,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func isNotFound(err error) bool {
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		return errors.Is(storeErr.Unwrap(), store.ErrNotFound)
	}
	return false
}
