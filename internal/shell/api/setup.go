package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/stacklens/internal/core/domain"
	"github.com/artpar/stacklens/internal/core/resolve"
	"github.com/artpar/stacklens/internal/shell/api/middleware"
	"github.com/artpar/stacklens/internal/shell/api/openapi"
	"github.com/artpar/stacklens/internal/shell/store"
	"github.com/artpar/stacklens/internal/shell/workspace"
)

// =============================================================================
// API Setup
// =============================================================================

// APIConfig holds configuration for the API setup.
type APIConfig struct {
	Store  store.Store
	Loader *workspace.Loader
	Logger *slog.Logger

	// APIToken guards /api/v1 when set.
	APIToken string

	// MaxConcurrency bounds concurrent resolutions per comparison.
	MaxConcurrency int

	Version string
}

// endpoint binds a documented route to its handler.
type endpoint struct {
	route  openapi.Route
	handle http.HandlerFunc
}

// SetupAPI creates the complete API router. Returns an http.Handler that can
// be used as the server's main handler.
func SetupAPI(cfg APIConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	h := NewHandler(cfg.Store, cfg.Loader, cfg.Logger, cfg.MaxConcurrency, cfg.Version)

	gen := openapi.NewGenerator(openapi.WithVersion(versionOr(cfg.Version, "1.0.0")))
	endpoints := h.endpoints()
	for _, e := range endpoints {
		gen.Register(e.route)
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestIDHeader)
	r.Use(requestLogger(cfg.Logger))
	r.Use(recoveryMiddleware(cfg.Logger))

	r.Get("/openapi.json", gen.Handler())

	authMW := middleware.NewAuthMiddleware(middleware.AuthConfig{
		Token:  cfg.APIToken,
		Logger: cfg.Logger,
	})

	r.Group(func(r chi.Router) {
		r.Use(jsonContentType)
		r.Get("/health", h.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(authMW.Handler)
			for _, e := range endpoints {
				r.Method(e.route.Method, e.route.Path, e.handle)
			}
		})
	})

	return r
}

// endpoints lists every /api/v1 route with its OpenAPI description.
func (h *Handler) endpoints() []endpoint {
	return []endpoint{
		{openapi.Route{
			Method: http.MethodPost, Path: "/api/v1/resolve", OperationID: "resolve", Tag: "Resolution",
			Summary: "Resolve an unsaved stack", Request: ResolveRequest{}, Response: resolve.ParseResult{},
			Errors: []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
		}, h.handleResolve},
		{openapi.Route{
			Method: http.MethodPost, Path: "/api/v1/compare", OperationID: "compare", Tag: "Resolution",
			Summary: "Compare unsaved stacks", Request: CompareRequest{}, Response: CompareResponse{},
			Errors: []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
		}, h.handleCompare},

		{openapi.Route{
			Method: http.MethodPost, Path: "/api/v1/projects", OperationID: "createProject", Tag: "Projects",
			Summary: "Save a project", Request: CreateProjectRequest{}, Response: ProjectResponse{},
			Status: http.StatusCreated, Errors: []int{http.StatusBadRequest, http.StatusConflict},
		}, h.handleCreateProject},
		{openapi.Route{
			Method: http.MethodGet, Path: "/api/v1/projects", OperationID: "listProjects", Tag: "Projects",
			Summary: "List projects", Response: ListProjectsResponse{}, Query: []string{"limit", "offset"},
		}, h.handleListProjects},
		{openapi.Route{
			Method: http.MethodGet, Path: "/api/v1/projects/{id}", OperationID: "getProject", Tag: "Projects",
			Summary: "Get a project", Response: ProjectResponse{}, Errors: []int{http.StatusNotFound},
		}, h.handleGetProject},
		{openapi.Route{
			Method: http.MethodPut, Path: "/api/v1/projects/{id}", OperationID: "updateProject", Tag: "Projects",
			Summary: "Update a project", Request: UpdateProjectRequest{}, Response: ProjectResponse{},
			Errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
		}, h.handleUpdateProject},
		{openapi.Route{
			Method: http.MethodDelete, Path: "/api/v1/projects/{id}", OperationID: "deleteProject", Tag: "Projects",
			Summary: "Delete a project", Status: http.StatusNoContent, Errors: []int{http.StatusNotFound},
		}, h.handleDeleteProject},
		{openapi.Route{
			Method: http.MethodGet, Path: "/api/v1/projects/{id}/resolved", OperationID: "resolveProject", Tag: "Projects",
			Summary: "Resolve a saved project", Response: resolve.ParseResult{}, Query: []string{"profile"},
			Errors: []int{http.StatusNotFound, http.StatusUnprocessableEntity},
		}, h.handleResolvedProject},

		{openapi.Route{
			Method: http.MethodPost, Path: "/api/v1/comparisons", OperationID: "createComparison", Tag: "Comparisons",
			Summary: "Compare saved projects", Request: CreateComparisonRequest{}, Response: domain.ComparisonReport{},
			Status: http.StatusCreated, Errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
		}, h.handleCreateComparison},
		{openapi.Route{
			Method: http.MethodGet, Path: "/api/v1/comparisons", OperationID: "listComparisons", Tag: "Comparisons",
			Summary: "List comparison reports", Response: ListComparisonsResponse{}, Query: []string{"limit", "offset"},
		}, h.handleListComparisons},
		{openapi.Route{
			Method: http.MethodGet, Path: "/api/v1/comparisons/{id}", OperationID: "getComparison", Tag: "Comparisons",
			Summary: "Get a comparison report", Response: domain.ComparisonReport{}, Errors: []int{http.StatusNotFound},
		}, h.handleGetComparison},
	}
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := chimw.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()))
		})
	}
}

// recoveryMiddleware recovers from panics and returns a 500 error.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(ErrorResponse{
						Error: "an unexpected error occurred",
						Code:  "internal_error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func versionOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
