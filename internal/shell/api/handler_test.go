package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stacklens/internal/core/compare"
	"github.com/artpar/stacklens/internal/core/domain"
	"github.com/artpar/stacklens/internal/core/paths"
	"github.com/artpar/stacklens/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

// stubStore implements store.Store for testing.
type stubStore struct {
	projects    map[string]*domain.Project
	comparisons map[string]*domain.ComparisonReport
	err         error // If set, all operations return this error
}

func newStubStore() *stubStore {
	return &stubStore{
		projects:    make(map[string]*domain.Project),
		comparisons: make(map[string]*domain.ComparisonReport),
	}
}

func (s *stubStore) CreateProject(ctx context.Context, p *domain.Project) error {
	if s.err != nil {
		return s.err
	}
	if _, exists := s.projects[p.ID]; exists {
		return store.NewStoreError("CreateProject", "project", p.ID, "already exists", store.ErrDuplicateID)
	}
	for _, existing := range s.projects {
		if existing.Slug == p.Slug {
			return store.NewStoreError("CreateProject", "project", p.ID, "slug exists", store.ErrDuplicateSlug)
		}
	}
	copied := *p
	s.projects[p.ID] = &copied
	return nil
}

func (s *stubStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.projects[id]
	if !ok {
		return nil, store.NewStoreError("GetProject", "project", id, "not found", store.ErrNotFound)
	}
	copied := *p
	return &copied, nil
}

func (s *stubStore) GetProjectBySlug(ctx context.Context, slug string) (*domain.Project, error) {
	for _, p := range s.projects {
		if p.Slug == slug {
			copied := *p
			return &copied, nil
		}
	}
	return nil, store.NewStoreError("GetProjectBySlug", "project", slug, "not found", store.ErrNotFound)
}

func (s *stubStore) UpdateProject(ctx context.Context, p *domain.Project) error {
	if s.err != nil {
		return s.err
	}
	if _, ok := s.projects[p.ID]; !ok {
		return store.NewStoreError("UpdateProject", "project", p.ID, "not found", store.ErrNotFound)
	}
	copied := *p
	s.projects[p.ID] = &copied
	return nil
}

func (s *stubStore) DeleteProject(ctx context.Context, id string) error {
	if s.err != nil {
		return s.err
	}
	if _, ok := s.projects[id]; !ok {
		return store.NewStoreError("DeleteProject", "project", id, "not found", store.ErrNotFound)
	}
	delete(s.projects, id)
	return nil
}

func (s *stubStore) ListProjects(ctx context.Context, opts store.ListOptions) ([]domain.Project, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *stubStore) CreateComparisonReport(ctx context.Context, r *domain.ComparisonReport) error {
	if s.err != nil {
		return s.err
	}
	s.comparisons[r.ID] = r
	return nil
}

func (s *stubStore) GetComparisonReport(ctx context.Context, id string) (*domain.ComparisonReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	r, ok := s.comparisons[id]
	if !ok {
		return nil, store.NewStoreError("GetComparisonReport", "comparison", id, "not found", store.ErrNotFound)
	}
	return r, nil
}

func (s *stubStore) ListComparisonReports(ctx context.Context, opts store.ListOptions) ([]domain.ComparisonReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := make([]domain.ComparisonReport, 0, len(s.comparisons))
	for _, r := range s.comparisons {
		result = append(result, *r)
	}
	return result, nil
}

func (s *stubStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(s)
}

func (s *stubStore) Close() error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupHandler(t *testing.T, s store.Store) http.Handler {
	t.Helper()
	return SetupAPI(APIConfig{Store: s, Logger: testLogger(), Version: "test"})
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// resultBody is the JSON shape of a resolution result.
type resultBody struct {
	Document      map[string]any   `json:"document"`
	Profiles      []string         `json:"profiles"`
	ProfileCounts map[string]int   `json:"profile_counts"`
	Undefined     []string         `json:"undefined_variables"`
	Diagnostics   []map[string]any `json:"diagnostics"`
}

func (b resultBody) serviceNames() []string {
	services, _ := b.Document["services"].(map[string]any)
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func saveProject(t *testing.T, s *stubStore, name, content string, profiles ...string) *domain.Project {
	t.Helper()
	p, err := domain.NewProject(name, "", content)
	require.NoError(t, err)
	p.Profiles = profiles
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

const webStack = `services:
  web:
    image: nginx:${TAG:-latest}
    ports: ["8080:80"]
  debug:
    image: busybox
    profiles: [debug]
`

const apiStack = `services:
  api:
    image: node
    ports: ["8080:3000"]
    volumes: [data:/var/lib/data]
volumes:
  data: {}
`

// =============================================================================
// Health Tests
// =============================================================================

func TestHealth(t *testing.T) {
	rec := doRequest(t, setupHandler(t, newStubStore()), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	body := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "test", body.Version)
}

func TestOpenAPI(t *testing.T) {
	rec := doRequest(t, setupHandler(t, newStubStore()), http.MethodGet, "/openapi.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decode[map[string]any](t, rec)
	pathsDoc, _ := doc["paths"].(map[string]any)
	assert.Contains(t, pathsDoc, "/api/v1/resolve")
	assert.Contains(t, pathsDoc, "/api/v1/projects/{id}/resolved")
	assert.Contains(t, pathsDoc, "/api/v1/comparisons/{id}")
}

// =============================================================================
// Resolve Tests
// =============================================================================

func TestResolve_Inline(t *testing.T) {
	h := setupHandler(t, newStubStore())

	rec := doRequest(t, h, http.MethodPost, "/api/v1/resolve", ResolveRequest{
		Content: "include: [db.yml]\n" + webStack,
		Files:   []paths.File{{Name: "db.yml", Content: "services:\n  db:\n    image: postgres:${PG}\n"}},
		EnvText: "PG=16\n",
		Env:     map[string]string{"TAG": "1.25"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[resultBody](t, rec)
	assert.Equal(t, []string{"db", "web"}, body.serviceNames())
	assert.Equal(t, []string{"debug"}, body.Profiles)
	assert.Equal(t, map[string]int{"debug": 1}, body.ProfileCounts)

	services := body.Document["services"].(map[string]any)
	assert.Equal(t, "nginx:1.25", services["web"].(map[string]any)["image"])
	assert.Equal(t, "postgres:16", services["db"].(map[string]any)["image"])
}

func TestResolve_ActiveProfile(t *testing.T) {
	h := setupHandler(t, newStubStore())

	rec := doRequest(t, h, http.MethodPost, "/api/v1/resolve", ResolveRequest{
		Content:  webStack,
		Profiles: []string{"debug"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"debug", "web"}, decode[resultBody](t, rec).serviceNames())
}

func TestResolve_DisabledStages(t *testing.T) {
	h := setupHandler(t, newStubStore())
	off := false

	rec := doRequest(t, h, http.MethodPost, "/api/v1/resolve", ResolveRequest{
		Content: webStack,
		Options: &StageOptions{Variables: &off, Profiles: &off},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[resultBody](t, rec)
	assert.Equal(t, []string{"debug", "web"}, body.serviceNames())
	services := body.Document["services"].(map[string]any)
	assert.Equal(t, "nginx:${TAG:-latest}", services["web"].(map[string]any)["image"])
}

func TestResolve_FatalIs422(t *testing.T) {
	h := setupHandler(t, newStubStore())

	rec := doRequest(t, h, http.MethodPost, "/api/v1/resolve", ResolveRequest{Content: "services: [unclosed"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decode[resultBody](t, rec)
	require.NotEmpty(t, body.Diagnostics)
	assert.Equal(t, "fatal", body.Diagnostics[0]["kind"])
}

func TestResolve_MissingIncludeIsDiagnostic(t *testing.T) {
	h := setupHandler(t, newStubStore())

	rec := doRequest(t, h, http.MethodPost, "/api/v1/resolve", ResolveRequest{
		Content: "include: [missing.yml]\nservices:\n  web:\n    image: nginx\n",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[resultBody](t, rec)
	require.Len(t, body.Diagnostics, 1)
	assert.Equal(t, "include", body.Diagnostics[0]["kind"])
}

func TestResolve_Validation(t *testing.T) {
	h := setupHandler(t, newStubStore())

	tests := []struct {
		name string
		body any
	}{
		{"empty content", ResolveRequest{}},
		{"empty profile", ResolveRequest{Content: "services: {}", Profiles: []string{""}}},
		{"absolute root", ResolveRequest{Content: "services: {}", RootPath: "/etc/compose.yml"}},
		{"invalid json", "not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/v1/resolve", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_error", decode[ErrorResponse](t, rec).Code)
		})
	}
}

// =============================================================================
// Compare Tests
// =============================================================================

func TestCompare_Inline(t *testing.T) {
	h := setupHandler(t, newStubStore())

	rec := doRequest(t, h, http.MethodPost, "/api/v1/compare", CompareRequest{Projects: []CompareProject{
		{Name: "shop", Content: webStack},
		{Name: "billing", Content: apiStack},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[CompareResponse](t, rec)
	require.Len(t, body.Findings, 1)
	assert.Equal(t, compare.CategoryPort, body.Findings[0].Category)
	assert.Equal(t, []string{"project-1", "project-2"}, body.Findings[0].Projects)
	assert.Equal(t, 1, body.Summary.Error)
}

func TestCompare_TooFewProjects(t *testing.T) {
	h := setupHandler(t, newStubStore())

	rec := doRequest(t, h, http.MethodPost, "/api/v1/compare", CompareRequest{Projects: []CompareProject{
		{Name: "shop", Content: webStack},
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "got 1")
}

func TestCompare_FatalProject(t *testing.T) {
	h := setupHandler(t, newStubStore())

	rec := doRequest(t, h, http.MethodPost, "/api/v1/compare", CompareRequest{Projects: []CompareProject{
		{ID: "good", Content: webStack},
		{ID: "bad", Content: "- just\n- a list\n"},
	}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decode[ResolveFailure](t, rec)
	assert.Equal(t, "resolve_failed", body.Code)
	assert.Equal(t, "bad", body.Project)
}

// =============================================================================
// Project Tests
// =============================================================================

func TestCreateProject(t *testing.T) {
	s := newStubStore()
	h := setupHandler(t, s)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects", CreateProjectRequest{
		Name:     "Shop Stack",
		Content:  webStack,
		EnvText:  "TAG=1\n",
		Profiles: []string{"debug"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode[ProjectResponse](t, rec)
	assert.Equal(t, "shop-stack", body.Slug)
	assert.Equal(t, domain.DefaultRootPath, body.RootPath)
	assert.Equal(t, []string{"debug"}, body.Profiles)
	assert.NotNil(t, body.Files)
	assert.Contains(t, s.projects, body.ID)
}

func TestCreateProject_Validation(t *testing.T) {
	h := setupHandler(t, newStubStore())

	tests := []struct {
		name string
		req  CreateProjectRequest
	}{
		{"missing name", CreateProjectRequest{Content: webStack}},
		{"missing content", CreateProjectRequest{Name: "Shop"}},
		{"short name", CreateProjectRequest{Name: "ab", Content: webStack}},
		{"bad root", CreateProjectRequest{Name: "Shop", Content: webStack, RootPath: "../x.yml"}},
		{"file shadows root", CreateProjectRequest{
			Name: "Shop", Content: webStack,
			Files: []paths.File{{Name: "compose.yaml", RelativePath: "compose.yaml", Content: "x"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/v1/projects", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateProject_DuplicateName(t *testing.T) {
	s := newStubStore()
	saveProject(t, s, "Shop Stack", webStack)
	h := setupHandler(t, s)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "shop stack", Content: webStack})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "project_exists", decode[ErrorResponse](t, rec).Code)
}

func TestGetProject(t *testing.T) {
	s := newStubStore()
	p := saveProject(t, s, "Shop Stack", webStack)
	h := setupHandler(t, s)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects/"+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, p.ID, decode[ProjectResponse](t, rec).ID)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/projects/proj_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "project_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestListProjects(t *testing.T) {
	s := newStubStore()
	saveProject(t, s, "Alpha Stack", webStack)
	saveProject(t, s, "Beta Stack", apiStack)
	h := setupHandler(t, s)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects?limit=5000&offset=-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[ListProjectsResponse](t, rec)
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 1000, body.Limit)
	assert.Equal(t, 0, body.Offset)
	assert.Equal(t, "Alpha Stack", body.Projects[0].Name)
}

func TestListProjects_StoreError(t *testing.T) {
	s := newStubStore()
	s.err = errors.New("disk on fire")
	h := setupHandler(t, s)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decode[ErrorResponse](t, rec).Code)
}

func TestUpdateProject(t *testing.T) {
	s := newStubStore()
	p := saveProject(t, s, "Shop Stack", webStack)
	h := setupHandler(t, s)
	empty := ""

	rec := doRequest(t, h, http.MethodPut, "/api/v1/projects/"+p.ID, UpdateProjectRequest{
		Name:     "Shop Stack Two",
		EnvText:  &empty,
		Profiles: []string{"debug"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[ProjectResponse](t, rec)
	assert.Equal(t, "shop-stack-two", body.Slug)
	assert.Equal(t, []string{"debug"}, body.Profiles)
	assert.Equal(t, "Shop Stack Two", s.projects[p.ID].Name)
}

func TestUpdateProject_Errors(t *testing.T) {
	s := newStubStore()
	p := saveProject(t, s, "Shop Stack", webStack)
	h := setupHandler(t, s)

	rec := doRequest(t, h, http.MethodPut, "/api/v1/projects/proj_missing", UpdateProjectRequest{Name: "Other"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodPut, "/api/v1/projects/"+p.ID, UpdateProjectRequest{Profiles: []string{" "}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Shop Stack", s.projects[p.ID].Name)
}

func TestDeleteProject(t *testing.T) {
	s := newStubStore()
	p := saveProject(t, s, "Shop Stack", webStack)
	h := setupHandler(t, s)

	rec := doRequest(t, h, http.MethodDelete, "/api/v1/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, s.projects, p.ID)

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolvedProject(t *testing.T) {
	s := newStubStore()
	p := saveProject(t, s, "Shop Stack", webStack, "debug")
	h := setupHandler(t, s)

	// Saved profiles apply by default.
	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects/"+p.ID+"/resolved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"debug", "web"}, decode[resultBody](t, rec).serviceNames())

	// Query profiles override them.
	rec = doRequest(t, h, http.MethodGet, "/api/v1/projects/"+p.ID+"/resolved?profile=other", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"web"}, decode[resultBody](t, rec).serviceNames())

	rec = doRequest(t, h, http.MethodGet, "/api/v1/projects/proj_missing/resolved", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Comparison Tests
// =============================================================================

func TestCreateComparison(t *testing.T) {
	s := newStubStore()
	a := saveProject(t, s, "Shop Stack", webStack)
	b := saveProject(t, s, "Billing Stack", apiStack)
	h := setupHandler(t, s)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/comparisons", CreateComparisonRequest{
		ProjectIDs: []string{a.ID, b.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	report := decode[domain.ComparisonReport](t, rec)
	assert.Equal(t, []string{a.ID, b.ID}, report.ProjectIDs)
	assert.Equal(t, 1, report.Summary.Error)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "Shop Stack", report.Findings[0].Evidence[0].ProjectName)
	assert.Contains(t, s.comparisons, report.ID)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/comparisons/"+report.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, report.ID, decode[domain.ComparisonReport](t, rec).ID)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/comparisons", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ListComparisonsResponse](t, rec).Total)
}

func TestCreateComparison_Errors(t *testing.T) {
	s := newStubStore()
	a := saveProject(t, s, "Shop Stack", webStack)
	h := setupHandler(t, s)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/comparisons", CreateComparisonRequest{ProjectIDs: []string{a.ID}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/comparisons", CreateComparisonRequest{ProjectIDs: []string{a.ID, a.ID}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/comparisons", CreateComparisonRequest{ProjectIDs: []string{a.ID, "proj_missing"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/comparisons/cmp_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Auth Tests
// =============================================================================

func TestAPIToken(t *testing.T) {
	h := SetupAPI(APIConfig{Store: newStubStore(), Logger: testLogger(), APIToken: "s3cret"})

	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open.
	rec = doRequest(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
