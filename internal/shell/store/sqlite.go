package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/stacklens/internal/core/compare"
	"github.com/artpar/stacklens/internal/core/domain"
	"github.com/artpar/stacklens/internal/core/paths"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat has a fixed-width fraction so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	db, err := sqlx.Open("sqlite3", dsn+sep+"_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// Every pooled connection to ":memory:" would be a separate database.
	if strings.HasPrefix(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Project Operations
// =============================================================================

// projectRow represents a project row in the database.
type projectRow struct {
	ID          string  `db:"id"`
	Name        string  `db:"name"`
	Slug        string  `db:"slug"`
	Description string  `db:"description"`
	RootPath    string  `db:"root_path"`
	Content     string  `db:"content"`
	Files       *string `db:"files"`
	EnvText     string  `db:"env_text"`
	Profiles    *string `db:"profiles"`
	CreatedAt   string  `db:"created_at"`
	UpdatedAt   string  `db:"updated_at"`
}

func (s *SQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	return createProject(ctx, s.db, project)
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return getProject(ctx, s.db, id)
}

func (s *SQLiteStore) GetProjectBySlug(ctx context.Context, slug string) (*domain.Project, error) {
	return getProjectBySlug(ctx, s.db, slug)
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, project *domain.Project) error {
	return updateProject(ctx, s.db, project)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	return deleteProject(ctx, s.db, id)
}

func (s *SQLiteStore) ListProjects(ctx context.Context, opts ListOptions) ([]domain.Project, error) {
	return listProjects(ctx, s.db, opts)
}

// =============================================================================
// Comparison Report Operations
// =============================================================================

// comparisonRow represents a comparison_reports row in the database.
type comparisonRow struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	ProjectIDs string `db:"project_ids"`
	Findings   string `db:"findings"`
	Summary    string `db:"summary"`
	CreatedAt  string `db:"created_at"`
}

func (s *SQLiteStore) CreateComparisonReport(ctx context.Context, report *domain.ComparisonReport) error {
	return createComparisonReport(ctx, s.db, report)
}

func (s *SQLiteStore) GetComparisonReport(ctx context.Context, id string) (*domain.ComparisonReport, error) {
	return getComparisonReport(ctx, s.db, id)
}

func (s *SQLiteStore) ListComparisonReports(ctx context.Context, opts ListOptions) ([]domain.ComparisonReport, error) {
	return listComparisonReports(ctx, s.db, opts)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	return createProject(ctx, s.tx, project)
}

func (s *txSQLiteStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return getProject(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetProjectBySlug(ctx context.Context, slug string) (*domain.Project, error) {
	return getProjectBySlug(ctx, s.tx, slug)
}

func (s *txSQLiteStore) UpdateProject(ctx context.Context, project *domain.Project) error {
	return updateProject(ctx, s.tx, project)
}

func (s *txSQLiteStore) DeleteProject(ctx context.Context, id string) error {
	return deleteProject(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListProjects(ctx context.Context, opts ListOptions) ([]domain.Project, error) {
	return listProjects(ctx, s.tx, opts)
}

func (s *txSQLiteStore) CreateComparisonReport(ctx context.Context, report *domain.ComparisonReport) error {
	return createComparisonReport(ctx, s.tx, report)
}

func (s *txSQLiteStore) GetComparisonReport(ctx context.Context, id string) (*domain.ComparisonReport, error) {
	return getComparisonReport(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListComparisonReports(ctx context.Context, opts ListOptions) ([]domain.ComparisonReport, error) {
	return listComparisonReports(ctx, s.tx, opts)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func projectParams(op string, project *domain.Project) (map[string]any, error) {
	filesJSON, err := json.Marshal(project.Files)
	if err != nil {
		return nil, NewStoreError(op, "project", project.ID, "failed to serialize files", ErrInvalidData)
	}
	profilesJSON, err := json.Marshal(project.Profiles)
	if err != nil {
		return nil, NewStoreError(op, "project", project.ID, "failed to serialize profiles", ErrInvalidData)
	}

	return map[string]any{
		"id":          project.ID,
		"name":        project.Name,
		"slug":        project.Slug,
		"description": project.Description,
		"root_path":   project.RootPath,
		"content":     project.Content,
		"files":       string(filesJSON),
		"env_text":    project.EnvText,
		"profiles":    string(profilesJSON),
		"created_at":  project.CreatedAt.UTC().Format(timeFormat),
		"updated_at":  project.UpdatedAt.UTC().Format(timeFormat),
	}, nil
}

func createProject(ctx context.Context, exec executor, project *domain.Project) error {
	row, err := projectParams("CreateProject", project)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO projects (
			id, name, slug, description, root_path, content, files,
			env_text, profiles, created_at, updated_at
		) VALUES (
			:id, :name, :slug, :description, :root_path, :content, :files,
			:env_text, :profiles, :created_at, :updated_at
		)`

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: projects.id") {
			return NewStoreError("CreateProject", "project", project.ID, "project with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: projects.slug") {
			return NewStoreError("CreateProject", "project", project.ID, "project with this slug already exists", ErrDuplicateSlug)
		}
		return NewStoreError("CreateProject", "project", project.ID, err.Error(), err)
	}

	return nil
}

func getProject(ctx context.Context, exec executor, id string) (*domain.Project, error) {
	query := `SELECT * FROM projects WHERE id = ?`

	var row projectRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetProject", "project", id, "project not found", ErrNotFound)
		}
		return nil, NewStoreError("GetProject", "project", id, err.Error(), err)
	}

	return rowToProject(&row)
}

func getProjectBySlug(ctx context.Context, exec executor, slug string) (*domain.Project, error) {
	query := `SELECT * FROM projects WHERE slug = ?`

	var row projectRow
	err := exec.GetContext(ctx, &row, query, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetProjectBySlug", "project", slug, "project not found", ErrNotFound)
		}
		return nil, NewStoreError("GetProjectBySlug", "project", slug, err.Error(), err)
	}

	return rowToProject(&row)
}

func updateProject(ctx context.Context, exec executor, project *domain.Project) error {
	row, err := projectParams("UpdateProject", project)
	if err != nil {
		return err
	}

	query := `
		UPDATE projects SET
			name = :name,
			slug = :slug,
			description = :description,
			root_path = :root_path,
			content = :content,
			files = :files,
			env_text = :env_text,
			profiles = :profiles,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: projects.slug") {
			return NewStoreError("UpdateProject", "project", project.ID, "project with this slug already exists", ErrDuplicateSlug)
		}
		return NewStoreError("UpdateProject", "project", project.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateProject", "project", project.ID, "project not found", ErrNotFound)
	}

	return nil
}

func deleteProject(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM projects WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeleteProject", "project", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteProject", "project", id, "project not found", ErrNotFound)
	}

	return nil
}

func listProjects(ctx context.Context, exec executor, opts ListOptions) ([]domain.Project, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM projects ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	var rows []projectRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListProjects", "project", "", err.Error(), err)
	}

	projects := make([]domain.Project, 0, len(rows))
	for _, row := range rows {
		project, err := rowToProject(&row)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *project)
	}

	return projects, nil
}

func createComparisonReport(ctx context.Context, exec executor, report *domain.ComparisonReport) error {
	idsJSON, err := json.Marshal(report.ProjectIDs)
	if err != nil {
		return NewStoreError("CreateComparisonReport", "comparison", report.ID, "failed to serialize project ids", ErrInvalidData)
	}
	findingsJSON, err := json.Marshal(report.Findings)
	if err != nil {
		return NewStoreError("CreateComparisonReport", "comparison", report.ID, "failed to serialize findings", ErrInvalidData)
	}
	summaryJSON, err := json.Marshal(report.Summary)
	if err != nil {
		return NewStoreError("CreateComparisonReport", "comparison", report.ID, "failed to serialize summary", ErrInvalidData)
	}

	query := `
		INSERT INTO comparison_reports (
			id, name, project_ids, findings, summary, created_at
		) VALUES (
			:id, :name, :project_ids, :findings, :summary, :created_at
		)`

	row := map[string]any{
		"id":          report.ID,
		"name":        report.Name,
		"project_ids": string(idsJSON),
		"findings":    string(findingsJSON),
		"summary":     string(summaryJSON),
		"created_at":  report.CreatedAt.UTC().Format(timeFormat),
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: comparison_reports.id") {
			return NewStoreError("CreateComparisonReport", "comparison", report.ID, "comparison with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateComparisonReport", "comparison", report.ID, err.Error(), err)
	}

	return nil
}

func getComparisonReport(ctx context.Context, exec executor, id string) (*domain.ComparisonReport, error) {
	query := `SELECT * FROM comparison_reports WHERE id = ?`

	var row comparisonRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetComparisonReport", "comparison", id, "comparison not found", ErrNotFound)
		}
		return nil, NewStoreError("GetComparisonReport", "comparison", id, err.Error(), err)
	}

	return rowToComparison(&row)
}

func listComparisonReports(ctx context.Context, exec executor, opts ListOptions) ([]domain.ComparisonReport, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM comparison_reports ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	var rows []comparisonRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListComparisonReports", "comparison", "", err.Error(), err)
	}

	reports := make([]domain.ComparisonReport, 0, len(rows))
	for _, row := range rows {
		report, err := rowToComparison(&row)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}

	return reports, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

// rowToProject converts a database row to a domain.Project.
func rowToProject(row *projectRow) (*domain.Project, error) {
	createdAt, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, row.UpdatedAt)

	var files []paths.File
	if row.Files != nil && *row.Files != "" && *row.Files != "null" {
		if err := json.Unmarshal([]byte(*row.Files), &files); err != nil {
			return nil, NewStoreError("rowToProject", "project", row.ID, "failed to parse files", ErrInvalidData)
		}
	}

	var profiles []string
	if row.Profiles != nil && *row.Profiles != "" && *row.Profiles != "null" {
		if err := json.Unmarshal([]byte(*row.Profiles), &profiles); err != nil {
			return nil, NewStoreError("rowToProject", "project", row.ID, "failed to parse profiles", ErrInvalidData)
		}
	}

	return &domain.Project{
		ID:          row.ID,
		Name:        row.Name,
		Slug:        row.Slug,
		Description: row.Description,
		RootPath:    row.RootPath,
		Content:     row.Content,
		Files:       files,
		EnvText:     row.EnvText,
		Profiles:    profiles,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// rowToComparison converts a database row to a domain.ComparisonReport.
func rowToComparison(row *comparisonRow) (*domain.ComparisonReport, error) {
	createdAt, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)

	var projectIDs []string
	if err := json.Unmarshal([]byte(row.ProjectIDs), &projectIDs); err != nil {
		return nil, NewStoreError("rowToComparison", "comparison", row.ID, "failed to parse project ids", ErrInvalidData)
	}

	findings := []compare.Finding{}
	if err := json.Unmarshal([]byte(row.Findings), &findings); err != nil {
		return nil, NewStoreError("rowToComparison", "comparison", row.ID, "failed to parse findings", ErrInvalidData)
	}

	var summary compare.Summary
	if err := json.Unmarshal([]byte(row.Summary), &summary); err != nil {
		return nil, NewStoreError("rowToComparison", "comparison", row.ID, "failed to parse summary", ErrInvalidData)
	}

	return &domain.ComparisonReport{
		ID:         row.ID,
		Name:       row.Name,
		ProjectIDs: projectIDs,
		Findings:   findings,
		Summary:    summary,
		CreatedAt:  createdAt,
	}, nil
}
