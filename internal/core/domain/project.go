// Package domain contains the core domain types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/stacklens/internal/core/paths"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// Name validation errors
	ErrNameRequired     = errors.New("name is required")
	ErrNameTooShort     = errors.New("name must be at least 3 characters")
	ErrNameTooLong      = errors.New("name must be at most 100 characters")
	ErrNameInvalidChars = errors.New("name can only contain alphanumeric characters, spaces, dots, underscores, and hyphens")

	// Root document errors
	ErrRootPathInvalid = errors.New("root path must be a relative path inside the project")
	ErrContentRequired = errors.New("root document content is required")

	// File set errors
	ErrFileDuplicate    = errors.New("duplicate file path")
	ErrFileShadowsRoot  = errors.New("file path collides with the root document")
	ErrProfileNameEmpty = errors.New("profile names cannot be empty")

	// Comparison errors
	ErrTooFewProjects     = errors.New("a comparison needs at least two projects")
	ErrDuplicateProjectID = errors.New("a project can only be compared once")
)

// DefaultRootPath is the root document path used when none is given.
const DefaultRootPath = "compose.yaml"

// =============================================================================
// Project
// =============================================================================

// Project is a saved multi-file stack: a root document, the files it may
// include, the .env text used for interpolation and the active profiles.
type Project struct {
	ID          string       `json:"id" db:"id"`
	Name        string       `json:"name" db:"name"`
	Slug        string       `json:"slug" db:"slug"`
	Description string       `json:"description,omitempty" db:"description"`
	RootPath    string       `json:"root_path" db:"root_path"`
	Content     string       `json:"content" db:"content"`
	Files       []paths.File `json:"files,omitempty" db:"-"`
	EnvText     string       `json:"env_text,omitempty" db:"env_text"`
	Profiles    []string     `json:"profiles,omitempty" db:"-"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// NewProject creates a project from its root document.
// Returns an error if validation fails.
func NewProject(name, rootPath, content string) (*Project, error) {
	if rootPath == "" {
		rootPath = DefaultRootPath
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateRootPath(rootPath); err != nil {
		return nil, err
	}
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Project{
		ID:        "proj_" + uuid.New().String()[:8],
		Name:      name,
		Slug:      Slugify(name),
		RootPath:  paths.Normalize(rootPath),
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// FileMap returns every file of the project, root document included, keyed by
// normalized path.
func (p *Project) FileMap() paths.FileMap {
	fm, _ := paths.BuildFileMap(p.Files)
	fm[paths.Normalize(p.RootPath)] = p.Content
	return fm
}

// Touch updates the modification time.
func (p *Project) Touch() {
	p.UpdatedAt = time.Now().UTC()
}

// =============================================================================
// Validation Functions (Pure)
// =============================================================================

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.]+$`)

// ValidateName validates a project or report name.
func ValidateName(name string) error {
	if name == "" {
		return ErrNameRequired
	}
	if len(name) < 3 {
		return ErrNameTooShort
	}
	if len(name) > 100 {
		return ErrNameTooLong
	}
	if !nameRegex.MatchString(name) {
		return ErrNameInvalidChars
	}
	return nil
}

// ValidateRootPath checks that the root path stays inside the project.
func ValidateRootPath(rootPath string) error {
	if strings.HasPrefix(rootPath, "/") || strings.HasPrefix(rootPath, "../") || rootPath == ".." {
		return ErrRootPathInvalid
	}
	if paths.Normalize(rootPath) == "" {
		return ErrRootPathInvalid
	}
	return nil
}

// ValidateContent validates the root document text.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrContentRequired
	}
	return nil
}

// ValidateFiles checks that explicit relative paths are unique and do not
// shadow the root document.
func ValidateFiles(rootPath string, files []paths.File) []error {
	var errs []error
	root := paths.Normalize(rootPath)
	seen := make(map[string]bool)

	for _, f := range files {
		if f.RelativePath == "" {
			continue
		}
		key := paths.Normalize(f.RelativePath)
		if key == root {
			errs = append(errs, ErrFileShadowsRoot)
			continue
		}
		if seen[key] {
			errs = append(errs, ErrFileDuplicate)
			continue
		}
		seen[key] = true
	}
	return errs
}

// ValidateProfiles rejects empty profile names.
func ValidateProfiles(profiles []string) error {
	for _, p := range profiles {
		if strings.TrimSpace(p) == "" {
			return ErrProfileNameEmpty
		}
	}
	return nil
}

// ValidateProject validates a project and returns all validation errors.
func ValidateProject(p Project) []error {
	var errs []error

	if err := ValidateName(p.Name); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateRootPath(p.RootPath); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateContent(p.Content); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateProfiles(p.Profiles); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, ValidateFiles(p.RootPath, p.Files)...)

	return errs
}
