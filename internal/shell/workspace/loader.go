// Package workspace supplies the resolution engine with its inputs: it reads
// project files from disk or from uploads, assembles the FileMap and merges
// environment sources.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/artpar/stacklens/internal/core/domain"
	"github.com/artpar/stacklens/internal/core/paths"
	"github.com/artpar/stacklens/internal/core/resolve"
	"github.com/artpar/stacklens/internal/core/variables"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNotDirectory = errors.New("not a directory")
	ErrNoRootFile   = errors.New("no root compose file found")
	ErrRootTooLarge = errors.New("root compose file exceeds the size limit")
)

// =============================================================================
// Options
// =============================================================================

// DefaultRootFiles are the candidate root file names, in order of preference.
var DefaultRootFiles = []string{"compose.yaml", "compose.yml", "docker-compose.yaml", "docker-compose.yml"}

// DefaultMaxFileBytes bounds the size of any file read into a FileMap.
const DefaultMaxFileBytes int64 = 1 << 20

// Options configures a Loader.
type Options struct {
	// RootFiles are tried in order when no root path is given.
	RootFiles []string
	// MaxFileBytes skips larger files. Zero means DefaultMaxFileBytes.
	MaxFileBytes int64
	// EnvFiles are read after the project's .env, later files winning.
	EnvFiles []string
	// UseOSEnv adds the process environment last.
	UseOSEnv bool
}

// Project is a loaded project ready to resolve.
type Project struct {
	Name       string
	Dir        string
	RootPath   string
	Content    string
	Files      paths.FileMap
	Env        variables.Environment
	Collisions []string
}

// ResolveOptions returns resolve options for the project with every stage
// enabled.
func (p *Project) ResolveOptions(activeProfiles []string) resolve.Options {
	opts := resolve.DefaultOptions()
	opts.RootPath = p.RootPath
	opts.Files = p.Files
	opts.Env = p.Env
	opts.ActiveProfiles = activeProfiles
	return opts
}

// Loader reads projects.
type Loader struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Loader.
func New(opts Options, logger *slog.Logger) *Loader {
	if len(opts.RootFiles) == 0 {
		opts.RootFiles = DefaultRootFiles
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{opts: opts, logger: logger}
}

// =============================================================================
// Directory Loading
// =============================================================================

// LoadDirectory reads every YAML file under dir. rootPath selects the root
// document relative to dir; when empty the first existing RootFiles entry is
// used. A path naming a file loads the file's directory with that file as root.
func (l *Loader) LoadDirectory(dir, rootPath string) (*Project, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		if rootPath != "" {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotDirectory)
		}
		rootPath = filepath.Base(dir)
		dir = filepath.Dir(dir)
	}

	files, err := l.walk(dir)
	if err != nil {
		return nil, err
	}

	if rootPath == "" {
		rootPath, err = l.pickRoot(dir)
		if err != nil {
			return nil, err
		}
	}
	rootPath = paths.Normalize(filepath.ToSlash(rootPath))

	content, ok := files[rootPath]
	if !ok {
		// The root may be larger than other files allow, or outside the walk.
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rootPath)))
		if err != nil {
			return nil, fmt.Errorf("failed to read root file %s: %w", rootPath, err)
		}
		if int64(len(data)) > l.opts.MaxFileBytes {
			return nil, fmt.Errorf("%s: %w", rootPath, ErrRootTooLarge)
		}
		content = string(data)
		files[rootPath] = content
	}

	env, err := l.Environment(filepath.Join(dir, filepath.FromSlash(paths.Dirname(rootPath))))
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}

	l.logger.Debug("loaded project directory",
		"dir", abs,
		"root", rootPath,
		"files", len(files),
		"env_vars", len(env))

	return &Project{
		Name:     domain.Slugify(filepath.Base(abs)),
		Dir:      abs,
		RootPath: rootPath,
		Content:  content,
		Files:    files,
		Env:      env,
	}, nil
}

func (l *Loader) pickRoot(dir string) (string, error) {
	for _, name := range l.opts.RootFiles {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && !info.IsDir() {
			return name, nil
		}
	}
	return "", fmt.Errorf("%s (tried %s): %w", dir, strings.Join(l.opts.RootFiles, ", "), ErrNoRootFile)
}

// walk collects *.yml and *.yaml files under dir keyed by slash-separated
// relative path. Hidden directories are skipped.
func (l *Loader) walk(dir string) (paths.FileMap, error) {
	var found []paths.File

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".yml" && ext != ".yaml" {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if info.Size() > l.opts.MaxFileBytes {
			l.logger.Warn("skipping large file", "path", rel, "size", info.Size(), "limit", l.opts.MaxFileBytes)
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		found = append(found, paths.File{Name: d.Name(), RelativePath: rel, Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	fm, _ := paths.BuildFileMap(found)
	return fm, nil
}

// =============================================================================
// Upload Loading
// =============================================================================

// LoadFiles builds a project from uploaded files. The root document is the
// file keyed rootPath, or the first RootFiles entry present when rootPath is
// empty. envText is parsed as the project's .env.
func (l *Loader) LoadFiles(name, rootPath string, uploads []paths.File, envText string) (*Project, error) {
	files, collisions := paths.BuildFileMap(uploads)
	for _, c := range collisions {
		l.logger.Warn("upload name collision", "project", name, "detail", c)
	}

	if rootPath == "" {
		for _, candidate := range l.opts.RootFiles {
			if _, ok := files[candidate]; ok {
				rootPath = candidate
				break
			}
		}
		if rootPath == "" {
			return nil, fmt.Errorf("uploads for %q: %w", name, ErrNoRootFile)
		}
	}
	rootPath = paths.Normalize(rootPath)

	content, ok := files[rootPath]
	if !ok {
		known := files.Keys()
		sort.Strings(known)
		return nil, fmt.Errorf("root %q not among uploads [%s]: %w", rootPath, strings.Join(known, ", "), ErrNoRootFile)
	}

	env, err := l.mergeEnv(variables.ParseEnvText(envText))
	if err != nil {
		return nil, err
	}

	return &Project{
		Name:       name,
		RootPath:   rootPath,
		Content:    content,
		Files:      files,
		Env:        env,
		Collisions: collisions,
	}, nil
}

// FromDomain builds a loadable project from a saved one.
func (l *Loader) FromDomain(p *domain.Project) (*Project, error) {
	env, err := l.mergeEnv(variables.ParseEnvText(p.EnvText))
	if err != nil {
		return nil, err
	}
	_, collisions := paths.BuildFileMap(p.Files)

	return &Project{
		Name:       p.Name,
		RootPath:   paths.Normalize(p.RootPath),
		Content:    p.Content,
		Files:      p.FileMap(),
		Env:        env,
		Collisions: collisions,
	}, nil
}

// =============================================================================
// Environment
// =============================================================================

// Environment merges, in order, the .env file in dir (if any), each
// configured env file and, when enabled, the process environment.
func (l *Loader) Environment(dir string) (variables.Environment, error) {
	var dotEnv variables.Environment
	data, err := os.ReadFile(filepath.Join(dir, ".env"))
	switch {
	case err == nil:
		dotEnv = variables.ParseEnvText(string(data))
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return l.mergeEnv(dotEnv)
}

func (l *Loader) mergeEnv(base variables.Environment) (variables.Environment, error) {
	sources := []variables.Environment{base}

	for _, path := range l.opts.EnvFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
		}
		sources = append(sources, variables.ParseEnvText(string(data)))
	}

	if l.opts.UseOSEnv {
		sources = append(sources, processEnvironment())
	}

	return variables.MergeEnvironments(sources...), nil
}

func processEnvironment() variables.Environment {
	env := make(variables.Environment)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}
