package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const shopCompose = `include:
  - infra/db.yml
services:
  web:
    image: nginx:${TAG:-latest}
    ports:
      - "8080:80"
  debug:
    image: busybox
    profiles: [debug]
`

const billingCompose = `services:
  api:
    image: billing:${TAG}
    ports:
      - "8080:3000"
    volumes:
      - data:/var/lib/data
volumes:
  data: {}
`

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func shopDir(t *testing.T) string {
	return writeTree(t, map[string]string{
		"compose.yaml": shopCompose,
		"infra/db.yml": "services:\n  db:\n    image: postgres:16\n",
		".env":         "TAG=1.25\n",
	})
}

func billingDir(t *testing.T) string {
	return writeTree(t, map[string]string{
		"docker-compose.yml": billingCompose,
		".env":               "TAG=2.0\n",
	})
}

// runCLI runs the command line with a clean environment.
func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	clearEnv(t)
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

type resolvedDoc struct {
	Services map[string]map[string]any `json:"services"`
}

// =============================================================================
// Version Tests
// =============================================================================

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "stacklens dev (built unknown)\n", stdout)
}

func TestVersionCommand_IgnoresBrokenConfig(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("invalid: yaml: [[["), 0o644))

	code, _, _ := runCLI(t, "--config", bad, "version")
	assert.Equal(t, ExitSuccess, code)
}

func TestBrokenConfig(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("invalid: yaml: [[["), 0o644))

	code, _, stderr := runCLI(t, "--config", bad, "resolve", shopDir(t))
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "configuration error")
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "explode")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "unknown command")
}

// =============================================================================
// Resolve Command Tests
// =============================================================================

func TestResolveCommand_YAML(t *testing.T) {
	code, stdout, stderr := runCLI(t, "resolve", shopDir(t))
	require.Equal(t, ExitSuccess, code, stderr)

	assert.Contains(t, stdout, "image: nginx:1.25")
	assert.Contains(t, stdout, "image: postgres:16")
	assert.NotContains(t, stdout, "busybox")
	assert.Empty(t, stderr)
}

func TestResolveCommand_JSONWithProfile(t *testing.T) {
	code, stdout, stderr := runCLI(t, "resolve", shopDir(t), "--profile", "debug", "-o", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var doc resolvedDoc
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	assert.Contains(t, doc.Services, "debug")
	assert.Contains(t, doc.Services, "db")
	assert.Equal(t, "nginx:1.25", doc.Services["web"]["image"])
}

func TestResolveCommand_DisabledStages(t *testing.T) {
	code, stdout, stderr := runCLI(t, "resolve", shopDir(t),
		"--no-includes", "--no-variables", "--no-profiles", "-o", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var doc resolvedDoc
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	assert.NotContains(t, doc.Services, "db")
	assert.Contains(t, doc.Services, "debug")
	assert.Equal(t, "nginx:${TAG:-latest}", doc.Services["web"]["image"])
}

func TestResolveCommand_EnvFileOverridesDotEnv(t *testing.T) {
	dir := shopDir(t)
	envFile := filepath.Join(t.TempDir(), "prod.env")
	require.NoError(t, os.WriteFile(envFile, []byte("TAG=prod\n"), 0o644))

	code, stdout, stderr := runCLI(t, "resolve", dir, "--env-file", envFile)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "image: nginx:prod")
}

func TestResolveCommand_ExplicitRoot(t *testing.T) {
	code, stdout, stderr := runCLI(t, "resolve", shopDir(t), "--root", "infra/db.yml")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "postgres:16")
	assert.NotContains(t, stdout, "nginx")
}

func TestResolveCommand_DiagnosticsOnStderr(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"compose.yaml": "include: [missing.yml]\nservices:\n  web:\n    image: nginx\n",
	})

	code, stdout, stderr := runCLI(t, "resolve", dir)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "image: nginx")
	assert.Contains(t, stderr, "include")
	assert.Contains(t, stderr, "missing.yml")
}

func TestResolveCommand_Fatal(t *testing.T) {
	dir := writeTree(t, map[string]string{"compose.yaml": ""})

	code, stdout, stderr := runCLI(t, "resolve", dir)
	assert.Equal(t, ExitResolveError, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "failed to resolve")
}

func TestResolveCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad output", []string{"resolve", ".", "-o", "xml"}},
		{"missing path", []string{"resolve", filepath.Join(os.TempDir(), "stacklens-does-not-exist")}},
		{"no root file", []string{"resolve", "EMPTY"}},
		{"no args", []string{"resolve"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{}, tt.args...)
			for i, a := range args {
				if a == "EMPTY" {
					args[i] = t.TempDir()
				}
			}
			code, _, stderr := runCLI(t, args...)
			assert.Equal(t, ExitConfigError, code)
			assert.Contains(t, stderr, "error:")
		})
	}
}

// =============================================================================
// Profiles Command Tests
// =============================================================================

func TestProfilesCommand_Table(t *testing.T) {
	code, stdout, stderr := runCLI(t, "profiles", shopDir(t))
	require.Equal(t, ExitSuccess, code, stderr)

	assert.Contains(t, stdout, "PROFILE")
	assert.Contains(t, stdout, "debug")
	assert.Contains(t, stdout, "3 services, 1 profiles")
}

func TestProfilesCommand_JSON(t *testing.T) {
	code, stdout, stderr := runCLI(t, "profiles", shopDir(t), "-o", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var report profileReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, []string{"debug"}, report.Profiles)
	assert.Equal(t, map[string]int{"debug": 1}, report.Counts)
	assert.Equal(t, 3, report.Services)
	assert.Equal(t, 2, report.AlwaysOn)
}

// =============================================================================
// Compare Command Tests
// =============================================================================

func TestCompareCommand_Table(t *testing.T) {
	code, stdout, stderr := runCLI(t, "compare", shopDir(t), billingDir(t))
	require.Equal(t, ExitSuccess, code, stderr)

	assert.Contains(t, stdout, "SEVERITY")
	assert.Contains(t, stdout, "8080")
	assert.Contains(t, stdout, "1 findings: 1 errors, 0 warnings, 0 info")
}

func TestCompareCommand_JSON(t *testing.T) {
	shop, billing := shopDir(t), billingDir(t)
	code, stdout, stderr := runCLI(t, "compare", shop, billing, "-o", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var report struct {
		Findings []struct {
			Category string   `json:"category"`
			Severity string   `json:"severity"`
			Projects []string `json:"projects"`
		} `json:"findings"`
		Summary struct {
			Error int `json:"error"`
			Total int `json:"total"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "port", report.Findings[0].Category)
	assert.Equal(t, "error", report.Findings[0].Severity)
	assert.Equal(t, []string{shop, billing}, report.Findings[0].Projects)
	assert.Equal(t, 1, report.Summary.Error)
}

func TestCompareCommand_NoConflicts(t *testing.T) {
	other := writeTree(t, map[string]string{
		"compose.yaml": "services:\n  worker:\n    image: worker\n",
	})

	code, stdout, stderr := runCLI(t, "compare", shopDir(t), other, "--fail-on", "warning")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "no conflicts between 2 projects")
}

func TestCompareCommand_FailOn(t *testing.T) {
	code, _, stderr := runCLI(t, "compare", shopDir(t), billingDir(t), "--fail-on", "error")
	assert.Equal(t, ExitConflictsFound, code)
	assert.Contains(t, stderr, "conflicts found: 1 errors, 0 warnings")
}

func TestCompareCommand_FatalProject(t *testing.T) {
	broken := writeTree(t, map[string]string{"compose.yaml": ""})

	code, _, stderr := runCLI(t, "compare", shopDir(t), broken)
	assert.Equal(t, ExitResolveError, code)
	assert.Contains(t, stderr, broken)
}

func TestCompareCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"single project", []string{"compare", "."}},
		{"bad fail-on", []string{"compare", ".", ".", "--fail-on", "info"}},
		{"bad output", []string{"compare", ".", ".", "-o", "yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCLI(t, tt.args...)
			assert.Equal(t, ExitConfigError, code)
		})
	}
}

// =============================================================================
// Serve Command Tests
// =============================================================================

func TestServeCommand_DatabaseError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("file"), 0o644))
	dsn := filepath.Join(blocker, "stacklens.db")

	code, _, stderr := runCLI(t, "serve", "--db", dsn)
	assert.Equal(t, ExitDatabaseError, code)
	assert.Contains(t, stderr, "NewServer")
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	require.NoError(t, ensureDataDir(filepath.Join(dir, "stacklens.db")+"?_journal=WAL"))
	assert.DirExists(t, dir)

	assert.NoError(t, ensureDataDir(":memory:"))
	assert.NoError(t, ensureDataDir("file:test?mode=memory"))
}

// =============================================================================
// Exit Code Tests
// =============================================================================

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitConflictsFound, exitCode(&ExitError{Code: ExitConflictsFound, Err: errors.New("x")}))
	assert.Equal(t, ExitHTTPServerError, exitCode(&ServerError{Op: "Start", Err: errors.New("x"), ExitCode: ExitHTTPServerError}))
	assert.Equal(t, ExitConfigError, exitCode(errors.New("unknown flag")))
}
