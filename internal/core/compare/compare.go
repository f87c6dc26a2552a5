// Package compare detects resources that several resolved documents would
// claim at the same time: host ports, container names, volumes, networks,
// env files and service names.
package compare

import (
	"fmt"
	"strings"

	"github.com/artpar/stacklens/internal/core/compose"
)

// =============================================================================
// Types
// =============================================================================

// Class separates real conflicts from resources that are merely shared.
type Class string

const (
	ClassConflict Class = "conflict"
	ClassShared   Class = "shared"
)

// Severity of a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Category names the resource a finding is about.
type Category string

const (
	CategoryPort          Category = "port"
	CategoryContainerName Category = "container_name"
	CategoryVolume        Category = "volume"
	CategoryNetwork       Category = "network"
	CategoryEnvFile       Category = "env_file"
	CategoryServiceName   Category = "service_name"
)

// Project is one resolved document to compare.
type Project struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Document *compose.Document `json:"document"`
}

// Occurrence records one service using a resource.
type Occurrence struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	Service     string `json:"service"`
	Value       string `json:"value"`
}

// Finding reports a resource used by more than one project.
type Finding struct {
	Class    Class        `json:"class"`
	Category Category     `json:"category"`
	Severity Severity     `json:"severity"`
	Key      string       `json:"key"`
	Message  string       `json:"message"`
	Projects []string     `json:"projects"`
	Evidence []Occurrence `json:"evidence"`
}

// Summary tallies findings by severity.
type Summary struct {
	Error   int `json:"error"`
	Warning int `json:"warning"`
	Info    int `json:"info"`
	Total   int `json:"total"`
}

// =============================================================================
// Occurrence Index
// =============================================================================

// index groups occurrences by key, remembering first-seen key order.
type index struct {
	keys        []string
	occurrences map[string][]Occurrence
}

func newIndex() *index {
	return &index{occurrences: make(map[string][]Occurrence)}
}

func (ix *index) add(key string, occ Occurrence) {
	if _, ok := ix.occurrences[key]; !ok {
		ix.keys = append(ix.keys, key)
	}
	ix.occurrences[key] = append(ix.occurrences[key], occ)
}

// distinctProjects returns project IDs in first-seen order.
func distinctProjects(occs []Occurrence) []string {
	var out []string
	seen := make(map[string]bool)
	for _, o := range occs {
		if !seen[o.ProjectID] {
			seen[o.ProjectID] = true
			out = append(out, o.ProjectID)
		}
	}
	return out
}

// =============================================================================
// Comparison
// =============================================================================

// Compare returns findings for every resource used by more than one project,
// ordered by category and then by first occurrence. Same-project reuse is
// never reported. Compare never fails; fewer than two projects yield no
// findings.
func Compare(projects []Project) []Finding {
	ports := newIndex()
	containers := newIndex()
	volumes := newIndex()
	networks := newIndex()
	envFiles := newIndex()
	serviceNames := newIndex()

	for _, p := range projects {
		compose.Services(p.Document).Each(func(name string, v any) {
			occ := Occurrence{ProjectID: p.ID, ProjectName: p.Name, Service: name}
			serviceNames.add(name, occ)

			svc, ok := v.(*compose.Mapping)
			if !ok {
				return
			}

			raw, _ := svc.Get("ports")
			for _, entry := range listOf(raw) {
				if key, ok := portBindingKey(entry); ok {
					ports.add(key, withValue(occ, entry))
				}
			}

			if cn, ok := svc.String("container_name"); ok && cn != "" {
				containers.add(cn, withValue(occ, cn))
			}

			raw, _ = svc.Get("volumes")
			for _, entry := range listOf(raw) {
				if source, ok := volumeSource(entry); ok {
					volumes.add(source, withValue(occ, entry))
				}
			}

			raw, _ = svc.Get("networks")
			for _, network := range networkNames(raw) {
				networks.add(network, withValue(occ, network))
			}

			raw, _ = svc.Get("env_file")
			for _, path := range envFilePaths(raw) {
				envFiles.add(path, withValue(occ, path))
			}
		})
	}

	var findings []Finding
	findings = appendFindings(findings, ports, func(key string) (Category, Severity, string) {
		return CategoryPort, SeverityError, fmt.Sprintf("host port %s is published by more than one project", key)
	})
	findings = appendFindings(findings, containers, func(key string) (Category, Severity, string) {
		return CategoryContainerName, SeverityError, fmt.Sprintf("container name %q is used by more than one project", key)
	})
	findings = appendFindings(findings, volumes, func(key string) (Category, Severity, string) {
		if isHostPath(key) {
			return CategoryVolume, SeverityWarning, fmt.Sprintf("host path %q is mounted by more than one project", key)
		}
		return CategoryVolume, SeverityInfo, fmt.Sprintf("named volume %q is used by more than one project", key)
	})
	findings = appendFindings(findings, networks, func(key string) (Category, Severity, string) {
		return CategoryNetwork, SeverityInfo, fmt.Sprintf("network %q is shared by more than one project", key)
	})
	findings = appendFindings(findings, envFiles, func(key string) (Category, Severity, string) {
		return CategoryEnvFile, SeverityInfo, fmt.Sprintf("env file %q is referenced by more than one project", key)
	})
	findings = appendFindings(findings, serviceNames, func(key string) (Category, Severity, string) {
		return CategoryServiceName, SeverityInfo, fmt.Sprintf("service name %q appears in more than one project", key)
	})

	if findings == nil {
		return []Finding{}
	}
	return findings
}

func appendFindings(findings []Finding, ix *index, classify func(key string) (Category, Severity, string)) []Finding {
	for _, key := range ix.keys {
		occs := ix.occurrences[key]
		projects := distinctProjects(occs)
		if len(projects) < 2 {
			continue
		}

		category, severity, message := classify(key)
		class := ClassShared
		if severity == SeverityError || severity == SeverityWarning {
			class = ClassConflict
		}

		findings = append(findings, Finding{
			Class:    class,
			Category: category,
			Severity: severity,
			Key:      key,
			Message:  message,
			Projects: projects,
			Evidence: occs,
		})
	}
	return findings
}

// Summarize tallies findings per severity.
func Summarize(findings []Finding) Summary {
	var s Summary
	for _, f := range findings {
		switch f.Severity {
		case SeverityError:
			s.Error++
		case SeverityWarning:
			s.Warning++
		case SeverityInfo:
			s.Info++
		}
		s.Total++
	}
	return s
}

// =============================================================================
// Field Readers
// =============================================================================

func withValue(occ Occurrence, v any) Occurrence {
	switch t := v.(type) {
	case string:
		occ.Value = t
	case *compose.Mapping:
		parts := make([]string, 0, t.Len())
		t.Each(func(k string, val any) {
			parts = append(parts, fmt.Sprintf("%s=%v", k, val))
		})
		occ.Value = strings.Join(parts, ",")
	default:
		occ.Value = fmt.Sprint(t)
	}
	return occ
}

func listOf(v any) []any {
	list, _ := v.([]any)
	return list
}

// volumeSource returns the source of a volume entry in short or long form.
// Anonymous volumes and tmpfs mounts have no source.
func volumeSource(entry any) (string, bool) {
	switch t := entry.(type) {
	case string:
		source, _, found := strings.Cut(t, ":")
		if !found || source == "" {
			return "", false
		}
		return source, true
	case *compose.Mapping:
		if typ, _ := t.String("type"); typ == "tmpfs" || typ == "npipe" {
			return "", false
		}
		source, ok := t.String("source")
		return source, ok && source != ""
	}
	return "", false
}

func isHostPath(source string) bool {
	return strings.HasPrefix(source, ".") || strings.HasPrefix(source, "/")
}

// networkNames reads a service networks field in list or mapping form.
func networkNames(v any) []string {
	switch t := v.(type) {
	case []any:
		return compose.StringList(t)
	case *compose.Mapping:
		return t.Keys()
	}
	return nil
}

// envFilePaths reads env_file as a string, a list of strings, or a list of
// {path} mappings.
func envFilePaths(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			switch e := item.(type) {
			case string:
				out = append(out, e)
			case *compose.Mapping:
				if p, ok := e.String("path"); ok {
					out = append(out, p)
				}
			}
		}
		return out
	}
	return nil
}
