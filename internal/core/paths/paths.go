// Package paths provides slash-separated path arithmetic over the keys of a
// FileMap. All functions are pure and total: they never touch the filesystem
// and never fail.
package paths

import (
	"fmt"
	"strings"
)

// =============================================================================
// Path Arithmetic
// =============================================================================

// Normalize cleans a slash-separated path. Empty and "." segments are dropped,
// ".." pops the preceding segment (or is ignored when there is nothing to pop),
// and leading or trailing slashes disappear.
func Normalize(path string) string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/")
}

// Dirname returns the directory portion of path, or "" if it has none.
func Dirname(path string) string {
	n := Normalize(path)
	i := strings.LastIndex(n, "/")
	if i < 0 {
		return ""
	}
	return n[:i]
}

// Join appends relative to base and normalizes the result.
func Join(base, relative string) string {
	relative = strings.TrimPrefix(relative, "./")
	if base == "" {
		return Normalize(relative)
	}
	return Normalize(base + "/" + relative)
}

// Resolve resolves target relative to the directory of the file that
// referenced it.
func Resolve(currentFile, target string) string {
	return Join(Dirname(currentFile), target)
}

// RelativeFrom returns the shortest path leading from the directory of
// fromFile to toFile.
func RelativeFrom(fromFile, toFile string) string {
	fromDir := splitSegments(Dirname(fromFile))
	to := splitSegments(Normalize(toFile))

	common := 0
	// The final segment of to is a file name, never a shared directory.
	for common < len(fromDir) && common < len(to)-1 && fromDir[common] == to[common] {
		common++
	}

	var b strings.Builder
	for i := common; i < len(fromDir); i++ {
		b.WriteString("../")
	}
	b.WriteString(strings.Join(to[common:], "/"))
	return b.String()
}

func splitSegments(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// =============================================================================
// File Maps
// =============================================================================

// FileMap maps normalized relative paths to raw file content.
type FileMap map[string]string

// Keys returns the paths in m.
func (m FileMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// File is one uploaded or discovered file.
type File struct {
	Name         string `json:"name"`
	RelativePath string `json:"relative_path,omitempty"`
	Content      string `json:"content"`
}

// BuildFileMap keys files by their relative path, falling back to the bare
// name. A bare name seen before is re-keyed under an "upload-N/" prefix and a
// collision message is returned for it.
func BuildFileMap(files []File) (FileMap, []string) {
	fm := make(FileMap, len(files))
	var collisions []string
	uploads := 0

	for _, f := range files {
		if f.RelativePath != "" {
			fm[Normalize(f.RelativePath)] = f.Content
			continue
		}

		key := Normalize(f.Name)
		if _, exists := fm[key]; exists {
			uploads++
			renamed := Normalize(fmt.Sprintf("upload-%d/%s", uploads, f.Name))
			collisions = append(collisions, fmt.Sprintf(
				"duplicate file name %q: stored as %q", f.Name, renamed))
			key = renamed
		}
		fm[key] = f.Content
	}

	return fm, collisions
}
