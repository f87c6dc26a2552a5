// Package include merges documents referenced through the top-level include
// key into the including document.
package include

import (
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/stacklens/internal/core/compose"
	"github.com/artpar/stacklens/internal/core/paths"
)

// DefaultRootPath is used when the caller does not name the root file.
const DefaultRootPath = "docker-compose.yml"

// Resolve merges every included document into doc and strips the include key.
//
// Included documents are merged in listed order with later entries overriding
// earlier ones; doc itself overrides all of them and keeps its key order, with
// keys contributed only by includes following. Paths are resolved relative
// to currentPath and looked up in files. A missing file or a path already on
// the include chain fails the whole resolution.
func Resolve(doc *compose.Document, currentPath string, files paths.FileMap) (*compose.Document, error) {
	if currentPath == "" {
		currentPath = DefaultRootPath
	}
	current := paths.Normalize(currentPath)
	return resolve(doc, current, files, []string{current})
}

func resolve(doc *compose.Document, current string, files paths.FileMap, chain []string) (*compose.Document, error) {
	raw, ok := doc.Get(compose.KeyInclude)
	if !ok {
		return doc, nil
	}

	entries, err := entryPaths(raw)
	if err != nil {
		return nil, compose.NewParseError(current, err.Error(), compose.ErrInvalidYAML)
	}

	merged := compose.NewMapping()
	for _, requested := range entries {
		target := paths.Resolve(current, requested)

		if contains(chain, target) {
			cycle := append(append([]string(nil), chain...), target)
			return nil, compose.NewCycleError("include", cycle, compose.ErrCircularInclude)
		}

		text, ok := files[target]
		if !ok {
			return nil, notFound(requested, target, files)
		}

		included, err := compose.ParseDocument(text)
		if err != nil {
			return nil, compose.NewParseError(target, err.Error(), err)
		}

		included, err = resolve(included, target, files, append(chain[:len(chain):len(chain)], target))
		if err != nil {
			return nil, err
		}
		merged = Merge(merged, included)
	}

	local := doc.Clone()
	local.Delete(compose.KeyInclude)
	return orderLike(Merge(merged, local), local), nil
}

// orderLike returns m with the keys of ref first, in ref's order, followed by
// the keys only m has.
func orderLike(m, ref *compose.Document) *compose.Document {
	out := compose.NewMapping()
	ref.Each(func(key string, _ any) {
		if v, ok := m.Get(key); ok {
			out.Set(key, v)
		}
	})
	m.Each(func(key string, value any) {
		if !out.Has(key) {
			out.Set(key, value)
		}
	})
	return out
}

// entryPaths flattens the include list. Entries are a path string, a mapping
// with a path string, or a mapping with a list of paths.
func entryPaths(raw any) ([]string, error) {
	var items []any
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		items = t
	default:
		items = []any{t}
	}

	var out []string
	for i, item := range items {
		switch entry := item.(type) {
		case string:
			out = append(out, entry)
		case *compose.Mapping:
			p, _ := entry.Get("path")
			list := compose.StringList(p)
			if len(list) == 0 {
				return nil, fmt.Errorf("include entry %d has no path", i)
			}
			out = append(out, list...)
		default:
			return nil, fmt.Errorf("include entry %d must be a string or a mapping", i)
		}
	}
	return out, nil
}

func notFound(requested, target string, files paths.FileMap) error {
	known := files.Keys()
	sort.Strings(known)
	msg := fmt.Sprintf("included file %q (resolved to %q) not found; known files: [%s]",
		requested, target, strings.Join(known, ", "))
	return &compose.ResolveError{
		Stage:   "include",
		Message: msg,
		Err:     compose.ErrIncludeNotFound,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// Merge
// =============================================================================

// Merge returns base overlaid with override. Collection keys take the union of
// their entries with override entries replacing same-named base entries
// wholesale; every other key is replaced by the override value. Neither input
// is modified.
func Merge(base, override *compose.Document) *compose.Document {
	out := base.Clone()
	if out == nil {
		out = compose.NewMapping()
	}

	override.Each(func(key string, value any) {
		if !compose.IsCollectionKey(key) {
			out.Set(key, compose.CloneValue(value))
			return
		}

		overrideEntries, ok := value.(*compose.Mapping)
		baseEntries := out.Mapping(key)
		if value == nil && baseEntries != nil {
			return
		}
		if !ok || baseEntries == nil {
			out.Set(key, compose.CloneValue(value))
			return
		}

		overrideEntries.Each(func(name string, entry any) {
			baseEntries.Set(name, compose.CloneValue(entry))
		})
	})

	return out
}
