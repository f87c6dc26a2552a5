package extends

import (
	"strings"

	"github.com/artpar/stacklens/internal/core/compose"
)

// =============================================================================
// Field Merge Strategies
// =============================================================================

// Strategy selects how a service field is merged onto its base.
type Strategy int

const (
	// Override replaces the base value entirely.
	Override Strategy = iota
	// Concatenate appends override list items after the base items.
	Concatenate
	// DeepMerge merges mappings key by key.
	DeepMerge
)

var concatFields = map[string]bool{
	"ports":          true,
	"expose":         true,
	"external_links": true,
	"dns":            true,
	"dns_search":     true,
	"tmpfs":          true,
	"volumes":        true,
}

var deepMergeFields = map[string]bool{
	"environment": true,
	"labels":      true,
	"build":       true,
	"deploy":      true,
	"logging":     true,
	"depends_on":  true,
}

// StrategyFor returns the merge strategy of a service field.
func StrategyFor(field string) Strategy {
	switch {
	case concatFields[field]:
		return Concatenate
	case deepMergeFields[field]:
		return DeepMerge
	default:
		return Override
	}
}

// DefaultCondition is the condition given to short-form depends_on entries.
const DefaultCondition = "service_started"

// NormalizeDependsOn converts depends_on to its long form. A list of names
// becomes a mapping of name to {condition: service_started}; a mapping is
// returned unchanged; anything else yields an empty mapping.
func NormalizeDependsOn(value any) *compose.Mapping {
	switch t := value.(type) {
	case *compose.Mapping:
		return t
	case []any:
		out := compose.NewMapping()
		for _, item := range t {
			name, ok := item.(string)
			if !ok {
				continue
			}
			out.Set(name, compose.MappingOf("condition", DefaultCondition))
		}
		return out
	case string:
		return compose.MappingOf(t, compose.MappingOf("condition", DefaultCondition))
	default:
		return compose.NewMapping()
	}
}

// MergeService merges override onto base using the per-field strategy table.
// Fields present only in override are added. Neither input is modified.
func MergeService(base, override *compose.Mapping) *compose.Mapping {
	out := base.Clone()
	if out == nil {
		out = compose.NewMapping()
	}

	override.Each(func(field string, value any) {
		existing, ok := out.Get(field)
		if !ok {
			out.Set(field, compose.CloneValue(value))
			return
		}
		out.Set(field, mergeField(field, existing, value))
	})
	return out
}

func mergeField(field string, base, override any) any {
	switch StrategyFor(field) {
	case Concatenate:
		return concat(base, override)

	case DeepMerge:
		switch field {
		case "depends_on":
			return mergeMappings(NormalizeDependsOn(base), NormalizeDependsOn(override))
		case "environment", "labels":
			return mergePairs(base, override)
		}
		baseMap, ok1 := base.(*compose.Mapping)
		overrideMap, ok2 := override.(*compose.Mapping)
		if ok1 && ok2 {
			return mergeMappings(baseMap, overrideMap)
		}
	}
	return compose.CloneValue(override)
}

// concat appends override items after base items. Non-list values fall
// back to override.
func concat(base, override any) any {
	baseList, ok1 := base.([]any)
	overrideList, ok2 := override.([]any)
	if !ok1 || !ok2 {
		return compose.CloneValue(override)
	}

	out := make([]any, 0, len(baseList)+len(overrideList))
	for _, item := range baseList {
		out = append(out, compose.CloneValue(item))
	}
	for _, item := range overrideList {
		out = append(out, compose.CloneValue(item))
	}
	return out
}

// mergeMappings merges nested mappings. Lists are concatenated only for keys
// in the concatenate table; mappings recurse; everything else is replaced.
func mergeMappings(base, override *compose.Mapping) *compose.Mapping {
	out := base.Clone()
	if out == nil {
		out = compose.NewMapping()
	}

	override.Each(func(key string, value any) {
		existing, ok := out.Get(key)
		if !ok {
			out.Set(key, compose.CloneValue(value))
			return
		}

		if concatFields[key] {
			out.Set(key, concat(existing, value))
			return
		}

		existingMap, ok1 := existing.(*compose.Mapping)
		valueMap, ok2 := value.(*compose.Mapping)
		if ok1 && ok2 {
			out.Set(key, mergeMappings(existingMap, valueMap))
			return
		}
		out.Set(key, compose.CloneValue(value))
	})
	return out
}

// =============================================================================
// KEY=VALUE Lists
// =============================================================================

// mergePairs merges environment or labels. Either side may be a mapping or a
// KEY=VALUE list. Two lists merge by key and stay a list; otherwise the list
// side is converted to a mapping first.
func mergePairs(base, override any) any {
	baseList, baseIsList := base.([]any)
	overrideList, overrideIsList := override.([]any)

	if baseIsList && overrideIsList {
		return mergePairLists(baseList, overrideList)
	}

	baseMap := pairsToMapping(base)
	overrideMap := pairsToMapping(override)
	if baseMap == nil || overrideMap == nil {
		return compose.CloneValue(override)
	}
	return mergeMappings(baseMap, overrideMap)
}

func mergePairLists(base, override []any) []any {
	out := make([]any, 0, len(base)+len(override))
	index := make(map[string]int)

	add := func(item any) {
		s, ok := item.(string)
		if !ok {
			out = append(out, compose.CloneValue(item))
			return
		}
		key, _, _ := strings.Cut(s, "=")
		if i, seen := index[key]; seen {
			out[i] = s
			return
		}
		index[key] = len(out)
		out = append(out, s)
	}

	for _, item := range base {
		add(item)
	}
	for _, item := range override {
		add(item)
	}
	return out
}

// pairsToMapping returns v as a mapping, converting a KEY=VALUE list. A list
// item without "=" maps to nil. Values that are neither yield nil.
func pairsToMapping(v any) *compose.Mapping {
	switch t := v.(type) {
	case *compose.Mapping:
		return t
	case []any:
		out := compose.NewMapping()
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if key, value, found := strings.Cut(s, "="); found {
				out.Set(key, value)
			} else {
				out.Set(key, nil)
			}
		}
		return out
	case nil:
		return compose.NewMapping()
	}
	return nil
}
