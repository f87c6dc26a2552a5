// Package profiles lists service profiles and prunes services that are not
// enabled by the active profile set.
package profiles

import (
	"sort"

	"github.com/artpar/stacklens/internal/core/compose"
)

const keyProfiles = "profiles"

// serviceProfiles returns the string profiles declared by a service value.
func serviceProfiles(service any) []string {
	svc, ok := service.(*compose.Mapping)
	if !ok {
		return nil
	}
	raw, _ := svc.Get(keyProfiles)
	return compose.StringList(raw)
}

// List returns every profile declared by any service, deduplicated and sorted.
func List(doc *compose.Document) []string {
	counts := CountByProfile(doc)
	out := make([]string, 0, len(counts))
	for name := range counts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CountByProfile returns how many services declare each profile.
func CountByProfile(doc *compose.Document) map[string]int {
	counts := make(map[string]int)
	compose.Services(doc).Each(func(_ string, service any) {
		seen := make(map[string]bool)
		for _, p := range serviceProfiles(service) {
			if seen[p] {
				continue
			}
			seen[p] = true
			counts[p]++
		}
	})
	return counts
}

// ServiceMatches reports whether a service is enabled. A service without
// profiles always matches; otherwise one of its profiles must be active.
func ServiceMatches(service any, active []string) bool {
	declared := serviceProfiles(service)
	if len(declared) == 0 {
		return true
	}
	for _, p := range declared {
		for _, a := range active {
			if p == a {
				return true
			}
		}
	}
	return false
}

// Filter returns a copy of doc whose services are limited to the ones
// matching active. Other top-level keys pass through unchanged.
func Filter(doc *compose.Document, active []string) *compose.Document {
	if doc == nil {
		return nil
	}
	out := doc.Clone()

	services := compose.Services(out)
	if services == nil {
		return out
	}
	for _, name := range services.Keys() {
		service, _ := services.Get(name)
		if !ServiceMatches(service, active) {
			services.Delete(name)
		}
	}
	return out
}
