// Package extends resolves service inheritance declared with the extends
// field. Resolution is pure: the input document is never modified.
package extends

import (
	"fmt"

	"github.com/artpar/stacklens/internal/core/compose"
)

const (
	keyExtends   = "extends"
	keyDependsOn = "depends_on"
)

// Reference is the parsed value of an extends field.
type Reference struct {
	Service string
	File    string
}

// ParseReference reads the string form or the {service, file} form.
func ParseReference(v any) (Reference, error) {
	switch t := v.(type) {
	case string:
		if t != "" {
			return Reference{Service: t}, nil
		}
	case *compose.Mapping:
		service, _ := t.String("service")
		if service != "" {
			file, _ := t.String("file")
			return Reference{Service: service, File: file}, nil
		}
	}
	return Reference{}, compose.ErrInvalidExtends
}

// Result is the outcome of resolving every service of a document.
type Result struct {
	Document *compose.Document
	// Warnings lists non-fatal notices, such as an ignored extends file.
	Warnings []string
}

// =============================================================================
// Resolution
// =============================================================================

// ResolveService resolves the extends chain of one service. ancestry holds the
// names already on the chain, starting with name itself.
func ResolveService(name string, services *compose.Mapping, ancestry []string) (*compose.Mapping, []string, error) {
	svc := serviceMapping(services, name)

	raw, ok := svc.Get(keyExtends)
	if !ok {
		return svc, nil, nil
	}

	ref, err := ParseReference(raw)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	if ref.File != "" {
		warnings = append(warnings, fmt.Sprintf(
			"service %q extends %q from file %q; the file is ignored and %q is looked up in this document",
			name, ref.Service, ref.File, ref.Service))
	}

	for _, seen := range ancestry {
		if seen == ref.Service {
			chain := append(append([]string(nil), ancestry...), ref.Service)
			return nil, warnings, compose.NewCycleError("extends", chain, compose.ErrCircularExtends)
		}
	}

	if !services.Has(ref.Service) {
		return nil, warnings, &compose.ResolveError{
			Stage:   "extends",
			Message: fmt.Sprintf("service %q extends %q which does not exist", name, ref.Service),
			Err:     compose.ErrExtendsBaseNotFound,
		}
	}

	base, baseWarnings, err := ResolveService(ref.Service, services, append(ancestry[:len(ancestry):len(ancestry)], ref.Service))
	warnings = append(warnings, baseWarnings...)
	if err != nil {
		return nil, warnings, err
	}

	own := svc.Clone()
	own.Delete(keyExtends)
	return MergeService(base, own), warnings, nil
}

// Resolve resolves extends for every service and normalizes depends_on to its
// long form.
//
// On failure the error names the failing service and the returned result
// holds the services resolved before it, with the rest left untouched.
func Resolve(doc *compose.Document) (*Result, error) {
	result := &Result{Document: doc}

	services := compose.Services(doc)
	if services == nil {
		return result, nil
	}

	out := doc.Clone()
	resolved := out.Mapping(compose.KeyServices)
	seenWarnings := make(map[string]bool)

	for _, name := range services.Keys() {
		if services.Mapping(name) == nil {
			continue
		}

		svc, warnings, err := ResolveService(name, services, []string{name})
		for _, w := range warnings {
			if !seenWarnings[w] {
				seenWarnings[w] = true
				result.Warnings = append(result.Warnings, w)
			}
		}
		if err != nil {
			result.Document = out
			return result, fmt.Errorf("service %q: %w", name, err)
		}

		svc = svc.Clone()
		if deps, ok := svc.Get(keyDependsOn); ok {
			svc.Set(keyDependsOn, NormalizeDependsOn(deps).Clone())
		}
		resolved.Set(name, svc)
	}

	result.Document = out
	return result, nil
}

// serviceMapping returns the named service, treating a null service as empty.
func serviceMapping(services *compose.Mapping, name string) *compose.Mapping {
	if svc := services.Mapping(name); svc != nil {
		return svc
	}
	return compose.NewMapping()
}
