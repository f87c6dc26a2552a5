// Package compose provides the dynamic document model used by the
// resolution pipeline.
//
// A Compose document is open-ended: almost any field may hold a string, a
// list or a nested mapping. Rather than modelling every field as a struct,
// the pipeline works on a tree of dynamic values rooted at an ordered
// Mapping. All functions are pure (no I/O, no side effects).
//
// # Functions
//
//   - ParseDocument: Decode YAML text into a Document
//   - MarshalDocumentYAML / MarshalDocumentJSON: Render a Document
//   - Mapping.Clone / CloneValue: Deep copies so stages never share state
//
// # Usage
//
//	doc, err := compose.ParseDocument(text)
//	if err != nil {
//	    return err
//	}
//	web := compose.Services(doc).Mapping("web")
package compose
