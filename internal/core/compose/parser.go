package compose

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parser Functions
// =============================================================================

// ParseDocument parses Compose YAML text into an ordered Document.
// This is a pure function - no I/O, no side effects.
//
// The root must be a mapping. Anchors, aliases and merge keys (<<) are
// expanded while decoding; explicit keys win over merged ones. An alias
// that refers to its own anchor, or a document whose aliases expand far
// beyond the size of the input, is rejected with ErrInvalidYAML.
func ParseDocument(text string) (*Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		return nil, NewParseError("", err.Error(), ErrInvalidYAML)
	}

	value, err := newDecoder(nodeBudget(len(text))).decode(&root)
	if err != nil {
		return nil, err
	}

	doc, ok := value.(*Mapping)
	if !ok {
		return nil, NewParseError("", fmt.Sprintf("expected a mapping at the document root, got %s", describe(value)), ErrNotMapping)
	}
	return doc, nil
}

// =============================================================================
// Node Decoding
// =============================================================================

const (
	// minNodeBudget is the node allowance for small inputs.
	minNodeBudget = 10_000

	// nodesPerInputByte bounds alias expansion relative to input size.
	nodesPerInputByte = 16

	// maxNodeBudget applies when the input size is unknown.
	maxNodeBudget = 1_000_000
)

func nodeBudget(size int) int {
	budget := size * nodesPerInputByte
	if budget < minNodeBudget {
		return minNodeBudget
	}
	if budget > maxNodeBudget {
		return maxNodeBudget
	}
	return budget
}

// decoder converts a yaml.Node tree into the dynamic value model.
// expanding holds the anchors whose aliases are being decoded; budget is the
// number of nodes still allowed, counting every alias expansion.
type decoder struct {
	expanding map[*yaml.Node]bool
	budget    int
}

func newDecoder(budget int) *decoder {
	return &decoder{expanding: make(map[*yaml.Node]bool), budget: budget}
}

// decodeNode decodes a node that did not come from ParseDocument.
func decodeNode(node *yaml.Node) (any, error) {
	return newDecoder(maxNodeBudget).decode(node)
}

func (d *decoder) decode(node *yaml.Node) (any, error) {
	d.budget--
	if d.budget < 0 {
		return nil, NewParseError("", "document expands to too many nodes through aliases", ErrInvalidYAML)
	}

	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return d.decode(node.Content[0])

	case yaml.AliasNode:
		if node.Alias == nil {
			return nil, nil
		}
		if d.expanding[node.Alias] {
			return nil, NewParseError("", fmt.Sprintf("anchor %q refers to itself", node.Value), ErrInvalidYAML)
		}
		d.expanding[node.Alias] = true
		defer delete(d.expanding, node.Alias)
		return d.decode(node.Alias)

	case yaml.SequenceNode:
		out := make([]any, 0, len(node.Content))
		for _, item := range node.Content {
			v, err := d.decode(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case yaml.MappingNode:
		return d.decodeMapping(node)

	case yaml.ScalarNode:
		return decodeScalar(node), nil
	}
	return nil, nil
}

// decodeMapping decodes a mapping node, applying merge keys before explicit
// entries so explicit entries take precedence.
func (d *decoder) decodeMapping(node *yaml.Node) (*Mapping, error) {
	out := NewMapping()
	explicit := NewMapping()

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valueNode := node.Content[i+1]

		if isMergeKey(keyNode) {
			if err := d.applyMerge(out, valueNode); err != nil {
				return nil, err
			}
			continue
		}

		v, err := d.decode(valueNode)
		if err != nil {
			return nil, err
		}
		explicit.Set(keyNode.Value, v)
	}

	explicit.Each(func(key string, value any) {
		out.Set(key, value)
	})
	return out, nil
}

func isMergeKey(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.ShortTag() == "!!merge"
}

// applyMerge copies entries of the merged mapping (or each mapping of a merged
// sequence) into dst without overwriting keys already merged earlier.
func (d *decoder) applyMerge(dst *Mapping, valueNode *yaml.Node) error {
	v, err := d.decode(valueNode)
	if err != nil {
		return err
	}

	var sources []*Mapping
	switch t := v.(type) {
	case *Mapping:
		sources = append(sources, t)
	case []any:
		for _, item := range t {
			m, ok := item.(*Mapping)
			if !ok {
				return NewParseError("<<", "merge key sequence must contain mappings", ErrInvalidYAML)
			}
			sources = append(sources, m)
		}
	default:
		return NewParseError("<<", "merge key must reference a mapping", ErrInvalidYAML)
	}

	for _, src := range sources {
		src.Each(func(key string, value any) {
			if !dst.Has(key) {
				dst.Set(key, CloneValue(value))
			}
		})
	}
	return nil
}

// decodeScalar resolves a scalar to string, bool, int, float64 or nil.
// Infinity and NaN stay as their source text since JSON cannot carry them.
func decodeScalar(node *yaml.Node) any {
	switch node.ShortTag() {
	case "!!str", "!!timestamp", "!!binary":
		return node.Value
	case "!!null":
		return nil
	}

	var v any
	if err := node.Decode(&v); err != nil {
		return node.Value
	}
	if f, ok := v.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
		return node.Value
	}
	return v
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "an empty document"
	case []any:
		return "a sequence"
	case string:
		return "a string"
	default:
		return fmt.Sprintf("a %T", v)
	}
}

// =============================================================================
// Encoding Functions
// =============================================================================

// MarshalDocumentYAML renders a document as YAML with two-space indentation.
func MarshalDocumentYAML(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return buf.Bytes(), nil
}

// MarshalDocumentJSON renders a document as indented JSON.
func MarshalDocumentJSON(doc *Document) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return buf.Bytes(), nil
}

// =============================================================================
// Accessors
// =============================================================================

// Services returns the services mapping of doc, or nil when absent or not a mapping.
func Services(doc *Document) *Mapping {
	return doc.Mapping(KeyServices)
}

// StringList returns the string items of a value that is either a single
// string or a list; non-string list items are skipped.
func StringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
