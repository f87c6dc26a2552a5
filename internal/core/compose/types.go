package compose

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Top-level Keys
// =============================================================================

const (
	KeyName     = "name"
	KeyServices = "services"
	KeyNetworks = "networks"
	KeyVolumes  = "volumes"
	KeySecrets  = "secrets"
	KeyConfigs  = "configs"
	KeyInclude  = "include"
)

// CollectionKeys are the top-level keys whose entries are named definitions.
var CollectionKeys = []string{KeyServices, KeyNetworks, KeyVolumes, KeySecrets, KeyConfigs}

// IsCollectionKey reports whether key is one of CollectionKeys.
func IsCollectionKey(key string) bool {
	for _, k := range CollectionKeys {
		if k == key {
			return true
		}
	}
	return false
}

// =============================================================================
// Mapping - Ordered Dynamic Value
// =============================================================================

// Mapping is an insertion-ordered map from string keys to dynamic values.
//
// Values held by a Mapping are one of: nil, string, bool, int, float64,
// []any or *Mapping. Stages may also place leaf records (such as
// interpolation metadata) into a tree; those are treated as opaque scalars.
type Mapping struct {
	keys   []string
	values map[string]any
}

// Document is one fully or partially resolved specification tree.
type Document = Mapping

// NewMapping creates an empty Mapping.
func NewMapping() *Mapping {
	return &Mapping{values: make(map[string]any)}
}

// MappingOf builds a Mapping from alternating key/value arguments.
// It is intended for tests and literals; odd trailing arguments are ignored.
func MappingOf(kv ...any) *Mapping {
	m := NewMapping()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		m.Set(key, kv[i+1])
	}
	return m
}

// Len returns the number of keys.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *Mapping) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Has reports whether key is present.
func (m *Mapping) Has(key string) bool {
	if m == nil {
		return false
	}
	_, ok := m.values[key]
	return ok
}

// Get returns the value for key.
func (m *Mapping) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Set stores value under key. A new key is appended; an existing key keeps
// its position.
func (m *Mapping) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Delete removes key if present.
func (m *Mapping) Delete(key string) {
	if m == nil {
		return
	}
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
}

// Mapping returns the nested mapping stored under key, or nil.
func (m *Mapping) Mapping(key string) *Mapping {
	v, _ := m.Get(key)
	child, _ := v.(*Mapping)
	return child
}

// String returns the string stored under key.
func (m *Mapping) String(key string) (string, bool) {
	v, _ := m.Get(key)
	s, ok := v.(string)
	return s, ok
}

// Each calls fn for every entry in order.
func (m *Mapping) Each(fn func(key string, value any)) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		fn(k, m.values[k])
	}
}

// Clone returns a deep copy of m.
func (m *Mapping) Clone() *Mapping {
	if m == nil {
		return nil
	}
	out := &Mapping{
		keys:   make([]string, len(m.keys)),
		values: make(map[string]any, len(m.values)),
	}
	copy(out.keys, m.keys)
	for k, v := range m.values {
		out.values[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a dynamic value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case *Mapping:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}

// ToMap converts m into plain Go maps and slices, losing key order.
func (m *Mapping) ToMap() map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m.keys))
	for _, k := range m.keys {
		out[k] = plainValue(m.values[k])
	}
	return out
}

func plainValue(v any) any {
	switch t := v.(type) {
	case *Mapping:
		return t.ToMap()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plainValue(item)
		}
		return out
	default:
		return v
	}
}

// =============================================================================
// Serialization
// =============================================================================

// MarshalJSON encodes m as a JSON object preserving key order.
func (m *Mapping) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML encodes m as a YAML mapping node preserving key order.
func (m *Mapping) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if m == nil {
		return node, nil
	}
	for _, k := range m.keys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
		valueNode := &yaml.Node{}
		if err := valueNode.Encode(m.values[k]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, keyNode, valueNode)
	}
	return node, nil
}

// UnmarshalYAML decodes a YAML mapping node into m.
func (m *Mapping) UnmarshalYAML(node *yaml.Node) error {
	v, err := decodeNode(node)
	if err != nil {
		return err
	}
	decoded, ok := v.(*Mapping)
	if !ok {
		return ErrNotMapping
	}
	*m = *decoded
	return nil
}
