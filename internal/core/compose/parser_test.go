package compose

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const minimalValidSpec = `
services:
  app:
    image: nginx:latest
`

const orderedSpec = `
name: shop
services:
  web:
    image: nginx:latest
    ports:
      - "80:80"
  api:
    image: myapp:1.0
    environment:
      DB_HOST: db
      DEBUG: true
      WORKERS: 4
  db:
    image: postgres:15
volumes:
  pgdata:
`

const anchorSpec = `
x-defaults: &defaults
  restart: always
  image: base:1
services:
  web:
    <<: *defaults
    image: nginx:latest
  worker:
    <<: *defaults
`

// =============================================================================
// Input Validation Tests
// =============================================================================

func TestParseDocument_EmptyInput(t *testing.T) {
	_, err := ParseDocument("")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParseDocument_WhitespaceOnly(t *testing.T) {
	_, err := ParseDocument("   \n\t  ")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParseDocument_InvalidYAML(t *testing.T) {
	_, err := ParseDocument("invalid: yaml: content: [")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParseDocument_ScalarRoot(t *testing.T) {
	_, err := ParseDocument("just a string")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotMapping)
}

func TestParseDocument_SequenceRoot(t *testing.T) {
	_, err := ParseDocument("- a\n- b\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotMapping)
	assert.Contains(t, err.Error(), "a sequence")
}

// =============================================================================
// Decoding Tests
// =============================================================================

func TestParseDocument_MinimalValid(t *testing.T) {
	doc, err := ParseDocument(minimalValidSpec)
	require.NoError(t, err)

	services := Services(doc)
	require.NotNil(t, services)
	assert.Equal(t, []string{"app"}, services.Keys())

	image, ok := services.Mapping("app").String("image")
	assert.True(t, ok)
	assert.Equal(t, "nginx:latest", image)
}

func TestParseDocument_PreservesKeyOrder(t *testing.T) {
	doc, err := ParseDocument(orderedSpec)
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "services", "volumes"}, doc.Keys())
	assert.Equal(t, []string{"web", "api", "db"}, Services(doc).Keys())
}

func TestParseDocument_ScalarTypes(t *testing.T) {
	doc, err := ParseDocument(orderedSpec)
	require.NoError(t, err)

	env := Services(doc).Mapping("api").Mapping("environment")
	require.NotNil(t, env)

	v, _ := env.Get("DEBUG")
	assert.Equal(t, true, v)
	v, _ = env.Get("WORKERS")
	assert.Equal(t, 4, v)
	v, _ = env.Get("DB_HOST")
	assert.Equal(t, "db", v)
}

func TestParseDocument_NullValue(t *testing.T) {
	doc, err := ParseDocument(orderedSpec)
	require.NoError(t, err)

	v, ok := doc.Mapping("volumes").Get("pgdata")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestParseDocument_PortsStayStrings(t *testing.T) {
	doc, err := ParseDocument(orderedSpec)
	require.NoError(t, err)

	ports, _ := Services(doc).Mapping("web").Get("ports")
	assert.Equal(t, []any{"80:80"}, ports)
}

func TestParseDocument_MergeKeys(t *testing.T) {
	doc, err := ParseDocument(anchorSpec)
	require.NoError(t, err)

	web := Services(doc).Mapping("web")
	image, _ := web.String("image")
	restart, _ := web.String("restart")
	assert.Equal(t, "nginx:latest", image, "explicit key wins over merged key")
	assert.Equal(t, "always", restart)

	worker := Services(doc).Mapping("worker")
	image, _ = worker.String("image")
	assert.Equal(t, "base:1", image)
}

func TestParseDocument_MergedValuesAreIndependent(t *testing.T) {
	doc, err := ParseDocument(`
x-env: &env
  environment:
    A: "1"
services:
  one:
    <<: *env
  two:
    <<: *env
`)
	require.NoError(t, err)

	one := Services(doc).Mapping("one").Mapping("environment")
	two := Services(doc).Mapping("two").Mapping("environment")
	one.Set("A", "changed")

	v, _ := two.Get("A")
	assert.Equal(t, "1", v)
}

func TestParseDocument_InvalidMergeKey(t *testing.T) {
	_, err := ParseDocument(`
services:
  web:
    <<: not-a-mapping
`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParseDocument_SelfReferencingAnchor(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"alias inside its anchor", "services: &a\n  web: *a\n"},
		{"merge of its own anchor", "services:\n  web: &w\n    image: nginx\n    <<: *w\n"},
		{"sequence containing itself", "x-list: &l [1, *l]\nservices: {}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseDocument(tt.text)
			require.Error(t, err)
			assert.Nil(t, doc)
			assert.ErrorIs(t, err, ErrInvalidYAML)
		})
	}
}

// aliasBomb builds a document where each level aliases the previous one
// nine times, expanding to 9^levels scalars.
func aliasBomb(levels int) string {
	var b strings.Builder
	b.WriteString("x-l0: &l0 [lol, lol, lol, lol, lol, lol, lol, lol, lol]\n")
	for i := 1; i <= levels; i++ {
		prev := fmt.Sprintf("*l%d", i-1)
		refs := strings.TrimSuffix(strings.Repeat(prev+", ", 9), ", ")
		fmt.Fprintf(&b, "x-l%d: &l%d [%s]\n", i, i, refs)
	}
	b.WriteString("services: {}\n")
	return b.String()
}

func TestParseDocument_AliasExpansionIsBounded(t *testing.T) {
	_, err := ParseDocument(aliasBomb(9))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Message, "too many nodes")
}

func TestParseDocument_RepeatedAliasesWithinBudget(t *testing.T) {
	doc, err := ParseDocument(aliasBomb(2))
	require.NoError(t, err)

	top, ok := doc.Get("x-l2")
	require.True(t, ok)
	assert.Len(t, top, 9)
}

func TestParseDocument_NonFiniteFloatsStayText(t *testing.T) {
	doc, err := ParseDocument(`
x-ratio: .inf
x-floor: -.Inf
x-missing: .nan
x-scale: 1.5
services: {}
`)
	require.NoError(t, err)

	for key, want := range map[string]any{
		"x-ratio":   ".inf",
		"x-floor":   "-.Inf",
		"x-missing": ".nan",
		"x-scale":   1.5,
	} {
		v, _ := doc.Get(key)
		assert.Equal(t, want, v, key)
	}

	_, err = MarshalDocumentJSON(doc)
	assert.NoError(t, err)
}

// =============================================================================
// Encoding Tests
// =============================================================================

func TestMarshalDocumentYAML_RoundTripOrder(t *testing.T) {
	doc, err := ParseDocument(orderedSpec)
	require.NoError(t, err)

	out, err := MarshalDocumentYAML(doc)
	require.NoError(t, err)

	text := string(out)
	assert.Less(t, strings.Index(text, "web:"), strings.Index(text, "api:"))
	assert.Less(t, strings.Index(text, "api:"), strings.Index(text, "db:"))

	again, err := ParseDocument(text)
	require.NoError(t, err)
	assert.Equal(t, doc.ToMap(), again.ToMap())
}

func TestMarshalDocumentJSON_PreservesOrder(t *testing.T) {
	doc := MappingOf("b", 1, "a", MappingOf("z", "x", "y", []any{"1", 2}))

	out, err := MarshalDocumentJSON(doc)
	require.NoError(t, err)

	compact, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":{"z":"x","y":["1",2]}}`, string(compact))
	assert.Contains(t, string(out), "\n")
}

func TestStringList(t *testing.T) {
	assert.Equal(t, []string{"dev"}, StringList("dev"))
	assert.Equal(t, []string{"a", "b"}, StringList([]any{"a", 3, "b"}))
	assert.Nil(t, StringList(42))
}
