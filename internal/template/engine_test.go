package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderJSONPath(t *testing.T) {
	e := NewEngine()
	input := map[string]any{"name": "alice", "age": int64(30)}

	out, err := e.Render("$.name", input)
	require.NoError(t, err)
	assert.Equal(t, "alice", out)
}

func TestRenderPlainScalarPassesThrough(t *testing.T) {
	e := NewEngine()
	out, err := e.Render("just text", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "just text", out)
}

func TestRenderMappingFieldWise(t *testing.T) {
	e := NewEngine()
	input := map[string]any{"id": "abc123"}
	tmpl := map[string]any{
		"documentId": "$.id",
		"literal":    "unchanged",
	}

	out, err := e.Render(tmpl, input)
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "abc123", m["documentId"])
	assert.Equal(t, "unchanged", m["literal"])
}

func TestRenderFunctionCall(t *testing.T) {
	e := NewEngine()
	input := map[string]any{"first": "Jane", "last": "Doe"}

	out, err := e.Render(`concat($.first, " ", $.last)`, input)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", out)
}

func TestRenderNestedFunctionCall(t *testing.T) {
	e := NewEngine()
	out, err := e.Render(`upper(concat("a", "b"))`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "AB", out)
}

func TestRenderFunctionNotFound(t *testing.T) {
	e := NewEngine()
	_, err := e.Render(`doesNotExist(1, 2)`, map[string]any{})
	require.Error(t, err)
	tmplErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrKindFunctionNotFound, tmplErr.Kind)
}

func TestRenderParseErrorReportsPosition(t *testing.T) {
	e := NewEngine()
	_, err := e.Render(`concat(1, )`, map[string]any{})
	require.Error(t, err)
	tmplErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrKindParse, tmplErr.Kind)
	// the missing argument is at the ')' (index 10)
	assert.Equal(t, 10, tmplErr.Pos)
}

func TestExtractSequenceIndex(t *testing.T) {
	e := NewEngine()
	input := map[string]any{"items": []any{"x", "y", "z"}}
	out, err := e.Extract(input, "$.items[1]")
	require.NoError(t, err)
	assert.Equal(t, "y", out)
}

func TestInjectOverwritesExistingValue(t *testing.T) {
	e := NewEngine()
	input := map[string]any{"result": map[string]any{"status": "pending"}}
	out, err := e.Inject(input, "$.result.status", "done")
	require.NoError(t, err)
	m := out.(map[string]any)
	result := m["result"].(map[string]any)
	assert.Equal(t, "done", result["status"])
}

// TestInjectExtractRoundTrip checks the universal invariant from spec.md
// §8: for a path selecting a single scalar position,
// extract(inject(v, p, x), p) == x.
func TestInjectExtractRoundTrip(t *testing.T) {
	e := NewEngine()
	input := map[string]any{"a": map[string]any{"b": float64(1)}}

	injected, err := e.Inject(input, "$.a.b", "replaced")
	require.NoError(t, err)

	extracted, err := e.Extract(injected, "$.a.b")
	require.NoError(t, err)
	assert.Equal(t, "replaced", extracted)
}
