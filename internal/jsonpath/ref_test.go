package jsonpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetRefReplacesWholeDocument(t *testing.T) {
	out, err := SetRef(map[string]any{"old": true}, "$", "replacement")
	require.NoError(t, err)
	assert.Equal(t, "replacement", out)
}

func TestSetRefWritesNestedField(t *testing.T) {
	in := map[string]any{"order": map[string]any{"id": "ord-1"}}

	out, err := SetRef(in, "$.order.stock", 3.0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"order": map[string]any{"id": "ord-1", "stock": 3.0},
	}, out)

	// The input document is untouched.
	assert.Equal(t, map[string]any{"order": map[string]any{"id": "ord-1"}}, in)
}

func TestSetRefCreatesIntermediateObjects(t *testing.T) {
	out, err := SetRef(map[string]any{}, "$.a.b.c", "deep")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a": map[string]any{"b": map[string]any{"c": "deep"}},
	}, out)
}

func TestSetRefOverwritesExistingValue(t *testing.T) {
	out, err := SetRef(map[string]any{"n": 1.0}, "$.n", 2.0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 2.0}, out)
}

func TestSetRefOnNilDocument(t *testing.T) {
	out, err := SetRef(nil, "$.result", "ok")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "ok"}, out)
}

func TestSetRefRejectsNonObjectDocument(t *testing.T) {
	_, err := SetRef([]any{1.0, 2.0}, "$.result", "ok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-object document")
}

func TestSetRefRejectsMalformedPaths(t *testing.T) {
	for _, ref := range []string{"result", "$result", "$.", "$.a..b", "$.items[0]"} {
		_, err := SetRef(map[string]any{}, ref, "x")
		assert.Error(t, err, "ref %q should be rejected", ref)
	}
}

func TestCloneIsDeep(t *testing.T) {
	in := map[string]any{
		"list": []any{map[string]any{"k": "v"}},
		"obj":  map[string]any{"n": 1.0},
	}
	out := Clone(in).(map[string]any)

	out["list"].([]any)[0].(map[string]any)["k"] = "changed"
	out["obj"].(map[string]any)["n"] = 99.0

	assert.Equal(t, "v", in["list"].([]any)[0].(map[string]any)["k"])
	assert.Equal(t, 1.0, in["obj"].(map[string]any)["n"])
}
