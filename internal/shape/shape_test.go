package shape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"strings", []string{"a", "b"}, `["a","b"]`},
		{"sorted keys", map[string]any{"zebra": 1, "alpha": 2, "beta": 3}, `{"alpha":2,"beta":3,"zebra":1}`},
		{"nested", map[string]any{"z": map[string]any{"b": 1, "a": 2}, "a": []any{"x", false}}, `{"a":["x",false],"z":{"a":2,"b":1}}`},
		{"no html escaping", "a < b && c > d", `"a < b && c > d"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
		{"escaped backslash kept", `a\u2028`, `"a\\u2028"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshal_NFC(t *testing.T) {
	// e followed by a combining acute accent composes to U+00E9
	out, err := Marshal("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"caf\u00e9\"", string(out))
}

func TestMarshal_UTF16KeyOrder(t *testing.T) {
	// U+FF61 sorts before U+1F600 in UTF-8 but after it in UTF-16
	out, err := Marshal(map[string]any{"\U0001F600": 1, "\uFF61": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":1,\"\uFF61\":2}", string(out))
}

func TestMarshal_Rejects(t *testing.T) {
	for name, v := range map[string]any{
		"null":         nil,
		"float":        1.5,
		"nested float": map[string]any{"a": []any{2.5}},
		"struct":       struct{}{},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Marshal(v)
			assert.Error(t, err)
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := map[string]any{"candidate": "Person", "filter": "p.name = :n"}
	b := map[string]any{"filter": "p.name = :n", "candidate": "Person"}
	c := map[string]any{"candidate": "Person", "filter": "p.name = :m"}

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	assert.Len(t, fa, 64)
	assert.Equal(t, fa, MustFingerprint(b), "key order does not matter")
	assert.NotEqual(t, fa, MustFingerprint(c))

	_, err = Fingerprint(map[string]any{"x": 0.5})
	assert.Error(t, err)
	assert.Panics(t, func() { MustFingerprint(nil) })
}
