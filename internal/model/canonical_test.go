package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"int", 42, "42"},
		{"negative int", int64(-100), "-100"},
		{"bool", true, "true"},
		{"null", nil, "null"},
		{"empty object", map[string]any{}, "{}"},
		{"empty array", []any{}, "[]"},
		{"html not escaped", "<a&b>", `"<a&b>"`},
		{"control escaped", "a\nb\x01", `"a\nb\u0001"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortsNestedKeys(t *testing.T) {
	v := map[string]any{
		"zebra": 1,
		"alpha": map[string]any{"b": 1, "a": 2},
	}

	result, err := MarshalCanonical(v)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":2,"b":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalStructTags(t *testing.T) {
	p := Profile{Name: "Alice", Attributes: map[string]string{"phone": "+1", "city": "Paris"}}

	result, err := MarshalCanonical(p)
	require.NoError(t, err)
	assert.Equal(t, `{"attributes":{"city":"Paris","phone":"+1"},"name":"Alice"}`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to U+00E9.
	result, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(result))
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	v := map[string]any{"b": []any{1, "x"}, "a": "y", "c": map[string]any{"z": true, "y": false}}

	first, err := MarshalCanonical(v)
	require.NoError(t, err)
	for range 20 {
		again, err := MarshalCanonical(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestUnmarshalBlobRoundTrip(t *testing.T) {
	p := Profile{Name: "Bob", Attributes: map[string]string{"k": "v"}}
	data, err := MarshalCanonical(p)
	require.NoError(t, err)

	var got Profile
	require.NoError(t, UnmarshalBlob(data, &got))
	assert.Equal(t, p, got)

	var untouched Profile
	require.NoError(t, UnmarshalBlob(nil, &untouched))
	assert.Equal(t, Profile{}, untouched)
}
