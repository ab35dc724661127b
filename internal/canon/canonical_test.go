package canon

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	got, err := Marshal(map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": true, "y": nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":{"y":null,"z":true}}`, string(got))
}

func TestMarshalStructTags(t *testing.T) {
	type card struct {
		OrderID string   `json:"order_id"`
		Delta   *float64 `json:"eta_delta_hours"`
		Refs    []string `json:"refs,omitempty"`
	}
	delta := 4.0
	got, err := Marshal(card{OrderID: "PO-1", Delta: &delta})
	require.NoError(t, err)
	assert.Equal(t, `{"eta_delta_hours":4,"order_id":"PO-1"}`, string(got))

	got, err = Marshal(card{OrderID: "PO-1"})
	require.NoError(t, err)
	assert.Equal(t, `{"eta_delta_hours":null,"order_id":"PO-1"}`, string(got))
}

func TestMarshalUTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes to surrogates 0xD83D 0xDE00, which sort before U+FB01
	// in UTF-16 but after it in UTF-8.
	got, err := Marshal(map[string]any{"ﬁ": 1, "\U0001F600": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"ﬁ\":1}", string(got))
}

func TestMarshalStrings(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"html not escaped", "<a&b>", `"<a&b>"`},
		{"line separator literal", "x\u2028y", "\"x\u2028y\""},
		{"control chars", "a\nb\u0001", `"a\nb\u0001"`},
		{"quote and backslash", `q"\`, `"q\"\\"`},
		{"nfc", "e\u0301", "\"\u00e9\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{4, "4"},
		{-2.5, "-2.5"},
		{0.857, "0.857"},
		{1e21, "1e+21"},
		{1e-7, "1e-7"},
		{123456789012, "123456789012"},
	}
	for _, tt := range tests {
		got, err := FormatFloat(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := FormatFloat(math.NaN())
	assert.Error(t, err)
	_, err = FormatFloat(math.Inf(1))
	assert.Error(t, err)
}

func TestMarshalDeterministic(t *testing.T) {
	v := map[string]any{"k1": []any{1, "two", 3.5}, "k0": map[string]any{"n": 1}}
	first, err := Marshal(v)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCanonicalizeRejectsTrailingData(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestCanonicalizeIdempotent(t *testing.T) {
	once, err := Canonicalize([]byte(`{ "b" : [1, 2.50, 1e2], "a" : "x" }`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":[1,2.5,100]}`, string(once))

	twice, err := Canonicalize(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}
