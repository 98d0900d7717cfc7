package canonical

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"null", nil, "null"},
		{"string", "hello", `"hello"`},
		{"number", json.Number("42"), "42"},
		{"int", 7, "7"},
		{"int64", int64(-100), "-100"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"no html escape", "<a & b>", `"<a & b>"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalSortsKeys(t *testing.T) {
	got, err := Marshal(map[string]any{
		"zebra": 1,
		"alpha": map[string]any{"b": 1, "a": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":2,"b":1},"zebra":1}`, string(got))
}

func TestFromJSONPreservesNumbers(t *testing.T) {
	got, err := FromJSON([]byte(`{ "big": 9007199254740993, "f": 1.50 }`))
	require.NoError(t, err)
	assert.Equal(t, `{"big":9007199254740993,"f":1.50}`, string(got))
}

func TestFromJSONInvalid(t *testing.T) {
	_, err := FromJSON([]byte(`{`))
	assert.Error(t, err)
}

func TestMarshalRawMessage(t *testing.T) {
	got, err := Marshal(map[string]any{"payload": json.RawMessage(`{"b":1,"a":"x"}`)})
	require.NoError(t, err)
	assert.Equal(t, `{"payload":{"a":"x","b":1}}`, string(got))
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "\u00e9", NormalizeKey("e\u0301"))
	assert.Equal(t, "task-1", NormalizeKey("task-1"))
}

func TestMarshalUnsupported(t *testing.T) {
	_, err := Marshal(struct{}{})
	assert.Error(t, err)
}
