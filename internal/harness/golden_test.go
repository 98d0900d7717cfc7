package harness

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario in testdata/scenarios and compares its
// trace with testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestMarshalTrace_Canonical(t *testing.T) {
	r := NewResult()
	r.AddEvent(EventConnectivity, map[string]any{"online": true})
	r.AddEvent(EventCall, map[string]any{"path": "/api/tasks", "method": "GET"})
	r.Final = Final{Pending: 2, DeadLetters: 1}

	got, err := MarshalTrace("demo", r)
	require.NoError(t, err)

	want := `{"final":{"dead_letters":1,"pending":2},"scenario_name":"demo","trace":[` +
		`{"online":true,"seq":1,"type":"connectivity"},` +
		`{"method":"GET","path":"/api/tasks","seq":2,"type":"call"}]}`
	assert.Equal(t, want, string(got))
}

func TestMarshalTrace_EmptyTrace(t *testing.T) {
	got, err := MarshalTrace("empty", NewResult())
	require.NoError(t, err)
	assert.Equal(t, `{"final":{"dead_letters":0,"pending":0},"scenario_name":"empty","trace":[]}`, string(got))
}

func TestMarshalTrace_BodyIsCanonicalized(t *testing.T) {
	r := NewResult()
	r.AddEvent(EventCall, map[string]any{
		"method": "POST",
		"path":   "/api/tasks",
		"body":   json.RawMessage(`{ "b": 1, "a": "x" }`),
	})

	got, err := MarshalTrace("raw", r)
	require.NoError(t, err)
	assert.Contains(t, string(got), `"body":{"a":"x","b":1}`)
}
