package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, content string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	return s
}

func TestRun_OfflineCreateReplay(t *testing.T) {
	scenario := mustParse(t, `
name: offline_create
description: queued create is replayed
steps:
  - submit: {kind: create, endpoint: /api/tasks, payload: {title: "Q1 plan"}, at: 100}
  - online: true
  - replay: true
assertions:
  - type: call_count
    call: POST /api/tasks
    count: 1
  - type: pending
    count: 0
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"POST /api/tasks"}, result.Calls())
	assert.Equal(t, Final{Pending: 0, DeadLetters: 0}, result.Final)

	require.Len(t, result.Trace, 4)
	assert.Equal(t, EventSubmit, result.Trace[0].Type)
	assert.Equal(t, true, result.Trace[0].Fields["deferred"])
	assert.Equal(t, "m-1", result.Trace[0].Fields["mutation_id"])
	assert.Equal(t, EventCall, result.Trace[3].Type)
	assert.Equal(t, "m-1", result.Trace[3].Fields["idempotency_key"])
}

func TestRun_FailingAssertionsReported(t *testing.T) {
	scenario := mustParse(t, `
name: wrong_expectations
description: assertions that do not hold
steps:
  - submit: {kind: create, endpoint: /api/tasks, payload: {}, at: 1}
assertions:
  - type: call_count
    call: POST /api/tasks
    count: 1
  - type: pending
    count: 0
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "call_count")
	assert.Contains(t, result.Errors[1], "pending")
	assert.Equal(t, 1, result.Final.Pending)
}

func TestRun_IDPrefix(t *testing.T) {
	scenario := mustParse(t, `
name: prefixed
description: custom id prefix
id_prefix: tab-a
steps:
  - submit: {kind: delete, endpoint: /api/tasks/1}
assertions:
  - type: pending
    count: 1
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "tab-a-1", result.Trace[0].Fields["mutation_id"])
}

func TestRun_MaxAttempts(t *testing.T) {
	scenario := mustParse(t, `
name: exhausted
description: retries stop after max attempts
online: true
max_attempts: 2
steps:
  - online: false
  - submit: {kind: create, endpoint: /api/tasks, payload: {}}
  - online: true
  - fail: [500, 500]
  - replay: true
  - replay: true
assertions:
  - type: call_count
    call: POST /api/tasks
    count: 2
  - type: pending
    count: 0
  - type: dead_letters
    count: 1
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_TerminalDirectWrite(t *testing.T) {
	scenario := mustParse(t, `
name: rejected
description: a terminal rejection online is reported, not queued
online: true
steps:
  - fail: [400]
  - submit: {kind: create, endpoint: /api/tasks, payload: {title: ""}}
assertions:
  - type: pending
    count: 0
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "status 400", result.Trace[0].Fields["error"])
	_, hasID := result.Trace[0].Fields["mutation_id"]
	assert.False(t, hasID)
}

func TestRun_ReadOfflineWithoutCache(t *testing.T) {
	scenario := mustParse(t, `
name: cold_offline
description: nothing stored means the error surfaces
steps:
  - down: true
  - read: /api/tasks
assertions:
  - type: call_count
    call: GET /api/tasks
    count: 0
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "network", result.Trace[0].Fields["error"])
}

func TestRun_RespondStep(t *testing.T) {
	scenario := mustParse(t, `
name: respond
description: routes installed mid-scenario are served
online: true
steps:
  - respond: {method: GET, path: /api/auth/me, status: 200, body: '{"id":"u1","name":"Ada"}'}
  - read: /api/auth/me
assertions:
  - type: partition
    partition: current-user
    id: self
    expect: {name: Ada}
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FreshStatePerRun(t *testing.T) {
	scenario := mustParse(t, `
name: isolation
description: each run starts empty
steps:
  - submit: {kind: create, endpoint: /api/tasks, payload: {}}
assertions:
  - type: pending
    count: 1
`)

	for i := 0; i < 2; i++ {
		result, err := Run(context.Background(), scenario)
		require.NoError(t, err)
		assert.True(t, result.Pass, "run %d errors: %v", i, result.Errors)
		assert.Equal(t, "m-1", result.Trace[0].Fields["mutation_id"])
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "replay_causal_order.yaml"))
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	a, err := MarshalTrace(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalTrace(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestResult_AddEvent(t *testing.T) {
	r := NewResult()
	r.AddEvent(EventConnectivity, map[string]any{"online": true})
	r.AddEvent(EventCall, map[string]any{"method": "GET", "path": "/x"})
	require.Len(t, r.Trace, 2)
	assert.Equal(t, int64(1), r.Trace[0].Seq)
	assert.Equal(t, int64(2), r.Trace[1].Seq)
	assert.Equal(t, []string{"GET /x"}, r.Calls())
	assert.Equal(t, EventCall, r.Trace[1].Type)
}
