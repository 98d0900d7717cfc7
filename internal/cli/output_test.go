package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/mutation"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/syncer"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(StatusResult{Status: syncer.Status{Online: true, Pending: 2}})
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   syncer.Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Online)
	assert.Equal(t, 2, resp.Data.Pending)
}

func TestOutputFormatter_FailJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	cause := errors.New("no such file")
	err := formatter.Fail(commandError(ErrCodeConfig, "failed to load config", cause))
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E002", resp.Error.Code)
	assert.Equal(t, "failed to load config: no such file", resp.Error.Message)
	assert.Nil(t, resp.Data)
}

func TestOutputFormatter_FailJSONReportsOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	exitErr := failure(ErrCodeSyncFailed, "1 mutation(s) not replayed", nil)
	exitErr.Details = map[string]int{"retained": 1}
	wrapped := fmt.Errorf("sync: %w", exitErr)

	require.Error(t, formatter.Fail(wrapped))
	require.Error(t, formatter.Fail(exitErr))

	dec := json.NewDecoder(buf)
	var resp CLIResponse
	require.NoError(t, dec.Decode(&resp))
	assert.Equal(t, ErrCodeSyncFailed, resp.Error.Code)
	assert.Equal(t, map[string]any{"retained": float64(1)}, resp.Data)
	assert.False(t, dec.More(), "a reported error is not written twice")
}

func TestOutputFormatter_FailPlainError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.Error(t, formatter.Fail(errors.New("boom")))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, ErrCodeGeneric, resp.Error.Code)
	assert.Equal(t, "boom", resp.Error.Message)
}

func TestOutputFormatter_FailText(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Fail(failure(ErrCodeStore, "store locked", nil))
	require.Error(t, err)
	assert.Empty(t, buf.String(), "text errors are printed by main")

	assert.NoError(t, formatter.Fail(nil))
	assert.Empty(t, buf.String())
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("Cleared tasks")
	require.NoError(t, err)
	assert.Equal(t, "Cleared tasks\n", buf.String())
}

func TestOutputFormatter_TextRenderer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success(EnqueueResult{MutationID: "m1", Inserted: true})
	require.NoError(t, err)
	assert.Equal(t, "Queued mutation m1\n", buf.String())
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"command_error", commandError(ErrCodeConfig, "bad config", nil), ExitCommandError},
		{"wrapped_failure", fmt.Errorf("outer: %w", failure(ErrCodeSyncFailed, "sync", nil)), ExitFailure},
		{"plain_error", errors.New("boom"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	cause := errors.New("no such file")
	err := commandError(ErrCodeConfig, "failed to load config", cause)

	assert.Equal(t, "failed to load config: no such file", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad flag", commandError(ErrCodeInvalidInput, "bad flag", nil).Error())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, ErrorCode(failure(ErrCodeNotFound, "missing", nil)))
	assert.Equal(t, ErrCodeStore, ErrorCode(fmt.Errorf("wrapped: %w", commandError(ErrCodeStore, "open", nil))))
	assert.Equal(t, ErrCodeGeneric, ErrorCode(&ExitError{Code: ExitFailure, Message: "no code"}))
	assert.Equal(t, ErrCodeGeneric, ErrorCode(errors.New("plain")))
}

func TestRenderText(t *testing.T) {
	tests := []struct {
		name string
		data TextRenderer
		want string
	}{
		{
			name: "status_synced",
			data: StatusResult{Status: syncer.Status{Online: true}},
			want: "online, all changes synced\n",
		},
		{
			name: "status_syncing",
			data: StatusResult{Status: syncer.Status{Online: true, Pending: 3}},
			want: "online, syncing 3 change(s)\n",
		},
		{
			name: "status_offline_waiting",
			data: StatusResult{Status: syncer.Status{Pending: 2, DeadLetters: 1}},
			want: "offline, 2 change(s) waiting, 1 dead-lettered\n",
		},
		{
			name: "sync_report",
			data: SyncResult{Report: syncer.Report{
				Replayed: 1, DeadLettered: 1,
				Failures: []syncer.ReplayError{{Code: syncer.ErrCodeTerminal, MutationID: "m2", Message: "status 400"}},
			}},
			want: "Replayed 1, retained 0, dead-lettered 1, 0 remaining\n  TERMINAL m2: status 400\n",
		},
		{
			name: "sync_skipped",
			data: SyncResult{Report: syncer.Report{Skipped: true}},
			want: "Sync skipped: another process holds the replay lease.\n",
		},
		{
			name: "enqueue_duplicate",
			data: EnqueueResult{MutationID: "m1"},
			want: "Mutation m1 already queued or applied\n",
		},
		{
			name: "records",
			data: RecordsResult{Partition: "tasks", Records: []store.Record{{ID: "1", Value: json.RawMessage(`{"id":"1"}`)}}},
			want: "1\t{\"id\":\"1\"}\n",
		},
		{
			name: "records_empty",
			data: RecordsResult{Partition: "tasks", Records: []store.Record{}},
			want: "No records in tasks.\n",
		},
		{
			name: "partitions",
			data: PartitionsResult{Partitions: []string{"analytics", "tasks"}},
			want: "analytics\ntasks\n",
		},
		{
			name: "dead_letters",
			data: DeadLettersResult{DeadLetters: []mutation.DeadLetter{{
				Mutation: mutation.Mutation{ID: "m1", Kind: mutation.KindCreate, Endpoint: "/api/tasks"},
				Status:   422,
				Reason:   "status 422",
			}}},
			want: "m1\tcreate /api/tasks\t422\tstatus 422\n",
		},
		{
			name: "dead_letters_empty",
			data: DeadLettersResult{DeadLetters: []mutation.DeadLetter{}},
			want: "No dead letters.\n",
		},
		{
			name: "requeued",
			data: DeadLettersResult{DeadLetters: []mutation.DeadLetter{}, Requeued: []string{"m1"}},
			want: "Requeued m1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.data.RenderText(buf)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
