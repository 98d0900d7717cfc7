package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation ran and did not complete (unsynced mutations, failed scenarios)
	ExitCommandError = 2 // the operation could not start (bad config, bad flags, unknown partition)
)

// Error codes reported in the JSON error object.
const (
	ErrCodeGeneric      = "E001"
	ErrCodeConfig       = "E002"
	ErrCodeStore        = "E003"
	ErrCodeNotFound     = "E004"
	ErrCodeInvalidInput = "E005"
	ErrCodeSyncFailed   = "E006"
	ErrCodeTestFailed   = "E007"
)

// ExitError is a command failure. Code is the process exit code; ErrCode
// classifies the failure for JSON consumers.
type ExitError struct {
	Code    int
	ErrCode string
	Message string
	Err     error

	// Details is reported as the response data in JSON mode.
	Details any

	reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// commandError reports an operation that could not start.
func commandError(errCode, message string, err error) *ExitError {
	return &ExitError{Code: ExitCommandError, ErrCode: errCode, Message: message, Err: err}
}

// failure reports an operation that ran and did not complete.
func failure(errCode, message string, err error) *ExitError {
	return &ExitError{Code: ExitFailure, ErrCode: errCode, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Errors that are not an ExitError exit with ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode returns the JSON error code for err.
func ErrorCode(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.ErrCode != "" {
		return exitErr.ErrCode
	}
	return ErrCodeGeneric
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error object of a failed CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TextRenderer is implemented by results with a custom text form.
type TextRenderer interface {
	RenderText(w io.Writer)
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}

	if r, ok := data.(TextRenderer); ok {
		r.RenderText(f.Writer)
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Fail reports err and returns it unchanged so the exit code reaches main.
// In JSON mode the error envelope is written once; in text mode main
// prints the message to stderr. A nil err is returned as is.
func (f *OutputFormatter) Fail(err error) error {
	if err == nil || f.Format != "json" {
		return err
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.reported {
			return err
		}
		exitErr.reported = true
	}

	resp := CLIResponse{
		Status: "error",
		Error:  &CLIError{Code: ErrorCode(err), Message: err.Error()},
	}
	if exitErr != nil {
		resp.Data = exitErr.Details
	}
	if encErr := json.NewEncoder(f.Writer).Encode(resp); encErr != nil {
		return errors.Join(err, encErr)
	}
	return err
}
