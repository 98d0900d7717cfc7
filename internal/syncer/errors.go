package syncer

import (
	"errors"
	"fmt"

	"github.com/roach88/offsync/internal/api"
)

// ReplayErrorCode categorizes a failed replay attempt.
type ReplayErrorCode string

const (
	// ErrCodeRetryable means the mutation stays queued for the next sweep.
	ErrCodeRetryable ReplayErrorCode = "RETRYABLE"

	// ErrCodeTerminal means the server rejected the mutation; it was moved
	// to dead-letters.
	ErrCodeTerminal ReplayErrorCode = "TERMINAL"

	// ErrCodeExhausted means the mutation used up its attempts and was moved
	// to dead-letters.
	ErrCodeExhausted ReplayErrorCode = "EXHAUSTED"
)

// ReplayError describes why one mutation could not be replayed.
type ReplayError struct {
	Code       ReplayErrorCode `json:"code"`
	MutationID string          `json:"mutationId"`
	Endpoint   string          `json:"endpoint"`
	Status     int             `json:"status,omitempty"`
	Attempts   int             `json:"attempts,omitempty"`
	Message    string          `json:"message"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ReplayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (mutation=%s, status=%d)", e.Code, e.Message, e.MutationID, e.Status)
	}
	return fmt.Sprintf("%s: %s (mutation=%s)", e.Code, e.Message, e.MutationID)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if err is a retryable replay error.
func IsRetryable(err error) bool {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Code == ErrCodeRetryable
	}
	return false
}

// IsTerminal returns true if err is a terminal replay error.
func IsTerminal(err error) bool {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Code == ErrCodeTerminal
	}
	return false
}

// IsExhausted returns true if err reports a mutation out of attempts.
func IsExhausted(err error) bool {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Code == ErrCodeExhausted
	}
	return false
}

// classify turns an API failure into a ReplayError.
// Only a non-retryable status from the server is terminal; network errors,
// 5xx, 408, 429 and anything unrecognized keep the mutation queued.
func classify(id, endpoint string, err error) *ReplayError {
	re := &ReplayError{
		Code:       ErrCodeRetryable,
		MutationID: id,
		Endpoint:   endpoint,
		Status:     api.StatusOf(err),
		Message:    err.Error(),
		Err:        err,
	}
	var se *api.StatusError
	if errors.As(err, &se) && !se.Retryable() {
		re.Code = ErrCodeTerminal
	}
	return re
}
