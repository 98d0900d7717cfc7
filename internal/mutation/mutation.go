package mutation

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the kind of state change a mutation performs.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCreate, KindUpdate, KindDelete:
		return k, nil
	default:
		return "", fmt.Errorf("invalid mutation kind %q: must be create, update or delete", s)
	}
}

// Method maps the kind to the HTTP method used on replay.
func (k Kind) Method() string {
	switch k {
	case KindCreate:
		return http.MethodPost
	case KindUpdate:
		return http.MethodPatch
	case KindDelete:
		return http.MethodDelete
	default:
		return ""
	}
}

// Mutation is a durable record of a write not yet confirmed by the server.
type Mutation struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Endpoint   string          `json:"endpoint"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt int64           `json:"enqueuedAt"`

	// Replay bookkeeping, maintained by the store.
	Attempts  int    `json:"attempts,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

// Validate checks the fields required for replay.
func (m Mutation) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("mutation id is required")
	}
	if m.Kind.Method() == "" {
		return fmt.Errorf("mutation %s: invalid kind %q", m.ID, m.Kind)
	}
	if !strings.HasPrefix(m.Endpoint, "/") {
		return fmt.Errorf("mutation %s: endpoint must be an absolute path, got %q", m.ID, m.Endpoint)
	}
	if len(m.Payload) > 0 && !json.Valid(m.Payload) {
		return fmt.Errorf("mutation %s: payload is not valid JSON", m.ID)
	}
	return nil
}

// DeadLetter is a mutation that failed terminally and will not be retried
// until a user requeues it.
type DeadLetter struct {
	Mutation
	Status   int    `json:"status,omitempty"`
	Reason   string `json:"reason"`
	FailedAt int64  `json:"failedAt"`
}
