package harness

// Trace event types.
const (
	EventSubmit       = "submit"
	EventConnectivity = "connectivity"
	EventReplay       = "replay"
	EventRead         = "read"
	EventCall         = "call"
)

// TraceEvent is one observable step of a scenario run: a harness action
// or an API call it caused.
type TraceEvent struct {
	Seq    int64          `json:"seq"`
	Type   string         `json:"type"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Final is the store state after the last step.
type Final struct {
	Pending     int `json:"pending"`
	DeadLetters int `json:"dead_letters"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace contains steps and API calls in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	Final Final `json:"final"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends an event with the next sequence number.
func (r *Result) AddEvent(typ string, fields map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    int64(len(r.Trace) + 1),
		Type:   typ,
		Fields: fields,
	})
}

// Calls returns the "METHOD /path" of every call event in order.
func (r *Result) Calls() []string {
	out := []string{}
	for _, ev := range r.Trace {
		if ev.Type == EventCall {
			out = append(out, ev.Fields["method"].(string)+" "+ev.Fields["path"].(string))
		}
	}
	return out
}
