package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/offsync/internal/mutation"
)

// Scenario defines a sync conformance scenario.
// Steps drive a coordinator, bridge and fake API; assertions check the
// calls the API received and the final state of the local store.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Online is the initial connectivity state.
	Online bool `yaml:"online"`

	// IDPrefix prefixes generated mutation ids. Defaults to "m".
	IDPrefix string `yaml:"id_prefix,omitempty"`

	// MaxAttempts dead-letters a mutation after this many failed replays.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// API lists canned responses installed before the first step.
	API []Route `yaml:"api,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the recorded calls and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Route is a canned API response.
type Route struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Status int    `yaml:"status"`
	Body   string `yaml:"body,omitempty"`
}

// Step is one scenario action. Exactly one field must be set.
type Step struct {
	// Submit performs a write through the coordinator.
	Submit *SubmitStep `yaml:"submit,omitempty"`

	// Online switches connectivity.
	Online *bool `yaml:"online,omitempty"`

	// Replay runs one replay sweep.
	Replay bool `yaml:"replay,omitempty"`

	// Read fetches a resource through the query cache bridge.
	Read string `yaml:"read,omitempty"`

	// Fail makes the next API calls answer with these statuses.
	Fail []int `yaml:"fail,omitempty"`

	// Down makes the API drop connections.
	Down *bool `yaml:"down,omitempty"`

	// Respond installs or replaces a canned response.
	Respond *Route `yaml:"respond,omitempty"`
}

// SubmitStep describes a write.
type SubmitStep struct {
	Kind     string `yaml:"kind"`
	Endpoint string `yaml:"endpoint"`
	Payload  any    `yaml:"payload,omitempty"`

	// At is the enqueue clock in unix milliseconds.
	At int64 `yaml:"at,omitempty"`
}

// Assertion validates recorded calls or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "call_contains": a call matching Call with a body containing Body
	// - "call_order": Calls appear in this order
	// - "call_count": Call appears exactly Count times
	// - "pending": the queue holds exactly Count mutations
	// - "dead_letters": exactly Count mutations were dead-lettered
	// - "partition": record ID exists in Partition and contains Expect
	Type string `yaml:"type"`

	// Call is "METHOD /path" (call_contains, call_count).
	Call string `yaml:"call,omitempty"`

	// Body is a subset of the expected request body (call_contains).
	Body map[string]any `yaml:"body,omitempty"`

	// Calls is the expected call order (call_order).
	Calls []string `yaml:"calls,omitempty"`

	// Count is the expected number (call_count, pending, dead_letters).
	Count int `yaml:"count,omitempty"`

	// Partition and ID locate a stored record (partition).
	Partition string `yaml:"partition,omitempty"`
	ID        string `yaml:"id,omitempty"`

	// Expect is a subset of the stored record (partition).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertCallContains = "call_contains"
	AssertCallOrder    = "call_order"
	AssertCallCount    = "call_count"
	AssertPending      = "pending"
	AssertDeadLetters  = "dead_letters"
	AssertPartition    = "partition"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be non-negative")
	}

	for i, r := range s.API {
		if err := validateRoute(r); err != nil {
			return fmt.Errorf("api[%d]: %w", i, err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateRoute(r Route) error {
	if r.Method == "" || !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("method and absolute path are required")
	}
	if r.Status < 100 || r.Status > 599 {
		return fmt.Errorf("status %d out of range", r.Status)
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Submit != nil {
		set++
		if _, err := mutation.ParseKind(step.Submit.Kind); err != nil {
			return err
		}
		if !strings.HasPrefix(step.Submit.Endpoint, "/") {
			return fmt.Errorf("submit endpoint must start with /")
		}
	}
	if step.Online != nil {
		set++
	}
	if step.Replay {
		set++
	}
	if step.Read != "" {
		set++
	}
	if len(step.Fail) > 0 {
		set++
	}
	if step.Down != nil {
		set++
	}
	if step.Respond != nil {
		set++
		if err := validateRoute(*step.Respond); err != nil {
			return fmt.Errorf("respond: %w", err)
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one action is required, got %d", set)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCallContains:
		if a.Call == "" {
			return fmt.Errorf("assertions[%d]: call is required for call_contains", index)
		}
	case AssertCallOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for call_order", index)
		}
	case AssertCallCount:
		if a.Call == "" {
			return fmt.Errorf("assertions[%d]: call is required for call_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertPending, AssertDeadLetters:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertPartition:
		if a.Partition == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: partition and id are required for partition", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
