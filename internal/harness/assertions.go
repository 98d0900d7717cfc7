package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/offsync/internal/canonical"
	"github.com/roach88/offsync/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nCalls:\n")
		n := 0
		for _, event := range e.Trace {
			if event.Type == EventCall {
				n++
				fmt.Fprintf(&buf, "  [%d] %s %s\n", n, event.Fields["method"], event.Fields["path"])
			}
		}
	}

	return buf.String()
}

func callName(ev TraceEvent) string {
	return fmt.Sprintf("%s %s", ev.Fields["method"], ev.Fields["path"])
}

// assertCallContains checks for a call matching the assertion's call with
// a body containing the expected fields (subset match).
func assertCallContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type != EventCall || callName(event) != assertion.Call {
			continue
		}
		var body any
		if raw, ok := event.Fields["body"].(json.RawMessage); ok {
			decoded, err := canonical.Decode(raw)
			if err != nil {
				continue
			}
			body = decoded
		}
		if matchFields(body, assertion.Body) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertCallContains,
		Expected: fmt.Sprintf("call %s with body %v", assertion.Call, assertion.Body),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertCallOrder checks that calls appear in the specified order.
// Calls don't need to be consecutive (intervening calls are allowed).
func assertCallOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)

	n := 0
	for _, event := range trace {
		if event.Type != EventCall {
			continue
		}
		n++
		name := callName(event)
		for _, expected := range assertion.Calls {
			if name == expected && positions[expected] == 0 {
				positions[expected] = n // 1-indexed for readability
			}
		}
	}

	for _, call := range assertion.Calls {
		if positions[call] == 0 {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("all calls present: %v", assertion.Calls),
				Actual:   fmt.Sprintf("missing call: %s", call),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Calls); i++ {
		prev := assertion.Calls[i-1]
		curr := assertion.Calls[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("calls in order: %v", assertion.Calls),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertCallCount checks that the call appears exactly Count times.
func assertCallCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventCall && callName(event) == assertion.Call {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Call),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

func assertFinalCount(kind string, actual int, assertion Assertion) error {
	if actual != assertion.Count {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%d %s", assertion.Count, kind),
			Actual:   fmt.Sprintf("%d %s", actual, kind),
		}
	}
	return nil
}

// assertPartition checks that a record exists and contains the expected
// fields.
func assertPartition(ctx context.Context, st *store.Store, assertion Assertion) error {
	rec, found, err := st.GetOne(ctx, assertion.Partition, assertion.ID)
	if err != nil {
		return fmt.Errorf("partition %s: %w", assertion.Partition, err)
	}
	if !found {
		return &AssertionError{
			Type:     AssertPartition,
			Expected: fmt.Sprintf("record %s in %s", assertion.ID, assertion.Partition),
			Actual:   "no such record",
		}
	}

	value, err := canonical.Decode(rec.Value)
	if err != nil {
		return fmt.Errorf("partition %s: %w", assertion.Partition, err)
	}
	if !matchFields(value, assertion.Expect) {
		return &AssertionError{
			Type:     AssertPartition,
			Expected: fmt.Sprintf("record %s containing %v", assertion.ID, assertion.Expect),
			Actual:   string(rec.Value),
		}
	}
	return nil
}

// matchFields checks if actual contains all expected fields (subset match).
// Extra keys in actual are ignored.
func matchFields(actual any, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}

	actualMap, ok := actual.(map[string]any)
	if !ok {
		return false
	}

	for key, expectedVal := range expected {
		actualVal, exists := actualMap[key]
		if !exists {
			return false
		}
		if !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}

	return true
}

// valuesEqual compares decoded JSON with a YAML-decoded expectation by
// their canonical encodings, so 3 and json.Number("3") are equal.
func valuesEqual(actual, expected any) bool {
	a, err := canonical.Marshal(actual)
	if err != nil {
		return false
	}
	e, err := canonical.Marshal(expected)
	if err != nil {
		return false
	}
	return bytes.Equal(a, e)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for partition assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertCallContains:
			err = assertCallContains(result.Trace, assertion)
		case AssertCallOrder:
			err = assertCallOrder(result.Trace, assertion)
		case AssertCallCount:
			err = assertCallCount(result.Trace, assertion)
		case AssertPending:
			err = assertFinalCount(AssertPending, result.Final.Pending, assertion)
		case AssertDeadLetters:
			err = assertFinalCount(AssertDeadLetters, result.Final.DeadLetters, assertion)
		case AssertPartition:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: partition requires database context", i)
			} else {
				err = assertPartition(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
