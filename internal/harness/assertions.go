package harness

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/guflow/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type      string
	Expected  string
	Actual    string
	Decisions []map[string]any
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Decisions) > 0 {
		fmt.Fprintf(&buf, "\nDecisions:\n")
		for i, d := range e.Decisions {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, describeOne(d))
		}
	}
	return buf.String()
}

func assertDecisionContains(decisions []map[string]any, a Assertion) error {
	for _, d := range decisions {
		if matchDecision(d, a.Decision) {
			return nil
		}
	}
	return &AssertionError{
		Type:      AssertDecisionContains,
		Expected:  fmt.Sprintf("a decision matching %v", a.Decision),
		Actual:    "not found",
		Decisions: decisions,
	}
}

// assertDecisionOrder checks that the partial decisions match in order.
// Each one matches the first decision after the previous match.
func assertDecisionOrder(decisions []map[string]any, a Assertion) error {
	pos := 0
	for i, want := range a.Decisions {
		found := false
		for ; pos < len(decisions); pos++ {
			if matchDecision(decisions[pos], want) {
				found = true
				pos++
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:      AssertDecisionOrder,
				Expected:  fmt.Sprintf("decision %d %v after the earlier ones", i, want),
				Actual:    "not found in order",
				Decisions: decisions,
			}
		}
	}
	return nil
}

func assertDecisionCount(decisions []map[string]any, a Assertion) error {
	n := 0
	for _, d := range decisions {
		if matchDecision(d, a.Decision) {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:      AssertDecisionCount,
			Expected:  fmt.Sprintf("%d decisions matching %v", a.Count, a.Decision),
			Actual:    fmt.Sprintf("%d", n),
			Decisions: decisions,
		}
	}
	return nil
}

func assertFinalState(result *Result, a Assertion) error {
	if a.Status != "" {
		status := result.Status
		if status == "" {
			status = "open"
		}
		if !strings.EqualFold(status, a.Status) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: "status " + a.Status,
				Actual:   "status " + status,
			}
		}
	}
	if a.Outstanding != nil {
		want := slices.Sorted(slices.Values(a.Outstanding))
		got := result.Outstanding
		if got == nil {
			got = []string{}
		}
		if !slices.Equal(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("outstanding %v", want),
				Actual:   fmt.Sprintf("outstanding %v", got),
			}
		}
	}
	return nil
}

// EvaluateAssertions evaluates every assertion against the result and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	decisions := result.Decisions()
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertDecisionContains:
			err = assertDecisionContains(decisions, a)
		case AssertDecisionOrder:
			err = assertDecisionOrder(decisions, a)
		case AssertDecisionCount:
			err = assertDecisionCount(decisions, a)
		case AssertFinalState:
			err = assertFinalState(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// matchDecision reports whether actual carries every field of expected.
// Nested values must be equal as a whole.
func matchDecision(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(normalize(got), normalize(want)) {
			return false
		}
	}
	return true
}

// normalize maps YAML-decoded and canonical decision values onto one set
// of Go types so they compare with reflect.DeepEqual.
func normalize(v any) any {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case uint64:
		return int64(val)
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalize(e)
		}
		return out
	}
	return v
}

func describeOne(d map[string]any) string {
	b, err := ir.MarshalCanonical(d)
	if err != nil {
		return fmt.Sprintf("%v", d)
	}
	return string(b)
}

func describe(ds []map[string]any) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = describeOne(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
