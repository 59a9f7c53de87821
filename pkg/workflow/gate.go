package workflow

import (
	"fmt"
	"reflect"
	"strings"
)

// Check-mode messages.
const (
	MsgChangesFound = "Changes found to be applied."
	MsgNoChanges    = "No changes found to be applied."
)

// Decision is the outcome of the check-mode gate.
type Decision int

const (
	// Proceed means the action should be submitted.
	Proceed Decision = iota

	// NoChange means the desired state is already in place.
	NoChange

	// WouldChange means a change is needed but check mode forbids it.
	WouldChange
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case NoChange:
		return "no_change"
	case WouldChange:
		return "would_change"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// OperationKind distinguishes settings, which are idempotent against current
// state, from actions, which have no persistent state to compare.
type OperationKind int

const (
	// OperationSetting is compared against current state.
	OperationSetting OperationKind = iota

	// OperationAction always executes unless a desired value is supplied and already met.
	OperationAction
)

// GateOptions configures Evaluate.
type GateOptions struct {
	CheckMode bool
	Kind      OperationKind
}

// Evaluate decides whether an operation should run.
//
// Only keys present in desired are compared. A non-empty desired payload that
// already matches current yields NoChange for every kind and mode.
func Evaluate(current State, desired Payload, opts GateOptions) Decision {
	if len(desired) > 0 && len(Diff(current, desired)) == 0 {
		return NoChange
	}
	if len(desired) == 0 && opts.Kind == OperationSetting {
		return NoChange
	}
	if opts.CheckMode {
		return WouldChange
	}
	return Proceed
}

// Diff returns the entries of desired whose value differs from current.
func Diff(current State, desired Payload) Payload {
	out := Payload{}
	for k, want := range desired {
		have, ok := current[k]
		if !ok || !valuesEqual(have, want) {
			out[k] = want
		}
	}
	return out
}

// GateResult renders a NoChange or WouldChange decision as a Result.
func GateResult(d Decision) Result {
	switch d {
	case NoChange:
		return Result{Msg: MsgNoChanges}
	case WouldChange:
		return Result{Msg: MsgChangesFound, Changed: true}
	default:
		return Result{}
	}
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return sa == sb
		}
	}
	if a == nil || b == nil {
		return isBlank(a) && isBlank(b)
	}
	return reflect.DeepEqual(a, b)
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
