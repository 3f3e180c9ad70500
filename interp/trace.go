package interp

import (
	"fmt"

	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/id"
)

// DecisionKind classifies how the scheduler arrived at the thread it
// is about to step, mirroring the three cases a user reading a trace
// cares about: the thread is taking its first step, the same thread
// kept going, or the scheduler switched away from whoever ran last.
type DecisionKind int

const (
	Start DecisionKind = iota
	Continue
	SwitchTo
)

// Decision is one trace entry's "who, and why them" half.
type Decision struct {
	Kind DecisionKind
	Tid  id.ThreadID
}

func (d Decision) String() string {
	switch d.Kind {
	case Start:
		return fmt.Sprintf("start %s", d.Tid)
	case Continue:
		return fmt.Sprintf("continue %s", d.Tid)
	default:
		return fmt.Sprintf("switch %s", d.Tid)
	}
}

// ThreadAction is one trace entry's "what happened" half: a narrowed,
// log-friendly summary of the primitive a thread just ran, including
// which other threads it woke.
type ThreadAction struct {
	Tid    id.ThreadID
	Kind   action.Kind
	MVar   id.MVarID
	MRef   id.MRefID
	TVar   id.TVarID
	Target id.ThreadID
	Woken  []id.ThreadID
}

// SubconcurrencyMarker distinguishes the two bracketing entries a
// subconcurrency block's outer step is split into from an ordinary
// step: NoMarker for every step that isn't part of that bracketing,
// including every step of the spliced-in nested trace itself.
type SubconcurrencyMarker int

const (
	NoMarker SubconcurrencyMarker = iota
	StartSubconcurrency
	StopSubconcurrency
)

// Step is one full trace entry: the decision that picked a thread,
// the action it ran, and what the scheduler could see of every other
// runnable thread's next move when it made the choice. Marker is
// NoMarker for ordinary steps; a KindSubconcurrency primitive instead
// produces a StartSubconcurrency step, the nested run's own trace
// spliced in verbatim, then a StopSubconcurrency step, so the outer
// trace embeds the inner trace inline rather than collapsing the
// whole block into one opaque entry.
type Step struct {
	Decision  Decision
	Action    ThreadAction
	Lookahead map[id.ThreadID]action.Will
	Marker    SubconcurrencyMarker
}

// Trace is the ordered record of every step of one completed or
// failed run.
type Trace []Step

// FailureKind is the closed taxonomy of ways a run can end without
// producing a result.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureAbort
	FailureDeadlock
	FailureSTMDeadlock
	FailureUncaughtException
	FailureInternalError
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "None"
	case FailureAbort:
		return "Abort"
	case FailureDeadlock:
		return "Deadlock"
	case FailureSTMDeadlock:
		return "STMDeadlock"
	case FailureUncaughtException:
		return "UncaughtException"
	case FailureInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Failure is the reified reason a run produced no value.
type Failure struct {
	Kind FailureKind
	Exc  *action.Exception
	Note string
}

// ErrInternal wraps a violated internal invariant as a
// FailureInternalError Failure, for conditions that should be
// unreachable given a well-formed action tree.
func ErrInternal(note string) *Failure {
	return &Failure{Kind: FailureInternalError, Note: note}
}

func (f *Failure) Error() string {
	if f.Exc != nil {
		return fmt.Sprintf("%s: %s", f.Kind, f.Exc.Tag)
	}
	if f.Note != "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Note)
	}
	return f.Kind.String()
}
