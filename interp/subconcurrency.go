package interp

import (
	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/exec"
	"github.com/loomtest/loom/id"
)

// SubconcurrencyOutcome is the reified result of a nested
// sub-computation: either the value it returned, or the failure that
// ended it, exactly as if it had been a top-level run.
type SubconcurrencyOutcome struct {
	OK      bool
	Value   any
	Failure *Failure
}

// runSubconcurrency runs body to completion as its own nested run,
// sharing ip's id source, mutable-cell store and TVar store (writes a
// sub-computation makes to an MR or TVar are visible to the outer run
// the instant they commit, exactly as if no boundary existed) but
// using a fresh thread table and a fresh MVar store, so the nested
// run's own forked threads and MVars cannot be observed or interfered
// with from outside it. caller is the outer thread entering the
// block; the nested main thread inherits caller's current masking
// state, per the spec's "inheriting outer masking and capability
// count".
//
// The nested run uses ip's own scheduler and its current threaded
// state rather than one of its own: the nested loop's decisions are
// exactly the outer scheduler's decisions, and the state it leaves
// behind becomes ip's state for whatever the caller does next. A
// subconcurrency block is not a separate exploration, it is a detour
// through the same schedule.
//
// The nested run's own Trace is returned alongside the outcome so the
// caller (Step, for the one KindSubconcurrency action) can splice it
// into the outer trace verbatim instead of discarding it: the outer
// trace must embed the inner trace between its start/stop markers,
// not collapse a whole sub-computation into a single opaque entry.
func (ip *Interp) runSubconcurrency(caller id.ThreadID, body *action.Node) (SubconcurrencyOutcome, Trace) {
	sub := &Interp{
		IDs:         ip.IDs,
		Threads:     NewThreadTable(),
		MVars:       newMVarStore(),
		Mem:         ip.Mem,
		TVars:       ip.TVars,
		NumCaps:     ip.NumCaps,
		subInFlight: exec.NewInFlight(),
	}

	masking := action.Unmasked
	if ts, ok := ip.Threads.Get(caller); ok {
		masking = ts.Masking
	}

	// Run installs body under id.MainThread in sub's own fresh table;
	// that id lives in a separate namespace from ip.Threads and the
	// shared id.Source, so reusing it here does not collide with
	// anything in the outer run.
	res := Run(sub, body, masking, ip.Sched, ip.SchedState)
	ip.SchedState = res.SchedState

	if res.Failure != nil {
		return SubconcurrencyOutcome{OK: false, Failure: res.Failure}, res.Trace
	}
	return SubconcurrencyOutcome{OK: true, Value: res.Value}, res.Trace
}

// roundRobin is a small fixed scheduler used by tests that want to
// drive an Interp without pulling in the schedulers package: always
// the lowest-numbered runnable thread, defaulting to keep running the
// same thread when it is still runnable.
type roundRobin struct{}

func (roundRobin) Next(_ any, last *id.ThreadID, runnable []id.ThreadID, _ map[id.ThreadID]action.Will) (id.ThreadID, bool, any) {
	if last != nil {
		for _, tid := range runnable {
			if tid == *last {
				return tid, true, nil
			}
		}
	}
	return runnable[0], true, nil
}
