package interp

import (
	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/id"
)

// Scheduler picks the next thread to run. state is whatever the
// scheduler threads through its own decisions (round-robin position,
// PRNG, trace replay cursor, ...); last is nil only for the very first
// decision of a run, where the core always starts the main thread
// without consulting the scheduler at all. runnable is every
// schedulable thread id in ascending order and lookahead gives, for
// each of them, what primitive they would run next without actually
// running it. Ok false means the scheduler declined to choose (or
// chose outside runnable), which the loop reports as Abort.
type Scheduler interface {
	Next(state any, last *id.ThreadID, runnable []id.ThreadID, lookahead map[id.ThreadID]action.Will) (chosen id.ThreadID, ok bool, newState any)
}

// Result is everything a completed or failed run produced.
type Result struct {
	Value       any
	Failure     *Failure
	Trace       Trace
	Preemptions int
	// SchedState is the scheduler's state as left at the end of this
	// run. A caller driving a sequence of runs with the same scheduler
	// (or a subconcurrency block resuming its parent's loop) threads
	// this back in as the next run's initial state.
	SchedState any
}

// Run drives ip from root as the main thread's starting continuation
// until main finishes, the run deadlocks, or a step fails, consulting
// sched for every decision past the first. This is the C8 scheduler
// loop: one primitive action per iteration, nothing more. masking is
// the starting mask of the main thread: Unmasked for a true top-level
// run, or the calling thread's own masking state when ip is a
// subconcurrency block's nested interpreter (spec: a sub-computation's
// root thread inherits its caller's masking).
func Run(ip *Interp, root *action.Node, masking action.MaskingState, sched Scheduler, schedState any) Result {
	ip.Threads.Install(id.MainThread, root, masking)
	ip.Sched = sched
	ip.SchedState = schedState

	var trace Trace
	var last *id.ThreadID
	preemptions := 0

	// lastWasYield tracks whether the action last executed was an
	// explicit Yield, which exempts the switch that follows it from
	// the preemption count. lastReal tracks the most recent real
	// (non-pseudo) thread that ran, so a switch away from a commit
	// pseudo-thread chain can be compared against the thread that
	// chain actually interrupted, not against the pseudo-thread id
	// itself.
	lastWasYield := false
	var lastReal *id.ThreadID

	for {
		if !ip.Threads.MainPresent() {
			return Result{Value: ip.FinalValue, Trace: trace, Preemptions: preemptions, SchedState: ip.SchedState}
		}

		runnable := ip.Threads.Runnable()
		if len(runnable) == 0 {
			return Result{Failure: &Failure{Kind: deadlockKind(ip)}, Trace: trace, Preemptions: preemptions, SchedState: ip.SchedState}
		}

		lookahead := ip.lookaheadFor(runnable)

		var chosen id.ThreadID
		if last == nil {
			if !containsID(runnable, id.MainThread) {
				return Result{Failure: &Failure{Kind: FailureAbort, Note: "main is not runnable at the first decision"}, Trace: trace, Preemptions: preemptions, SchedState: ip.SchedState}
			}
			chosen = id.MainThread
		} else {
			c, ok, newState := sched.Next(ip.SchedState, last, runnable, lookahead)
			if !ok || !containsID(runnable, c) {
				return Result{Failure: &Failure{Kind: FailureAbort}, Trace: trace, Preemptions: preemptions, SchedState: ip.SchedState}
			}
			chosen, ip.SchedState = c, newState
		}

		// Preemption counting: a switch that lands on a commit
		// pseudo-thread never counts, since the scheduler didn't choose
		// between real threads; a switch away from one counts only if
		// it lands somewhere other than the real thread that chain
		// interrupted; otherwise a switch between two ordinary threads
		// counts unless it was preceded by an explicit yield.
		if last != nil && *last != chosen {
			switch {
			case chosen.Num < 0:
			case last.Num < 0:
				if lastReal == nil || chosen != *lastReal {
					preemptions++
				}
			case !lastWasYield:
				preemptions++
			}
		}

		cts, _ := ip.Threads.Get(chosen)
		decision := Start
		switch {
		case !cts.Stepped:
			cts.Stepped = true
		case last != nil && *last == chosen:
			decision = Continue
		default:
			decision = SwitchTo
		}

		out := ip.Step(chosen)
		if out.Failure != nil {
			return Result{Failure: out.Failure, Trace: trace, Preemptions: preemptions, SchedState: ip.SchedState}
		}
		if out.Action.Kind == action.KindSubconcurrency {
			trace = append(trace, Step{Decision: Decision{Kind: decision, Tid: chosen}, Action: out.Action, Lookahead: lookahead, Marker: StartSubconcurrency})
			trace = append(trace, out.InnerTrace...)
			trace = append(trace, Step{Decision: Decision{Kind: decision, Tid: chosen}, Action: out.Action, Marker: StopSubconcurrency})
		} else {
			trace = append(trace, Step{Decision: Decision{Kind: decision, Tid: chosen}, Action: out.Action, Lookahead: lookahead})
		}

		lastWasYield = out.Action.Kind == action.KindYield
		if chosen.Num >= 0 {
			r := chosen
			lastReal = &r
		}

		c := chosen
		last = &c
	}
}

// deadlockKind classifies an empty-runnable-set stop: STMDeadlock if
// any blocked thread is waiting on a transaction retry, Deadlock
// otherwise (MVar waits, or a ThrowTo waiting on a mask that will
// never lift).
func deadlockKind(ip *Interp) FailureKind {
	for _, tid := range ip.Threads.Blocked() {
		ts, _ := ip.Threads.Get(tid)
		if ts.Block.Kind == BlockTVars {
			return FailureSTMDeadlock
		}
	}
	return FailureDeadlock
}

func containsID(ids []id.ThreadID, target id.ThreadID) bool {
	for _, x := range ids {
		if x == target {
			return true
		}
	}
	return false
}

// lookaheadFor builds the Will for every runnable id, synthesizing one
// for commit pseudo-threads since they have no continuation node of
// their own.
func (ip *Interp) lookaheadFor(runnable []id.ThreadID) map[id.ThreadID]action.Will {
	out := make(map[id.ThreadID]action.Will, len(runnable))
	for _, tid := range runnable {
		if tid.Num < 0 {
			key, _ := ip.Mem.KeyOf(tid)
			out[tid] = action.Will{Kind: action.KindCommitMR, MRef: key.Ref, Target: key.Thread}
			continue
		}
		ts, _ := ip.Threads.Get(tid)
		out[tid] = action.Lookahead(ts.Cont)
	}
	return out
}
