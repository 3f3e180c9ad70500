package interp

import (
	"fmt"

	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/exec"
	"github.com/loomtest/loom/id"
)

// Interp bundles one interpreter level's stores: the thread table plus
// the three primitive substrates (MVars, MRefs, TVars) a thread's
// actions can touch. An outer run and each of its sub-computations are
// each one Interp; Subconcurrency builds a fresh Interp that shares
// IDs, Mem and TVars with its parent but gets its own Threads and
// MVars, matching the isolation a nested computation is meant to give
// a thread's own local communication.
type Interp struct {
	IDs     *id.Source
	Threads *ThreadTable
	MVars   *MVarStore
	Mem     *Memory
	TVars   *TVarStore

	NumCaps int
	// FinalValue is the value a Stop carried when it terminated the
	// main thread (or a sub-computation's own root thread).
	FinalValue any

	// Sched and SchedState are the scheduler driving this run and its
	// current threaded state. A subconcurrency block reuses both for
	// its nested run rather than a scheduler of its own, and writes
	// the nested run's final state back here so the outer loop picks
	// up exactly where the sub-computation left the scheduler.
	Sched      Scheduler
	SchedState any

	subInFlight *exec.InFlight
}

// NewInterp builds a fresh outer interpreter with its own id source
// and stores, configured with the given memory model.
func NewInterp(model MemModel) *Interp {
	return &Interp{
		IDs:         id.NewSource(),
		Threads:     NewThreadTable(),
		MVars:       newMVarStore(),
		Mem:         newMemory(model),
		TVars:       newTVarStore(),
		NumCaps:     1,
		subInFlight: exec.NewInFlight(),
	}
}

// StepOutcome is what Step reports about one primitive action so the
// scheduler loop can build a trace entry without reaching back into
// interpreter internals.
type StepOutcome struct {
	Action ThreadAction
	// Blocked reports that tid did not advance; its continuation is
	// unchanged and ThreadTable already records why.
	Blocked bool
	// Dead reports that tid finished or was killed and has been
	// removed from the table.
	Dead bool
	// Failure is set when the step ends the run: an exception that no
	// handler catches on the main thread, or an internal error such as
	// an action that is not valid at this level.
	Failure *Failure
	// InnerTrace is the nested run's full trace when Action.Kind is
	// KindSubconcurrency; the scheduler loop splices it into the outer
	// trace between a StartSubconcurrency and a StopSubconcurrency
	// entry instead of folding the whole block into this one action.
	InnerTrace Trace
}

// Step runs exactly one primitive action for tid: whatever its current
// continuation or commit-queue position calls for. The caller (the
// scheduler loop) must have already confirmed tid is runnable.
func (ip *Interp) Step(tid id.ThreadID) StepOutcome {
	if tid.Num < 0 {
		return ip.stepCommit(tid)
	}
	ts, ok := ip.Threads.Get(tid)
	if !ok {
		return StepOutcome{Failure: &Failure{Kind: FailureInternalError, Note: fmt.Sprintf("step: unknown thread %s", tid)}}
	}
	node := ts.Cont
	if node == nil {
		ip.Threads.Kill(tid)
		return StepOutcome{Action: ThreadAction{Tid: tid, Kind: action.KindStop}, Dead: true}
	}

	act := ThreadAction{Tid: tid, Kind: node.Kind, MVar: node.MVar, MRef: node.MRef, TVar: node.TVar, Target: node.Target}

	switch node.Kind {
	case action.KindFork:
		child := ip.IDs.NextThread("thread")
		ip.Threads.Launch(tid, child, node.Branch)
		act.Target = child
		ip.Threads.Goto(tid, node.Next(child))

	case action.KindMyThreadID:
		ip.Threads.Goto(tid, node.Next(tid))

	case action.KindGetCaps:
		ip.Threads.Goto(tid, node.Next(ip.NumCaps))

	case action.KindSetCaps:
		ip.NumCaps = node.NumCaps
		ip.Threads.Goto(tid, node.Next(nil))

	case action.KindYield:
		ip.Threads.Goto(tid, node.Next(nil))

	case action.KindNewMV:
		mid := ip.IDs.NextMVar("mvar")
		ip.MVars.New(mid, node.Value, node.Value != nil)
		ip.Threads.Goto(tid, node.Next(mid))

	case action.KindPutMV:
		if blocked := ip.MVars.Put(node.MVar, node.Value); blocked {
			ip.Threads.Block(tid, Block{Kind: BlockPut, MVar: node.MVar})
			return StepOutcome{Action: act, Blocked: true}
		}
		act.Woken = ip.Threads.Wake(WakeReason{Kind: BlockTake, MVar: node.MVar})
		ip.Threads.Goto(tid, node.Next(nil))

	case action.KindTryPutMV:
		ok := ip.MVars.TryPut(node.MVar, node.Value)
		if ok {
			act.Woken = ip.Threads.Wake(WakeReason{Kind: BlockTake, MVar: node.MVar})
		}
		ip.Threads.Goto(tid, node.Next(ok))

	case action.KindTakeMV:
		v, blocked := ip.MVars.Take(node.MVar)
		if blocked {
			ip.Threads.Block(tid, Block{Kind: BlockTake, MVar: node.MVar})
			return StepOutcome{Action: act, Blocked: true}
		}
		act.Woken = ip.Threads.Wake(WakeReason{Kind: BlockPut, MVar: node.MVar})
		ip.Threads.Goto(tid, node.Next(v))

	case action.KindTryTakeMV:
		v, ok := ip.MVars.TryTake(node.MVar)
		if ok {
			act.Woken = ip.Threads.Wake(WakeReason{Kind: BlockPut, MVar: node.MVar})
		}
		ip.Threads.Goto(tid, node.Next(action.TryResult{Value: v, OK: ok}))

	case action.KindReadMV:
		v, blocked := ip.MVars.Read(node.MVar)
		if blocked {
			ip.Threads.Block(tid, Block{Kind: BlockTake, MVar: node.MVar})
			return StepOutcome{Action: act, Blocked: true}
		}
		ip.Threads.Goto(tid, node.Next(v))

	case action.KindTryReadMV:
		v, ok := ip.MVars.TryRead(node.MVar)
		ip.Threads.Goto(tid, node.Next(action.TryResult{Value: v, OK: ok}))

	case action.KindNewMR:
		rid := ip.IDs.NextMRef("mref")
		ip.Mem.New(rid, node.Value)
		ip.Threads.Goto(tid, node.Next(rid))

	case action.KindReadMR:
		ip.Threads.Goto(tid, node.Next(ip.Mem.Read(tid, node.MRef)))

	case action.KindWriteMR:
		ip.Mem.EnsurePseudo(tid, node.MRef, ip.Threads, ip.IDs)
		ip.Mem.Write(tid, node.MRef, node.Value, ip.Threads)
		ip.Threads.Goto(tid, node.Next(nil))

	case action.KindModifyMR:
		ip.Mem.ModifyMR(tid, node.MRef, node.ModifyFn, ip.Threads)
		ip.Threads.Goto(tid, node.Next(nil))

	case action.KindReadForCas:
		v, counter := ip.Mem.ReadForCas(tid, node.MRef)
		ip.Threads.Goto(tid, node.Next(&action.Ticket{Ref: node.MRef, Value: v, Counter: counter}))

	case action.KindCasMR:
		ok, curV, curC := ip.Mem.CasMR(tid, node.MRef, node.Ticket.Value, node.Ticket.Counter, node.Value, ip.Threads)
		result := action.CasResult{OK: ok, Ticket: &action.Ticket{Ref: node.MRef, Value: curV, Counter: curC}}
		ip.Threads.Goto(tid, node.Next(result))

	case action.KindAtomically:
		outcome := EvalAtomically(node.Branch, ip.TVars, ip.IDs)
		switch outcome.Kind {
		case OutcomeSuccess:
			touched := ip.TVars.Commit(outcome.Writes)
			act.Woken = ip.Threads.Wake(WakeReason{Kind: BlockTVars, TVars: touched})
			ip.Threads.Goto(tid, node.Next(outcome.Value))
		case OutcomeRetry:
			ip.Threads.Block(tid, Block{Kind: BlockTVars, TVars: outcome.ReadSet})
			return StepOutcome{Action: act, Blocked: true}
		case OutcomeAborted:
			return ip.deliverOrKill(tid, act, outcome.Exc)
		}

	case action.KindThrow:
		return ip.deliverOrKill(tid, act, node.Exc)

	case action.KindThrowTo:
		return ip.stepThrowTo(tid, act, node)

	case action.KindCatching:
		ts.pushHandler(node.Handler)
		ip.Threads.Goto(tid, node.Branch)

	case action.KindPopCatching:
		ts.popHandler()
		ip.Threads.Goto(tid, node.Next(node.Value))

	case action.KindSetMasking:
		prev := ts.Masking
		ts.Masking = node.Masking
		if node.Masking == action.Unmasked {
			act.Woken = ip.Threads.Wake(WakeReason{Kind: BlockMask, Target: tid})
		}
		ip.Threads.Goto(tid, node.Next(prev))

	case action.KindResetMasking:
		ts.Masking = node.Masking
		if node.Masking == action.Unmasked {
			act.Woken = ip.Threads.Wake(WakeReason{Kind: BlockMask, Target: tid})
		}
		ip.Threads.Goto(tid, node.Next(nil))

	case action.KindLift:
		v, err := node.Effect()
		if err != nil {
			return ip.deliverOrKill(tid, act, &action.Exception{Tag: "interp.liftError", Value: err})
		}
		ip.Threads.Goto(tid, node.Next(v))

	case action.KindReturn:
		ip.Threads.Goto(tid, node.Next(node.Value))

	case action.KindStop:
		if tid == id.MainThread {
			ip.FinalValue = node.Value
		}
		ip.Threads.Kill(tid)
		return StepOutcome{Action: act, Dead: true}

	case action.KindSubconcurrency:
		if !ip.subInFlight.Enter(tid) {
			return StepOutcome{Failure: &Failure{Kind: FailureInternalError, Note: fmt.Sprintf("step: %s started a subconcurrency block while one was already in flight", tid)}}
		}
		result, innerTrace := ip.runSubconcurrency(tid, node.Branch)
		ip.subInFlight.Exit(tid)
		ip.Threads.Goto(tid, node.Next(result))
		return StepOutcome{Action: act, InnerTrace: innerTrace}

	default:
		return StepOutcome{Failure: &Failure{Kind: FailureInternalError, Note: fmt.Sprintf("step: action kind %d is not a valid outer action", node.Kind)}}
	}

	return StepOutcome{Action: act}
}

// stepCommit runs one commit for a negative-id pseudo-thread.
func (ip *Interp) stepCommit(pid id.ThreadID) StepOutcome {
	key, ok := ip.Mem.KeyOf(pid)
	if !ok {
		return StepOutcome{Failure: &Failure{Kind: FailureInternalError, Note: fmt.Sprintf("step: unknown commit pseudo-thread %s", pid)}}
	}
	rid := ip.Mem.StepCommit(key, ip.Threads)
	return StepOutcome{Action: ThreadAction{Tid: pid, Kind: action.KindCommitMR, MRef: rid, Target: key.Thread}}
}

// deliverOrKill applies dispatchThrow to tid's own handler stack: an
// uncaught Throw and an uncaught STM exception both funnel through
// here, since the only difference between them is where the exception
// originated, not how it is matched against handlers.
func (ip *Interp) deliverOrKill(tid id.ThreadID, act ThreadAction, exc *action.Exception) StepOutcome {
	ts, _ := ip.Threads.Get(tid)
	if dispatchThrow(ts, exc) == DeliverKilled {
		ip.Threads.Kill(tid)
		if tid == id.MainThread {
			return StepOutcome{Action: act, Dead: true, Failure: &Failure{Kind: FailureUncaughtException, Exc: exc}}
		}
		return StepOutcome{Action: act, Dead: true}
	}
	return StepOutcome{Action: act}
}
