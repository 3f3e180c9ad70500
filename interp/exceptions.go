package interp

import (
	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/id"
)

// DeliverResult classifies what happened when an exception was aimed
// at a thread, for the caller (Step, through deliverOrKill or
// stepThrowTo) to fold into the trace.
type DeliverResult int

const (
	// DeliverHandled means a handler frame on the target's own stack
	// caught the exception; the target's continuation now runs that
	// handler.
	DeliverHandled DeliverResult = iota
	// DeliverKilled means no handler frame caught it; the target is
	// removed from the table.
	DeliverKilled
)

// dispatchThrow finds the innermost handler on target's stack that
// accepts exc, truncates the stack back to that frame and points
// target's continuation at the handler's result. If no frame accepts
// it, target is killed.
func dispatchThrow(target *ThreadState, exc *action.Exception) DeliverResult {
	for i := len(target.Handlers) - 1; i >= 0; i-- {
		frame := target.Handlers[i]
		if frame.Handler.Accepts(exc) {
			target.Handlers = target.Handlers[:frame.Depth]
			target.Cont = frame.Handler.Handle(exc)
			return DeliverHandled
		}
	}
	target.Handlers = nil
	target.Cont = nil
	return DeliverKilled
}

// interruptible reports whether a thread can currently receive an
// asynchronous exception: either it isn't masked at all, or it is
// merely MaskedInterruptible and also blocked (the one case in which
// an interruptible mask still lets a delivery through).
func interruptible(t *ThreadState) bool {
	if t.Masking == action.Unmasked {
		return true
	}
	return t.Masking == action.MaskedInterruptible && !t.Runnable()
}

// stepThrowTo implements the ThrowTo primitive for the thread
// currently being stepped (sender == tid). If target is currently
// interruptible, the exception is delivered synchronously in this
// same step; otherwise the sender blocks as BlockMask{Target: target}
// until the masking-reset step re-offers delivery.
//
// Delivering to one's own tid is permitted (spec): when sender and
// target coincide, the exception hijacks the sender's own control
// flow exactly as Throw would, so the ThrowTo node's own next is never
// reached in that case — there is nothing for the sender to "continue
// into" once it has just killed or redirected itself.
func (ip *Interp) stepThrowTo(tid id.ThreadID, act ThreadAction, node *action.Node) StepOutcome {
	target := node.Target
	ts, ok := ip.Threads.Get(target)
	if !ok {
		// Target already finished or was killed; throwTo on a
		// nonexistent thread is a no-op delivery.
		ip.Threads.Goto(tid, node.Next(nil))
		return StepOutcome{Action: act}
	}
	if !interruptible(ts) {
		ip.Threads.Block(tid, Block{Kind: BlockMask, Target: target})
		return StepOutcome{Action: act, Blocked: true}
	}

	if dispatchThrow(ts, node.Exc) == DeliverKilled {
		ip.Threads.Kill(target)
		if target == id.MainThread {
			return StepOutcome{Action: act, Dead: target == tid, Failure: &Failure{Kind: FailureUncaughtException, Exc: node.Exc}}
		}
		if target == tid {
			return StepOutcome{Action: act, Dead: true}
		}
		ip.Threads.Goto(tid, node.Next(nil))
		return StepOutcome{Action: act}
	}

	// DeliverHandled: target's Cont now runs the matching handler. If
	// target is this same sender, that replacement is already tid's
	// next step and must not be overwritten by node.Next.
	if target != tid {
		ip.Threads.Goto(tid, node.Next(nil))
	}
	return StepOutcome{Action: act}
}
