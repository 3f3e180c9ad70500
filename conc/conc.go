// Package conc is the user-facing combinator library for building a
// computation: a tree of action.Node values wired together by
// continuation closures. A program never constructs an action.Node
// directly; it calls these combinators, each of which takes the
// typed continuation for "what happens after this primitive" and
// returns the Node the interpreter steps.
//
// This mirrors a free monad over the action algebra's primitive
// functor. Go has no do-notation, so the bind is simply: call the
// combinator for the primitive you want, and supply a function from
// its result to the rest of the computation.
package conc

import (
	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/id"
)

// Node is the public name for one step of a computation; callers
// thread these together but never need to know action.Node's shape.
type Node = action.Node

// Fork schedules child to run as a new thread and continues the
// calling thread via next with the new thread's id.
func Fork(child *Node, next func(id.ThreadID) *Node) *Node {
	return &Node{Kind: action.KindFork, Branch: child, Next: func(r any) *Node { return next(r.(id.ThreadID)) }}
}

// MyThreadID continues with the calling thread's own id.
func MyThreadID(next func(id.ThreadID) *Node) *Node {
	return &Node{Kind: action.KindMyThreadID, Next: func(r any) *Node { return next(r.(id.ThreadID)) }}
}

// GetNumCapabilities continues with the run's current capability
// count.
func GetNumCapabilities(next func(int) *Node) *Node {
	return &Node{Kind: action.KindGetCaps, Next: func(r any) *Node { return next(r.(int)) }}
}

// SetNumCapabilities sets the run's capability count.
func SetNumCapabilities(n int, next func() *Node) *Node {
	return &Node{Kind: action.KindSetCaps, NumCaps: n, Next: func(any) *Node { return next() }}
}

// Yield offers the scheduler a chance to switch away without
// blocking.
func Yield(next func() *Node) *Node {
	return &Node{Kind: action.KindYield, Next: func(any) *Node { return next() }}
}

// NewEmptyMV creates an empty blocking cell.
func NewEmptyMV(next func(id.MVarID) *Node) *Node {
	return &Node{Kind: action.KindNewMV, Next: func(r any) *Node { return next(r.(id.MVarID)) }}
}

// NewFullMV creates a blocking cell pre-filled with initial.
func NewFullMV(initial any, next func(id.MVarID) *Node) *Node {
	return &Node{Kind: action.KindNewMV, Value: initial, Next: func(r any) *Node { return next(r.(id.MVarID)) }}
}

// PutMV blocks until mv is empty, then fills it with v.
func PutMV(mv id.MVarID, v any, next func() *Node) *Node {
	return &Node{Kind: action.KindPutMV, MVar: mv, Value: v, Next: func(any) *Node { return next() }}
}

// TryPutMV fills mv with v iff it is currently empty, without
// blocking.
func TryPutMV(mv id.MVarID, v any, next func(bool) *Node) *Node {
	return &Node{Kind: action.KindTryPutMV, MVar: mv, Value: v, Next: func(r any) *Node { return next(r.(bool)) }}
}

// TakeMV blocks until mv is full, then empties it and continues with
// its value.
func TakeMV(mv id.MVarID, next func(any) *Node) *Node {
	return &Node{Kind: action.KindTakeMV, MVar: mv, Next: func(r any) *Node { return next(r) }}
}

// TryTakeMV empties mv iff it is currently full, without blocking.
func TryTakeMV(mv id.MVarID, next func(action.TryResult) *Node) *Node {
	return &Node{Kind: action.KindTryTakeMV, MVar: mv, Next: func(r any) *Node { return next(r.(action.TryResult)) }}
}

// ReadMV blocks until mv is full, then continues with its value
// without emptying it.
func ReadMV(mv id.MVarID, next func(any) *Node) *Node {
	return &Node{Kind: action.KindReadMV, MVar: mv, Next: func(r any) *Node { return next(r) }}
}

// TryReadMV reads mv without blocking.
func TryReadMV(mv id.MVarID, next func(action.TryResult) *Node) *Node {
	return &Node{Kind: action.KindTryReadMV, MVar: mv, Next: func(r any) *Node { return next(r.(action.TryResult)) }}
}

// NewMR creates a mutable cell with the given initial value.
func NewMR(initial any, next func(id.MRefID) *Node) *Node {
	return &Node{Kind: action.KindNewMR, Value: initial, Next: func(r any) *Node { return next(r.(id.MRefID)) }}
}

// ReadMR continues with the calling thread's current view of mr:
// its own latest pending write if one exists under a relaxed memory
// model, else the last committed value.
func ReadMR(mr id.MRefID, next func(any) *Node) *Node {
	return &Node{Kind: action.KindReadMR, MRef: mr, Next: func(r any) *Node { return next(r) }}
}

// WriteMR writes v to mr, subject to the run's memory model: under
// relaxed models the write lands in the calling thread's store buffer
// and becomes visible to other threads only when its commit
// pseudo-thread is scheduled.
func WriteMR(mr id.MRefID, v any, next func() *Node) *Node {
	return &Node{Kind: action.KindWriteMR, MRef: mr, Value: v, Next: func(any) *Node { return next() }}
}

// ModifyMR atomically flushes the calling thread's pending writes to
// mr, applies f to the committed value and commits the result, all as
// one uninterruptible step.
func ModifyMR(mr id.MRefID, f func(any) any, next func() *Node) *Node {
	return &Node{Kind: action.KindModifyMR, MRef: mr, ModifyFn: f, Next: func(any) *Node { return next() }}
}

// ReadForCas takes a ticket snapshotting mr's current value and write
// counter, for later validation by CasMR.
func ReadForCas(mr id.MRefID, next func(*action.Ticket) *Node) *Node {
	return &Node{Kind: action.KindReadForCas, MRef: mr, Next: func(r any) *Node { return next(r.(*action.Ticket)) }}
}

// CasMR attempts to replace mr's value with newValue, succeeding only
// if no write has committed to mr since ticket was taken.
func CasMR(ticket *action.Ticket, newValue any, next func(action.CasResult) *Node) *Node {
	return &Node{Kind: action.KindCasMR, MRef: ticket.Ref, Ticket: ticket, Value: newValue, Next: func(r any) *Node { return next(r.(action.CasResult)) }}
}

// PeekTicket continues with a CasResult's current ticket without
// retrying the CAS, useful for reporting the value a failed CAS saw.
func PeekTicket(result action.CasResult, next func(*action.Ticket) *Node) *Node {
	return next(result.Ticket)
}

// Atomically runs tx as one all-or-nothing transaction: it commits and
// continues with its result, or the whole transaction retries from
// scratch once one of the TVars it read changes.
func Atomically(tx *Node, next func(any) *Node) *Node {
	return &Node{Kind: action.KindAtomically, Branch: tx, Next: func(r any) *Node { return next(r) }}
}

// NewTVar creates a transactional variable, valid only inside a
// transaction built with Atomically.
func NewTVar(initial any, next func(id.TVarID) *Node) *Node {
	return &Node{Kind: action.KindTNew, Value: initial, Next: func(r any) *Node { return next(r.(id.TVarID)) }}
}

// ReadTVar reads a TVar's value inside a transaction.
func ReadTVar(tv id.TVarID, next func(any) *Node) *Node {
	return &Node{Kind: action.KindTRead, TVar: tv, Next: func(r any) *Node { return next(r) }}
}

// WriteTVar writes a TVar's value inside a transaction; the write is
// only visible outside the transaction if it commits.
func WriteTVar(tv id.TVarID, v any, next func() *Node) *Node {
	return &Node{Kind: action.KindTWrite, TVar: tv, Value: v, Next: func(any) *Node { return next() }}
}

// Retry unconditionally aborts the current transaction attempt and
// re-runs it once a TVar it read changes.
func Retry() *Node {
	return &Node{Kind: action.KindTRetry}
}

// OrElse runs a; if a retries, its writes are discarded and b runs
// instead with the same read set accumulated so far.
func OrElse(a, b *Node, next func(any) *Node) *Node {
	return &Node{Kind: action.KindTOrElse, Branch: a, Alt: b, Next: func(r any) *Node { return next(r) }}
}

// ThrowSTM raises exc inside a transaction, aborting it unless a
// CatchSTM further out accepts it.
func ThrowSTM(exc *action.Exception) *Node {
	return &Node{Kind: action.KindTThrow, Exc: exc}
}

// CatchSTM runs a; if it throws an exception accept matches, its
// writes are discarded and handle's result is run instead.
func CatchSTM(a *Node, accept func(*action.Exception) bool, handle func(*action.Exception) *Node, next func(any) *Node) *Node {
	return &Node{
		Kind:   action.KindTCatch,
		Branch: a,
		Handler: &action.Handler{
			Accepts: accept,
			Handle:  handle,
		},
		Next: func(r any) *Node { return next(r) },
	}
}

// ReturnSTM ends a transaction attempt successfully with value,
// making it eligible to commit.
func ReturnSTM(value any) *Node {
	return &Node{Kind: action.KindTReturn, Value: value}
}

// Throw raises exc as a synchronous exception in the calling thread.
func Throw(exc *action.Exception) *Node {
	return &Node{Kind: action.KindThrow, Exc: exc}
}

// ThrowTo raises exc in target. If target cannot currently receive it
// (it is masked and running), the calling thread blocks until it can.
func ThrowTo(target id.ThreadID, exc *action.Exception, next func() *Node) *Node {
	return &Node{Kind: action.KindThrowTo, Target: target, Exc: exc, Next: func(any) *Node { return next() }}
}

// Catch runs body with handler pushed onto the calling thread's
// handler stack. Nothing pops the handler automatically: body must
// end with PopCatching so the handler is popped when body finishes
// normally.
func Catch(body *Node, accept func(*action.Exception) bool, handle func(*action.Exception) *Node) *Node {
	return &Node{
		Kind:   action.KindCatching,
		Branch: body,
		Handler: &action.Handler{
			Accepts: accept,
			Handle:  handle,
		},
	}
}

// PopCatching pops the innermost handler and continues with value;
// every Catch's body must end by calling this (directly or through a
// combinator that does) so the handler does not outlive its scope.
// A handle function given to Catch must not call it itself: a
// dispatched throw already truncates the handler stack back past the
// frame it matched, so handle's own result continues directly.
func PopCatching(value any, next func(any) *Node) *Node {
	return &Node{Kind: action.KindPopCatching, Value: value, Next: func(r any) *Node { return next(r) }}
}

// Mask raises the calling thread's masking state to
// MaskedInterruptible and continues via body with a restore function
// that sets it back to whatever it was before this call, mirroring
// the restore-action a mask combinator hands its body in languages
// with native asynchronous exceptions.
func Mask(body func(restore func(func() *Node) *Node) *Node) *Node {
	return &Node{
		Kind:    action.KindSetMasking,
		Masking: action.MaskedInterruptible,
		Next: func(r any) *Node {
			prev := r.(action.MaskingState)
			return body(func(next func() *Node) *Node {
				return &Node{Kind: action.KindResetMasking, Masking: prev, Next: func(any) *Node { return next() }}
			})
		},
	}
}

// UninterruptibleMask is Mask with MaskedUninterruptible: ThrowTo
// against this thread blocks unconditionally until restore is called.
func UninterruptibleMask(body func(restore func(func() *Node) *Node) *Node) *Node {
	return &Node{
		Kind:    action.KindSetMasking,
		Masking: action.MaskedUninterruptible,
		Next: func(r any) *Node {
			prev := r.(action.MaskingState)
			return body(func(next func() *Node) *Node {
				return &Node{Kind: action.KindResetMasking, Masking: prev, Next: func(any) *Node { return next() }}
			})
		},
	}
}

// Unmask drops the calling thread all the way to Unmasked and
// continues via next, independent of any enclosing Mask's restore
// function; most callers should prefer the restore function Mask
// hands them, which is exception-safe in the sense of returning to
// the enclosing mask rather than clobbering it.
func Unmask(next func() *Node) *Node {
	return &Node{Kind: action.KindResetMasking, Masking: action.Unmasked, Next: func(any) *Node { return next() }}
}

// Lift runs an arbitrary Go side effect as one step, continuing with
// its result. A returned error is raised as a synchronous exception
// tagged "interp.liftError".
func Lift(effect func() (any, error), next func(any) *Node) *Node {
	return &Node{Kind: action.KindLift, Effect: effect, Next: func(r any) *Node { return next(r) }}
}

// Return continues immediately with value, performing no primitive
// action.
func Return(value any, next func(any) *Node) *Node {
	return &Node{Kind: action.KindReturn, Value: value, Next: func(r any) *Node { return next(r) }}
}

// Stop ends the calling thread; if it is the run's main thread (or a
// subconcurrency block's own root thread), value becomes the run's
// result.
func Stop(value any) *Node {
	return &Node{Kind: action.KindStop, Value: value}
}

// Subconcurrency runs body as a fully isolated nested computation and
// continues with its reified outcome instead of propagating a failure
// up as the calling thread's own failure.
func Subconcurrency(body *Node, next func(any) *Node) *Node {
	return &Node{Kind: action.KindSubconcurrency, Branch: body, Next: func(r any) *Node { return next(r) }}
}
