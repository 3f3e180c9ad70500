// Package action defines the action algebra: the tagged sum of
// primitive operations a suspended thread can expose to the
// interpreter, plus the few small value types (masking state,
// exceptions, tickets) those primitives carry.
//
// A computation is a tree of *Node values where every non-terminal
// node carries a continuation (Next) describing what to run with the
// primitive's result. This is a defunctionalised continuation: in a
// language with native support for it you would write this as a free
// monad over a primitive functor, but a plain struct with a typed
// Kind tag and a closure plays the same role in Go.
package action

import "github.com/loomtest/loom/id"

// Kind tags which primitive a Node represents. Node fields are
// populated according to Kind; see the comment on each Kind value for
// which fields it uses.
type Kind int

const (
	// Thread control.
	KindFork       Kind = iota // Branch: child; Next(newTid)
	KindMyThreadID             // Next(ownTid)
	KindGetCaps                // Next(numCaps)
	KindSetCaps                // NumCaps; Next(nil)
	KindYield                  // Next(nil)

	// Blocking cells (MV).
	KindNewMV     // Value (initial, or nil for empty); Next(newMVarID)
	KindPutMV     // MVar, Value; Next(nil)
	KindTryPutMV  // MVar, Value; Next(ok bool)
	KindTakeMV    // MVar; Next(value)
	KindTryTakeMV // MVar; Next(value, ok bool) via TryResult
	KindReadMV    // MVar; Next(value)
	KindTryReadMV // MVar; Next(value, ok bool) via TryResult

	// Mutable cells (MR).
	KindNewMR      // Value (initial); Next(newMRefID)
	KindReadMR     // MRef; Next(value)
	KindWriteMR    // MRef, Value; Next(nil)
	KindModifyMR   // MRef, ModifyFn; Next(nil)
	KindCasMR      // MRef, Ticket, Value; Next(CasResult)
	KindReadForCas // MRef; Next(*Ticket)
	KindCommitMR   // MRef, Target (writer tid); produced only by the interpreter

	// STM.
	KindAtomically // Transaction; Next(result)

	// Exceptions.
	KindThrow        // Exc
	KindThrowTo      // Target, Exc; Next(nil)
	KindCatching     // Handler, Branch (body root)
	KindPopCatching  // Value (result to forward); Next(value)
	KindSetMasking   // Masking, Outer; Next(previousMasking)
	KindResetMasking // Masking, Outer; Next(nil)

	// Misc.
	KindLift           // Effect; Next(result)
	KindReturn         // Value; Next(value)
	KindStop           // Value (final result); terminal, no Next
	KindSubconcurrency // Branch (body root); Next(Outcome)

	// STM-transaction-only primitives (see stm.go in package interp).
	KindTRead    // TVar; Next(value)
	KindTWrite   // TVar, Value; Next(nil)
	KindTNew     // Value (initial); Next(newTVarID)
	KindTRetry   // terminal within a transaction
	KindTOrElse  // Branch (a), Alt (b); Next(value)
	KindTCatch   // Branch (a), Handler; Next(value)
	KindTThrow   // Exc; terminal within a transaction
	KindTReturn  // Value; terminal within a transaction
)

func (k Kind) String() string {
	switch k {
	case KindFork:
		return "Fork"
	case KindMyThreadID:
		return "MyThreadID"
	case KindGetCaps:
		return "GetCaps"
	case KindSetCaps:
		return "SetCaps"
	case KindYield:
		return "Yield"
	case KindNewMV:
		return "NewMV"
	case KindPutMV:
		return "PutMV"
	case KindTryPutMV:
		return "TryPutMV"
	case KindTakeMV:
		return "TakeMV"
	case KindTryTakeMV:
		return "TryTakeMV"
	case KindReadMV:
		return "ReadMV"
	case KindTryReadMV:
		return "TryReadMV"
	case KindNewMR:
		return "NewMR"
	case KindReadMR:
		return "ReadMR"
	case KindWriteMR:
		return "WriteMR"
	case KindModifyMR:
		return "ModifyMR"
	case KindCasMR:
		return "CasMR"
	case KindReadForCas:
		return "ReadForCas"
	case KindCommitMR:
		return "CommitMR"
	case KindAtomically:
		return "Atomically"
	case KindThrow:
		return "Throw"
	case KindThrowTo:
		return "ThrowTo"
	case KindCatching:
		return "Catching"
	case KindPopCatching:
		return "PopCatching"
	case KindSetMasking:
		return "SetMasking"
	case KindResetMasking:
		return "ResetMasking"
	case KindLift:
		return "Lift"
	case KindReturn:
		return "Return"
	case KindStop:
		return "Stop"
	case KindSubconcurrency:
		return "Subconcurrency"
	case KindTRead:
		return "TRead"
	case KindTWrite:
		return "TWrite"
	case KindTNew:
		return "TNew"
	case KindTRetry:
		return "TRetry"
	case KindTOrElse:
		return "TOrElse"
	case KindTCatch:
		return "TCatch"
	case KindTThrow:
		return "TThrow"
	case KindTReturn:
		return "TReturn"
	default:
		return "Unknown"
	}
}

// MaskingState is one of the three asynchronous-exception masking
// levels a thread can be in.
type MaskingState int

const (
	Unmasked MaskingState = iota
	MaskedInterruptible
	MaskedUninterruptible
)

func (m MaskingState) String() string {
	switch m {
	case Unmasked:
		return "Unmasked"
	case MaskedInterruptible:
		return "MaskedInterruptible"
	case MaskedUninterruptible:
		return "MaskedUninterruptible"
	default:
		return "Unknown"
	}
}

// Exception is a dynamically typed user exception: a tag identifying
// its type plus an opaque payload, the Go stand-in for a type-tagged
// down-castable value.
type Exception struct {
	Tag   string
	Value any
}

// Handler is one entry of a thread's exception-handler stack.
type Handler struct {
	// Accepts reports whether this handler catches exc.
	Accepts func(exc *Exception) bool
	// Handle builds the continuation to run when this handler fires.
	Handle func(exc *Exception) *Node
}

// Ticket is a snapshot of an MR's value and write counter, used to
// validate a later compare-and-swap.
type Ticket struct {
	Ref     id.MRefID
	Value   any
	Counter uint64
}

// TryResult is the result of a non-blocking MV operation that may
// fail to find the cell in the state it needs.
type TryResult struct {
	Value any
	OK    bool
}

// CasResult is the result of a CasMR attempt.
type CasResult struct {
	OK     bool
	Ticket *Ticket
}

// Cont is the shape of every continuation: given the primitive's
// result, produce the next node to run.
type Cont func(result any) *Node

// Node is one primitive action plus what happens next. Not every
// field applies to every Kind; see the Kind constants above.
type Node struct {
	Kind Kind

	MVar   id.MVarID
	MRef   id.MRefID
	TVar   id.TVarID
	Target id.ThreadID

	Value    any
	Ticket   *Ticket
	ModifyFn func(any) any

	NumCaps int
	Masking MaskingState
	Outer   bool

	Handler *Handler
	Exc     *Exception

	Effect func() (any, error)

	// Branch/Alt hold nested sub-trees: Fork's child, Catching's body,
	// Subconcurrency's body, and TOrElse/TCatch's two arms.
	Branch *Node
	Alt    *Node

	Next Cont
}
