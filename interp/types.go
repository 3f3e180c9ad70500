// Package interp is the core interpreter: the thread table, the
// blocking cell and mutable cell stores, the STM kernel, the
// exception layer, and the scheduler loop that ties them together by
// stepping one thread one action at a time.
package interp

import (
	"fmt"

	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/id"
)

// BlockKind classifies why a thread is not runnable.
type BlockKind int

const (
	BlockNone BlockKind = iota
	BlockPut            // blocked in put: the MVar is full
	BlockTake           // blocked in take/read: the MVar is empty
	BlockTVars          // blocked in a retried STM transaction
	BlockMask           // blocked in throwTo, waiting for Target to become interruptible
	BlockCommitEmpty    // a commit pseudo-thread with nothing pending
)

// Block describes a thread's block-on reason. Which fields are
// meaningful depends on Kind.
type Block struct {
	Kind   BlockKind
	MVar   id.MVarID
	TVars  map[id.TVarID]struct{}
	Target id.ThreadID
}

func (b Block) String() string {
	switch b.Kind {
	case BlockNone:
		return "runnable"
	case BlockPut:
		return fmt.Sprintf("blocked(put %s)", b.MVar)
	case BlockTake:
		return fmt.Sprintf("blocked(take %s)", b.MVar)
	case BlockTVars:
		return fmt.Sprintf("blocked(stm %d vars)", len(b.TVars))
	case BlockMask:
		return fmt.Sprintf("blocked(mask %s)", b.Target)
	case BlockCommitEmpty:
		return "blocked(commit queue empty)"
	default:
		return "blocked(?)"
	}
}

// HandlerFrame is one entry of a thread's exception-handler stack.
// Depth is the stack length *before* this handler was pushed, so a
// normal (non-exceptional) pop can restore to len-1 and a dispatched
// throw can truncate straight back to Depth.
type HandlerFrame struct {
	Depth   int
	Handler *action.Handler
}

// ThreadState is everything the interpreter tracks for one live
// thread: its continuation, its block reason (if any), its
// exception-handler stack and its masking state.
type ThreadState struct {
	ID       id.ThreadID
	Cont     *action.Node
	Block    Block
	Handlers []HandlerFrame
	Masking  action.MaskingState

	// Stepped records whether the thread has run yet, so the trace
	// gives it Start exactly once; see Decision in trace.go.
	Stepped bool
}

// Runnable reports whether a thread can be picked by the scheduler.
func (t *ThreadState) Runnable() bool { return t.Block.Kind == BlockNone }

func (t *ThreadState) pushHandler(h *action.Handler) {
	t.Handlers = append(t.Handlers, HandlerFrame{Depth: len(t.Handlers), Handler: h})
}

func (t *ThreadState) popHandler() {
	if len(t.Handlers) == 0 {
		panic("interp: PopCatching with an empty handler stack")
	}
	t.Handlers = t.Handlers[:len(t.Handlers)-1]
}
