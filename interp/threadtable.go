package interp

import (
	"sort"

	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/id"
)

// ThreadTable is the mapping from thread id to thread state for one
// interpreter level (the outer run, or one sub-computation). It is
// single-owner: exactly one scheduler loop mutates it at a time, so no
// locking is needed inside the core.
type ThreadTable struct {
	threads map[id.ThreadID]*ThreadState
}

// NewThreadTable returns an empty table.
func NewThreadTable() *ThreadTable {
	return &ThreadTable{threads: make(map[id.ThreadID]*ThreadState)}
}

// Get returns the thread state for tid, if it exists.
func (t *ThreadTable) Get(tid id.ThreadID) (*ThreadState, bool) {
	ts, ok := t.threads[tid]
	return ts, ok
}

// Exists reports whether tid is still present in the table.
func (t *ThreadTable) Exists(tid id.ThreadID) bool {
	_, ok := t.threads[tid]
	return ok
}

// Install inserts a brand-new thread with the given starting
// continuation and masking state. Used both for the main thread and
// for Launch.
func (t *ThreadTable) Install(tid id.ThreadID, cont *action.Node, masking action.MaskingState) {
	t.threads[tid] = &ThreadState{ID: tid, Cont: cont, Masking: masking}
}

// Launch inserts a new thread forked from parent, inheriting parent's
// masking state per the spec's launch(parent, new, make_action).
func (t *ThreadTable) Launch(parent id.ThreadID, tid id.ThreadID, cont *action.Node) {
	masking := action.Unmasked
	if p, ok := t.threads[parent]; ok {
		masking = p.Masking
	}
	t.Install(tid, cont, masking)
}

// Kill removes a thread from the table entirely. Any sender blocked
// in ThrowTo waiting for tid to become interruptible is woken too: a
// dead target can never become interruptible, so its ThrowTo senders
// must get a chance to re-check and find stepThrowTo's no-op-delivery
// path instead of blocking forever.
func (t *ThreadTable) Kill(tid id.ThreadID) {
	delete(t.threads, tid)
	t.Wake(WakeReason{Kind: BlockMask, Target: tid})
}

// Goto replaces a thread's continuation in place.
func (t *ThreadTable) Goto(tid id.ThreadID, next *action.Node) {
	if ts, ok := t.threads[tid]; ok {
		ts.Cont = next
	}
}

// Block marks tid as blocked for the given reason. If tid is
// MaskedInterruptible, this also wakes any sender blocked in ThrowTo
// waiting specifically for tid to become interruptible-while-blocked.
func (t *ThreadTable) Block(tid id.ThreadID, b Block) {
	ts, ok := t.threads[tid]
	if !ok {
		return
	}
	ts.Block = b
	if ts.Masking == action.MaskedInterruptible {
		t.Wake(WakeReason{Kind: BlockMask, Target: tid})
	}
}

// Unblock clears tid's block reason, making it runnable again.
func (t *ThreadTable) Unblock(tid id.ThreadID) {
	if ts, ok := t.threads[tid]; ok {
		ts.Block = Block{}
	}
}

// WakeReason describes what changed and therefore which waiters
// should be reconsidered. Exactly one of the fields is meaningful,
// selected by Kind, matching the four cases of the spec's wake(reason)
// matching rule.
type WakeReason struct {
	Kind   BlockKind
	MVar   id.MVarID
	TVars  map[id.TVarID]struct{}
	Target id.ThreadID
}

// Wake unblocks every thread whose block reason matches r and returns
// their ids in ascending order. The scheduler re-picks among the
// resulting runnable set on its next iteration; for MVars, at most one
// of several woken waiters will actually succeed when stepped, and
// the rest re-block.
func (t *ThreadTable) Wake(r WakeReason) []id.ThreadID {
	var woken []id.ThreadID
	for _, tid := range t.sortedIDs() {
		ts := t.threads[tid]
		if ts.Block.Kind == BlockNone {
			continue
		}
		switch r.Kind {
		case BlockPut:
			if ts.Block.Kind == BlockPut && ts.Block.MVar == r.MVar {
				woken = append(woken, tid)
			}
		case BlockTake:
			if ts.Block.Kind == BlockTake && ts.Block.MVar == r.MVar {
				woken = append(woken, tid)
			}
		case BlockTVars:
			if ts.Block.Kind == BlockTVars && intersects(ts.Block.TVars, r.TVars) {
				woken = append(woken, tid)
			}
		case BlockMask:
			if ts.Block.Kind == BlockMask && ts.Block.Target == r.Target {
				woken = append(woken, tid)
			}
		}
	}
	for _, tid := range woken {
		t.threads[tid].Block = Block{}
	}
	return woken
}

func intersects(a, b map[id.TVarID]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// Runnable returns the ids of every thread (real or commit
// pseudo-thread) whose block reason is absent, in ascending order.
func (t *ThreadTable) Runnable() []id.ThreadID {
	var out []id.ThreadID
	for _, tid := range t.sortedIDs() {
		if t.threads[tid].Runnable() {
			out = append(out, tid)
		}
	}
	return out
}

// Blocked returns the ids of every thread that is currently blocked,
// in ascending order.
func (t *ThreadTable) Blocked() []id.ThreadID {
	var out []id.ThreadID
	for _, tid := range t.sortedIDs() {
		if !t.threads[tid].Runnable() {
			out = append(out, tid)
		}
	}
	return out
}

// MainPresent reports whether the reserved main thread id is still in
// the table.
func (t *ThreadTable) MainPresent() bool {
	_, ok := t.threads[id.MainThread]
	return ok
}

func (t *ThreadTable) sortedIDs() []id.ThreadID {
	out := make([]id.ThreadID, 0, len(t.threads))
	for tid := range t.threads {
		out = append(out, tid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}
