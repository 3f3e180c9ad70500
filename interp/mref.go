package interp

import (
	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/id"
)

// MemModel selects the relaxed-memory layer applied to every MR in a
// run.
type MemModel int

const (
	SequentialConsistency MemModel = iota
	TotalStoreOrder
	PartialStoreOrder
)

func (m MemModel) String() string {
	switch m {
	case SequentialConsistency:
		return "SequentialConsistency"
	case TotalStoreOrder:
		return "TotalStoreOrder"
	case PartialStoreOrder:
		return "PartialStoreOrder"
	default:
		return "Unknown"
	}
}

type pendingWrite struct {
	Value   any
	Ordinal uint64
}

type mrefState struct {
	ID        id.MRefID
	Committed any
	Counter   uint64
	// Pending is this ref's per-thread FIFO of uncommitted writes,
	// oldest first. Used for the read-your-own-write view regardless
	// of memory model; under SC it is always empty.
	Pending map[id.ThreadID][]pendingWrite
}

// commitKey names one commit-pseudo-thread's FIFO. Under TSO, Ref is
// always the zero value: one FIFO serializes all of a thread's writes
// across every ref. Under PSO, Ref distinguishes a separate FIFO per
// (thread, ref) pair.
type commitKey struct {
	Thread id.ThreadID
	Ref    id.MRefID
}

type commitEntry struct {
	Ref     id.MRefID
	Ordinal uint64
}

// Memory is the C5 mutable-cell store: every MR plus the memory
// model's commit queues and the commit pseudo-threads that publish
// them.
type Memory struct {
	model    MemModel
	refs     map[id.MRefID]*mrefState
	queues   map[commitKey][]commitEntry
	pseudos  map[commitKey]id.ThreadID
	pidToKey map[id.ThreadID]commitKey
	ordinal  uint64
}

func newMemory(model MemModel) *Memory {
	return &Memory{
		model:    model,
		refs:     make(map[id.MRefID]*mrefState),
		queues:   make(map[commitKey][]commitEntry),
		pseudos:  make(map[commitKey]id.ThreadID),
		pidToKey: make(map[id.ThreadID]commitKey),
	}
}

// Model reports the memory model this store was configured with.
func (m *Memory) Model() MemModel { return m.model }

// KeyOf resolves a commit pseudo-thread's id back to the queue it
// serves. Ok is false for any id that isn't a live pseudo-thread.
func (m *Memory) KeyOf(pid id.ThreadID) (key commitKey, ok bool) {
	key, ok = m.pidToKey[pid]
	return key, ok
}

// New creates a mutable cell with the given initial committed value.
func (m *Memory) New(rid id.MRefID, initial any) {
	m.refs[rid] = &mrefState{ID: rid, Committed: initial, Pending: make(map[id.ThreadID][]pendingWrite)}
}

func (m *Memory) view(tid id.ThreadID, rid id.MRefID) any {
	r := m.refs[rid]
	if pw := r.Pending[tid]; len(pw) > 0 {
		return pw[len(pw)-1].Value
	}
	return r.Committed
}

// Read implements read(tid): the thread's own latest pending write if
// any, else the committed value.
func (m *Memory) Read(tid id.ThreadID, rid id.MRefID) any {
	return m.view(tid, rid)
}

func (m *Memory) queueKey(tid id.ThreadID, rid id.MRefID) commitKey {
	if m.model == TotalStoreOrder {
		return commitKey{Thread: tid}
	}
	return commitKey{Thread: tid, Ref: rid}
}

// Write implements write(tid, v) per the configured memory model.
// table is needed so that TSO/PSO can expose their commit
// pseudo-threads as ordinary scheduler-visible runnable entries.
func (m *Memory) Write(tid id.ThreadID, rid id.MRefID, v any, table *ThreadTable) {
	r := m.refs[rid]
	if m.model == SequentialConsistency {
		r.Committed = v
		r.Counter++
		return
	}
	ord := m.ordinal
	m.ordinal++
	r.Pending[tid] = append(r.Pending[tid], pendingWrite{Value: v, Ordinal: ord})
	key := m.queueKey(tid, rid)
	m.queues[key] = append(m.queues[key], commitEntry{Ref: rid, Ordinal: ord})
	m.refreshPseudo(key, table)
}

// refreshPseudo keeps a commit queue's pseudo-thread runnable iff the
// queue is nonempty. The pseudo-thread has no continuation of its
// own; Step commits the queue's current head directly.
func (m *Memory) refreshPseudo(key commitKey, table *ThreadTable) {
	pid, ok := m.pseudos[key]
	if !ok {
		return // caller installs the pseudo-thread on first use; see EnsurePseudo
	}
	if len(m.queues[key]) == 0 {
		table.Block(pid, Block{Kind: BlockCommitEmpty})
		return
	}
	table.Unblock(pid)
}

// commitHead pops and commits the oldest entry of the queue named by
// key, returning which ref it published to. The caller must ensure
// the queue is nonempty.
func (m *Memory) commitHead(key commitKey) id.MRefID {
	entries := m.queues[key]
	head := entries[0]
	m.queues[key] = entries[1:]

	r := m.refs[head.Ref]
	pw := r.Pending[key.Thread]
	// The head of a per-ref pending FIFO always matches the head of
	// any commit queue that references it, by construction (writes
	// are appended to both in the same call).
	r.Pending[key.Thread] = pw[1:]
	r.Committed = pw[0].Value
	r.Counter++
	return head.Ref
}

// flush drains every commit queue belonging to tid synchronously,
// implementing the full barrier that ModifyMR and CasMR impose before
// they touch the committed value.
func (m *Memory) flush(tid id.ThreadID, table *ThreadTable) {
	if m.model == SequentialConsistency {
		return
	}
	if m.model == TotalStoreOrder {
		key := commitKey{Thread: tid}
		for len(m.queues[key]) > 0 {
			m.commitHead(key)
		}
		m.refreshPseudo(key, table)
		return
	}
	for rid := range m.refs {
		key := commitKey{Thread: tid, Ref: rid}
		for len(m.queues[key]) > 0 {
			m.commitHead(key)
		}
		m.refreshPseudo(key, table)
	}
}

// EnsurePseudo installs the commit pseudo-thread for (tid, ref) in
// table if it does not already exist, allocating its id from ids.
// Called by the interpreter just before every Write, so the queue's
// pseudo-thread already exists when the Write makes it runnable.
func (m *Memory) EnsurePseudo(tid id.ThreadID, rid id.MRefID, table *ThreadTable, ids *id.Source) id.ThreadID {
	if m.model == SequentialConsistency {
		return id.ThreadID{}
	}
	key := m.queueKey(tid, rid)
	pid, ok := m.pseudos[key]
	if !ok {
		pid = ids.NextCommitPseudo()
		m.pseudos[key] = pid
		m.pidToKey[pid] = key
		table.Install(pid, nil, action.Unmasked)
	}
	m.refreshPseudo(key, table)
	return pid
}

// ModifyMR implements the atomic read-modify-write with a full
// barrier: flush tid's own pending writes, then apply f and commit
// immediately, bypassing the commit queue entirely.
func (m *Memory) ModifyMR(tid id.ThreadID, rid id.MRefID, f func(any) any, table *ThreadTable) {
	m.flush(tid, table)
	r := m.refs[rid]
	r.Committed = f(r.Committed)
	r.Counter++
}

// ReadForCas returns a ticket capturing the caller's current view and
// the ref's global write counter.
func (m *Memory) ReadForCas(tid id.ThreadID, rid id.MRefID) (value any, counter uint64) {
	return m.view(tid, rid), m.refs[rid].Counter
}

// CasMR implements compare-and-swap: flush tid's own pending writes
// first (a CAS is a full fence), then compare against the globally
// committed value and counter, committing immediately on success.
func (m *Memory) CasMR(tid id.ThreadID, rid id.MRefID, ticketValue any, ticketCounter uint64, newValue any, table *ThreadTable) (ok bool, curValue any, curCounter uint64) {
	m.flush(tid, table)
	r := m.refs[rid]
	if r.Counter == ticketCounter && equalAny(r.Committed, ticketValue) {
		r.Committed = newValue
		r.Counter++
		return true, newValue, r.Counter
	}
	return false, r.Committed, r.Counter
}

// equalAny compares two ticket/committed values for the purposes of
// CAS validation. Values placed in an MR are expected to be
// comparable; an uncomparable pair (e.g. a slice) is defensively
// treated as unequal rather than panicking the run.
func equalAny(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// CommitQueueOf resolves the queueKey a CommitMR pseudo-thread action
// refers to, given the real writer thread and the ref it targets.
func (m *Memory) CommitQueueOf(writer id.ThreadID, rid id.MRefID) commitKey {
	return m.queueKey(writer, rid)
}

// StepCommit performs exactly one commit for the queue named by key,
// then refreshes the pseudo-thread's runnability, returning the ref
// that was published to.
func (m *Memory) StepCommit(key commitKey, table *ThreadTable) id.MRefID {
	rid := m.commitHead(key)
	m.refreshPseudo(key, table)
	return rid
}
