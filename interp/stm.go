package interp

import (
	"fmt"

	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/id"
)

// tvarState is the state of one transactional variable: just its
// current committed value. Unlike an MV there is no full/empty flag
// and unlike an MR there is no memory model; TVars are only ever
// touched from inside a transaction, which is atomic by construction.
type tvarState struct {
	ID    id.TVarID
	Value any
}

// TVarStore holds every TVar created during a run, shared between an
// outer interpreter and its sub-computations exactly like Memory.
type TVarStore struct {
	vars map[id.TVarID]*tvarState
}

func newTVarStore() *TVarStore {
	return &TVarStore{vars: make(map[id.TVarID]*tvarState)}
}

// New creates a TVar with the given initial value.
func (s *TVarStore) New(tid id.TVarID, initial any) {
	s.vars[tid] = &tvarState{ID: tid, Value: initial}
}

// Read returns a TVar's current committed value, ignoring any
// in-flight transaction log; callers go through Log's read-your-own-
// write lookup first.
func (s *TVarStore) Read(tid id.TVarID) any {
	return s.vars[tid].Value
}

// Commit applies every write in a successful transaction's log and
// returns the set of TVar ids it wrote (whether or not the value
// differs from the old one), for the caller to fold into a BlockTVars
// wake.
func (s *TVarStore) Commit(writes map[id.TVarID]any) map[id.TVarID]struct{} {
	touched := make(map[id.TVarID]struct{}, len(writes))
	for tvar, v := range writes {
		s.vars[tvar].Value = v
		touched[tvar] = struct{}{}
	}
	return touched
}

// Log is one transaction attempt's read and write sets: every TVar it
// consulted (Reads) and every TVar it assigned (Writes). Reads is used
// to compute the block set on Retry; Writes is applied to the store
// only if the transaction as a whole succeeds.
type Log struct {
	Reads  map[id.TVarID]struct{}
	Writes map[id.TVarID]any
}

func newLog() *Log {
	return &Log{Reads: make(map[id.TVarID]struct{}), Writes: make(map[id.TVarID]any)}
}

func (l *Log) cloneWrites() map[id.TVarID]any {
	out := make(map[id.TVarID]any, len(l.Writes))
	for k, v := range l.Writes {
		out[k] = v
	}
	return out
}

// read implements read-your-own-write: a TVar this attempt has already
// written is served from the log, otherwise from the store, and every
// read (log or store) is recorded so Retry knows the full block set.
func (l *Log) read(store *TVarStore, tvar id.TVarID) any {
	l.Reads[tvar] = struct{}{}
	if v, ok := l.Writes[tvar]; ok {
		return v
	}
	return store.Read(tvar)
}

// OutcomeKind classifies how a transaction attempt ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetry
	OutcomeAborted
)

// Outcome is the result of running a complete Atomically block to
// completion: either it committed a value and a write set, it hit an
// unconditional Retry and reports the read set to block on, or it
// ended in an uncaught STM-level exception.
type Outcome struct {
	Kind    OutcomeKind
	Value   any
	Exc     *action.Exception
	ReadSet map[id.TVarID]struct{}
	// Writes holds every TVar this attempt assigned and the value it
	// assigned, ready for TVarStore.Commit. Only meaningful when Kind
	// is OutcomeSuccess.
	Writes map[id.TVarID]any
}

// txKind classifies how one branch of transaction evaluation ended,
// before the top level decides whether a Retry means "block the whole
// transaction" or "try the other side of an OrElse".
type txKind int

const (
	txSuccess txKind = iota
	txRetry
	txThrown
)

type txResult struct {
	kind  txKind
	value any
	exc   *action.Exception
}

// EvalAtomically runs one full attempt of a transaction tree to
// completion against store, using ids to mint any TVar the
// transaction allocates with TNew. TNew registers its new TVar in
// store as soon as it runs, whatever the outcome; apart from that it
// never mutates store, and only a Success outcome's writes are left
// for the caller to Commit.
func EvalAtomically(root *action.Node, store *TVarStore, ids *id.Source) Outcome {
	log := newLog()
	r := evalTx(root, store, log, ids)
	switch r.kind {
	case txSuccess:
		return Outcome{Kind: OutcomeSuccess, Value: r.value, Writes: log.Writes}
	case txThrown:
		return Outcome{Kind: OutcomeAborted, Exc: r.exc}
	default:
		return Outcome{Kind: OutcomeRetry, ReadSet: tvarKeySet(log.Reads)}
	}
}

// tvarKeySet copies a map's keys into a fresh set, decoupling the
// result from a Log that the interpreter may go on to reuse or
// discard.
func tvarKeySet[V any](m map[id.TVarID]V) map[id.TVarID]struct{} {
	out := make(map[id.TVarID]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

// evalTx walks a transaction chain to its terminal TReturn, TRetry or
// TThrow, recursing into TOrElse/TCatch's branches. log accumulates
// across the whole attempt; OrElse and Catch snapshot and restore its
// Writes around a branch that may retry or throw, matching the outer
// interpreter's own exception-handler save/restore discipline.
func evalTx(node *action.Node, store *TVarStore, log *Log, ids *id.Source) txResult {
	for {
		if node == nil {
			panic("interp: nil continuation inside a transaction")
		}
		switch node.Kind {
		case action.KindTRead:
			v := log.read(store, node.TVar)
			node = node.Next(v)

		case action.KindTWrite:
			log.Writes[node.TVar] = node.Value
			node = node.Next(nil)

		case action.KindTNew:
			tvar := ids.NextTVar("tvar")
			store.New(tvar, node.Value)
			node = node.Next(tvar)

		case action.KindTRetry:
			return txResult{kind: txRetry}

		case action.KindTReturn:
			return txResult{kind: txSuccess, value: node.Value}

		case action.KindTThrow:
			return txResult{kind: txThrown, exc: node.Exc}

		case action.KindTOrElse:
			snapshot := log.cloneWrites()
			a := evalTx(node.Branch, store, log, ids)
			if a.kind == txSuccess {
				node = node.Next(a.value)
				continue
			}
			if a.kind == txThrown {
				return a
			}
			log.Writes = snapshot
			b := evalTx(node.Alt, store, log, ids)
			if b.kind != txSuccess {
				return b
			}
			node = node.Next(b.value)

		case action.KindTCatch:
			snapshot := log.cloneWrites()
			a := evalTx(node.Branch, store, log, ids)
			if a.kind != txThrown {
				if a.kind == txSuccess {
					node = node.Next(a.value)
					continue
				}
				return a
			}
			if node.Handler == nil || !node.Handler.Accepts(a.exc) {
				return a
			}
			log.Writes = snapshot
			handled := node.Handler.Handle(a.exc)
			h := evalTx(handled, store, log, ids)
			if h.kind != txSuccess {
				return h
			}
			node = node.Next(h.value)

		default:
			panic(fmt.Sprintf("interp: action kind %d is not valid inside a transaction", node.Kind))
		}
	}
}
