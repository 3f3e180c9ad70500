package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/id"
)

func TestAtomicallyCommitsAndReturnsValue(t *testing.T) {
	store := newTVarStore()
	ids := id.NewSource()
	tv := id.TVarID{Num: 0}
	store.New(tv, 1)

	root := &action.Node{Kind: action.KindTRead, TVar: tv, Next: func(r any) *action.Node {
		return &action.Node{Kind: action.KindTWrite, TVar: tv, Value: r.(int) + 1, Next: func(any) *action.Node {
			return &action.Node{Kind: action.KindTReturn, Value: r}
		}}
	}}

	out := EvalAtomically(root, store, ids)
	require.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, 1, out.Value)
	assert.Equal(t, 2, out.Writes[tv])
	assert.Equal(t, 1, store.Read(tv), "store is untouched until the caller Commits")

	store.Commit(out.Writes)
	assert.Equal(t, 2, store.Read(tv))
}

func TestRetryReportsReadSet(t *testing.T) {
	store := newTVarStore()
	ids := id.NewSource()
	tv := id.TVarID{Num: 0}
	store.New(tv, 0)

	root := &action.Node{Kind: action.KindTRead, TVar: tv, Next: func(any) *action.Node {
		return &action.Node{Kind: action.KindTRetry}
	}}

	out := EvalAtomically(root, store, ids)
	require.Equal(t, OutcomeRetry, out.Kind)
	_, read := out.ReadSet[tv]
	assert.True(t, read)
}

func TestOrElseFallsBackOnRetryAndDiscardsFirstBranchWrites(t *testing.T) {
	store := newTVarStore()
	ids := id.NewSource()
	tv := id.TVarID{Num: 0}
	store.New(tv, 0)

	a := &action.Node{Kind: action.KindTWrite, TVar: tv, Value: 99, Next: func(any) *action.Node {
		return &action.Node{Kind: action.KindTRetry}
	}}
	b := &action.Node{Kind: action.KindTReturn, Value: "fallback"}

	root := &action.Node{Kind: action.KindTOrElse, Branch: a, Alt: b, Next: func(r any) *action.Node {
		return &action.Node{Kind: action.KindTReturn, Value: r}
	}}

	out := EvalAtomically(root, store, ids)
	require.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, "fallback", out.Value)
	_, wrote := out.Writes[tv]
	assert.False(t, wrote, "the retried branch's write must not survive into the committed set")
}

func TestCatchHandlesMatchingExceptionAndDiscardsBranchWrites(t *testing.T) {
	store := newTVarStore()
	ids := id.NewSource()
	tv := id.TVarID{Num: 0}
	store.New(tv, 0)

	body := &action.Node{Kind: action.KindTWrite, TVar: tv, Value: 7, Next: func(any) *action.Node {
		return &action.Node{Kind: action.KindTThrow, Exc: &action.Exception{Tag: "boom"}}
	}}

	root := &action.Node{
		Kind:   action.KindTCatch,
		Branch: body,
		Handler: &action.Handler{
			Accepts: func(exc *action.Exception) bool { return exc.Tag == "boom" },
			Handle:  func(exc *action.Exception) *action.Node { return &action.Node{Kind: action.KindTReturn, Value: "recovered"} },
		},
		Next: func(r any) *action.Node { return &action.Node{Kind: action.KindTReturn, Value: r} },
	}

	out := EvalAtomically(root, store, ids)
	require.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, "recovered", out.Value)
	_, wrote := out.Writes[tv]
	assert.False(t, wrote)
}

func TestTNewAllocatesAFreshTVar(t *testing.T) {
	store := newTVarStore()
	ids := id.NewSource()

	root := &action.Node{Kind: action.KindTNew, Value: 42, Next: func(r any) *action.Node {
		tv := r.(id.TVarID)
		return &action.Node{Kind: action.KindTReturn, Value: store.Read(tv)}
	}}

	out := EvalAtomically(root, store, ids)
	require.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, 42, out.Value)
}
