// Package test exercises the conc combinator surface end-to-end
// through model.Run, the way a user program actually sees loom.
package test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/conc"
	"github.com/loomtest/loom/id"
	"github.com/loomtest/loom/interp"
	"github.com/loomtest/loom/model"
	"github.com/loomtest/loom/schedulers"
)

func runSC(t *testing.T, root *action.Node) interp.Result {
	t.Helper()
	return model.Run(root, schedulers.RoundRobin{}, interp.SequentialConsistency, 10000)
}

// TestEmptyTakeBlocks is scenario 1 of the concrete end-to-end list:
// takeMV on a fresh empty MV with no writer deadlocks.
func TestEmptyTakeBlocks(t *testing.T) {
	root := conc.NewEmptyMV(func(mv id.MVarID) *action.Node {
		return conc.TakeMV(mv, func(any) *action.Node { return conc.Stop(nil) })
	})

	res := runSC(t, root)
	require.NotNil(t, res.Failure)
	assert.Equal(t, interp.FailureDeadlock, res.Failure.Kind)
}

// TestTryTakeOnEmpty is scenario 2: tryTakeMV on empty reports None
// without blocking.
func TestTryTakeOnEmpty(t *testing.T) {
	root := conc.NewEmptyMV(func(mv id.MVarID) *action.Node {
		return conc.TryTakeMV(mv, func(r action.TryResult) *action.Node { return conc.Stop(r.OK) })
	})

	res := runSC(t, root)
	require.Nil(t, res.Failure)
	assert.Equal(t, false, res.Value)
}

// TestForkAndJoin is scenario 3: a forked putter and a taking main
// under round-robin produce the put value.
func TestForkAndJoin(t *testing.T) {
	root := conc.NewEmptyMV(func(mv id.MVarID) *action.Node {
		return conc.Fork(
			conc.PutMV(mv, 7, func() *action.Node { return conc.Stop(nil) }),
			func(id.ThreadID) *action.Node {
				return conc.TakeMV(mv, func(v any) *action.Node { return conc.Stop(v) })
			},
		)
	})

	res := runSC(t, root)
	require.Nil(t, res.Failure)
	assert.Equal(t, 7, res.Value)
}

// TestPutThenTakeRoundTrip is the MV round-trip law: put(x); take() on
// a fresh empty MV with no other touchers returns x.
func TestPutThenTakeRoundTrip(t *testing.T) {
	root := conc.NewEmptyMV(func(mv id.MVarID) *action.Node {
		return conc.PutMV(mv, 42, func() *action.Node {
			return conc.TakeMV(mv, func(v any) *action.Node { return conc.Stop(v) })
		})
	})

	res := runSC(t, root)
	require.Nil(t, res.Failure)
	assert.Equal(t, 42, res.Value)
}

// TestCasOnModified is scenario 4: a write between readForCas and
// casMR makes the CAS fail and report the current value.
func TestCasOnModified(t *testing.T) {
	root := conc.NewMR(5, func(mr id.MRefID) *action.Node {
		return conc.ReadForCas(mr, func(ticket *action.Ticket) *action.Node {
			return conc.WriteMR(mr, 6, func() *action.Node {
				return conc.CasMR(ticket, 7, func(r action.CasResult) *action.Node {
					return conc.ReadMR(mr, func(v any) *action.Node {
						return conc.Stop([]any{r.OK, v})
					})
				})
			})
		})
	})

	res := runSC(t, root)
	require.Nil(t, res.Failure)
	pair := res.Value.([]any)
	assert.Equal(t, false, pair[0])
	assert.Equal(t, 6, pair[1])
}

// TestCasRoundTrip is the CAS round-trip law: readForCas then cas with
// no intervening write succeeds and the resulting ticket peeks the new
// value.
func TestCasRoundTrip(t *testing.T) {
	root := conc.NewMR(5, func(mr id.MRefID) *action.Node {
		return conc.ReadForCas(mr, func(ticket *action.Ticket) *action.Node {
			return conc.CasMR(ticket, 9, func(r action.CasResult) *action.Node {
				return conc.PeekTicket(r, func(t *action.Ticket) *action.Node {
					return conc.Stop([]any{r.OK, t.Value})
				})
			})
		})
	})

	res := runSC(t, root)
	require.Nil(t, res.Failure)
	pair := res.Value.([]any)
	assert.Equal(t, true, pair[0])
	assert.Equal(t, 9, pair[1])
}

// TestSTMRoundTrip is the STM round-trip law: atomically(writeTVar v
// x); atomically(readTVar v) returns x.
func TestSTMRoundTrip(t *testing.T) {
	root := conc.Atomically(
		conc.NewTVar(0, func(tv id.TVarID) *action.Node {
			return conc.ReturnSTM(tv)
		}),
		func(r any) *action.Node {
			tv := r.(id.TVarID)
			return conc.Atomically(
				conc.WriteTVar(tv, 99, func() *action.Node { return conc.ReturnSTM(nil) }),
				func(any) *action.Node {
					return conc.Atomically(
						conc.ReadTVar(tv, func(v any) *action.Node { return conc.ReturnSTM(v) }),
						func(v any) *action.Node { return conc.Stop(v) },
					)
				},
			)
		},
	)

	res := runSC(t, root)
	require.Nil(t, res.Failure)
	assert.Equal(t, 99, res.Value)
}

// TestUncaughtToMain is scenario 6's first half: throwTo self with no
// handler reaches main as an uncaught exception.
func TestUncaughtToMain(t *testing.T) {
	root := conc.MyThreadID(func(self id.ThreadID) *action.Node {
		return conc.ThrowTo(self, &action.Exception{Tag: "Overflow"}, func() *action.Node {
			return conc.Stop(nil)
		})
	})

	res := runSC(t, root)
	require.NotNil(t, res.Failure)
	assert.Equal(t, interp.FailureUncaughtException, res.Failure.Kind)
}

// TestCaughtToMain is scenario 6's second half: the same throwTo
// wrapped in catch runs to completion instead.
func TestCaughtToMain(t *testing.T) {
	root := conc.Catch(
		conc.MyThreadID(func(self id.ThreadID) *action.Node {
			return conc.ThrowTo(self, &action.Exception{Tag: "Overflow"}, func() *action.Node {
				return conc.Stop(false)
			})
		}),
		func(exc *action.Exception) bool { return exc.Tag == "Overflow" },
		func(exc *action.Exception) *action.Node { return conc.Stop(true) },
	)

	res := runSC(t, root)
	require.Nil(t, res.Failure)
	assert.Equal(t, true, res.Value)
}
