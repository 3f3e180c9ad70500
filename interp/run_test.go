package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/conc"
	"github.com/loomtest/loom/id"
)

func TestForkAndJoinProducesSeven(t *testing.T) {
	ip := NewInterp(SequentialConsistency)
	root := conc.NewEmptyMV(func(mv id.MVarID) *action.Node {
		return conc.Fork(
			conc.PutMV(mv, 4, func() *action.Node { return conc.Stop(nil) }),
			func(id.ThreadID) *action.Node {
				return conc.TakeMV(mv, func(v any) *action.Node {
					return conc.Stop(v.(int) + 3)
				})
			},
		)
	})

	res := Run(ip, root, action.Unmasked, roundRobin{}, nil)
	require.Nil(t, res.Failure)
	assert.Equal(t, 7, res.Value)
}

func TestTakeOnEmptyMVarWithNoWriterDeadlocks(t *testing.T) {
	ip := NewInterp(SequentialConsistency)
	root := conc.NewEmptyMV(func(mv id.MVarID) *action.Node {
		return conc.TakeMV(mv, func(any) *action.Node { return conc.Stop(nil) })
	})

	res := Run(ip, root, action.Unmasked, roundRobin{}, nil)
	require.NotNil(t, res.Failure)
	assert.Equal(t, FailureDeadlock, res.Failure.Kind)
}

func TestTryTakeOnEmptyReportsNotOK(t *testing.T) {
	ip := NewInterp(SequentialConsistency)
	root := conc.NewEmptyMV(func(mv id.MVarID) *action.Node {
		return conc.TryTakeMV(mv, func(r action.TryResult) *action.Node {
			return conc.Stop(r)
		})
	})

	res := Run(ip, root, action.Unmasked, roundRobin{}, nil)
	require.Nil(t, res.Failure)
	result := res.Value.(action.TryResult)
	assert.False(t, result.OK)
}

func TestCasOnConcurrentlyModifiedRefFails(t *testing.T) {
	ip := NewInterp(SequentialConsistency)
	root := conc.NewEmptyMV(func(done id.MVarID) *action.Node {
		return conc.NewMR(5, func(mr id.MRefID) *action.Node {
			return conc.ReadForCas(mr, func(ticket *action.Ticket) *action.Node {
				return conc.Fork(
					conc.WriteMR(mr, 6, func() *action.Node {
						return conc.PutMV(done, nil, func() *action.Node { return conc.Stop(nil) })
					}),
					func(id.ThreadID) *action.Node {
						return conc.TakeMV(done, func(any) *action.Node {
							return conc.CasMR(ticket, 99, func(r action.CasResult) *action.Node {
								return conc.Stop(r)
							})
						})
					},
				)
			})
		})
	})

	res := Run(ip, root, action.Unmasked, roundRobin{}, nil)
	require.Nil(t, res.Failure)
	result := res.Value.(action.CasResult)
	assert.False(t, result.OK)
	assert.Equal(t, 6, result.Ticket.Value)
}

func TestUncaughtExceptionOnMainIsReported(t *testing.T) {
	ip := NewInterp(SequentialConsistency)
	root := conc.Throw(&action.Exception{Tag: "boom"})

	res := Run(ip, root, action.Unmasked, roundRobin{}, nil)
	require.NotNil(t, res.Failure)
	assert.Equal(t, FailureUncaughtException, res.Failure.Kind)
	assert.Equal(t, "boom", res.Failure.Exc.Tag)
}

func TestCaughtExceptionOnMainRunsToCompletion(t *testing.T) {
	ip := NewInterp(SequentialConsistency)
	root := conc.Catch(
		conc.Throw(&action.Exception{Tag: "boom"}),
		func(exc *action.Exception) bool { return exc.Tag == "boom" },
		func(exc *action.Exception) *action.Node {
			// dispatchThrow has already truncated the handler stack
			// back past this frame, so the handler's own result must
			// not go through PopCatching again.
			return conc.Stop("handled")
		},
	)

	res := Run(ip, root, action.Unmasked, roundRobin{}, nil)
	require.Nil(t, res.Failure)
	assert.Equal(t, "handled", res.Value)
}

// alwaysSwitch forces a switch to a different runnable thread on every
// decision whenever one exists, so preemption counting in the tests
// below is exercised on every step rather than left to chance.
type alwaysSwitch struct{}

func (alwaysSwitch) Next(_ any, last *id.ThreadID, runnable []id.ThreadID, _ map[id.ThreadID]action.Will) (id.ThreadID, bool, any) {
	for _, tid := range runnable {
		if last == nil || tid != *last {
			return tid, true, nil
		}
	}
	return runnable[0], true, nil
}

// buildForkAndYield forks a child that puts into mv and, back on the
// parent, optionally yields before taking it; the fork and the take
// are the only two decision points that can ever switch threads.
func buildForkAndYield(yield bool) *action.Node {
	return conc.NewEmptyMV(func(mv id.MVarID) *action.Node {
		rest := func() *action.Node {
			return conc.TakeMV(mv, func(any) *action.Node { return conc.Stop(nil) })
		}
		return conc.Fork(
			conc.PutMV(mv, 1, func() *action.Node { return conc.Stop(nil) }),
			func(id.ThreadID) *action.Node {
				if yield {
					return conc.Yield(rest)
				}
				return rest()
			},
		)
	})
}

// TestPreemptionCountingExemptsExplicitYield checks that a switch
// immediately preceded by an explicit Yield on the thread being
// switched away from does not count as a preemption, while the same
// switch without a preceding Yield does.
func TestPreemptionCountingExemptsExplicitYield(t *testing.T) {
	withYield := Run(NewInterp(SequentialConsistency), buildForkAndYield(true), action.Unmasked, alwaysSwitch{}, nil)
	require.Nil(t, withYield.Failure)

	withoutYield := Run(NewInterp(SequentialConsistency), buildForkAndYield(false), action.Unmasked, alwaysSwitch{}, nil)
	require.Nil(t, withoutYield.Failure)

	assert.Less(t, withYield.Preemptions, withoutYield.Preemptions)
}

// preferPseudoThenOther always drains a runnable commit pseudo-thread
// first; failing that it keeps running the last thread if it is still
// runnable, otherwise falls back to the highest-numbered runnable
// thread. It exists to force a scenario where a switch away from a
// commit pseudo-thread chain lands on a different real thread than
// the one that entered it.
type preferPseudoThenOther struct{}

func (preferPseudoThenOther) Next(_ any, last *id.ThreadID, runnable []id.ThreadID, _ map[id.ThreadID]action.Will) (id.ThreadID, bool, any) {
	for _, tid := range runnable {
		if tid.Num < 0 {
			return tid, true, nil
		}
	}
	if last != nil {
		for _, tid := range runnable {
			if tid == *last {
				return tid, true, nil
			}
		}
	}
	return runnable[len(runnable)-1], true, nil
}

// TestPreemptionCountingOnCommitPseudoThreadChain checks both halves
// of the commit-pseudo-thread exemption: the switch onto a pseudo
// thread never counts, and a switch away from one counts only if it
// lands on a thread other than the one the chain interrupted. Main
// writes an MR (enqueuing its own pseudo-thread under TSO) and then
// wakes a forked thread that is blocked taking from an MVar; by the
// time the pseudo-thread finishes committing, that forked thread, not
// main, is the one the scheduler lands on next.
func TestPreemptionCountingOnCommitPseudoThreadChain(t *testing.T) {
	ip := NewInterp(TotalStoreOrder)
	root := conc.NewMR(0, func(mr id.MRefID) *action.Node {
		return conc.NewEmptyMV(func(gate id.MVarID) *action.Node {
			return conc.Fork(
				conc.TakeMV(gate, func(any) *action.Node { return conc.Stop(nil) }),
				func(id.ThreadID) *action.Node {
					return conc.WriteMR(mr, 1, func() *action.Node {
						return conc.PutMV(gate, nil, func() *action.Node { return conc.Stop(nil) })
					})
				},
			)
		})
	})

	res := Run(ip, root, action.Unmasked, preferPseudoThenOther{}, nil)
	require.Nil(t, res.Failure)

	// main -> child, attempting (and blocking) right after the
	// pseudo-thread's single commit, then child -> main to unblock it:
	// two genuine preemptions. The switches onto and off the
	// pseudo-thread itself are not among them.
	assert.Equal(t, 2, res.Preemptions)
}
