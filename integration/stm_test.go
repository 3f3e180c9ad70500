package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/conc"
	"github.com/loomtest/loom/id"
	"github.com/loomtest/loom/interp"
	"github.com/loomtest/loom/model"
)

// alternate always switches away from the last-run thread when there
// is anywhere else to go, forcing the two threads below to interleave
// rather than one running to completion before the other starts.
type alternate struct{}

func (alternate) Next(_ any, last *id.ThreadID, runnable []id.ThreadID, _ map[id.ThreadID]action.Will) (id.ThreadID, bool, any) {
	for _, tid := range runnable {
		if last == nil || tid != *last {
			return tid, true, nil
		}
	}
	return runnable[0], true, nil
}

// buildRetryScenario wires: main creates v=0 and forks a reader whose
// transaction retries while v==0; main then yields, writes v=1, and
// takes the reader's result. Under alternate{} the reader's first
// attempt runs before the write commits, so it must actually block and
// be woken rather than simply observing the final value.
func buildRetryScenario() *action.Node {
	newTV := conc.NewTVar(0, func(tv id.TVarID) *action.Node { return conc.ReturnSTM(tv) })
	return conc.Atomically(newTV, func(r any) *action.Node {
		tv := r.(id.TVarID)
		return conc.NewEmptyMV(func(resultMV id.MVarID) *action.Node {
			reader := conc.Atomically(
				conc.ReadTVar(tv, func(v any) *action.Node {
					if v.(int) == 0 {
						return conc.Retry()
					}
					return conc.ReturnSTM(v)
				}),
				func(v any) *action.Node {
					return conc.PutMV(resultMV, v, func() *action.Node { return conc.Stop(nil) })
				},
			)

			return conc.Fork(reader, func(id.ThreadID) *action.Node {
				return conc.Yield(func() *action.Node {
					return conc.Atomically(
						conc.WriteTVar(tv, 1, func() *action.Node { return conc.ReturnSTM(nil) }),
						func(any) *action.Node {
							return conc.TakeMV(resultMV, func(v any) *action.Node { return conc.Stop(v) })
						},
					)
				})
			})
		})
	})
}

// TestRetryWakesOnCommit drives spec scenario 5 end-to-end through
// model.Run: a reader that retries on seeing a TVar still at its
// initial value must be reconsidered, and eventually succeed, once a
// writer commits to that same TVar, under any fair scheduler.
func TestRetryWakesOnCommit(t *testing.T) {
	root := buildRetryScenario()

	res := model.Run(root, alternate{}, interp.SequentialConsistency, 10000)
	require.Nil(t, res.Failure)
	assert.Equal(t, 1, res.Value)

	var atomicallySteps int
	for _, step := range res.Trace {
		if step.Action.Kind == action.KindAtomically {
			atomicallySteps++
		}
	}
	assert.GreaterOrEqual(t, atomicallySteps, 2, "expected the reader's transaction to run at least twice: once to retry, once to succeed")
}
