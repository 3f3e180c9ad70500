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
	"github.com/loomtest/loom/schedulers"
)

// buildSubconcurrencyScenario creates an MR, runs a subconcurrency
// block that forks two threads putting into their own MVars and sums
// what it takes back from both, writes that sum to the MR from inside
// the block, and then reads the MR back from the outer run.
func buildSubconcurrencyScenario() *action.Node {
	return conc.NewMR(0, func(mr id.MRefID) *action.Node {
		body := conc.NewEmptyMV(func(a id.MVarID) *action.Node {
			return conc.NewEmptyMV(func(b id.MVarID) *action.Node {
				return conc.Fork(
					conc.PutMV(a, 3, func() *action.Node { return conc.Stop(nil) }),
					func(id.ThreadID) *action.Node {
						return conc.Fork(
							conc.PutMV(b, 4, func() *action.Node { return conc.Stop(nil) }),
							func(id.ThreadID) *action.Node {
								return conc.TakeMV(a, func(va any) *action.Node {
									return conc.TakeMV(b, func(vb any) *action.Node {
										return conc.Stop(va.(int) + vb.(int))
									})
								})
							},
						)
					},
				)
			})
		})

		return conc.Subconcurrency(body, func(outcome any) *action.Node {
			o := outcome.(interp.SubconcurrencyOutcome)
			if !o.OK {
				return conc.Stop(nil)
			}
			sum := o.Value.(int)
			return conc.WriteMR(mr, sum, func() *action.Node {
				return conc.ReadMR(mr, func(v any) *action.Node { return conc.Stop(v) })
			})
		})
	})
}

// TestSubconcurrencyWritesVisibleToParent checks that an MR write made
// from inside a subconcurrency block is visible to the outer run once
// the block returns, as if no boundary had ever existed.
func TestSubconcurrencyWritesVisibleToParent(t *testing.T) {
	root := buildSubconcurrencyScenario()

	res := model.Run(root, schedulers.RoundRobin{}, interp.SequentialConsistency, 10000)
	require.Nil(t, res.Failure)
	assert.Equal(t, 7, res.Value)
}

// TestSubconcurrencyConsumesSharedBound checks that the decision bound
// passed to model.Run is shared between the outer run and a nested
// subconcurrency block rather than each getting its own budget: a
// bound too small to cover the block's own forks and takes aborts the
// whole run, even though the outer run by itself does almost nothing
// before entering the block.
func TestSubconcurrencyConsumesSharedBound(t *testing.T) {
	root := buildSubconcurrencyScenario()

	tight := model.Run(root, schedulers.RoundRobin{}, interp.SequentialConsistency, 2)
	require.NotNil(t, tight.Failure)
	assert.Equal(t, interp.FailureAbort, tight.Failure.Kind)

	ample := model.Run(root, schedulers.RoundRobin{}, interp.SequentialConsistency, 10000)
	require.Nil(t, ample.Failure)
	assert.Equal(t, 7, ample.Value)
}

// TestSubconcurrencyTraceEmbedsInnerTrace checks that the outer trace
// carries the nested run's own steps inline, bracketed by a
// StartSubconcurrency and a StopSubconcurrency marker, rather than
// folding the whole block into one opaque entry.
func TestSubconcurrencyTraceEmbedsInnerTrace(t *testing.T) {
	root := buildSubconcurrencyScenario()

	res := model.Run(root, schedulers.RoundRobin{}, interp.SequentialConsistency, 10000)
	require.Nil(t, res.Failure)

	start := -1
	stop := -1
	for i, step := range res.Trace {
		switch step.Marker {
		case interp.StartSubconcurrency:
			start = i
		case interp.StopSubconcurrency:
			stop = i
		}
	}
	require.NotEqual(t, -1, start, "expected a StartSubconcurrency marker in the trace")
	require.NotEqual(t, -1, stop, "expected a StopSubconcurrency marker in the trace")
	assert.Greater(t, stop, start)

	inner := res.Trace[start+1 : stop]
	assert.NotEmpty(t, inner, "nested run's own steps should be spliced in between the markers")
	for _, step := range inner {
		assert.Equal(t, interp.NoMarker, step.Marker)
	}

	var forks int
	for _, step := range inner {
		if step.Action.Kind == action.KindFork {
			forks++
		}
	}
	assert.Equal(t, 2, forks, "both forks inside the subconcurrency block should appear in the embedded inner trace")
}
