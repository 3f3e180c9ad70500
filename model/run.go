package model

import (
	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/conc"
	"github.com/loomtest/loom/id"
	"github.com/loomtest/loom/interp"
)

// Run is the single-schedule driver entry point: build a fresh
// interpreter for memModel, install root as its main thread, and
// drive it to completion under sched, reporting at most bound
// decisions before giving up with an Abort.
func Run(root *action.Node, sched interp.Scheduler, memModel interp.MemModel, bound int) interp.Result {
	ip := interp.NewInterp(memModel)
	return interp.Run(ip, root, action.Unmasked, &boundedScheduler{inner: sched, remaining: bound}, nil)
}

// boundedScheduler caps the total number of decisions a run may make,
// turning a computation that never finishes under a given scheduler
// into a reported Abort instead of an infinite loop.
type boundedScheduler struct {
	inner     interp.Scheduler
	remaining int
}

func (b *boundedScheduler) Next(state any, last *id.ThreadID, runnable []id.ThreadID, lookahead map[id.ThreadID]action.Will) (id.ThreadID, bool, any) {
	if b.remaining <= 0 {
		return id.ThreadID{}, false, nil
	}
	b.remaining--
	return b.inner.Next(state, last, runnable, lookahead)
}

// DemoForkJoin forks a child that puts 4 into a fresh MVar, while the
// main thread takes it and adds 3, producing 7. It is the one example
// program cmd/loom runs and cmd/loomtrace replays, shared here so both
// build it identically.
func DemoForkJoin() *action.Node {
	return conc.NewEmptyMV(func(mv id.MVarID) *action.Node {
		return conc.Fork(demoChild(mv), func(id.ThreadID) *action.Node {
			return conc.TakeMV(mv, func(v any) *action.Node {
				return conc.Stop(v.(int) + 3)
			})
		})
	})
}

func demoChild(mv id.MVarID) *action.Node {
	return conc.PutMV(mv, 4, func() *action.Node {
		return conc.Stop(nil)
	})
}
