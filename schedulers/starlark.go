package schedulers

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/id"
	"github.com/loomtest/loom/interp"
)

// Scripted is a scheduler whose policy is a Starlark function named
// choose, loaded from source once and invoked for every decision.
// choose receives (state, last, runnable) — state is whatever the
// previous call returned (None on the first call), last is the
// previously-chosen thread number or None, and runnable is a list of
// thread numbers in ascending order — and must return either a bare
// thread number or a (thread number, new state) tuple.
type Scripted struct {
	thread *starlark.Thread
	choose *starlark.Function
}

// NewScripted compiles src under name and binds its top-level choose
// function as the scheduling policy.
func NewScripted(name, src string) (*Scripted, error) {
	thread := &starlark.Thread{Name: name}
	globals, err := starlark.ExecFile(thread, name, src, nil)
	if err != nil {
		return nil, fmt.Errorf("schedulers: compiling %s: %w", name, err)
	}
	fn, ok := globals["choose"].(*starlark.Function)
	if !ok {
		return nil, fmt.Errorf("schedulers: %s does not define a choose(state, last, runnable) function", name)
	}
	return &Scripted{thread: thread, choose: fn}, nil
}

func (s *Scripted) Next(state any, last *id.ThreadID, runnable []id.ThreadID, _ map[id.ThreadID]action.Will) (id.ThreadID, bool, any) {
	stateVal, _ := state.(starlark.Value)
	if stateVal == nil {
		stateVal = starlark.None
	}
	lastVal := starlark.Value(starlark.None)
	if last != nil {
		lastVal = starlark.MakeInt(last.Num)
	}
	runnableList := make([]starlark.Value, len(runnable))
	for i, tid := range runnable {
		runnableList[i] = starlark.MakeInt(tid.Num)
	}

	result, err := starlark.Call(s.thread, s.choose, starlark.Tuple{stateVal, lastVal, starlark.NewList(runnableList)}, nil)
	if err != nil {
		return id.ThreadID{}, false, nil
	}

	chosenNum, newState, ok := unpackChoice(result)
	if !ok {
		return id.ThreadID{}, false, nil
	}
	for _, tid := range runnable {
		if tid.Num == chosenNum {
			return tid, true, newState
		}
	}
	return id.ThreadID{}, false, nil
}

func unpackChoice(v starlark.Value) (chosen int, newState any, ok bool) {
	if tuple, isTuple := v.(starlark.Tuple); isTuple && len(tuple) == 2 {
		n, okInt := tuple[0].(starlark.Int)
		if !okInt {
			return 0, nil, false
		}
		c, _ := n.Int64()
		return int(c), tuple[1], true
	}
	n, okInt := v.(starlark.Int)
	if !okInt {
		return 0, nil, false
	}
	c, _ := n.Int64()
	return int(c), starlark.None, true
}

var _ interp.Scheduler = RoundRobin{}
var _ interp.Scheduler = (*Random)(nil)
var _ interp.Scheduler = (*Replay)(nil)
var _ interp.Scheduler = (*Scripted)(nil)
