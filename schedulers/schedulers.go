// Package schedulers provides ready-made interp.Scheduler
// implementations: deterministic round-robin, a seeded PRNG policy
// for randomized exploration, and exact replay of a previously
// recorded interp.Trace.
package schedulers

import (
	"math/rand"

	"github.com/loomtest/loom/action"
	"github.com/loomtest/loom/id"
	"github.com/loomtest/loom/interp"
)

// RoundRobin always keeps running the last thread if it is still
// runnable, otherwise moves to the next higher id, wrapping around to
// the lowest.
type RoundRobin struct{}

func (RoundRobin) Next(_ any, last *id.ThreadID, runnable []id.ThreadID, _ map[id.ThreadID]action.Will) (id.ThreadID, bool, any) {
	if last == nil || len(runnable) == 0 {
		return firstOrZero(runnable)
	}
	for _, tid := range runnable {
		if tid == *last {
			return tid, true, nil
		}
	}
	for _, tid := range runnable {
		if tid.Num > last.Num {
			return tid, true, nil
		}
	}
	return runnable[0], true, nil
}

func firstOrZero(runnable []id.ThreadID) (id.ThreadID, bool, any) {
	if len(runnable) == 0 {
		return id.ThreadID{}, false, nil
	}
	return runnable[0], true, nil
}

// Random picks uniformly among the runnable set at every decision,
// using a *rand.Rand seeded by the caller for reproducibility.
type Random struct {
	Rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{Rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Next(_ any, _ *id.ThreadID, runnable []id.ThreadID, _ map[id.ThreadID]action.Will) (id.ThreadID, bool, any) {
	if len(runnable) == 0 {
		return id.ThreadID{}, false, nil
	}
	return runnable[r.Rng.Intn(len(runnable))], true, nil
}

// Replay reissues the exact sequence of decisions recorded in a prior
// interp.Trace, for reproducing a failure deterministically. It
// reports ok=false (an Abort) if the recorded choice is no longer
// runnable, which indicates the computation's own logic is
// nondeterministic independent of scheduling.
type Replay struct {
	Trace  interp.Trace
	cursor int
}

// NewReplay starts the cursor at 1, not 0: interp.Run never consults
// the scheduler for a trace's very first entry (the main thread always
// starts the run without asking), so Trace[0] is not something Next
// should ever reissue.
func NewReplay(t interp.Trace) *Replay {
	return &Replay{Trace: t, cursor: 1}
}

func (r *Replay) Next(_ any, _ *id.ThreadID, runnable []id.ThreadID, _ map[id.ThreadID]action.Will) (id.ThreadID, bool, any) {
	if r.cursor >= len(r.Trace) {
		return id.ThreadID{}, false, nil
	}
	want := r.Trace[r.cursor].Decision.Tid
	r.cursor++
	for _, tid := range runnable {
		// Compared by Num alone, matching id.ID's own documented
		// equality: a trace rebuilt from a decoded snapshot.Record
		// carries ids with no Name, unlike the ones a live run
		// allocates.
		if tid.Num == want.Num {
			return tid, true, nil
		}
	}
	return id.ThreadID{}, false, nil
}
