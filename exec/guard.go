// Package exec provides InFlight, the guard that stops a thread from
// starting a second subconcurrency block while one it already started
// is still running.
package exec

import "github.com/loomtest/loom/id"

// InFlight tracks which threads currently have a subconcurrency block
// in progress. The core interpreter is single-owner and single
// goroutine, so this needs no locking of its own; it exists purely to
// name an invariant the step dispatcher enforces.
type InFlight struct {
	active map[id.ThreadID]struct{}
}

func NewInFlight() *InFlight {
	return &InFlight{active: make(map[id.ThreadID]struct{})}
}

// Enter marks tid as running a subconcurrency block. It reports false
// without marking anything if tid already has one in flight.
func (g *InFlight) Enter(tid id.ThreadID) bool {
	if _, ok := g.active[tid]; ok {
		return false
	}
	g.active[tid] = struct{}{}
	return true
}

// Exit clears tid's in-flight mark.
func (g *InFlight) Exit(tid id.ThreadID) {
	delete(g.active, tid)
}
