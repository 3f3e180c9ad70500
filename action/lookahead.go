package action

import "github.com/loomtest/loom/id"

// Will is the narrowed shape of a Node used for trace lookahead: just
// enough to say what kind of step is about to happen and which ids it
// touches, without exposing continuation closures. Which of MVar/MRef/
// TVar/Target is meaningful depends on Kind; callers switch on Kind
// first, exactly as the interpreter's own step dispatch does.
type Will struct {
	Kind   Kind
	MVar   id.MVarID
	MRef   id.MRefID
	TVar   id.TVarID
	Target id.ThreadID
}

// Lookahead pattern-matches the node that would run next for a thread
// without evaluating it, for use in the trace's "next decision"
// column.
func Lookahead(n *Node) Will {
	if n == nil {
		return Will{Kind: KindStop}
	}
	return Will{Kind: n.Kind, MVar: n.MVar, MRef: n.MRef, TVar: n.TVar, Target: n.Target}
}
