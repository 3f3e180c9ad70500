// Package id allocates the identifiers that name every entity a run
// creates: threads, blocking cells, mutable cells and transactional
// variables. All four share the same shape, so a single Source hands
// out all of them.
package id

import "fmt"

// ID names an entity created during a run. Equality and ordering are
// taken from Num; Name (when present) is purely for display.
type ID struct {
	Name string
	Num  int
}

func (i ID) String() string {
	if i.Name != "" {
		return i.Name
	}
	return fmt.Sprintf("%d", i.Num)
}

// Less orders ids by their integer component, which is what every
// "ascending id order" rule in the spec means in practice.
func (i ID) Less(o ID) bool { return i.Num < o.Num }

type (
	ThreadID = ID
	MVarID   = ID
	MRefID   = ID
	TVarID   = ID
)

// MainThread is the reserved id of the single thread that is always
// present at the start of a run.
var MainThread = ThreadID{Num: 0}

// Source is the monotonic id allocator for one run. It is shared by an
// outer interpreter and any sub-computations it spawns, so ids never
// collide across the nested thread tables of a single run.
//
// The zero value is not usable; construct with NewSource.
type Source struct {
	nextThread int
	nextMVar   int
	nextMRef   int
	nextTVar   int
	nextCommit int

	threadNames map[string]int
	mvarNames   map[string]int
	mrefNames   map[string]int
	tvarNames   map[string]int
}

// NewSource returns a fresh id allocator with thread id 0 reserved for
// the main thread.
func NewSource() *Source {
	return &Source{
		nextThread:  1,
		nextMVar:    0,
		nextMRef:    0,
		nextTVar:    0,
		nextCommit:  -1,
		threadNames: make(map[string]int),
		mvarNames:   make(map[string]int),
		mrefNames:   make(map[string]int),
		tvarNames:   make(map[string]int),
	}
}

// next allocates the integer component from counter and disambiguates
// name against uses, producing "name", "name-1", "name-2", ... on
// repeated use of the same base name. An empty name yields an
// anonymous id whose String is just the integer.
func next(counter *int, uses map[string]int, name string) ID {
	n := *counter
	*counter++
	if name == "" {
		return ID{Num: n}
	}
	prior := uses[name]
	uses[name] = prior + 1
	disp := name
	if prior > 0 {
		disp = fmt.Sprintf("%s-%d", name, prior)
	}
	return ID{Name: disp, Num: n}
}

// NextThread allocates the next thread id. Id 0 is never returned by
// this method; it is reserved for the main thread installed directly
// by the interpreter.
func (s *Source) NextThread(name string) ThreadID { return next(&s.nextThread, s.threadNames, name) }

// NextMVar allocates the next blocking-cell id.
func (s *Source) NextMVar(name string) MVarID { return next(&s.nextMVar, s.mvarNames, name) }

// NextMRef allocates the next mutable-cell id.
func (s *Source) NextMRef(name string) MRefID { return next(&s.nextMRef, s.mrefNames, name) }

// NextTVar allocates the next transactional-variable id.
func (s *Source) NextTVar(name string) TVarID { return next(&s.nextTVar, s.tvarNames, name) }

// NextCommitPseudo allocates a fresh negative thread id for a commit
// pseudo-thread. These live in the same table as real threads but are
// never user-visible as something a program can fork or throw to.
func (s *Source) NextCommitPseudo() ThreadID {
	n := s.nextCommit
	s.nextCommit--
	return ID{Name: "commit", Num: n}
}
