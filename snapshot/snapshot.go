// Package snapshot is a trimmed descendant of a reflect-based
// content-addressed store: where that store decomposed arbitrary
// interpreter state into a graph of hash-addressed fragments for
// schedule-space deduplication, this package only needs to serialize
// and fingerprint a single flat value at a time — a Trace, to persist
// a failing run for replay, or a Hash, to tell two traces apart
// cheaply while searching.
package snapshot

import (
	"bytes"
	"fmt"

	"github.com/dgryski/go-farm"
	"github.com/google/uuid"
	"github.com/shamaton/msgpack/v2"

	"github.com/loomtest/loom/id"
	"github.com/loomtest/loom/interp"
)

// Hash is a fingerprint of an encoded value, not a cryptographic
// digest: collisions are possible and callers that care must compare
// the underlying bytes too.
type Hash uint64

// Record is the on-disk shape of one saved run: enough to replay it
// exactly (the trace, plus the memory model and decision bound the
// original run used) and its outcome for display without re-running
// anything.
type Record struct {
	RunID string
	Trace encodedTrace
	// MemoryModel and Bound are the model.RunConfig fields the
	// original run used; a replay must reconstruct the same interp
	// rather than guessing.
	MemoryModel string
	Bound       int
	Outcome     string
	Exc         *encodedException
}

type encodedTrace struct {
	Decisions []encodedStep
}

type encodedStep struct {
	DecisionKind int
	Tid          int
	ActionKind   int
	Woken        []int
	Marker       int
}

// encodedException keeps only the exception's Tag: Value is an
// arbitrary any on action.Exception and has no generic msgpack
// encoding, so a replayed record identifies the exception by tag
// alone.
type encodedException struct {
	Tag string
}

// Encode serializes a Trace plus its failure (nil if the run
// succeeded) into a Record ready for msgpack marshaling. memoryModel
// and bound are the model.RunConfig values the run was driven with, so
// a later replay can rebuild the same interp instead of guessing at
// it. Each call mints a fresh RunID so records saved from repeated
// runs of the same program can still be told apart on disk.
func Encode(t interp.Trace, fail *interp.Failure, memoryModel string, bound int) *Record {
	rec := &Record{
		RunID:       uuid.NewString(),
		Trace:       encodedTrace{Decisions: make([]encodedStep, len(t))},
		MemoryModel: memoryModel,
		Bound:       bound,
	}
	for i, step := range t {
		woken := make([]int, len(step.Action.Woken))
		for j, w := range step.Action.Woken {
			woken[j] = w.Num
		}
		rec.Trace.Decisions[i] = encodedStep{
			DecisionKind: int(step.Decision.Kind),
			Tid:          step.Decision.Tid.Num,
			ActionKind:   int(step.Action.Kind),
			Woken:        woken,
			Marker:       int(step.Marker),
		}
	}
	if fail != nil {
		rec.Outcome = fail.Kind.String()
		if fail.Exc != nil {
			rec.Exc = &encodedException{Tag: fail.Exc.Tag}
		}
	} else {
		rec.Outcome = "Success"
	}
	return rec
}

// ReplayTrace rebuilds the minimal interp.Trace schedulers.Replay
// needs to reissue a saved run's exact sequence of decisions: each
// entry's Decision.Tid, enough to drive Replay's cursor, without the
// Action/Lookahead detail a fresh interpreter run produces on its own.
// Decoded thread ids carry no Name, unlike the ones a live run
// allocates; Replay compares by Num alone for exactly this reason.
//
// A StopSubconcurrency marker is dropped: it duplicates the decision
// already recorded by its matching StartSubconcurrency (both describe
// the single outer step a subconcurrency block occupies), so replaying
// it too would consume one scheduler decision that the original run
// never actually made.
func ReplayTrace(rec *Record) interp.Trace {
	trace := make(interp.Trace, 0, len(rec.Trace.Decisions))
	for _, step := range rec.Trace.Decisions {
		if interp.SubconcurrencyMarker(step.Marker) == interp.StopSubconcurrency {
			continue
		}
		trace = append(trace, interp.Step{
			Decision: interp.Decision{
				Kind: interp.DecisionKind(step.DecisionKind),
				Tid:  id.ThreadID{Num: step.Tid},
			},
			Marker: interp.SubconcurrencyMarker(step.Marker),
		})
	}
	return trace
}

// Marshal encodes rec with msgpack, the same wire format the original
// content-addressed store used for every stored fragment.
func Marshal(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := msgpack.MarshalWrite(&buf, rec); err != nil {
		return nil, fmt.Errorf("snapshot: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a Record previously produced by Marshal.
func Unmarshal(data []byte) (*Record, error) {
	rec := &Record{}
	if err := msgpack.UnmarshalRead(bytes.NewReader(data), rec); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	return rec, nil
}

// Fingerprint hashes an encoded record's bytes with the same
// non-cryptographic hash the original CAS used for content
// addressing, for cheap trace deduplication.
func Fingerprint(data []byte) Hash {
	return Hash(farm.Hash64(data))
}
