package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/gookit/color"

	"github.com/loomtest/loom/model"
	"github.com/loomtest/loom/schedulers"
	"github.com/loomtest/loom/snapshot"
)

var file = flag.String("file", "", "Recorded run file to replay (msgpack-encoded snapshot.Record)")

func main() {
	flag.Parse()
	if *file == "" {
		log.Fatal("--file is required")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("reading %s: %s", *file, err)
	}
	rec, err := snapshot.Unmarshal(data)
	if err != nil {
		log.Fatalf("decoding %s: %s", *file, err)
	}
	printRecord(rec)
	if err := replay(rec); err != nil {
		log.Fatalf("replay: %s", err)
	}
}

func printRecord(rec *snapshot.Record) {
	color.Gray.Println("run:", rec.RunID)
	color.Bold.Println("outcome:", rec.Outcome)
	if rec.Exc != nil {
		color.Red.Printf("exception: %s\n", rec.Exc.Tag)
	}
	for i, step := range rec.Trace.Decisions {
		woken := ""
		if len(step.Woken) > 0 {
			woken = fmt.Sprintf(" woke=%v", step.Woken)
		}
		fmt.Printf("  %4d. decision=%d tid=%d action=%d%s\n", i, step.DecisionKind, step.Tid, step.ActionKind, woken)
	}
}

// replay reissues rec's exact sequence of decisions against the same
// demo program cmd/loom ran, rebuilding the interpreter with the
// memory model and bound the original run used, and reports whether
// doing so reproduces the recorded outcome. A mismatch means the
// program's own behavior is nondeterministic independent of
// scheduling, since the schedule itself is now pinned exactly.
func replay(rec *snapshot.Record) error {
	memModel, err := (model.RunConfig{MemoryModel: rec.MemoryModel}).ParseMemoryModel()
	if err != nil {
		return err
	}
	bound := rec.Bound
	if bound <= 0 {
		bound = 100000
	}

	sched := schedulers.NewReplay(snapshot.ReplayTrace(rec))
	result := model.Run(model.DemoForkJoin(), sched, memModel, bound)

	fmt.Println()
	color.Cyan.Println("replayed trace:")
	fmt.Print(model.FormatTrace(result.Trace))

	outcome := "Success"
	var excTag string
	if result.Failure != nil {
		outcome = result.Failure.Kind.String()
		if result.Failure.Exc != nil {
			excTag = result.Failure.Exc.Tag
		}
	}

	recExcTag := ""
	if rec.Exc != nil {
		recExcTag = rec.Exc.Tag
	}

	if outcome == rec.Outcome && excTag == recExcTag {
		color.Green.Printf("replay reproduced the recorded outcome: %s\n", outcome)
		return nil
	}
	return fmt.Errorf("recorded outcome %q (exc %q) but replay produced %q (exc %q)", rec.Outcome, recExcTag, outcome, excTag)
}
