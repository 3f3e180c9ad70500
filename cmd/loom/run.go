package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/loomtest/loom/interp"
	"github.com/loomtest/loom/model"
	"github.com/loomtest/loom/snapshot"
)

var (
	memoryModel   string
	schedulerKind string
	seed          int64
	bound         int
	configPath    string
	savePath      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fork-and-join demo computation once under a chosen scheduler",
	Long: "Run the fork-and-join demo computation once under a chosen scheduler.\n" +
		"Flags and --config may both be given; any flag explicitly set on the\n" +
		"command line overrides the matching field loaded from --config.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg model.Config
		if configPath != "" {
			loaded, err := model.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cfg = *loaded
		}
		if cmd.Flags().Changed("memory-model") || cfg.Run.MemoryModel == "" {
			cfg.Run.MemoryModel = memoryModel
		}
		if cmd.Flags().Changed("bound") || cfg.Run.Bound == 0 {
			cfg.Run.Bound = bound
		}
		if cmd.Flags().Changed("scheduler") || cfg.Scheduler.Kind == "" {
			cfg.Scheduler.Kind = schedulerKind
		}
		if cmd.Flags().Changed("seed") || cfg.Scheduler.Seed == 0 {
			cfg.Scheduler.Seed = seed
		}

		model_, err := cfg.Run.ParseMemoryModel()
		if err != nil {
			return err
		}
		sched, err := cfg.Scheduler.BuildScheduler()
		if err != nil {
			return err
		}

		log.Info().Str("memory_model", model_.String()).Str("scheduler", cfg.Scheduler.Kind).Msg("starting run")

		result := model.Run(model.DemoForkJoin(), sched, model_, cfg.Run.Bound)
		if savePath != "" {
			fp, err := saveRecord(savePath, result, cfg.Run.MemoryModel, cfg.Run.Bound)
			if err != nil {
				return err
			}
			log.Info().Str("file", savePath).Uint64("fingerprint", uint64(fp)).Msg("run saved")
		}
		if result.Failure != nil {
			fmt.Fprintln(os.Stderr, model.FormatFailure(result.Failure, result.Trace))
			return fmt.Errorf("run ended in %s", result.Failure.Kind)
		}
		fmt.Printf("result: %v\n", result.Value)
		fmt.Printf("steps: %d, preemptions: %d\n", len(result.Trace), result.Preemptions)
		return nil
	},
}

// saveRecord encodes a run's trace and outcome as a snapshot.Record
// and writes it msgpack-encoded to path, the file loomtrace reads
// back to replay or inspect the run later. memoryModel and bound are
// carried along too, since loomtrace needs to rebuild the exact
// interp.Run call that produced this trace, not just display it. The
// returned fingerprint lets a caller running the same program
// repeatedly tell two saved traces apart without re-reading and
// decoding both.
func saveRecord(path string, result interp.Result, memoryModel string, bound int) (snapshot.Hash, error) {
	rec := snapshot.Encode(result.Trace, result.Failure, memoryModel, bound)
	data, err := snapshot.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encoding run: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	return snapshot.Fingerprint(data), nil
}

func init() {
	runCmd.Flags().StringVar(&memoryModel, "memory-model", "sc", "Memory model: sc, tso or pso")
	runCmd.Flags().StringVar(&schedulerKind, "scheduler", "round-robin", "Scheduler: round-robin or random")
	runCmd.Flags().Int64Var(&seed, "seed", 1, "PRNG seed for the random scheduler")
	runCmd.Flags().IntVar(&bound, "bound", 100000, "Maximum number of scheduler decisions before aborting")
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to a TOML run configuration; flags given explicitly override it")
	runCmd.Flags().StringVar(&savePath, "save", "", "Path to write this run's trace as a msgpack snapshot.Record, for loomtrace")
}
