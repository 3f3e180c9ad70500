// Package model is the driver layer: run configuration loaded from
// TOML, and the single-schedule entry point a CLI or a test calls to
// actually execute a computation under a chosen scheduler and memory
// model.
package model

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/loomtest/loom/interp"
	"github.com/loomtest/loom/schedulers"
)

// Config is one run's configuration: which memory model to simulate
// and which scheduler policy to drive it with. Loaded from a TOML
// file so a scenario can be checked in and rerun without touching
// Go code.
type Config struct {
	Run       RunConfig       `toml:"run"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

type RunConfig struct {
	// MemoryModel is one of "sc", "tso" or "pso".
	MemoryModel string `toml:"memory_model"`
	// Bound caps the number of scheduler decisions a run may make
	// before it is reported as Abort, guarding against a computation
	// that never terminates under the chosen scheduler.
	Bound int `toml:"bound"`
}

type SchedulerConfig struct {
	// Kind is one of "round-robin", "random" or "scripted".
	Kind string `toml:"kind"`
	Seed int64  `toml:"seed"`
	// Script names a Starlark file on disk implementing choose(...)
	// when Kind is "scripted".
	Script string `toml:"script"`
}

// BuildScheduler resolves a SchedulerConfig into a live interp.Scheduler,
// reading its script file from disk when Kind is "scripted".
func (c SchedulerConfig) BuildScheduler() (interp.Scheduler, error) {
	switch c.Kind {
	case "", "round-robin":
		return schedulers.RoundRobin{}, nil
	case "random":
		return schedulers.NewRandom(c.Seed), nil
	case "scripted":
		if c.Script == "" {
			return nil, fmt.Errorf("model: scheduler kind %q requires a script path", c.Kind)
		}
		src, err := os.ReadFile(c.Script)
		if err != nil {
			return nil, fmt.Errorf("model: reading scheduler script %s: %w", c.Script, err)
		}
		return schedulers.NewScripted(c.Script, string(src))
	default:
		return nil, fmt.Errorf("model: unknown scheduler kind %q", c.Kind)
	}
}

func (c RunConfig) ParseMemoryModel() (interp.MemModel, error) {
	switch c.MemoryModel {
	case "", "sc":
		return interp.SequentialConsistency, nil
	case "tso":
		return interp.TotalStoreOrder, nil
	case "pso":
		return interp.PartialStoreOrder, nil
	default:
		return 0, fmt.Errorf("model: unknown memory model %q", c.MemoryModel)
	}
}

// LoadConfig parses a TOML configuration from path, defaulting an
// absent bound to a generous but finite step count.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("model: opening %s: %w", path, err)
	}
	defer f.Close()
	return parseConfig(f)
}

func parseConfig(r io.Reader) (*Config, error) {
	var c Config
	if _, err := toml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("model: decoding config: %w", err)
	}
	if c.Run.Bound == 0 {
		c.Run.Bound = 100000
	}
	return &c, nil
}
