package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TBlauwe/Dynamo-sub000/internal/config"
	"github.com/TBlauwe/Dynamo-sub000/internal/scenario"
)

// overrides are the run flags that take precedence over the config file.
type overrides struct {
	steps       int
	tick        time.Duration
	drainPolicy string
	scenario    string
	workers     int
}

// loadConfig loads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, o overrides) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("steps") {
		cfg.Simulation.Steps = o.steps
	}
	if flags.Changed("tick") {
		cfg.Simulation.Tick = o.tick
	}
	if flags.Changed("drain-policy") {
		cfg.Simulation.DrainPolicy = o.drainPolicy
	}
	if flags.Changed("scenario") {
		cfg.Simulation.Scenario = o.scenario
	}
	if flags.Changed("workers") {
		cfg.Executor.Workers = o.workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadScenario reads the scenario named by cfg, or the built-in one. A
// scenario without seed uses the configured one.
func loadScenario(cfg *config.Config) (*scenario.File, error) {
	f := scenario.Default()
	if cfg.Simulation.Scenario != "" {
		var err error
		f, err = scenario.Load(cfg.Simulation.Scenario)
		if err != nil {
			return nil, err
		}
	}
	if f.Seed == 0 {
		f.Seed = cfg.Simulation.Seed
	}
	return f, nil
}

func addSimulationFlags(cmd *cobra.Command, o *overrides) {
	cmd.Flags().IntVar(&o.steps, "steps", 0, "number of ticks to run (overrides simulation.steps)")
	cmd.Flags().DurationVar(&o.tick, "tick", 0, "logical time per tick (overrides simulation.tick)")
	cmd.Flags().StringVar(&o.drainPolicy, "drain-policy", "", "command drain policy: barrier or span")
	cmd.Flags().StringVar(&o.scenario, "scenario", "", "scenario file (yaml)")
	cmd.Flags().IntVar(&o.workers, "workers", 0, "executor workers, 0 for GOMAXPROCS")
}
