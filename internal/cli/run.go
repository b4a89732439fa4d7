package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TBlauwe/Dynamo-sub000/internal/config"
	"github.com/TBlauwe/Dynamo-sub000/internal/logger"
	"github.com/TBlauwe/Dynamo-sub000/internal/metrics"
	"github.com/TBlauwe/Dynamo-sub000/internal/observability"
	"github.com/TBlauwe/Dynamo-sub000/internal/scenario"
	"github.com/TBlauwe/Dynamo-sub000/internal/tracing"
	"github.com/TBlauwe/Dynamo-sub000/pkg/scheduler"
	"github.com/TBlauwe/Dynamo-sub000/pkg/sim"
)

const shutdownTimeout = 10 * time.Second

var runFlags overrides

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation",
	Long: `Run the scenario for the configured number of ticks and print a summary.
Interrupting the process stops after the current tick and shuts down cleanly.`,
	RunE: runRun,
}

func init() {
	addSimulationFlags(runCmd, &runFlags)
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, runFlags)
	if err != nil {
		return err
	}
	file, err := loadScenario(cfg)
	if err != nil {
		return err
	}

	logs, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logs.Close()
	log := logs.Zerolog()

	if cfg.Tracing.Enabled {
		stop, err := startTracing(cmd, cfg.Tracing, log)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer stop()
	}

	m := metrics.NewMetrics()
	if cfg.Metrics.Enabled {
		stop, err := serveMetrics(cfg.Metrics.Addr, m, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var audit *observability.AuditLogger
	if cfg.Logging.AuditFile != "" {
		audit, err = observability.OpenAuditLog(cfg.Logging.AuditFile)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer audit.Close()
	}

	summary, err := simulate(ctx, cfg, file, m, audit, log)
	printSummary(cmd, cfg, summary)
	return err
}

// simulate builds the simulation, runs the configured steps and shuts it
// down. An interrupt is not an error.
func simulate(ctx context.Context, cfg *config.Config, file *scenario.File, m *metrics.Metrics, audit *observability.AuditLogger, log zerolog.Logger) (scenario.Summary, error) {
	policy, err := sim.ParseDrainPolicy(cfg.Simulation.DrainPolicy)
	if err != nil {
		return scenario.Summary{}, err
	}

	s, err := sim.New(sim.Options{
		Logger:            log,
		Metrics:           m,
		Workers:           cfg.Executor.Workers,
		DrainPolicy:       policy,
		BarrierTimeout:    cfg.Simulation.BarrierTimeout,
		MinLivenessWindow: cfg.Simulation.MinLivenessWindow,
		CancelOnShutdown:  cfg.Simulation.CancelOnShutdown,
		OnFault: func(f *scheduler.LivenessFault) {
			log.Warn().Err(f).Msg("Liveness fault")
			if audit != nil {
				audit.LivenessFault(f)
			}
		},
	})
	if err != nil {
		return scenario.Summary{}, err
	}
	if audit != nil {
		audit.AttachQueue(s.Queue())
	}

	if err := scenario.Install(s, file); err != nil {
		return scenario.Summary{}, err
	}
	agents, err := scenario.Populate(s, file)
	if err != nil {
		return scenario.Summary{}, err
	}

	log.Info().
		Int("agents", len(agents)).
		Int("steps", cfg.Simulation.Steps).
		Dur("tick", cfg.Simulation.Tick).
		Str("drainPolicy", string(policy)).
		Msg("Simulation started")

	runErr := s.StepN(ctx, cfg.Simulation.Steps, cfg.Simulation.Tick)
	if errors.Is(runErr, context.Canceled) {
		log.Info().Uint64("tick", s.Tick()).Msg("Interrupted")
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown: %w", err)
	}

	return scenario.Summarize(s), runErr
}

// startTracing installs the tracer provider. The returned function flushes
// pending spans and closes the exporter's file, if any.
func startTracing(cmd *cobra.Command, cfg config.TracingConfig, log zerolog.Logger) (func(), error) {
	out := cmd.OutOrStdout()
	var file *os.File
	if cfg.Exporter == tracing.ExporterStdout && cfg.File != "" {
		var err error
		file, err = os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		out = file
	}

	closeFile := func() {
		if file != nil {
			_ = file.Close()
		}
	}

	exporter, err := tracing.NewExporter(cfg.Exporter, out, log)
	if err != nil {
		closeFile()
		return nil, err
	}
	err = tracing.InitOpenTelemetry(context.Background(), tracing.Options{
		ServiceName: cfg.ServiceName,
		Exporter:    exporter,
		SampleRatio: cfg.SampleRatio,
	})
	if err != nil {
		closeFile()
		return nil, err
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down tracing")
		}
		closeFile()
	}, nil
}

func serveMetrics(addr string, m *metrics.Metrics, log zerolog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func printSummary(cmd *cobra.Command, cfg *config.Config, s scenario.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Agents: %d\n", s.Agents)
	fmt.Fprintf(out, "Simulated: %s\n", time.Duration(cfg.Simulation.Steps)*cfg.Simulation.Tick)
	fmt.Fprintf(out, "Flow launches: %d\n", s.Launches)
	fmt.Fprintf(out, "Failed flows: %d\n", s.Failures)
	fmt.Fprintf(out, "Stalled flows: %d\n", s.Stalled)
	fmt.Fprintf(out, "Messages: %d\n", s.Messages)
	fmt.Fprintf(out, "Mean stress: %.3f\n", s.MeanStress)
	fmt.Fprintf(out, "Mean mood: %.3f\n", s.MeanMood)
}
