package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/causeway/internal/catalog"
	"github.com/roach88/causeway/internal/config"
	"github.com/roach88/causeway/internal/engine"
	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/harness"
	"github.com/roach88/causeway/internal/journal"
	"github.com/roach88/causeway/internal/telemetry"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	MetricsAddr string
	Workers     int
	MaxDepth    int
	CatalogDir  string
	Serve       bool

	// IDs overrides the phase ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs engine.IDGenerator
}

// StepSummary is how one flow step ended.
type StepSummary struct {
	Name    string `json:"name"`
	PhaseID string `json:"phase_id,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunResult is the output of the run command.
type RunResult struct {
	Scenario  string         `json:"scenario"`
	World     string         `json:"world"`
	Steps     []StepSummary  `json:"steps"`
	Outcomes  map[string]int `json:"outcomes"`
	Journaled int            `json:"journaled"`
	Snapshots int            `json:"snapshots"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario's flow on a live engine",
		Long: `Run the setup, listeners and flow of a scenario file on the engine.

Every step runs as one task on the world's simulation goroutine. Steps are
prepared concurrently and submitted in order. Completed phases are written
to the journal when --db is set; the journal's last seq resumes the clock.
Phase metrics are served on /metrics when --metrics-addr is set.

Flags override the CAUSEWAY_* environment variables.

Examples:
  causeway run ./scenarios/tnt_veto.yaml
  causeway run --db ./world.db ./scenarios/tnt_veto.yaml
  causeway run --metrics-addr :9464 --serve ./scenarios/tnt_veto.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorld(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite journal (CAUSEWAY_DB)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics on this address (CAUSEWAY_METRICS_ADDR)")
	cmd.Flags().IntVar(&opts.Workers, "workers", engine.DefaultWorkers, "concurrent step preparation (CAUSEWAY_WORKERS)")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 64, "maximum nested phases (CAUSEWAY_MAX_PHASE_DEPTH)")
	cmd.Flags().StringVar(&opts.CatalogDir, "catalog", "", "CUE phase catalog used when the scenario names none (CAUSEWAY_CATALOG_DIR)")
	cmd.Flags().BoolVar(&opts.Serve, "serve", false, "keep serving metrics until interrupted")

	return cmd
}

// loadRunConfig reads the environment and applies the flags the user set.
func loadRunConfig(opts *RunOptions, cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DB = opts.Database
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if flags.Changed("workers") {
		cfg.Workers = opts.Workers
	}
	if flags.Changed("max-depth") {
		cfg.MaxPhaseDepth = opts.MaxDepth
	}
	if flags.Changed("catalog") {
		cfg.CatalogDir = opts.CatalogDir
	}
	return cfg, cfg.Validate()
}

func runWorld(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadRunConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	catalogDir := scenario.Catalog
	if catalogDir == "" {
		catalogDir = cfg.CatalogDir
	}
	reg, err := harness.LoadRegistry(catalogDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stopSignals := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	world := scenario.World
	if world == "" {
		world = harness.DefaultWorld
	}

	metrics := prometheus.NewRegistry()
	engOpts := []engine.Option{
		engine.WithMaxPhaseDepth(cfg.MaxPhaseDepth),
		engine.WithObserver(telemetry.NewObserver(telemetry.Config{Registerer: metrics, World: world})),
	}

	clock := engine.NewClock()
	var recorder *journal.Recorder
	if cfg.DB != "" {
		j, err := journal.Open(cfg.DB)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
		last, err := j.LastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		if clock, err = engine.ResumeClock(last); err != nil {
			return WrapExitError(ExitCommandError, "failed to resume journal", err)
		}
		recorder = j.Recorder(ctx)
		engOpts = append(engOpts, engine.WithObserver(recorder))
		formatter.VerboseLog("Journal %s resumes at seq %d", cfg.DB, last)
	}

	engOpts = append(engOpts, engine.WithClock(clock))

	bus := event.NewBus()
	eng := engine.New(world, bus, opts.IDs, engOpts...)

	runCtx, shutdown := context.WithCancel(ctx)
	defer shutdown()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := eng.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	})
	if cfg.MetricsAddr != "" {
		serveMetrics(g, gctx, cfg.MetricsAddr, metrics)
		formatter.VerboseLog("Serving metrics on %s/metrics", cfg.MetricsAddr)
	}

	slog.Info("world starting", "world", world, "scenario", scenario.Name, "db", cfg.DB)

	results, runErr := submitScenario(gctx, eng, bus, reg, scenario, cfg.Workers)
	eng.Stop()
	if opts.Serve && cfg.MetricsAddr != "" && runErr == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Flow finished. Serving metrics; press Ctrl-C to stop.")
		<-ctx.Done()
	}
	shutdown()
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, "failed to run scenario", runErr)
	}

	result := RunResult{
		Scenario:  scenario.Name,
		World:     world,
		Steps:     make([]StepSummary, 0, len(results)),
		Outcomes:  make(map[string]int),
		Snapshots: len(eng.World().State()),
	}
	failed := 0
	for _, res := range results {
		s := StepSummary{Name: res.Task, PhaseID: res.Outcome.PhaseID, Outcome: string(res.Outcome.Result)}
		if res.Err != nil {
			s.Error = res.Err.Error()
			failed++
		}
		if s.Outcome != "" {
			result.Outcomes[s.Outcome]++
		}
		result.Steps = append(result.Steps, s)
	}
	if recorder != nil {
		result.Journaled = recorder.Written()
		if err := recorder.Err(); err != nil {
			return WrapExitError(ExitFailure, "journal write failed", err)
		}
	}

	slog.Info("world stopped", "world", world, "steps", len(results), "failed", failed, "seqs", clock.Issued())

	if formatter.JSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		printRunText(cmd, result)
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d step(s) failed", failed))
	}
	return nil
}

// submitScenario runs the setup untracked, registers the listeners, then
// prepares and submits the flow.
func submitScenario(ctx context.Context, eng *engine.Engine, bus *event.Bus, reg *catalog.Registry, s *harness.Scenario, workers int) ([]engine.Result, error) {
	if len(s.Setup) > 0 {
		task, err := harness.BuildTask(reg, harness.Step{Name: "setup", Actions: s.Setup})
		if err != nil {
			return nil, fmt.Errorf("setup: %w", err)
		}
		res, err := eng.Submit(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("setup: %w", err)
		}
		if res.Err != nil {
			return nil, fmt.Errorf("setup: %w", res.Err)
		}
	}

	harness.Subscribe(bus, s.Listeners)

	return engine.Intake(ctx, eng, workers, s.Flow, func(_ context.Context, step harness.Step) (engine.Task, error) {
		return harness.BuildTask(reg, step)
	})
}

// serveMetrics runs the /metrics server in g until ctx is done.
func serveMetrics(g *errgroup.Group, ctx context.Context, addr string, gatherer prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(gatherer))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func printRunText(cmd *cobra.Command, r RunResult) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Scenario %s on world %s\n", r.Scenario, r.World)
	for i, s := range r.Steps {
		mark := "✓"
		if s.Error != "" {
			mark = "✗"
		}
		line := fmt.Sprintf("%s [%d] %s", mark, i, s.Name)
		if s.Outcome != "" {
			line += fmt.Sprintf(" %s (%s)", s.Outcome, s.PhaseID)
		}
		fmt.Fprintln(w, line)
		if s.Error != "" {
			fmt.Fprintf(w, "  %s\n", s.Error)
		}
	}
	fmt.Fprintf(w, "\n%d step(s), %d snapshot(s) in world", len(r.Steps), r.Snapshots)
	if r.Journaled > 0 {
		fmt.Fprintf(w, ", %d phase(s) journaled", r.Journaled)
	}
	fmt.Fprintln(w)
}
