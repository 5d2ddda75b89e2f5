package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-orchestrator/internal/comparator"
	"github.com/rxtech-lab/argo-orchestrator/internal/engine"
	"github.com/rxtech-lab/argo-orchestrator/internal/logger"
	"github.com/rxtech-lab/argo-orchestrator/internal/scheduler"
	"github.com/rxtech-lab/argo-orchestrator/internal/server"
	"github.com/rxtech-lab/argo-orchestrator/internal/session"
	"github.com/rxtech-lab/argo-orchestrator/internal/store"
	"github.com/rxtech-lab/argo-orchestrator/internal/types"
	"github.com/rxtech-lab/argo-orchestrator/pkg/backtestconfig"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
)

var engineFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "engine",
		Usage: "Engine binary to invoke",
		Value: "freqtrade",
	},
	&cli.StringFlag{
		Name:  "workdir",
		Usage: "Working directory for engine processes",
		Value: ".",
	},
	&cli.StringFlag{
		Name:  "db",
		Usage: "Path to the results database",
		Value: "data/results.duckdb",
	},
	&cli.BoolFlag{
		Name:  "verbose",
		Usage: "Enable debug logging",
	},
}

// runAction submits one batch across the given strategies and waits for
// every task to reach a terminal state.
func runAction(ctx context.Context, cmd *cli.Command) error {
	strategies := splitList(cmd.String("strategies"))
	if len(strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}

	cfg, err := buildConfiguration(cmd)
	if err != nil {
		return err
	}

	logInstance, err := logger.NewLogger(cmd.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logInstance.Sync()

	sup := engine.NewSupervisor(logInstance)

	if version, err := sup.VerifyBinary(ctx, cmd.String("engine")); err != nil {
		return fmt.Errorf("engine binary check failed: %w", err)
	} else {
		log.Printf("Using engine: %s", strings.TrimSpace(version))
	}

	resultStore, err := store.NewResultStore(cmd.String("db"), logInstance)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}
	defer resultStore.Close()

	sched, err := scheduler.NewScheduler(scheduler.Config{
		Workers:      int(cmd.Int("workers")),
		EngineBinary: cmd.String("engine"),
		WorkDir:      cmd.String("workdir"),
		TaskTimeout:  cmd.Duration("timeout"),
	}, sup, resultStore, logInstance)
	if err != nil {
		return err
	}

	requests := make([]scheduler.TaskRequest, 0, len(strategies))
	for _, strategy := range strategies {
		requests = append(requests, scheduler.TaskRequest{Strategy: strategy, Config: cfg})
	}

	batchID, err := sched.Submit(requests)
	if err != nil {
		return fmt.Errorf("submission rejected: %w", err)
	}

	log.Printf("Submitted batch %s with %d tasks", batchID, len(requests))

	bar := progressbar.NewOptions(len(requests),
		progressbar.OptionSetDescription("Running backtests"),
		progressbar.OptionShowCount(),
	)

	done := 0

	for done < len(requests) {
		select {
		case <-ctx.Done():
			_ = sched.CancelAll(batchID)

			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		statuses, err := sched.Status(batchID)
		if err != nil {
			return err
		}

		terminal := 0

		for _, status := range statuses {
			if status.State.IsTerminal() {
				terminal++
			}
		}

		for done < terminal {
			_ = bar.Add(1)
			done++
		}
	}

	statuses, err := sched.Status(batchID)
	if err != nil {
		return err
	}

	fmt.Println()

	results := make([]types.Result, 0, len(statuses))

	for _, status := range statuses {
		switch status.State {
		case types.ExecutionStateCompleted:
			results = append(results, *status.Result)
		default:
			log.Printf("%s: %s %s", status.Strategy, status.State, status.Error)
		}
	}

	if len(results) > 1 {
		printComparison(results)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return sched.Shutdown(shutdownCtx)
}

// serveAction runs the full orchestrator behind the REST API until
// interrupted.
func serveAction(ctx context.Context, cmd *cli.Command) error {
	logInstance, err := logger.NewLogger(cmd.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logInstance.Sync()

	sup := engine.NewSupervisor(logInstance.Named("engine"))

	resultStore, err := store.NewResultStore(cmd.String("db"), logInstance.Named("store"))
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}
	defer resultStore.Close()

	sched, err := scheduler.NewScheduler(scheduler.Config{
		Workers:      int(cmd.Int("workers")),
		EngineBinary: cmd.String("engine"),
		WorkDir:      cmd.String("workdir"),
		TaskTimeout:  cmd.Duration("timeout"),
	}, sup, resultStore, logInstance.Named("scheduler"))
	if err != nil {
		return err
	}

	sessions := session.NewManager(session.Config{
		EngineBinary: cmd.String("engine"),
		WorkDir:      cmd.String("workdir"),
	}, session.NewSupervisorStreamer(sup), logInstance.Named("session"))

	configStore, err := backtestconfig.NewStore(cmd.String("configs"))
	if err != nil {
		return err
	}

	srv := server.NewServer(sched, sessions, resultStore,
		comparator.NewComparator(comparator.DefaultWeights()), configStore, logInstance.Named("server"))

	if err := srv.Start(cmd.String("listen")); err != nil {
		return err
	}

	log.Printf("Listening on %s", srv.Address())

	<-ctx.Done()

	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if err := sessions.StopAll(); err != nil {
		log.Printf("Session shutdown error: %v", err)
	}

	return sched.Shutdown(shutdownCtx)
}

// compareAction ranks the most recent stored result for each strategy.
func compareAction(ctx context.Context, cmd *cli.Command) error {
	strategies := splitList(cmd.String("strategies"))
	if len(strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}

	logInstance, err := logger.NewLogger(cmd.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logInstance.Sync()

	resultStore, err := store.NewResultStore(cmd.String("db"), logInstance)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}
	defer resultStore.Close()

	results := make([]types.Result, 0, len(strategies))

	for _, strategy := range strategies {
		stored, err := resultStore.ByStrategy(ctx, strategy)
		if err != nil {
			return err
		}

		if len(stored) == 0 {
			return fmt.Errorf("no stored results for strategy %s", strategy)
		}

		results = append(results, stored[0].Result)
	}

	printComparison(results)

	return nil
}

func printComparison(results []types.Result) {
	comp := comparator.NewComparator(comparator.DefaultWeights())

	comparison, err := comp.Compare(results)
	if err != nil {
		log.Printf("Comparison failed: %v", err)

		return
	}

	fmt.Printf("%-4s %-30s %10s %10s %10s %10s\n",
		"Rank", "Strategy", "Score", "Return%", "WinRate%", "MaxDD%")

	for _, row := range comparison.Rankings {
		flag := ""
		if row.LowConfidence {
			flag = " *"
		}

		fmt.Printf("%-4d %-30s %10.2f %10s %10s %10s%s\n",
			row.Rank, row.Strategy, row.Score,
			formatMetric(row.Metrics.TotalReturnPct),
			formatMetric(row.Metrics.WinRate),
			formatMetric(row.Metrics.MaxDrawdownPct),
			flag)
	}

	fmt.Printf("\nBest strategy: %s\n", comparison.Best.Strategy)
}

func formatMetric(opt optional.Option[float64]) string {
	if opt.IsNone() {
		return "n/a"
	}

	return fmt.Sprintf("%.2f", opt.Unwrap())
}

func buildConfiguration(cmd *cli.Command) (types.Configuration, error) {
	cfg := types.DefaultConfiguration()
	cfg.StartTime = cmd.Timestamp("start")
	cfg.EndTime = cmd.Timestamp("end")

	if timeframe := cmd.String("timeframe"); timeframe != "" {
		cfg.Timeframe = timeframe
	}

	if pairs := splitList(cmd.String("pairs")); len(pairs) > 0 {
		cfg.Pairs = pairs
	}

	if err := cfg.Validate(); err != nil {
		return types.Configuration{}, err
	}

	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}

func main() {
	cmd := &cli.Command{
		Name:  "orchestrator",
		Usage: "Run, supervise, and compare trading strategy backtests",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run a batch of backtests and print a comparison",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "strategies",
						Aliases:  []string{"s"},
						Usage:    "Comma-separated strategy identifiers",
						Required: true,
					},
					&cli.TimestampFlag{
						Name:     "start",
						Usage:    "Start of the historical range in `YYYY-MM-DD` format",
						Required: true,
						Config: cli.TimestampConfig{
							Layouts: []string{"2006-01-02"},
						},
					},
					&cli.TimestampFlag{
						Name:     "end",
						Usage:    "End of the historical range in `YYYY-MM-DD` format",
						Required: true,
						Config: cli.TimestampConfig{
							Layouts: []string{"2006-01-02"},
						},
					},
					&cli.StringFlag{
						Name:  "timeframe",
						Usage: "Candle timeframe (e.g. 5m, 1h, 1d)",
						Value: "1h",
					},
					&cli.StringFlag{
						Name:  "pairs",
						Usage: "Comma-separated trading pairs",
						Value: "BTC/USDT",
					},
					&cli.IntFlag{
						Name:    "workers",
						Aliases: []string{"w"},
						Usage:   "Maximum concurrent backtests",
						Value:   scheduler.DefaultWorkers,
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Per-task timeout",
						Value: scheduler.DefaultTaskTimeout,
					},
				}, engineFlags...),
				Action: runAction,
			},
			{
				Name:  "serve",
				Usage: "Run the orchestrator REST API",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "listen",
						Aliases: []string{"l"},
						Usage:   "Listen address",
						Value:   ":8080",
					},
					&cli.IntFlag{
						Name:    "workers",
						Aliases: []string{"w"},
						Usage:   "Maximum concurrent backtests",
						Value:   scheduler.DefaultWorkers,
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Per-task timeout",
						Value: scheduler.DefaultTaskTimeout,
					},
					&cli.StringFlag{
						Name:  "configs",
						Usage: "Directory for configuration snapshots",
						Value: "data/configs",
					},
				}, engineFlags...),
				Action: serveAction,
			},
			{
				Name:  "compare",
				Usage: "Rank stored results for the given strategies",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "strategies",
						Aliases:  []string{"s"},
						Usage:    "Comma-separated strategy identifiers",
						Required: true,
					},
				}, engineFlags...),
				Action: compareAction,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
