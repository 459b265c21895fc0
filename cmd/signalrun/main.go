// signalrun is the batch decision engine CLI: one run per session,
// producing the execution plan, scan matrix, and audit journal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/alphaledger/signalrun/internal/cache"
	"github.com/alphaledger/signalrun/internal/config"
	"github.com/alphaledger/signalrun/internal/journal"
	"github.com/alphaledger/signalrun/internal/monitor"
	"github.com/alphaledger/signalrun/internal/persistence/postgres"
	"github.com/alphaledger/signalrun/internal/pipeline"
	"github.com/alphaledger/signalrun/internal/providers"
	"github.com/alphaledger/signalrun/internal/state"
)

var (
	configDir string
	dryRun    bool
)

func main() {
	setupLogging()

	root := &cobra.Command{
		Use:   "signalrun",
		Short: "Automated market-signal decision engine",
		Long: `signalrun runs the seven-phase decision pipeline once per session:
diagnostics, market regime, universe, sectors, stock scoring, volatility
regime, and position sizing.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configDir, "config", "c", "config", "configuration directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the full decision pipeline",
		RunE:  runPipeline,
	}
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the pipeline without recording signals to state")

	root.AddCommand(runCmd, healthCmd(), stateCmd())

	if err := root.Execute(); err != nil {
		var halt *pipeline.HaltError
		if errors.As(err, &halt) {
			log.Error().Str("reason", halt.Reason).Msg("run halted")
		} else {
			log.Error().Err(err).Msg("command failed")
		}
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runID := uuid.NewString()[:8]
	log.Info().Str("run_id", runID).Bool("dry_run", dryRun).Msg("starting run")

	jrnl, err := journal.Open(cfg.Runtime.OutputDir, runID)
	if err != nil {
		return err
	}
	defer jrnl.Close()

	store, err := openCache(cfg)
	if err != nil {
		return err
	}

	st, err := state.Open(cfg.Runtime.StateDir)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		Cfg:       cfg,
		Providers: providers.NewRegistry(cfg, store, jrnl),
		State:     st,
		Journal:   jrnl,
		DryRun:    dryRun,
	}

	if cfg.Runtime.PostgresDSN != "" && !dryRun {
		recorder, err := postgres.Open(cfg.Runtime.PostgresDSN)
		if err != nil {
			log.Warn().Err(err).Msg("postgres unavailable, run will not be recorded")
		} else {
			defer recorder.Close()
			deps.Recorder = recorder
		}
	}

	ctx := context.Background()

	if cfg.Runtime.MonitorAddr != "" {
		mon := monitor.NewServer(cfg.Runtime.MonitorAddr, runID, deps.Providers.Breakers())
		mon.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			mon.Shutdown(shutdownCtx)
		}()
	}

	run, err := deps.Run(ctx, runID)
	if err != nil {
		return err
	}

	log.Info().
		Str("mode", string(run.Mode)).
		Float64("bmi", run.BMI.Value).
		Int("universe", len(run.Universe)).
		Int("positions", len(run.Positions)).
		Msg("run complete")
	return nil
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run provider canaries and report status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := openCache(cfg)
			if err != nil {
				return err
			}
			reg := providers.NewRegistry(cfg, store, nil)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			canaries := map[string]func(context.Context) bool{
				"polygon": reg.Polygon.Canary,
				"uw":      reg.UW.Canary,
				"fmp":     reg.FMP.Canary,
				"fred":    reg.Fred.Canary,
			}
			failed := 0
			for _, name := range config.CriticalProviders {
				ok := canaries[name](ctx)
				status := "ok"
				if !ok {
					status = "down"
					failed++
				}
				fmt.Printf("%-10s %s\n", name, status)
			}
			if failed > 0 {
				return fmt.Errorf("%d provider(s) down", failed)
			}
			return nil
		},
	}
}

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect persisted engine state",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print daily counters and rolling history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st, err := state.Open(cfg.Runtime.StateDir)
			if err != nil {
				return err
			}
			out := map[string]any{
				"daily":   st.Daily(),
				"history": st.History(),
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "breaker",
		Short: "Show the manual drawdown breaker flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			mb, err := state.ReadManualBreaker(cfg.Runtime.ManualBreakerPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(mb)
		},
	})

	return cmd
}

func openCache(cfg config.Config) (cache.Store, error) {
	switch cfg.Runtime.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Runtime.Cache.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis cache unreachable: %w", err)
		}
		return cache.NewRedisCache(client, 0), nil
	default:
		return cache.NewFileCache(cfg.Runtime.Cache.Dir), nil
	}
}
