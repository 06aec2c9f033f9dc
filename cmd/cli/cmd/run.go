package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"snakeplane/internal/auth"
	"snakeplane/internal/config"
	"snakeplane/internal/controller"
	"snakeplane/internal/controller/handlers"
	"snakeplane/internal/controller/middleware"
	"snakeplane/internal/executor"
	"snakeplane/internal/host"
	"snakeplane/internal/logger"
	"snakeplane/internal/observability"
	"snakeplane/internal/store"
	"snakeplane/internal/store/postgres"
)

var runCmd = &cobra.Command{
	Use:   "run [jobfile]",
	Short: "Submit the jobs of a job file through an executor plugin",
	Long: `Submit every job of a YAML job file through the selected executor plugin
and wait until all of them succeeded or failed.

Plugin settings are passed as --<plugin>-<setting> flags; run
"snakeplane plugins" to list them. Interrupting the command cancels
all jobs that are still running.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("executor")
		return runJobFile(cmd, args[0], name)
	},
}

func runJobFile(cmd *cobra.Command, path, pluginName string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}

	plugin, err := plugins.Get(pluginName)
	if err != nil {
		return err
	}
	record, err := plugin.ExecutorSettings(cmd.Flags())
	if err != nil {
		return err
	}
	jf, err := host.LoadJobFile(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.New()
	telemetry, err := observability.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint,
		observability.AttrPlugin.String(plugin.Name),
		observability.AttrRunID.String(runID.String()),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			log.Warn("failed to shut down telemetry", "error", err)
		}
	}()

	hostCfg, err := cfg.HostConfig()
	if err != nil {
		return err
	}

	ctx = logger.WithRunID(ctx, runID.String())
	log = logger.FromContext(ctx, log)
	opts := []host.Option{host.WithLogger(log)}

	// The ledger stays a nil interface unless a database is configured.
	var ledger store.Ledger
	var db *postgres.Store
	if cfg.DatabaseURL != "" {
		db, err = postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		ledger = db
		opts = append(opts, host.WithLedger(ledger, runID))
	}

	h, err := host.New(hostCfg, opts...)
	if err != nil {
		return err
	}
	if err := recoverIncomplete(ctx, cmd, h, ledger, plugin.Name, log); err != nil {
		return err
	}

	if ledger != nil {
		run := &store.Run{ID: runID, Plugin: plugin.Name, Workdir: h.Workdir(), StartedAt: time.Now().UTC()}
		if err := ledger.CreateRun(ctx, run); err != nil {
			return err
		}
		defer func() {
			finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := ledger.FinishRun(finishCtx, runID); err != nil {
				log.Warn("failed to finish run", "error", err)
			}
		}()
	}

	engine, err := plugin.NewExecutor(h, record, executor.RemoteConfig{
		Interpreter:        cfg.Remote.Interpreter,
		SharedLocalGroupID: cfg.Remote.SharedLocalGroupID,
		Logger:             log,
	})
	if err != nil {
		return err
	}

	if cfg.Status.Addr != "" {
		deps := handlers.Deps{Registry: plugins, Plugin: plugin.Name, Engine: engine, Outcomes: h.Outcomes()}
		if db != nil {
			deps.Ledger = db
		}
		limiter := middleware.NewRateLimiter(middleware.WithLimit(cfg.Status.RateLimit, cfg.Status.RateBurst))
		srv := controller.New(cfg.Status.Addr, deps, telemetry.MetricsHandler, auth.NewKeySet(cfg.Status.APIKeys), limiter, log)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error("status server stopped", "error", err)
			}
		}()
	}

	jobs := h.Jobs(jf)
	cmd.Printf("🚀 Submitting %d job(s) via %s\n", len(jobs), plugin.Name)
	if err := engine.RunJobs(ctx, jobs); err != nil {
		log.Error("some jobs could not be submitted", "error", err)
	}

	if cfg.Remote.ImmediateSubmit {
		engine.Shutdown()
		cmd.Printf("Submitted %d job(s); not waiting for completion\n", len(jobs))
		return nil
	}

	summary, err := h.Outcomes().Wait(ctx)
	if err != nil {
		cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cerr := engine.Cancel(cancelCtx); cerr != nil {
			log.Error("failed to cancel jobs", "error", cerr)
		}
		printSummary(cmd, summary)
		if errors.Is(err, context.Canceled) {
			return errors.New("run interrupted")
		}
		return err
	}
	engine.Shutdown()

	printSummary(cmd, summary)
	if !summary.OK() {
		return fmt.Errorf("%d of %d job(s) failed", len(summary.Failed), len(jobs))
	}
	return nil
}

// recoverIncomplete reports jobs a previous run left behind in the same
// working directory and clears their markers.
func recoverIncomplete(ctx context.Context, cmd *cobra.Command, h *host.Host, ledger store.Ledger, plugin string, log *slog.Logger) error {
	markers, err := h.Markers().Clear()
	if err != nil {
		return err
	}
	for id, external := range markers {
		log.Warn("job of a previous run did not finish", "jobid", id, "external_jobid", external)
	}

	if ledger == nil {
		return nil
	}
	abandoned, err := ledger.AbandonIncomplete(ctx, h.Workdir(), plugin)
	if err != nil {
		return err
	}
	for _, sub := range abandoned {
		log.Warn("abandoned submission of a previous run",
			"previous_run", sub.RunID.String(), "jobid", sub.JobID, "external_jobid", sub.ExternalJobID)
	}
	if n := len(markers) + len(abandoned); n > 0 {
		cmd.Printf("%s!%s Found %d incomplete job(s) from a previous run\n", colorYellow, colorReset, n)
	}
	return nil
}

func printSummary(cmd *cobra.Command, summary host.Summary) {
	cmd.Println("──────────────────────────────")
	cmd.Printf("%s %d succeeded\n", statusIcon(statusSucceeded), len(summary.Succeeded))
	if len(summary.Failed) > 0 {
		cmd.Printf("%s %d failed: %v\n", statusIcon(statusFailed), len(summary.Failed), summary.Failed)
	}
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return viper.ConfigFileUsed()
}

func init() {
	runCmd.Flags().StringP("executor", "e", "", "Executor plugin to submit jobs with")
	_ = runCmd.MarkFlagRequired("executor")
	if err := plugins.RegisterCLIArgs(runCmd.Flags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register executor flags: %v\n", err)
	}
	rootCmd.AddCommand(runCmd)
}
