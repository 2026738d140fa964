package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	ledgerhttp "github.com/odyssey-erp/odyssey-ledger/internal/ledger/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	inspector := asynq.NewInspector(rt.cfg.Redis().AsynqOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	// the HTTP surface only reads reports, nothing posts through it
	reports := rt.ledger(nil).Statements
	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        rt.cfg,
		LedgerHandler: ledgerhttp.NewHandler(logger, reports),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Database:      rt.pool,
		Metrics:       rt.metrics,
	})

	server := &http.Server{
		Addr:         rt.cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  rt.cfg.AppReadTimeout,
		WriteTimeout: rt.cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", rt.cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("http server", slog.Any("error", err))
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return err
	}
	return nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if err := db.Migrate(cfg.PGDSN); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newChartCommand() *cobra.Command {
	var jsonOutput bool
	chart := &cobra.Command{
		Use:   "chart",
		Short: "Manage the chart of accounts",
	}
	chart.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON output")

	withChart := func(cmd *cobra.Command, run func(*cli.ChartCLI, cli.ChartOptions) int) error {
		rt, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		helper, err := cli.NewChartCLI(rt.ledger(nil).Accounts)
		if err != nil {
			return err
		}
		return asExit(run(helper, cli.ChartOptions{
			JSONOutput: jsonOutput,
			Stdout:     cmd.OutOrStdout(),
			Stderr:     cmd.ErrOrStderr(),
		}))
	}

	chart.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create missing canonical accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChart(cmd, func(c *cli.ChartCLI, opts cli.ChartOptions) int {
				return c.SeedCommand(cmd.Context(), opts)
			})
		},
	})
	chart.AddCommand(&cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import accounts from a CSV export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withChart(cmd, func(c *cli.ChartCLI, opts cli.ChartOptions) int {
				return c.ImportCommand(cmd.Context(), f, opts)
			})
		},
	})
	return chart
}

func newIntegrityCommand() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Reconcile balances with the posting log and the accounting equation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			return asExit(cli.IntegrityCommand(cmd.Context(), rt.ledger(nil).Statements, cli.IntegrityOptions{
				JSONOutput: jsonOutput,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			}))
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON output")
	return cmd
}

func newJobsCommand() *cobra.Command {
	var (
		redisAddr  string
		jsonOutput bool
	)
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect, trigger and replay background jobs",
	}
	jobsCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "redis address (defaults to REDIS_ADDR)")
	jobsCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON output")

	// run opens the broker, hands the CLI to fn and maps its exit code.
	run := func(cmd *cobra.Command, fn func(*cli.JobsCLI, cli.JobsOptions) int) error {
		cfg, err := app.LoadConfig()
		if err != nil {
			return err
		}
		opt := cfg.Redis().AsynqOpt()
		if redisAddr != "" {
			opt.Addr = redisAddr
		}
		c := cli.NewJobsCLI(opt)
		defer func() { _ = c.Close() }()
		return asExit(fn(c, cli.JobsOptions{
			JSONOutput: jsonOutput,
			Stdout:     cmd.OutOrStdout(),
			Stderr:     cmd.ErrOrStderr(),
		}))
	}

	jobsCmd.AddCommand(&cobra.Command{
		Use:   "trigger <name>",
		Short: "Enqueue a job by task type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(c *cli.JobsCLI, opts cli.JobsOptions) int {
				return c.TriggerCommand(cmd.Context(), args[0], opts)
			})
		},
	})
	jobsCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show default queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(c *cli.JobsCLI, opts cli.JobsOptions) int {
				return c.StatsCommand(cmd.Context(), opts)
			})
		},
	})

	var (
		replayType  string
		replayLimit int
	)
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Move archived tasks back to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(c *cli.JobsCLI, opts cli.JobsOptions) int {
				return c.ReplayCommand(cmd.Context(), replayType, replayLimit, opts)
			})
		},
	}
	replay.Flags().StringVar(&replayType, "type", jobs.TaskAuditRecord, "task type to replay, empty for all")
	replay.Flags().IntVar(&replayLimit, "limit", 100, "maximum archived tasks to inspect")
	jobsCmd.AddCommand(replay)
	return jobsCmd
}
