// Package main provides the flume CLI entrypoint.
//
// Usage:
//
//	flume run -config <path> [options]
//	flume validate -config <path>
//	flume reset -config <path>
//
// Exit codes:
//   - 0: run succeeded or was skipped
//   - 1: run failed
//   - 2: usage or configuration error
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/flume/adapter"
	redisadapter "github.com/justapithecus/flume/adapter/redis"
	"github.com/justapithecus/flume/adapter/webhook"
	"github.com/justapithecus/flume/config"
	"github.com/justapithecus/flume/connector"
	s3conn "github.com/justapithecus/flume/connector/s3"
	"github.com/justapithecus/flume/guard"
	"github.com/justapithecus/flume/metrics"
	"github.com/justapithecus/flume/runtime"
	"github.com/justapithecus/flume/types"
)

const (
	exitSuccess     = 0
	exitRunFailed   = 1
	exitConfigError = 2
)

func main() {
	app := &cli.App{
		Name:    "flume",
		Usage:   "Configuration-driven ETL runner",
		Version: "0.1.0",
		Commands: []*cli.Command{
			runCommand(),
			validateCommand(),
			resetCommand(),
		},
		ExitErrHandler: exitErrHandler,
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit; this branch is only
		// reached if it didn't.
		os.Exit(exitConfigError)
	}
}

// exitErrHandler handles errors from the CLI, respecting cli.ExitCoder.
func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"; skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitConfigError)
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "Path to job configuration YAML",
		Required: true,
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute a job",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run ID (generated when empty)",
			},
			&cli.BoolFlag{
				Name:  "reset",
				Usage: "Ignore the stored run record and execute unconditionally",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
			&cli.StringFlag{
				Name:    "s3-region",
				Usage:   "AWS region for S3 stages",
				EnvVars: []string{"FLUME_S3_REGION"},
			},
			&cli.StringFlag{
				Name:    "s3-endpoint",
				Usage:   "Custom S3 endpoint URL (R2, MinIO)",
				EnvVars: []string{"FLUME_S3_ENDPOINT"},
			},
			&cli.BoolFlag{
				Name:    "s3-path-style",
				Usage:   "Force path-style S3 addressing",
				EnvVars: []string{"FLUME_S3_PATH_STYLE"},
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	job, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfigError)
	}

	store, closeStore, err := buildStore(job.Record)
	if err != nil {
		return cli.Exit(fmt.Sprintf("record store: %v", err), exitConfigError)
	}
	defer closeStore()

	reporter, err := buildReporter(job.Reporter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("reporter: %v", err), exitConfigError)
	}
	if reporter != nil {
		defer func() { _ = reporter.Close() }()
	}

	registry := connector.DefaultRegistry(connector.Options{
		S3: s3conn.ClientConfig{
			Region:       c.String("s3-region"),
			Endpoint:     c.String("s3-endpoint"),
			UsePathStyle: c.Bool("s3-path-style"),
		},
	})

	runID := c.String("run-id")
	collector := metrics.NewCollector(job.Identity(), runID)

	orchestrator, err := runtime.NewOrchestrator(&runtime.RunConfig{
		Job:       job,
		RunID:     runID,
		Reset:     c.Bool("reset"),
		Registry:  registry,
		Store:     store,
		Reporter:  reporter,
		Collector: collector,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create orchestrator: %v", err), exitConfigError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	result, err := orchestrator.Execute(ctx)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	if !c.Bool("quiet") {
		printResult(job.Identity(), result, collector.Snapshot())
	}

	return cli.Exit("", statusToExitCode(result.Status))
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check a job configuration without running it",
		Flags: []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			job, err := config.Load(c.String("config"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfigError)
			}
			fmt.Printf("ok: job %q\n", job.Identity())
			return nil
		},
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Clear the stored run record so the next run executes unconditionally",
		Flags: []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			job, err := config.Load(c.String("config"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfigError)
			}
			store, closeStore, err := buildStore(job.Record)
			if err != nil {
				return cli.Exit(fmt.Sprintf("record store: %v", err), exitConfigError)
			}
			defer closeStore()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := guard.New(store, job.Identity()).Reset(ctx); err != nil {
				return fmt.Errorf("failed to clear run record: %w", err)
			}
			fmt.Printf("cleared run record for job %q\n", job.Identity())
			return nil
		},
	}
}

// buildStore creates the record store named by the config.
func buildStore(cfg config.RecordConfig) (guard.RecordStore, func(), error) {
	switch cfg.Backend {
	case "", "fs":
		return guard.NewFileStore(cfg.Path), func() {}, nil
	case "redis":
		store, err := guard.NewRedisStore(guard.RedisConfig{
			URL:     cfg.URL,
			LockTTL: cfg.LockTTL.Duration,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown record backend %q", cfg.Backend)
	}
}

// buildReporter creates the reporting adapter named by the config, or nil
// when reporting is disabled.
func buildReporter(cfg config.ReporterConfig) (adapter.Adapter, error) {
	retries := webhook.DefaultRetries
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		return redisadapter.New(redisadapter.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown reporter type %q", cfg.Type)
	}
}

func statusToExitCode(status types.RunStatus) int {
	switch status {
	case types.StatusSucceeded, types.StatusSkipped:
		return exitSuccess
	case types.StatusFailed:
		return exitRunFailed
	default:
		return exitRunFailed
	}
}

// printResult prints the run summary.
func printResult(job string, result *types.RunResult, snap metrics.Snapshot) {
	fmt.Printf("\njob=%s, status=%s, duration=%s\n",
		job, result.Status, result.Duration.Round(time.Millisecond))

	fmt.Printf("\n=== Run Result ===\n")
	fmt.Printf("Status:       %s\n", result.Status)
	fmt.Printf("Stages:       %v\n", stageList(result.StagesExecuted))
	fmt.Printf("Fingerprint:  %s\n", result.Fingerprint)
	fmt.Printf("Duration:     %s\n", result.Duration)
	if result.LoadOutcome != nil {
		fmt.Printf("Rows Written: %d\n", result.LoadOutcome.RowsWritten)
		fmt.Printf("Target:       %s\n", result.LoadOutcome.TargetRef)
	}
	if result.ErrMessage != "" {
		fmt.Printf("Error:        %s\n", result.ErrMessage)
	}

	if result.QualityReport != nil {
		report := result.QualityReport
		fmt.Printf("\n=== Quality Report ===\n")
		fmt.Printf("Score:        %.2f\n", report.OverallScore)
		fmt.Printf("Rules:        %d\n", len(report.RuleResults))
		fmt.Printf("Issues:       %d\n", len(report.Issues))
		for _, issue := range report.Issues {
			fmt.Printf("  - %s\n", issue)
		}
		for _, rec := range report.Recommendations {
			fmt.Printf("  > %s\n", rec)
		}
	}

	fmt.Printf("\n=== Metrics ===\n")
	fmt.Printf("Rows Extracted: %d\n", snap.RowsExtracted)
	fmt.Printf("Rows Loaded:    %d\n", snap.RowsLoaded)
	if len(snap.StageRetries) > 0 {
		fmt.Printf("Retries:        %v\n", snap.StageRetries)
	}
}

func stageList(stages []types.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}
