// Command ghwatch follows the release workflow of the checklist repository
// on GitHub Actions and fetches the logs of failed runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msageha/nestcheck/internal/buildlog"
	"github.com/msageha/nestcheck/internal/ghactions"
)

const defaultRepository = "MrDanielPotter/CNCChecklist"

type options struct {
	Repository string
	Token      string
	Workflow   string
	Interval   time.Duration
	LogsDir    string
	// newClient is replaced in tests.
	newClient func(token string) *github.Client
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(&options{newClient: ghactions.NewClient}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ghwatch",
		Short:         "Monitor GitHub Actions runs of the release workflow",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Repository, "repo", envOr("GITHUB_REPOSITORY", defaultRepository), "repository as owner/repo ($GITHUB_REPOSITORY)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("GITHUB_TOKEN"), "personal access token ($GITHUB_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.Workflow, "workflow", ghactions.DefaultWorkflow, "workflow file name")
	cmd.PersistentFlags().DurationVar(&opts.Interval, "interval", ghactions.DefaultPollInterval, "poll interval for monitor")
	cmd.PersistentFlags().StringVar(&opts.LogsDir, "logs-dir", "logs", "where downloaded logs are written")

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.monitor()
			if err != nil {
				return err
			}
			runs, err := m.Runs(cmd.Context(), 5)
			if err != nil {
				return err
			}
			ghactions.WriteStatus(cmd.OutOrStdout(), runs)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "monitor",
		Short: "Follow the latest run until it finishes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.monitor()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Monitoring latest workflow run (checking every %s)\n", opts.Interval)
			_, err = m.Watch(cmd.Context(), opts.Interval, func(r ghactions.Run) {
				ghactions.WriteProgress(out, time.Now(), r)
			})
			if cmd.Context().Err() != nil {
				fmt.Fprintln(out, "Monitoring stopped")
				return nil
			}
			return err
		},
	})

	cmd.AddCommand(newDownloadCommand(opts, "download", "Download the logs of a run", false))
	cmd.AddCommand(newDownloadCommand(opts, "analyze", "Download the logs of a run and analyze them", true))
	return cmd
}

func newDownloadCommand(opts *options, use, short string, analyze bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("run ID must be a number: %q", args[0])
			}
			m, err := opts.monitor()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Downloading logs for run #%d...\n", runID)
			path, err := m.DownloadLogs(cmd.Context(), runID, opts.LogsDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Logs saved to: %s\n", path)
			if !analyze {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Analyzing errors...")
			buildlog.Write(out, buildlog.Analyze(string(data)))
			return nil
		},
	}
}

func (o *options) monitor() (*ghactions.Monitor, error) {
	owner, repo, err := ghactions.ParseRepository(o.Repository)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	newClient := o.newClient
	if newClient == nil {
		newClient = ghactions.NewClient
	}
	return ghactions.NewMonitor(newClient(o.Token), owner, repo, logger, ghactions.WithWorkflow(o.Workflow)), nil
}
