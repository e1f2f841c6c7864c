package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gravekeeper/internal/jobwatch"
	"gravekeeper/internal/pipeline"
	"gravekeeper/internal/provider"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status <job>",
		Short: "Check the status of a provider job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.providerClient()
			if err != nil {
				return err
			}
			job := provider.NewJob(strings.TrimSpace(args[0]), time.Time{}, nil)
			report, err := client.Poll(cmd.Context(), job)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, map[string]any{
					"job":     job.Handle,
					"status":  report.Status,
					"records": report.Records,
					"errors":  report.Errors,
				})
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderStatusLine("Job", statusInfo, job.Handle, colorize))
			fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(report.Status), string(report.Status), colorize))
			fmt.Fprintln(out, renderStatusLine("Records", statusInfo, fmt.Sprintf("%d (%d errors)", report.Records, report.Errors), colorize))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var importAfter bool
	cmd := &cobra.Command{
		Use:   "watch <job>",
		Short: "Poll a provider job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, cancel := signalContext(cmd)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			client, err := ctx.providerClient()
			if err != nil {
				return err
			}
			handle := strings.TrimSpace(args[0])
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			watcher := jobwatch.New(client, jobwatch.OptionsFromConfig(cfg), jobwatch.WithLogger(logger))
			rows, err := watcher.Watch(sigCtx, provider.NewJob(handle, time.Now(), nil), func(p jobwatch.Progress) {
				msg := fmt.Sprintf("%s elapsed, %d records, %d errors", p.Elapsed.Round(time.Second), p.Records, p.Errors)
				if p.PollErr != nil {
					msg = fmt.Sprintf("%s elapsed, status check failed", p.Elapsed.Round(time.Second))
				}
				fmt.Fprintln(out, renderStatusLine(string(p.Status), jobStatusKind(p.Status), msg, colorize))
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Job %s ready with %d rows\n", handle, len(rows))
			if !importAfter {
				return nil
			}

			rt, _, err := ctx.openRuntime(pipeline.RuntimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()
			delta, err := rt.Driver.ImportResults(sigCtx, handle, rows)
			if err != nil {
				return err
			}
			renderCounters(out, delta)
			return nil
		},
	}
	cmd.Flags().BoolVar(&importAfter, "import", false, "Import the results once the job is ready")
	return cmd
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <job>",
		Short: "Import the results of a finished provider job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle := strings.TrimSpace(args[0])
			if handle == "" {
				return errors.New("job handle is required")
			}
			sigCtx, cancel := signalContext(cmd)
			defer cancel()

			rt, _, err := ctx.openRuntime(pipeline.RuntimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			delta, err := rt.Driver.ImportJob(sigCtx, handle)
			if err != nil {
				return fmt.Errorf("import %s: %w", handle, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported job %s\n", handle)
			renderCounters(out, delta)
			return nil
		},
	}
}

func (c *commandContext) providerClient() (*provider.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	return provider.NewFromConfig(cfg, logger)
}
