package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"gravekeeper/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var batchSize int
	var reset bool
	var errorsOnly bool
	var resume bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enrich every listing that still needs photos and reviews",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if errorsOnly {
				reset = true
			}
			if dryRun && reset {
				return errors.New("--reset cannot be combined with --dry-run")
			}
			if batchSize < 0 {
				return errors.New("--batch-size must be positive")
			}

			sigCtx, cancel := signalContext(cmd)
			defer cancel()

			rt, _, err := ctx.openRuntime(pipeline.RuntimeOptions{
				DryRun:    dryRun,
				Resume:    resume,
				BatchSize: batchSize,
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			if reset {
				cleared, err := rt.Driver.Reset(errorsOnly)
				if err != nil {
					return fmt.Errorf("reset progress: %w", err)
				}
				fmt.Fprintf(out, "Cleared %d processed listings\n", cleared)
			}

			summary, err := rt.Driver.Run(sigCtx)
			if err != nil {
				return err
			}
			renderSummary(out, summary, shouldColorize(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the batches that would be submitted without calling the provider")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "Listings per provider job (overrides pipeline.batch_size)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear all progress before running")
	cmd.Flags().BoolVar(&errorsOnly, "errors-only", false, "Clear only failed listings before running (implies --reset)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Finish jobs left pending by an earlier run before submitting new ones")
	return cmd
}
