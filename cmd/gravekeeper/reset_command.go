package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gravekeeper/internal/pipeline"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	var errorsOnly bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear recorded progress so listings are submitted again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := ctx.openRuntime(pipeline.RuntimeOptions{DryRun: true})
			if err != nil {
				return err
			}
			defer rt.Close()
			cleared, err := rt.Driver.Reset(errorsOnly)
			if err != nil {
				return err
			}
			scope := "processed"
			if errorsOnly {
				scope = "failed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d %s listings\n", cleared, scope)
			return nil
		},
	}
	cmd.Flags().BoolVar(&errorsOnly, "errors-only", false, "Only clear listings whose batch failed")
	return cmd
}
