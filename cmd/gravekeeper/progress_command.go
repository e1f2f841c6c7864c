package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gravekeeper/internal/progress"
)

func newProgressCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show processed listings, counters, and pending jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			store, err := progress.Open(cfg.Paths.ProgressFile, logger)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, store.Snapshot())
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			snap := store.Snapshot()
			success, failed := store.StatusCounts()

			for _, line := range renderSectionHeader("Progress", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("File", statusInfo, store.Path(), colorize))
			lastRun := "never"
			if !snap.LastRun.IsZero() {
				lastRun = snap.LastRun.Local().Format(time.DateTime)
			}
			fmt.Fprintln(out, renderStatusLine("Last run", statusInfo, lastRun, colorize))
			fmt.Fprintln(out, renderStatusLine("Succeeded", statusOK, strconv.Itoa(success), colorize))
			failedKind := statusOK
			if failed > 0 {
				failedKind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Failed", failedKind, strconv.Itoa(failed), colorize))
			renderCounters(out, snap.Counters)

			pending := store.PendingJobs()
			if len(pending) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(pending))
			for _, job := range pending {
				slugs := make([]string, 0, len(job.Keys))
				for _, slug := range job.Keys {
					slugs = append(slugs, slug)
				}
				sort.Strings(slugs)
				rows = append(rows, []string{
					job.Handle,
					job.SubmittedAt.Local().Format(time.DateTime),
					strconv.Itoa(len(slugs)),
					abbreviate(slugs, 3),
				})
			}
			for _, line := range renderSectionHeader("Pending jobs", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderTable([]string{"Job", "Submitted", "Listings", "Slugs"}, rows, 2))
			fmt.Fprintf(out, "Finish them with 'gravekeeper run --resume' or 'gravekeeper import %s'.\n", strings.TrimSpace(pending[0].Handle))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
