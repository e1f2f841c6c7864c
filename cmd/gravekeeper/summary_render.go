package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gravekeeper/internal/pipeline"
	"gravekeeper/internal/progress"
)

func counterRows(c progress.Counters) [][]string {
	return [][]string{
		{"Found", strconv.Itoa(c.Found)},
		{"Not found", strconv.Itoa(c.NotFound)},
		{"Errors", strconv.Itoa(c.Errors)},
		{"Photos downloaded", strconv.Itoa(c.Downloaded)},
		{"Reviews imported", strconv.Itoa(c.ReviewsImported)},
		{"Reviews duplicate", strconv.Itoa(c.ReviewsDuplicate)},
		{"Reviews skipped", strconv.Itoa(c.ReviewsSkipped)},
		{"Reviews failed", strconv.Itoa(c.ReviewsFailed)},
		{"Unmatched rows", strconv.Itoa(c.Unmatched)},
	}
}

func renderCounters(out io.Writer, c progress.Counters) {
	fmt.Fprintln(out, renderTable([]string{"Metric", "Count"}, counterRows(c), 1))
}

func renderSummary(out io.Writer, s pipeline.Summary, colorize bool) {
	if s.DryRun {
		renderPlan(out, s, colorize)
		return
	}
	for _, line := range renderSectionHeader("Run "+s.RunID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("State", runStateKind(s.State), string(s.State), colorize))
	batches := fmt.Sprintf("%d of %d run, %d failed", s.BatchesRun, s.Batches, s.BatchesFailed)
	if s.Resumed > 0 {
		batches += fmt.Sprintf(", %d resumed", s.Resumed)
	}
	kind := statusOK
	if s.BatchesFailed > 0 {
		kind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Batches", kind, batches, colorize))
	fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, s.Duration().Round(time.Millisecond).String(), colorize))
	renderCounters(out, s.Counters)
	switch s.State {
	case pipeline.StateHalted:
		fmt.Fprintln(out, "Run halted after repeated provider failures; progress is saved. Fix the provider issue and run again.")
	case pipeline.StateInterrupted:
		fmt.Fprintln(out, "Run interrupted; progress is saved. Run again to continue.")
	}
}

func renderPlan(out io.Writer, s pipeline.Summary, colorize bool) {
	for _, line := range renderSectionHeader("Dry run", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Candidates", statusInfo, strconv.Itoa(s.Candidates), colorize))
	fmt.Fprintln(out, renderStatusLine("Batches", statusInfo, strconv.Itoa(s.Batches), colorize))
	if len(s.Planned) == 0 {
		fmt.Fprintln(out, "Nothing to do.")
		return
	}
	rows := make([][]string, 0, len(s.Planned))
	for _, batch := range s.Planned {
		rows = append(rows, []string{
			strconv.Itoa(batch.Number),
			strconv.Itoa(len(batch.Candidates)),
			abbreviate(batch.Slugs(), 3),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"Batch", "Listings", "Slugs"}, rows, 0, 1))
}

func abbreviate(values []string, limit int) string {
	if len(values) <= limit {
		return strings.Join(values, ", ")
	}
	return fmt.Sprintf("%s, +%d more", strings.Join(values[:limit], ", "), len(values)-limit)
}
