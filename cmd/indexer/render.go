package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docqa/indexer/internal/domain"
)

var statusIcons = map[string]string{
	"pending":   "○",
	"running":   "◐",
	"completed": "●",
	"failed":    "✗",
	"skipped":   "○",
}

func icon(status string) string {
	if s, ok := statusIcons[status]; ok {
		return s
	}
	return "?"
}

// truncate shortens s to at most n characters, never splitting a rune.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// renderJobStatus produces the per-stage status view of a job.
func renderJobStatus(job *domain.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job: %s - %s\n", job.ID, job.Name)
	fmt.Fprintf(&b, "Status: %s\n", job.Status)
	fmt.Fprintf(&b, "Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Updated: %s\n", job.UpdatedAt.Format(time.RFC3339))
	b.WriteString("\nStages:\n")

	for _, st := range domain.StageOrder {
		rec := job.Stages[st]
		fmt.Fprintf(&b, "  %s %s: %s", icon(string(rec.Status)), st, rec.Status)
		if rec.Error != "" {
			fmt.Fprintf(&b, " - %s", truncate(rec.Error, 50))
		}
		b.WriteByte('\n')
	}

	if job.Error != "" {
		fmt.Fprintf(&b, "\nError: %s\n", job.Error)
	}
	return b.String()
}

// renderJobList formats job summaries, most recent first, capped at limit.
func renderJobList(jobs []domain.JobSummary, limit int) string {
	if len(jobs) == 0 {
		return "No jobs found\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Jobs (%d total):\n\n", len(jobs))

	shown := jobs
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for _, job := range shown {
		stage := "-"
		if job.CurrentStage != nil {
			stage = string(*job.CurrentStage)
		}
		fmt.Fprintf(&b, "  %s %s  %-30s  %-10s  %s\n",
			icon(string(job.Status)), job.ID, truncate(job.Name, 30), job.Status, stage)
	}

	if len(jobs) > len(shown) {
		fmt.Fprintf(&b, "\n  ... and %d more\n", len(jobs)-len(shown))
	}
	return b.String()
}

// renderJobStats produces the detailed per-stage statistics view.
func renderJobStats(job *domain.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nJob Statistics: %s\n", job.ID)
	b.WriteString(strings.Repeat("=", 50) + "\n")

	for _, st := range domain.StageOrder {
		rec := job.Stages[st]
		fmt.Fprintf(&b, "\n%s:\n", st)
		fmt.Fprintf(&b, "  Status: %s\n", rec.Status)

		if rec.StartedAt != nil {
			fmt.Fprintf(&b, "  Started: %s\n", rec.StartedAt.Format(time.RFC3339))
		}
		if rec.CompletedAt != nil {
			fmt.Fprintf(&b, "  Completed: %s\n", rec.CompletedAt.Format(time.RFC3339))
		}

		if len(rec.Metrics) > 0 {
			b.WriteString("  Stats:\n")
			keys := make([]string, 0, len(rec.Metrics))
			for k := range rec.Metrics {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "    %s: %v\n", k, rec.Metrics[k])
			}
		}

		if rec.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", rec.Error)
		}
	}
	return b.String()
}
