package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// colorEnabled reports whether stdout is a terminal worth colorizing.
func colorEnabled() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusColor(status string) text.Color {
	switch status {
	case "done":
		return text.FgGreen
	case "failed":
		return text.FgRed
	case "queued":
		return text.FgYellow
	default:
		return text.FgCyan
	}
}

func colorStatus(status string) string {
	if !colorEnabled() {
		return status
	}
	return statusColor(status).Sprint(status)
}

// renderJob formats a single job for terminal display.
func renderJob(view jobView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job:      %s\n", view.JobID)
	fmt.Fprintf(&b, "Status:   %s\n", colorStatus(view.Status))
	if view.ProgressStage != "" {
		fmt.Fprintf(&b, "Stage:    %s (%.0f%%)\n", view.ProgressStage, view.ProgressPercent)
	}
	for _, input := range view.Inputs {
		fmt.Fprintf(&b, "Input:    [%s] %s\n", input.Role, input.URL)
	}
	fmt.Fprintf(&b, "Options:  mode=%s format=%s\n", view.Options.Mode, view.Options.Format)
	if view.ResultURL != "" {
		fmt.Fprintf(&b, "Result:   %s\n", view.ResultURL)
	}
	if view.ErrorKind != "" {
		fmt.Fprintf(&b, "Error:    [%s] %s\n", view.ErrorKind, view.ErrorMessage)
	}
	if view.Attempts > 0 {
		fmt.Fprintf(&b, "Attempts: %d\n", view.Attempts)
	}
	fmt.Fprintf(&b, "Created:  %s\n", view.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(&b, "Updated:  %s\n", view.UpdatedAt.Local().Format(time.RFC3339))
	return b.String()
}

// renderHealth formats the daemon health summary for terminal display.
func renderHealth(view healthView) string {
	workers := "stopped"
	if view.Workers {
		workers = "running"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Daemon:   %s\n", colorStatus(view.Status))
	fmt.Fprintf(&b, "Workers:  %s\n", workers)
	fmt.Fprintf(&b, "Queue:    %d total (%d queued, %d processing, %d done, %d failed)\n",
		view.Total, view.Queued, view.Processing, view.Done, view.Failed)
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
