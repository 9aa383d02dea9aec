package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/report"
	"github.com/devicelab-dev/simlens/pkg/rules"
	"github.com/devicelab-dev/simlens/pkg/session"
)

const tableWidth = 72

// printResult prints one capture and its issues.
func printResult(w io.Writer, label string, res *session.Result) {
	if res == nil {
		return
	}
	screen := "unknown"
	if res.Analysis != nil {
		screen = string(res.Analysis.Screen)
	}
	ms := res.Duration.Milliseconds()

	switch res.Status {
	case core.StatusPassed:
		fmt.Fprintf(w, "  %s✓%s %s %s(%s, %s)%s\n",
			color(colorGreen), color(colorReset), label, color(colorGray), screen, formatDuration(ms), color(colorReset))
	case core.StatusFailed:
		fmt.Fprintf(w, "  %s✗%s %s %s(%s, %s)%s\n",
			color(colorRed), color(colorReset), label, color(colorGray), screen, formatDuration(ms), color(colorReset))
	default:
		msg := "error"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		fmt.Fprintf(w, "  %s!%s %s\n", color(colorYellow), color(colorReset), label)
		fmt.Fprintf(w, "      %s╰─%s %s\n", color(colorGray), color(colorReset), msg)
		return
	}
	printIssues(w, res.Issues)
	if res.Patches != nil && len(res.Patches.Files) > 0 {
		verb := "applied"
		n := res.Patches.Applied()
		if res.Patches.DryRun {
			verb = "planned"
			n = 0
			for _, f := range res.Patches.Files {
				n += len(f.Edits)
			}
		}
		fmt.Fprintf(w, "      %s%s %d edits%s", color(colorCyan), verb, n, color(colorReset))
		if res.Commit != "" {
			fmt.Fprintf(w, " (commit %s)", res.Commit)
		}
		fmt.Fprintln(w)
	}
}

func printIssues(w io.Writer, issues []rules.Issue) {
	for _, is := range issues {
		sev := color(colorGray)
		switch is.Severity {
		case core.SeverityHigh:
			sev = color(colorRed)
		case core.SeverityMedium:
			sev = color(colorYellow)
		}
		fmt.Fprintf(w, "      %s%-6s%s %s: %s\n", sev, is.Severity, color(colorReset), is.RuleID, is.Description)
	}
}

// printCaptures prints every capture in a report directory.
func printCaptures(w io.Writer, dir string) {
	_, captures, err := report.ReadReport(dir)
	if err != nil {
		fmt.Fprintf(w, "  (Could not read report: %v)\n", err)
		return
	}
	for _, d := range captures {
		screen := "unknown"
		if d.Analysis != nil {
			screen = string(d.Analysis.Screen)
		}
		fmt.Fprintf(w, "  %s[%s]%s %s screen on %s\n", color(colorCyan), d.ID, color(colorReset), screen, d.Source)
		if d.Error != nil {
			fmt.Fprintf(w, "      %s╰─%s %s\n", color(colorGray), color(colorReset), d.Error.Message)
		}
		printIssues(w, d.Issues)
	}
}

// printSummary prints the session totals.
func printSummary(w io.Writer, sum *session.Summary, reportDir string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))

	statusColor := color(colorGreen)
	switch sum.Status {
	case core.StatusFailed:
		statusColor = color(colorRed)
	case core.StatusErrored, core.StatusStopped:
		statusColor = color(colorYellow)
	}
	fmt.Fprintf(w, "  %sSession %s%s  %d captures in %s\n",
		statusColor, sum.Status, color(colorReset), sum.Captures, formatDuration(sum.Duration.Milliseconds()))
	fmt.Fprintf(w, "  Passed: %s%d%s • Failed: %s%d%s • Errored: %s%d%s\n",
		color(colorGreen), sum.Passed, color(colorReset),
		color(colorRed), sum.Failed, color(colorReset),
		color(colorYellow), sum.Errored, color(colorReset))
	fmt.Fprintf(w, "  Issues: %d (high %d, medium %d, low %d) • Fixes: %d\n",
		sum.Issues.Total(), sum.Issues.High, sum.Issues.Medium, sum.Issues.Low, sum.Fixes)
	if sum.Unchanged > 0 {
		fmt.Fprintf(w, "  Unchanged frames skipped: %d\n", sum.Unchanged)
	}
	if reportDir != "" {
		fmt.Fprintf(w, "  Report: %s\n", reportDir)
	}
	fmt.Fprintln(w, strings.Repeat("═", tableWidth))
}
