package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/simlens/pkg/patch"
	"github.com/devicelab-dev/simlens/pkg/report"
	"github.com/devicelab-dev/simlens/pkg/rules"
	"github.com/devicelab-dev/simlens/pkg/vcs"
)

var patchCommand = &cli.Command{
	Name:      "patch",
	Usage:     "Plan or apply source patches for the issues in a report",
	ArgsUsage: "<report-dir>",
	Description: `Collects the issues recorded in a report directory, matches them to the
configured patch rules and prints the resulting diff. Nothing is written
unless --apply is given.

Examples:
  simlens patch reports/2026-10-14_09-30-00
  simlens patch --capture capture-003 --apply --commit reports/latest`,
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "apply", Usage: "Write the edits to disk"},
		&cli.BoolFlag{Name: "commit", Usage: "Commit written files with git (needs --apply)"},
		&cli.StringSliceFlag{Name: "capture", Usage: "Only use issues from these capture IDs"},
	},
	Action: runPatch,
}

func runPatch(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return fmt.Errorf("report directory is required")
	}
	if c.Bool("commit") && !c.Bool("apply") {
		return fmt.Errorf("--commit needs --apply")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	_, captures, err := report.ReadReport(dir)
	if err != nil {
		return err
	}
	issues := collectIssues(captures, c.StringSlice("capture"))
	if len(issues) == 0 {
		fmt.Fprintln(out(c), "No issues in report")
		return nil
	}

	apply := c.Bool("apply")
	p, err := patch.NewPatcher(cfg.Patches, !apply)
	if err != nil {
		return err
	}
	plan, err := p.Planner.Plan(issues)
	if err != nil {
		return err
	}
	w := out(c)
	for _, e := range plan.Errors {
		fmt.Fprintf(w, "  %s!%s %v\n", color(colorYellow), color(colorReset), e)
	}
	for _, s := range plan.Skipped {
		fmt.Fprintf(w, "  %s-%s %s:%d %s (%s)\n", color(colorGray), color(colorReset), s.File, s.Line, s.RuleID, s.Reason)
	}
	if plan.Empty() {
		fmt.Fprintf(w, "No edits for %d issues\n", len(issues))
		return nil
	}
	for _, e := range plan.Edits {
		fmt.Fprintf(w, "  %s+%s %s:%d %s\n", color(colorCyan), color(colorReset), e.File, e.Line, e.RuleID)
	}

	res, err := patch.Apply(c.Context, plan, p.Options)
	if err != nil {
		return err
	}
	fmt.Fprint(w, res.Diff())
	for _, f := range res.Failed() {
		fmt.Fprintf(w, "  %s✗%s %s: %s\n", color(colorRed), color(colorReset), f.Rel, f.Error)
	}
	if res.DryRun {
		fmt.Fprintf(w, "\n%d edits planned (dry run, pass --apply to write)\n", len(plan.Edits))
		return nil
	}
	fmt.Fprintf(w, "\n%d edits written to %d files\n", res.Applied(), len(res.Written()))

	if c.Bool("commit") && res.Applied() > 0 {
		var types []string
		for _, r := range p.Planner.RulesFor(issues) {
			types = append(types, r.IssueType)
		}
		hash, err := vcs.New(shellRunner, cfg.Patches.Root).Commit(c.Context, vcs.CommitMessage(types, res.Applied()), res.Written())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Committed %s\n", hash)
	}
	if len(res.Failed()) > 0 {
		return fmt.Errorf("%d files could not be patched", len(res.Failed()))
	}
	return nil
}

// collectIssues gathers issues from captures, optionally only from ids.
func collectIssues(captures []report.CaptureDetail, ids []string) []rules.Issue {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var issues []rules.Issue
	for _, d := range captures {
		if len(want) > 0 && !want[d.ID] {
			continue
		}
		issues = append(issues, d.Issues...)
	}
	return issues
}
