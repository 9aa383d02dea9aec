package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/report"
	"github.com/devicelab-dev/simlens/pkg/store"
)

var reportCommand = &cli.Command{
	Name:  "report",
	Usage: "Render a report directory",
	Subcommands: []*cli.Command{
		{
			Name:      "html",
			Usage:     "Regenerate report.html",
			ArgsUsage: "<report-dir>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "HTML file (default: <report-dir>/report.html)"},
				&cli.StringFlag{Name: "title", Usage: "Report title"},
			},
			Action: runReportHTML,
		},
		{
			Name:      "show",
			Usage:     "Print the report in the terminal",
			ArgsUsage: "<report-dir>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "Keep printing captures as a running session adds them"},
				&cli.DurationFlag{Name: "poll", Usage: "Follow poll interval", Value: time.Second},
			},
			Action: runReportShow,
		},
	},
}

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "Show recent sessions and rule trends from the history database",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Sessions to show", Value: 10},
		&cli.DurationFlag{Name: "since", Usage: "Issue trend window", Value: 7 * 24 * time.Hour},
	},
	Action: runHistory,
}

func runReportHTML(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return fmt.Errorf("report directory is required")
	}
	if err := report.Recover(dir); err != nil {
		logger.Warn("recover %s: %v", dir, err)
	}
	cfg := report.HTMLConfig{OutputPath: c.String("output"), Title: c.String("title")}
	if err := report.GenerateHTML(dir, cfg); err != nil {
		return err
	}
	path := cfg.OutputPath
	if path == "" {
		path = filepath.Join(dir, "report.html")
	}
	fmt.Fprintf(out(c), "%s✓%s %s\n", color(colorGreen), color(colorReset), path)
	return nil
}

func runReportShow(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return fmt.Errorf("report directory is required")
	}
	if !c.Bool("follow") {
		idx, captures, err := report.ReadReport(dir)
		if err != nil {
			return err
		}
		return printMarkdown(c, report.Markdown(idx, captures))
	}

	ctx, cancel := signalContext(c)
	defer cancel()

	consumer := report.NewConsumer(dir)
	ticker := time.NewTicker(c.Duration("poll"))
	defer ticker.Stop()
	for {
		changed, idx, err := consumer.Poll()
		if err != nil {
			return err
		}
		status := make(map[string]report.Status, len(idx.Captures))
		for _, e := range idx.Captures {
			status[e.ID] = e.Status
		}
		for _, id := range changed {
			if !status[id].IsTerminal() {
				continue
			}
			d, err := consumer.ReadCapture(id)
			if err != nil {
				logger.Debug("read capture %s: %v", id, err)
				continue
			}
			screen := "unknown"
			if d.Analysis != nil {
				screen = string(d.Analysis.Screen)
			}
			fmt.Fprintf(out(c), "  %s[%s]%s %s %s\n", color(colorCyan), d.ID, color(colorReset), screen, status[id])
			printIssues(out(c), d.Issues)
		}
		if idx.Status.IsTerminal() {
			fmt.Fprintf(out(c), "Session %s: %d captures\n", idx.Status, len(idx.Captures))
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printMarkdown(c *cli.Context, md string) error {
	text, err := report.Render(md, tableWidth+8, !colorsEnabled)
	if err != nil {
		return err
	}
	fmt.Fprint(out(c), text)
	return nil
}

func runHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Store.Disabled {
		return fmt.Errorf("history database is disabled (store.disabled)")
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.RecentSessions(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	w := out(c)
	if len(sessions) == 0 {
		fmt.Fprintf(w, "No sessions in %s\n", cfg.Store.Path)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tDEVICE\tSTATUS\tSTARTED\tCAPTURES\tISSUES")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			s.ID, s.Device, s.Status, s.StartedAt.Local().Format("2006-01-02 15:04"), s.Captures, s.Issues)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	top, err := st.TopRules(c.Context, 5)
	if err != nil {
		return err
	}
	since := time.Now().Add(-c.Duration("since"))
	counts, err := st.IssueCounts(c.Context, since)
	if err != nil {
		return err
	}
	if len(top) > 0 {
		fmt.Fprintf(w, "\n%sTop rules%s\n", color(colorBold), color(colorReset))
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, rc := range top {
			fmt.Fprintf(tw, "  %s\t%d\n", rc.RuleID, rc.Count)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if len(counts) > 0 {
		fmt.Fprintf(w, "\n%sIssues by type since %s%s\n", color(colorBold), since.Format("2006-01-02"), color(colorReset))
		types := make([]string, 0, len(counts))
		for typ := range counts {
			types = append(types, typ)
		}
		sort.Strings(types)
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  TYPE\tHIGH\tMEDIUM\tLOW")
		for _, typ := range types {
			n := counts[typ]
			fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\n", typ, n.High, n.Medium, n.Low)
		}
		return tw.Flush()
	}
	return nil
}
