package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/session"
)

var screenFlag = &cli.StringFlag{
	Name:  "screen",
	Usage: "Screen name (default: the detector's classification of the image)",
}

var baselineCommand = &cli.Command{
	Name:  "baseline",
	Usage: "Manage versioned baseline screenshots",
	Description: `Baselines are stored as <baseline.dir>/<screen>/v<N>.png with a
manifest.yaml per screen. Captures of a screen with a baseline are diffed
against its newest version.

Examples:
  simlens baseline approve --screen login login.png
  simlens baseline diff --screen login --highlight diff.png current.png
  simlens baseline list`,
	Subcommands: []*cli.Command{
		{
			Name:      "approve",
			Usage:     "Store a screenshot as the newest baseline of its screen",
			ArgsUsage: "<png>",
			Flags:     []cli.Flag{screenFlag},
			Action:    runBaselineApprove,
		},
		{
			Name:      "diff",
			Usage:     "Compare a screenshot with the newest baseline",
			ArgsUsage: "<png>",
			Flags: []cli.Flag{
				screenFlag,
				&cli.StringFlag{Name: "highlight", Usage: "Write the screenshot with changed regions outlined"},
			},
			Action: runBaselineDiff,
		},
		{
			Name:   "list",
			Usage:  "List screens and their baseline versions",
			Action: runBaselineList,
		},
	},
}

// readScreenshot loads the PNG argument and resolves its screen name.
func readScreenshot(c *cli.Context, cfg *config.Config) ([]byte, string, error) {
	path := c.Args().First()
	if path == "" {
		return nil, "", fmt.Errorf("screenshot path is required")
	}
	png, err := os.ReadFile(path) //#nosec G304 -- user-provided screenshot
	if err != nil {
		return nil, "", err
	}
	if !core.IsPNG(png) {
		return nil, "", core.ErrDecodeFailed.Messagef("%s is not a PNG", path)
	}
	screen := c.String("screen")
	if screen == "" {
		a, err := newDetector(cfg.Detector).Analyze(c.Context, png)
		if err != nil {
			return nil, "", fmt.Errorf("classify %s (pass --screen to skip): %w", path, err)
		}
		screen = string(a.Screen)
	}
	return png, screen, nil
}

func runBaselineApprove(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	png, screen, err := readScreenshot(c, cfg)
	if err != nil {
		return err
	}
	v, err := session.NewBaselines(cfg.Baseline.Dir).Approve(screen, png, c.Args().First())
	if err != nil {
		return err
	}
	fmt.Fprintf(out(c), "  %s✓ Approved %s v%d%s (%s)\n", color(colorGreen), screen, v.Version, color(colorReset), v.File)
	return nil
}

func runBaselineDiff(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	png, screen, err := readScreenshot(c, cfg)
	if err != nil {
		return err
	}
	base, v, err := session.NewBaselines(cfg.Baseline.Dir).Latest(screen)
	if err != nil {
		return err
	}
	det := newDetector(cfg.Detector)
	diff, err := det.Diff(c.Context, base, png)
	if err != nil {
		return err
	}

	fmt.Fprintf(out(c), "%s v%d: %.2f%% changed (%d pixels, %d regions)\n",
		screen, v.Version, diff.ChangedRatio*100, diff.ChangedPixels, len(diff.Regions))
	for _, r := range diff.Regions {
		fmt.Fprintf(out(c), "  %dx%d at %d,%d\n", r.Width, r.Height, r.X, r.Y)
	}

	if path := c.String("highlight"); path != "" {
		regions := make([]core.Region, len(diff.Regions))
		for i, b := range diff.Regions {
			regions[i] = core.Region{Label: "changed", Bounds: b, Severity: core.SeverityMedium}
		}
		img, err := det.Highlight(png, regions)
		if err != nil {
			return err
		}
		if err := core.WriteFileAtomic(path, img, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func runBaselineList(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	b := session.NewBaselines(cfg.Baseline.Dir)
	screens, err := b.Screens()
	if err != nil {
		return err
	}
	if len(screens) == 0 {
		fmt.Fprintf(out(c), "No baselines in %s\n", b.Dir())
		return nil
	}
	tw := tabwriter.NewWriter(out(c), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCREEN\tVERSIONS\tLATEST\tAPPROVED")
	for _, s := range screens {
		versions, err := b.Versions(s)
		if err != nil || len(versions) == 0 {
			continue
		}
		last := versions[len(versions)-1]
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s, len(versions), last.File, last.Approved.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
