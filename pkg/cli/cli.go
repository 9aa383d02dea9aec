// Package cli provides the command-line interface for simlens.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/simlens/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "platform",
		Aliases: []string{"p"},
		Usage:   "Platform to capture from (ios, android, synthetic, replay)",
		EnvVars: []string{"SIMLENS_PLATFORM"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"udid"},
		Usage:   "Simulator UDID or name, adb serial, or replay directory (comma-separated for parallel watch)",
		EnvVars: []string{"SIMLENS_DEVICE"},
	},
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to simlens.yaml (default: ./simlens.yaml if present)",
		EnvVars: []string{"SIMLENS_CONFIG"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"SIMLENS_VERBOSE"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Write the log to this file",
		EnvVars: []string{"SIMLENS_LOG_FILE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// Commands lists every top-level command.
func Commands() []*cli.Command {
	return []*cli.Command{
		devicesCommand,
		captureCommand,
		tapCommand,
		typeCommand,
		analyzeCommand,
		watchCommand,
		inboxCommand,
		baselineCommand,
		patchCommand,
		reportCommand,
		historyCommand,
		dashboardCommand,
		monitorCommand,
	}
}

// NewApp returns the simlens application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "simlens",
		Usage:   "Screenshot-driven UI checks for simulators and emulators",
		Version: Version,
		Description: `simlens captures screenshots from an iOS simulator or Android device,
runs layout heuristics and named rules over them, and writes JSON and HTML
reports. Guarded source patches can be applied for known issue types.

Examples:
  simlens devices list
  simlens analyze screenshots/*.png
  simlens -p android watch --interval 10s --limit 20
  simlens report show reports/latest`,
		Flags:    GlobalFlags,
		Commands: Commands(),
		Before:   setup,
		After: func(*cli.Context) error {
			logger.Close()
			return nil
		},
	}
}

// setup applies the logging and color flags before any command runs.
func setup(c *cli.Context) error {
	if c.Bool("no-ansi") {
		colorsEnabled = false
	}
	if path := c.String("log-file"); path != "" {
		if err := logger.Init(path); err != nil {
			return err
		}
	} else if c.Bool("verbose") {
		logger.InitWriter(c.App.ErrWriter)
	}
	logger.SetVerbose(c.Bool("verbose"))
	return nil
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
