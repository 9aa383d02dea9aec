package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/simlens/pkg/core"
)

var captureCommand = &cli.Command{
	Name:  "capture",
	Usage: "Take one screenshot and save it as a PNG",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "File to write (default: capture-<timestamp>.png)",
		},
	},
	Action: runCapture,
}

var tapCommand = &cli.Command{
	Name:      "tap",
	Usage:     "Tap the device screen at x, y (points)",
	ArgsUsage: "<x> <y>",
	Action:    runTap,
}

var typeCommand = &cli.Command{
	Name:      "type",
	Usage:     "Type text into the focused field",
	ArgsUsage: "<text>",
	Action:    runType,
}

func runCapture(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dev, err := openDevice(c.Context, cfg)
	if err != nil {
		return err
	}

	var png []byte
	err = core.Retry(c.Context, cfg.Retry, func() error {
		data, err := dev.Screenshot(c.Context)
		if err != nil {
			return err
		}
		if !core.IsPNG(data) {
			return core.ErrEmptyCapture.Messagef("%d bytes that are not a PNG", len(data))
		}
		png = data
		return nil
	}, nil)
	if err != nil {
		return core.ErrCaptureFailed.WithMessage("screenshot").WithCause(err)
	}

	path := c.String("output")
	if path == "" {
		path = fmt.Sprintf("capture-%s.png", time.Now().Format("20060102-150405"))
	}
	if err := core.WriteFileAtomic(path, png, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out(c), "%s (%d bytes from %s)\n", path, len(png), dev.Info().DeviceName)
	return nil
}

func runTap(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("tap needs <x> <y>")
	}
	x, errX := strconv.Atoi(c.Args().Get(0))
	y, errY := strconv.Atoi(c.Args().Get(1))
	if errX != nil || errY != nil || x < 0 || y < 0 {
		return fmt.Errorf("invalid coordinates %q %q", c.Args().Get(0), c.Args().Get(1))
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dev, err := openDevice(c.Context, cfg)
	if err != nil {
		return err
	}
	return dev.Tap(c.Context, x, y)
}

func runType(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	if text == "" {
		return fmt.Errorf("text is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dev, err := openDevice(c.Context, cfg)
	if err != nil {
		return err
	}
	return dev.InputText(c.Context, text)
}
