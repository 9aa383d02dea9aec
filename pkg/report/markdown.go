package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Markdown summarizes a report as markdown: session header, summary counts,
// one table row per capture and the issues of failed captures.
func Markdown(index *Index, captures []CaptureDetail) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# simlens session %s\n\n", shortID(index.SessionID))
	fmt.Fprintf(&b, "**Device:** %s (%s", index.Device.Name, index.Device.Platform)
	if index.Device.OSVersion != "" {
		fmt.Fprintf(&b, " %s", index.Device.OSVersion)
	}
	fmt.Fprintf(&b, ")  \n**Status:** %s  \n**Profile:** %s\n\n", index.Status, index.Simlens.Profile)

	s := index.Summary
	b.WriteString("## Summary\n\n")
	b.WriteString("| Captures | Passed | Failed | Errored | Issues | High | Medium | Low | Fixes |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d | %d | %d | %d | %d |\n\n",
		s.Captures, s.Passed, s.Failed, s.Errored, s.Issues, s.High, s.Medium, s.Low, s.Fixes)

	if len(index.Captures) == 0 {
		b.WriteString("_No captures yet._\n")
		return b.String()
	}

	b.WriteString("## Captures\n\n")
	b.WriteString("| Capture | Screen | Status | Issues | Fixes | Duration |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, c := range index.Captures {
		screen := c.Screen
		if screen == "" {
			screen = "-"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | %s |\n",
			c.ID, screen, c.Status, c.Issues.Total(), c.Fixes, formatDuration(c.Duration))
	}
	b.WriteString("\n")

	for _, d := range captures {
		if len(d.Issues) == 0 && d.Error == nil {
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n", d.ID)
		if d.Error != nil {
			fmt.Fprintf(&b, "> %s error: %s\n\n", d.Error.Category, d.Error.Message)
		}
		for _, is := range d.Issues {
			fmt.Fprintf(&b, "- **%s** `%s` %s", is.Severity, is.RuleID, is.Description)
			if is.Suggestion != "" {
				fmt.Fprintf(&b, " _(%s)_", is.Suggestion)
			}
			b.WriteString("\n")
		}
		if d.Summary != nil && len(d.Summary.NextSteps) > 0 {
			b.WriteString("\nNext steps:\n\n")
			for i, step := range d.Summary.NextSteps {
				fmt.Fprintf(&b, "%d. %s\n", i+1, step)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Render renders markdown for the terminal, wrapped at width. With plain
// set (no ANSI), the markdown is returned as is.
func Render(md string, width int, plain bool) (string, error) {
	if plain {
		return md, nil
	}
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
