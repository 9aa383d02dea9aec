// Package monitor is the terminal live view of a watch: counters, the
// current screen, the latest issues and the activity feed.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/dashboard"
	"github.com/devicelab-dev/simlens/pkg/rules"
	"github.com/devicelab-dev/simlens/pkg/session"
)

const (
	maxIssues     = 5
	minActivities = 3
)

var (
	info    = lipgloss.Color("#2196F3")
	success = lipgloss.Color("#8BC34A")
	warning = lipgloss.Color("#FFC107")
	danger  = lipgloss.Color("#e53935")
	muted   = lipgloss.Color("#6b7280")
)

// Styles used by the view.
type Styles struct {
	Title    lipgloss.Style
	Label    lipgloss.Style
	Value    lipgloss.Style
	Section  lipgloss.Style
	Help     lipgloss.Style
	Severity map[core.Severity]lipgloss.Style
	Activity map[string]lipgloss.Style
}

// DefaultStyles returns the colored styles, or plain ones when plain is set.
func DefaultStyles(plain bool) Styles {
	if plain {
		p := lipgloss.NewStyle()
		return Styles{Title: p, Label: p, Value: p, Section: p, Help: p,
			Severity: map[core.Severity]lipgloss.Style{}, Activity: map[string]lipgloss.Style{}}
	}
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(success),
		Label:   lipgloss.NewStyle().Foreground(muted),
		Value:   lipgloss.NewStyle().Bold(true),
		Section: lipgloss.NewStyle().Bold(true).Underline(true).MarginTop(1),
		Help:    lipgloss.NewStyle().Foreground(muted).MarginTop(1),
		Severity: map[core.Severity]lipgloss.Style{
			core.SeverityHigh:   lipgloss.NewStyle().Foreground(danger).Bold(true),
			core.SeverityMedium: lipgloss.NewStyle().Foreground(warning),
			core.SeverityLow:    lipgloss.NewStyle().Foreground(info),
		},
		Activity: map[string]lipgloss.Style{
			dashboard.ActivityInfo:    lipgloss.NewStyle().Foreground(info),
			dashboard.ActivitySuccess: lipgloss.NewStyle().Foreground(success),
			dashboard.ActivityWarning: lipgloss.NewStyle().Foreground(warning),
			dashboard.ActivityError:   lipgloss.NewStyle().Foreground(danger),
		},
	}
}

type eventMsg session.Event

type closedMsg struct{}

type tickMsg time.Time

// Model is the bubbletea model of the monitor.
type Model struct {
	events <-chan session.Event
	state  *dashboard.State
	styles Styles

	device string
	screen string
	issues []rules.Issue
	ended  bool
	width  int
	height int
}

// New returns a model reading events until the channel is closed.
func New(events <-chan session.Event, styles Styles) Model {
	return Model{
		events: events,
		state:  dashboard.NewState(dashboard.DefaultActivityLimit),
		styles: styles,
	}
}

// Init starts reading events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(wait(m.events), tick())
}

func wait(events <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(e)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles keys, window size, ticks and session events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tickMsg:
		if m.ended {
			return m, nil
		}
		return m, tick()
	case closedMsg:
		m.ended = true
	case eventMsg:
		e := session.Event(msg)
		m.state.Apply(e)
		switch e.Type {
		case session.EventStarted:
			m.device = e.Device
		case session.EventAnalyzed:
			m.screen = e.Screen
		case session.EventIssueFound:
			if e.Issue != nil {
				m.issues = append([]rules.Issue{*e.Issue}, m.issues...)
				if len(m.issues) > maxIssues {
					m.issues = m.issues[:maxIssues]
				}
			}
		case session.EventStopped:
			m.ended = true
		}
		return m, wait(m.events)
	}
	return m, nil
}

// View renders the monitor.
func (m Model) View() string {
	d := m.state.Snapshot()
	s := m.styles
	var b strings.Builder

	status := "watching"
	if m.ended {
		status = "ended"
	}
	b.WriteString(s.Title.Render("simlens monitor"))
	fmt.Fprintf(&b, "  %s\n", s.Label.Render(status))
	if m.device != "" {
		fmt.Fprintf(&b, "%s %s   ", s.Label.Render("device"), s.Value.Render(m.device))
	}
	if m.screen != "" {
		fmt.Fprintf(&b, "%s %s", s.Label.Render("screen"), s.Value.Render(m.screen))
	}
	b.WriteString("\n\n")

	counter := func(label string, v interface{}) string {
		return fmt.Sprintf("%s %s", s.Label.Render(label), s.Value.Render(fmt.Sprint(v)))
	}
	b.WriteString(strings.Join([]string{
		counter("screenshots", d.Session.Screenshots),
		counter("issues", d.TotalIssues),
		counter("fixes", d.AppliedFixes),
		counter("errors", d.Session.Errors),
	}, "   "))
	b.WriteString("\n")
	b.WriteString(strings.Join([]string{
		counter("issues/min", d.Performance.IssuesPerMinute),
		counter("fix rate", fmt.Sprintf("%.0f%%", d.Performance.FixSuccessRate)),
		counter("runtime", (time.Duration(d.Performance.RuntimeSeconds) * time.Second).String()),
	}, "   "))
	b.WriteString("\n")

	b.WriteString(s.Section.Render("Latest issues"))
	b.WriteString("\n")
	if len(m.issues) == 0 {
		b.WriteString(s.Label.Render("none yet"))
		b.WriteString("\n")
	}
	for _, is := range m.issues {
		sev := fmt.Sprintf("%-6s", is.Severity)
		if st, ok := s.Severity[is.Severity]; ok {
			sev = st.Render(sev)
		}
		fmt.Fprintf(&b, "%s %s %s\n", sev, is.RuleID, truncate(is.Description, m.lineWidth(len(is.RuleID)+8)))
	}

	b.WriteString(s.Section.Render("Activity"))
	b.WriteString("\n")
	for _, a := range d.Activities[:min(len(d.Activities), m.activityRows())] {
		line := fmt.Sprintf("%s %s", a.Timestamp, truncate(a.Message, m.lineWidth(9)))
		if st, ok := s.Activity[a.Type]; ok {
			line = st.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString(s.Help.Render("q quit"))
	return b.String()
}

// activityRows fits the feed into the remaining terminal height.
func (m Model) activityRows() int {
	if m.height == 0 {
		return 10
	}
	used := 12 + max(1, len(m.issues))
	return max(minActivities, m.height-used)
}

func (m Model) lineWidth(prefix int) int {
	if m.width == 0 {
		return 0
	}
	return max(10, m.width-prefix)
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// Run shows the monitor until the user quits or ctx is cancelled.
func Run(ctx context.Context, events <-chan session.Event, plain bool) error {
	p := tea.NewProgram(New(events, DefaultStyles(plain)), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
