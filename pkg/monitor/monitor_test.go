package monitor

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/rules"
	"github.com/devicelab-dev/simlens/pkg/session"
)

func feed(t *testing.T, m tea.Model, events ...session.Event) tea.Model {
	t.Helper()
	for _, e := range events {
		var cmd tea.Cmd
		m, cmd = m.Update(eventMsg(e))
		if cmd == nil {
			t.Fatalf("event %s: expected a command reading the next event", e.Type)
		}
	}
	return m
}

func TestModel_RendersEvents(t *testing.T) {
	ch := make(chan session.Event)
	var m tea.Model = New(ch, DefaultStyles(true))
	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})

	issue := rules.Issue{RuleID: "text_overflow", Severity: core.SeverityHigh, Description: "Forgot password? runs past the edge"}
	m = feed(t, m,
		session.Event{Type: session.EventStarted, Device: "iPhone 15"},
		session.Event{Type: session.EventCaptured, CaptureID: "capture-001", Device: "iPhone 15"},
		session.Event{Type: session.EventAnalyzed, CaptureID: "capture-001", Screen: "login", Counts: rules.Counts{High: 1}},
		session.Event{Type: session.EventIssueFound, CaptureID: "capture-001", Screen: "login", Issue: &issue},
	)

	view := m.View()
	for _, want := range []string{
		"simlens monitor  watching",
		"device iPhone 15",
		"screen login",
		"screenshots 1",
		"issues 1",
		"high   text_overflow Forgot password?",
		"capture-001: login screen, 1 issues (1 high)",
		"q quit",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	m = feed(t, m, session.Event{Type: session.EventStopped, Message: "failed"})
	if !strings.Contains(m.View(), "ended") {
		t.Errorf("expected ended status")
	}
}

func TestModel_KeepsLatestIssues(t *testing.T) {
	var m tea.Model = New(make(chan session.Event), DefaultStyles(true))
	for i := 0; i < maxIssues+3; i++ {
		is := rules.Issue{RuleID: "rule", Severity: core.SeverityLow, Description: strings.Repeat("x", i+1)}
		m = feed(t, m, session.Event{Type: session.EventIssueFound, Issue: &is})
	}
	if got := len(m.(Model).issues); got != maxIssues {
		t.Errorf("issues = %d, want %d", got, maxIssues)
	}
	if first := m.(Model).issues[0].Description; len(first) != maxIssues+3 {
		t.Errorf("newest issue should come first, got %q", first)
	}
}

func TestModel_Quit(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	} {
		m := New(make(chan session.Event), DefaultStyles(true))
		_, cmd := m.Update(key)
		if cmd == nil {
			t.Fatalf("%s: expected quit command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: expected tea.QuitMsg", key)
		}
	}
}

func TestModel_ClosedChannel(t *testing.T) {
	ch := make(chan session.Event)
	close(ch)
	m := New(ch, DefaultStyles(true))
	if _, ok := wait(ch)().(closedMsg); !ok {
		t.Fatal("expected closedMsg from a closed channel")
	}
	next, cmd := m.Update(closedMsg{})
	if cmd != nil {
		t.Error("no more reads after the channel closes")
	}
	if !next.(Model).ended {
		t.Error("expected ended")
	}
	if _, cmd := next.Update(tickMsg{}); cmd != nil {
		t.Error("ticks stop once ended")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 8, "this is…"},
		{"unbounded", 0, "unbounded"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}
