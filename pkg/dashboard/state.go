package dashboard

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/devicelab-dev/simlens/pkg/session"
)

// DefaultActivityLimit caps the activity feed.
const DefaultActivityLimit = 50

// Activity types, used by the page for coloring.
const (
	ActivityInfo    = "info"
	ActivitySuccess = "success"
	ActivityWarning = "warning"
	ActivityError   = "error"
)

// Activity is one line of the feed.
type Activity struct {
	Time      time.Time `json:"time"`
	Timestamp string    `json:"timestamp"` // HH:MM:SS
	Message   string    `json:"message"`
	Type      string    `json:"type"`
}

// ScreenStats are the counters of one classified screen.
type ScreenStats struct {
	Captures        int `json:"captures"`
	Issues          int `json:"issues"`
	Fixes           int `json:"fixes"`
	Recommendations int `json:"recommendations"`
}

// Performance are the derived rates.
type Performance struct {
	IssuesPerMinute float64 `json:"issuesPerMinute"`
	FixSuccessRate  float64 `json:"fixSuccessRate"` // Percent of issues fixed
	AvgCaptureMs    float64 `json:"avgCaptureMs"`
	RuntimeSeconds  float64 `json:"runtimeSeconds"`
}

// SessionStats describe the current or last watch.
type SessionStats struct {
	SessionID   string     `json:"sessionId,omitempty"`
	Device      string     `json:"device,omitempty"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Screenshots int        `json:"screenshots"`
	Analyses    int        `json:"analyses"`
	Errors      int        `json:"errors"`
	Status      string     `json:"status,omitempty"`
}

// Data is what GET /api/data returns and dashboard_data pushes.
type Data struct {
	Running              bool                   `json:"running"`
	TotalIssues          int                    `json:"totalIssues"`
	FixedIssues          int                    `json:"fixedIssues"`
	CurrentIssues        int                    `json:"currentIssues"`
	TotalRecommendations int                    `json:"totalRecommendations"`
	AppliedFixes         int                    `json:"appliedFixes"`
	Screens              map[string]ScreenStats `json:"screens"`
	Activities           []Activity             `json:"activities"`
	Performance          Performance            `json:"performance"`
	Session              SessionStats           `json:"session"`
}

// State folds session events into dashboard counters.
type State struct {
	mu         sync.Mutex
	limit      int
	now        func() time.Time
	started    time.Time
	running    bool
	total      int
	fixed      int
	recs       int
	screens    map[string]*ScreenStats
	activities []Activity
	session    SessionStats
	captureAt  map[string]time.Time
	captureDur time.Duration
	timed      int
}

// NewState returns an empty state keeping at most limit activities.
func NewState(limit int) *State {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	s := &State{
		limit:     limit,
		now:       time.Now,
		screens:   make(map[string]*ScreenStats),
		captureAt: make(map[string]time.Time),
	}
	s.started = s.now()
	s.session.StartTime = s.started
	return s
}

// SetRunning records whether a watch is active.
func (s *State) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

// AddActivity prepends an activity and returns it.
func (s *State) AddActivity(message, typ string) Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(message, typ)
}

func (s *State) addLocked(message, typ string) Activity {
	now := s.now()
	a := Activity{Time: now, Timestamp: now.Format("15:04:05"), Message: message, Type: typ}
	s.activities = append([]Activity{a}, s.activities...)
	if len(s.activities) > s.limit {
		s.activities = s.activities[:s.limit]
	}
	return a
}

// Apply folds e into the counters. It returns the activity it added, if
// any.
func (s *State) Apply(e session.Event) *Activity {
	s.mu.Lock()
	defer s.mu.Unlock()

	var a Activity
	switch e.Type {
	case session.EventStarted:
		s.session = SessionStats{SessionID: e.SessionID, Device: e.Device, StartTime: e.Time, Status: "running"}
		s.started = e.Time
		a = s.addLocked(fmt.Sprintf("Session started on %s", e.Device), ActivityInfo)
	case session.EventCaptured:
		s.session.Screenshots++
		if e.CaptureID != "" {
			s.captureAt[e.CaptureID] = e.Time
		}
		a = s.addLocked(fmt.Sprintf("Screenshot %s taken on %s", label(e), e.Device), ActivityInfo)
	case session.EventAnalyzed:
		s.session.Analyses++
		if t, ok := s.captureAt[e.CaptureID]; ok {
			s.captureDur += e.Time.Sub(t)
			s.timed++
			delete(s.captureAt, e.CaptureID)
		}
		n := e.Counts.Total()
		s.total += n
		s.recs += e.Recommendations
		st := s.screen(e.Screen)
		st.Captures++
		st.Issues += n
		st.Recommendations += e.Recommendations
		typ := ActivitySuccess
		if e.Counts.High > 0 {
			typ = ActivityWarning
		}
		a = s.addLocked(fmt.Sprintf("%s: %s screen, %d issues (%d high)", label(e), screenName(e.Screen), n, e.Counts.High), typ)
	case session.EventPatched:
		s.fixed += e.Edits
		s.screen(e.Screen).Fixes += e.Edits
		msg := fmt.Sprintf("%s: applied %d fixes", label(e), e.Edits)
		if e.Message != "" {
			msg += " (commit " + e.Message + ")"
		}
		a = s.addLocked(msg, ActivitySuccess)
	case session.EventError:
		s.session.Errors++
		delete(s.captureAt, e.CaptureID)
		a = s.addLocked(fmt.Sprintf("%s: %s", label(e), e.Message), ActivityError)
	case session.EventStopped:
		end := e.Time
		s.session.EndTime = &end
		s.session.Status = e.Message
		a = s.addLocked(fmt.Sprintf("Session %s", e.Message), ActivityWarning)
	default:
		return nil
	}
	return &a
}

func (s *State) screen(name string) *ScreenStats {
	name = screenName(name)
	st, ok := s.screens[name]
	if !ok {
		st = &ScreenStats{}
		s.screens[name] = st
	}
	return st
}

// Snapshot returns a copy of the current data.
func (s *State) Snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := Data{
		Running:              s.running,
		TotalIssues:          s.total,
		FixedIssues:          s.fixed,
		CurrentIssues:        s.total - s.fixed,
		TotalRecommendations: s.recs,
		AppliedFixes:         s.fixed,
		Screens:              make(map[string]ScreenStats, len(s.screens)),
		Activities:           append([]Activity{}, s.activities...),
		Session:              s.session,
	}
	if d.CurrentIssues < 0 {
		d.CurrentIssues = 0
	}
	for name, st := range s.screens {
		d.Screens[name] = *st
	}

	end := s.now()
	if s.session.EndTime != nil {
		end = *s.session.EndTime
	}
	runtime := end.Sub(s.started)
	d.Performance.RuntimeSeconds = round2(runtime.Seconds())
	if minutes := runtime.Minutes(); minutes > 0 {
		d.Performance.IssuesPerMinute = round2(float64(s.total) / minutes)
	}
	if s.total > 0 {
		d.Performance.FixSuccessRate = round2(math.Min(100, float64(s.fixed)/float64(s.total)*100))
	}
	if s.timed > 0 {
		d.Performance.AvgCaptureMs = round2(float64(s.captureDur.Milliseconds()) / float64(s.timed))
	}
	return d
}

func label(e session.Event) string {
	if e.CaptureID != "" {
		return e.CaptureID
	}
	return e.Device
}

func screenName(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
