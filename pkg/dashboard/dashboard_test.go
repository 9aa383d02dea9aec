package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/rules"
	"github.com/devicelab-dev/simlens/pkg/session"
)

// The genai client's transport pulls in opencensus, whose init starts a
// stats worker that lives for the whole test binary.
var ignoreStatsWorker = goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")

func fixedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

// ============================================
// State
// ============================================

func TestState_Apply(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewState(0)
	s.now = fixedClock(start)

	s.Apply(session.Event{Type: session.EventStarted, Time: start, SessionID: "s1", Device: "iPhone 15"})
	s.Apply(session.Event{Type: session.EventCaptured, Time: start.Add(time.Second), CaptureID: "capture-001", Device: "iPhone 15"})
	s.Apply(session.Event{Type: session.EventAnalyzed, Time: start.Add(1500 * time.Millisecond), CaptureID: "capture-001",
		Screen: "login", Counts: rules.Counts{High: 1, Medium: 3}, Recommendations: 2})
	s.Apply(session.Event{Type: session.EventPatched, CaptureID: "capture-001", Screen: "login", Edits: 2, Message: "abc1234"})
	s.Apply(session.Event{Type: session.EventError, CaptureID: "capture-002", Message: "screenshot failed"})
	assert.Nil(t, s.Apply(session.Event{Type: session.EventIssueFound}))
	stopped := start.Add(2 * time.Minute)
	s.Apply(session.Event{Type: session.EventStopped, Time: stopped, Message: "failed"})

	d := s.Snapshot()
	assert.Equal(t, 4, d.TotalIssues)
	assert.Equal(t, 2, d.FixedIssues)
	assert.Equal(t, 2, d.CurrentIssues)
	assert.Equal(t, 2, d.TotalRecommendations)
	assert.Equal(t, ScreenStats{Captures: 1, Issues: 4, Fixes: 2, Recommendations: 2}, d.Screens["login"])
	assert.Equal(t, "s1", d.Session.SessionID)
	assert.Equal(t, 1, d.Session.Screenshots)
	assert.Equal(t, 1, d.Session.Analyses)
	assert.Equal(t, 1, d.Session.Errors)
	assert.Equal(t, "failed", d.Session.Status)

	assert.Equal(t, 120.0, d.Performance.RuntimeSeconds)
	assert.Equal(t, 2.0, d.Performance.IssuesPerMinute)
	assert.Equal(t, 50.0, d.Performance.FixSuccessRate)
	assert.Equal(t, 500.0, d.Performance.AvgCaptureMs)

	require.Len(t, d.Activities, 6)
	assert.Equal(t, "Session failed", d.Activities[0].Message, "newest first")
	assert.Equal(t, ActivityError, d.Activities[1].Type)
	assert.Equal(t, "capture-001: applied 2 fixes (commit abc1234)", d.Activities[2].Message)
	assert.Equal(t, ActivityWarning, d.Activities[3].Type, "high issues color the analysis")
}

func TestState_ActivityCap(t *testing.T) {
	s := NewState(0)
	for i := 0; i < 60; i++ {
		s.AddActivity(fmt.Sprintf("activity %d", i), ActivityInfo)
	}
	d := s.Snapshot()
	require.Len(t, d.Activities, DefaultActivityLimit)
	assert.Equal(t, "activity 59", d.Activities[0].Message)
	assert.Equal(t, "activity 10", d.Activities[49].Message)

	small := NewState(3)
	for i := 0; i < 5; i++ {
		small.AddActivity("x", ActivityInfo)
	}
	assert.Len(t, small.Snapshot().Activities, 3)
}

func TestState_NoIssues(t *testing.T) {
	d := NewState(0).Snapshot()
	assert.Zero(t, d.Performance.FixSuccessRate)
	assert.Zero(t, d.CurrentIssues)
	assert.NotNil(t, d.Screens)
	assert.NotNil(t, d.Activities)
}

// ============================================
// Supervisor
// ============================================

func TestSupervisor(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreStatsWorker)

	exited := make(chan error, 1)
	sup := NewSupervisor(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, func(err error) { exited <- err })

	assert.ErrorIs(t, sup.Stop(), ErrNotRunning)
	require.NoError(t, sup.Start(context.Background()))
	assert.True(t, sup.Running())
	assert.ErrorIs(t, sup.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, sup.Stop())
	assert.False(t, sup.Running())
	assert.ErrorIs(t, <-exited, context.Canceled)

	require.NoError(t, sup.Start(context.Background()), "restart after stop")
	require.NoError(t, sup.Stop())
}

func TestSupervisor_LoopEndsOnItsOwn(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreStatsWorker)

	boom := errors.New("device gone")
	exited := make(chan error, 1)
	sup := NewSupervisor(func(context.Context) error { return boom }, func(err error) { exited <- err })
	require.NoError(t, sup.Start(context.Background()))
	assert.ErrorIs(t, <-exited, boom)
	assert.Eventually(t, func() bool { return !sup.Running() }, time.Second, 5*time.Millisecond)
}

// ============================================
// Server
// ============================================

type testServer struct {
	*Server
	base   string
	bus    *session.Bus
	client *http.Client
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, dir string) *testServer {
	t.Helper()
	bus := session.NewBus()
	watch := func(ctx context.Context) error {
		bus.Publish(session.Event{Type: session.EventStarted, Device: "Synthetic"})
		<-ctx.Done()
		bus.Publish(session.Event{Type: session.EventStopped, Message: "stopped"})
		return ctx.Err()
	}
	srv := New(config.DashboardConfig{ScreenshotDir: dir}, bus, watch)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		Server: srv,
		base:   "http://" + ln.Addr().String(),
		bus:    bus,
		client: &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second},
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { ts.done <- srv.Serve(ctx, ln) }()
	return ts
}

func (ts *testServer) stop(t *testing.T) {
	t.Helper()
	ts.cancel()
	select {
	case err := <-ts.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dashboard did not shut down")
	}
}

func (ts *testServer) do(t *testing.T, method, path string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, ts.base+path, nil)
	require.NoError(t, err)
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreStatsWorker)
	ts := startServer(t, t.TempDir())
	defer ts.stop(t)

	var resp Response
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/stop", &resp))
	assert.Equal(t, "error", resp.Status)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/start", &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/start", &resp))

	var data Data
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/data", &data))
	assert.True(t, data.Running)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/stop", &resp))
	assert.Eventually(t, func() bool {
		d := ts.State().Snapshot()
		return !d.Running && d.Session.Status == "stopped"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, http.MethodGet, "/api/start", nil))
}

func TestServer_Screenshots(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreStatsWorker)
	dir := t.TempDir()
	png := []byte("\x89PNG\r\n\x1a\nfake")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.png"), png, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.png"), png, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.png"), past, past))

	ts := startServer(t, dir)
	defer ts.stop(t)

	var shots []Screenshot
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/screenshots", &shots))
	require.Len(t, shots, 2)
	assert.Equal(t, "new.png", shots[0].Name, "newest first")
	assert.Equal(t, "/api/screenshots/old.png", shots[1].URL)

	resp, err := ts.client.Get(ts.base + "/api/screenshots/new.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/screenshots/notes.txt", nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodDelete, "/api/screenshots/.hidden.png", nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/screenshots/missing.png", nil))

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/screenshots/old.png", nil))
	assert.NoFileExists(t, filepath.Join(dir, "old.png"))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/screenshots/old.png", nil))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestServer_MissingScreenshotDir(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreStatsWorker)
	ts := startServer(t, filepath.Join(t.TempDir(), "none"))
	defer ts.stop(t)

	var shots []Screenshot
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/screenshots", &shots))
	assert.Empty(t, shots)
}

func TestServer_Index(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreStatsWorker)
	ts := startServer(t, t.TempDir())
	defer ts.stop(t)

	resp, err := ts.client.Get(ts.base + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/nothing-here", nil))
}

func TestServer_WebSocket(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreStatsWorker)
	ts := startServer(t, t.TempDir())
	defer ts.stop(t)

	url := "ws" + ts.base[len("http"):] + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	read := func() Message {
		var m Message
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &m))
		return m
	}

	assert.Equal(t, MessageDashboardData, read().Type, "snapshot on connect")
	assert.Eventually(t, func() bool { return ts.hub.count() == 1 }, time.Second, 5*time.Millisecond)

	ts.bus.Publish(session.Event{Type: session.EventAnalyzed, CaptureID: "capture-001", Screen: "home",
		Counts: rules.Counts{Low: 2}})
	activity := read()
	assert.Equal(t, MessageActivityUpdate, activity.Type)
	assert.Contains(t, activity.Data.(map[string]interface{})["message"], "home screen, 2 issues")

	data := read()
	assert.Equal(t, MessageDashboardData, data.Type)
	assert.EqualValues(t, 2, data.Data.(map[string]interface{})["totalIssues"])
}

func TestServer_ShutdownDisconnectsClients(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreStatsWorker)
	ts := startServer(t, t.TempDir())

	url := "ws" + ts.base[len("http"):] + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	ts.stop(t)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
