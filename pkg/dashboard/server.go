// Package dashboard serves the HTTP and WebSocket control surface: live
// counters folded from session events, start and stop of an in-process
// watch loop, and the screenshot directory.
package dashboard

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/session"
)

//go:embed static/index.html
var indexHTML []byte

var screenshotName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*\.png$`)

const eventBuffer = 256

// Screenshot is one file in the screenshot directory.
type Screenshot struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	URL     string    `json:"url"`
}

// Response is the body of control endpoints.
type Response struct {
	Status  string `json:"status"` // success or error
	Message string `json:"message"`
}

// Server is the dashboard.
type Server struct {
	cfg      config.DashboardConfig
	bus      *session.Bus
	state    *State
	hub      *hub
	sup      *Supervisor
	upgrader websocket.Upgrader

	mu  sync.Mutex
	ctx context.Context
}

// New returns a dashboard fed by bus. watch, when non-nil, is the loop
// POST /api/start runs; it should publish to bus.
func New(cfg config.DashboardConfig, bus *session.Bus, watch WatchFunc) *Server {
	if bus == nil {
		bus = session.NewBus()
	}
	s := &Server{
		cfg:   cfg,
		bus:   bus,
		state: NewState(cfg.ActivityLimit),
		hub:   newHub(),
	}
	if watch != nil {
		s.sup = NewSupervisor(watch, s.watchExited)
	}
	return s
}

// State returns the live counters.
func (s *Server) State() *State {
	return s.state
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/data", s.handleData)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("GET /api/screenshots", s.handleListScreenshots)
	mux.HandleFunc("GET /api/screenshots/{name}", s.handleGetScreenshot)
	mux.HandleFunc("DELETE /api/screenshots/{name}", s.handleDeleteScreenshot)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dashboard: listen %s: %w", s.cfg.Addr, err)
	}
	logger.Info("dashboard listening on http://%s", ln.Addr())
	return s.Serve(ctx, ln)
}

// Serve handles connections on ln until ctx is cancelled. On return the
// watch loop is stopped and every WebSocket client is disconnected.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	events, unsubscribe := s.bus.Subscribe(eventBuffer)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		s.pump(events)
	}()

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-served:
	}

	if s.sup != nil {
		_ = s.sup.Stop()
	}
	s.hub.close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("dashboard: shutdown: %v", serr)
	}
	if err == nil {
		err = <-served
	}
	unsubscribe()
	<-pumped

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) pump(events <-chan session.Event) {
	for e := range events {
		if a := s.state.Apply(e); a != nil {
			s.hub.broadcast(MessageActivityUpdate, a)
		}
		s.hub.broadcast(MessageDashboardData, s.state.Snapshot())
	}
}

func (s *Server) activity(message, typ string) {
	a := s.state.AddActivity(message, typ)
	s.hub.broadcast(MessageActivityUpdate, a)
	s.hub.broadcast(MessageDashboardData, s.state.Snapshot())
}

func (s *Server) watchExited(err error) {
	s.state.SetRunning(false)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.activity(fmt.Sprintf("Watch ended: %v", err), ActivityError)
	}
}

func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// ============================================
// Handlers
// ============================================

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleData(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	if s.sup == nil {
		writeJSON(w, http.StatusNotImplemented, Response{Status: "error", Message: "no watch loop configured"})
		return
	}
	s.state.SetRunning(true)
	if err := s.sup.Start(s.baseContext()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrAlreadyRunning) {
			status = http.StatusConflict
		}
		writeJSON(w, status, Response{Status: "error", Message: err.Error()})
		return
	}
	s.activity("Watch started", ActivitySuccess)
	writeJSON(w, http.StatusOK, Response{Status: "success", Message: "watch started"})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if s.sup == nil {
		writeJSON(w, http.StatusNotImplemented, Response{Status: "error", Message: "no watch loop configured"})
		return
	}
	if err := s.sup.Stop(); err != nil {
		writeJSON(w, http.StatusConflict, Response{Status: "error", Message: err.Error()})
		return
	}
	s.activity("Watch stopped", ActivityWarning)
	writeJSON(w, http.StatusOK, Response{Status: "success", Message: "watch stopped"})
}

func (s *Server) handleListScreenshots(w http.ResponseWriter, _ *http.Request) {
	shots, err := s.screenshots()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, shots)
}

func (s *Server) handleGetScreenshot(w http.ResponseWriter, r *http.Request) {
	path, ok := s.screenshotPath(w, r)
	if !ok {
		return
	}
	f, err := os.Open(path) //#nosec G304 -- name validated against screenshotName
	if err != nil {
		writeFileError(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeFileError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleDeleteScreenshot(w http.ResponseWriter, r *http.Request) {
	path, ok := s.screenshotPath(w, r)
	if !ok {
		return
	}
	if err := os.Remove(path); err != nil {
		writeFileError(w, err)
		return
	}
	name := filepath.Base(path)
	s.activity("Deleted "+name, ActivityInfo)
	writeJSON(w, http.StatusOK, Response{Status: "success", Message: "deleted " + name})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("dashboard: websocket upgrade: %v", err)
		return
	}
	first, err := json.Marshal(Message{Type: MessageDashboardData, Data: s.state.Snapshot()})
	if err != nil {
		conn.Close()
		return
	}
	s.hub.add(conn, first)
}

// screenshotPath resolves the {name} path value, writing 400 when it could
// name anything outside the screenshot directory.
func (s *Server) screenshotPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.PathValue("name")
	if !screenshotName.MatchString(name) {
		writeJSON(w, http.StatusBadRequest, Response{Status: "error", Message: fmt.Sprintf("invalid screenshot name %q", name)})
		return "", false
	}
	return filepath.Join(s.cfg.ScreenshotDir, name), true
}

func (s *Server) screenshots() ([]Screenshot, error) {
	entries, err := os.ReadDir(s.cfg.ScreenshotDir)
	if errors.Is(err, os.ErrNotExist) {
		return []Screenshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	shots := []Screenshot{}
	for _, e := range entries {
		if e.IsDir() || !screenshotName.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		shots = append(shots, Screenshot{
			Name:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			URL:     "/api/screenshots/" + e.Name(),
		})
	}
	sort.Slice(shots, func(i, j int) bool {
		if !shots[i].ModTime.Equal(shots[j].ModTime) {
			return shots[i].ModTime.After(shots[j].ModTime)
		}
		return shots[i].Name < shots[j].Name
	})
	return shots, nil
}

func writeFileError(w http.ResponseWriter, err error) {
	if errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, Response{Status: "error", Message: "screenshot not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, Response{Status: "error", Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("dashboard: write response: %v", err)
	}
}
