// Package store keeps the history of analysis sessions in SQLite: one row
// per session, per capture and per issue.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/rules"
)

// Memory opens a private in-memory database.
const Memory = ":memory:"

// Store is the session history database.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, core.ErrStorage.Messagef("create %s", filepath.Dir(path)).WithCause(err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, core.ErrStorage.Messagef("open %s", path).WithCause(err)
	}
	// One connection: every in-memory connection is its own database, and
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	sessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		device_name TEXT NOT NULL,
		platform TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	`

	capturesTable := `
	CREATE TABLE IF NOT EXISTS captures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		capture_id TEXT NOT NULL,
		screen TEXT,
		status TEXT NOT NULL,
		brightness REAL,
		confidence REAL,
		fixes INTEGER DEFAULT 0,
		captured_at INTEGER NOT NULL,
		UNIQUE(session_id, capture_id)
	);
	CREATE INDEX IF NOT EXISTS idx_captures_session ON captures(session_id);
	`

	issuesTable := `
	CREATE TABLE IF NOT EXISTS issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		capture_row INTEGER NOT NULL REFERENCES captures(id),
		rule_id TEXT NOT NULL,
		issue_type TEXT NOT NULL,
		severity INTEGER NOT NULL,
		description TEXT,
		evidence TEXT,
		found_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_issues_rule ON issues(rule_id);
	CREATE INDEX IF NOT EXISTS idx_issues_found ON issues(found_at);
	`

	for _, table := range []string{sessionsTable, capturesTable, issuesTable} {
		if _, err := s.db.Exec(table); err != nil {
			return core.ErrStorage.WithMessage("create table").WithCause(err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Session is one row of the sessions table with its totals.
type Session struct {
	ID        string     `json:"id"`
	DeviceID  string     `json:"deviceId"`
	Device    string     `json:"device"`
	Platform  string     `json:"platform"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Captures  int        `json:"captures"`
	Issues    int        `json:"issues"`
}

// Capture is what gets recorded for one analyzed screenshot.
type Capture struct {
	ID         string
	Screen     string
	Status     string
	Brightness float64
	Confidence float64
	Fixes      int
	CapturedAt time.Time
	Issues     []rules.Issue
}

// RuleCount is a rule and how often it fired.
type RuleCount struct {
	RuleID string `json:"ruleId"`
	Count  int    `json:"count"`
}

// BeginSession records a new session as running.
func (s *Store) BeginSession(ctx context.Context, id string, device core.DeviceInfo, started time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, device_id, device_name, platform, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		id, device.DeviceID, device.DeviceName, device.Platform, core.StatusRunning.String(), started.UnixMilli())
	if err != nil {
		return core.ErrStorage.Messagef("begin session %s", id).WithCause(err)
	}
	return nil
}

// EndSession stores the final status of a session.
func (s *Store) EndSession(ctx context.Context, id, status string, ended time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		status, ended.UnixMilli(), id)
	if err != nil {
		return core.ErrStorage.Messagef("end session %s", id).WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrStorage.Messagef("unknown session %s", id)
	}
	return nil
}

// RecordCapture stores a capture and its issues in one transaction.
func (s *Store) RecordCapture(ctx context.Context, sessionID string, c Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.ErrStorage.WithMessage("begin transaction").WithCause(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO captures (session_id, capture_id, screen, status, brightness, confidence, fixes, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, c.ID, c.Screen, c.Status, c.Brightness, c.Confidence, c.Fixes, c.CapturedAt.UnixMilli())
	if err != nil {
		return core.ErrStorage.Messagef("record capture %s", c.ID).WithCause(err)
	}
	row, err := res.LastInsertId()
	if err != nil {
		return core.ErrStorage.Messagef("record capture %s", c.ID).WithCause(err)
	}

	for _, is := range c.Issues {
		evidence, _ := json.Marshal(is.Evidence)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issues (capture_row, rule_id, issue_type, severity, description, evidence, found_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			row, is.RuleID, is.Type, int(is.Severity), is.Description, string(evidence), c.CapturedAt.UnixMilli()); err != nil {
			return core.ErrStorage.Messagef("record issue %s", is.RuleID).WithCause(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.ErrStorage.WithMessage("commit capture").WithCause(err)
	}
	return nil
}

// RecentSessions returns the n most recently started sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, n int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.device_id, s.device_name, s.platform, s.status, s.started_at, s.ended_at,
			(SELECT COUNT(*) FROM captures c WHERE c.session_id = s.id),
			(SELECT COUNT(*) FROM issues i JOIN captures c ON i.capture_row = c.id WHERE c.session_id = s.id)
		FROM sessions s
		ORDER BY s.started_at DESC, s.id
		LIMIT ?`, n)
	if err != nil {
		return nil, core.ErrStorage.WithMessage("query sessions").WithCause(err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess    Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &sess.DeviceID, &sess.Device, &sess.Platform, &sess.Status,
			&started, &ended, &sess.Captures, &sess.Issues); err != nil {
			return nil, core.ErrStorage.WithMessage("scan session").WithCause(err)
		}
		sess.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			sess.EndedAt = &t
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrStorage.WithMessage("query sessions").WithCause(err)
	}
	return out, nil
}

// IssueCounts tallies issues found since the given time, per issue type.
func (s *Store) IssueCounts(ctx context.Context, since time.Time) (map[string]rules.Counts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_type, severity, COUNT(*)
		FROM issues
		WHERE found_at >= ?
		GROUP BY issue_type, severity`, since.UnixMilli())
	if err != nil {
		return nil, core.ErrStorage.WithMessage("query issue counts").WithCause(err)
	}
	defer rows.Close()

	out := make(map[string]rules.Counts)
	for rows.Next() {
		var (
			typ   string
			sev   int
			count int
		)
		if err := rows.Scan(&typ, &sev, &count); err != nil {
			return nil, core.ErrStorage.WithMessage("scan issue counts").WithCause(err)
		}
		c := out[typ]
		switch core.Severity(sev) {
		case core.SeverityHigh:
			c.High += count
		case core.SeverityMedium:
			c.Medium += count
		default:
			c.Low += count
		}
		out[typ] = c
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrStorage.WithMessage("query issue counts").WithCause(err)
	}
	return out, nil
}

// TopRules returns the n rules that fired most often, most frequent first.
func (s *Store) TopRules(ctx context.Context, n int) ([]RuleCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, COUNT(*) AS n
		FROM issues
		GROUP BY rule_id
		ORDER BY n DESC, rule_id
		LIMIT ?`, n)
	if err != nil {
		return nil, core.ErrStorage.WithMessage("query top rules").WithCause(err)
	}
	defer rows.Close()

	var out []RuleCount
	for rows.Next() {
		var rc RuleCount
		if err := rows.Scan(&rc.RuleID, &rc.Count); err != nil {
			return nil, core.ErrStorage.WithMessage("scan top rules").WithCause(err)
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrStorage.WithMessage("query top rules").WithCause(err)
	}
	return out, nil
}
