package core

import (
	"encoding/json"
	"testing"
)

func TestSessionStatus_String(t *testing.T) {
	tests := []struct {
		status   SessionStatus
		expected string
	}{
		{StatusPending, "pending"},
		{StatusRunning, "running"},
		{StatusPassed, "passed"},
		{StatusFailed, "failed"},
		{StatusErrored, "errored"},
		{StatusStopped, "stopped"},
		{SessionStatus(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("SessionStatus(%d).String() = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestSessionStatus_IsTerminal(t *testing.T) {
	for _, s := range []SessionStatus{StatusPassed, StatusFailed, StatusErrored, StatusStopped} {
		if !s.IsTerminal() {
			t.Errorf("SessionStatus(%s).IsTerminal() = false, want true", s)
		}
	}
	for _, s := range []SessionStatus{StatusPending, StatusRunning} {
		if s.IsTerminal() {
			t.Errorf("SessionStatus(%s).IsTerminal() = true, want false", s)
		}
	}
}

func TestErrorCategory_String(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected string
	}{
		{ErrCategoryNone, "none"},
		{ErrCategoryCapture, "capture"},
		{ErrCategoryDevice, "device"},
		{ErrCategoryDetection, "detection"},
		{ErrCategoryRule, "rule"},
		{ErrCategoryPatch, "patch"},
		{ErrCategoryConfig, "config"},
		{ErrCategoryStorage, "storage"},
		{ErrCategoryNotify, "notify"},
		{ErrorCategory(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.expected {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", tt.category, got, tt.expected)
		}
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
		ok   bool
	}{
		{"low", SeverityLow, true},
		{"Medium", SeverityMedium, true},
		{" HIGH ", SeverityHigh, true},
		{"critical", SeverityLow, false},
	}
	for _, tt := range tests {
		got, ok := ParseSeverity(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseSeverity(%q) = (%s, %v), want (%s, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSeverity_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		S Severity `json:"s"`
	}{SeverityHigh})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"s":"high"}` {
		t.Errorf("json = %s, want {\"s\":\"high\"}", data)
	}

	var out struct {
		S Severity `json:"s"`
	}
	if err := json.Unmarshal([]byte(`{"s":"medium"}`), &out); err != nil {
		t.Fatal(err)
	}
	if out.S != SeverityMedium {
		t.Errorf("S = %s, want medium", out.S)
	}
	if err := json.Unmarshal([]byte(`{"s":"severe"}`), &out); err == nil {
		t.Error("expected error for unknown severity")
	}
}
