package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWriterLevels(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer Close()

	SetVerbose(false)
	Debug("hidden %d", 1)
	Info("captured %s", "login")
	Warn("retrying")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %q", out)
	}
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "captured login") {
		t.Errorf("missing info line: %q", out)
	}
	if !strings.Contains(out, "WARN") {
		t.Errorf("missing warn line: %q", out)
	}

	buf.Reset()
	SetVerbose(true)
	defer SetVerbose(false)
	Debug("visible %d", 2)
	if !strings.Contains(buf.String(), "visible 2") {
		t.Errorf("debug line missing in verbose mode: %q", buf.String())
	}
}

func TestUninitializedIsSilent(t *testing.T) {
	Close()
	Info("nothing")
	Error("nothing")
	if GetWriter() == nil {
		t.Error("GetWriter() = nil")
	}
}

func TestInitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simlens.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	Error("boom %s", "here")
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "boom here") {
		t.Errorf("log file = %q, want it to contain %q", data, "boom here")
	}
}
