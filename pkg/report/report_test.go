package report

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/patch"
	"github.com/devicelab-dev/simlens/pkg/rules"
	"github.com/devicelab-dev/simlens/pkg/vision"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testDevice() core.DeviceInfo {
	return core.DeviceInfo{
		Platform:    "ios",
		OSVersion:   "17.5",
		DeviceName:  "iPhone 15",
		DeviceID:    "A1B2",
		IsSimulator: true,
	}
}

func testIssues() []rules.Issue {
	return []rules.Issue{
		{RuleID: "text_overflow", Type: rules.TypeTextOverflow, Severity: core.SeverityHigh,
			Description: "text extends past the right edge", Suggestion: "wrap or ellipsize the label",
			Region: &core.Bounds{X: 300, Y: 100, Width: 120, Height: 20}},
		{RuleID: "layout_spacing", Type: rules.TypeLayoutSpacing, Severity: core.SeverityMedium,
			Description: "buttons 4px apart"},
	}
}

// runCapture drives one capture through the writer the way a session does.
func runCapture(t *testing.T, w *IndexWriter, issues []rules.Issue, status Status) *CaptureWriter {
	t.Helper()
	dev := w.GetIndex().Device
	cw, err := NewCaptureWriter(w, "iPhone 15", &dev)
	if err != nil {
		t.Fatalf("NewCaptureWriter: %v", err)
	}
	if err := cw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := cw.SaveScreenshot(core.AttachmentScreenshot, pngBytes(t, 390, 844)); err != nil {
		t.Fatalf("SaveScreenshot: %v", err)
	}
	a := &vision.Analysis{Width: 390, Height: 844, Screen: vision.ScreenLogin, Profile: "default"}
	if err := cw.SetAnalysis(a, issues, rules.Recommend(issues)); err != nil {
		t.Fatalf("SetAnalysis: %v", err)
	}
	if err := cw.End(status, nil); err != nil {
		t.Fatalf("End: %v", err)
	}
	return cw
}

func newWriter(t *testing.T, html bool) (*IndexWriter, string) {
	t.Helper()
	dir := t.TempDir()
	w := NewIndexWriter(dir, NewIndex(testDevice(), RunnerInfo{Version: "dev", Profile: "default", FailOn: core.SeverityMedium}), html)
	t.Cleanup(w.Close)
	w.Start()
	return w, dir
}

func TestNewIndex(t *testing.T) {
	idx := NewIndex(testDevice(), RunnerInfo{Version: "dev"})
	if idx.Version != Version {
		t.Errorf("Version = %q, want %q", idx.Version, Version)
	}
	if len(idx.SessionID) != 36 {
		t.Errorf("SessionID = %q, want a uuid", idx.SessionID)
	}
	if idx.Device.Name != "iPhone 15" || idx.Device.Platform != "ios" {
		t.Errorf("Device = %+v", idx.Device)
	}
	if idx.Status != StatusPending {
		t.Errorf("Status = %q, want pending", idx.Status)
	}
	if other := NewIndex(testDevice(), RunnerInfo{}); other.SessionID == idx.SessionID {
		t.Error("session IDs should differ")
	}
}

func TestIndexWriter_Lifecycle(t *testing.T) {
	w, dir := newWriter(t, false)

	cw := runCapture(t, w, testIssues(), StatusFailed)
	runCapture(t, w, nil, StatusPassed)
	w.End(SessionStatus(w.GetIndex().Captures))

	idx, err := ReadIndex(dir)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if idx.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", idx.Status)
	}
	if idx.EndTime == nil {
		t.Error("EndTime not set")
	}
	want := Summary{Captures: 2, Passed: 1, Failed: 1, Issues: 2, Counts: rules.Counts{High: 1, Medium: 1}}
	if idx.Summary != want {
		t.Errorf("Summary = %+v, want %+v", idx.Summary, want)
	}

	first := idx.Captures[0]
	if first.ID != "capture-001" || first.DataFile != filepath.Join("captures", "capture-001.json") {
		t.Errorf("entry = %+v", first)
	}
	if first.Screen != "login" {
		t.Errorf("Screen = %q, want login", first.Screen)
	}
	if first.Duration == nil {
		t.Error("Duration not set")
	}

	d, err := ReadCapture(dir, first)
	if err != nil {
		t.Fatalf("ReadCapture: %v", err)
	}
	if len(d.Issues) != 2 || d.Issues[0].Severity != core.SeverityHigh {
		t.Errorf("Issues = %+v", d.Issues)
	}
	if d.Summary == nil || d.Summary.High != 1 {
		t.Errorf("Summary = %+v", d.Summary)
	}
	if len(d.Recommendations) != 2 {
		t.Errorf("len(Recommendations) = %d, want 2", len(d.Recommendations))
	}
	if d.Artifacts.Screenshot != filepath.Join("assets", cw.ID(), "screenshot.png") {
		t.Errorf("Screenshot = %q", d.Artifacts.Screenshot)
	}
	if _, err := os.Stat(filepath.Join(dir, d.Artifacts.Screenshot)); err != nil {
		t.Errorf("screenshot not written: %v", err)
	}
}

func TestIndexWriter_DebouncesProgress(t *testing.T) {
	w, dir := newWriter(t, false)

	entry := w.AddCapture("device")
	w.UpdateCapture(entry.ID, &CaptureUpdate{Status: StatusRunning})

	idx, err := ReadIndex(dir)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if len(idx.Captures) != 0 {
		t.Fatalf("progress update written immediately: %+v", idx.Captures)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		idx, err = ReadIndex(dir)
		if err == nil && len(idx.Captures) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(idx.Captures) != 1 || idx.Captures[0].Status != StatusRunning {
		t.Fatalf("debounced update not flushed: %+v", idx.Captures)
	}
	if idx.Summary.Running != 1 {
		t.Errorf("Summary.Running = %d, want 1", idx.Summary.Running)
	}
}

func TestIndexWriter_TerminalFlushesImmediately(t *testing.T) {
	w, dir := newWriter(t, false)

	entry := w.AddCapture("device")
	msg := "no booted simulator"
	w.UpdateCapture(entry.ID, &CaptureUpdate{Status: StatusErrored, Error: &msg})

	idx, err := ReadIndex(dir)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if len(idx.Captures) != 1 || idx.Captures[0].Status != StatusErrored {
		t.Fatalf("Captures = %+v", idx.Captures)
	}
	if idx.Captures[0].Error == nil || *idx.Captures[0].Error != msg {
		t.Errorf("Error = %v, want %q", idx.Captures[0].Error, msg)
	}
	if idx.Summary.Errored != 1 {
		t.Errorf("Summary.Errored = %d, want 1", idx.Summary.Errored)
	}
}

func TestIndexWriter_HTML(t *testing.T) {
	w, dir := newWriter(t, true)
	runCapture(t, w, testIssues(), StatusFailed)

	if _, err := os.Stat(filepath.Join(dir, "report.html")); err != nil {
		t.Errorf("report.html not written: %v", err)
	}
}

func TestCaptureWriter_SetPatches(t *testing.T) {
	w, dir := newWriter(t, false)

	cw, err := NewCaptureWriter(w, "device", nil)
	if err != nil {
		t.Fatalf("NewCaptureWriter: %v", err)
	}
	if err := cw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res := &patch.Result{Files: []patch.FileResult{{
		Path:    "/app/lib/screens/login.dart",
		Rel:     "lib/screens/login.dart",
		Edits:   []patch.Edit{{RuleID: "flutter.text_overflow"}, {RuleID: "flutter.text_overflow"}},
		Diff:    "--- a/lib/screens/login.dart\n+++ b/lib/screens/login.dart\n",
		Written: true,
	}}}
	if err := cw.SetPatches(res, "abc123"); err != nil {
		t.Fatalf("SetPatches: %v", err)
	}
	if err := cw.End(StatusFailed, nil); err != nil {
		t.Fatalf("End: %v", err)
	}

	d := cw.Detail()
	if d.Artifacts.Patch == "" {
		t.Fatal("patch artifact not recorded")
	}
	data, err := os.ReadFile(filepath.Join(dir, d.Artifacts.Patch))
	if err != nil {
		t.Fatalf("read patch: %v", err)
	}
	if !strings.Contains(string(data), "login.dart") {
		t.Errorf("patch = %q", data)
	}

	idx := w.GetIndex()
	if idx.Captures[0].Fixes != 2 || idx.Summary.Fixes != 2 {
		t.Errorf("Fixes = %d / %d, want 2", idx.Captures[0].Fixes, idx.Summary.Fixes)
	}
}

func TestCaptureWriter_EndWithError(t *testing.T) {
	w, dir := newWriter(t, false)

	cw, err := NewCaptureWriter(w, "device", nil)
	if err != nil {
		t.Fatalf("NewCaptureWriter: %v", err)
	}
	if err := cw.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := cw.End(StatusErrored, core.ErrCaptureFailed.WithMessage("simctl io failed")); err != nil {
		t.Fatalf("End: %v", err)
	}

	d, err := ReadCapture(dir, w.GetIndex().Captures[0])
	if err != nil {
		t.Fatalf("ReadCapture: %v", err)
	}
	if d.Error == nil || d.Error.Category != "capture" {
		t.Errorf("Error = %+v, want capture category", d.Error)
	}
}

func TestSessionStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		expected Status
	}{
		{"no captures", nil, StatusPassed},
		{"all passed", []Status{StatusPassed, StatusPassed}, StatusPassed},
		{"one failed", []Status{StatusPassed, StatusFailed}, StatusFailed},
		{"some errored", []Status{StatusPassed, StatusErrored}, StatusPassed},
		{"all errored", []Status{StatusErrored, StatusErrored}, StatusErrored},
		{"failed wins over errored", []Status{StatusErrored, StatusFailed}, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entries []CaptureEntry
			for _, s := range tt.statuses {
				entries = append(entries, CaptureEntry{Status: s})
			}
			if got := SessionStatus(entries); got != tt.expected {
				t.Errorf("SessionStatus() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	if got := StatusOf(core.StatusErrored); got != StatusErrored {
		t.Errorf("StatusOf(errored) = %q", got)
	}
	if !StatusStopped.IsTerminal() || StatusRunning.IsTerminal() {
		t.Error("IsTerminal mismatch")
	}
}

func TestConsumer_Poll(t *testing.T) {
	w, dir := newWriter(t, false)
	runCapture(t, w, nil, StatusPassed)

	c := NewConsumer(dir)
	changed, idx, err := c.Poll()
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if idx == nil || len(changed) != 1 || changed[0] != "capture-001" {
		t.Fatalf("first Poll() = %v", changed)
	}

	changed, _, err = c.Poll()
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(changed) != 0 {
		t.Errorf("second Poll() = %v, want no changes", changed)
	}

	runCapture(t, w, testIssues(), StatusFailed)
	changed, _, err = c.Poll()
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(changed) != 1 || changed[0] != "capture-002" {
		t.Errorf("third Poll() = %v, want [capture-002]", changed)
	}

	d, err := c.ReadCapture("capture-002")
	if err != nil {
		t.Fatalf("ReadCapture: %v", err)
	}
	if len(d.Issues) != 2 {
		t.Errorf("len(Issues) = %d, want 2", len(d.Issues))
	}

	c.Reset()
	changed, _, _ = c.Poll()
	if len(changed) != 2 {
		t.Errorf("Poll() after Reset = %v, want both captures", changed)
	}
}

func TestReadReport_MissingDetail(t *testing.T) {
	w, dir := newWriter(t, false)
	entry := w.AddCapture("device")
	w.Close()

	_, details, err := ReadReport(dir)
	if err != nil {
		t.Fatalf("ReadReport() error = %v", err)
	}
	if len(details) != 1 || details[0].ID != entry.ID {
		t.Errorf("details = %+v", details)
	}
}

func writeIndex(t *testing.T, dir string, idx *Index) {
	t.Helper()
	if err := core.WriteJSONAtomic(filepath.Join(dir, "report.json"), idx); err != nil {
		t.Fatalf("setup: %v", err)
	}
}

func TestRecover(t *testing.T) {
	dir := t.TempDir()
	end := time.Now()
	writeIndex(t, dir, &Index{
		Version:   Version,
		Status:    StatusRunning,
		UpdateSeq: 1,
		Simlens:   RunnerInfo{FailOn: core.SeverityMedium},
		Captures: []CaptureEntry{
			{ID: "capture-001", Status: StatusRunning, DataFile: "captures/capture-001.json"},
			{ID: "capture-002", Status: StatusRunning, DataFile: "captures/capture-002.json"},
			{ID: "capture-003", Status: StatusPending, DataFile: "captures/capture-003.json"},
		},
	})
	details := []CaptureDetail{
		{ID: "capture-001", Analysis: &vision.Analysis{Screen: vision.ScreenHome}, EndTime: &end,
			Issues: []rules.Issue{{RuleID: "dark_screen", Severity: core.SeverityMedium}}},
		{ID: "capture-002", StartTime: end},
	}
	for _, d := range details {
		if err := core.WriteJSONAtomic(filepath.Join(dir, "captures", d.ID+".json"), d); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	if err := Recover(dir); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	idx, err := ReadIndex(dir)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	wantStatus := []Status{StatusFailed, StatusErrored, StatusErrored}
	for i, want := range wantStatus {
		if got := idx.Captures[i].Status; got != want {
			t.Errorf("Captures[%d].Status = %q, want %q", i, got, want)
		}
	}
	if idx.Captures[0].Screen != "home" || idx.Captures[0].Issues.Medium != 1 {
		t.Errorf("Captures[0] = %+v", idx.Captures[0])
	}
	if e := idx.Captures[1].Error; e == nil || *e != "capture interrupted" {
		t.Errorf("Captures[1].Error = %v", e)
	}
	if e := idx.Captures[2].Error; e == nil || *e != "capture detail missing" {
		t.Errorf("Captures[2].Error = %v", e)
	}
	if idx.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", idx.Status)
	}
	if idx.Summary.Failed != 1 || idx.Summary.Errored != 2 {
		t.Errorf("Summary = %+v", idx.Summary)
	}
}

func TestRecover_NoChangesNeeded(t *testing.T) {
	dir := t.TempDir()
	writeIndex(t, dir, &Index{
		Version:   Version,
		Status:    StatusPassed,
		UpdateSeq: 7,
		Captures:  []CaptureEntry{{ID: "capture-001", Status: StatusPassed}},
	})

	if err := Recover(dir); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	idx, _ := ReadIndex(dir)
	if idx.UpdateSeq != 7 {
		t.Errorf("UpdateSeq changed from 7 to %d", idx.UpdateSeq)
	}
}

func TestInferStatus(t *testing.T) {
	now := time.Now()
	analysis := &vision.Analysis{}
	tests := []struct {
		name     string
		detail   CaptureDetail
		expected Status
	}{
		{"no analysis", CaptureDetail{}, StatusErrored},
		{"error recorded", CaptureDetail{Analysis: analysis, Error: &Error{Message: "x"}}, StatusErrored},
		{"clean", CaptureDetail{Analysis: analysis, EndTime: &now}, StatusPassed},
		{"below fail severity", CaptureDetail{Analysis: analysis,
			Issues: []rules.Issue{{Severity: core.SeverityLow}}}, StatusPassed},
		{"at fail severity", CaptureDetail{Analysis: analysis,
			Issues: []rules.Issue{{Severity: core.SeverityMedium}}}, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inferStatus(&tt.detail, core.SeverityMedium); got != tt.expected {
				t.Errorf("inferStatus() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGenerateHTML(t *testing.T) {
	w, dir := newWriter(t, false)
	cw := runCapture(t, w, testIssues(), StatusFailed)
	if _, err := cw.SaveScreenshot(core.AttachmentHighlight, pngBytes(t, 390, 844)); err != nil {
		t.Fatalf("SaveScreenshot: %v", err)
	}
	if err := cw.SetDescription("A login form with two fields."); err != nil {
		t.Fatalf("SetDescription: %v", err)
	}
	w.End(StatusFailed)

	out := filepath.Join(dir, "out.html")
	if err := GenerateHTML(dir, HTMLConfig{OutputPath: out, Title: "Checkout run"}); err != nil {
		t.Fatalf("GenerateHTML: %v", err)
	}
	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	html := string(content)

	checks := []string{
		"<!DOCTYPE html>",
		"<title>Checkout run</title>",
		"iPhone 15",
		"capture-001",
		"text_overflow",
		"wrap or ellipsize the label",
		"A login form with two fields.",
		"data:image/png;base64,",
		"failed",
	}
	for _, check := range checks {
		if !strings.Contains(html, check) {
			t.Errorf("HTML missing expected content: %s", check)
		}
	}
}

func TestGenerateHTML_NoReport(t *testing.T) {
	if err := GenerateHTML(t.TempDir(), HTMLConfig{}); err == nil {
		t.Error("expected error for directory without report.json")
	}
}

func TestThumbnail(t *testing.T) {
	thumb, err := Thumbnail(pngBytes(t, 480, 960), 240)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 240 || b.Dy() != 480 {
		t.Errorf("thumbnail = %dx%d, want 240x480", b.Dx(), b.Dy())
	}

	small := pngBytes(t, 100, 100)
	same, err := Thumbnail(small, 240)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if !bytes.Equal(same, small) {
		t.Error("narrow image should be returned unchanged")
	}

	if _, err := Thumbnail([]byte("not a png"), 240); !errors.Is(err, core.ErrDecodeFailed) {
		t.Errorf("err = %v, want ErrDecodeFailed", err)
	}
}

func TestFormatDuration(t *testing.T) {
	ms := func(v int64) *int64 { return &v }
	tests := []struct {
		in   *int64
		want string
	}{
		{nil, "-"},
		{ms(450), "450ms"},
		{ms(2500), "2.5s"},
		{ms(125000), "2m 5s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMarkdown(t *testing.T) {
	w, dir := newWriter(t, false)
	runCapture(t, w, testIssues(), StatusFailed)
	w.End(StatusFailed)

	idx, captures, err := ReadReport(dir)
	if err != nil {
		t.Fatalf("ReadReport: %v", err)
	}
	md := Markdown(idx, captures)

	checks := []string{
		"# simlens session " + idx.SessionID[:8],
		"**Device:** iPhone 15 (ios 17.5)",
		"| 1 | 0 | 1 | 0 | 2 | 1 | 1 | 0 | 0 |",
		"| capture-001 | login | failed | 2 | 0 |",
		"### capture-001",
		"- **high** `text_overflow` text extends past the right edge _(wrap or ellipsize the label)_",
		"Next steps:",
	}
	for _, check := range checks {
		if !strings.Contains(md, check) {
			t.Errorf("markdown missing %q\n%s", check, md)
		}
	}
}

func TestMarkdown_Empty(t *testing.T) {
	md := Markdown(NewIndex(testDevice(), RunnerInfo{}), nil)
	if !strings.Contains(md, "_No captures yet._") {
		t.Errorf("markdown = %q", md)
	}
}

func TestRender(t *testing.T) {
	md := "# Title\n\nbody\n"
	plain, err := Render(md, 80, true)
	if err != nil || plain != md {
		t.Errorf("Render(plain) = %q, %v", plain, err)
	}
	styled, err := Render(md, 60, false)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(styled, "Title") {
		t.Errorf("Render() = %q", styled)
	}
}
