package report

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"

	"github.com/devicelab-dev/simlens/pkg/core"
)

// DefaultThumbWidth is the width screenshots are scaled to in report.html.
const DefaultThumbWidth = 240

// HTMLConfig contains configuration for HTML report generation.
type HTMLConfig struct {
	OutputPath string // Path to write the HTML file (default: <dir>/report.html)
	Title      string // Report title (default: "simlens report")
	ThumbWidth int    // Embedded thumbnail width in pixels
}

// GenerateHTML generates a self-contained HTML report from the report directory.
func GenerateHTML(reportDir string, cfg HTMLConfig) error {
	index, captures, err := ReadReport(reportDir)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	if cfg.Title == "" {
		cfg.Title = "simlens report"
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = filepath.Join(reportDir, "report.html")
	}
	if cfg.ThumbWidth <= 0 {
		cfg.ThumbWidth = DefaultThumbWidth
	}

	data := buildHTMLData(reportDir, index, captures, cfg)

	html, err := renderHTML(data)
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return core.WriteFileAtomic(cfg.OutputPath, []byte(html), 0o644)
}

// HTMLData contains all data needed for the HTML template.
type HTMLData struct {
	Title         string
	GeneratedAt   string
	Index         *Index
	Captures      []CaptureHTMLData
	TotalDuration string
	PassRate      float64
	JSONData      template.JS // Raw report data for scripts
}

// CaptureHTMLData contains capture data formatted for HTML.
type CaptureHTMLData struct {
	CaptureDetail
	Status      Status
	StatusClass string
	DurationStr string
	Thumbnail   template.URL // data: URI, empty when no screenshot
	Diff        string
}

func buildHTMLData(dir string, index *Index, captures []CaptureDetail, cfg HTMLConfig) HTMLData {
	out := make([]CaptureHTMLData, len(captures))
	for i, c := range captures {
		status := StatusPending
		if i < len(index.Captures) {
			status = index.Captures[i].Status
		}
		shot := c.Artifacts.Highlight
		if shot == "" {
			shot = c.Artifacts.Screenshot
		}
		h := CaptureHTMLData{
			CaptureDetail: c,
			Status:        status,
			StatusClass:   string(status),
			DurationStr:   formatDuration(c.Duration),
		}
		if shot != "" {
			h.Thumbnail = thumbnailURI(filepath.Join(dir, shot), cfg.ThumbWidth)
		}
		if c.Patches != nil {
			h.Diff = c.Patches.Diff()
		}
		out[i] = h
	}

	var passRate float64
	if done := index.Summary.Passed + index.Summary.Failed; done > 0 {
		passRate = float64(index.Summary.Passed) / float64(done) * 100
	}

	var total *int64
	if index.EndTime != nil {
		ms := index.EndTime.Sub(index.StartTime).Milliseconds()
		total = &ms
	}

	jsonBytes, _ := json.Marshal(map[string]interface{}{
		"index":    index,
		"captures": captures,
	})

	return HTMLData{
		Title:         cfg.Title,
		GeneratedAt:   time.Now().Format("2006-01-02 15:04:05"),
		Index:         index,
		Captures:      out,
		TotalDuration: formatDuration(total),
		PassRate:      passRate,
		JSONData:      template.JS(jsonBytes),
	}
}

func formatDuration(ms *int64) string {
	if ms == nil {
		return "-"
	}
	d := time.Duration(*ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", *ms)
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

// thumbnailURI scales the PNG at path to width and returns it as a data
// URI, or "" when the file cannot be read.
func thumbnailURI(path string, width int) template.URL {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	thumb, err := Thumbnail(data, width)
	if err != nil {
		return ""
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(thumb))
}

// Thumbnail scales a PNG down to width, keeping its aspect ratio. Images
// already narrower than width are returned unchanged.
func Thumbnail(data []byte, width int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, core.ErrDecodeFailed.WithCause(err)
	}
	b := src.Bounds()
	if b.Dx() <= width {
		return data, nil
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, core.ErrDecodeFailed.WithCause(err)
	}
	return buf.Bytes(), nil
}

func renderHTML(data HTMLData) (string, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"pct": func(v float64) string { return fmt.Sprintf("%.0f%%", v) },
	}).Parse(htmlTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        :root {
            --bg-primary: #ffffff;
            --bg-secondary: #f9fafb;
            --text-primary: #000000;
            --text-secondary: rgb(75, 85, 99);
            --text-muted: rgb(107, 114, 128);
            --border-color: #e5e7eb;
            --passed: #22c55e;
            --failed: #ef4444;
            --errored: #eab308;
            --running: #06b6d4;
            --pending: #6b7280;
            --stopped: #6b7280;
            --high: #ef4444;
            --medium: #f59e0b;
            --low: #3b82f6;
            --accent: #06b6d4;
        }

        * { box-sizing: border-box; margin: 0; padding: 0; }

        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            line-height: 1.5;
        }

        /* Header */
        .header {
            background: var(--bg-secondary);
            border-bottom: 1px solid var(--border-color);
            padding: 16px 24px;
        }
        .header-title-main { font-size: 16px; font-weight: 500; }
        .header-title-sub { font-size: 12px; color: var(--text-secondary); }

        /* Dashboard */
        .dashboard { display: flex; gap: 16px; flex-wrap: wrap; margin-top: 12px; }
        .stat {
            background: var(--bg-primary);
            border: 1px solid var(--border-color);
            border-radius: 8px;
            padding: 8px 16px;
            font-size: 13px;
        }
        .stat-value { font-size: 18px; font-weight: 600; }

        /* Captures */
        .captures { padding: 16px 24px; display: flex; flex-direction: column; gap: 16px; }
        .capture {
            display: flex;
            gap: 16px;
            border: 1px solid var(--border-color);
            border-left: 4px solid var(--pending);
            border-radius: 8px;
            padding: 12px;
        }
        .capture.passed { border-left-color: var(--passed); }
        .capture.failed { border-left-color: var(--failed); }
        .capture.errored { border-left-color: var(--errored); }
        .capture.running { border-left-color: var(--running); }
        .capture img { border: 1px solid var(--border-color); border-radius: 4px; }
        .capture-body { flex: 1; min-width: 0; }
        .capture-name { font-weight: 600; }
        .capture-meta { font-size: 12px; color: var(--text-muted); }

        table { border-collapse: collapse; width: 100%; margin-top: 8px; font-size: 13px; }
        th, td { text-align: left; padding: 4px 8px; border-bottom: 1px solid var(--border-color); }
        .sev { font-weight: 600; text-transform: uppercase; font-size: 11px; }
        .sev.high { color: var(--high); }
        .sev.medium { color: var(--medium); }
        .sev.low { color: var(--low); }

        .error { color: var(--failed); font-size: 13px; margin-top: 8px; }
        pre {
            background: var(--bg-secondary);
            border: 1px solid var(--border-color);
            border-radius: 4px;
            padding: 8px;
            margin-top: 8px;
            font-size: 12px;
            overflow-x: auto;
        }
    </style>
</head>
<body>
    <div class="header">
        <div class="header-title-main">{{.Title}}</div>
        <div class="header-title-sub">
            Session {{.Index.SessionID}} &middot; {{.Index.Device.Name}} ({{.Index.Device.Platform}}{{if .Index.Device.OSVersion}} {{.Index.Device.OSVersion}}{{end}})
            &middot; {{.Index.Simlens.Profile}} &middot; generated {{.GeneratedAt}}
        </div>
        <div class="dashboard">
            <div class="stat"><div class="stat-value">{{.Index.Status}}</div>status</div>
            <div class="stat"><div class="stat-value">{{.Index.Summary.Captures}}</div>captures</div>
            <div class="stat"><div class="stat-value">{{pct .PassRate}}</div>pass rate</div>
            <div class="stat"><div class="stat-value">{{.Index.Summary.Issues}}</div>issues ({{.Index.Summary.High}} high, {{.Index.Summary.Medium}} medium, {{.Index.Summary.Low}} low)</div>
            <div class="stat"><div class="stat-value">{{.Index.Summary.Fixes}}</div>fixes</div>
            <div class="stat"><div class="stat-value">{{.TotalDuration}}</div>duration</div>
        </div>
    </div>

    <div class="captures">
        {{range .Captures}}
        <div class="capture {{.StatusClass}}" id="{{.ID}}">
            {{if .Thumbnail}}<img src="{{.Thumbnail}}" alt="{{.ID}}">{{end}}
            <div class="capture-body">
                <div class="capture-name">{{.ID}}{{if .Analysis}} &middot; {{.Analysis.Screen}}{{end}}</div>
                <div class="capture-meta">{{.Status}} &middot; {{.Source}} &middot; {{.DurationStr}}</div>
                {{if .Description}}<p>{{.Description}}</p>{{end}}
                {{if .Issues}}
                <table>
                    <tr><th>Severity</th><th>Rule</th><th>Description</th><th>Suggestion</th></tr>
                    {{range .Issues}}
                    <tr>
                        <td><span class="sev {{.Severity}}">{{.Severity}}</span></td>
                        <td>{{.RuleID}}</td>
                        <td>{{.Description}}</td>
                        <td>{{.Suggestion}}</td>
                    </tr>
                    {{end}}
                </table>
                {{end}}
                {{if .Recommendations}}
                <table>
                    <tr><th>Priority</th><th>Type</th><th>Fix</th></tr>
                    {{range .Recommendations}}
                    <tr><td><span class="sev {{.Priority}}">{{.Priority}}</span></td><td>{{.IssueType}}</td><td>{{.Fix}}</td></tr>
                    {{end}}
                </table>
                {{end}}
                {{if .Diff}}<pre>{{.Diff}}</pre>{{end}}
                {{if .Commit}}<div class="capture-meta">commit {{.Commit}}</div>{{end}}
                {{if .Error}}<div class="error">{{.Error.Category}}: {{.Error.Message}}</div>{{end}}
            </div>
        </div>
        {{else}}
        <div class="capture-meta">No captures yet.</div>
        {{end}}
    </div>

    <script>
        window.simlensReport = {{.JSONData}};
    </script>
</body>
</html>
`
