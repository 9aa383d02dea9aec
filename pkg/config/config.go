// Package config handles configuration for simlens.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/simlens/pkg/core"
)

// SourceDefault marks a value that was not overridden by any config file.
const SourceDefault = "default"

// Config represents the workspace configuration (simlens.yaml).
type Config struct {
	// Device settings
	Platform    string           `yaml:"platform"`    // ios, android, synthetic, replay
	Device      string           `yaml:"device"`      // UDID, serial, AVD name or replay directory
	BootTimeout time.Duration    `yaml:"bootTimeout"` // Max wait for a booted device
	Retry       core.RetryPolicy `yaml:"retry"`       // Capture retry policy

	// Output
	Output string `yaml:"output"` // Report directory

	Detector  DetectorProfile   `yaml:"detector"`
	Rules     RulesConfig       `yaml:"rules"`
	Patches   PatchesConfig     `yaml:"patches"`
	Baseline  BaselineConfig    `yaml:"baseline"`
	Store     StoreConfig       `yaml:"store"`
	Dashboard DashboardConfig   `yaml:"dashboard"`
	Notify    NotifyConfig      `yaml:"notify"`
	Describe  DescribeConfig    `yaml:"describe"`
	Session   SessionConfig     `yaml:"session"`
	Env       map[string]string `yaml:"env"` // Extra variables exposed to rule scripts

	path string
}

// RulesConfig selects rules and overrides their thresholds.
type RulesConfig struct {
	Disabled   []string           `yaml:"disabled"`   // Rule IDs to skip
	Thresholds map[string]float64 `yaml:"thresholds"` // "<rule>.<name>": value
	Scripts    []string           `yaml:"scripts"`    // JavaScript rule files
	FailOn     core.Severity      `yaml:"failOn"`     // Lowest severity that fails a capture
}

// PatchesConfig holds source patch rules.
type PatchesConfig struct {
	Root     string      `yaml:"root"`     // Source tree the file globs are relative to
	Presets  []string    `yaml:"presets"`  // Built-in rule sets, e.g. "flutter"
	Rules    []PatchRule `yaml:"rules"`    // Custom rules
	Backup   bool        `yaml:"backup"`   // Keep <file>.orig before writing
	Validate bool        `yaml:"validate"` // Reparse after editing
}

// PatchRule is the YAML form of a guarded, anchored source edit.
type PatchRule struct {
	ID        string   `yaml:"id"`
	IssueType string   `yaml:"issueType"` // Issue type that triggers this rule
	Files     []string `yaml:"files"`     // Glob patterns, relative to patches.root
	Anchor    string   `yaml:"anchor"`    // Regular expression locating the edit point
	Insert    string   `yaml:"insert"`    // Text to insert or substitute
	Position  string   `yaml:"position"`  // after (default), before, replace
	Guard     string   `yaml:"guard"`     // Skip when this matches near the anchor
	Window    int      `yaml:"window"`    // Characters searched by guard; before rules look back from the anchor
	MaxEdits  int      `yaml:"maxEdits"`  // Per file; 0 means 1
}

// BaselineConfig controls visual regression baselines.
type BaselineConfig struct {
	Dir string `yaml:"dir"`
}

// StoreConfig controls the history database.
type StoreConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// DashboardConfig controls the HTTP control surface.
type DashboardConfig struct {
	Addr          string `yaml:"addr"`
	ActivityLimit int    `yaml:"activityLimit"`
	ScreenshotDir string `yaml:"screenshotDir"`
}

// NotifyConfig controls outbound notifications.
type NotifyConfig struct {
	TelegramToken  string        `yaml:"telegramToken"`
	TelegramChatID int64         `yaml:"telegramChatId"`
	MinSeverity    core.Severity `yaml:"minSeverity"`
}

// DefaultDescribeModel is the Gemini model used for descriptions.
const DefaultDescribeModel = "gemini-2.5-flash"

// DescribeConfig controls optional model-written screenshot descriptions.
type DescribeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"apiKey"`
}

// SessionConfig controls the capture loop.
type SessionConfig struct {
	Interval               time.Duration `yaml:"interval"`
	MaxConsecutiveFailures int           `yaml:"maxConsecutiveFailures"`
	AutoPatch              bool          `yaml:"autoPatch"`
	AutoCommit             bool          `yaml:"autoCommit"`
	Workers                int           `yaml:"workers"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		Platform:    "ios",
		BootTimeout: 2 * time.Minute,
		Retry:       core.DefaultRetryPolicy(),
		Output:      "reports",
		Detector:    DefaultDetectorProfile(),
		Rules: RulesConfig{
			FailOn: core.SeverityHigh,
		},
		Patches: PatchesConfig{
			Root:     ".",
			Backup:   true,
			Validate: true,
		},
		Baseline:  BaselineConfig{Dir: "baselines"},
		Store:     StoreConfig{Path: "simlens.db"},
		Dashboard: DashboardConfig{Addr: "127.0.0.1:5001", ActivityLimit: 50, ScreenshotDir: "screenshots"},
		Notify:    NotifyConfig{MinSeverity: core.SeverityHigh},
		Describe:  DescribeConfig{Model: DefaultDescribeModel},
		Session: SessionConfig{
			Interval:               30 * time.Second,
			MaxConsecutiveFailures: 5,
			Workers:                1,
		},
	}
}

// Path returns the file the configuration was loaded from, or "" for defaults.
func (c *Config) Path() string {
	return c.path
}

// Source names where an override came from, for threshold provenance.
func (c *Config) Source() string {
	if c.path == "" {
		return SourceDefault
	}
	return c.path
}

// Load loads configuration from a file on top of Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("parse %s", path)).WithCause(err)
	}
	cfg.path = path

	var probe struct {
		Detector *yaml.Node `yaml:"detector"`
	}
	if err := yaml.Unmarshal(data, &probe); err == nil && probe.Detector != nil {
		cfg.Detector.Source = path
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFromDir looks for simlens.yaml or simlens.yml in the directory, after
// loading a .env file from the same directory if one exists.
func LoadFromDir(dir string) (*Config, error) {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, core.ErrInvalidConfig.WithMessage("load .env").WithCause(err)
		}
	}

	for _, name := range []string{"simlens.yaml", "simlens.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return defaults
	cfg := Default()
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv fills secrets from the environment when the file leaves them empty.
func (c *Config) applyEnv() {
	if c.Notify.TelegramToken == "" {
		c.Notify.TelegramToken = os.Getenv("SIMLENS_TELEGRAM_TOKEN")
	}
	if c.Describe.APIKey == "" {
		c.Describe.APIKey = os.Getenv("SIMLENS_GENAI_API_KEY")
	}
	if c.Describe.APIKey == "" {
		c.Describe.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// Validate checks values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	var problems []string

	switch c.Platform {
	case "ios", "android", "synthetic", "replay":
	default:
		problems = append(problems, fmt.Sprintf("platform %q is not one of ios, android, synthetic, replay", c.Platform))
	}
	if c.Platform == "replay" && c.Device == "" {
		problems = append(problems, "replay platform needs device set to a screenshot directory")
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.maxAttempts must be at least 1")
	}
	if c.Session.Interval < 0 {
		problems = append(problems, "session.interval must not be negative")
	}
	if c.Session.Workers < 1 {
		problems = append(problems, "session.workers must be at least 1")
	}
	if c.Dashboard.ActivityLimit < 1 {
		problems = append(problems, "dashboard.activityLimit must be at least 1")
	}
	for name, v := range c.Rules.Thresholds {
		if !strings.Contains(name, ".") {
			problems = append(problems, fmt.Sprintf("threshold %q must be named <rule>.<name>", name))
		}
		if v < 0 {
			problems = append(problems, fmt.Sprintf("threshold %q must not be negative", name))
		}
	}
	seen := make(map[string]bool)
	for i, r := range c.Patches.Rules {
		if r.ID == "" {
			problems = append(problems, fmt.Sprintf("patches.rules[%d] has no id", i))
		} else if seen[r.ID] {
			problems = append(problems, fmt.Sprintf("patches.rules id %q is duplicated", r.ID))
		}
		seen[r.ID] = true
		if r.Anchor == "" || len(r.Files) == 0 {
			problems = append(problems, fmt.Sprintf("patches.rules[%d] needs anchor and files", i))
		}
	}
	problems = append(problems, c.Detector.validate()...)

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return core.ErrInvalidConfig.
		WithMessage("invalid configuration: " + strings.Join(problems, "; ")).
		WithDetails(map[string]interface{}{"path": c.path, "problems": problems})
}

// Threshold is a calibrated value together with where it came from.
type Threshold struct {
	Value  float64 `json:"value"`
	Source string  `json:"source"`
}

// ResolveThreshold returns the override for name if the config sets one,
// otherwise def marked as a default.
func (c *Config) ResolveThreshold(name string, def float64) Threshold {
	if c != nil {
		if v, ok := c.Rules.Thresholds[name]; ok {
			return Threshold{Value: v, Source: c.Source()}
		}
	}
	return Threshold{Value: def, Source: SourceDefault}
}

// RuleEnabled reports whether id is not listed in rules.disabled.
func (c *Config) RuleEnabled(id string) bool {
	for _, d := range c.Rules.Disabled {
		if d == id {
			return false
		}
	}
	return true
}

// Resolve makes relative paths absolute against dir.
func (c *Config) Resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Output = abs(c.Output)
	c.Baseline.Dir = abs(c.Baseline.Dir)
	c.Store.Path = abs(c.Store.Path)
	c.Dashboard.ScreenshotDir = abs(c.Dashboard.ScreenshotDir)
	c.Patches.Root = abs(c.Patches.Root)
	for i, s := range c.Rules.Scripts {
		c.Rules.Scripts[i] = resolveScript(dir, s)
	}
	if c.Platform == "replay" {
		c.Device = abs(c.Device)
	}
}

// resolveScript resolves a rule script against dir, falling back to the
// shared scripts directory under the simlens home.
func resolveScript(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	local := filepath.Join(dir, name)
	if _, err := os.Stat(local); err == nil {
		return local
	}
	shared := filepath.Join(GetScriptsDir(), name)
	if _, err := os.Stat(shared); err == nil {
		return shared
	}
	return local
}
