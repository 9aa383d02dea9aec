package rules

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/jsengine"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/vision"
)

// DefaultScriptTimeout bounds one rule script run.
const DefaultScriptTimeout = 2 * time.Second

// Script is a user rule written in JavaScript.
type Script struct {
	ID     string // "script:<file base name>"
	Path   string
	Source string
}

// LoadScript reads a rule script from disk.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- configured rule script
	if err != nil {
		return Script{}, core.ErrInvalidConfig.Messagef("read rule script %s", path).WithCause(err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Script{ID: "script:" + base, Path: path, Source: string(data)}, nil
}

// Engine evaluates the enabled built-in rules and the configured scripts.
type Engine struct {
	rules         []Rule
	scripts       []Script
	env           map[string]string
	platform      string
	ScriptTimeout time.Duration
}

// NewEngine builds an engine from cfg: built-ins minus rules.disabled,
// and every file in rules.scripts.
func NewEngine(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{env: cfg.Env, platform: cfg.Platform, ScriptTimeout: DefaultScriptTimeout}
	for _, r := range Builtins(cfg) {
		if cfg.RuleEnabled(r.ID()) {
			e.rules = append(e.rules, r)
		}
	}
	for _, path := range cfg.Rules.Scripts {
		s, err := LoadScript(path)
		if err != nil {
			return nil, err
		}
		if !cfg.RuleEnabled(s.ID) {
			continue
		}
		e.scripts = append(e.scripts, s)
	}
	return e, nil
}

// AddRule appends a rule after the configured ones.
func (e *Engine) AddRule(r Rule) {
	e.rules = append(e.rules, r)
}

// AddScript appends a JavaScript rule.
func (e *Engine) AddScript(s Script) {
	e.scripts = append(e.scripts, s)
}

// Rules returns the active Go rules in evaluation order.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Scripts returns the active script rules.
func (e *Engine) Scripts() []Script {
	return append([]Script(nil), e.scripts...)
}

// Evaluate runs every rule against a and returns the sorted issues. A
// failing script is reported in the error while the issues of every other
// rule are still returned.
func (e *Engine) Evaluate(ctx context.Context, a *vision.Analysis) ([]Issue, error) {
	var issues []Issue
	for _, r := range e.rules {
		issues = append(issues, r.Evaluate(a)...)
	}

	var firstErr error
	for _, s := range e.scripts {
		found, err := e.runScript(ctx, s, a)
		if err != nil {
			logger.Warn("rule script %s: %v", s.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		issues = append(issues, found...)
	}

	Sort(issues)
	return issues, firstErr
}

func (e *Engine) runScript(ctx context.Context, s Script, a *vision.Analysis) ([]Issue, error) {
	timeout := e.ScriptTimeout
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	js := jsengine.New()
	defer js.Close()
	js.SetPlatform(e.platform)
	js.SetVariable("analysis", a)
	env := make(map[string]interface{}, len(e.env))
	for k, v := range e.env {
		env[k] = v
	}
	js.SetVariable("env", env)

	if err := js.RunScript(ctx, s.Path, s.Source); err != nil {
		return nil, err
	}

	findings := js.Findings()
	issues := make([]Issue, 0, len(findings))
	for _, f := range findings {
		sev, ok := core.ParseSeverity(f.Severity)
		if !ok {
			sev = core.SeverityMedium
		}
		issues = append(issues, Issue{
			RuleID:      s.ID,
			Type:        f.Type,
			Severity:    sev,
			Description: f.Description,
			Region:      f.Region,
			Suggestion:  f.Suggestion,
			Evidence:    f.Evidence,
		})
	}
	return issues, nil
}
