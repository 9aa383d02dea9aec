// Package rules turns a vision.Analysis into issues. Every rule works from
// named thresholds, and every issue it raises carries the measured values
// next to the thresholds they were compared against, with the source of
// each threshold.
package rules

import (
	"sort"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/vision"
)

// Issue types. Several rules can raise the same type; patch rules and
// recommendations key off the type, not the rule.
const (
	TypeTextOverflow     = "text_overflow"
	TypeLayoutSpacing    = "layout_spacing"
	TypeMissingElements  = "missing_elements"
	TypeContrast         = "contrast"
	TypeButtonAlignment  = "button_alignment"
	TypeVisualRegression = "visual_regression"
)

// Issue is one problem found on a screenshot.
type Issue struct {
	RuleID      string                      `json:"ruleId"`
	Type        string                      `json:"type"`
	Severity    core.Severity               `json:"severity"`
	Description string                      `json:"description"`
	Region      *core.Bounds                `json:"region,omitempty"`
	Suggestion  string                      `json:"suggestion,omitempty"`
	Evidence    map[string]float64          `json:"evidence,omitempty"`
	Thresholds  map[string]config.Threshold `json:"thresholds,omitempty"`
}

// Rule inspects an analysis.
type Rule interface {
	ID() string
	Description() string
	Thresholds() map[string]config.Threshold
	Evaluate(a *vision.Analysis) []Issue
}

// Counts tallies issues by severity.
type Counts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Total returns the sum of all severities.
func (c Counts) Total() int {
	return c.High + c.Medium + c.Low
}

// Add merges o into c.
func (c *Counts) Add(o Counts) {
	c.High += o.High
	c.Medium += o.Medium
	c.Low += o.Low
}

// Count tallies issues by severity.
func Count(issues []Issue) Counts {
	var c Counts
	for _, is := range issues {
		switch is.Severity {
		case core.SeverityHigh:
			c.High++
		case core.SeverityMedium:
			c.Medium++
		default:
			c.Low++
		}
	}
	return c
}

// Failed reports whether any issue is at or above failOn.
func Failed(issues []Issue, failOn core.Severity) bool {
	for _, is := range issues {
		if is.Severity >= failOn {
			return true
		}
	}
	return false
}

// AtLeast returns the issues whose severity is at least min, in order.
func AtLeast(issues []Issue, min core.Severity) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Severity >= min {
			out = append(out, is)
		}
	}
	return out
}

// Regions converts issues with a region into labelled rectangles for
// highlighting.
func Regions(issues []Issue) []core.Region {
	var out []core.Region
	for _, is := range issues {
		if is.Region == nil {
			continue
		}
		out = append(out, core.Region{Label: is.Type, Bounds: *is.Region, Severity: is.Severity})
	}
	return out
}

// Sort orders issues by descending severity, then rule, then position.
func Sort(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		ay, ax := regionKey(a.Region)
		by, bx := regionKey(b.Region)
		if ay != by {
			return ay < by
		}
		return ax < bx
	})
}

func regionKey(b *core.Bounds) (int, int) {
	if b == nil {
		return -1, -1
	}
	return b.Y, b.X
}
