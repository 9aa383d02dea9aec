package rules

import (
	"fmt"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/vision"
)

// Built-in rule IDs, in evaluation order.
const (
	RuleTextOverflow     = "text_overflow"
	RuleLineOverflow     = "line_overflow"
	RuleLayoutSpacing    = "layout_spacing"
	RuleMissingButtons   = "missing_buttons"
	RuleMissingInputs    = "missing_inputs"
	RuleDarkScreen       = "dark_screen"
	RuleBrightScreen     = "bright_screen"
	RuleButtonAlignment  = "button_alignment"
	RuleVisualRegression = "visual_regression"
)

// thresholdDef is a threshold name and its calibrated default.
type thresholdDef struct {
	name string
	def  float64
}

// builtin is a rule defined by a check function over resolved thresholds.
type builtin struct {
	id          string
	description string
	thresholds  map[string]config.Threshold
	check       func(r *builtin, a *vision.Analysis) []Issue
}

func (r *builtin) ID() string          { return r.id }
func (r *builtin) Description() string { return r.description }

func (r *builtin) Thresholds() map[string]config.Threshold {
	out := make(map[string]config.Threshold, len(r.thresholds))
	for k, v := range r.thresholds {
		out[k] = v
	}
	return out
}

func (r *builtin) Evaluate(a *vision.Analysis) []Issue {
	if a == nil {
		return nil
	}
	return r.check(r, a)
}

func (r *builtin) value(name string) float64 {
	return r.thresholds[name].Value
}

// issue fills in the rule ID and threshold provenance.
func (r *builtin) issue(typ string, sev core.Severity, desc, suggestion string, region *core.Bounds, evidence map[string]float64) Issue {
	return Issue{
		RuleID:      r.id,
		Type:        typ,
		Severity:    sev,
		Description: desc,
		Region:      region,
		Suggestion:  suggestion,
		Evidence:    evidence,
		Thresholds:  r.Thresholds(),
	}
}

type builtinDef struct {
	id          string
	description string
	thresholds  []thresholdDef
	check       func(r *builtin, a *vision.Analysis) []Issue
}

var builtinDefs = []builtinDef{
	{
		id:          RuleTextOverflow,
		description: "Text regions closer to the screen edge than the margin",
		thresholds:  []thresholdDef{{"margin", 20}},
		check:       checkTextOverflow,
	},
	{
		id:          RuleLineOverflow,
		description: "Too many horizontal edge pixels, typical of clipped or wrapped text",
		thresholds:  []thresholdDef{{"max_horizontal_lines", 1000}}, // pixel count, not mask intensity
		check:       checkLineOverflow,
	},
	{
		id:          RuleLayoutSpacing,
		description: "Buttons on the same row closer than the minimum gap",
		thresholds:  []thresholdDef{{"min_gap", 10}},
		check:       checkLayoutSpacing,
	},
	{
		id:          RuleMissingButtons,
		description: "Fewer buttons than a login screen needs",
		thresholds:  []thresholdDef{{"min_buttons", 2}},
		check:       checkMissingButtons,
	},
	{
		id:          RuleMissingInputs,
		description: "Fewer input fields than a login screen needs",
		thresholds:  []thresholdDef{{"min_inputs", 2}},
		check:       checkMissingInputs,
	},
	{
		id:          RuleDarkScreen,
		description: "Mean brightness below the visibility floor",
		thresholds:  []thresholdDef{{"min_brightness", 50}},
		check:       checkDarkScreen,
	},
	{
		id:          RuleBrightScreen,
		description: "Mean brightness above the glare ceiling",
		thresholds:  []thresholdDef{{"max_brightness", 200}},
		check:       checkBrightScreen,
	},
	{
		id:          RuleButtonAlignment,
		description: "Button-sized regions vary too much in area",
		thresholds:  []thresholdDef{{"max_area_variance", 1e6}},
		check:       checkButtonAlignment,
	},
	{
		id:          RuleVisualRegression,
		description: "Screenshot differs from the approved baseline",
		thresholds:  []thresholdDef{{"max_changed_ratio", 0.01}},
		check:       checkVisualRegression,
	},
}

// Builtins returns the built-in rules with thresholds resolved against cfg.
// A nil cfg yields the calibrated defaults.
func Builtins(cfg *config.Config) []Rule {
	out := make([]Rule, 0, len(builtinDefs))
	for _, d := range builtinDefs {
		r := &builtin{
			id:          d.id,
			description: d.description,
			thresholds:  make(map[string]config.Threshold, len(d.thresholds)),
			check:       d.check,
		}
		for _, t := range d.thresholds {
			r.thresholds[t.name] = cfg.ResolveThreshold(d.id+"."+t.name, t.def)
		}
		out = append(out, r)
	}
	return out
}

func checkTextOverflow(r *builtin, a *vision.Analysis) []Issue {
	margin := int(r.value("margin"))
	var issues []Issue
	for _, el := range a.Texts {
		b := el.Bounds
		if b.X >= margin && b.Right() <= a.Width-margin {
			continue
		}
		region := b
		issues = append(issues, r.issue(TypeTextOverflow, core.SeverityHigh,
			fmt.Sprintf("Text element at (%d, %d) appears to be overflowing screen boundaries", b.X, b.Y),
			"Adjust text layout constraints or use responsive text sizing",
			&region,
			map[string]float64{"left": float64(b.X), "right": float64(b.Right()), "screen_width": float64(a.Width)},
		))
	}
	return issues
}

func checkLineOverflow(r *builtin, a *vision.Analysis) []Issue {
	limit := r.value("max_horizontal_lines")
	if a.Metrics.HorizontalLines <= limit {
		return nil
	}
	return []Issue{r.issue(TypeTextOverflow, core.SeverityMedium,
		fmt.Sprintf("Potential text overflow detected (%.0f horizontal line pixels)", a.Metrics.HorizontalLines),
		"Constrain long text with ellipsis or wrapping",
		nil,
		map[string]float64{"horizontal_lines": a.Metrics.HorizontalLines},
	)}
}

// checkLayoutSpacing compares neighbouring buttons that share a row.
// Buttons arrive sorted top to bottom, then left to right.
func checkLayoutSpacing(r *builtin, a *vision.Analysis) []Issue {
	minGap := r.value("min_gap")
	var issues []Issue
	for i := 0; i+1 < len(a.Buttons); i++ {
		cur, next := a.Buttons[i].Bounds, a.Buttons[i+1].Bounds
		if cur.Bottom() <= next.Y || next.Bottom() <= cur.Y {
			continue
		}
		gap := next.X - cur.Right()
		if float64(gap) >= minGap {
			continue
		}
		region := cur.Union(next)
		issues = append(issues, r.issue(TypeLayoutSpacing, core.SeverityMedium,
			fmt.Sprintf("Buttons too close together (spacing: %dpx)", gap),
			"Increase spacing between buttons",
			&region,
			map[string]float64{"gap": float64(gap)},
		))
	}
	return issues
}

// expectsForm reports whether the screen is one a login form is expected on.
func expectsForm(a *vision.Analysis) bool {
	return a.Screen == vision.ScreenLogin || a.Screen == vision.ScreenUnknown || a.Screen == ""
}

func checkMissingButtons(r *builtin, a *vision.Analysis) []Issue {
	want := r.value("min_buttons")
	if !expectsForm(a) || float64(len(a.Buttons)) >= want {
		return nil
	}
	return []Issue{r.issue(TypeMissingElements, core.SeverityHigh,
		fmt.Sprintf("Expected at least %.0f buttons, found %d", want, len(a.Buttons)),
		"Verify all required UI elements are present and visible",
		nil,
		map[string]float64{"buttons": float64(len(a.Buttons))},
	)}
}

func checkMissingInputs(r *builtin, a *vision.Analysis) []Issue {
	want := r.value("min_inputs")
	if !expectsForm(a) || float64(len(a.Inputs)) >= want {
		return nil
	}
	return []Issue{r.issue(TypeMissingElements, core.SeverityHigh,
		fmt.Sprintf("Expected at least %.0f input fields, found %d", want, len(a.Inputs)),
		"Check if input fields are properly rendered and visible",
		nil,
		map[string]float64{"inputs": float64(len(a.Inputs))},
	)}
}

func checkDarkScreen(r *builtin, a *vision.Analysis) []Issue {
	floor := r.value("min_brightness")
	if a.Metrics.Brightness >= floor {
		return nil
	}
	return []Issue{r.issue(TypeContrast, core.SeverityHigh,
		fmt.Sprintf("Very dark screen - potential visibility issues (brightness: %.1f)", a.Metrics.Brightness),
		"Raise foreground contrast against the dark background",
		nil,
		map[string]float64{"brightness": a.Metrics.Brightness},
	)}
}

func checkBrightScreen(r *builtin, a *vision.Analysis) []Issue {
	ceiling := r.value("max_brightness")
	if a.Metrics.Brightness <= ceiling {
		return nil
	}
	return []Issue{r.issue(TypeContrast, core.SeverityMedium,
		fmt.Sprintf("Very bright screen - potential glare issues (brightness: %.1f)", a.Metrics.Brightness),
		"Tone down large white surfaces",
		nil,
		map[string]float64{"brightness": a.Metrics.Brightness},
	)}
}

func checkButtonAlignment(r *builtin, a *vision.Analysis) []Issue {
	limit := r.value("max_area_variance")
	m := a.Metrics
	if m.AlignmentSamples < 2 || m.AlignmentVariance <= limit {
		return nil
	}
	return []Issue{r.issue(TypeButtonAlignment, core.SeverityLow,
		fmt.Sprintf("Button size inconsistency detected (variance: %.0f)", m.AlignmentVariance),
		"Give buttons in a group the same size and distribute them evenly",
		nil,
		map[string]float64{"area_variance": m.AlignmentVariance, "samples": float64(m.AlignmentSamples)},
	)}
}

func checkVisualRegression(r *builtin, a *vision.Analysis) []Issue {
	d := a.Diff
	limit := r.value("max_changed_ratio")
	if d == nil || d.ChangedRatio <= limit {
		return nil
	}
	var region *core.Bounds
	for i, b := range d.Regions {
		if i == 0 {
			u := b
			region = &u
			continue
		}
		u := region.Union(b)
		region = &u
	}
	return []Issue{r.issue(TypeVisualRegression, core.SeverityHigh,
		fmt.Sprintf("%.2f%% of the screen changed against the baseline (%d regions)", d.ChangedRatio*100, len(d.Regions)),
		"Approve a new baseline if the change is intended",
		region,
		map[string]float64{"changed_ratio": d.ChangedRatio, "changed_pixels": float64(d.ChangedPixels), "regions": float64(len(d.Regions))},
	)}
}
