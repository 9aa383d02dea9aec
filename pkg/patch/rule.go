// Package patch plans and applies guarded source edits for detected UI
// issues. A rule only ever touches a file where its anchor matches, and a
// guard that already matches near the anchor marks the edit as applied.
package patch

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
)

// Position says where Insert goes relative to the anchor match.
type Position string

const (
	PositionAfter   Position = "after"
	PositionBefore  Position = "before"
	PositionReplace Position = "replace"
)

const (
	// DefaultWindow is how many characters around the anchor the guard
	// is searched in, on the side the rule inserts.
	DefaultWindow = 200
	matchTimeout  = time.Second
)

// Rule is a compiled patch rule.
type Rule struct {
	ID        string
	IssueType string
	Files     []string
	Anchor    *regexp2.Regexp
	Guard     *regexp2.Regexp // nil: never considered applied
	Insert    string
	Position  Position
	Window    int // characters; negative searches the whole file
	MaxEdits  int
}

// Compile validates a configured rule and compiles its expressions.
func Compile(r config.PatchRule) (*Rule, error) {
	invalid := func(format string, args ...interface{}) error {
		return core.ErrPatchInvalid.Messagef("patch rule %q: "+format, append([]interface{}{r.ID}, args...)...)
	}
	if r.ID == "" {
		return nil, core.ErrPatchInvalid.WithMessage("patch rule has no id")
	}
	if r.IssueType == "" {
		return nil, invalid("issueType is required")
	}
	if len(r.Files) == 0 {
		return nil, invalid("files is required")
	}
	for _, f := range r.Files {
		for _, seg := range strings.Split(f, "/") {
			if _, err := path.Match(seg, ""); err != nil {
				return nil, invalid("bad file pattern %q", f)
			}
		}
	}
	if r.Anchor == "" {
		return nil, invalid("anchor is required")
	}

	anchor, err := regexp2.Compile(r.Anchor, regexp2.Multiline)
	if err != nil {
		return nil, core.ErrPatchInvalid.Messagef("patch rule %q: bad anchor %q", r.ID, r.Anchor).WithCause(err)
	}
	anchor.MatchTimeout = matchTimeout

	var guard *regexp2.Regexp
	if r.Guard != "" {
		guard, err = regexp2.Compile(r.Guard, regexp2.Multiline)
		if err != nil {
			return nil, core.ErrPatchInvalid.Messagef("patch rule %q: bad guard %q", r.ID, r.Guard).WithCause(err)
		}
		guard.MatchTimeout = matchTimeout
	}

	pos := Position(strings.ToLower(r.Position))
	switch pos {
	case "":
		pos = PositionAfter
	case PositionAfter, PositionBefore, PositionReplace:
	default:
		return nil, invalid("position %q is not after, before or replace", r.Position)
	}
	if pos != PositionReplace && r.Insert == "" {
		return nil, invalid("insert is required")
	}

	window := r.Window
	if window == 0 {
		window = DefaultWindow
	}
	maxEdits := r.MaxEdits
	if maxEdits <= 0 {
		maxEdits = 1
	}

	return &Rule{
		ID:        r.ID,
		IssueType: r.IssueType,
		Files:     append([]string(nil), r.Files...),
		Anchor:    anchor,
		Guard:     guard,
		Insert:    r.Insert,
		Position:  pos,
		Window:    window,
		MaxEdits:  maxEdits,
	}, nil
}

// MatchFile reports whether rel (slash separated, relative to the patch
// root) matches one of the rule's file patterns.
func (r *Rule) MatchFile(rel string) bool {
	for _, p := range r.Files {
		if matchGlob(p, rel) {
			return true
		}
	}
	return false
}

// matchGlob is path.Match per segment, with "**" matching any number of
// segments.
func matchGlob(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pat, name []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			for i := 0; i <= len(name); i++ {
				if matchSegments(pat[1:], name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		if ok, _ := path.Match(pat[0], name[0]); !ok {
			return false
		}
		pat, name = pat[1:], name[1:]
	}
	return len(name) == 0
}

// presets are built-in rule sets for common app layouts.
var presets = map[string][]config.PatchRule{
	"flutter": {
		{
			ID:        "flutter.text_overflow",
			IssueType: "text_overflow",
			Files:     []string{"lib/**/*.dart"},
			Anchor:    `style:\s*AppTheme\.\w+\.copyWith\(`,
			Insert:    "\n  overflow: TextOverflow.ellipsis,",
			Guard:     `overflow:\s*TextOverflow\.`,
			Window:    160,
			MaxEdits:  20,
		},
		{
			ID:        "flutter.button_alignment",
			IssueType: "button_alignment",
			Files:     []string{"lib/screens/**/*.dart", "lib/widgets/**/*.dart"},
			Anchor:    `\bRow\(`,
			Insert:    "\n  mainAxisAlignment: MainAxisAlignment.spaceEvenly,",
			Guard:     `mainAxisAlignment:`,
			Window:    80,
			MaxEdits:  20,
		},
		{
			ID:        "flutter.contrast",
			IssueType: "contrast",
			Files:     []string{"lib/theme/*.dart"},
			Anchor:    `static Color primaryText\(Brightness brightness\) \{`,
			Insert:    "\n  // contrastRatio: keep primary text at 4.5:1 or better against the surface",
			Guard:     `contrastRatio`,
		},
	},
}

// Preset returns a copy of a built-in rule set.
func Preset(name string) ([]config.PatchRule, error) {
	rules, ok := presets[name]
	if !ok {
		return nil, core.ErrPatchInvalid.WithMessage(fmt.Sprintf("unknown patch preset %q", name))
	}
	return append([]config.PatchRule(nil), rules...), nil
}

// PresetNames lists the built-in rule sets.
func PresetNames() []string {
	return []string{"flutter"}
}

// CompileAll compiles the presets named in cfg followed by its own rules.
// A custom rule with the same ID as a preset rule replaces it.
func CompileAll(cfg config.PatchesConfig) ([]*Rule, error) {
	var all []config.PatchRule
	for _, name := range cfg.Presets {
		p, err := Preset(name)
		if err != nil {
			return nil, err
		}
		all = append(all, p...)
	}
	for _, r := range cfg.Rules {
		replaced := false
		for i := range all {
			if all[i].ID == r.ID {
				all[i] = r
				replaced = true
			}
		}
		if !replaced {
			all = append(all, r)
		}
	}

	out := make([]*Rule, 0, len(all))
	for _, r := range all {
		c, err := Compile(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
