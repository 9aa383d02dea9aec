package patch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/rules"
)

// Edit is one change to one file. Offsets are bytes into the original
// content.
type Edit struct {
	RuleID string `json:"ruleId"`
	File   string `json:"file"` // Slash separated, relative to the planner root
	Offset int    `json:"offset"`
	Length int    `json:"length"` // Bytes replaced; 0 for insertions
	Line   int    `json:"line"`   // 1-based line of Offset
	Old    string `json:"old,omitempty"`
	New    string `json:"new"`
}

// FilePlan holds the edits for one file.
type FilePlan struct {
	Path     string // Absolute
	Rel      string
	Original []byte
	Edits    []Edit
}

// Skip records an anchor match that was left alone.
type Skip struct {
	RuleID string `json:"ruleId"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Skip reasons
const (
	SkipGuarded  = "already applied"
	SkipOverlap  = "overlaps an earlier edit"
	SkipMaxEdits = "max edits reached"
)

// Plan is the set of edits for a batch of issues.
type Plan struct {
	Root    string      `json:"root"`
	Files   []*FilePlan `json:"-"`
	Edits   []Edit      `json:"edits"`
	Skipped []Skip      `json:"skipped,omitempty"`
	Errors  []error     `json:"-"` // One ErrAnchorNotFound per rule that matched nothing
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool {
	return len(p.Edits) == 0
}

// Planner matches patch rules to issues and locates their edits.
type Planner struct {
	Root  string
	Rules []*Rule
}

// NewPlanner returns a planner over root.
func NewPlanner(root string, rs []*Rule) *Planner {
	return &Planner{Root: root, Rules: rs}
}

// RulesFor returns the rules triggered by the given issues, in rule order.
func (p *Planner) RulesFor(issues []rules.Issue) []*Rule {
	types := make(map[string]bool, len(issues))
	for _, is := range issues {
		types[is.Type] = true
	}
	var out []*Rule
	for _, r := range p.Rules {
		if types[r.IssueType] {
			out = append(out, r)
		}
	}
	return out
}

// Plan computes edits for the rules triggered by issues. Files without an
// anchor match are never touched. A rule that matches nothing anywhere is
// reported in Plan.Errors; it does not fail the plan.
func (p *Planner) Plan(issues []rules.Issue) (*Plan, error) {
	plan := &Plan{Root: p.Root}
	triggered := p.RulesFor(issues)
	if len(triggered) == 0 {
		return plan, nil
	}

	files, err := p.listFiles()
	if err != nil {
		return nil, err
	}

	byFile := make(map[string]*FilePlan)
	for _, r := range triggered {
		matched := false
		for _, rel := range files {
			if !r.MatchFile(rel) {
				continue
			}
			fp, err := p.load(byFile, rel)
			if err != nil {
				return nil, err
			}
			edits, skips, err := locate(r, rel, fp.Original)
			if err != nil {
				return nil, err
			}
			if len(edits) > 0 || len(skips) > 0 {
				matched = true
			}
			fp.Edits = append(fp.Edits, edits...)
			plan.Skipped = append(plan.Skipped, skips...)
		}
		if !matched {
			plan.Errors = append(plan.Errors, core.ErrAnchorNotFound.
				Messagef("patch rule %s: anchor not found in %s", r.ID, strings.Join(r.Files, ", ")).
				WithDetails(map[string]interface{}{"rule": r.ID}))
		}
	}

	rels := make([]string, 0, len(byFile))
	for rel, fp := range byFile {
		if len(fp.Edits) > 0 {
			rels = append(rels, rel)
		}
	}
	sort.Strings(rels)
	for _, rel := range rels {
		fp := byFile[rel]
		var overlaps []Skip
		fp.Edits, overlaps = dropOverlaps(fp.Edits)
		plan.Skipped = append(plan.Skipped, overlaps...)
		plan.Files = append(plan.Files, fp)
		plan.Edits = append(plan.Edits, fp.Edits...)
	}

	logger.Info("patch plan: %d edits in %d files, %d skipped, %d rules unmatched",
		len(plan.Edits), len(plan.Files), len(plan.Skipped), len(plan.Errors))
	return plan, nil
}

func (p *Planner) load(cache map[string]*FilePlan, rel string) (*FilePlan, error) {
	if fp, ok := cache[rel]; ok {
		return fp, nil
	}
	abs := filepath.Join(p.Root, filepath.FromSlash(rel))
	data, err := os.ReadFile(abs) //#nosec G304 -- file under the patch root
	if err != nil {
		return nil, core.ErrStorage.Messagef("read %s", abs).WithCause(err)
	}
	fp := &FilePlan{Path: abs, Rel: rel, Original: data}
	cache[rel] = fp
	return fp, nil
}

// listFiles returns every regular file under the root, slash separated,
// skipping hidden and build directories.
func (p *Planner) listFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(p.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != p.Root && (strings.HasPrefix(name, ".") || name == "build" || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasSuffix(path, ".orig") {
			return nil
		}
		rel, err := filepath.Rel(p.Root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, core.ErrStorage.Messagef("walk %s", p.Root).WithCause(err)
	}
	sort.Strings(files)
	return files, nil
}

// locate finds the edit points of r in content.
func locate(r *Rule, rel string, content []byte) ([]Edit, []Skip, error) {
	if !utf8.Valid(content) {
		return nil, nil, nil
	}
	text := string(content)
	runes := []rune(text)

	var edits []Edit
	var skips []Skip
	m, err := r.Anchor.FindRunesMatch(runes)
	for ; m != nil && err == nil; m, err = r.Anchor.FindNextMatch(m) {
		start := byteOffset(runes, m.Index)
		end := byteOffset(runes, m.Index+m.Length)
		line := 1 + strings.Count(text[:start], "\n")

		guarded, gerr := guardMatches(r, runes, m.Index, m.Length)
		if gerr != nil {
			return nil, nil, gerr
		}
		if guarded {
			skips = append(skips, Skip{RuleID: r.ID, File: rel, Line: line, Reason: SkipGuarded})
			continue
		}
		if len(edits) >= r.MaxEdits {
			skips = append(skips, Skip{RuleID: r.ID, File: rel, Line: line, Reason: SkipMaxEdits})
			continue
		}

		insert := indentInsert(r.Insert, lineIndent(text, start))
		e := Edit{RuleID: r.ID, File: rel, Line: line}
		switch r.Position {
		case PositionBefore:
			e.Offset = start
			e.New = insert
		case PositionReplace:
			e.Offset = start
			e.Length = end - start
			e.Old = text[start:end]
			e.New = insert
		default:
			e.Offset = end
			e.New = insert
		}
		edits = append(edits, e)
	}
	if err != nil {
		return nil, nil, core.ErrPatchInvalid.Messagef("patch rule %s: anchor match on %s", r.ID, rel).WithCause(err)
	}
	return edits, skips, nil
}

// guardMatches searches the window on the side of the anchor the rule
// inserts on: backwards from the anchor end for before rules, forwards
// from the anchor start otherwise.
func guardMatches(r *Rule, runes []rune, from, length int) (bool, error) {
	if r.Guard == nil {
		return false, nil
	}
	region := runes
	if r.Window >= 0 {
		start, end := from, from+r.Window
		if r.Position == PositionBefore {
			start, end = from-r.Window, from+length
		}
		if start < 0 {
			start = 0
		}
		if end > len(runes) {
			end = len(runes)
		}
		region = runes[start:end]
	}
	g, err := r.Guard.FindRunesMatch(region)
	if err != nil {
		return false, core.ErrPatchInvalid.Messagef("patch rule %s: guard match", r.ID).WithCause(err)
	}
	return g != nil, nil
}

// byteOffset converts a rune index into a byte offset.
func byteOffset(runes []rune, idx int) int {
	n := 0
	for _, r := range runes[:idx] {
		n += utf8.RuneLen(r)
	}
	return n
}

// lineIndent returns the leading whitespace of the line containing off.
func lineIndent(text string, off int) string {
	start := strings.LastIndexByte(text[:off], '\n') + 1
	end := start
	for end < len(text) && (text[end] == ' ' || text[end] == '\t') {
		end++
	}
	return text[start:end]
}

// indentInsert prefixes every line after the first with indent, so
// multi-line inserts line up with the anchor's line.
func indentInsert(insert, indent string) string {
	if indent == "" || !strings.Contains(insert, "\n") {
		return insert
	}
	return strings.ReplaceAll(insert, "\n", "\n"+indent)
}

// dropOverlaps sorts edits by offset and removes any that overlap an
// earlier one.
func dropOverlaps(edits []Edit) ([]Edit, []Skip) {
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].Offset < edits[j].Offset })
	var kept []Edit
	var skips []Skip
	prevEnd := -1
	for _, e := range edits {
		if e.Offset < prevEnd {
			skips = append(skips, Skip{RuleID: e.RuleID, File: e.File, Line: e.Line, Reason: SkipOverlap})
			continue
		}
		kept = append(kept, e)
		prevEnd = e.Offset + e.Length
	}
	return kept, skips
}

// render applies edits, sorted by offset and non-overlapping, to content.
func render(content []byte, edits []Edit) []byte {
	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for _, e := range edits {
		b.Write(content[pos:e.Offset])
		b.WriteString(e.New)
		pos = e.Offset + e.Length
	}
	b.Write(content[pos:])
	return []byte(b.String())
}
