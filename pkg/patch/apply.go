package patch

import (
	"bytes"
	"context"
	"os"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/rules"
)

// ApplyOptions controls how a plan is written.
type ApplyOptions struct {
	DryRun   bool // Compute diffs only
	Backup   bool // Write <file>.orig before replacing a file
	Validate bool // Reject edits that break parsing
}

// FileResult is the outcome for one file.
type FileResult struct {
	Path    string `json:"path"`
	Rel     string `json:"file"`
	Edits   []Edit `json:"edits"`
	Diff    string `json:"diff"`
	Written bool   `json:"written"`
	Backup  string `json:"backup,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

// Result is the outcome of applying a plan.
type Result struct {
	DryRun bool         `json:"dryRun"`
	Files  []FileResult `json:"files"`
}

// Applied counts the edits written to disk.
func (r *Result) Applied() int {
	n := 0
	for _, f := range r.Files {
		if f.Written {
			n += len(f.Edits)
		}
	}
	return n
}

// Written returns the paths of files that were changed.
func (r *Result) Written() []string {
	var out []string
	for _, f := range r.Files {
		if f.Written {
			out = append(out, f.Path)
		}
	}
	return out
}

// Failed returns the files that were rejected.
func (r *Result) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// Diff concatenates the per-file diffs.
func (r *Result) Diff() string {
	var b bytes.Buffer
	for _, f := range r.Files {
		b.WriteString(f.Diff)
	}
	return b.String()
}

// Apply renders each file plan. A file that changed since it was planned,
// or whose result fails validation, is left untouched and reported in its
// FileResult; the other files are still processed.
func Apply(ctx context.Context, plan *Plan, opts ApplyOptions) (*Result, error) {
	res := &Result{DryRun: opts.DryRun}
	for _, fp := range plan.Files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		fr := applyFile(ctx, fp, opts)
		if fr.Err != nil {
			fr.Error = fr.Err.Error()
			logger.Warn("patch %s: %v", fp.Rel, fr.Err)
		} else if fr.Written {
			logger.Info("patched %s (%d edits)", fp.Rel, len(fp.Edits))
		}
		res.Files = append(res.Files, fr)
	}
	return res, nil
}

func applyFile(ctx context.Context, fp *FilePlan, opts ApplyOptions) FileResult {
	fr := FileResult{Path: fp.Path, Rel: fp.Rel, Edits: fp.Edits}

	current, err := os.ReadFile(fp.Path)
	if err != nil {
		fr.Err = core.ErrStorage.Messagef("read %s", fp.Path).WithCause(err)
		return fr
	}
	if !bytes.Equal(current, fp.Original) {
		fr.Err = core.ErrFileChanged.Messagef("%s changed since the patch was planned", fp.Rel)
		return fr
	}

	after := render(fp.Original, fp.Edits)
	diff, err := unifiedDiff(fp.Rel, fp.Original, after)
	if err != nil {
		fr.Err = core.ErrPatchInvalid.Messagef("diff %s", fp.Rel).WithCause(err)
		return fr
	}
	fr.Diff = diff

	if opts.Validate {
		if err := Validate(ctx, fp.Path, fp.Original, after); err != nil {
			fr.Err = err
			return fr
		}
	}
	if opts.DryRun {
		return fr
	}

	info, err := os.Stat(fp.Path)
	if err != nil {
		fr.Err = core.ErrStorage.Messagef("stat %s", fp.Path).WithCause(err)
		return fr
	}
	if opts.Backup {
		backup := fp.Path + ".orig"
		if err := core.WriteFileAtomic(backup, fp.Original, info.Mode().Perm()); err != nil {
			fr.Err = err
			return fr
		}
		fr.Backup = backup
	}
	if err := core.WriteFileAtomic(fp.Path, after, info.Mode().Perm()); err != nil {
		fr.Err = err
		return fr
	}
	fr.Written = true
	return fr
}

func unifiedDiff(rel string, before, after []byte) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  3,
	})
}

// Patcher plans and applies patches for issues in one step.
type Patcher struct {
	Planner *Planner
	Options ApplyOptions
}

// NewPatcher compiles the configured presets and rules. Edits are written
// unless dryRun is set.
func NewPatcher(cfg config.PatchesConfig, dryRun bool) (*Patcher, error) {
	rs, err := CompileAll(cfg)
	if err != nil {
		return nil, err
	}
	return &Patcher{
		Planner: NewPlanner(cfg.Root, rs),
		Options: ApplyOptions{DryRun: dryRun, Backup: cfg.Backup, Validate: cfg.Validate},
	}, nil
}

// Fix plans edits for issues and applies them with the patcher's options.
func (p *Patcher) Fix(ctx context.Context, issues []rules.Issue) (*Plan, *Result, error) {
	plan, err := p.Planner.Plan(issues)
	if err != nil {
		return nil, nil, err
	}
	if plan.Empty() {
		return plan, &Result{DryRun: p.Options.DryRun}, nil
	}
	res, err := Apply(ctx, plan, p.Options)
	return plan, res, err
}
