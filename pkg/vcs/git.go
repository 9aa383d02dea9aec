// Package vcs commits applied patches with git.
package vcs

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
	"github.com/devicelab-dev/simlens/pkg/shell"
)

// ErrNotRepository is returned when the directory is not inside a git work
// tree.
var ErrNotRepository = core.NewError(core.ErrCategoryPatch, "not_repository", "not a git repository")

// Git runs git in one work tree.
type Git struct {
	Run shell.Runner
	Dir string
}

// New returns a Git for dir using r, or the real git when r is nil.
func New(r shell.Runner, dir string) *Git {
	if r == nil {
		r = shell.Exec{}
	}
	return &Git{Run: r, Dir: dir}
}

func (g *Git) git(ctx context.Context, args ...string) (string, error) {
	out, err := g.Run.Run(ctx, "git", append([]string{"-C", g.Dir}, args...)...)
	return strings.TrimSpace(string(out)), err
}

// IsRepository reports whether Dir is inside a git work tree.
func (g *Git) IsRepository(ctx context.Context) bool {
	out, err := g.git(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Commit stages files and commits them with message. It returns the new
// commit hash, or "" when the files had no staged changes.
func (g *Git) Commit(ctx context.Context, message string, files []string) (string, error) {
	if len(files) == 0 {
		return "", nil
	}
	if !g.IsRepository(ctx) {
		return "", ErrNotRepository.Messagef("%s is not a git repository", g.Dir)
	}

	rel := make([]string, 0, len(files))
	for _, f := range files {
		if r, err := filepath.Rel(g.Dir, f); err == nil && !strings.HasPrefix(r, "..") {
			f = r
		}
		rel = append(rel, filepath.ToSlash(f))
	}
	sort.Strings(rel)

	if _, err := g.git(ctx, append([]string{"add", "--"}, rel...)...); err != nil {
		return "", core.ErrCommandFailed.WithMessage("git add").WithCause(err)
	}
	// diff --quiet exits 0 when nothing is staged
	if _, err := g.git(ctx, append([]string{"diff", "--cached", "--quiet", "--"}, rel...)...); err == nil {
		logger.Info("git: nothing to commit for %d files", len(rel))
		return "", nil
	}
	if _, err := g.git(ctx, append([]string{"commit", "-m", message, "--"}, rel...)...); err != nil {
		return "", core.ErrCommandFailed.WithMessage("git commit").WithCause(err)
	}
	hash, err := g.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", core.ErrCommandFailed.WithMessage("git rev-parse").WithCause(err)
	}
	logger.Info("git: committed %s (%d files)", shortHash(hash), len(rel))
	return hash, nil
}

// CommitMessage summarizes applied patch rules, e.g.
// "simlens: fix contrast, text_overflow (3 edits)".
func CommitMessage(issueTypes []string, edits int) string {
	seen := make(map[string]bool)
	var types []string
	for _, t := range issueTypes {
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	sort.Strings(types)
	noun := "edits"
	if edits == 1 {
		noun = "edit"
	}
	return fmt.Sprintf("simlens: fix %s (%d %s)", strings.Join(types, ", "), edits, noun)
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
