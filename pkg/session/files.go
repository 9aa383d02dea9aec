package session

import (
	"context"
	"os"
	"time"

	"github.com/devicelab-dev/simlens/pkg/core"
)

// AnalyzePaths runs every PNG file received on paths through the pipeline
// as one session, until paths is closed or ctx is cancelled. each, when
// non-nil, is called after every file. An unreadable file counts as an
// errored capture; a fatal detector error ends the session.
func (r *Runner) AnalyzePaths(ctx context.Context, paths <-chan string, each func(path string, res *Result)) (*Summary, error) {
	start := time.Now()
	sum := &Summary{}
	r.Begin(ctx)
	sum.SessionID = r.SessionID

	var fatal error
loop:
	for {
		var path string
		select {
		case <-ctx.Done():
			break loop
		case p, ok := <-paths:
			if !ok {
				break loop
			}
			path = p
		}

		res, err := r.analyzeFile(ctx, path)
		if ctx.Err() != nil {
			break
		}
		sum.Add(res)
		if each != nil {
			each(path, res)
		}
		if err != nil && isFatal(err) {
			fatal = err
			break
		}
	}

	sum.Duration = time.Since(start)
	sum.Status = sum.status(ctx.Err() != nil)
	if fatal != nil && sum.Status == core.StatusPassed {
		sum.Status = core.StatusErrored
	}
	r.Finish(ctx, sum)
	return sum, fatal
}

// AnalyzeFiles is AnalyzePaths over a fixed list.
func (r *Runner) AnalyzeFiles(ctx context.Context, files []string, each func(path string, res *Result)) (*Summary, error) {
	paths := make(chan string, len(files))
	for _, f := range files {
		paths <- f
	}
	close(paths)
	return r.AnalyzePaths(ctx, paths, each)
}

func (r *Runner) analyzeFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- screenshot paths given by the user or the inbox
	if err != nil {
		return r.fail(ctx, nil, &Result{}, core.ErrCaptureFailed.WithMessage("read "+path).WithCause(err))
	}
	if !core.IsPNG(data) {
		return r.fail(ctx, nil, &Result{}, core.ErrDecodeFailed.Messagef("%s is not a PNG", path))
	}
	return r.Analyze(ctx, data)
}
