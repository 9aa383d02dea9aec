package shell

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Response is a canned result for Fake.
type Response struct {
	Out    []byte
	Stderr string
	Err    error
	// Do runs before the response is returned; tests use it to create the
	// files a real tool would write.
	Do func(args []string)
}

// Fake is a Runner for tests. Responses are keyed by the command line
// joined with spaces; the longest registered prefix wins.
type Fake struct {
	mu        sync.Mutex
	responses map[string][]Response
	Calls     []string
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{responses: make(map[string][]Response)}
}

// On registers a response for every command line starting with prefix.
// Registering the same prefix again queues responses in order; the last one
// repeats.
func (f *Fake) On(prefix string, r Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = append(f.responses[prefix], r)
	return f
}

// OnOutput is On with a successful stdout.
func (f *Fake) OnOutput(prefix, out string) *Fake {
	return f.On(prefix, Response{Out: []byte(out)})
}

// Run implements Runner.
func (f *Fake) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))

	f.mu.Lock()
	f.Calls = append(f.Calls, line)
	best := ""
	for prefix := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	var r Response
	found := best != ""
	if found {
		queue := f.responses[best]
		r = queue[0]
		if len(queue) > 1 {
			f.responses[best] = queue[1:]
		}
	}
	f.mu.Unlock()

	if !found {
		return nil, &CommandError{Name: name, Args: args, Err: errors.New("no fake response")}
	}
	if r.Do != nil {
		r.Do(args)
	}
	if r.Err != nil {
		return r.Out, &CommandError{Name: name, Args: args, Stderr: r.Stderr, Err: r.Err}
	}
	return r.Out, nil
}

// Called reports whether any recorded command line starts with prefix.
func (f *Fake) Called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
