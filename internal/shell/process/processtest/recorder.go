// Package processtest provides a scripted process.Runner for tests.
package processtest

import (
	"context"
	"strings"
	"sync"

	"github.com/artpar/quickops/internal/shell/process"
)

// Response is what the recorder returns for a matching command.
type Response struct {
	ExitCode int
	Output   string
	Err      error
	// Do runs before the response is returned, e.g. to write files the real
	// tool would produce.
	Do func(cmd process.Command)
}

// Recorder records every command and answers from a table keyed by the
// command line prefix ("terraform output"). Unmatched commands succeed with
// empty output.
type Recorder struct {
	mu        sync.Mutex
	responses map[string]Response
	Calls     []process.Command
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{responses: make(map[string]Response)}
}

// On registers the response for commands whose line starts with prefix.
func (r *Recorder) On(prefix string, resp Response) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[prefix] = resp
	return r
}

// Run implements process.Runner.
func (r *Recorder) Run(_ context.Context, cmd process.Command) (process.Result, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, cmd)
	line := cmd.String()
	var (
		match Response
		best  = -1
	)
	for prefix, resp := range r.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > best {
			match, best = resp, len(prefix)
		}
	}
	r.mu.Unlock()

	if match.Do != nil {
		match.Do(cmd)
	}
	return process.Result{ExitCode: match.ExitCode, Output: []byte(match.Output)}, match.Err
}

// Lines returns the recorded command lines in order.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		lines = append(lines, c.String())
	}
	return lines
}

// Count returns how many recorded commands start with prefix.
func (r *Recorder) Count(prefix string) int {
	n := 0
	for _, l := range r.Lines() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}
