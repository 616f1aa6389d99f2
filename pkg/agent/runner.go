// Package agent runs the external code-mutation agent against a thread's
// working directory.
package agent

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/holon-run/xavier/pkg/failure"
	holonlog "github.com/holon-run/xavier/pkg/log"
)

// DefaultPath returns the default agent location, ~/.local/bin/amp. When the
// home directory cannot be resolved the bare name is looked up on PATH.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "amp"
	}
	return filepath.Join(home, ".local", "bin", "amp")
}

// Runner launches the agent as a child process. The zero value is not
// usable; create runners with NewRunner.
type Runner struct {
	path string
	// Stdout and Stderr receive the agent's output when it is not captured.
	// They default to the server's own streams.
	Stdout io.Writer
	Stderr io.Writer
	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

// NewRunner returns a Runner for the agent binary at path. An empty path
// selects DefaultPath.
func NewRunner(path string) *Runner {
	if path == "" {
		path = DefaultPath()
	}
	return &Runner{path: path, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Path returns the agent binary path.
func (r *Runner) Path() string {
	return r.path
}

// Name is the agent's display name, the base name of its binary.
func (r *Runner) Name() string {
	return filepath.Base(r.path)
}

// Args builds the agent command line for one instruction. The agent runs
// unattended, so destructive operations are pre-authorized.
func Args(prompt string) []string {
	return []string{"-x", prompt, "--dangerously-allow-all"}
}

// Run executes the agent in workDir with prompt and waits for it to exit.
// With a nil onLine the agent inherits the runner's output streams;
// otherwise every line it prints on stdout or stderr is passed to onLine,
// one call at a time. A non-zero exit or a launch error is a mutation
// failure.
func (r *Runner) Run(ctx context.Context, workDir, prompt string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, r.path, Args(prompt)...)
	cmd.Dir = workDir
	cmd.Stdin = nil
	if r.Env != nil {
		cmd.Env = r.Env
	}

	var wait func() error
	if onLine == nil {
		cmd.Stdout = r.Stdout
		cmd.Stderr = r.Stderr
		wait = cmd.Wait
	} else {
		var err error
		if wait, err = captureLines(cmd, onLine); err != nil {
			return failure.MutationStart(r.Name(), err)
		}
	}

	started := time.Now()
	holonlog.Info("starting agent", "agent", r.path, "dir", workDir)
	if err := cmd.Start(); err != nil {
		return failure.MutationStart(r.Name(), err)
	}

	err := wait()
	holonlog.Info("agent finished", "agent", r.Name(), "duration", time.Since(started), "error", err)
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return failure.Mutation(r.Name(), exitErr.ExitCode(), err)
	}
	return failure.Mutation(r.Name(), -1, err)
}

// captureLines wires the command's output to onLine. The returned wait
// drains both pipes before reaping the process.
func captureLines(cmd *exec.Cmd, onLine func(string)) (func() error, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	scan := func(rd io.Reader) {
		sc := bufio.NewScanner(rd)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			mu.Lock()
			onLine(sc.Text())
			mu.Unlock()
		}
		// Drain whatever is left after an over-long line so the child
		// never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, rd)
	}

	return func() error {
		var wg conc.WaitGroup
		wg.Go(func() { scan(stdout) })
		wg.Go(func() { scan(stderr) })
		wg.Wait()
		return cmd.Wait()
	}, nil
}
