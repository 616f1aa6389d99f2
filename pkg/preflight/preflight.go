// Package preflight verifies the host can serve requests before the server
// starts accepting them.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	holonlog "github.com/holon-run/xavier/pkg/log"
)

// CheckLevel represents the severity level of a preflight check
type CheckLevel int

const (
	// LevelError indicates a critical failure that prevents execution
	LevelError CheckLevel = iota
	// LevelWarn indicates a warning that should be addressed but doesn't block execution
	LevelWarn
	// LevelInfo indicates informational output
	LevelInfo
)

// CheckResult represents the result of a single preflight check
type CheckResult struct {
	Name    string
	Level   CheckLevel
	Message string
	Error   error
}

// Check represents a single preflight check
type Check interface {
	Name() string
	Run(ctx context.Context) CheckResult
}

// Checker runs a collection of preflight checks
type Checker struct {
	checks []Check
	skip   bool
}

// Config configures the preflight checker
type Config struct {
	// Skip skips all preflight checks
	Skip bool
	// GitBinary is the git executable used for staging and diffing.
	GitBinary string
	// AgentPath is the coding agent binary.
	AgentPath string
	// ThreadRoot must be creatable and writable.
	ThreadRoot string
}

// NewChecker creates a new preflight checker with the given configuration
func NewChecker(cfg Config) *Checker {
	c := &Checker{skip: cfg.Skip}
	if cfg.GitBinary != "" {
		c.checks = append(c.checks, &GitCheck{Binary: cfg.GitBinary})
	}
	if cfg.AgentPath != "" {
		c.checks = append(c.checks, &AgentCheck{Path: cfg.AgentPath})
	}
	if cfg.ThreadRoot != "" {
		c.checks = append(c.checks, &ThreadRootCheck{Path: cfg.ThreadRoot})
	}
	return c
}

// Add registers an extra check.
func (c *Checker) Add(check Check) {
	c.checks = append(c.checks, check)
}

// Run executes all registered checks and returns an error if any critical checks fail
func (c *Checker) Run(ctx context.Context) error {
	if c.skip {
		holonlog.Info("preflight checks skipped")
		return nil
	}

	var errs []string
	for _, check := range c.checks {
		result := check.Run(ctx)
		switch result.Level {
		case LevelError:
			holonlog.Error("preflight check failed", "check", result.Name, "message", result.Message, "error", result.Error)
			errs = append(errs, fmt.Sprintf("%s: %s", result.Name, result.Message))
		case LevelWarn:
			holonlog.Warn("preflight check warning", "check", result.Name, "message", result.Message)
		case LevelInfo:
			holonlog.Debug("preflight check", "check", result.Name, "message", result.Message)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("preflight checks failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	holonlog.Progress("preflight checks passed", "checks", len(c.checks))
	return nil
}

// GitCheck checks that git is installed and runs.
type GitCheck struct {
	Binary string
}

func (c *GitCheck) Name() string {
	return "git"
}

func (c *GitCheck) Run(ctx context.Context) CheckResult {
	if _, err := exec.LookPath(c.Binary); err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "git command not found. Please install Git from https://git-scm.com/downloads",
			Error:   err,
		}
	}

	output, err := exec.CommandContext(ctx, c.Binary, "--version").CombinedOutput()
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: "git is installed but does not run",
			Error:   err,
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("git is available (%s)", strings.TrimSpace(string(output))),
	}
}

// AgentCheck checks that the agent binary exists. A missing agent only
// warns: requests fail with a start error until it is installed.
type AgentCheck struct {
	Path string
}

func (c *AgentCheck) Name() string {
	return "agent"
}

func (c *AgentCheck) Run(ctx context.Context) CheckResult {
	resolved, err := exec.LookPath(c.Path)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: fmt.Sprintf("agent binary not found at %s; requests will fail until it is installed", c.Path),
			Error:   err,
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("agent is available (%s)", resolved),
	}
}

// ThreadRootCheck checks that the thread root exists, or can be created,
// and is writable.
type ThreadRootCheck struct {
	Path string
}

func (c *ThreadRootCheck) Name() string {
	return "thread-root"
}

func (c *ThreadRootCheck) Run(ctx context.Context) CheckResult {
	absPath, err := filepath.Abs(c.Path)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("failed to resolve thread root: %s", c.Path),
			Error:   err,
		}
	}

	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("cannot create thread root: %s", absPath),
			Error:   err,
		}
	}

	probe, err := os.CreateTemp(absPath, ".preflight-*")
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("thread root is not writable: %s", absPath),
			Error:   err,
		}
	}
	name := probe.Name()
	err = errors.Join(probe.Close(), os.Remove(name))
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: fmt.Sprintf("could not clean up write probe in %s", absPath),
			Error:   err,
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("thread root is writable: %s", absPath),
	}
}
