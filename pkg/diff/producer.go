// Package diff extracts the result of a mutation step as a unified diff.
package diff

import (
	"context"
	"fmt"
	"time"

	"github.com/holon-run/xavier/pkg/failure"
	holonlog "github.com/holon-run/xavier/pkg/log"
)

// Repository is the source control surface the producer needs.
type Repository interface {
	IsRepo(dir string) bool
	StageAll(ctx context.Context, dir string) error
	DiffStaged(ctx context.Context, dir string) (string, error)
}

// Producer stages a working tree and returns its diff against HEAD.
type Producer struct {
	repo Repository
}

// NewProducer creates a Producer backed by repo.
func NewProducer(repo Repository) *Producer {
	return &Producer{repo: repo}
}

// Produce stages all changes in workDir (tracked, untracked and deleted)
// and returns the staged diff. Every failure is a diff failure.
func (p *Producer) Produce(ctx context.Context, workDir string) (string, error) {
	if !p.repo.IsRepo(workDir) {
		return "", failure.Diff(fmt.Errorf("%s is not a git repository", workDir))
	}
	started := time.Now()
	if err := p.repo.StageAll(ctx, workDir); err != nil {
		return "", failure.Diff(err)
	}
	out, err := p.repo.DiffStaged(ctx, workDir)
	if err != nil {
		return "", failure.Diff(err)
	}
	holonlog.Debug("diff generated", "dir", workDir, "bytes", len(out), "duration", time.Since(started))
	return out, nil
}
