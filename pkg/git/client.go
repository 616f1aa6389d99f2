// Package git is the source control layer used by threads. Clones and
// repository checks go through go-git; staging and the staged diff shell out
// to the system git binary so the diff text matches what users get from
// `git diff --cached`.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	gogit "github.com/go-git/go-git/v5"
)

// DefaultCloneDepth keeps thread checkouts shallow.
const DefaultCloneDepth = 1

// Client runs git operations against working directories.
type Client struct {
	// Depth limits clone history. Zero clones the full history.
	Depth int
	// Binary is the git executable used for staging and diffing.
	Binary string
}

// NewClient returns a Client that makes shallow clones and uses git from PATH.
func NewClient() *Client {
	return &Client{Depth: DefaultCloneDepth, Binary: "git"}
}

// Clone checks out url into dest, which must be empty or absent.
func (c *Client) Clone(ctx context.Context, url, dest string) error {
	opts := &gogit.CloneOptions{
		URL:   url,
		Depth: c.Depth,
		Tags:  gogit.NoTags,
	}
	if _, err := gogit.PlainCloneContext(ctx, dest, false, opts); err != nil {
		return fmt.Errorf("failed to clone %s: %w", url, err)
	}
	return nil
}

// IsRepo reports whether dir is the root of a git working tree.
func (c *Client) IsRepo(dir string) bool {
	_, err := gogit.PlainOpen(dir)
	return err == nil
}

// StageAll stages every change in dir: modified, added and deleted files.
func (c *Client) StageAll(ctx context.Context, dir string) error {
	if _, err := c.run(ctx, dir, "add", "-A"); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}
	return nil
}

// DiffStaged returns the unified diff of the index against HEAD.
func (c *Client) DiffStaged(ctx context.Context, dir string) (string, error) {
	out, err := c.run(ctx, dir, "diff", "--cached")
	if err != nil {
		return "", fmt.Errorf("failed to diff staged changes: %w", err)
	}
	return out, nil
}

// HeadSHA returns the commit hash HEAD points at.
func (c *Client) HeadSHA(dir string) (string, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	bin := c.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return "", fmt.Errorf("git %s: %s", args[0], msg)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}
