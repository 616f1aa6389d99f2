package thread

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holon-run/xavier/pkg/failure"
	holonlog "github.com/holon-run/xavier/pkg/log"
)

// Caller-facing messages for resolution failures.
const (
	MsgRepoRequired   = "Repo is required for new thread"
	MsgInvalidID      = "Invalid thread ID"
	MsgNotFound       = "Thread expired or not found"
	MsgRepoMismatch   = "Thread is bound to a different repository"
	MsgInitializing   = "Initializing workspace for %s..."
	MsgCloning        = "Cloning repository..."
	MsgLoadingContext = "Loading thread context..."
)

// Cloner checks out a repository into an existing, empty directory.
type Cloner interface {
	Clone(ctx context.Context, url, dest string) error
}

// ResolveRequest names the thread a request wants. An empty ThreadID asks
// for a new thread bound to Repo.
type ResolveRequest struct {
	ThreadID string
	Repo     string
}

// Resolution is a thread ready for a mutation step. The caller holds the
// thread's lock until Release is called.
type Resolution struct {
	ThreadID string
	WorkDir  string
	Step     int
	Created  bool
	Release  func()
}

// Manager resolves requests to new or resumed threads.
type Manager struct {
	store  *Store
	cloner Cloner
}

// NewManager creates a Manager over store that clones with cloner.
func NewManager(store *Store, cloner Cloner) *Manager {
	return &Manager{store: store, cloner: cloner}
}

// Store returns the underlying thread store.
func (m *Manager) Store() *Store {
	return m.store
}

// Resolve creates a thread when req.ThreadID is empty and resumes it
// otherwise. progress, when non-nil, receives status messages. On success
// the thread is locked; the caller must call Resolution.Release.
func (m *Manager) Resolve(ctx context.Context, req ResolveRequest, progress func(string)) (*Resolution, error) {
	if progress == nil {
		progress = func(string) {}
	}
	if req.ThreadID == "" {
		return m.create(ctx, req.Repo, progress)
	}
	return m.resume(req.ThreadID, req.Repo, progress)
}

func (m *Manager) create(ctx context.Context, repo string, progress func(string)) (*Resolution, error) {
	if repo == "" {
		return nil, failure.Validation(MsgRepoRequired)
	}
	if err := m.store.EnsureRoot(); err != nil {
		return nil, err
	}

	id := NewID()
	release := m.store.Locks().Lock(id)
	ok := false
	defer func() {
		if !ok {
			release()
		}
	}()

	progress(fmt.Sprintf(MsgInitializing, repo))
	if err := m.store.Create(id); err != nil {
		return nil, err
	}

	repoURL := RepoURL(repo)
	workDir := m.store.RepoDir(id)
	progress(MsgCloning)

	started := time.Now()
	holonlog.Info("cloning repository", "thread", id, "url", repoURL)
	if err := m.cloner.Clone(ctx, repoURL, workDir); err != nil {
		if rmErr := m.store.Remove(id); rmErr != nil {
			holonlog.Warn("failed to remove thread after clone failure", "thread", id, "error", rmErr)
		}
		return nil, failure.Clone(err)
	}
	holonlog.Info("repository cloned", "thread", id, "duration", time.Since(started))

	now := m.store.Now()
	meta := &Meta{
		ThreadID:     id,
		RepoURL:      repoURL,
		CreatedAt:    now,
		LastAccessAt: now,
		Step:         1,
	}
	if err := m.store.Save(meta); err != nil {
		if rmErr := m.store.Remove(id); rmErr != nil {
			holonlog.Warn("failed to remove thread after metadata write failure", "thread", id, "error", rmErr)
		}
		return nil, err
	}

	ok = true
	return &Resolution{
		ThreadID: id,
		WorkDir:  workDir,
		Step:     meta.Step,
		Created:  true,
		Release:  release,
	}, nil
}

func (m *Manager) resume(id, repo string, progress func(string)) (*Resolution, error) {
	if !ValidID(id) {
		return nil, failure.Validation(MsgInvalidID)
	}

	release := m.store.Locks().Lock(id)
	ok := false
	defer func() {
		if !ok {
			release()
		}
	}()

	meta, err := m.store.Load(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			holonlog.Debug("thread lookup failed", "thread", id, "error", err)
			return nil, failure.NotFound(MsgNotFound, err)
		}
		return nil, err
	}
	if repo != "" && RepoURL(repo) != meta.RepoURL {
		return nil, failure.Conflict(MsgRepoMismatch)
	}

	now := m.store.Now()
	if !now.After(meta.LastAccessAt) {
		now = meta.LastAccessAt.Add(time.Nanosecond)
	}
	meta.Step++
	meta.LastAccessAt = now
	if err := m.store.Save(meta); err != nil {
		return nil, err
	}
	progress(MsgLoadingContext)

	ok = true
	return &Resolution{
		ThreadID: id,
		WorkDir:  m.store.RepoDir(id),
		Step:     meta.Step,
		Release:  release,
	}, nil
}
