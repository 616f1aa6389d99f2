package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	holonlog "github.com/holon-run/xavier/pkg/log"
)

const (
	metaFileName = "meta.json"
	repoDirName  = "repo"
)

var (
	// ErrNotFound is returned by Load when a thread has no readable
	// metadata record.
	ErrNotFound = errors.New("thread not found")
	// ErrInvalidID is returned for ids that do not have the thread id shape.
	ErrInvalidID = errors.New("invalid thread id")
)

// Store is the filesystem-backed thread store rooted at one directory.
type Store struct {
	root  string
	now   func() time.Time
	locks *Locker
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the clock used for timestamps and expiry checks.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithLocker shares a Locker between the store and other components.
func WithLocker(l *Locker) StoreOption {
	return func(s *Store) {
		s.locks = l
	}
}

// NewStore returns a Store rooted at root. The directory is not created
// until EnsureRoot is called.
func NewStore(root string, opts ...StoreOption) *Store {
	s := &Store{
		root:  root,
		now:   time.Now,
		locks: NewLocker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the store root directory.
func (s *Store) Root() string {
	return s.root
}

// Locks returns the per-thread locker used by the store.
func (s *Store) Locks() *Locker {
	return s.locks
}

// Now returns the store clock's current time in UTC.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// Dir returns the directory owned by thread id.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.root, id)
}

// RepoDir returns the working checkout directory of thread id.
func (s *Store) RepoDir(id string) string {
	return filepath.Join(s.root, id, repoDirName)
}

func (s *Store) metaPath(id string) string {
	return filepath.Join(s.root, id, metaFileName)
}

// EnsureRoot creates the root directory if it does not exist.
func (s *Store) EnsureRoot() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to create thread root %q: %w", s.root, err)
	}
	return nil
}

// Create makes the directory tree for a new thread. It fails if the thread
// directory already exists.
func (s *Store) Create(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if err := s.EnsureRoot(); err != nil {
		return err
	}
	if err := os.Mkdir(s.Dir(id), 0o755); err != nil {
		return fmt.Errorf("failed to create thread dir: %w", err)
	}
	if err := os.Mkdir(s.RepoDir(id), 0o755); err != nil {
		return fmt.Errorf("failed to create repo dir: %w", err)
	}
	return nil
}

// Load reads the metadata record of thread id. Every failure, whether the
// record is missing, unreadable or malformed, wraps ErrNotFound.
func (s *Store) Load(id string) (*Meta, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, ErrInvalidID)
	}
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: failed to parse metadata: %w", ErrNotFound, err)
	}
	if err := meta.validate(id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return &meta, nil
}

// Save writes the full metadata record, replacing any previous version.
// The record is written to a temporary file and renamed into place.
func (s *Store) Save(meta *Meta) error {
	if !ValidID(meta.ThreadID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, meta.ThreadID)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal thread metadata: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.Dir(meta.ThreadID), ".meta-*.json")
	if err != nil {
		return fmt.Errorf("failed to create metadata temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write thread metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close thread metadata: %w", err)
	}
	if err := os.Rename(tmpName, s.metaPath(meta.ThreadID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace thread metadata: %w", err)
	}
	return nil
}

// Remove deletes thread id and its checkout. A thread that is already gone
// is not an error.
func (s *Store) Remove(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return removeDir(s.Dir(id))
}

// List returns the names of all thread directories under the root, sorted.
// A missing root yields an empty list.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read thread root: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SweepReport summarizes one expiry scan.
type SweepReport struct {
	Scanned int
	Reaped  []string
	// Busy lists threads skipped because a request held their lock.
	Busy   []string
	Errors []error
}

// Err joins the errors collected during the scan.
func (r SweepReport) Err() error {
	return errors.Join(r.Errors...)
}

// SweepExpired removes every thread idle for longer than ttl. Threads with
// readable metadata are judged by lastAccessAt; the rest by the directory
// modification time. Threads locked by an in-flight request are skipped.
// Per-entry failures are collected in the report and do not stop the scan.
func (s *Store) SweepExpired(ctx context.Context, ttl time.Duration) SweepReport {
	var report SweepReport

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			report.Errors = append(report.Errors, fmt.Errorf("failed to read thread root: %w", err))
		}
		return report
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, ctx.Err())
			return report
		}
		if !entry.IsDir() {
			continue
		}
		report.Scanned++

		id := entry.Name()
		release, ok := s.locks.TryLock(id)
		if !ok {
			report.Busy = append(report.Busy, id)
			continue
		}
		reason, expired, err := s.expired(id, ttl)
		if err == nil && expired {
			err = removeDir(s.Dir(id))
			if err == nil {
				report.Reaped = append(report.Reaped, id)
				holonlog.Info("reaped expired thread", "thread", id, "reason", reason)
			}
		}
		release()
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("thread %s: %w", id, err))
		}
	}
	return report
}

// expired decides whether thread id is past ttl. A directory that vanished
// mid-scan is reported as not expired.
func (s *Store) expired(id string, ttl time.Duration) (string, bool, error) {
	now := s.Now()
	if meta, err := s.Load(id); err == nil {
		return "last access", meta.Expired(now, ttl), nil
	}

	info, err := os.Stat(s.Dir(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to stat thread dir: %w", err)
	}
	return "stale directory", now.Sub(info.ModTime()) > ttl, nil
}

func removeDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %q: %w", dir, err)
	}
	return nil
}
