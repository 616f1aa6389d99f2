package thread

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/holon-run/xavier/pkg/failure"
)

type fakeCloner struct {
	mu    sync.Mutex
	urls  []string
	err   error
	files map[string]string
	// after runs once the checkout is written.
	after func(dest string) error
}

func (f *fakeCloner) Clone(_ context.Context, url, dest string) error {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for name, content := range f.files {
		if err := os.WriteFile(filepath.Join(dest, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	if f.after != nil {
		return f.after(dest)
	}
	return nil
}

func newTestManager(t *testing.T, now func() time.Time, cloner *fakeCloner) *Manager {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "threads"), WithClock(now))
	return NewManager(store, cloner)
}

func collect(msgs *[]string) func(string) {
	return func(m string) { *msgs = append(*msgs, m) }
}

func TestManager_CreateThread(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	cloner := &fakeCloner{files: map[string]string{"README.md": "hello"}}
	m := newTestManager(t, fixedClock(now), cloner)

	var msgs []string
	res, err := m.Resolve(context.Background(), ResolveRequest{Repo: "example.com/org/proj"}, collect(&msgs))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer res.Release()

	if !ValidID(res.ThreadID) || res.Step != 1 || !res.Created {
		t.Fatalf("Resolution = %+v", res)
	}
	if res.WorkDir != m.Store().RepoDir(res.ThreadID) {
		t.Fatalf("WorkDir = %q, want %q", res.WorkDir, m.Store().RepoDir(res.ThreadID))
	}
	if got, err := os.ReadFile(filepath.Join(res.WorkDir, "README.md")); err != nil || string(got) != "hello" {
		t.Fatalf("checkout content = %q, %v", got, err)
	}
	if len(cloner.urls) != 1 || cloner.urls[0] != "https://example.com/org/proj" {
		t.Fatalf("clone urls = %v", cloner.urls)
	}
	wantMsgs := []string{"Initializing workspace for example.com/org/proj...", "Cloning repository..."}
	if fmt.Sprint(msgs) != fmt.Sprint(wantMsgs) {
		t.Fatalf("progress = %q, want %q", msgs, wantMsgs)
	}

	meta, err := m.Store().Load(res.ThreadID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if meta.Step != 1 || meta.RepoURL != "https://example.com/org/proj" || !meta.CreatedAt.Equal(now) || !meta.LastAccessAt.Equal(now) {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestManager_CreateRequiresRepo(t *testing.T) {
	cloner := &fakeCloner{}
	m := newTestManager(t, time.Now, cloner)

	var msgs []string
	_, err := m.Resolve(context.Background(), ResolveRequest{}, collect(&msgs))
	if !failure.Is(err, failure.KindValidation) || failure.Message(err) != MsgRepoRequired {
		t.Fatalf("Resolve() error = %v, want validation %q", err, MsgRepoRequired)
	}
	if len(cloner.urls) != 0 || len(msgs) != 0 {
		t.Fatalf("unexpected side effects: clones=%v progress=%v", cloner.urls, msgs)
	}
}

func TestManager_CloneFailureRemovesThread(t *testing.T) {
	cloner := &fakeCloner{err: errors.New("repository not found")}
	m := newTestManager(t, time.Now, cloner)

	_, err := m.Resolve(context.Background(), ResolveRequest{Repo: "example.com/org/missing"}, nil)
	if !failure.Is(err, failure.KindClone) {
		t.Fatalf("Resolve() error = %v, want clone failure", err)
	}
	ids, listErr := m.Store().List()
	if listErr != nil || len(ids) != 0 {
		t.Fatalf("List() = %v, %v; want no threads left", ids, listErr)
	}
	if m.Store().Locks().Held() != 0 {
		t.Fatalf("lock not released after failure")
	}
}

func TestManager_MetadataWriteFailureRemovesThread(t *testing.T) {
	cloner := &fakeCloner{after: func(dest string) error {
		// A non-empty directory in place of meta.json makes the rename fail.
		return os.MkdirAll(filepath.Join(filepath.Dir(dest), metaFileName, "blocker"), 0o755)
	}}
	m := newTestManager(t, time.Now, cloner)

	res, err := m.Resolve(context.Background(), ResolveRequest{Repo: "example.com/org/proj"}, nil)
	if err == nil {
		res.Release()
		t.Fatal("Resolve() succeeded, want metadata write failure")
	}
	ids, listErr := m.Store().List()
	if listErr != nil || len(ids) != 0 {
		t.Fatalf("List() = %v, %v; want no threads left", ids, listErr)
	}
	if m.Store().Locks().Held() != 0 {
		t.Fatalf("lock not released after failure")
	}
}

func TestManager_ResumeIncrementsStep(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, fixedClock(now), &fakeCloner{})

	res, err := m.Resolve(context.Background(), ResolveRequest{Repo: "example.com/org/proj"}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res.Release()

	prev := now
	for want := 2; want <= 4; want++ {
		repo := ""
		if want == 3 {
			repo = "example.com/org/proj"
		}
		var msgs []string
		got, err := m.Resolve(context.Background(), ResolveRequest{ThreadID: res.ThreadID, Repo: repo}, collect(&msgs))
		if err != nil {
			t.Fatalf("resume to step %d: %v", want, err)
		}
		got.Release()
		if got.Step != want || got.Created || got.WorkDir != res.WorkDir {
			t.Fatalf("Resolution = %+v, want step %d", got, want)
		}
		if len(msgs) != 1 || msgs[0] != MsgLoadingContext {
			t.Fatalf("progress = %q", msgs)
		}

		meta, err := m.Store().Load(res.ThreadID)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if meta.Step != want {
			t.Fatalf("stored step = %d, want %d", meta.Step, want)
		}
		if !meta.LastAccessAt.After(prev) {
			t.Fatalf("lastAccessAt %v did not advance past %v", meta.LastAccessAt, prev)
		}
		prev = meta.LastAccessAt
	}
}

func TestManager_ResumeRejections(t *testing.T) {
	m := newTestManager(t, time.Now, &fakeCloner{})
	res, err := m.Resolve(context.Background(), ResolveRequest{Repo: "example.com/org/proj"}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res.Release()
	metaPath := filepath.Join(m.Store().Dir(res.ThreadID), "meta.json")
	before, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}

	tests := []struct {
		name    string
		req     ResolveRequest
		kind    failure.Kind
		message string
	}{
		{"mismatched repo", ResolveRequest{ThreadID: res.ThreadID, Repo: "example.com/org/other"}, failure.KindConflict, MsgRepoMismatch},
		{"unknown thread", ResolveRequest{ThreadID: "99999999-9999-4999-8999-999999999999"}, failure.KindNotFound, MsgNotFound},
		{"malformed id", ResolveRequest{ThreadID: "../../etc/passwd"}, failure.KindValidation, MsgInvalidID},
		{"short id", ResolveRequest{ThreadID: "abc"}, failure.KindValidation, MsgInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msgs []string
			_, err := m.Resolve(context.Background(), tt.req, collect(&msgs))
			if !failure.Is(err, tt.kind) {
				t.Fatalf("Resolve() error = %v, want kind %s", err, tt.kind)
			}
			if failure.Message(err) != tt.message {
				t.Fatalf("message = %q, want %q", failure.Message(err), tt.message)
			}
			if len(msgs) != 0 {
				t.Fatalf("progress emitted on rejection: %q", msgs)
			}
		})
	}

	after, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("metadata changed by rejected requests:\nbefore %s\nafter  %s", before, after)
	}
	if m.Store().Locks().Held() != 0 {
		t.Fatalf("locks leaked: %d", m.Store().Locks().Held())
	}
}

func TestManager_ConcurrentResumesAreSerialized(t *testing.T) {
	m := newTestManager(t, time.Now, &fakeCloner{})
	res, err := m.Resolve(context.Background(), ResolveRequest{Repo: "example.com/org/proj"}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res.Release()

	const workers = 8
	steps := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := m.Resolve(context.Background(), ResolveRequest{ThreadID: res.ThreadID}, nil)
			if err != nil {
				t.Errorf("resume: %v", err)
				return
			}
			steps[i] = got.Step
			got.Release()
		}(i)
	}
	wg.Wait()

	sort.Ints(steps)
	for i, step := range steps {
		if step != i+2 {
			t.Fatalf("steps = %v, want 2..%d without duplicates", steps, workers+1)
		}
	}
}
