package thread

import (
	"sync"
	"testing"
	"time"
)

func TestLocker_TryLock(t *testing.T) {
	l := NewLocker()

	release, ok := l.TryLock("a")
	if !ok {
		t.Fatal("TryLock(a) on free lock failed")
	}
	if _, ok := l.TryLock("a"); ok {
		t.Fatal("TryLock(a) succeeded while held")
	}
	other, ok := l.TryLock("b")
	if !ok {
		t.Fatal("TryLock(b) blocked by unrelated lock")
	}
	other()
	release()
	release()

	if l.Held() != 0 {
		t.Fatalf("Held() = %d, want 0", l.Held())
	}
}

func TestLocker_LockBlocksUntilRelease(t *testing.T) {
	l := NewLocker()
	release := l.Lock("a")

	var mu sync.Mutex
	acquired := false
	done := make(chan struct{})
	go func() {
		r := l.Lock("a")
		mu.Lock()
		acquired = true
		mu.Unlock()
		r()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	if acquired {
		mu.Unlock()
		t.Fatal("second Lock acquired while first was held")
	}
	mu.Unlock()

	release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second Lock never acquired")
	}
	if l.Held() != 0 {
		t.Fatalf("Held() = %d, want 0", l.Held())
	}
}
