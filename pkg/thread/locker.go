package thread

import "sync"

// Locker hands out one mutex per thread id. Entries are dropped once no
// caller holds or waits for them, so the map only grows with live threads.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

// Lock blocks until the lock for id is held and returns its release
// function. Release must be called exactly once.
func (l *Locker) Lock(id string) func() {
	entry := l.acquire(id)
	entry.mu.Lock()
	return l.releaser(id, entry)
}

// TryLock takes the lock for id only if it is free.
func (l *Locker) TryLock(id string) (func(), bool) {
	entry := l.acquire(id)
	if !entry.mu.TryLock() {
		l.drop(id, entry)
		return nil, false
	}
	return l.releaser(id, entry), true
}

// Held reports how many thread ids currently have a holder or waiter.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Locker) acquire(id string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.refs++
	return entry
}

func (l *Locker) drop(id string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *Locker) releaser(id string, entry *lockEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.drop(id, entry)
		})
	}
}
