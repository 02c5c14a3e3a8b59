package match

import "sync"

// pairLocks hands out one mutex per match so move submissions for the
// same pair cannot interleave, while different matches stay independent.
// Entries are refcounted and dropped when the last holder releases.
type pairLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newPairLocks() *pairLocks {
	return &pairLocks{entries: make(map[string]*lockEntry)}
}

// lock blocks until the pair mutex is held and returns the release.
func (l *pairLocks) lock(key string) func() {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}

// pairKey canonicalizes the two participant IDs so both sides of a
// match map to the same lock.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
