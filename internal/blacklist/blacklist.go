// Package blacklist tracks URLs already enqueued or visited, enforcing
// at-most-once processing per spec.md §4.3.
//
// Grounded on original_source/src/blacklist.c: a hashmap used as a hashset,
// guarded by a single mutex, with no removal.
package blacklist

import "sync"

// Blacklist is a protected set of canonical URLs.
type Blacklist struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New returns an empty Blacklist.
func New() *Blacklist {
	return &Blacklist{seen: make(map[string]struct{}, 128)}
}

// TryInsert inserts the canonical form of url and reports whether it was
// new. Once inserted, a URL is never dispatched again in this process.
func (b *Blacklist) TryInsert(canonical string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[canonical]; ok {
		return false
	}
	b.seen[canonical] = struct{}{}
	return true
}

// Size returns the number of distinct URLs ever inserted.
func (b *Blacklist) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seen)
}
