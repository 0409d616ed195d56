// Package keylock provides per-key mutual exclusion backed by a fixed set of
// striped mutexes. Two keys may share a stripe; a key always maps to the
// same one.
package keylock

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 64

// Striped hands out mutexes keyed by string.
type Striped struct {
	stripes []sync.Mutex
}

// New returns a Striped with n stripes (64 when n <= 0).
func New(n int) *Striped {
	if n <= 0 {
		n = defaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the mutex for key and returns its release function.
func (s *Striped) Lock(key string) (unlock func()) {
	mu := &s.stripes[s.index(key)]
	mu.Lock()
	return mu.Unlock
}

// Do runs fn while holding the mutex for key.
func (s *Striped) Do(key string, fn func()) {
	unlock := s.Lock(key)
	defer unlock()
	fn()
}

func (s *Striped) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.stripes)))
}
