// Package keylock serializes goroutines that work on the same key.
package keylock

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out one mutex per key; a key's mutex is dropped once no
// goroutine holds or waits for it.
type Locker struct {
	m *xsync.MapOf[string, *entry]
}

func New() *Locker {
	return &Locker{m: xsync.NewMapOf[string, *entry]()}
}

// Lock blocks until the caller owns key and returns the unlock function
func (l *Locker) Lock(key string) func() {
	e, _ := l.m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			old = &entry{}
		}
		old.refs++
		return old, false
	})
	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
				old.refs--
				return old, old.refs == 0
			})
		})
	}
}

// Len returns the number of keys currently locked or waited on
func (l *Locker) Len() int {
	return l.m.Size()
}
