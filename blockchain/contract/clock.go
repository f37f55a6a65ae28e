package contract

import (
	"sync"
	"time"
)

// Clock hands out strictly increasing millisecond timestamps. When wall time
// stalls or steps backwards it keeps counting from the last issued value.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewClock creates a clock over the given time source.
func NewClock(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Observe raises the floor to ts, used when resuming from persisted state.
func (c *Clock) Observe(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts > c.last {
		c.last = ts
	}
}

// Next returns the next timestamp.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}

type keyLock struct {
	sync.Mutex
	refs int
}

// keyedMutex serializes work per key and drops idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires the lock for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
