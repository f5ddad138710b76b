package supervisor

import "sync"

// keyedLock serializes lifecycle operations per process identity so a
// delayed restart re-spawn can never race a concurrent externally-triggered
// start for the same identity. Locks are created lazily and kept for the
// life of the supervisor; the identity space is small (one per site slot).
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLock) lock(id string) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}
