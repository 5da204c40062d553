package review

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// keyedMutex serializes work per string key with bounded memory: entries
// are reference-counted and removed on the final unlock.
type keyedMutex struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	km := &keyedMutex{}
	for i := range km.shards {
		km.shards[i].locks = make(map[string]*lockEntry)
	}
	return km
}

func (km *keyedMutex) shard(key string) *lockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &km.shards[h.Sum32()%lockShards]
}

// Lock acquires the exclusive lock for key, blocking until available.
func (km *keyedMutex) Lock(key string) {
	s := km.shard(key)
	s.mu.Lock()
	e, ok := s.locks[key]
	if !ok {
		e = &lockEntry{}
		s.locks[key] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the lock for key.
func (km *keyedMutex) Unlock(key string) {
	s := km.shard(key)
	s.mu.Lock()
	e, ok := s.locks[key]
	if ok {
		e.refs--
		if e.refs == 0 {
			delete(s.locks, key)
		}
	}
	s.mu.Unlock()

	if ok {
		e.mu.Unlock()
	}
}
