// Package lock provides ScopeLocker implementations: per-key locks inside
// one process, and Redis leases shared by every instance.
package lock

import (
	"context"
	"fmt"
	"sync"
)

// numShards spreads the key table over independent mutexes so lookups of
// unrelated scopes do not contend.
const numShards = 64

// Local serialises holders of the same key within one process. Distinct
// keys never block each other, even when they share a shard.
type Local struct {
	shards [numShards]shard
}

type shard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a one-slot semaphore; refs counts holders and waiters so the
// entry can be dropped once nobody needs it.
type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewLocal() *Local {
	l := &Local{}
	for i := range l.shards {
		l.shards[i].locks = make(map[string]*keyLock)
	}
	return l
}

// Lock blocks until key is held or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	s := &l.shards[hashKey(key)%numShards]
	kl := s.acquire(key)

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		s.release(key)
		return nil, fmt.Errorf("lock %q: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			s.release(key)
		})
	}, nil
}

func (s *shard) acquire(key string) *keyLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	kl, ok := s.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		s.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (s *shard) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kl := s.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(s.locks, key)
	}
}

// held returns the number of keys with holders or waiters.
func (l *Local) held() int {
	n := 0
	for i := range l.shards {
		l.shards[i].mu.Lock()
		n += len(l.shards[i].locks)
		l.shards[i].mu.Unlock()
	}
	return n
}

// hashKey uses FNV-1a for an even spread of scope keys.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
