// Package syncutil holds the keyed locks that serialize read-modify-write
// cycles on community state: reporter stats keyed by account ID and report
// tallies keyed by report ID.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// ShardedMutex is a fixed-size pool of mutexes keyed by string. Memory stays
// bounded no matter how many distinct keys are locked, at the cost of
// occasional false sharing between keys that hash to the same shard.
type ShardedMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%256]
}
