package storage

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// ErrClosed is returned by Set after Close
var ErrClosed = errors.New("storage is closed")

// defaultShards is the shard count used by NewMemory
const defaultShards = 64

// shard represents a single shard of data with its own lock
type shard struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// MemoryStorage implements Storage in memory
type MemoryStorage struct {
	shards    []shard
	shardMask uint64
	closed    atomic.Bool
}

// MemoryOption is a function that configures a MemoryStorage instance
type MemoryOption func(*MemoryStorage)

// WithShardCount sets the number of shards for the storage.
// The number is rounded up to the next power of 2.
func WithShardCount(count int) MemoryOption {
	return func(s *MemoryStorage) {
		if count > 0 {
			n := nextPowerOf2(count)
			s.shards = make([]shard, n)
			s.shardMask = uint64(n - 1)
		}
	}
}

// NewMemory creates a new in-memory storage instance with 64 shards by default
func NewMemory(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		shards:    make([]shard, defaultShards),
		shardMask: defaultShards - 1,
	}

	for _, opt := range opts {
		opt(s)
	}

	for i := range s.shards {
		s.shards[i].data = make(map[string][]byte)
	}

	return s
}

// ShardCount returns the number of shards
func (s *MemoryStorage) ShardCount() int {
	return len(s.shards)
}

// nextPowerOf2 returns the next power of 2 >= n
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// shardFor returns the shard owning key
func (s *MemoryStorage) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)&s.shardMask]
}

// Get retrieves a value by key
func (s *MemoryStorage) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	value, exists := sh.data[key]
	if !exists {
		return nil, false
	}
	return append([]byte{}, value...), true
}

// Set stores a value
func (s *MemoryStorage) Set(key string, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}

	data := append([]byte{}, value...)
	sh := s.shardFor(key)

	sh.mu.Lock()
	sh.data[key] = data
	sh.mu.Unlock()

	return nil
}

// KeyCount returns the total number of keys across shards
func (s *MemoryStorage) KeyCount() int64 {
	var count int64
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		count += int64(len(sh.data))
		sh.mu.RUnlock()
	}
	return count
}

// Close drops all data
func (s *MemoryStorage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.data = make(map[string][]byte)
		sh.mu.Unlock()
	}
	return nil
}
