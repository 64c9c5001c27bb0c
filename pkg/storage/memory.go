package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/adfharrison1/go-odm/pkg/domain"
)

const defaultShards = 32

type memEntry struct {
	value []byte
	cas   domain.CAS
}

type memShard struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

// MemoryStore is an in-process KVStore. Keys are spread over shards by
// xxhash so unrelated keys do not contend on one lock.
type MemoryStore struct {
	shards     []*memShard
	shardCount int
	lastCAS    atomic.Uint64
	dirty      atomic.Bool

	snapshotFile   string
	backgroundSave bool
	saveInterval   time.Duration
	backgroundWg   sync.WaitGroup
	stopChan       chan struct{}
	stopOnce       sync.Once
}

// NewMemoryStore creates an empty store, loading the snapshot file first
// when one is configured and exists.
func NewMemoryStore(options ...MemoryOption) (*MemoryStore, error) {
	s := &MemoryStore{
		shardCount:   defaultShards,
		saveInterval: 5 * time.Minute,
		stopChan:     make(chan struct{}),
	}
	for _, option := range options {
		option(s)
	}

	s.shards = make([]*memShard, s.shardCount)
	for i := range s.shards {
		s.shards[i] = &memShard{entries: make(map[string]memEntry)}
	}

	if s.snapshotFile != "" {
		if err := s.LoadSnapshot(s.snapshotFile); err != nil {
			return nil, err
		}
	}
	s.startBackgroundWorkers()
	return s, nil
}

func (s *MemoryStore) shard(key string) *memShard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

func (s *MemoryStore) nextCAS() domain.CAS {
	return domain.CAS(s.lastCAS.Add(1))
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, domain.CAS, error) {
	if err := checkContext(ctx, "get", key); err != nil {
		return nil, 0, err
	}
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.entries[key]
	if !ok {
		return nil, 0, domain.ErrKeyNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, e.cas, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, opts domain.WriteOptions) (domain.CAS, error) {
	if err := checkContext(ctx, "set", key); err != nil {
		return 0, err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, exists := sh.entries[key]
	if opts.Insert && exists {
		return 0, domain.ErrCASMismatch
	}
	if opts.CAS != 0 && (!exists || cur.cas != opts.CAS) {
		return 0, domain.ErrCASMismatch
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	cas := s.nextCAS()
	sh.entries[key] = memEntry{value: stored, cas: cas}
	s.dirty.Store(true)
	return cas, nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string, opts domain.WriteOptions) error {
	if err := checkContext(ctx, "remove", key); err != nil {
		return err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, exists := sh.entries[key]
	if !exists {
		return domain.ErrKeyNotFound
	}
	if opts.CAS != 0 && cur.cas != opts.CAS {
		return domain.ErrCASMismatch
	}
	delete(sh.entries, key)
	s.dirty.Store(true)
	return nil
}

// Keys lists the keys starting with prefix, sorted
func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := checkContext(ctx, "keys", prefix); err != nil {
		return nil, err
	}
	var out []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k := range sh.entries {
			if strings.HasPrefix(k, prefix) {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of stored keys
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Close stops the background saver and writes a final snapshot when a
// snapshot file is configured.
func (s *MemoryStore) Close() error {
	s.stopBackgroundWorkers()
	if s.snapshotFile != "" && s.dirty.Load() {
		return s.SaveSnapshot(s.snapshotFile)
	}
	return nil
}
