package storage

import "time"

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithShards sets the number of independently locked shards
func WithShards(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shardCount = n
		}
	}
}

// WithSnapshotFile makes SaveSnapshot and the background saver write to path
func WithSnapshotFile(path string) MemoryOption {
	return func(s *MemoryStore) {
		s.snapshotFile = path
	}
}

// WithBackgroundSave snapshots the store every interval until Close
func WithBackgroundSave(interval time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.backgroundSave = true
		s.saveInterval = interval
	}
}
