package domain

import "context"

// CAS is the compare-and-swap token a store hands out with every read
// and write. Zero means "no token".
type CAS uint64

// WriteOptions makes a Set or Remove conditional
type WriteOptions struct {
	// CAS, when non-zero, requires the stored token to match
	CAS CAS
	// Insert requires the key to be absent (Set only)
	Insert bool
}

// KVStore is the primary-key-only store every backend implements.
// Get and Remove return ErrKeyNotFound for absent keys; conditional
// writes that lose a race return ErrCASMismatch.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, CAS, error)
	Set(ctx context.Context, key string, value []byte, opts WriteOptions) (CAS, error)
	Remove(ctx context.Context, key string, opts WriteOptions) error
	Close() error
}

// Scanner is implemented by stores that can list keys by prefix. Index
// repair needs it; everything else works on single keys.
type Scanner interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}
