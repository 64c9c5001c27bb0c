package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/keylock"
)

const casHeaderSize = 8

// PebbleOption configures a PebbleStore
type PebbleOption func(*pebbleConfig)

type pebbleConfig struct {
	fs   vfs.FS
	sync bool
}

// WithPebbleFS runs pebble on the given filesystem, vfs.NewMem() in tests
func WithPebbleFS(fs vfs.FS) PebbleOption {
	return func(c *pebbleConfig) {
		c.fs = fs
	}
}

// WithPebbleSync fsyncs every write before it is acknowledged
func WithPebbleSync(enabled bool) PebbleOption {
	return func(c *pebbleConfig) {
		c.sync = enabled
	}
}

// PebbleStore keeps entries in an embedded pebble database. Pebble has
// no conditional writes, so each value carries its CAS token in an
// 8-byte header and writers of one key are serialized in-process.
type PebbleStore struct {
	db        *pebble.DB
	locks     *keylock.Locker
	lastCAS   atomic.Uint64
	writeOpts *pebble.WriteOptions
}

// OpenPebble opens (or creates) the pebble database in dir
func OpenPebble(dir string, options ...PebbleOption) (*PebbleStore, error) {
	cfg := &pebbleConfig{sync: true}
	for _, option := range options {
		option(cfg)
	}

	opts := &pebble.Options{}
	if cfg.fs != nil {
		opts.FS = cfg.fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dir, err)
	}

	s := &PebbleStore{
		db:        db,
		locks:     keylock.New(),
		writeOpts: pebble.NoSync,
	}
	if cfg.sync {
		s.writeOpts = pebble.Sync
	}
	// tokens handed out after a restart must not repeat older ones
	s.lastCAS.Store(uint64(time.Now().UnixNano()))
	return s, nil
}

func (s *PebbleStore) read(key string) ([]byte, domain.CAS, error) {
	raw, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, 0, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	defer closer.Close()

	if len(raw) < casHeaderSize {
		return nil, 0, fmt.Errorf("corrupt entry %q: %d bytes", key, len(raw))
	}
	cas := domain.CAS(binary.BigEndian.Uint64(raw[:casHeaderSize]))
	value := make([]byte, len(raw)-casHeaderSize)
	copy(value, raw[casHeaderSize:])
	return value, cas, nil
}

func (s *PebbleStore) Get(ctx context.Context, key string) ([]byte, domain.CAS, error) {
	if err := checkContext(ctx, "get", key); err != nil {
		return nil, 0, err
	}
	value, cas, err := s.read(key)
	return value, cas, unavailable("get", key, err)
}

func (s *PebbleStore) Set(ctx context.Context, key string, value []byte, opts domain.WriteOptions) (domain.CAS, error) {
	if err := checkContext(ctx, "set", key); err != nil {
		return 0, err
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	if opts.Insert || opts.CAS != 0 {
		_, cur, err := s.read(key)
		exists := err == nil
		if err != nil && !errors.Is(err, domain.ErrKeyNotFound) {
			return 0, unavailable("set", key, err)
		}
		if opts.Insert && exists {
			return 0, domain.ErrCASMismatch
		}
		if opts.CAS != 0 && (!exists || cur != opts.CAS) {
			return 0, domain.ErrCASMismatch
		}
	}

	cas := domain.CAS(s.lastCAS.Add(1))
	raw := make([]byte, casHeaderSize+len(value))
	binary.BigEndian.PutUint64(raw, uint64(cas))
	copy(raw[casHeaderSize:], value)
	if err := s.db.Set([]byte(key), raw, s.writeOpts); err != nil {
		return 0, unavailable("set", key, err)
	}
	return cas, nil
}

func (s *PebbleStore) Remove(ctx context.Context, key string, opts domain.WriteOptions) error {
	if err := checkContext(ctx, "remove", key); err != nil {
		return err
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	_, cur, err := s.read(key)
	if err != nil {
		return unavailable("remove", key, err)
	}
	if opts.CAS != 0 && cur != opts.CAS {
		return domain.ErrCASMismatch
	}
	return unavailable("remove", key, s.db.Delete([]byte(key), s.writeOpts))
}

// Keys lists the keys starting with prefix in byte order
func (s *PebbleStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := checkContext(ctx, "keys", prefix); err != nil {
		return nil, err
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, unavailable("keys", prefix, err)
	}
	defer iter.Close()

	var out []string
	for valid := iter.First(); valid; valid = iter.Next() {
		out = append(out, string(iter.Key()))
	}
	return out, unavailable("keys", prefix, iter.Error())
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
