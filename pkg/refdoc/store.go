// Package refdoc reads and mutates reference documents: store entries
// whose body is the set of primary keys holding one indexed value.
package refdoc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/keylock"
	"github.com/adfharrison1/go-odm/pkg/logger"
	"github.com/adfharrison1/go-odm/pkg/metrics"
)

const (
	DefaultRetries   = 5
	DefaultOpTimeout = 5 * time.Second
)

// CheckFunc may veto adding an owner given the current owner set
type CheckFunc func(owners []string) error

// Store wraps a KVStore with owner-set read-modify-write. Writers of the
// same key are serialized in-process and guarded by CAS across processes.
type Store struct {
	kv        domain.KVStore
	locks     *keylock.Locker
	retries   int
	opTimeout time.Duration
	log       *slog.Logger
}

type Option func(*Store)

// WithRetries sets how many read-modify-write cycles run before a CAS
// conflict is reported
func WithRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retries = n
		}
	}
}

// WithOpTimeout bounds every single store round trip
func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.opTimeout = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

func New(kv domain.KVStore, opts ...Option) *Store {
	s := &Store{
		kv:        kv,
		locks:     keylock.New(),
		retries:   DefaultRetries,
		opTimeout: DefaultOpTimeout,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Owners returns the sorted owner keys of a reference document; an
// absent document yields an empty set and no error.
func (s *Store) Owners(ctx context.Context, key string) ([]string, error) {
	data, _, err := s.get(ctx, key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeOwners(data)
}

// AddOwner adds owner to the document at key, creating it if needed.
// Adding a present owner changes nothing. check, when set, runs against
// the current owners before the owner is added.
func (s *Store) AddOwner(ctx context.Context, key, owner string, check CheckFunc) (bool, error) {
	changed, err := s.mutate(ctx, key, func(owners []string) ([]string, bool, error) {
		if contains(owners, owner) {
			return owners, false, nil
		}
		if check != nil {
			if err := check(owners); err != nil {
				return nil, false, err
			}
		}
		return with(owners, owner), true, nil
	})
	observe("add", changed, err)
	return changed, err
}

// RemoveOwner drops owner from the document at key and deletes the
// document once no owner is left. Removing an absent owner is a no-op.
func (s *Store) RemoveOwner(ctx context.Context, key, owner string) (bool, error) {
	changed, err := s.mutate(ctx, key, func(owners []string) ([]string, bool, error) {
		if !contains(owners, owner) {
			return owners, false, nil
		}
		return without(owners, owner), true, nil
	})
	observe("remove", changed, err)
	return changed, err
}

type mutation func(owners []string) (next []string, changed bool, err error)

func (s *Store) mutate(ctx context.Context, key string, fn mutation) (bool, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	for attempt := 1; attempt <= s.retries; attempt++ {
		data, cas, err := s.get(ctx, key)
		switch {
		case errors.Is(err, domain.ErrKeyNotFound):
			data, cas = nil, 0
		case err != nil:
			return false, err
		}

		owners, err := decodeOwners(data)
		if err != nil {
			return false, err
		}
		next, changed, err := fn(owners)
		if err != nil || !changed {
			return false, err
		}

		if len(next) == 0 {
			err = s.remove(ctx, key, cas)
		} else {
			err = s.put(ctx, key, next, cas)
		}
		if errors.Is(err, domain.ErrCASMismatch) || errors.Is(err, domain.ErrKeyNotFound) {
			metrics.RefDocCASRetries.Inc()
			s.log.Debug("reference document changed concurrently, retrying", "key", key, "attempt", attempt)
			continue
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}

	s.log.Warn("reference document kept changing, giving up", "key", key, "attempts", s.retries)
	return false, &domain.ConcurrentModificationError{Key: key, Attempts: s.retries}
}

func (s *Store) put(ctx context.Context, key string, owners []string, cas domain.CAS) error {
	data, err := encodeOwners(owners)
	if err != nil {
		return err
	}
	opts := domain.WriteOptions{CAS: cas, Insert: cas == 0}
	return s.call(ctx, "set", key, func(ctx context.Context) error {
		_, err := s.kv.Set(ctx, key, data, opts)
		return err
	})
}

func (s *Store) remove(ctx context.Context, key string, cas domain.CAS) error {
	return s.call(ctx, "remove", key, func(ctx context.Context) error {
		return s.kv.Remove(ctx, key, domain.WriteOptions{CAS: cas})
	})
}

func (s *Store) get(ctx context.Context, key string) ([]byte, domain.CAS, error) {
	var (
		data []byte
		cas  domain.CAS
	)
	err := s.call(ctx, "get", key, func(ctx context.Context) error {
		var err error
		data, cas, err = s.kv.Get(ctx, key)
		return err
	})
	return data, cas, err
}

// call runs one store round trip under the op timeout and turns
// transport failures into StoreUnavailableError.
func (s *Store) call(ctx context.Context, op, key string, fn func(context.Context) error) error {
	if s.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
	}
	err := fn(ctx)
	switch {
	case err == nil:
		metrics.StoreOps.WithLabelValues(op, "ok").Inc()
		return nil
	case errors.Is(err, domain.ErrKeyNotFound):
		metrics.StoreOps.WithLabelValues(op, "not_found").Inc()
		return err
	case errors.Is(err, domain.ErrCASMismatch):
		metrics.StoreOps.WithLabelValues(op, "conflict").Inc()
		return err
	}
	metrics.StoreOps.WithLabelValues(op, "error").Inc()
	var sue *domain.StoreUnavailableError
	if errors.As(err, &sue) {
		return err
	}
	if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		err = errors.Join(ctx.Err(), err)
	}
	return &domain.StoreUnavailableError{Op: op, Key: key, Err: err}
}

func observe(op string, changed bool, err error) {
	result := "noop"
	switch {
	case err != nil:
		result = "error"
	case changed:
		result = "ok"
	}
	metrics.RefDocMutations.WithLabelValues(op, result).Inc()
}
