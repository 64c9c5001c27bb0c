package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/adfharrison1/go-odm/pkg/domain"
)

// BreakerOption configures a BreakerStore
type BreakerOption func(*gobreaker.Settings)

// WithBreakerTimeout sets how long the breaker stays open before probing
func WithBreakerTimeout(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.Timeout = d
	}
}

// WithBreakerTrip sets the consecutive failure count that opens the breaker
func WithBreakerTrip(failures uint32) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		}
	}
}

// BreakerStore guards a backend with a circuit breaker. Only transport
// failures count against it; missing keys and CAS conflicts are normal
// answers. While open every call fails fast with StoreUnavailableError.
type BreakerStore struct {
	next    domain.KVStore
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps next
func NewBreakerStore(next domain.KVStore, log *slog.Logger, options ...BreakerOption) *BreakerStore {
	if log == nil {
		log = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "kvstore",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrKeyNotFound) ||
				errors.Is(err, domain.ErrCASMismatch) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
	for _, option := range options {
		option(&settings)
	}
	return &BreakerStore{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// State reports the breaker state
func (s *BreakerStore) State() gobreaker.State {
	return s.breaker.State()
}

func (s *BreakerStore) rejected(op, key string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.StoreUnavailableError{Op: op, Key: key, Err: err}
	}
	return err
}

type getResult struct {
	value []byte
	cas   domain.CAS
}

func (s *BreakerStore) Get(ctx context.Context, key string) ([]byte, domain.CAS, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		value, cas, err := s.next.Get(ctx, key)
		return getResult{value: value, cas: cas}, err
	})
	if err != nil {
		return nil, 0, s.rejected("get", key, err)
	}
	r := res.(getResult)
	return r.value, r.cas, nil
}

func (s *BreakerStore) Set(ctx context.Context, key string, value []byte, opts domain.WriteOptions) (domain.CAS, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.next.Set(ctx, key, value, opts)
	})
	if err != nil {
		return 0, s.rejected("set", key, err)
	}
	return res.(domain.CAS), nil
}

func (s *BreakerStore) Remove(ctx context.Context, key string, opts domain.WriteOptions) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.next.Remove(ctx, key, opts)
	})
	return s.rejected("remove", key, err)
}

// Keys forwards to the wrapped store when it can scan
func (s *BreakerStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	scanner, ok := s.next.(domain.Scanner)
	if !ok {
		return nil, domain.ErrScanUnsupported
	}
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return scanner.Keys(ctx, prefix)
	})
	if err != nil {
		return nil, s.rejected("keys", prefix, err)
	}
	return res.([]string), nil
}

func (s *BreakerStore) Close() error {
	return s.next.Close()
}
