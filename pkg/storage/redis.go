package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adfharrison1/go-odm/pkg/domain"
)

const (
	redisValueField = "v"
	redisCASField   = "c"
	redisSeqKey     = "__odm_cas_seq"
)

// NewRedisClient connects to a full redis:// URL or a plain host:port
// address and pings it.
func NewRedisClient(ctx context.Context, url, password string, db int) (*redis.Client, error) {
	var rdb *redis.Client
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		opt, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		rdb = redis.NewClient(opt)
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     url,
			Password: password,
			DB:       db,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// RedisStore keeps each entry in a hash {v: value, c: cas}. Conditional
// writes run under WATCH so a concurrent writer aborts the transaction.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore uses client; keys are stored under namespace
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) key(key string) string {
	return s.namespace + key
}

func (s *RedisStore) nextCAS(ctx context.Context) (domain.CAS, error) {
	n, err := s.client.Incr(ctx, s.namespace+redisSeqKey).Uint64()
	return domain.CAS(n), err
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, domain.CAS, error) {
	if err := checkContext(ctx, "get", key); err != nil {
		return nil, 0, err
	}
	vals, err := s.client.HMGet(ctx, s.key(key), redisValueField, redisCASField).Result()
	if err != nil {
		return nil, 0, unavailable("get", key, err)
	}
	value, cas, ok, err := parseRedisEntry(vals)
	if err != nil {
		return nil, 0, unavailable("get", key, err)
	}
	if !ok {
		return nil, 0, domain.ErrKeyNotFound
	}
	return value, cas, nil
}

func parseRedisEntry(vals []interface{}) ([]byte, domain.CAS, bool, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, 0, false, nil
	}
	v, ok := vals[0].(string)
	if !ok {
		return nil, 0, false, fmt.Errorf("unexpected value type %T", vals[0])
	}
	c, ok := vals[1].(string)
	if !ok {
		return nil, 0, false, fmt.Errorf("unexpected cas type %T", vals[1])
	}
	cas, err := strconv.ParseUint(c, 10, 64)
	if err != nil {
		return nil, 0, false, fmt.Errorf("corrupt cas %q: %w", c, err)
	}
	return []byte(v), domain.CAS(cas), true, nil
}

// currentCAS reads the token inside a WATCH transaction; 0 means absent
func currentCAS(ctx context.Context, tx *redis.Tx, key string) (domain.CAS, error) {
	c, err := tx.HGet(ctx, key, redisCASField).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return domain.CAS(c), err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, opts domain.WriteOptions) (domain.CAS, error) {
	if err := checkContext(ctx, "set", key); err != nil {
		return 0, err
	}
	next, err := s.nextCAS(ctx)
	if err != nil {
		return 0, unavailable("set", key, err)
	}
	k := s.key(key)

	if !opts.Insert && opts.CAS == 0 {
		err := s.client.HSet(ctx, k, redisValueField, value, redisCASField, uint64(next)).Err()
		return next, unavailable("set", key, err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := currentCAS(ctx, tx, k)
		if err != nil {
			return err
		}
		if opts.Insert && cur != 0 {
			return domain.ErrCASMismatch
		}
		if opts.CAS != 0 && cur != opts.CAS {
			return domain.ErrCASMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, redisValueField, value, redisCASField, uint64(next))
			return nil
		})
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, domain.ErrCASMismatch
	}
	if err != nil {
		return 0, unavailable("set", key, err)
	}
	return next, nil
}

func (s *RedisStore) Remove(ctx context.Context, key string, opts domain.WriteOptions) error {
	if err := checkContext(ctx, "remove", key); err != nil {
		return err
	}
	k := s.key(key)

	if opts.CAS == 0 {
		n, err := s.client.Del(ctx, k).Result()
		if err != nil {
			return unavailable("remove", key, err)
		}
		if n == 0 {
			return domain.ErrKeyNotFound
		}
		return nil
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := currentCAS(ctx, tx, k)
		if err != nil {
			return err
		}
		if cur == 0 {
			return domain.ErrKeyNotFound
		}
		if cur != opts.CAS {
			return domain.ErrCASMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrCASMismatch
	}
	return unavailable("remove", key, err)
}

// Keys lists the keys starting with prefix using SCAN
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := checkContext(ctx, "keys", prefix); err != nil {
		return nil, err
	}
	var out []string
	iter := s.client.Scan(ctx, 0, escapeGlob(s.key(prefix))+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := strings.TrimPrefix(iter.Val(), s.namespace)
		if k == redisSeqKey {
			continue
		}
		out = append(out, k)
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("keys", prefix, err)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
