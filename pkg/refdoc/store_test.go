package refdoc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/storage"
)

func newStore(t *testing.T, opts ...Option) (*Store, *storage.MemoryStore) {
	t.Helper()
	kv, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return New(kv, opts...), kv
}

func TestOwnersAbsent(t *testing.T) {
	s, _ := newStore(t)
	owners, err := s.Owners(context.Background(), "user$_ref_by_email$nobody")
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestAddRemoveOwner(t *testing.T) {
	s, kv := newStore(t)
	ctx := context.Background()
	key := "user$_ref_by_email$joe@gmail.com"

	changed, err := s.AddOwner(ctx, key, "user::b", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.AddOwner(ctx, key, "user::a", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	// adding twice is a no-op
	changed, err = s.AddOwner(ctx, key, "user::a", nil)
	require.NoError(t, err)
	assert.False(t, changed)

	owners, err := s.Owners(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"user::a", "user::b"}, owners)

	changed, err = s.RemoveOwner(ctx, key, "user::a")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.RemoveOwner(ctx, key, "user::a")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.RemoveOwner(ctx, key, "user::b")
	require.NoError(t, err)
	assert.True(t, changed)

	// the last owner leaving deletes the document
	_, _, err = kv.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	changed, err = s.RemoveOwner(ctx, key, "user::b")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestAddOwnerCheck(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	key := "user$_ref_by_email$joe@gmail.com"
	unique := func(owners []string) error {
		if len(owners) > 0 {
			return domain.ErrUniqueViolation
		}
		return nil
	}

	_, err := s.AddOwner(ctx, key, "user::1", unique)
	require.NoError(t, err)

	// an existing owner passes without consulting the check
	changed, err := s.AddOwner(ctx, key, "user::1", unique)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.AddOwner(ctx, key, "user::2", unique)
	assert.ErrorIs(t, err, domain.ErrUniqueViolation)

	owners, err := s.Owners(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"user::1"}, owners)
}

func TestConcurrentAddsLoseNothing(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	key := "user$_ref_by_group$admins"

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AddOwner(ctx, key, fmt.Sprintf("user::%03d", i), nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	owners, err := s.Owners(ctx, key)
	require.NoError(t, err)
	assert.Len(t, owners, writers)
}

func TestConcurrentAddsAcrossStores(t *testing.T) {
	kv, err := storage.NewMemoryStore()
	require.NoError(t, err)
	defer kv.Close()
	ctx := context.Background()
	key := "user$_ref_by_group$admins"

	// separate Stores share no lock, so only CAS keeps them honest
	stores := []*Store{New(kv, WithRetries(100)), New(kv, WithRetries(100))}
	const perStore = 25
	var wg sync.WaitGroup
	for si, s := range stores {
		for i := 0; i < perStore; i++ {
			wg.Add(1)
			go func(s *Store, owner string) {
				defer wg.Done()
				_, err := s.AddOwner(ctx, key, owner, nil)
				assert.NoError(t, err)
			}(s, fmt.Sprintf("user::%d-%02d", si, i))
		}
	}
	wg.Wait()

	owners, err := stores[0].Owners(ctx, key)
	require.NoError(t, err)
	assert.Len(t, owners, 2*perStore)
}

// racingStore lets another writer slip in before the first n sets
type racingStore struct {
	domain.KVStore
	races atomic.Int32
	rival string
}

func (r *racingStore) Set(ctx context.Context, key string, value []byte, opts domain.WriteOptions) (domain.CAS, error) {
	if r.races.Add(-1) >= 0 {
		data, cas, err := r.KVStore.Get(ctx, key)
		if errors.Is(err, domain.ErrKeyNotFound) {
			data = nil
		}
		owners, _ := decodeOwners(data)
		raw, _ := encodeOwners(with(owners, r.rival))
		if _, err := r.KVStore.Set(ctx, key, raw, domain.WriteOptions{CAS: cas, Insert: cas == 0}); err != nil {
			return 0, err
		}
	}
	return r.KVStore.Set(ctx, key, value, opts)
}

func TestCASConflictIsRetried(t *testing.T) {
	mem, err := storage.NewMemoryStore()
	require.NoError(t, err)
	defer mem.Close()
	kv := &racingStore{KVStore: mem, rival: "user::rival"}
	kv.races.Store(2)
	s := New(kv)
	ctx := context.Background()
	key := "user$_ref_by_email$x"

	changed, err := s.AddOwner(ctx, key, "user::me", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	owners, err := s.Owners(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"user::me", "user::rival"}, owners)
}

type conflictingStore struct {
	domain.KVStore
}

func (conflictingStore) Set(context.Context, string, []byte, domain.WriteOptions) (domain.CAS, error) {
	return 0, domain.ErrCASMismatch
}

func TestCASConflictGivesUp(t *testing.T) {
	mem, err := storage.NewMemoryStore()
	require.NoError(t, err)
	defer mem.Close()
	s := New(conflictingStore{mem}, WithRetries(3))

	_, err = s.AddOwner(context.Background(), "k", "user::1", nil)
	var cme *domain.ConcurrentModificationError
	require.ErrorAs(t, err, &cme)
	assert.Equal(t, 3, cme.Attempts)
	assert.ErrorIs(t, err, domain.ErrCASMismatch)
}

type slowStore struct {
	domain.KVStore
}

func (slowStore) Get(ctx context.Context, key string) ([]byte, domain.CAS, error) {
	<-ctx.Done()
	return nil, 0, ctx.Err()
}

func TestOpTimeout(t *testing.T) {
	mem, err := storage.NewMemoryStore()
	require.NoError(t, err)
	defer mem.Close()
	s := New(slowStore{mem}, WithOpTimeout(20*time.Millisecond))

	_, err = s.Owners(context.Background(), "k")
	var sue *domain.StoreUnavailableError
	require.ErrorAs(t, err, &sue)
	assert.True(t, sue.Timeout())
	assert.Equal(t, "get", sue.Op)
}

func TestCorruptBody(t *testing.T) {
	s, kv := newStore(t)
	ctx := context.Background()
	_, err := kv.Set(ctx, "k", []byte{0xc1}, domain.WriteOptions{})
	require.NoError(t, err)

	_, err = s.Owners(ctx, "k")
	assert.Error(t, err)
	_, err = s.AddOwner(ctx, "k", "user::1", nil)
	assert.Error(t, err)
}

func TestNormalizeOwners(t *testing.T) {
	assert.Nil(t, normalizeOwners(nil))
	assert.Equal(t, []string{"a", "b", "c"}, normalizeOwners([]string{"c", "a", "b", "a", "c"}))
}
