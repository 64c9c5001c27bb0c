// Package storagetest holds the behaviour every domain.KVStore backend
// must show, runnable against any implementation.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store; the suite closes it
type Factory func(t *testing.T) domain.KVStore

// Run executes the conformance suite against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("SetGet", func(t *testing.T) { testSetGet(t, newStore(t)) })
	t.Run("Insert", func(t *testing.T) { testInsert(t, newStore(t)) })
	t.Run("ConditionalSet", func(t *testing.T) { testConditionalSet(t, newStore(t)) })
	t.Run("Remove", func(t *testing.T) { testRemove(t, newStore(t)) })
	t.Run("ConditionalRemove", func(t *testing.T) { testConditionalRemove(t, newStore(t)) })
	t.Run("CancelledContext", func(t *testing.T) { testCancelledContext(t, newStore(t)) })
	t.Run("ConcurrentInsert", func(t *testing.T) { testConcurrentInsert(t, newStore(t)) })
}

func testGetMissing(t *testing.T, s domain.KVStore) {
	defer s.Close()
	_, _, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func testSetGet(t *testing.T, s domain.KVStore) {
	defer s.Close()
	ctx := context.Background()

	cas1, err := s.Set(ctx, "k", []byte("v1"), domain.WriteOptions{})
	require.NoError(t, err)
	assert.NotZero(t, cas1)

	value, cas, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
	assert.Equal(t, cas1, cas)

	cas2, err := s.Set(ctx, "k", []byte("v2"), domain.WriteOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, cas1, cas2)

	value, _, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
}

func testInsert(t *testing.T, s domain.KVStore) {
	defer s.Close()
	ctx := context.Background()

	_, err := s.Set(ctx, "k", []byte("first"), domain.WriteOptions{Insert: true})
	require.NoError(t, err)

	_, err = s.Set(ctx, "k", []byte("second"), domain.WriteOptions{Insert: true})
	assert.ErrorIs(t, err, domain.ErrCASMismatch)

	value, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), value)
}

func testConditionalSet(t *testing.T, s domain.KVStore) {
	defer s.Close()
	ctx := context.Background()

	cas, err := s.Set(ctx, "k", []byte("v1"), domain.WriteOptions{})
	require.NoError(t, err)

	next, err := s.Set(ctx, "k", []byte("v2"), domain.WriteOptions{CAS: cas})
	require.NoError(t, err)

	// the old token is stale now
	_, err = s.Set(ctx, "k", []byte("v3"), domain.WriteOptions{CAS: cas})
	assert.ErrorIs(t, err, domain.ErrCASMismatch)

	value, current, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
	assert.Equal(t, next, current)

	_, err = s.Set(ctx, "absent", []byte("x"), domain.WriteOptions{CAS: cas})
	assert.ErrorIs(t, err, domain.ErrCASMismatch)
}

func testRemove(t *testing.T, s domain.KVStore) {
	defer s.Close()
	ctx := context.Background()

	_, err := s.Set(ctx, "k", []byte("v"), domain.WriteOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, "k", domain.WriteOptions{}))

	_, _, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	err = s.Remove(ctx, "k", domain.WriteOptions{})
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func testConditionalRemove(t *testing.T, s domain.KVStore) {
	defer s.Close()
	ctx := context.Background()

	stale, err := s.Set(ctx, "k", []byte("v1"), domain.WriteOptions{})
	require.NoError(t, err)
	current, err := s.Set(ctx, "k", []byte("v2"), domain.WriteOptions{})
	require.NoError(t, err)

	err = s.Remove(ctx, "k", domain.WriteOptions{CAS: stale})
	assert.ErrorIs(t, err, domain.ErrCASMismatch)

	require.NoError(t, s.Remove(ctx, "k", domain.WriteOptions{CAS: current}))
	_, _, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func testCancelledContext(t *testing.T, s domain.KVStore) {
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Get(ctx, "k")
	require.Error(t, err)
	var sue *domain.StoreUnavailableError
	assert.True(t, errors.As(err, &sue), "expected StoreUnavailableError, got %v", err)
}

func testConcurrentInsert(t *testing.T, s domain.KVStore) {
	defer s.Close()
	ctx := context.Background()

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Set(ctx, "race", []byte(fmt.Sprintf("w%d", i)), domain.WriteOptions{Insert: true})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrCASMismatch)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
