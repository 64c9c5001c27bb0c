package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/storage/storagetest"
)

func TestMemoryStoreConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) domain.KVStore {
		s, err := NewMemoryStore(WithShards(4))
		require.NoError(t, err)
		return s
	})
}

func TestMemoryStoreKeys(t *testing.T) {
	s, err := NewMemoryStore()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	for _, k := range []string{"user$_ref_by_email$b", "user$_ref_by_email$a", "user::1", "post::1"} {
		_, err := s.Set(ctx, k, []byte("x"), domain.WriteOptions{})
		require.NoError(t, err)
	}

	keys, err := s.Keys(ctx, "user$_ref_by_email$")
	require.NoError(t, err)
	assert.Equal(t, []string{"user$_ref_by_email$a", "user$_ref_by_email$b"}, keys)
	assert.Equal(t, 4, s.Len())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s, err := NewMemoryStore()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	value := []byte("abc")
	_, err = s.Set(ctx, "k", value, domain.WriteOptions{})
	require.NoError(t, err)
	value[0] = 'z'

	got, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'z'
	again, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestSnapshotRoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "odm.godb")
	ctx := context.Background()

	s, err := NewMemoryStore(WithSnapshotFile(file))
	require.NoError(t, err)
	big := bytes.Repeat([]byte("compressible "), 200)
	casA, err := s.Set(ctx, "a", big, domain.WriteOptions{})
	require.NoError(t, err)
	_, err = s.Set(ctx, "b", []byte("small"), domain.WriteOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(big)), "snapshot should be compressed")

	reloaded, err := NewMemoryStore(WithSnapshotFile(file))
	require.NoError(t, err)
	defer reloaded.Close()

	value, cas, err := reloaded.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, big, value)
	assert.Equal(t, casA, cas)

	// tokens keep increasing across a reload
	next, err := reloaded.Set(ctx, "c", []byte("new"), domain.WriteOptions{})
	require.NoError(t, err)
	assert.Greater(t, uint64(next), uint64(casA))
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	s, err := NewMemoryStore(WithSnapshotFile(filepath.Join(t.TempDir(), "absent.godb")))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 0, s.Len())
}

func TestLoadSnapshotBadHeader(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.godb")
	require.NoError(t, os.WriteFile(file, []byte("NOPE0000000000"), 0600))

	_, err := NewMemoryStore(WithSnapshotFile(file))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid file header")
}

func TestBackgroundSave(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bg.godb")
	s, err := NewMemoryStore(WithSnapshotFile(file), WithBackgroundSave(20*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Set(context.Background(), "k", []byte("v"), domain.WriteOptions{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(file)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, flagCompressed, 1234))

	header, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, flagCompressed, header.Flags)
	assert.Equal(t, uint32(1234), header.RawSize)
}
