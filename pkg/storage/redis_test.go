package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/storage/storagetest"
)

func TestRedisStoreConformance(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	storagetest.Run(t, func(t *testing.T) domain.KVStore {
		client, err := NewRedisClient(context.Background(), url, os.Getenv("REDIS_PASSWORD"), 0)
		require.NoError(t, err)
		// a fresh namespace per subtest keeps runs independent
		return NewRedisStore(client, fmt.Sprintf("odmtest:%d:", time.Now().UnixNano()))
	})
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
	assert.Equal(t, "user$_ref_by_email$", escapeGlob("user$_ref_by_email$"))
}

func TestParseRedisEntry(t *testing.T) {
	value, cas, ok, err := parseRedisEntry([]interface{}{"body", "42"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("body"), value)
	assert.Equal(t, domain.CAS(42), cas)

	_, _, ok, err = parseRedisEntry([]interface{}{nil, nil})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, _, err = parseRedisEntry([]interface{}{"body", "x"})
	assert.Error(t, err)
}
