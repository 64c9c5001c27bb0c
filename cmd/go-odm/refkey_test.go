package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRefKey(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRefKeyCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestRefKey(t *testing.T) {
	out, err := runRefKey(t, "User", "email", "joe@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "User$_ref_by_email$joe@gmail.com", out)
}

func TestRefKey_Prefix(t *testing.T) {
	out, err := runRefKey(t, "--prefix", "app:", "User", "username", "joe")
	require.NoError(t, err)
	assert.Equal(t, "app:User$_ref_by_username$joe", out)
}

func TestRefKey_HashesLongValues(t *testing.T) {
	out, err := runRefKey(t, "--max-inline", "4", "User", "email", "joe@gmail.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "User$_ref_by_email$#"))
}

func TestRefKey_InvalidName(t *testing.T) {
	_, err := runRefKey(t, "Us er", "email", "x")
	assert.Error(t, err)
}

func TestRefKey_ArgCount(t *testing.T) {
	_, err := runRefKey(t, "User", "email")
	assert.Error(t, err)
}
