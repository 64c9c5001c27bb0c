// Package storage provides the key-value backends the ODM runs on. Every
// backend implements domain.KVStore: primary-key get, set and remove
// with a compare-and-swap token threaded through reads and writes.
package storage

import (
	"context"
	"errors"

	"github.com/adfharrison1/go-odm/pkg/domain"
)

// unavailable wraps a backend failure unless it is one of the port's
// sentinels, which callers inspect with errors.Is.
func unavailable(op, key string, err error) error {
	if err == nil || errors.Is(err, domain.ErrKeyNotFound) || errors.Is(err, domain.ErrCASMismatch) {
		return err
	}
	var sue *domain.StoreUnavailableError
	if errors.As(err, &sue) {
		return err
	}
	return &domain.StoreUnavailableError{Op: op, Key: key, Err: err}
}

// checkContext fails fast when the caller already gave up
func checkContext(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return &domain.StoreUnavailableError{Op: op, Key: key, Err: err}
	}
	return nil
}

// prefixUpperBound returns the smallest key greater than every key
// starting with prefix, or nil when no such key exists.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
