package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a primary document does not exist.
	// Lookups never return it; "no match" is an empty result.
	ErrNotFound = errors.New("odm: document not found")

	ErrKeyNotFound = errors.New("odm: key not found")
	ErrCASMismatch = errors.New("odm: cas mismatch")

	ErrUnencodableValue = errors.New("odm: value cannot be indexed")
	ErrUnknownModel     = errors.New("odm: unknown model")
	ErrUnknownIndex     = errors.New("odm: unknown index")
	ErrInvalidSchema    = errors.New("odm: invalid schema")
	ErrMissingKey       = errors.New("odm: document has no key")
	ErrUniqueViolation  = errors.New("odm: unique index violation")
	ErrClosed           = errors.New("odm: not connected")
	ErrScanUnsupported  = errors.New("odm: store cannot list keys")
)

// ConcurrentModificationError is returned when a reference document kept
// changing underneath a read-modify-write cycle for the whole retry budget.
type ConcurrentModificationError struct {
	Key      string
	Attempts int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("odm: concurrent modification of %q after %d attempts", e.Key, e.Attempts)
}

func (e *ConcurrentModificationError) Unwrap() error { return ErrCASMismatch }

// StoreUnavailableError wraps a transport or timeout failure of the
// underlying store.
type StoreUnavailableError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("odm: store unavailable during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("odm: store unavailable during %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry
func (e *StoreUnavailableError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// PartialSyncFailure is returned when some reference document mutations
// of a synchronize call failed. Succeeded specs need no retry.
type PartialSyncFailure struct {
	Model     string
	OwnerKey  string
	Succeeded []IndexSpec
	Failed    []SyncFailure
}

func (e *PartialSyncFailure) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s %s=%q: %v", f.Op, f.Spec.IndexName, f.Value, f.Err))
	}
	return fmt.Sprintf("odm: %d index mutation(s) failed for %s %q: %s",
		len(e.Failed), e.Model, e.OwnerKey, strings.Join(parts, "; "))
}

func (e *PartialSyncFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// FailedSpecs returns the distinct specs that need a retry
func (e *PartialSyncFailure) FailedSpecs() []IndexSpec {
	seen := make(map[string]bool)
	var specs []IndexSpec
	for _, f := range e.Failed {
		if seen[f.Spec.FieldPath] {
			continue
		}
		seen[f.Spec.FieldPath] = true
		specs = append(specs, f.Spec)
	}
	return specs
}

// IsRetryable reports whether err is worth retrying as-is
func IsRetryable(err error) bool {
	var cme *ConcurrentModificationError
	if errors.As(err, &cme) {
		return true
	}
	var sue *StoreUnavailableError
	return errors.As(err, &sue)
}
