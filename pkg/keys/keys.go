// Package keys builds the store keys of primary and reference documents.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

const (
	// DefaultMaxInlineValue is the longest value embedded verbatim in a
	// reference document key.
	DefaultMaxInlineValue = 200

	refSegment = "$_ref_by_"
	docSegment = "::"
	hashMark   = "#"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// ValidName reports whether s can be used as a model or index name
func ValidName(s string) bool {
	return nameRe.MatchString(s)
}

// Builder maps (model, index, value) to reference document keys and
// (model, id) to primary document keys. It holds no mutable state.
type Builder struct {
	prefix    string
	maxInline int
}

type Option func(*Builder)

// WithPrefix namespaces every key, e.g. per application sharing a bucket
func WithPrefix(prefix string) Option {
	return func(b *Builder) {
		b.prefix = prefix
	}
}

// WithMaxInlineValue sets the length above which values are hashed
func WithMaxInlineValue(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxInline = n
		}
	}
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{maxInline: DefaultMaxInlineValue}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RefKey returns the key of the reference document for value in the
// given model index. value must already be normalized.
func (b *Builder) RefKey(model, index, value string) string {
	return b.prefix + model + refSegment + index + "$" + b.encodeValue(value)
}

// RefPrefix returns the common prefix of every reference document key
// of one index.
func (b *Builder) RefPrefix(model, index string) string {
	return b.prefix + model + refSegment + index + "$"
}

// DocKey returns the key a primary document is stored under
func (b *Builder) DocKey(model, id string) string {
	return b.prefix + model + docSegment + id
}

// encodeValue keeps short values verbatim and replaces long ones by "#"
// and their sha256. Short values starting with "#" get a second "#", so
// they never collide with a hashed value.
func (b *Builder) encodeValue(value string) string {
	if len(value) <= b.maxInline {
		if strings.HasPrefix(value, hashMark) {
			return hashMark + value
		}
		return value
	}
	sum := sha256.Sum256([]byte(value))
	return hashMark + hex.EncodeToString(sum[:])
}
