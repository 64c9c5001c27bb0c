// Package odm is the model layer: it stores primary documents and keeps
// their reference documents current through the indexing package.
package odm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adfharrison1/go-odm/pkg/codec"
	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/indexing"
	"github.com/adfharrison1/go-odm/pkg/keylock"
	"github.com/adfharrison1/go-odm/pkg/keys"
	"github.com/adfharrison1/go-odm/pkg/logger"
	"github.com/adfharrison1/go-odm/pkg/refdoc"
	"github.com/adfharrison1/go-odm/pkg/registry"
	"github.com/adfharrison1/go-odm/pkg/schema"
)

const pingKey = "__odm_ping"

// Option configures a Client
type Option func(*options)

type options struct {
	keyPrefix         string
	maxInline         int
	opTimeout         time.Duration
	casRetries        int
	compressThreshold int
	log               *slog.Logger
}

// WithKeyPrefix namespaces every key the client writes
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.keyPrefix = prefix
	}
}

// WithMaxInlineValue sets the value length above which reference keys
// carry a hash instead of the value
func WithMaxInlineValue(n int) Option {
	return func(o *options) {
		o.maxInline = n
	}
}

// WithOpTimeout bounds each store round trip
func WithOpTimeout(d time.Duration) Option {
	return func(o *options) {
		o.opTimeout = d
	}
}

// WithCASRetries sets how often a conflicting read-modify-write is rerun
func WithCASRetries(n int) Option {
	return func(o *options) {
		o.casRetries = n
	}
}

// WithCompressThreshold sets the document size above which bodies are
// lz4-compressed
func WithCompressThreshold(n int) Option {
	return func(o *options) {
		o.compressThreshold = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// Client owns the store connection and the model registry. Everything
// below it shares the one connection.
type Client struct {
	kv         domain.KVStore
	reg        *registry.Registry
	keys       *keys.Builder
	refs       *refdoc.Store
	maintainer *indexing.Maintainer
	lookup     *indexing.Lookup
	codec      *codec.Codec
	docLocks   *keylock.Locker
	opts       options
	log        *slog.Logger

	mu     sync.RWMutex
	models map[string]*Model
	closed bool
}

// Connect checks that kv answers and builds a client on top of it
func Connect(ctx context.Context, kv domain.KVStore, opts ...Option) (*Client, error) {
	if kv == nil {
		return nil, errors.New("odm: nil store")
	}
	o := options{
		maxInline:         keys.DefaultMaxInlineValue,
		opTimeout:         refdoc.DefaultOpTimeout,
		casRetries:        refdoc.DefaultRetries,
		compressThreshold: codec.DefaultCompressThreshold,
		log:               logger.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		kv:       kv,
		reg:      registry.New(),
		keys:     keys.NewBuilder(keys.WithPrefix(o.keyPrefix), keys.WithMaxInlineValue(o.maxInline)),
		codec:    codec.New(codec.WithCompressThreshold(o.compressThreshold)),
		docLocks: keylock.New(),
		opts:     o,
		log:      o.log,
		models:   make(map[string]*Model),
	}
	c.refs = refdoc.New(kv,
		refdoc.WithRetries(o.casRetries),
		refdoc.WithOpTimeout(o.opTimeout),
		refdoc.WithLogger(o.log))
	c.maintainer = indexing.NewMaintainer(c.refs, c.keys, indexing.WithLogger(o.log))
	c.lookup = indexing.NewLookup(c.refs, c.keys, c.reg, indexing.WithLogger(o.log))

	if _, _, err := c.get(ctx, c.keys.DocKey("_", pingKey)); err != nil && !errors.Is(err, domain.ErrKeyNotFound) {
		return nil, fmt.Errorf("odm: connect: %w", err)
	}
	c.log.Info("connected", "key_prefix", o.keyPrefix)
	return c, nil
}

// Disconnect drops every model registration and closes the store
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.models = make(map[string]*Model)
	c.mu.Unlock()

	c.reg.Close()
	c.log.Info("disconnected")
	return c.kv.Close()
}

// Model registers s under name and returns its handle. Registering a
// name again replaces the schema and index specs.
func (c *Client) Model(name string, s *schema.Schema) (*Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, domain.ErrClosed
	}
	entry, err := c.reg.Register(name, s)
	if err != nil {
		return nil, err
	}
	m := &Model{client: c, name: name}
	c.models[name] = m
	c.log.Info("model registered", "model", name, "indexes", len(entry.Specs()))
	return m, nil
}

// Registered returns the handle of a registered model
func (c *Client) Registered(name string) (*Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, domain.ErrClosed
	}
	m, ok := c.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownModel, name)
	}
	return m, nil
}

// Models returns the registered model names, sorted
func (c *Client) Models() []string {
	return c.reg.Names()
}

// Store returns the underlying store
func (c *Client) Store() domain.KVStore {
	return c.kv
}

// Keys returns the key builder used for every key the client writes
func (c *Client) Keys() *keys.Builder {
	return c.keys
}

// call runs one primary document round trip under the op timeout
func (c *Client) call(ctx context.Context, op, key string, fn func(context.Context) error) error {
	if c.opts.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.opTimeout)
		defer cancel()
	}
	err := fn(ctx)
	if err == nil || errors.Is(err, domain.ErrKeyNotFound) || errors.Is(err, domain.ErrCASMismatch) ||
		errors.Is(err, domain.ErrScanUnsupported) {
		return err
	}
	var sue *domain.StoreUnavailableError
	if errors.As(err, &sue) {
		return err
	}
	return &domain.StoreUnavailableError{Op: op, Key: key, Err: err}
}

func (c *Client) get(ctx context.Context, key string) ([]byte, domain.CAS, error) {
	var (
		data []byte
		cas  domain.CAS
	)
	err := c.call(ctx, "get", key, func(ctx context.Context) error {
		var err error
		data, cas, err = c.kv.Get(ctx, key)
		return err
	})
	return data, cas, err
}

func (c *Client) set(ctx context.Context, key string, data []byte, opts domain.WriteOptions) error {
	return c.call(ctx, "set", key, func(ctx context.Context) error {
		_, err := c.kv.Set(ctx, key, data, opts)
		return err
	})
}

func (c *Client) remove(ctx context.Context, key string, opts domain.WriteOptions) error {
	return c.call(ctx, "remove", key, func(ctx context.Context) error {
		return c.kv.Remove(ctx, key, opts)
	})
}

// scan lists the keys under prefix; the store must be a domain.Scanner
func (c *Client) scan(ctx context.Context, prefix string) ([]string, error) {
	scanner, ok := c.kv.(domain.Scanner)
	if !ok {
		return nil, fmt.Errorf("%w: %T", domain.ErrScanUnsupported, c.kv)
	}
	var out []string
	err := c.call(ctx, "keys", prefix, func(ctx context.Context) error {
		var err error
		out, err = scanner.Keys(ctx, prefix)
		return err
	})
	return out, err
}
