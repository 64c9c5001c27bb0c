// Package registry holds the models registered on a connection together
// with their index specs, resolved once per registration.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/keys"
	"github.com/adfharrison1/go-odm/pkg/schema"
)

// Entry is an immutable snapshot of one registered model
type Entry struct {
	Name    string
	Schema  *schema.Schema
	specs   []domain.IndexSpec
	byIndex map[string]domain.IndexSpec
}

// Specs returns a copy of the model's index specs in schema order
func (e *Entry) Specs() []domain.IndexSpec {
	out := make([]domain.IndexSpec, len(e.specs))
	copy(out, e.specs)
	return out
}

// Spec returns the spec registered under an index name
func (e *Entry) Spec(index string) (domain.IndexSpec, bool) {
	spec, ok := e.byIndex[index]
	return spec, ok
}

// Registry maps model names to entries. It is created on connect and
// torn down on disconnect.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Entry
	closed bool
}

func New() *Registry {
	return &Registry{
		models: make(map[string]*Entry),
	}
}

// Register validates the schema, resolves its specs and stores the
// entry, replacing any previous registration under the same name.
func (r *Registry) Register(name string, s *schema.Schema) (*Entry, error) {
	if !keys.ValidName(name) {
		return nil, fmt.Errorf("%w: invalid model name %q", domain.ErrInvalidSchema, name)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: model %s has no schema", domain.ErrInvalidSchema, name)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("model %s: %w", name, err)
	}

	specs := schema.ResolveSpecs(s)
	entry := &Entry{
		Name:    name,
		Schema:  s,
		specs:   specs,
		byIndex: make(map[string]domain.IndexSpec, len(specs)),
	}
	for _, spec := range specs {
		entry.byIndex[spec.IndexName] = spec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, domain.ErrClosed
	}
	r.models[name] = entry
	return entry, nil
}

// Lookup returns the entry of a registered model
func (r *Registry) Lookup(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, domain.ErrClosed
	}
	entry, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownModel, name)
	}
	return entry, nil
}

// Spec resolves the spec of a model index
func (r *Registry) Spec(model, index string) (domain.IndexSpec, error) {
	entry, err := r.Lookup(model)
	if err != nil {
		return domain.IndexSpec{}, err
	}
	spec, ok := entry.Spec(index)
	if !ok {
		return domain.IndexSpec{}, fmt.Errorf("%w: %s.%s", domain.ErrUnknownIndex, model, index)
	}
	return spec, nil
}

// KeyField returns the field holding the primary key of a model.
// Unregistered models fall back to the default key field so refs to
// models registered later still resolve.
func (r *Registry) KeyField(model string) string {
	entry, err := r.Lookup(model)
	if err != nil {
		return schema.DefaultKeyField
	}
	return entry.Schema.KeyField()
}

// Names returns the registered model names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close drops every registration; later calls fail with ErrClosed
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = make(map[string]*Entry)
	r.closed = true
}
