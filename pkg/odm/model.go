package odm

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/indexing"
	"github.com/adfharrison1/go-odm/pkg/keys"
	"github.com/adfharrison1/go-odm/pkg/registry"
	"github.com/adfharrison1/go-odm/pkg/schema"
)

// Model is the handle of one registered model
type Model struct {
	client *Client
	name   string
}

func (m *Model) Name() string {
	return m.name
}

func (m *Model) entry() (*registry.Entry, error) {
	return m.client.reg.Lookup(m.name)
}

// Schema returns the schema the model is currently registered with
func (m *Model) Schema() (*schema.Schema, error) {
	entry, err := m.entry()
	if err != nil {
		return nil, err
	}
	return entry.Schema, nil
}

// Indexes returns the model's index specs in schema order
func (m *Model) Indexes() ([]domain.IndexSpec, error) {
	entry, err := m.entry()
	if err != nil {
		return nil, err
	}
	return entry.Specs(), nil
}

func (m *Model) docKey(s *schema.Schema, id string) string {
	return m.client.keys.DocKey(m.name, s.KeyPrefix+id+s.KeySuffix)
}

// Save writes doc and brings its reference documents up to date. A
// missing key is generated when the schema allows it. Embedded related
// documents are saved through their own model and replaced by their key.
// When only some index mutations fail, the saved document comes back
// together with a *domain.PartialSyncFailure.
func (m *Model) Save(ctx context.Context, doc domain.Document) (domain.Document, error) {
	entry, err := m.entry()
	if err != nil {
		return nil, err
	}
	s := entry.Schema
	doc = doc.Copy()
	if doc == nil {
		doc = domain.Document{}
	}

	kf := s.KeyField()
	id, ok, err := keys.Normalize(doc[kf])
	if err != nil {
		return nil, fmt.Errorf("%s key: %w", m.name, err)
	}
	if !ok {
		if !s.GeneratesKey() {
			return nil, fmt.Errorf("%w: %s requires %q", domain.ErrMissingKey, m.name, kf)
		}
		id = uuid.NewString()
	}
	doc[kf] = id

	if err := m.resolveRefs(ctx, s, doc); err != nil {
		return nil, err
	}

	specs := entry.Specs()
	current, err := indexing.ExtractValues(doc, specs, m.client.reg.KeyField)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", m.name, id, err)
	}
	data, err := m.client.codec.Encode(doc)
	if err != nil {
		return nil, err
	}

	// the write and its sync run under the document lock so that syncs of
	// one document apply in write order
	key := m.docKey(s, id)
	unlock := m.client.docLocks.Lock(key)
	defer unlock()

	var previous domain.IndexValues
	for attempt := 1; ; attempt++ {
		prevDoc, cas, err := m.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if previous, err = indexing.ExtractValues(prevDoc, specs, m.client.reg.KeyField); err != nil {
			// an unreadable old value cannot be unindexed; index the new one anyway
			m.client.log.Warn("previous document has unindexable values", "model", m.name, "id", id, "error", err)
			previous = nil
		}

		err = m.client.set(ctx, key, data, domain.WriteOptions{CAS: cas, Insert: cas == 0})
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrCASMismatch) {
			return nil, err
		}
		if attempt >= m.client.opts.casRetries {
			return nil, &domain.ConcurrentModificationError{Key: key, Attempts: attempt}
		}
	}

	if _, err := m.client.maintainer.Synchronize(ctx, m.name, id, previous, current, specs); err != nil {
		return doc, err
	}
	return doc, nil
}

// resolveRefs replaces ref values by the related document's key, saving
// embedded related documents first.
func (m *Model) resolveRefs(ctx context.Context, s *schema.Schema, doc domain.Document) error {
	for _, f := range s.Fields {
		if !f.IsRef() {
			continue
		}
		v, ok := doc[f.Name]
		if !ok || v == nil {
			continue
		}
		if list, isList := v.([]interface{}); isList {
			out := make([]interface{}, len(list))
			for i, e := range list {
				k, err := m.resolveRef(ctx, f, e)
				if err != nil {
					return err
				}
				out[i] = k
			}
			doc[f.Name] = out
			continue
		}
		k, err := m.resolveRef(ctx, f, v)
		if err != nil {
			return err
		}
		doc[f.Name] = k
	}
	return nil
}

func (m *Model) resolveRef(ctx context.Context, f schema.Field, v interface{}) (interface{}, error) {
	var embedded domain.Document
	switch t := v.(type) {
	case domain.RefValue:
		if k, ok := t.KeyValue(); ok {
			return k, nil
		}
		embedded, _ = t.Embedded()
	case domain.Document:
		embedded = t
	case map[string]interface{}:
		embedded = t
	case domain.Keyed:
		return t.Key(), nil
	default:
		return v, nil
	}
	if embedded == nil {
		return nil, nil
	}

	related, err := m.client.Registered(f.Ref)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", m.name, f.Name, err)
	}
	saved, err := related.Save(ctx, embedded)
	if err != nil && saved == nil {
		return nil, fmt.Errorf("%s.%s: saving embedded %s: %w", m.name, f.Name, f.Ref, err)
	}
	if err != nil {
		m.client.log.Warn("embedded document saved with index failures", "model", f.Ref, "error", err)
	}
	rs, err := related.Schema()
	if err != nil {
		return nil, err
	}
	return saved[rs.KeyField()], nil
}

// load reads and decodes a primary document; absent is (nil, 0, nil)
func (m *Model) load(ctx context.Context, key string) (domain.Document, domain.CAS, error) {
	data, cas, err := m.client.get(ctx, key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	doc, err := m.client.codec.Decode(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %q: %w", m.name, key, err)
	}
	return doc, cas, nil
}

// Get returns the document stored under id
func (m *Model) Get(ctx context.Context, id string) (domain.Document, error) {
	entry, err := m.entry()
	if err != nil {
		return nil, err
	}
	doc, _, err := m.load(ctx, m.docKey(entry.Schema, id))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s %q", domain.ErrNotFound, m.name, id)
	}
	return doc, nil
}

// Remove deletes the document stored under id and drops it from every
// reference document.
func (m *Model) Remove(ctx context.Context, id string) error {
	entry, err := m.entry()
	if err != nil {
		return err
	}
	specs := entry.Specs()
	key := m.docKey(entry.Schema, id)
	unlock := m.client.docLocks.Lock(key)
	defer unlock()

	var previous domain.IndexValues
	for attempt := 1; ; attempt++ {
		doc, cas, err := m.load(ctx, key)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("%w: %s %q", domain.ErrNotFound, m.name, id)
		}
		if previous, err = indexing.ExtractValues(doc, specs, m.client.reg.KeyField); err != nil {
			m.client.log.Warn("removed document has unindexable values", "model", m.name, "id", id, "error", err)
			previous = nil
		}

		err = m.client.remove(ctx, key, domain.WriteOptions{CAS: cas})
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s %q", domain.ErrNotFound, m.name, id)
		}
		if !errors.Is(err, domain.ErrCASMismatch) {
			return err
		}
		if attempt >= m.client.opts.casRetries {
			return &domain.ConcurrentModificationError{Key: key, Attempts: attempt}
		}
	}

	_, err = m.client.maintainer.Synchronize(ctx, m.name, id, previous, nil, specs)
	return err
}

// Reindex adds the given documents to the reference documents of every
// value they hold. It completes adds a partial sync failure left undone
// and is safe to run any number of times. Stale entries are dropped by
// Retry and Repair, not here.
func (m *Model) Reindex(ctx context.Context, ids ...string) (domain.SyncResult, error) {
	entry, err := m.entry()
	if err != nil {
		return domain.SyncResult{}, err
	}
	specs := entry.Specs()

	var (
		total domain.SyncResult
		errs  []error
	)
	for _, id := range ids {
		res, err := m.reindex(ctx, entry.Schema, specs, id)
		total.Added += res.Added
		total.Removed += res.Removed
		total.Failed = append(total.Failed, res.Failed...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	total.Succeeded = specs
	if len(total.Failed) > 0 {
		total.Succeeded = nil
	}
	return total, errors.Join(errs...)
}

func (m *Model) reindex(ctx context.Context, s *schema.Schema, specs []domain.IndexSpec, id string) (domain.SyncResult, error) {
	key := m.docKey(s, id)
	unlock := m.client.docLocks.Lock(key)
	defer unlock()

	doc, _, err := m.load(ctx, key)
	if err != nil {
		return domain.SyncResult{}, err
	}
	if doc == nil {
		return domain.SyncResult{}, fmt.Errorf("%w: %s %q", domain.ErrNotFound, m.name, id)
	}
	current, err := indexing.ExtractValues(doc, specs, m.client.reg.KeyField)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("%s %q: %w", m.name, id, err)
	}
	return m.client.maintainer.Synchronize(ctx, m.name, id, nil, current, specs)
}

// Retry re-applies the failed mutations of psf that still agree with the
// stored document: adds of values it holds, and removals of values it no
// longer holds or of a document that is gone. Mutations the document has
// since moved past are skipped.
func (m *Model) Retry(ctx context.Context, psf *domain.PartialSyncFailure) (domain.SyncResult, error) {
	if psf == nil || len(psf.Failed) == 0 {
		return domain.SyncResult{}, nil
	}
	if psf.Model != m.name {
		return domain.SyncResult{}, fmt.Errorf("odm: sync failure of %s cannot be retried on %s", psf.Model, m.name)
	}
	entry, err := m.entry()
	if err != nil {
		return domain.SyncResult{}, err
	}

	key := m.docKey(entry.Schema, psf.OwnerKey)
	unlock := m.client.docLocks.Lock(key)
	defer unlock()

	doc, _, err := m.load(ctx, key)
	if err != nil {
		return domain.SyncResult{}, err
	}
	var current domain.IndexValues
	if doc != nil {
		if current, err = indexing.ExtractValues(doc, entry.Specs(), m.client.reg.KeyField); err != nil {
			return domain.SyncResult{}, fmt.Errorf("%s %q: %w", m.name, psf.OwnerKey, err)
		}
	}

	var mutations []domain.SyncMutation
	for _, f := range psf.Failed {
		held := slices.Contains(current[f.Spec.FieldPath], f.Value)
		if (f.Op == domain.SyncOpAdd) == held {
			mutations = append(mutations, f.Mutation())
			continue
		}
		m.client.log.Debug("skipping outdated sync retry",
			"model", m.name, "id", psf.OwnerKey, "index", f.Spec.IndexName, "value", f.Value, "op", string(f.Op))
	}
	if len(mutations) == 0 {
		return domain.SyncResult{}, nil
	}
	return m.client.maintainer.Apply(ctx, m.name, psf.OwnerKey, mutations)
}

// RepairResult counts what Repair examined and dropped
type RepairResult struct {
	References int
	Owners     int
	Dropped    int
}

// Repair scans every reference document of index and drops owners whose
// document is gone or no longer holds the value. It needs a store that
// implements domain.Scanner.
func (m *Model) Repair(ctx context.Context, index string) (RepairResult, error) {
	var res RepairResult
	entry, err := m.entry()
	if err != nil {
		return res, err
	}
	spec, ok := entry.Spec(index)
	if !ok {
		return res, fmt.Errorf("%w: %s.%s", domain.ErrUnknownIndex, m.name, index)
	}
	refKeys, err := m.client.scan(ctx, m.client.keys.RefPrefix(m.name, index))
	if err != nil {
		return res, err
	}

	var errs []error
	for _, refKey := range refKeys {
		owners, err := m.client.refs.Owners(ctx, refKey)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.References++
		for _, owner := range owners {
			res.Owners++
			dropped, err := m.repairOwner(ctx, entry.Schema, spec, refKey, owner)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if dropped {
				res.Dropped++
			}
		}
	}
	m.client.log.Info("index repaired", "model", m.name, "index", index,
		"references", res.References, "owners", res.Owners, "dropped", res.Dropped)
	return res, errors.Join(errs...)
}

func (m *Model) repairOwner(ctx context.Context, s *schema.Schema, spec domain.IndexSpec, refKey, owner string) (bool, error) {
	key := m.docKey(s, owner)
	unlock := m.client.docLocks.Lock(key)
	defer unlock()

	doc, _, err := m.load(ctx, key)
	if err != nil {
		return false, err
	}
	if doc != nil && m.holds(doc, spec, refKey) {
		return false, nil
	}
	changed, err := m.client.refs.RemoveOwner(ctx, refKey, owner)
	if changed {
		m.client.log.Info("dropped stale owner", "model", m.name, "index", spec.IndexName, "id", owner)
	}
	return changed, err
}

// holds reports whether doc currently has a value of spec stored under refKey
func (m *Model) holds(doc domain.Document, spec domain.IndexSpec, refKey string) bool {
	values, err := indexing.ExtractValues(doc, []domain.IndexSpec{spec}, m.client.reg.KeyField)
	if err != nil {
		return false
	}
	for _, v := range values[spec.FieldPath] {
		if m.client.keys.RefKey(m.name, spec.IndexName, v) == refKey {
			return true
		}
	}
	return false
}
