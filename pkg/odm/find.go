package odm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/indexing"
)

// Finder looks documents up by one index
type Finder func(ctx context.Context, value interface{}) ([]domain.Document, error)

// FindBy returns the documents whose index holds value, in key order.
// Keys whose document is gone or no longer holds value are skipped.
func (m *Model) FindBy(ctx context.Context, index string, value interface{}) ([]domain.Document, error) {
	owners, err := m.client.lookup.FindBy(ctx, m.name, index, value)
	if err != nil {
		return nil, err
	}
	if len(owners) == 0 {
		return []domain.Document{}, nil
	}
	spec, refKey, err := m.refKeyOf(index, value)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(owners))
	for _, id := range owners {
		doc, err := m.hydrate(ctx, spec, refKey, id)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// FindOneBy returns the first live document whose index holds value
func (m *Model) FindOneBy(ctx context.Context, index string, value interface{}) (domain.Document, bool, error) {
	owners, err := m.client.lookup.FindBy(ctx, m.name, index, value)
	if err != nil || len(owners) == 0 {
		return nil, false, err
	}
	spec, refKey, err := m.refKeyOf(index, value)
	if err != nil {
		return nil, false, err
	}
	for _, id := range owners {
		doc, err := m.hydrate(ctx, spec, refKey, id)
		if err != nil {
			return nil, false, err
		}
		if doc != nil {
			return doc, true, nil
		}
	}
	return nil, false, nil
}

func (m *Model) refKeyOf(index string, value interface{}) (domain.IndexSpec, string, error) {
	spec, err := m.client.reg.Spec(m.name, index)
	if err != nil {
		return spec, "", err
	}
	v, _, err := indexing.NormalizeValue(spec, value, m.client.reg.KeyField)
	if err != nil {
		return spec, "", err
	}
	return spec, m.client.keys.RefKey(m.name, index, v), nil
}

// hydrate loads an owner listed under refKey; nil when the owner is gone
// or its document has moved to other values
func (m *Model) hydrate(ctx context.Context, spec domain.IndexSpec, refKey, id string) (domain.Document, error) {
	doc, err := m.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		m.client.log.Warn("reference document lists a missing document",
			"model", m.name, "index", spec.IndexName, "id", id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !m.holds(doc, spec, refKey) {
		m.client.log.Warn("reference document lists a document that no longer holds the value",
			"model", m.name, "index", spec.IndexName, "id", id)
		return nil, nil
	}
	return doc, nil
}

// Finders returns one finder per index, named FindBy<IndexName>
func (m *Model) Finders() (map[string]Finder, error) {
	specs, err := m.Indexes()
	if err != nil {
		return nil, err
	}
	finders := make(map[string]Finder, len(specs))
	for _, spec := range specs {
		index := spec.IndexName
		finders[FinderName(index)] = func(ctx context.Context, value interface{}) ([]domain.Document, error) {
			return m.FindBy(ctx, index, value)
		}
	}
	return finders, nil
}

// Find runs the finder called name, e.g. "FindByEmail"
func (m *Model) Find(ctx context.Context, name string, value interface{}) ([]domain.Document, error) {
	finders, err := m.Finders()
	if err != nil {
		return nil, err
	}
	f, ok := finders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no finder %s", domain.ErrUnknownIndex, m.name, name)
	}
	return f(ctx, value)
}

// FinderName maps an index name to its finder name: "email" becomes
// "FindByEmail", "user_name" becomes "FindByUserName".
func FinderName(index string) string {
	var b strings.Builder
	b.WriteString("FindBy")
	upper := true
	for _, r := range index {
		if r == '_' || r == '-' || r == '.' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
