package domain

// Document represents a primary document as the model layer sees it
type Document map[string]interface{}

// Copy returns a shallow copy of the document
func (d Document) Copy() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Keyed is implemented by values that know their own primary key
type Keyed interface {
	Key() string
}

type refKind uint8

const (
	refKindKey refKind = iota + 1
	refKindEmbedded
)

// RefValue is the value of a reference field: either the related
// document's key or the related document itself.
type RefValue struct {
	kind refKind
	key  string
	doc  Document
}

// RefKey builds a RefValue holding a bare key
func RefKey(key string) RefValue {
	return RefValue{kind: refKindKey, key: key}
}

// RefEmbedded builds a RefValue holding an embedded related document
func RefEmbedded(doc Document) RefValue {
	return RefValue{kind: refKindEmbedded, doc: doc}
}

// IsKey reports whether the value holds a bare key
func (r RefValue) IsKey() bool { return r.kind == refKindKey }

// IsEmbedded reports whether the value holds an embedded document
func (r RefValue) IsEmbedded() bool { return r.kind == refKindEmbedded }

// KeyValue returns the bare key, if any
func (r RefValue) KeyValue() (string, bool) {
	return r.key, r.kind == refKindKey
}

// Embedded returns the embedded document, if any
func (r RefValue) Embedded() (Document, bool) {
	return r.doc, r.kind == refKindEmbedded
}
