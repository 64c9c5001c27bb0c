package indexing

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/keys"
)

// KeyFieldFunc returns the key field of a model; embedded related
// documents are reduced to the value of that field.
type KeyFieldFunc func(model string) string

// NormalizeValue turns one value of a spec's field into its canonical
// string. Writes and lookups both go through here, so a ref given as an
// embedded document and the same ref given as a bare key meet on one
// reference document. ok is false when the value is not indexed.
func NormalizeValue(spec domain.IndexSpec, v interface{}, keyField KeyFieldFunc) (string, bool, error) {
	if !spec.IsRef {
		return keys.Normalize(v)
	}

	switch t := v.(type) {
	case domain.RefValue:
		if k, ok := t.KeyValue(); ok {
			return k, k != "", nil
		}
		if doc, ok := t.Embedded(); ok {
			return refKey(spec, doc, keyField)
		}
		return "", false, nil
	case *domain.RefValue:
		if t == nil {
			return "", false, nil
		}
		return NormalizeValue(spec, *t, keyField)
	case domain.Document:
		return refKey(spec, t, keyField)
	case map[string]interface{}:
		return refKey(spec, t, keyField)
	}
	return keys.Normalize(v)
}

func refKey(spec domain.IndexSpec, doc map[string]interface{}, keyField KeyFieldFunc) (string, bool, error) {
	field := "id"
	if keyField != nil {
		field = keyField(spec.RefModel)
	}
	k, ok := doc[field]
	if !ok {
		return "", false, fmt.Errorf("%w: embedded %s has no %q", domain.ErrMissingKey, spec.RefModel, field)
	}
	return keys.Normalize(k)
}

// ExtractValues collects the canonical values a document holds for each
// spec. Dotted paths descend into objects; arrays met on the way are
// indexed element by element. Values come back sorted and deduplicated.
func ExtractValues(doc domain.Document, specs []domain.IndexSpec, keyField KeyFieldFunc) (domain.IndexValues, error) {
	out := make(domain.IndexValues, len(specs))
	if doc == nil {
		return out, nil
	}
	for _, spec := range specs {
		var raw []interface{}
		collect(map[string]interface{}(doc), strings.Split(spec.FieldPath, "."), &raw)

		var values []string
		for _, v := range raw {
			elems, isList := elements(v)
			if isList && spec.Cardinality == domain.Single {
				return nil, fmt.Errorf("%w: %s holds a list but is not an array field", domain.ErrUnencodableValue, spec.FieldPath)
			}
			for _, e := range elems {
				s, ok, err := NormalizeValue(spec, e, keyField)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", spec.FieldPath, err)
				}
				if ok {
					values = append(values, s)
				}
			}
		}
		out[spec.FieldPath] = dedupe(values)
	}
	return out, nil
}

// collect appends every value found at path below v
func collect(v interface{}, path []string, out *[]interface{}) {
	if len(path) == 0 {
		*out = append(*out, v)
		return
	}
	switch t := v.(type) {
	case domain.Document:
		if next, ok := t[path[0]]; ok {
			collect(next, path[1:], out)
		}
	case map[string]interface{}:
		if next, ok := t[path[0]]; ok {
			collect(next, path[1:], out)
		}
	case []interface{}:
		for _, e := range t {
			collect(e, path, out)
		}
	case []map[string]interface{}:
		for _, e := range t {
			collect(e, path, out)
		}
	case []domain.Document:
		for _, e := range t {
			collect(e, path, out)
		}
	}
}

// elements spreads a list value into its elements. Byte slices, maps
// and ref values are single values.
func elements(v interface{}) ([]interface{}, bool) {
	switch v.(type) {
	case nil, []byte, domain.Document, map[string]interface{}, domain.RefValue:
		return []interface{}{v}, false
	case []interface{}:
		return v.([]interface{}), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []interface{}{v}, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	sort.Strings(values)
	out := values[:1]
	for _, v := range values[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// diff returns the sorted values of a that are not in b
func diff(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, v := range b {
		in[v] = struct{}{}
	}
	var out []string
	for _, v := range dedupe(append([]string(nil), a...)) {
		if _, ok := in[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
