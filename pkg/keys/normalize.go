package keys

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/adfharrison1/go-odm/pkg/domain"
)

// Normalize returns the canonical string form of an indexable scalar.
// Equal logical values map to the same string regardless of their Go
// type: int64(3), uint8(3) and float64(3) all become "3". ok is false
// for nil and the empty string, which are never indexed.
func Normalize(v interface{}) (s string, ok bool, err error) {
	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return t, t != "", nil
	case bool:
		return strconv.FormatBool(t), true, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true, nil
		}
		f, err := t.Float64()
		if err != nil {
			return "", false, fmt.Errorf("%w: %q", domain.ErrUnencodableValue, t.String())
		}
		return formatFloat(f)
	case time.Time:
		if t.IsZero() {
			return "", false, nil
		}
		return t.UTC().Format(time.RFC3339Nano), true, nil
	case *time.Time:
		if t == nil {
			return "", false, nil
		}
		return Normalize(*t)
	case domain.Keyed:
		k := t.Key()
		return k, k != "", nil
	case fmt.Stringer:
		s := t.String()
		return s, s != "", nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		s := rv.String()
		return s, s != "", nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), true, nil
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float())
	case reflect.Pointer:
		if rv.IsNil() {
			return "", false, nil
		}
		return Normalize(rv.Elem().Interface())
	}
	return "", false, fmt.Errorf("%w: %T", domain.ErrUnencodableValue, v)
}

func formatFloat(f float64) (string, bool, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false, fmt.Errorf("%w: %v", domain.ErrUnencodableValue, f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10), true, nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), true, nil
}
