package schema

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/adfharrison1/go-odm/pkg/domain"
)

const tagName = "odm"

var timeType = reflect.TypeOf(time.Time{})

// FromStruct derives a schema from a struct type's `odm` tags:
//
//	type User struct {
//		ID        string   `odm:"id,key,generate"`
//		Email     string   `odm:"email,index"`
//		Usernames []string `odm:"usernames,index,indexName=username"`
//		Foo       string   `odm:"foo,index,ref=Foo"`
//	}
//
// Untagged exported fields are included under their json name (or Go
// name); a tag of "-" skips the field.
func FromStruct(v interface{}) (*Schema, error) {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T is not a struct", domain.ErrInvalidSchema, v)
	}

	fields, err := structFields(t)
	if err != nil {
		return nil, err
	}
	s := New(fields...)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func structFields(t reflect.Type) ([]Field, error) {
	var fields []Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get(tagName)
		if tag == "-" {
			continue
		}

		f, err := parseTag(sf, tag)
		if err != nil {
			return nil, err
		}

		ft := sf.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Slice && ft.Elem().Kind() != reflect.Uint8 {
			f.Array = true
			ft = ft.Elem()
			for ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
		}

		if f.Ref != "" {
			f.Type = TypeRef
		} else {
			f.Type = kindType(ft)
			if f.Type == TypeObject {
				sub, err := structFields(ft)
				if err != nil {
					return nil, err
				}
				f.Fields = sub
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func parseTag(sf reflect.StructField, tag string) (Field, error) {
	f := Field{Name: jsonName(sf)}
	if tag == "" {
		return f, nil
	}

	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		f.Name = parts[0]
	}
	for _, opt := range parts[1:] {
		name, value, _ := strings.Cut(strings.TrimSpace(opt), "=")
		switch name {
		case "index":
			f.Index = true
		case "indexName":
			f.Index = true
			f.IndexName = value
		case "unique":
			f.Index = true
			f.Unique = true
		case "ref":
			f.Ref = value
		case "key":
			f.Key = true
		case "generate":
			f.Generate = true
		case "":
		default:
			return Field{}, fmt.Errorf("%w: unknown tag option %q on %s", domain.ErrInvalidSchema, name, sf.Name)
		}
	}
	return f, nil
}

func jsonName(sf reflect.StructField) string {
	if j := sf.Tag.Get("json"); j != "" {
		if name, _, _ := strings.Cut(j, ","); name != "" && name != "-" {
			return name
		}
	}
	return sf.Name
}

func kindType(t reflect.Type) FieldType {
	if t == timeType {
		return TypeDate
	}
	switch t.Kind() {
	case reflect.String:
		return TypeString
	case reflect.Bool:
		return TypeBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return TypeNumber
	case reflect.Struct:
		return TypeObject
	default:
		return TypeAny
	}
}
