package schema

import "github.com/adfharrison1/go-odm/pkg/domain"

// ResolveSpecs walks the schema depth-first in declaration order and
// returns one spec per indexed field. Fields below an array inherit
// multi cardinality since each element is indexed on its own.
func ResolveSpecs(s *Schema) []domain.IndexSpec {
	var specs []domain.IndexSpec
	walk(s.Fields, "", false, &specs)
	return specs
}

func walk(fields []Field, prefix string, inArray bool, specs *[]domain.IndexSpec) {
	for _, f := range fields {
		path := prefix + f.Name
		multi := inArray || f.Array

		if f.Index {
			name := f.IndexName
			if name == "" {
				name = f.Name
			}
			spec := domain.IndexSpec{
				FieldPath: path,
				IndexName: name,
				IsRef:     f.IsRef(),
				RefModel:  f.Ref,
				Unique:    f.Unique,
			}
			if multi {
				spec.Cardinality = domain.Multi
			}
			*specs = append(*specs, spec)
		}

		if f.Type == TypeObject && !f.IsRef() && len(f.Fields) > 0 {
			walk(f.Fields, path+".", multi, specs)
		}
	}
}
