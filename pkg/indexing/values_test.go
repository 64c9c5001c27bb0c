package indexing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-odm/pkg/domain"
)

var (
	emailSpec    = domain.IndexSpec{FieldPath: "email", IndexName: "email"}
	usernameSpec = domain.IndexSpec{FieldPath: "usernames", IndexName: "username", Cardinality: domain.Multi}
	fooSpec      = domain.IndexSpec{FieldPath: "foo", IndexName: "foo", IsRef: true, RefModel: "Foo"}
	citySpec     = domain.IndexSpec{FieldPath: "profile.city", IndexName: "city"}
	skuSpec      = domain.IndexSpec{FieldPath: "items.sku", IndexName: "sku", Cardinality: domain.Multi}
)

func keyFieldA(model string) string {
	if model == "Foo" {
		return "a"
	}
	return "id"
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name  string
		spec  domain.IndexSpec
		value interface{}
		want  string
		ok    bool
	}{
		{"plain string", emailSpec, "joe@gmail.com", "joe@gmail.com", true},
		{"integral float", emailSpec, float64(7), "7", true},
		{"nil", emailSpec, nil, "", false},
		{"empty", emailSpec, "", "", false},
		{"ref bare key", fooSpec, "k1", "k1", true},
		{"ref key value", fooSpec, domain.RefKey("k1"), "k1", true},
		{"ref embedded value", fooSpec, domain.RefEmbedded(domain.Document{"a": "k1"}), "k1", true},
		{"ref document", fooSpec, domain.Document{"a": "k1", "b": "x"}, "k1", true},
		{"ref map", fooSpec, map[string]interface{}{"a": "k1"}, "k1", true},
		{"ref zero value", fooSpec, domain.RefValue{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := NormalizeValue(tt.spec, tt.value, keyFieldA)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeValue_Errors(t *testing.T) {
	_, _, err := NormalizeValue(fooSpec, domain.Document{"b": "x"}, keyFieldA)
	assert.ErrorIs(t, err, domain.ErrMissingKey)

	_, _, err = NormalizeValue(emailSpec, map[string]interface{}{"x": 1}, keyFieldA)
	assert.ErrorIs(t, err, domain.ErrUnencodableValue)
}

func TestExtractValues(t *testing.T) {
	doc := domain.Document{
		"email":     "joe@gmail.com",
		"usernames": []interface{}{"joe", "jo", "joe", ""},
		"foo":       domain.Document{"a": "f1"},
		"profile":   map[string]interface{}{"city": "Leeds"},
		"items": []interface{}{
			map[string]interface{}{"sku": "s2"},
			map[string]interface{}{"sku": "s1"},
			map[string]interface{}{"name": "no sku"},
		},
	}

	values, err := ExtractValues(doc, []domain.IndexSpec{emailSpec, usernameSpec, fooSpec, citySpec, skuSpec}, keyFieldA)
	require.NoError(t, err)
	assert.Equal(t, []string{"joe@gmail.com"}, values["email"])
	assert.Equal(t, []string{"jo", "joe"}, values["usernames"])
	assert.Equal(t, []string{"f1"}, values["foo"])
	assert.Equal(t, []string{"Leeds"}, values["profile.city"])
	assert.Equal(t, []string{"s1", "s2"}, values["items.sku"])
}

func TestExtractValues_TypedSlices(t *testing.T) {
	values, err := ExtractValues(domain.Document{"usernames": []string{"b", "a"}}, []domain.IndexSpec{usernameSpec}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, values["usernames"])
}

func TestExtractValues_Missing(t *testing.T) {
	values, err := ExtractValues(domain.Document{"other": 1}, []domain.IndexSpec{emailSpec, citySpec}, nil)
	require.NoError(t, err)
	assert.Empty(t, values["email"])
	assert.Empty(t, values["profile.city"])

	values, err = ExtractValues(nil, []domain.IndexSpec{emailSpec}, nil)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestExtractValues_ListInSingleField(t *testing.T) {
	_, err := ExtractValues(domain.Document{"email": []string{"a", "b"}}, []domain.IndexSpec{emailSpec}, nil)
	assert.ErrorIs(t, err, domain.ErrUnencodableValue)
}

func TestDiff(t *testing.T) {
	assert.Equal(t, []string{"a", "c"}, diff([]string{"c", "a", "b"}, []string{"b"}))
	assert.Nil(t, diff(nil, []string{"a"}))
	assert.Equal(t, []string{"a"}, diff([]string{"a", "a"}, nil))
}
