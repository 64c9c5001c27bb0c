package registry

import (
	"testing"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userSchema() *schema.Schema {
	return schema.New(
		schema.Field{Name: "firstName", Type: schema.TypeString},
		schema.Field{Name: "email", Type: schema.TypeString, Index: true},
		schema.Field{Name: "usernames", Type: schema.TypeString, Array: true, Index: true, IndexName: "username"},
	)
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New()

	entry, err := r.Register("User", userSchema())
	require.NoError(t, err)
	assert.Len(t, entry.Specs(), 2)

	spec, err := r.Spec("User", "username")
	require.NoError(t, err)
	assert.Equal(t, "usernames", spec.FieldPath)
	assert.Equal(t, domain.Multi, spec.Cardinality)

	_, err = r.Spec("User", "nope")
	assert.ErrorIs(t, err, domain.ErrUnknownIndex)

	_, err = r.Lookup("Nope")
	assert.ErrorIs(t, err, domain.ErrUnknownModel)

	assert.Equal(t, []string{"User"}, r.Names())
}

func TestRegistry_SpecsAreCopies(t *testing.T) {
	r := New()
	entry, err := r.Register("User", userSchema())
	require.NoError(t, err)

	specs := entry.Specs()
	specs[0].IndexName = "mutated"

	spec, err := r.Spec("User", "email")
	require.NoError(t, err)
	assert.Equal(t, "email", spec.IndexName)
}

func TestRegistry_ReRegistrationReplacesSpecs(t *testing.T) {
	r := New()
	_, err := r.Register("User", userSchema())
	require.NoError(t, err)

	_, err = r.Register("User", schema.New(schema.Field{Name: "phone", Type: schema.TypeString, Index: true}))
	require.NoError(t, err)

	_, err = r.Spec("User", "email")
	assert.ErrorIs(t, err, domain.ErrUnknownIndex)
	_, err = r.Spec("User", "phone")
	assert.NoError(t, err)
}

func TestRegistry_KeyField(t *testing.T) {
	r := New()
	_, err := r.Register("Foo", schema.New(
		schema.Field{Name: "a", Type: schema.TypeString, Key: true},
		schema.Field{Name: "b", Type: schema.TypeString},
	))
	require.NoError(t, err)

	assert.Equal(t, "a", r.KeyField("Foo"))
	assert.Equal(t, schema.DefaultKeyField, r.KeyField("Unregistered"))
}

func TestRegistry_InvalidRegistrations(t *testing.T) {
	r := New()

	_, err := r.Register("Bad$Name", userSchema())
	assert.ErrorIs(t, err, domain.ErrInvalidSchema)

	_, err = r.Register("User", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSchema)
}

func TestRegistry_Close(t *testing.T) {
	r := New()
	_, err := r.Register("User", userSchema())
	require.NoError(t, err)

	r.Close()

	_, err = r.Lookup("User")
	assert.ErrorIs(t, err, domain.ErrClosed)
	_, err = r.Register("User", userSchema())
	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.Empty(t, r.Names())
}
