package odm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/schema"
	"github.com/adfharrison1/go-odm/pkg/storage"
)

func connect(t *testing.T, kv domain.KVStore, opts ...Option) *Client {
	t.Helper()
	if kv == nil {
		mem, err := storage.NewMemoryStore()
		require.NoError(t, err)
		kv = mem
	}
	c, err := Connect(context.Background(), kv, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func userSchema(extra ...schema.Field) *schema.Schema {
	fields := []schema.Field{
		{Name: "firstName", Type: schema.TypeString},
		{Name: "lastName", Type: schema.TypeString},
		{Name: "email", Type: schema.TypeString, Index: true},
	}
	return schema.New(append(fields, extra...)...)
}

func TestQueryBySimpleReferenceDocument(t *testing.T) {
	c := connect(t, nil)
	ctx := context.Background()
	User, err := c.Model("User", userSchema())
	require.NoError(t, err)

	saved, err := User.Save(ctx, domain.Document{
		"firstName": "Joe",
		"lastName":  "Smith",
		"email":     "joe@gmail.com",
	})
	require.NoError(t, err)
	id, ok := saved["id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	doc, found, err := User.FindOneBy(ctx, "email", "joe@gmail.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, doc["id"])
	assert.Equal(t, "Joe", doc["firstName"])
	assert.Equal(t, "Smith", doc["lastName"])
	assert.Equal(t, "joe@gmail.com", doc["email"])

	docs, err := User.Find(ctx, "FindByEmail", "joe@gmail.com")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0]["id"])
}

func TestQueryRespectingKeyOptions(t *testing.T) {
	c := connect(t, nil)
	ctx := context.Background()
	User, err := c.Model("User", userSchema(
		schema.Field{Name: "username", Type: schema.TypeString, Key: true},
	))
	require.NoError(t, err)

	_, err = User.Save(ctx, domain.Document{"firstName": "Joe", "email": "joe@gmail.com"})
	assert.ErrorIs(t, err, domain.ErrMissingKey)

	_, err = User.Save(ctx, domain.Document{
		"firstName": "Joe",
		"lastName":  "Smith",
		"email":     "joe@gmail.com",
		"username":  "jsmith",
	})
	require.NoError(t, err)

	doc, found, err := User.FindOneBy(ctx, "email", "joe@gmail.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "jsmith", doc["username"])
	assert.NotContains(t, doc, "id")

	owners, err := c.lookup.FindBy(ctx, "User", "email", "joe@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"jsmith"}, owners)
}

func TestQueryIndexValuesForArray(t *testing.T) {
	c := connect(t, nil)
	ctx := context.Background()
	User, err := c.Model("User", schema.New(
		schema.Field{Name: "firstName", Type: schema.TypeString},
		schema.Field{Name: "usernames", Type: schema.TypeString, Array: true, Index: true, IndexName: "username"},
	))
	require.NoError(t, err)

	saved, err := User.Save(ctx, domain.Document{
		"firstName": "Joe",
		"usernames": []interface{}{"user1", "user2"},
	})
	require.NoError(t, err)

	finders, err := User.Finders()
	require.NoError(t, err)
	findByUsername, ok := finders["FindByUsername"]
	require.True(t, ok)

	for _, name := range []string{"user1", "user2"} {
		docs, err := findByUsername(ctx, name)
		require.NoError(t, err)
		require.Len(t, docs, 1, name)
		assert.Equal(t, saved["id"], docs[0]["id"])
		assert.ElementsMatch(t, []interface{}{"user1", "user2"}, docs[0]["usernames"])
	}

	// dropping one element drops only its reference document
	saved["usernames"] = []interface{}{"user2"}
	_, err = User.Save(ctx, saved)
	require.NoError(t, err)
	docs, err := User.FindBy(ctx, "username", "user1")
	require.NoError(t, err)
	assert.Empty(t, docs)
	docs, err = User.FindBy(ctx, "username", "user2")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestQueryRefField(t *testing.T) {
	c := connect(t, nil)
	ctx := context.Background()
	Foo, err := c.Model("Foo", schema.New(
		schema.Field{Name: "a", Type: schema.TypeString},
		schema.Field{Name: "b", Type: schema.TypeString},
	))
	require.NoError(t, err)
	User, err := c.Model("User", userSchema(
		schema.Field{Name: "foo", Type: schema.TypeRef, Ref: "Foo", Index: true},
	))
	require.NoError(t, err)

	saved, err := User.Save(ctx, domain.Document{
		"firstName": "Joe",
		"email":     "joe@gmail.com",
		"foo":       domain.Document{"a": "a1", "b": "b1"},
	})
	require.NoError(t, err)

	// the embedded Foo was saved and replaced by its key
	fooID, ok := saved["foo"].(string)
	require.True(t, ok)
	foo, err := Foo.Get(ctx, fooID)
	require.NoError(t, err)
	assert.Equal(t, "a1", foo["a"])

	check := func(doc domain.Document) {
		assert.Equal(t, fooID, doc["foo"])
		assert.Equal(t, "Joe", doc["firstName"])
		assert.Equal(t, "joe@gmail.com", doc["email"])
	}

	doc, found, err := User.FindOneBy(ctx, "email", "joe@gmail.com")
	require.NoError(t, err)
	require.True(t, found)
	check(doc)

	doc, found, err = User.FindOneBy(ctx, "foo", fooID)
	require.NoError(t, err)
	require.True(t, found)
	check(doc)

	// the stored Foo works as a lookup value too
	docs, err := User.Find(ctx, "FindByFoo", foo)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	check(docs[0])
}

func TestQueryRefFieldRespectingKeyConfig(t *testing.T) {
	c := connect(t, nil)
	ctx := context.Background()
	Foo, err := c.Model("Foo", schema.New(
		schema.Field{Name: "a", Type: schema.TypeString, Key: true},
		schema.Field{Name: "b", Type: schema.TypeString},
	))
	require.NoError(t, err)
	User, err := c.Model("User", userSchema(
		schema.Field{Name: "foo", Type: schema.TypeString, Ref: "Foo", Index: true},
	))
	require.NoError(t, err)

	_, err = User.Save(ctx, domain.Document{
		"firstName": "Joe",
		"email":     "joe@gmail.com",
		"foo":       domain.RefEmbedded(domain.Document{"a": "a1", "b": "b1"}),
	})
	require.NoError(t, err)

	foo, err := Foo.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "b1", foo["b"])

	for _, q := range []interface{}{"a1", domain.RefKey("a1"), domain.Document{"a": "a1"}} {
		doc, found, err := User.FindOneBy(ctx, "foo", q)
		require.NoError(t, err)
		require.True(t, found, "%v", q)
		assert.Equal(t, "a1", doc["foo"])
		assert.Equal(t, "Joe", doc["firstName"])
	}
}

func TestEmailChangeMovesReference(t *testing.T) {
	c := connect(t, nil)
	ctx := context.Background()
	User, err := c.Model("User", userSchema())
	require.NoError(t, err)

	saved, err := User.Save(ctx, domain.Document{"email": "joe@gmail.com"})
	require.NoError(t, err)
	saved["email"] = "joe@yahoo.com"
	_, err = User.Save(ctx, saved)
	require.NoError(t, err)

	_, found, err := User.FindOneBy(ctx, "email", "joe@gmail.com")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = c.kv.Get(ctx, c.keys.RefKey("User", "email", "joe@gmail.com"))
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	doc, found, err := User.FindOneBy(ctx, "email", "joe@yahoo.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, saved["id"], doc["id"])
}

func TestSharedValueAndRemove(t *testing.T) {
	c := connect(t, nil)
	ctx := context.Background()
	User, err := c.Model("User", userSchema())
	require.NoError(t, err)

	a, err := User.Save(ctx, domain.Document{"id": "a", "email": "team@x"})
	require.NoError(t, err)
	_, err = User.Save(ctx, domain.Document{"id": "b", "email": "team@x"})
	require.NoError(t, err)

	docs, err := User.FindBy(ctx, "email", "team@x")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0]["id"])
	assert.Equal(t, "b", docs[1]["id"])

	require.NoError(t, User.Remove(ctx, a["id"].(string)))
	_, err = User.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	docs, err = User.FindBy(ctx, "email", "team@x")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0]["id"])

	err = User.Remove(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDanglingOwnerIsSkipped(t *testing.T) {
	c := connect(t, nil)
	ctx := context.Background()
	User, err := c.Model("User", userSchema())
	require.NoError(t, err)

	_, err = User.Save(ctx, domain.Document{"id": "a", "email": "x@x"})
	require.NoError(t, err)
	_, err = User.Save(ctx, domain.Document{"id": "b", "email": "x@x"})
	require.NoError(t, err)

	// delete the primary document behind the index's back
	require.NoError(t, c.kv.Remove(ctx, c.keys.DocKey("User", "a"), domain.WriteOptions{}))

	docs, err := User.FindBy(ctx, "email", "x@x")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0]["id"])

	doc, found, err := User.FindOneBy(ctx, "email", "x@x")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "b", doc["id"])
}

func TestKeyPrefixAndSuffix(t *testing.T) {
	c := connect(t, nil, WithKeyPrefix("app:"))
	ctx := context.Background()
	s := userSchema()
	s.KeyPrefix = "u-"
	s.KeySuffix = "-v1"
	User, err := c.Model("User", s)
	require.NoError(t, err)

	_, err = User.Save(ctx, domain.Document{"id": "42", "email": "p@x"})
	require.NoError(t, err)

	_, _, err = c.kv.Get(ctx, "app:User::u-42-v1")
	require.NoError(t, err)
	_, _, err = c.kv.Get(ctx, "app:User$_ref_by_email$p@x")
	require.NoError(t, err)

	doc, err := User.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "p@x", doc["email"])
}

func TestUniqueIndex(t *testing.T) {
	c := connect(t, nil)
	ctx := context.Background()
	User, err := c.Model("User", schema.New(
		schema.Field{Name: "email", Type: schema.TypeString, Index: true, Unique: true},
	))
	require.NoError(t, err)

	_, err = User.Save(ctx, domain.Document{"id": "a", "email": "joe@gmail.com"})
	require.NoError(t, err)

	saved, err := User.Save(ctx, domain.Document{"id": "b", "email": "joe@gmail.com"})
	var psf *domain.PartialSyncFailure
	require.ErrorAs(t, err, &psf)
	assert.ErrorIs(t, err, domain.ErrUniqueViolation)
	assert.Equal(t, "b", saved["id"])

	docs, err := User.FindBy(ctx, "email", "joe@gmail.com")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0]["id"])
}

// flakyStore fails reference document writes while broken is set
type flakyStore struct {
	domain.KVStore
	broken bool
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte, opts domain.WriteOptions) (domain.CAS, error) {
	if s.broken && strings.Contains(key, "$_ref_by_") {
		return 0, &domain.StoreUnavailableError{Op: "set", Key: key, Err: errors.New("timeout")}
	}
	return s.KVStore.Set(ctx, key, value, opts)
}

func TestReindexRepairsPartialFailure(t *testing.T) {
	mem, err := storage.NewMemoryStore()
	require.NoError(t, err)
	kv := &flakyStore{KVStore: mem, broken: true}
	c := connect(t, kv)
	ctx := context.Background()
	User, err := c.Model("User", userSchema())
	require.NoError(t, err)

	saved, err := User.Save(ctx, domain.Document{"id": "a", "email": "joe@gmail.com"})
	var psf *domain.PartialSyncFailure
	require.ErrorAs(t, err, &psf)
	require.NotNil(t, saved)
	assert.True(t, domain.IsRetryable(err))

	// the primary write went through, the index did not
	_, err = User.Get(ctx, "a")
	require.NoError(t, err)
	docs, err := User.FindBy(ctx, "email", "joe@gmail.com")
	require.NoError(t, err)
	assert.Empty(t, docs)

	kv.broken = false
	res, err := User.Reindex(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)

	res, err = User.Reindex(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, res.Added)

	docs, err = User.FindBy(ctx, "email", "joe@gmail.com")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestReregistrationReplacesSpecs(t *testing.T) {
	c := connect(t, nil)
	ctx := context.Background()
	_, err := c.Model("User", userSchema())
	require.NoError(t, err)

	User, err := c.Model("User", schema.New(
		schema.Field{Name: "phone", Type: schema.TypeString, Index: true},
	))
	require.NoError(t, err)

	_, err = User.FindBy(ctx, "email", "x")
	assert.ErrorIs(t, err, domain.ErrUnknownIndex)
	_, err = User.FindBy(ctx, "phone", "x")
	assert.NoError(t, err)
}

func TestDisconnect(t *testing.T) {
	mem, err := storage.NewMemoryStore()
	require.NoError(t, err)
	c, err := Connect(context.Background(), mem)
	require.NoError(t, err)
	User, err := c.Model("User", userSchema())
	require.NoError(t, err)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())

	_, err = User.FindBy(context.Background(), "email", "x")
	assert.ErrorIs(t, err, domain.ErrClosed)
	_, err = c.Model("Other", userSchema())
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestConnectFailsOnDeadStore(t *testing.T) {
	mem, err := storage.NewMemoryStore()
	require.NoError(t, err)
	defer mem.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Connect(ctx, mem)
	var sue *domain.StoreUnavailableError
	assert.ErrorAs(t, err, &sue)
}

func TestFinderName(t *testing.T) {
	assert.Equal(t, "FindByEmail", FinderName("email"))
	assert.Equal(t, "FindByUsername", FinderName("username"))
	assert.Equal(t, "FindByUserName", FinderName("user_name"))
	assert.Equal(t, "FindByProfileCity", FinderName("profile.city"))
}

func TestFindUnknownFinder(t *testing.T) {
	c := connect(t, nil)
	User, err := c.Model("User", userSchema())
	require.NoError(t, err)
	_, err = User.Find(context.Background(), "FindByPhone", "1")
	assert.ErrorIs(t, err, domain.ErrUnknownIndex)
}
