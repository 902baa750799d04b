package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/clustermap/store"
)

func TestFilePath(t *testing.T) {
	p, err := FilePath("file:///var/data/places.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/data/places.db", p)

	p, err = FilePath("relative/places.db")
	require.NoError(t, err)
	assert.Equal(t, "relative/places.db", p)

	_, err = FilePath("s3://bucket/places.db")
	assert.Error(t, err)
}

func TestSaveAndOpenFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "places.db")
	key := []byte("secret")

	src := New()
	ds := src.Create("places", DatasetOptions{EncryptionKey: key, SchemaVersion: 2})
	require.NoError(t, ds.Put("Place", place("b", 1, 1, "name", "B"), place("a", 0, 0, "name", "A")))
	require.NoError(t, src.Save("places", path))

	dst := New()
	url := "file://" + path

	_, err := dst.Open(context.Background(), store.Configuration{FileURL: url, SchemaVersion: 2})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable, "missing key")

	_, err = dst.Open(context.Background(), store.Configuration{FileURL: url, EncryptionKey: key, SchemaVersion: 1})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable, "older schema")

	sess, err := dst.Open(context.Background(), store.Configuration{FileURL: url, EncryptionKey: key, SchemaVersion: 2})
	require.NoError(t, err)
	defer sess.Close()

	got, err := sess.Query(context.Background(), request(t, world(), nil), store.Unlimited)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, keys(got))
	name, _ := got[0].Field("name")
	assert.Equal(t, "B", name)
}

func TestSaveRejectsForeignRecords(t *testing.T) {
	s := New()
	require.NoError(t, s.Dataset("x").Put("Place", foreign{}))
	assert.Error(t, s.Save("x", filepath.Join(t.TempDir(), "x.db")))
	assert.Error(t, s.Save("unknown", filepath.Join(t.TempDir(), "y.db")))
}

type foreign struct{}

func (foreign) PrimaryKey() string       { return "f" }
func (foreign) Field(string) (any, bool) { return nil, false }
