package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/clustermap/store"
)

func TestCreateTableSQL(t *testing.T) {
	got := CreateTableSQL("places", "id", "lat", "lon", "name")
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "places" ("id" text PRIMARY KEY, "lat" double precision NOT NULL, "lon" double precision NOT NULL, "name" text)`, got)
}

func TestUpsertSQL(t *testing.T) {
	sql, args := UpsertSQL("places", "id", store.MapRecord{
		Key:    "a",
		Values: map[string]any{"lon": 2.0, "lat": 1.0, "id": "ignored"},
	})
	assert.Equal(t, `INSERT INTO "places" ("id", "lat", "lon") VALUES ($1, $2, $3) ON CONFLICT ("id") DO UPDATE SET "lat" = EXCLUDED."lat", "lon" = EXCLUDED."lon"`, sql)
	assert.Equal(t, []any{"a", 1.0, 2.0}, args)

	sql, args = UpsertSQL("places", "id", store.MapRecord{Key: "b"})
	assert.Equal(t, `INSERT INTO "places" ("id") VALUES ($1) ON CONFLICT ("id") DO NOTHING`, sql)
	assert.Equal(t, []any{"b"}, args)
}

func TestPutAndDelete(t *testing.T) {
	conn := &fakeConn{tag: "DELETE 1"}
	s := newStore(conn)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "places", store.MapRecord{Key: "a", Values: map[string]any{"lat": 1.0}},
		store.MapRecord{Key: "b", Values: map[string]any{"lat": 2.0}}))
	require.NoError(t, s.Delete(ctx, "places", "a"))
	require.NoError(t, s.Put(ctx, "places"))

	require.Len(t, conn.execs, 3)
	assert.Contains(t, conn.execs[0], `INSERT INTO "places"`)
	assert.Equal(t, `DELETE FROM "places" WHERE "id" = $1`, conn.execs[2])
	assert.Equal(t, 2, conn.closed)
}

func TestDeleteMissingRow(t *testing.T) {
	conn := &fakeConn{tag: "DELETE 0"}
	err := newStore(conn).Delete(context.Background(), "places", "gone")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, conn.closed)
}

func TestEnsureSchema(t *testing.T) {
	conn := &fakeConn{}
	require.NoError(t, newStore(conn).EnsureSchema(context.Background(), 3, "places", "lat", "lon"))
	require.Len(t, conn.execs, 4)
	assert.Contains(t, conn.execs[0], SchemaTable)
	assert.Contains(t, conn.execs[3], `CREATE TABLE IF NOT EXISTS "places"`)
}

func TestWriteWithoutDSN(t *testing.T) {
	err := New("").Put(context.Background(), "places", store.MapRecord{Key: "a"})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
}
