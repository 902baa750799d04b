package postgres

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/clustermap/geo"
	"web/clustermap/query"
	"web/clustermap/store"
)

type fakeRow struct {
	version int64
	err     error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.version
	return nil
}

type fakeRows struct {
	fields []pgconn.FieldDescription
	data   [][]any
	i      int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) Scan(...any) error                            { return errors.New("not supported") }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.data[r.i-1], nil
}

type fakeConn struct {
	row      fakeRow
	rows     *fakeRows
	queryErr error
	tag      string
	execs    []string
	queries  []string
	args     [][]any
	closed   int
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, sql)
	return pgconn.NewCommandTag(c.tag), nil
}

func (c *fakeConn) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	c.queries = append(c.queries, sql)
	c.args = append(c.args, args)
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return c.rows, nil
}

func (c *fakeConn) QueryRow(context.Context, string, ...any) pgx.Row { return c.row }

func (c *fakeConn) Close(context.Context) error {
	c.closed++
	return nil
}

func newStore(conn *fakeConn) *Store {
	return New("postgres://localhost/clustermap", WithDialer(func(context.Context, string) (Conn, error) {
		return conn, nil
	}))
}

func request(t *testing.T) query.FetchRequest {
	t.Helper()
	req, err := query.Build("places", "lat", "lon",
		geo.Region{Span: geo.Span{LatitudeDelta: 2, LongitudeDelta: 2}}, nil)
	require.NoError(t, err)
	return req
}

func TestSelectSQL(t *testing.T) {
	sql, args, err := SelectSQL(request(t), "id", 25)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT * FROM "places" WHERE ("lat" BETWEEN $1 AND $2) AND ("lon" BETWEEN $3 AND $4) ORDER BY "id" LIMIT 25`,
		sql)
	assert.Equal(t, []any{-1.0, 1.0, -1.0, 1.0}, args)

	sql, _, err = SelectSQL(request(t), "gid", store.Unlimited)
	require.NoError(t, err)
	assert.NotContains(t, sql, "LIMIT")
	assert.Contains(t, sql, `ORDER BY "gid"`)
}

func TestOpenSchemaVersion(t *testing.T) {
	tests := []struct {
		name    string
		row     fakeRow
		version uint64
		ok      bool
	}{
		{"equal", fakeRow{version: 2}, 2, true},
		{"newer config", fakeRow{version: 2}, 3, true},
		{"no schema row", fakeRow{err: pgx.ErrNoRows}, 0, true},
		{"older config", fakeRow{version: 2}, 1, false},
		{"schema table missing", fakeRow{err: errors.New("relation does not exist")}, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{row: tt.row}
			sess, err := newStore(conn).Open(context.Background(), store.Configuration{SchemaVersion: tt.version})
			if tt.ok {
				require.NoError(t, err)
				require.NoError(t, sess.Close())
			} else {
				assert.ErrorIs(t, err, store.ErrStoreUnavailable)
			}
			assert.Equal(t, 1, conn.closed)
		})
	}
}

func TestOpenReadOnly(t *testing.T) {
	conn := &fakeConn{}
	sess, err := newStore(conn).Open(context.Background(), store.Configuration{ReadOnly: true})
	require.NoError(t, err)
	defer sess.Close()
	require.Len(t, conn.execs, 1)
	assert.Contains(t, conn.execs[0], "READ ONLY")
}

func TestOpenDialFailure(t *testing.T) {
	s := New("postgres://nowhere", WithDialer(func(context.Context, string) (Conn, error) {
		return nil, errors.New("connection refused")
	}))
	_, err := s.Open(context.Background(), store.Configuration{})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	_, err = New("").Open(context.Background(), store.Configuration{})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestTargetPrefersFileURL(t *testing.T) {
	s := New("postgres://default/db")
	assert.Equal(t, "postgres://other/db", s.target(store.Configuration{FileURL: "postgres://other/db"}))
	assert.Equal(t, "postgres://default/db", s.target(store.Configuration{FileURL: "file:///tmp/x"}))
}

func TestQueryRows(t *testing.T) {
	var lat pgtype.Numeric
	lat.Int = big.NewInt(1255)
	lat.Exp = -2
	lat.Valid = true

	conn := &fakeConn{rows: &fakeRows{
		fields: []pgconn.FieldDescription{{Name: "id"}, {Name: "lat"}, {Name: "lon"}, {Name: "name"}},
		data: [][]any{
			{int64(7), lat, 0.5, "Louvre"},
			{int64(9), 0.1, 0.2, nil},
		},
	}}
	sess, err := newStore(conn).Open(context.Background(), store.Configuration{})
	require.NoError(t, err)
	defer sess.Close()

	got, err := sess.Query(context.Background(), request(t), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "7", got[0].PrimaryKey())
	v, ok := got[0].Field("lat")
	require.True(t, ok)
	assert.InDelta(t, 12.55, v, 1e-9)
	assert.Equal(t, "9", got[1].PrimaryKey())
	assert.Len(t, conn.args[0], 4)
}

func TestQueryErrors(t *testing.T) {
	conn := &fakeConn{queryErr: errors.New("broken pipe")}
	sess, err := newStore(conn).Open(context.Background(), store.Configuration{})
	require.NoError(t, err)

	_, err = sess.Query(context.Background(), request(t), 10)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sess.Query(ctx, request(t), 10)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, sess.Close())
	_, err = sess.Query(context.Background(), request(t), 10)
	assert.ErrorIs(t, err, store.ErrSessionClosed)
}
