// Package postgres serves records from PostgreSQL tables, one table per
// entity, with latitude and longitude held in numeric columns.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"web/clustermap/logger"
	"web/clustermap/query"
	"web/clustermap/store"
)

// SchemaTable holds the single row version of the dataset layout.
const SchemaTable = "clustermap_schema"

// Conn is the subset of *pgx.Conn a session uses.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

type Dialer func(ctx context.Context, dsn string) (Conn, error)

func dialPgx(ctx context.Context, dsn string) (Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Store struct {
	dsn       string
	keyColumn string
	dial      Dialer
}

type Option func(*Store)

// WithKeyColumn sets the primary key column, "id" by default.
func WithKeyColumn(col string) Option {
	return func(s *Store) { s.keyColumn = col }
}

func WithDialer(d Dialer) Option {
	return func(s *Store) { s.dial = d }
}

// New returns a store connecting to dsn. A postgres:// FileURL in the
// session configuration overrides it.
func New(dsn string, opts ...Option) *Store {
	s := &Store{dsn: dsn, keyColumn: "id", dial: dialPgx}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) target(cfg store.Configuration) string {
	if strings.HasPrefix(cfg.FileURL, "postgres://") || strings.HasPrefix(cfg.FileURL, "postgresql://") {
		return cfg.FileURL
	}
	return s.dsn
}

// Open connects, switches the session to read-only when asked and checks the
// stored schema version against cfg.SchemaVersion.
func (s *Store) Open(ctx context.Context, cfg store.Configuration) (store.Session, error) {
	dsn := s.target(cfg)
	if dsn == "" {
		return nil, store.Unavailable("no postgres DSN configured")
	}
	conn, err := s.dial(ctx, dsn)
	if err != nil {
		return nil, store.Unavailable("connect: %v", err)
	}
	fail := func(err error) (store.Session, error) {
		_ = conn.Close(context.Background())
		return nil, err
	}

	if cfg.ReadOnly {
		if _, err := conn.Exec(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"); err != nil {
			return fail(store.Unavailable("set read only: %v", err))
		}
	}

	var version int64
	err = conn.QueryRow(ctx, "SELECT version FROM "+SchemaTable+" LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		version = 0
	case err != nil:
		return fail(store.Unavailable("read schema version: %v", err))
	}
	if uint64(version) > cfg.SchemaVersion {
		return fail(store.Unavailable("schema version %d is older than stored version %d", cfg.SchemaVersion, version))
	}

	logger.L().Debug("pg_session_open", "read_only", cfg.ReadOnly, "schema_version", version)
	return &session{conn: conn, keyColumn: s.keyColumn}, nil
}

// SelectSQL renders the query for req. Natural order is the key column.
func SelectSQL(req query.FetchRequest, keyColumn string, limit int) (string, []any, error) {
	where, args, err := query.SQL(req.Predicate, 1)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s",
		pgx.Identifier{req.Entity}.Sanitize(), where, pgx.Identifier{keyColumn}.Sanitize())
	if limit >= 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	return sql, args, nil
}

type session struct {
	conn      Conn
	keyColumn string
	closed    bool
}

func (s *session) Query(ctx context.Context, req query.FetchRequest, limit int) ([]store.Record, error) {
	if s.closed {
		return nil, store.ErrSessionClosed
	}
	sql, args, err := SelectSQL(req, s.keyColumn, limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrap(ctx, err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, wrap(ctx, err)
		}
		fields := rows.FieldDescriptions()
		rec := store.MapRecord{Values: make(map[string]any, len(fields))}
		for i, fd := range fields {
			if i < len(vals) {
				rec.Values[fd.Name] = normalize(vals[i])
			}
		}
		if k, ok := rec.Values[s.keyColumn]; ok {
			rec.Key = fmt.Sprint(k)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ctx, err)
	}
	return out, nil
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close(context.Background())
}

func wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return store.Unavailable("query: %v", err)
}

// normalize turns numeric column types into float64 so predicates and the
// coordinate reader see plain numbers.
func normalize(v any) any {
	switch n := v.(type) {
	case pgtype.Numeric:
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(n).String()
	}
	return v
}
