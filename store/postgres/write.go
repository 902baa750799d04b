package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"web/clustermap/store"
)

// CreateTableSQL renders the DDL for an entity table with a text key, the
// two coordinate columns and any extra text columns.
func CreateTableSQL(entity, keyColumn, latField, lonField string, textColumns ...string) string {
	cols := []string{
		pgx.Identifier{keyColumn}.Sanitize() + " text PRIMARY KEY",
		pgx.Identifier{latField}.Sanitize() + " double precision NOT NULL",
		pgx.Identifier{lonField}.Sanitize() + " double precision NOT NULL",
	}
	for _, c := range textColumns {
		cols = append(cols, pgx.Identifier{c}.Sanitize()+" text")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pgx.Identifier{entity}.Sanitize(), strings.Join(cols, ", "))
}

// UpsertSQL renders an insert of rec that replaces the row with the same
// key. Columns follow the sorted field names.
func UpsertSQL(entity, keyColumn string, rec store.MapRecord) (string, []any) {
	names := make([]string, 0, len(rec.Values))
	for name := range rec.Values {
		if name != keyColumn {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	cols := []string{pgx.Identifier{keyColumn}.Sanitize()}
	marks := []string{"$1"}
	args := []any{rec.Key}
	var updates []string
	for i, name := range names {
		col := pgx.Identifier{name}.Sanitize()
		cols = append(cols, col)
		marks = append(marks, fmt.Sprintf("$%d", i+2))
		args = append(args, rec.Values[name])
		updates = append(updates, col+" = EXCLUDED."+col)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		pgx.Identifier{entity}.Sanitize(), strings.Join(cols, ", "), strings.Join(marks, ", "), cols[0])
	if len(updates) == 0 {
		return sql + "DO NOTHING", args
	}
	return sql + "DO UPDATE SET " + strings.Join(updates, ", "), args
}

func (s *Store) connect(ctx context.Context) (Conn, error) {
	if s.dsn == "" {
		return nil, store.Unavailable("no postgres DSN configured")
	}
	conn, err := s.dial(ctx, s.dsn)
	if err != nil {
		return nil, store.Unavailable("connect: %v", err)
	}
	return conn, nil
}

// EnsureSchema creates the schema table and the entity table when missing
// and records version.
func (s *Store) EnsureSchema(ctx context.Context, version uint64, entity, latField, lonField string, textColumns ...string) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	stmts := []struct {
		sql  string
		args []any
	}{
		{"CREATE TABLE IF NOT EXISTS " + SchemaTable + " (version bigint NOT NULL)", nil},
		{"DELETE FROM " + SchemaTable, nil},
		{"INSERT INTO " + SchemaTable + " (version) VALUES ($1)", []any{int64(version)}},
		{CreateTableSQL(entity, s.keyColumn, latField, lonField, textColumns...), nil},
	}
	for _, st := range stmts {
		if _, err := conn.Exec(ctx, st.sql, st.args...); err != nil {
			return wrap(ctx, err)
		}
	}
	return nil
}

// Put upserts recs into the entity table.
func (s *Store) Put(ctx context.Context, entity string, recs ...store.MapRecord) error {
	if len(recs) == 0 {
		return nil
	}
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	for _, rec := range recs {
		sql, args := UpsertSQL(entity, s.keyColumn, rec)
		if _, err := conn.Exec(ctx, sql, args...); err != nil {
			return wrap(ctx, err)
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, entity, id string) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", pgx.Identifier{entity}.Sanitize(), pgx.Identifier{s.keyColumn}.Sanitize())
	tag, err := conn.Exec(ctx, sql, id)
	if err != nil {
		return wrap(ctx, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, entity, id)
	}
	return nil
}
