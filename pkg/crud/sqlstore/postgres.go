package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres is the dialect of PostgreSQL through the pgx stdlib driver.
type Postgres struct{}

var _ Dialect = Postgres{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Rebind(query string) string { return query }

func (Postgres) Quote(ident string) string { return pgx.Identifier{ident}.Sanitize() }

func (Postgres) LimitOffset(page crud.Page) string {
	switch {
	case page.Limit != nil:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", *page.Limit, page.Skip)
	case page.Skip > 0:
		return fmt.Sprintf(" OFFSET %d", page.Skip)
	}
	return ""
}

func (Postgres) ColumnType(t reflect.Type) string {
	switch kindOf(t) {
	case kindInt:
		return "BIGINT"
	case kindFloat:
		return "DOUBLE PRECISION"
	case kindString:
		return "TEXT"
	case kindBool:
		return "BOOLEAN"
	case kindTime:
		return "TIMESTAMPTZ"
	case kindBytes:
		return "BYTEA"
	}
	return "JSONB"
}

func (Postgres) KeyColumnType(key crud.PrimaryKey) string {
	switch {
	case key.Kind == crud.KeyString:
		return "TEXT PRIMARY KEY"
	case key.Auto:
		return "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	}
	return "BIGINT PRIMARY KEY"
}

// syncSequenceSQL moves an identity or serial sequence past an explicitly inserted key. It never
// lowers the sequence, and does nothing for columns without one.
const syncSequenceSQL = `SELECT setval(seq, GREATEST($1::bigint, COALESCE(pg_sequence_last_value(seq), 0)))
FROM (SELECT pg_get_serial_sequence($2, $3)::regclass AS seq) s
WHERE seq IS NOT NULL`

func (Postgres) SyncSequence() string { return syncSequenceSQL }

// IsIntegrityError matches SQLSTATE class 23, integrity constraint violation.
func (Postgres) IsIntegrityError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23")
}

// OpenPostgres opens a PostgreSQL database through the pgx stdlib driver and checks the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}
