package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/edgeflare/crudrouter/pkg/crud/sqlstore"
)

// CreateTable creates the schema's table if it does not exist, with PostgreSQL column types.
func CreateTable[T any](ctx context.Context, conn Conn, schema *crud.Schema[T], opts ...Option) error {
	b := New(conn, schema, opts...)
	dialect := sqlstore.Postgres{}

	defs := make([]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		typ := dialect.ColumnType(f.Type)
		if schema.IsKey(f) {
			typ = dialect.KeyColumnType(schema.Key)
		}
		defs = append(defs, ident(f.Column)+" "+typ)
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", b.query().tableIdentifier(), strings.Join(defs, ", "))
	if _, err := conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("pgstore: create table %s: %w", b.table, err)
	}
	return nil
}

// DropTable drops the schema's table if it exists.
func DropTable[T any](ctx context.Context, conn Conn, schema *crud.Schema[T], opts ...Option) error {
	b := New(conn, schema, opts...)
	if _, err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+b.query().tableIdentifier()); err != nil {
		return fmt.Errorf("pgstore: drop table %s: %w", b.table, err)
	}
	return nil
}
