package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/edgeflare/crudrouter/pkg/crud"
)

// CreateTable creates the table of schema if it does not exist. The key column gets the dialect's
// key type; other columns are nullable.
func CreateTable[T any](ctx context.Context, db *sql.DB, dialect Dialect, schema *crud.Schema[T], opts ...Option) error {
	cfg := config{table: schema.Name}
	for _, opt := range opts {
		opt(&cfg)
	}

	defs := make([]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		typ := dialect.ColumnType(f.Type)
		if schema.IsKey(f) {
			typ = dialect.KeyColumnType(schema.Key)
		}
		defs = append(defs, dialect.Quote(f.Column)+" "+typ)
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", dialect.Quote(cfg.table), strings.Join(defs, ", "))
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqlstore: create table %s: %w", cfg.table, err)
	}
	return nil
}

// DropTable drops table if it exists.
func DropTable(ctx context.Context, db *sql.DB, dialect Dialect, table string) error {
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+dialect.Quote(table)); err != nil {
		return fmt.Errorf("sqlstore: drop table %s: %w", table, err)
	}
	return nil
}
