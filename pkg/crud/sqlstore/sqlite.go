package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite is the dialect of modernc.org/sqlite.
type SQLite struct{}

var _ Dialect = SQLite{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Rebind(query string) string { return RebindToQuestion(query) }

func (SQLite) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (SQLite) LimitOffset(page crud.Page) string {
	switch {
	case page.Limit != nil:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", *page.Limit, page.Skip)
	case page.Skip > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", page.Skip)
	}
	return ""
}

func (SQLite) ColumnType(t reflect.Type) string {
	switch kindOf(t) {
	case kindInt:
		return "INTEGER"
	case kindFloat:
		return "REAL"
	case kindString:
		return "TEXT"
	case kindBool:
		return "BOOLEAN"
	case kindTime:
		return "DATETIME"
	}
	return "BLOB"
}

func (SQLite) KeyColumnType(key crud.PrimaryKey) string {
	switch {
	case key.Kind == crud.KeyString:
		return "TEXT NOT NULL PRIMARY KEY"
	case key.Auto:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "INTEGER PRIMARY KEY"
}

// SyncSequence is empty: AUTOINCREMENT keeps sqlite_sequence at the largest key inserted.
func (SQLite) SyncSequence() string { return "" }

func (SQLite) IsIntegrityError(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

// OpenSQLite opens a SQLite database, e.g. "file:crud.db" or ":memory:". In-memory databases are
// limited to one connection, since each connection would otherwise see its own database.
func OpenSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %s: %w", p, err)
		}
	}
	return db, nil
}
