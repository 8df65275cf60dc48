// Package sqlstore is a crud.Backend over database/sql, with dialects for SQLite (modernc) and
// PostgreSQL (pgx stdlib). Queries are written with $N placeholders and rebound per dialect.
package sqlstore

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/edgeflare/crudrouter/pkg/crud"
)

// Dialect hides the SQL differences between databases.
type Dialect interface {
	Name() string
	// Rebind converts $N placeholders to the dialect's form.
	Rebind(query string) string
	Quote(ident string) string
	// LimitOffset returns the clause windowing an ordered SELECT, with a leading space, or "".
	LimitOffset(page crud.Page) string
	ColumnType(t reflect.Type) string
	KeyColumnType(key crud.PrimaryKey) string
	// IsIntegrityError reports unique, not-null, check and foreign key violations.
	IsIntegrityError(err error) bool
	// SyncSequence returns a statement raising the key sequence of table $2, column $3 to at
	// least $1, or "" when inserting an explicit key already advances it.
	SyncSequence() string
}

// DialectFor returns the dialect of a driver name as used in configuration.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	case "postgres", "pgx":
		return Postgres{}, nil
	}
	return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
}

var pgPlaceholderRe = regexp.MustCompile(`\$(\d+)`)

// RebindToQuestion turns $N placeholders into ?.
func RebindToQuestion(query string) string {
	return pgPlaceholderRe.ReplaceAllString(query, "?")
}

// placeholders returns "$start, ..., $(start+count-1)".
func placeholders(start, count int) string {
	parts := make([]string, count)
	for i := range count {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

var timeType = reflect.TypeFor[time.Time]()

// scalarKind groups the Go types a column can hold.
type scalarKind int

const (
	kindOther scalarKind = iota
	kindInt
	kindFloat
	kindString
	kindBool
	kindTime
	kindBytes
)

func kindOf(t reflect.Type) scalarKind {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return kindTime
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return kindInt
	case reflect.Float32, reflect.Float64:
		return kindFloat
	case reflect.String:
		return kindString
	case reflect.Bool:
		return kindBool
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return kindBytes
		}
	}
	return kindOther
}
