package pgstore

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// queryBuilder numbers placeholders and collects their arguments for one statement.
type queryBuilder struct {
	schema    string
	table     string
	values    []any
	nextIndex int
}

func newQueryBuilder(table, schema string) *queryBuilder {
	if schema == "" {
		schema = "public"
	}
	return &queryBuilder{schema: schema, table: table, nextIndex: 1}
}

// bind records value and returns its placeholder.
func (qb *queryBuilder) bind(value any) string {
	qb.values = append(qb.values, value)
	placeholder := fmt.Sprintf("$%d", qb.nextIndex)
	qb.nextIndex++
	return placeholder
}

func (qb *queryBuilder) tableIdentifier() string {
	return pgx.Identifier{qb.schema, qb.table}.Sanitize()
}

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

func identList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = ident(n)
	}
	return strings.Join(quoted, ", ")
}
