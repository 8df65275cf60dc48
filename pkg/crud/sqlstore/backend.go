package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/google/uuid"
)

var _ crud.Backend[struct{ ID int }] = (*Backend[struct{ ID int }])(nil)

// deleteChunk bounds the number of keys in one DELETE ... IN statement.
const deleteChunk = 500

// Backend serves a schema from one table. Rows are listed in primary key order.
type Backend[T any] struct {
	db      *sql.DB
	dialect Dialect
	schema  *crud.Schema[T]
	table   string
}

// Option configures a Backend.
type Option func(*config)

type config struct {
	table string
}

// WithTable overrides the table name, which defaults to the schema name.
func WithTable(table string) Option {
	return func(c *config) { c.table = table }
}

// New returns a backend over db. The table must exist; see CreateTable.
func New[T any](db *sql.DB, dialect Dialect, schema *crud.Schema[T], opts ...Option) *Backend[T] {
	cfg := config{table: schema.Name}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Backend[T]{db: db, dialect: dialect, schema: schema, table: cfg.table}
}

func (b *Backend[T]) Schema() *crud.Schema[T] { return b.schema }

func (b *Backend[T]) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	err = crud.Translate(err, b.dialect.IsIntegrityError)
	if errors.Is(err, crud.ErrConflict) {
		return err
	}
	return fmt.Errorf("sqlstore: %s %s: %w", op, b.table, err)
}

func (b *Backend[T]) selectList() string {
	cols := b.schema.Columns()
	for i, c := range cols {
		cols[i] = b.dialect.Quote(c)
	}
	return strings.Join(cols, ", ")
}

func (b *Backend[T]) tableIdent() string { return b.dialect.Quote(b.table) }

func (b *Backend[T]) keyIdent() string { return b.dialect.Quote(b.schema.Key.Column) }

func (b *Backend[T]) List(ctx context.Context, page crud.Page) ([]T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s%s",
		b.selectList(), b.tableIdent(), b.keyIdent(), b.dialect.LimitOffset(page))

	rows, err := b.db.QueryContext(ctx, b.dialect.Rebind(query))
	if err != nil {
		return nil, b.translate("list", err)
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		var e T
		if err := rows.Scan(b.schema.Pointers(&e)...); err != nil {
			return nil, b.translate("list", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, b.translate("list", err)
	}
	return items, nil
}

func (b *Backend[T]) Get(ctx context.Context, id any) (T, error) {
	var zero T
	key, err := b.schema.Key.Normalize(id)
	if err != nil {
		return zero, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", b.selectList(), b.tableIdent(), b.keyIdent())
	var e T
	err = b.db.QueryRowContext(ctx, b.dialect.Rebind(query), key).Scan(b.schema.Pointers(&e)...)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, crud.ErrNotFound
	}
	if err != nil {
		return zero, b.translate("get", err)
	}
	return e, nil
}

func (b *Backend[T]) Create(ctx context.Context, e T) (T, error) {
	var zero T
	if b.schema.Key.Auto && !b.schema.HasKey(e) && b.schema.Key.Kind == crud.KeyString {
		if err := b.schema.SetKey(&e, uuid.NewString()); err != nil {
			return zero, err
		}
	}
	// A zero auto integer key is left to the database.
	omitKey := b.schema.Key.Auto && !b.schema.HasKey(e)

	var (
		cols []string
		vals []any
	)
	values := b.schema.Values(e)
	for i, f := range b.schema.Fields {
		if omitKey && b.schema.IsKey(f) {
			continue
		}
		cols = append(cols, b.dialect.Quote(f.Column))
		vals = append(vals, values[i])
	}

	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", b.tableIdent(), b.keyIdent())
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			b.tableIdent(), strings.Join(cols, ", "), placeholders(1, len(vals)), b.keyIdent())
	}

	var created T
	syncSeq := ""
	if b.schema.Key.Auto && b.schema.Key.Kind == crud.KeyInt && !omitKey {
		syncSeq = b.dialect.SyncSequence()
	}
	if syncSeq == "" {
		if err := b.db.QueryRowContext(ctx, b.dialect.Rebind(query), vals...).Scan(b.schema.KeyPointer(&created)); err != nil {
			return zero, b.translate("create", err)
		}
	} else if err := b.insertAndSync(ctx, query, vals, syncSeq, &created); err != nil {
		return zero, b.translate("create", err)
	}
	return b.Get(ctx, b.schema.KeyOf(created))
}

// insertAndSync runs an insert carrying an explicit auto key and moves the key sequence past it
// in the same transaction, so later generated keys do not collide.
func (b *Backend[T]) insertAndSync(ctx context.Context, query string, vals []any, syncSeq string, created *T) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, b.dialect.Rebind(query), vals...).Scan(b.schema.KeyPointer(created)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, b.dialect.Rebind(syncSeq), b.schema.KeyOf(*created), b.tableIdent(), b.schema.Key.Column); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *Backend[T]) Update(ctx context.Context, id any, patch crud.Patch) (T, error) {
	var zero T
	current, err := b.Get(ctx, id)
	if err != nil {
		return zero, err
	}
	if err := b.schema.Apply(&current, patch); err != nil {
		return zero, err
	}

	var (
		sets []string
		vals []any
	)
	values := b.schema.Values(current)
	for i, f := range b.schema.Fields {
		if b.schema.IsKey(f) {
			continue
		}
		vals = append(vals, values[i])
		sets = append(sets, fmt.Sprintf("%s = $%d", b.dialect.Quote(f.Column), len(vals)))
	}
	key := b.schema.KeyOf(current)
	if len(sets) == 0 {
		return current, nil
	}
	vals = append(vals, key)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		b.tableIdent(), strings.Join(sets, ", "), b.keyIdent(), len(vals))

	res, err := b.db.ExecContext(ctx, b.dialect.Rebind(query), vals...)
	if err != nil {
		return zero, b.translate("update", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return zero, crud.ErrNotFound
	}
	return b.Get(ctx, key)
}

func (b *Backend[T]) DeleteOne(ctx context.Context, id any) (T, error) {
	var zero T
	current, err := b.Get(ctx, id)
	if err != nil {
		return zero, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", b.tableIdent(), b.keyIdent())
	res, err := b.db.ExecContext(ctx, b.dialect.Rebind(query), b.schema.KeyOf(current))
	if err != nil {
		return zero, b.translate("delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return zero, crud.ErrNotFound
	}
	return current, nil
}

// DeleteAll deletes the rows present when it starts. Rows inserted concurrently survive.
func (b *Backend[T]) DeleteAll(ctx context.Context) ([]T, error) {
	all, err := b.List(ctx, crud.Page{})
	if err != nil {
		return nil, err
	}

	var deleted int64
	for start := 0; start < len(all); start += deleteChunk {
		end := min(start+deleteChunk, len(all))
		keys := make([]any, 0, end-start)
		for _, e := range all[start:end] {
			keys = append(keys, b.schema.KeyOf(e))
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			b.tableIdent(), b.keyIdent(), placeholders(1, len(keys)))
		res, err := b.db.ExecContext(ctx, b.dialect.Rebind(query), keys...)
		if err != nil {
			return nil, b.translate("delete", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, b.translate("delete", err)
		}
		deleted += n
	}

	if int(deleted) != len(all) {
		return nil, &crud.PartialDeleteError{Found: len(all), Deleted: int(deleted)}
	}
	return b.List(ctx, crud.Page{})
}
