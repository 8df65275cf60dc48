package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/edgeflare/crudrouter/pkg/crud/sqlstore"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ crud.Backend[struct{ ID int }] = (*Backend[struct{ ID int }])(nil)

const deleteChunk = 1000

// Backend serves a schema from one PostgreSQL table, listing rows in primary key order.
type Backend[T any] struct {
	conn     Conn
	schema   *crud.Schema[T]
	table    string
	pgSchema string
}

// Option configures a Backend.
type Option func(*options)

type options struct {
	table    string
	pgSchema string
}

// WithTable sets the table name. Defaults to the crud schema name.
func WithTable(table string) Option {
	return func(o *options) { o.table = table }
}

// WithSchema sets the PostgreSQL schema holding the table. Defaults to public.
func WithSchema(pgSchema string) Option {
	return func(o *options) { o.pgSchema = pgSchema }
}

// New returns a backend over conn. The table must exist; see CreateTable.
func New[T any](conn Conn, schema *crud.Schema[T], opts ...Option) *Backend[T] {
	o := options{table: schema.Name, pgSchema: "public"}
	for _, opt := range opts {
		opt(&o)
	}
	return &Backend[T]{conn: conn, schema: schema, table: o.table, pgSchema: o.pgSchema}
}

func (b *Backend[T]) Schema() *crud.Schema[T] { return b.schema }

func (b *Backend[T]) query() *queryBuilder { return newQueryBuilder(b.table, b.pgSchema) }

func (b *Backend[T]) translate(op string, err error) error {
	err = crud.Translate(err, IsIntegrityError)
	if errors.Is(err, crud.ErrConflict) {
		return err
	}
	return fmt.Errorf("pgstore: %s %s: %w", op, b.table, err)
}

func (b *Backend[T]) scanAll(rows pgx.Rows) ([]T, error) {
	defer rows.Close()
	items := []T{}
	for rows.Next() {
		var e T
		if err := rows.Scan(b.schema.Pointers(&e)...); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (b *Backend[T]) List(ctx context.Context, page crud.Page) ([]T, error) {
	qb := b.query()
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s OFFSET %s",
		identList(b.schema.Columns()), qb.tableIdentifier(), ident(b.schema.Key.Column), qb.bind(page.Skip))
	if page.Limit != nil {
		query += " LIMIT " + qb.bind(*page.Limit)
	}

	rows, err := b.conn.Query(ctx, query, qb.values...)
	if err != nil {
		return nil, b.translate("list", err)
	}
	items, err := b.scanAll(rows)
	if err != nil {
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

	qb := b.query()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		identList(b.schema.Columns()), qb.tableIdentifier(), ident(b.schema.Key.Column), qb.bind(key))

	var e T
	err = b.conn.QueryRow(ctx, query, qb.values...).Scan(b.schema.Pointers(&e)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, crud.ErrNotFound
	}
	if err != nil {
		return zero, b.translate("get", err)
	}
	return e, nil
}

func (b *Backend[T]) Create(ctx context.Context, e T) (T, error) {
	var zero T
	key := b.schema.Key
	if key.Auto && key.Kind == crud.KeyString && !b.schema.HasKey(e) {
		if err := b.schema.SetKey(&e, uuid.NewString()); err != nil {
			return zero, err
		}
	}
	omitKey := key.Auto && !b.schema.HasKey(e)

	qb := b.query()
	var columns, placeholders []string
	values := b.schema.Values(e)
	for i, f := range b.schema.Fields {
		if omitKey && b.schema.IsKey(f) {
			continue
		}
		columns = append(columns, ident(f.Column))
		placeholders = append(placeholders, qb.bind(values[i]))
	}

	query := fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", qb.tableIdentifier(), ident(key.Column))
	if len(columns) > 0 {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			qb.tableIdentifier(), strings.Join(columns, ", "), strings.Join(placeholders, ", "), ident(key.Column))
	}

	var created T
	if !key.Auto || key.Kind != crud.KeyInt || omitKey {
		if err := b.conn.QueryRow(ctx, query, qb.values...).Scan(b.schema.KeyPointer(&created)); err != nil {
			return zero, b.translate("create", err)
		}
		return b.Get(ctx, b.schema.KeyOf(created))
	}

	// An explicit auto key moves the identity sequence past it in the same transaction.
	tx, err := b.conn.Begin(ctx)
	if err != nil {
		return zero, b.translate("create", err)
	}
	defer tx.Rollback(ctx)
	if err := tx.QueryRow(ctx, query, qb.values...).Scan(b.schema.KeyPointer(&created)); err != nil {
		return zero, b.translate("create", err)
	}
	if _, err := tx.Exec(ctx, sqlstore.Postgres{}.SyncSequence(), b.schema.KeyOf(created), qb.tableIdentifier(), key.Column); err != nil {
		return zero, b.translate("create", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return zero, b.translate("create", err)
	}
	return b.Get(ctx, b.schema.KeyOf(created))
}

// Update reads, merges and writes back the row in one transaction, holding a row lock.
func (b *Backend[T]) Update(ctx context.Context, id any, patch crud.Patch) (T, error) {
	var zero T
	key, err := b.schema.Key.Normalize(id)
	if err != nil {
		return zero, err
	}

	tx, err := b.conn.Begin(ctx)
	if err != nil {
		return zero, b.translate("update", err)
	}
	defer tx.Rollback(ctx)

	qb := b.query()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s FOR UPDATE",
		identList(b.schema.Columns()), qb.tableIdentifier(), ident(b.schema.Key.Column), qb.bind(key))
	var current T
	err = tx.QueryRow(ctx, query, qb.values...).Scan(b.schema.Pointers(&current)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, crud.ErrNotFound
	}
	if err != nil {
		return zero, b.translate("update", err)
	}

	if err := b.schema.Apply(&current, patch); err != nil {
		return zero, err
	}

	qb = b.query()
	var sets []string
	values := b.schema.Values(current)
	for i, f := range b.schema.Fields {
		if b.schema.IsKey(f) {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", ident(f.Column), qb.bind(values[i])))
	}
	if len(sets) > 0 {
		query = fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
			qb.tableIdentifier(), strings.Join(sets, ", "), ident(b.schema.Key.Column), qb.bind(key))
		tag, err := tx.Exec(ctx, query, qb.values...)
		if err != nil {
			return zero, b.translate("update", err)
		}
		if tag.RowsAffected() == 0 {
			return zero, crud.ErrNotFound
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return zero, b.translate("update", err)
	}
	return b.Get(ctx, key)
}

func (b *Backend[T]) DeleteOne(ctx context.Context, id any) (T, error) {
	var zero T
	key, err := b.schema.Key.Normalize(id)
	if err != nil {
		return zero, err
	}

	qb := b.query()
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s RETURNING %s",
		qb.tableIdentifier(), ident(b.schema.Key.Column), qb.bind(key), identList(b.schema.Columns()))

	var deleted T
	err = b.conn.QueryRow(ctx, query, qb.values...).Scan(b.schema.Pointers(&deleted)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, crud.ErrNotFound
	}
	if err != nil {
		return zero, b.translate("delete", err)
	}
	return deleted, nil
}

// DeleteAll locks and deletes the rows present when it starts. Rows inserted concurrently survive.
func (b *Backend[T]) DeleteAll(ctx context.Context) ([]T, error) {
	tx, err := b.conn.Begin(ctx)
	if err != nil {
		return nil, b.translate("delete", err)
	}
	defer tx.Rollback(ctx)

	qb := b.query()
	rows, err := tx.Query(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY %s FOR UPDATE",
		identList(b.schema.Columns()), qb.tableIdentifier(), ident(b.schema.Key.Column)))
	if err != nil {
		return nil, b.translate("delete", err)
	}
	all, err := b.scanAll(rows)
	if err != nil {
		return nil, b.translate("delete", err)
	}

	var deleted int64
	for start := 0; start < len(all); start += deleteChunk {
		qb := b.query()
		var placeholders []string
		for _, e := range all[start:min(start+deleteChunk, len(all))] {
			placeholders = append(placeholders, qb.bind(b.schema.KeyOf(e)))
		}
		tag, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			qb.tableIdentifier(), ident(b.schema.Key.Column), strings.Join(placeholders, ", ")), qb.values...)
		if err != nil {
			return nil, b.translate("delete", err)
		}
		deleted += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, b.translate("delete", err)
	}

	if int(deleted) != len(all) {
		return nil, &crud.PartialDeleteError{Found: len(all), Deleted: int(deleted)}
	}
	return b.List(ctx, crud.Page{})
}
