package pgstore

import (
	"context"
	"testing"

	"github.com/edgeflare/crudrouter/internal/demo"
	"github.com/edgeflare/crudrouter/internal/testutil/crudtest"
	"github.com/edgeflare/crudrouter/internal/testutil/pgtest"
	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fresh[T any](t *testing.T, schema *crud.Schema[T]) *Backend[T] {
	t.Helper()
	ctx := context.Background()
	pool := pgtest.Pool(ctx, t)
	opts := []Option{WithTable("pgstore_" + schema.Name)}
	require.NoError(t, DropTable(ctx, pool, schema, opts...))
	require.NoError(t, CreateTable(ctx, pool, schema, opts...))
	t.Cleanup(func() { DropTable(context.Background(), pool, schema, opts...) })
	return New(pool, schema, opts...)
}

func TestConformance(t *testing.T) {
	pgtest.DSN(t)
	crudtest.Run(t, crudtest.Harness{
		Potatoes: func(t *testing.T) crud.Backend[demo.Potato] { return fresh(t, demo.PotatoSchema) },
		Labels:   func(t *testing.T) crud.Backend[demo.Label] { return fresh(t, demo.LabelSchema) },
	})
}

func TestInsideTransaction(t *testing.T) {
	ctx := context.Background()
	b := fresh(t, demo.PotatoSchema)

	tx, err := b.conn.Begin(ctx)
	require.NoError(t, err)
	inTx := New(tx, demo.PotatoSchema, WithTable(b.table))

	created, err := inTx.Create(ctx, crudtest.Potato(1))
	require.NoError(t, err)
	_, err = inTx.Update(ctx, created.ID, crud.Patch{"color": "gold"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	_, err = b.Get(ctx, created.ID)
	assert.ErrorIs(t, err, crud.ErrNotFound)
}

func TestConnectRejectsEmptyDSN(t *testing.T) {
	_, err := Connect(context.Background(), "")
	assert.Error(t, err)
}

func TestQueryBuilder(t *testing.T) {
	qb := newQueryBuilder("potato", "")
	assert.Equal(t, `"public"."potato"`, qb.tableIdentifier())
	assert.Equal(t, "$1", qb.bind(10))
	assert.Equal(t, "$2", qb.bind("x"))
	assert.Equal(t, []any{10, "x"}, qb.values)
	assert.Equal(t, `"a", "we""ird"`, identList([]string{"a", `we"ird`}))
}
