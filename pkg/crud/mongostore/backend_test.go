package mongostore

import (
	"context"
	"os"
	"testing"

	"github.com/edgeflare/crudrouter/internal/demo"
	"github.com/edgeflare/crudrouter/internal/testutil/crudtest"
	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// testDB returns a throwaway database, dropped at cleanup. Tests skip without MONGO_TEST_URI.
func testDB(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, uri)
	require.NoError(t, err)

	db := client.Database("crudtest_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		db.Drop(context.Background())
		client.Disconnect(context.Background())
	})
	return db
}

func TestConformance(t *testing.T) {
	if os.Getenv("MONGO_TEST_URI") == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	crudtest.Run(t, crudtest.Harness{
		Potatoes: func(t *testing.T) crud.Backend[demo.Potato] { return New(testDB(t), demo.PotatoSchema) },
		Labels:   func(t *testing.T) crud.Backend[demo.Label] { return New(testDB(t), demo.LabelSchema) },
	})
}

type sticker struct {
	Code  string `json:"code" bson:"code" crud:"pk"`
	Shape string `json:"shape" bson:"shape"`
}

func TestUniqueIndexOnNonIDKey(t *testing.T) {
	ctx := context.Background()
	b := New(testDB(t), crud.MustSchema[sticker]())
	require.NoError(t, b.EnsureIndexes(ctx))

	_, err := b.Create(ctx, sticker{Code: "a1", Shape: "star"})
	require.NoError(t, err)
	_, err = b.Create(ctx, sticker{Code: "a1", Shape: "moon"})
	assert.ErrorIs(t, err, crud.ErrConflict)

	got, err := b.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "star", got.Shape)
}

func TestCountersArePerCollection(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	potatoes := New(db, demo.PotatoSchema)
	carrots := New(db, demo.CarrotSchema)

	p, err := potatoes.Create(ctx, crudtest.Potato(1))
	require.NoError(t, err)
	c, err := carrots.Create(ctx, demo.Carrot{Length: 3, Color: "orange"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.ID)
	assert.Equal(t, 1, c.ID)
}
