// Package crudtest is a conformance suite every crud.Backend implementation runs in its tests.
package crudtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/edgeflare/crudrouter/internal/demo"
	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Harness creates fresh, empty backends for each subtest.
type Harness struct {
	Potatoes func(t *testing.T) crud.Backend[demo.Potato]
	// Labels is optional; without it the conflict cases are skipped.
	Labels func(t *testing.T) crud.Backend[demo.Label]
}

// Run exercises the backend contract: round trips, stable paging, update merging, deletion and
// error translation.
func Run(t *testing.T, h Harness) {
	t.Run("list empty", func(t *testing.T) {
		b := h.Potatoes(t)
		items, err := b.List(context.Background(), crud.Page{})
		require.NoError(t, err)
		assert.NotNil(t, items)
		assert.Empty(t, items)
	})

	t.Run("create assigns key and round trips", func(t *testing.T) {
		ctx := context.Background()
		b := h.Potatoes(t)

		in := Potato(1)
		created, err := b.Create(ctx, in)
		require.NoError(t, err)
		assert.NotZero(t, created.ID)

		in.ID = created.ID
		assert.Equal(t, in, created)

		got, err := b.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created, got)
	})

	t.Run("generated keys increase", func(t *testing.T) {
		ctx := context.Background()
		b := h.Potatoes(t)

		first, err := b.Create(ctx, Potato(1))
		require.NoError(t, err)
		second, err := b.Create(ctx, Potato(2))
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Less(t, first.ID, second.ID)
	})

	t.Run("generated keys continue after a caller key", func(t *testing.T) {
		ctx := context.Background()
		b := h.Potatoes(t)

		in := Potato(1)
		in.ID = 5
		explicit, err := b.Create(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, 5, explicit.ID)

		next, err := b.Create(ctx, Potato(2))
		require.NoError(t, err)
		assert.Greater(t, next.ID, 5)

		all, err := b.List(ctx, crud.Page{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := h.Potatoes(t).Get(context.Background(), 999)
		assert.ErrorIs(t, err, crud.ErrNotFound)
	})

	t.Run("pagination", func(t *testing.T) {
		ctx := context.Background()
		b := h.Potatoes(t)
		created := Seed(t, b, 15)

		all, err := b.List(ctx, crud.Page{})
		require.NoError(t, err)
		require.Len(t, all, 15)
		assert.Equal(t, created, all, "listing follows creation order")

		cases := []struct {
			page crud.Page
			want []demo.Potato
		}{
			{crud.Limited(0, 10), all[:10]},
			{crud.Limited(10, 10), all[10:]},
			{crud.Page{Skip: 12}, all[12:]},
			{crud.Limited(3, 2), all[3:5]},
			{crud.Limited(20, 5), []demo.Potato{}},
		}
		for _, c := range cases {
			got, err := b.List(ctx, c.page)
			require.NoError(t, err)
			assert.Equal(t, c.want, got, "skip=%d", c.page.Skip)
		}
	})

	t.Run("update merges patch", func(t *testing.T) {
		ctx := context.Background()
		b := h.Potatoes(t)
		created, err := b.Create(ctx, Potato(1))
		require.NoError(t, err)

		patch := crud.Patch{"color": "purple", "mass": 9.5}
		updated, err := b.Update(ctx, created.ID, patch)
		require.NoError(t, err)

		want := created
		want.Color = "purple"
		want.Mass = 9.5
		assert.Equal(t, want, updated)

		again, err := b.Update(ctx, created.ID, patch)
		require.NoError(t, err)
		assert.Equal(t, updated, again, "update is idempotent")

		got, err := b.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("update never changes key", func(t *testing.T) {
		ctx := context.Background()
		b := h.Potatoes(t)
		created, err := b.Create(ctx, Potato(1))
		require.NoError(t, err)

		updated, err := b.Update(ctx, created.ID, crud.Patch{"id": created.ID + 100, "type": "russet"})
		require.NoError(t, err)
		assert.Equal(t, created.ID, updated.ID)
		assert.Equal(t, "russet", updated.Type)
	})

	t.Run("update missing", func(t *testing.T) {
		_, err := h.Potatoes(t).Update(context.Background(), 999, crud.Patch{"color": "red"})
		assert.ErrorIs(t, err, crud.ErrNotFound)
	})

	t.Run("delete one", func(t *testing.T) {
		ctx := context.Background()
		b := h.Potatoes(t)
		keep, err := b.Create(ctx, Potato(1))
		require.NoError(t, err)
		gone, err := b.Create(ctx, Potato(2))
		require.NoError(t, err)

		deleted, err := b.DeleteOne(ctx, gone.ID)
		require.NoError(t, err)
		assert.Equal(t, gone, deleted, "returns the entity as it was before removal")

		_, err = b.Get(ctx, gone.ID)
		assert.ErrorIs(t, err, crud.ErrNotFound)
		_, err = b.DeleteOne(ctx, gone.ID)
		assert.ErrorIs(t, err, crud.ErrNotFound)

		all, err := b.List(ctx, crud.Page{})
		require.NoError(t, err)
		assert.Equal(t, []demo.Potato{keep}, all)
	})

	t.Run("delete all", func(t *testing.T) {
		ctx := context.Background()
		b := h.Potatoes(t)
		Seed(t, b, 5)

		remaining, err := b.DeleteAll(ctx)
		require.NoError(t, err)
		assert.NotNil(t, remaining)
		assert.Empty(t, remaining)

		all, err := b.List(ctx, crud.Page{})
		require.NoError(t, err)
		assert.Empty(t, all)

		remaining, err = b.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, remaining, "delete all on an empty collection")
	})

	t.Run("concurrent creates get distinct keys", func(t *testing.T) {
		ctx := context.Background()
		b := h.Potatoes(t)

		const n = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			keys = make(map[int]struct{})
			errs []error
		)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p, err := b.Create(ctx, Potato(i))
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				keys[p.ID] = struct{}{}
			}(i)
		}
		wg.Wait()

		require.Empty(t, errs)
		assert.Len(t, keys, n)
	})

	if h.Labels == nil {
		return
	}

	t.Run("string key round trip", func(t *testing.T) {
		ctx := context.Background()
		b := h.Labels(t)

		created, err := b.Create(ctx, demo.Label{Name: "fresh", Color: "green"})
		require.NoError(t, err)
		assert.Equal(t, demo.Label{Name: "fresh", Color: "green"}, created)

		updated, err := b.Update(ctx, "fresh", crud.Patch{"color": "brown"})
		require.NoError(t, err)
		assert.Equal(t, "brown", updated.Color)

		_, err = b.DeleteOne(ctx, "fresh")
		require.NoError(t, err)
		_, err = b.Get(ctx, "fresh")
		assert.ErrorIs(t, err, crud.ErrNotFound)
	})

	t.Run("duplicate key is a conflict", func(t *testing.T) {
		ctx := context.Background()
		b := h.Labels(t)

		_, err := b.Create(ctx, demo.Label{Name: "dup", Color: "red"})
		require.NoError(t, err)

		_, err = b.Create(ctx, demo.Label{Name: "dup", Color: "blue"})
		require.Error(t, err)
		assert.ErrorIs(t, err, crud.ErrConflict)
		var conflict *crud.ConflictError
		require.True(t, errors.As(err, &conflict))
		assert.NotNil(t, conflict.Err, "keeps the native error")

		got, err := b.Get(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, "red", got.Color, "first write wins")
	})
}

// Potato returns a distinguishable potato without a key.
func Potato(i int) demo.Potato {
	return demo.Potato{
		Thickness: 0.24 + float64(i),
		Mass:      1.2 + float64(i),
		Color:     fmt.Sprintf("color-%d", i),
		Type:      "Mashed",
	}
}

// Seed creates n potatoes in order and returns them as stored.
func Seed(t *testing.T, b crud.Backend[demo.Potato], n int) []demo.Potato {
	t.Helper()
	out := make([]demo.Potato, 0, n)
	for i := range n {
		p, err := b.Create(context.Background(), Potato(i))
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}
