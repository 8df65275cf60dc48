package memory

import (
	"context"
	"errors"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/google/uuid"
)

var _ crud.Backend[struct{ ID int }] = (*Backend[struct{ ID int }])(nil)

// Backend serves a schema from a Store. Listing follows insertion order. Auto integer keys come
// from a per-store counter, auto string keys are random UUIDs.
type Backend[T any] struct {
	schema *crud.Schema[T]
	store  *Store[T]
	// removeAll is swapped in tests to simulate a store that drops fewer entities than asked.
	removeAll func(keys ...any) int
}

// New returns a backend over store; a nil store gets a fresh one.
func New[T any](schema *crud.Schema[T], store *Store[T]) *Backend[T] {
	if store == nil {
		store = NewStore[T]()
	}
	return &Backend[T]{schema: schema, store: store, removeAll: store.remove}
}

func isIntegrity(err error) bool { return errors.Is(err, ErrDuplicateKey) }

func (b *Backend[T]) Schema() *crud.Schema[T] { return b.schema }

func (b *Backend[T]) List(_ context.Context, page crud.Page) ([]T, error) {
	return b.store.window(page), nil
}

func (b *Backend[T]) Get(_ context.Context, id any) (T, error) {
	var zero T
	key, err := b.schema.Key.Normalize(id)
	if err != nil {
		return zero, err
	}
	e, ok := b.store.get(key)
	if !ok {
		return zero, crud.ErrNotFound
	}
	return e, nil
}

func (b *Backend[T]) Create(ctx context.Context, e T) (T, error) {
	var zero T
	if b.schema.Key.Auto && !b.schema.HasKey(e) {
		var next any
		if b.schema.Key.Kind == crud.KeyString {
			next = uuid.NewString()
		} else {
			next = b.store.nextID()
		}
		if err := b.schema.SetKey(&e, next); err != nil {
			return zero, err
		}
	}

	key := b.schema.KeyOf(e)
	if err := b.store.insert(key, e); err != nil {
		return zero, crud.Translate(err, isIntegrity)
	}
	return b.Get(ctx, key)
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
	key := b.schema.KeyOf(current)
	if !b.store.replace(key, current) {
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
	if b.store.remove(b.schema.KeyOf(current)) == 0 {
		return zero, crud.ErrNotFound
	}
	return current, nil
}

func (b *Backend[T]) DeleteAll(ctx context.Context) ([]T, error) {
	all := b.store.window(crud.Page{})
	keys := make([]any, len(all))
	for i, e := range all {
		keys[i] = b.schema.KeyOf(e)
	}

	if removed := b.removeAll(keys...); removed != len(all) {
		return nil, &crud.PartialDeleteError{Found: len(all), Deleted: removed}
	}
	return b.List(ctx, crud.Page{})
}
