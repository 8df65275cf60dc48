package crud

import "context"

// Backend stores the entities of one schema. Implementations translate their native errors:
// a missing key is ErrNotFound, a violated unique or integrity constraint is a *ConflictError,
// and a short DeleteAll is a *PartialDeleteError. Other errors are returned as they are.
//
// Every method may be called concurrently.
type Backend[T any] interface {
	Schema() *Schema[T]

	// List returns entities in a stable order, windowed by page. It never returns a nil slice
	// without an error.
	List(ctx context.Context, page Page) ([]T, error)
	Get(ctx context.Context, id any) (T, error)
	// Create stores e, assigning the key when it is auto-generated and zero, and returns the
	// stored entity.
	Create(ctx context.Context, e T) (T, error)
	// Update merges patch onto the stored entity and returns it as re-read after the write.
	Update(ctx context.Context, id any, patch Patch) (T, error)
	// DeleteOne removes the entity and returns it as it was before removal.
	DeleteOne(ctx context.Context, id any) (T, error)
	// DeleteAll removes every entity and returns the remaining (empty) listing.
	DeleteAll(ctx context.Context) ([]T, error)
}
