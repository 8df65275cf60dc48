// Package mongostore is a crud.Backend over a MongoDB collection, using mongo-go-driver v2 and
// the entity's bson tags.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var _ crud.Backend[struct{ ID int }] = (*Backend[struct{ ID int }])(nil)

// CountersCollection holds one sequence document per collection with auto integer keys.
const CountersCollection = "crud_counters"

// Connect creates a client for uri and checks it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}
	return client, nil
}

// Backend serves a schema from one collection, listing documents in key order.
type Backend[T any] struct {
	db     *mongo.Database
	col    *mongo.Collection
	schema *crud.Schema[T]
}

// Option configures a Backend.
type Option func(*config)

type config struct {
	collection string
}

// WithCollection sets the collection name. Defaults to the schema name.
func WithCollection(name string) Option {
	return func(c *config) { c.collection = name }
}

// New returns a backend over a collection of db.
func New[T any](db *mongo.Database, schema *crud.Schema[T], opts ...Option) *Backend[T] {
	c := config{collection: schema.Name}
	for _, opt := range opts {
		opt(&c)
	}
	return &Backend[T]{db: db, col: db.Collection(c.collection), schema: schema}
}

func (b *Backend[T]) Schema() *crud.Schema[T] { return b.schema }

func (b *Backend[T]) keyFilter(key any) bson.D {
	return bson.D{{Key: b.schema.Key.BSON, Value: key}}
}

func (b *Backend[T]) wrapError(op string, err error) error {
	err = crud.Translate(err, mongo.IsDuplicateKeyError)
	if errors.Is(err, crud.ErrConflict) {
		return err
	}
	return fmt.Errorf("mongostore: %s %s: %w", op, b.col.Name(), err)
}

func (b *Backend[T]) find(ctx context.Context, opts *options.FindOptionsBuilder) ([]T, error) {
	cursor, err := b.col.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	items := []T{}
	for cursor.Next(ctx) {
		var e T
		if err := cursor.Decode(&e); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, cursor.Err()
}

func (b *Backend[T]) List(ctx context.Context, page crud.Page) ([]T, error) {
	opts := options.Find().SetSort(bson.D{{Key: b.schema.Key.BSON, Value: 1}}).SetSkip(int64(page.Skip))
	if page.Limit != nil {
		// A zero limit means no limit to the server.
		if *page.Limit == 0 {
			return []T{}, nil
		}
		opts.SetLimit(int64(*page.Limit))
	}
	items, err := b.find(ctx, opts)
	if err != nil {
		return nil, b.wrapError("list", err)
	}
	return items, nil
}

func (b *Backend[T]) Get(ctx context.Context, id any) (T, error) {
	var zero T
	key, err := b.schema.Key.Normalize(id)
	if err != nil {
		return zero, err
	}

	var e T
	err = b.col.FindOne(ctx, b.keyFilter(key)).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return zero, crud.ErrNotFound
	}
	if err != nil {
		return zero, b.wrapError("get", err)
	}
	return e, nil
}

// nextSeq atomically increments and returns the collection's counter.
func (b *Backend[T]) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := b.db.Collection(CountersCollection).FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: b.col.Name()}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		opts,
	).Decode(&counter)
	return counter.Seq, err
}

// raiseSeq moves the collection's counter up to n, never down.
func (b *Backend[T]) raiseSeq(ctx context.Context, n int64) error {
	_, err := b.db.Collection(CountersCollection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: b.col.Name()}},
		bson.D{{Key: "$max", Value: bson.D{{Key: "seq", Value: n}}}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (b *Backend[T]) Create(ctx context.Context, e T) (T, error) {
	var zero T
	explicit := b.schema.HasKey(e)
	if b.schema.Key.Auto && !explicit {
		var next any
		if b.schema.Key.Kind == crud.KeyString {
			next = bson.NewObjectID().Hex()
		} else {
			seq, err := b.nextSeq(ctx)
			if err != nil {
				return zero, b.wrapError("create", err)
			}
			next = seq
		}
		if err := b.schema.SetKey(&e, next); err != nil {
			return zero, err
		}
	}

	if _, err := b.col.InsertOne(ctx, e); err != nil {
		return zero, b.wrapError("create", err)
	}
	if n, ok := crud.IntKey(b.schema.KeyOf(e)); ok && explicit && b.schema.Key.Auto {
		if err := b.raiseSeq(ctx, n); err != nil {
			return zero, b.wrapError("create", err)
		}
	}
	return b.Get(ctx, b.schema.KeyOf(e))
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
	res, err := b.col.ReplaceOne(ctx, b.keyFilter(key), current)
	if err != nil {
		return zero, b.wrapError("update", err)
	}
	if res.MatchedCount == 0 {
		return zero, crud.ErrNotFound
	}
	return b.Get(ctx, key)
}

func (b *Backend[T]) DeleteOne(ctx context.Context, id any) (T, error) {
	var zero T
	key, err := b.schema.Key.Normalize(id)
	if err != nil {
		return zero, err
	}

	var deleted T
	err = b.col.FindOneAndDelete(ctx, b.keyFilter(key)).Decode(&deleted)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return zero, crud.ErrNotFound
	}
	if err != nil {
		return zero, b.wrapError("delete", err)
	}
	return deleted, nil
}

// DeleteAll deletes the documents present when it starts. Documents inserted concurrently survive.
func (b *Backend[T]) DeleteAll(ctx context.Context) ([]T, error) {
	all, err := b.List(ctx, crud.Page{})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return all, nil
	}

	keys := make(bson.A, len(all))
	for i, e := range all {
		keys[i] = b.schema.KeyOf(e)
	}
	filter := bson.D{{Key: b.schema.Key.BSON, Value: bson.D{{Key: "$in", Value: keys}}}}
	res, err := b.col.DeleteMany(ctx, filter)
	if err != nil {
		return nil, b.wrapError("delete", err)
	}
	if int(res.DeletedCount) != len(all) {
		return nil, &crud.PartialDeleteError{Found: len(all), Deleted: int(res.DeletedCount)}
	}
	return b.List(ctx, crud.Page{})
}

// EnsureIndexes creates a unique index on the key field when it is not _id, which is always
// unique.
func (b *Backend[T]) EnsureIndexes(ctx context.Context) error {
	if b.schema.Key.BSON == "_id" {
		return nil
	}
	model := mongo.IndexModel{
		Keys:    bson.D{{Key: b.schema.Key.BSON, Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := b.col.Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("mongostore: create index on %s: %w", b.col.Name(), err)
	}
	return nil
}
