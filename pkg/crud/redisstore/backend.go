// Package redisstore is a crud.Backend over Redis. Each entity is a JSON string under
// "<namespace>:<name>:item:<key>", and a sorted set "<namespace>:<name>:index" scored by a creation
// sequence keeps listing order stable.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ crud.Backend[struct{ ID int }] = (*Backend[struct{ ID int }])(nil)

// DefaultNamespace prefixes every key unless WithNamespace is given.
const DefaultNamespace = "crud"

// ErrKeyExists is returned by Create when an entity with the same key is stored.
var ErrKeyExists = errors.New("redisstore: key exists")

// Connect creates a client from a redis:// URL and checks it with a ping.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Backend serves a schema from Redis keys under one prefix.
type Backend[T any] struct {
	client redis.UniversalClient
	schema *crud.Schema[T]
	prefix string
}

// Option configures a Backend.
type Option func(*config)

type config struct {
	namespace string
	name      string
}

// WithNamespace sets the first key segment.
func WithNamespace(ns string) Option {
	return func(c *config) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

// WithName sets the second key segment. Defaults to the schema name.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// New returns a backend over client.
func New[T any](client redis.UniversalClient, schema *crud.Schema[T], opts ...Option) *Backend[T] {
	c := config{namespace: DefaultNamespace, name: schema.Name}
	for _, opt := range opts {
		opt(&c)
	}
	return &Backend[T]{client: client, schema: schema, prefix: c.namespace + ":" + c.name}
}

func (b *Backend[T]) Schema() *crud.Schema[T] { return b.schema }

func (b *Backend[T]) indexKey() string { return b.prefix + ":index" }

func (b *Backend[T]) seqKey() string { return b.prefix + ":seq" }

func (b *Backend[T]) itemKey(member string) string { return b.prefix + ":item:" + member }

func member(key any) string { return fmt.Sprint(key) }

func isIntegrity(err error) bool { return errors.Is(err, ErrKeyExists) }

func (b *Backend[T]) wrapError(op string, err error) error {
	err = crud.Translate(err, isIntegrity)
	if errors.Is(err, crud.ErrConflict) {
		return err
	}
	return fmt.Errorf("redisstore: %s %s: %w", op, b.prefix, err)
}

func (b *Backend[T]) decode(raw string) (T, error) {
	var e T
	err := json.Unmarshal([]byte(raw), &e)
	return e, err
}

func (b *Backend[T]) List(ctx context.Context, page crud.Page) ([]T, error) {
	start, stop := int64(page.Skip), int64(-1)
	if page.Limit != nil {
		if *page.Limit == 0 {
			return []T{}, nil
		}
		stop = start + int64(*page.Limit) - 1
	}
	members, err := b.client.ZRange(ctx, b.indexKey(), start, stop).Result()
	if err != nil {
		return nil, b.wrapError("list", err)
	}
	return b.load(ctx, members)
}

// load fetches members in order, skipping any deleted since the index was read.
func (b *Backend[T]) load(ctx context.Context, members []string) ([]T, error) {
	items := []T{}
	if len(members) == 0 {
		return items, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = b.itemKey(m)
	}
	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, b.wrapError("list", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		e, err := b.decode(raw)
		if err != nil {
			return nil, b.wrapError("list", err)
		}
		items = append(items, e)
	}
	return items, nil
}

func (b *Backend[T]) Get(ctx context.Context, id any) (T, error) {
	var zero T
	key, err := b.schema.Key.Normalize(id)
	if err != nil {
		return zero, err
	}

	raw, err := b.client.Get(ctx, b.itemKey(member(key))).Result()
	if errors.Is(err, redis.Nil) {
		return zero, crud.ErrNotFound
	}
	if err != nil {
		return zero, b.wrapError("get", err)
	}
	e, err := b.decode(raw)
	if err != nil {
		return zero, b.wrapError("get", err)
	}
	return e, nil
}

// raiseAndIncr lifts the sequence to at least ARGV[1] before incrementing it, so generated keys
// continue after a caller-supplied one.
var raiseAndIncr = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if floor > cur then
	redis.call('SET', KEYS[1], floor)
end
return redis.call('INCR', KEYS[1])
`)

func (b *Backend[T]) nextSeq(ctx context.Context, e T) (int64, error) {
	if b.schema.Key.Auto && b.schema.HasKey(e) {
		if n, ok := crud.IntKey(b.schema.KeyOf(e)); ok {
			return raiseAndIncr.Run(ctx, b.client, []string{b.seqKey()}, n).Int64()
		}
	}
	return b.client.Incr(ctx, b.seqKey()).Result()
}

func (b *Backend[T]) Create(ctx context.Context, e T) (T, error) {
	var zero T
	seq, err := b.nextSeq(ctx, e)
	if err != nil {
		return zero, b.wrapError("create", err)
	}
	if b.schema.Key.Auto && !b.schema.HasKey(e) {
		var next any = seq
		if b.schema.Key.Kind == crud.KeyString {
			next = uuid.NewString()
		}
		if err := b.schema.SetKey(&e, next); err != nil {
			return zero, err
		}
	}

	data, err := json.Marshal(e)
	if err != nil {
		return zero, b.wrapError("create", err)
	}
	m := member(b.schema.KeyOf(e))

	// ZADD NX leaves an existing member's score alone when SETNX loses.
	var set *redis.BoolCmd
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		set = pipe.SetNX(ctx, b.itemKey(m), data, 0)
		pipe.ZAddNX(ctx, b.indexKey(), redis.Z{Score: float64(seq), Member: m})
		return nil
	})
	if err != nil {
		return zero, b.wrapError("create", err)
	}
	if !set.Val() {
		return zero, b.wrapError("create", fmt.Errorf("%w: %s", ErrKeyExists, m))
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

	data, err := json.Marshal(current)
	if err != nil {
		return zero, b.wrapError("update", err)
	}
	key := b.schema.KeyOf(current)
	ok, err := b.client.SetXX(ctx, b.itemKey(member(key)), data, redis.KeepTTL).Result()
	if err != nil {
		return zero, b.wrapError("update", err)
	}
	if !ok {
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

	m := member(key)
	var get *redis.StringCmd
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.GetDel(ctx, b.itemKey(m))
		pipe.ZRem(ctx, b.indexKey(), m)
		return nil
	})
	if errors.Is(err, redis.Nil) || errors.Is(get.Err(), redis.Nil) {
		return zero, crud.ErrNotFound
	}
	if err != nil {
		return zero, b.wrapError("delete", err)
	}
	e, err := b.decode(get.Val())
	if err != nil {
		return zero, b.wrapError("delete", err)
	}
	return e, nil
}

// DeleteAll deletes the entities indexed when it starts. Entities created concurrently survive.
func (b *Backend[T]) DeleteAll(ctx context.Context) ([]T, error) {
	members, err := b.client.ZRange(ctx, b.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, b.wrapError("delete", err)
	}
	if len(members) == 0 {
		return []T{}, nil
	}

	keys := make([]string, len(members))
	zmembers := make([]any, len(members))
	for i, m := range members {
		keys[i] = b.itemKey(m)
		zmembers[i] = m
	}
	var del *redis.IntCmd
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, b.indexKey(), zmembers...)
		return nil
	})
	if err != nil {
		return nil, b.wrapError("delete", err)
	}
	if deleted := int(del.Val()); deleted != len(members) {
		return nil, &crud.PartialDeleteError{Found: len(members), Deleted: deleted}
	}
	return b.List(ctx, crud.Page{})
}
