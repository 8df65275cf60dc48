package crudrouter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/crudrouter/internal/demo"
	"github.com/edgeflare/crudrouter/pkg/config"
	"github.com/edgeflare/crudrouter/pkg/crud/memory"
	"github.com/edgeflare/crudrouter/pkg/crud/mongostore"
	"github.com/edgeflare/crudrouter/pkg/crud/pgstore"
	"github.com/edgeflare/crudrouter/pkg/crud/redisstore"
	"github.com/edgeflare/crudrouter/pkg/crud/sqlstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

// connect calls dial until it succeeds, with exponential backoff bounded by timeout.
func connect[C any](ctx context.Context, timeout time.Duration, name string, dial func(context.Context) (C, error)) (C, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = timeout

	var conn C
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		conn, err = dial(ctx)
		if err != nil {
			logger.Warn("backend connection failed", zap.String("driver", name), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return conn, fmt.Errorf("connect %s: %w", name, err)
	}
	return conn, nil
}

// openResources connects the configured backend and returns the demo resources served from it,
// with a function releasing the connection.
func openResources(ctx context.Context, bc config.BackendConfig) (demo.Resources, func() error, error) {
	noop := func() error { return nil }

	switch bc.Driver {
	case config.DriverMemory:
		return demo.Resources{
			Potato: memory.New(demo.PotatoSchema, nil),
			Carrot: memory.New(demo.CarrotSchema, nil),
		}, noop, nil

	case config.DriverSQLite, config.DriverPostgres:
		dialect, err := sqlstore.DialectFor(bc.Driver)
		if err != nil {
			return demo.Resources{}, noop, err
		}
		db, err := connect(ctx, bc.ConnectTimeout, bc.Driver, func(ctx context.Context) (*sql.DB, error) {
			if bc.Driver == config.DriverSQLite {
				return sqlstore.OpenSQLite(ctx, bc.DSN)
			}
			return sqlstore.OpenPostgres(ctx, bc.DSN)
		})
		if err != nil {
			return demo.Resources{}, noop, err
		}
		if bc.Migrate {
			err := errors.Join(
				sqlstore.CreateTable(ctx, db, dialect, demo.PotatoSchema),
				sqlstore.CreateTable(ctx, db, dialect, demo.CarrotSchema),
			)
			if err != nil {
				db.Close()
				return demo.Resources{}, noop, err
			}
		}
		return demo.Resources{
			Potato: sqlstore.New(db, dialect, demo.PotatoSchema),
			Carrot: sqlstore.New(db, dialect, demo.CarrotSchema),
		}, db.Close, nil

	case config.DriverPgx:
		pool, err := connect(ctx, bc.ConnectTimeout, bc.Driver, func(ctx context.Context) (*pgxpool.Pool, error) {
			return pgstore.Connect(ctx, bc.DSN)
		})
		if err != nil {
			return demo.Resources{}, noop, err
		}
		release := func() error { pool.Close(); return nil }
		if bc.Migrate {
			err := errors.Join(
				pgstore.CreateTable(ctx, pool, demo.PotatoSchema),
				pgstore.CreateTable(ctx, pool, demo.CarrotSchema),
			)
			if err != nil {
				pool.Close()
				return demo.Resources{}, noop, err
			}
		}
		return demo.Resources{
			Potato: pgstore.New(pool, demo.PotatoSchema),
			Carrot: pgstore.New(pool, demo.CarrotSchema),
		}, release, nil

	case config.DriverMongo:
		client, err := connect(ctx, bc.ConnectTimeout, bc.Driver, func(ctx context.Context) (*mongo.Client, error) {
			return mongostore.Connect(ctx, bc.DSN)
		})
		if err != nil {
			return demo.Resources{}, noop, err
		}
		disconnect := func() error { return client.Disconnect(context.Background()) }
		db := client.Database(bc.Database)
		potato, carrot := mongostore.New(db, demo.PotatoSchema), mongostore.New(db, demo.CarrotSchema)
		if bc.Migrate {
			if err := errors.Join(potato.EnsureIndexes(ctx), carrot.EnsureIndexes(ctx)); err != nil {
				disconnect()
				return demo.Resources{}, noop, err
			}
		}
		return demo.Resources{Potato: potato, Carrot: carrot}, disconnect, nil

	case config.DriverRedis:
		client, err := connect(ctx, bc.ConnectTimeout, bc.Driver, func(ctx context.Context) (*redis.Client, error) {
			return redisstore.Connect(ctx, bc.DSN)
		})
		if err != nil {
			return demo.Resources{}, noop, err
		}
		return demo.Resources{
			Potato: redisstore.New(client, demo.PotatoSchema, redisstore.WithNamespace(bc.Namespace)),
			Carrot: redisstore.New(client, demo.CarrotSchema, redisstore.WithNamespace(bc.Namespace)),
		}, client.Close, nil
	}
	return demo.Resources{}, noop, fmt.Errorf("unknown backend driver %q", bc.Driver)
}
