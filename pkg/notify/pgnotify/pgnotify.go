// Package pgnotify publishes crud events with PostgreSQL NOTIFY and listens for them with LISTEN.
package pgnotify

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/edgeflare/crudrouter/pkg/crud/pgstore"
	"github.com/edgeflare/crudrouter/pkg/notify"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DefaultChannel is the channel events are sent on unless configured.
const DefaultChannel = "crudrouter"

// maxPayload is one less than PostgreSQL's default NOTIFY payload limit of 8000 bytes.
const maxPayload = 7999

// Config represents PostgreSQL sink configuration.
type Config struct {
	ConnString string `mapstructure:"connString"`
	Channel    string `mapstructure:"channel"`
}

// Publisher sends events with pg_notify.
type Publisher struct {
	conn    pgstore.Conn
	pool    *pgxpool.Pool // owned, closed by Close
	channel string
	logger  *zap.Logger
}

// New returns a publisher over conn, which the caller keeps ownership of.
func New(conn pgstore.Conn, channel string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: conn, channel: cmp.Or(channel, DefaultChannel), logger: logger}
}

// Payload encodes e for NOTIFY. Events too large for a payload lose their data, which listeners
// can fetch by key.
func Payload(e crud.Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	if len(data) <= maxPayload {
		return data, nil
	}
	e.Data = nil
	return json.Marshal(e)
}

func (p *Publisher) Notify(ctx context.Context, e crud.Event) error {
	payload, err := Payload(e)
	if err != nil {
		return err
	}
	if _, err := p.conn.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", p.channel, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// Listen listens on channel until ctx is canceled, decoding each notification into an Event.
// Both returned channels are closed when listening stops. Undecodable payloads are reported on
// the error channel and skipped.
func Listen(ctx context.Context, conn *pgx.Conn, channel string) (<-chan crud.Event, <-chan error) {
	events := make(chan crud.Event)
	errs := make(chan error, 1)

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{cmp.Or(channel, DefaultChannel)}.Sanitize()); err != nil {
		errs <- fmt.Errorf("error listening to channel: %w", err)
		close(events)
		close(errs)
		return events, errs
	}

	go func() {
		defer close(events)
		defer close(errs)

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					errs <- err
				}
				return
			}

			var e crud.Event
			if err := json.Unmarshal([]byte(n.Payload), &e); err != nil {
				select {
				case errs <- fmt.Errorf("decode notification: %w", err):
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case events <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, errs
}

func init() {
	notify.Register(notify.SinkPostgres, func(ctx context.Context, raw map[string]any, logger *zap.Logger) (notify.Publisher, error) {
		var cfg Config
		if err := notify.Decode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode postgres config: %w", err)
		}
		pool, err := pgstore.Connect(ctx, cfg.ConnString)
		if err != nil {
			return nil, err
		}
		p := New(pool, cfg.Channel, logger)
		p.pool = pool
		return p, nil
	})
}
