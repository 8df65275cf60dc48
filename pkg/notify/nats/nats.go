// Package nats publishes crud events to NATS, optionally persisted in a JetStream stream.
//
// Subjects are "<prefix>.<resource>.<operation>", e.g. crudrouter.potato.create, with the event as
// JSON payload. Subscribers can filter with "crudrouter.potato.>" or "crudrouter.*.delete_one".
package nats

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/edgeflare/crudrouter/pkg/notify"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var errConnNotInitialized = errors.New("NATS connection not initialized")

// Config represents NATS sink configuration.
type Config struct {
	Servers       []string `mapstructure:"servers"`
	SubjectPrefix string   `mapstructure:"subjectPrefix"`
	// Stream enables JetStream publishing to a stream capturing "<prefix>.>".
	Stream   string `mapstructure:"stream"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	TLS      struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"certFile"`
		KeyFile  string `mapstructure:"keyFile"`
		CAFile   string `mapstructure:"caFile"`
	} `mapstructure:"tls"`
}

// Publisher publishes events to NATS.
type Publisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger *zap.Logger
}

// Connect establishes a connection to the first reachable server and, when a stream is
// configured, creates or updates it.
func Connect(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Servers) == 0 {
		cfg.Servers = []string{nats.DefaultURL}
	}
	cfg.SubjectPrefix = cmp.Or(cfg.SubjectPrefix, "crudrouter")
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Publisher{config: cfg, logger: logger}
	opts := defaultOptions(cfg)

	var err error
	for _, server := range cfg.Servers {
		p.nc, err = nats.Connect(server, opts...)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to NATS server: %w", err)
	}

	if cfg.Stream != "" {
		if p.js, err = p.nc.JetStream(); err != nil {
			p.nc.Close()
			return nil, fmt.Errorf("create JetStream context: %w", err)
		}
		if err := p.ensureStream(); err != nil {
			p.nc.Close()
			return nil, fmt.Errorf("ensure stream: %w", err)
		}
	}
	return p, nil
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(e crud.Event) string {
	return Subject(p.config.SubjectPrefix, e)
}

// Subject joins prefix, resource and operation into a NATS subject.
func Subject(prefix string, e crud.Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, e.Resource, e.Operation)
}

func (p *Publisher) Notify(ctx context.Context, e crud.Event) error {
	if p.nc == nil {
		return errConnNotInitialized
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := p.Subject(e)
	if p.js != nil {
		if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish message: %w", err)
		}
		return nil
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}

func (p *Publisher) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:     p.config.Stream,
		Subjects: []string{p.config.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		Replicas: 1,
	}
}

func (p *Publisher) ensureStream() error {
	config := p.streamConfig()

	stream, err := p.js.StreamInfo(config.Name)
	if err == nil {
		if !streamConfigEqual(stream.Config, *config) {
			if _, err = p.js.UpdateStream(config); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
			p.logger.Info("updated stream", zap.String("stream", config.Name))
		}
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("get stream info: %w", err)
	}

	if _, err := p.js.AddStream(config); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	p.logger.Info("created stream", zap.String("stream", config.Name))
	return nil
}

func streamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name && a.Storage == b.Storage && a.Replicas == b.Replicas &&
		slices.Equal(a.Subjects, b.Subjects)
}

func defaultOptions(c Config) []nats.Option {
	opts := []nats.Option{
		nats.Name("crudrouter"),
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.MaxReconnects(-1),
	}

	if c.Username != "" && c.Password != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}

	if c.TLS.Enabled {
		if c.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(c.TLS.CAFile))
		}
		if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
			opts = append(opts, nats.ClientCert(c.TLS.CertFile, c.TLS.KeyFile))
		}
	}
	return opts
}

func init() {
	notify.Register(notify.SinkNATS, func(_ context.Context, raw map[string]any, logger *zap.Logger) (notify.Publisher, error) {
		var cfg Config
		if err := notify.Decode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode NATS config: %w", err)
		}
		p, err := Connect(cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
