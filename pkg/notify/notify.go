// Package notify delivers crud mutation events to external sinks. Sink types register a Factory
// by name; a Dispatcher built from configuration fans each event out to every sink asynchronously.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Predefined sink types
const (
	SinkLog      = "log"
	SinkNATS     = "nats"
	SinkKafka    = "kafka"
	SinkPostgres = "postgres"
)

// Publisher is a connected sink.
type Publisher interface {
	crud.Notifier
	Close() error
}

// Factory connects a sink from its raw configuration.
type Factory func(ctx context.Context, config map[string]any, logger *zap.Logger) (Publisher, error)

// SinkConfig names a sink and selects its type. Config is decoded by the type's factory.
type SinkConfig struct {
	Name   string         `mapstructure:"name"`
	Type   string         `mapstructure:"type"`
	Config map[string]any `mapstructure:"config"`
}

var (
	factories = map[string]Factory{}
	mu        sync.RWMutex
)

// Register adds a sink type to the registry. Sink packages call it from init.
func Register(typ string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[typ] = f
}

// Types returns the registered sink types, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Open connects the sink described by cfg.
func Open(ctx context.Context, cfg SinkConfig, logger *zap.Logger) (Publisher, error) {
	mu.RLock()
	f, ok := factories[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("notify: sink type %q not registered", cfg.Type)
	}
	p, err := f(ctx, cfg.Config, logger.With(zap.String("sink", cfg.Name)))
	if err != nil {
		return nil, fmt.Errorf("notify: open sink %s: %w", cfg.Name, err)
	}
	return p, nil
}

// Decode fills a sink's typed configuration from its raw map.
func Decode(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// logPublisher writes each event to a zap logger.
type logPublisher struct {
	logger *zap.Logger
}

func (p *logPublisher) Notify(_ context.Context, e crud.Event) error {
	p.logger.Info("event",
		zap.String("resource", e.Resource),
		zap.String("operation", string(e.Operation)),
		zap.Any("key", e.Key),
		zap.Time("time", e.Time),
	)
	return nil
}

func (p *logPublisher) Close() error { return nil }

func init() {
	Register(SinkLog, func(_ context.Context, _ map[string]any, logger *zap.Logger) (Publisher, error) {
		return &logPublisher{logger: logger}, nil
	})
}
