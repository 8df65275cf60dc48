package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/edgeflare/crudrouter/pkg/metrics"
	"go.uber.org/zap"
)

// DefaultBufferSize is the per-sink queue length.
const DefaultBufferSize = 256

// sinkTimeout bounds one delivery, since queued events outlive their request context.
const sinkTimeout = 10 * time.Second

var ErrClosed = errors.New("notify: dispatcher closed")

type sink struct {
	name string
	pub  Publisher
	ch   chan crud.Event
}

// Dispatcher queues events per sink and delivers them from one goroutine per sink, so a slow
// sink never delays a request. When a sink's queue is full the event is dropped for that sink.
type Dispatcher struct {
	sinks  []*sink
	logger *zap.Logger
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

var _ crud.Notifier = (*Dispatcher)(nil)

// NewDispatcher opens every configured sink. On failure the sinks opened so far are closed.
func NewDispatcher(ctx context.Context, configs []SinkConfig, logger *zap.Logger, bufferSize int) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	d := &Dispatcher{logger: logger}
	for _, cfg := range configs {
		pub, err := Open(ctx, cfg, logger)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.add(cfg.Name, pub, bufferSize)
	}
	return d, nil
}

func (d *Dispatcher) add(name string, pub Publisher, bufferSize int) {
	s := &sink{name: name, pub: pub, ch: make(chan crud.Event, bufferSize)}
	d.sinks = append(d.sinks, s)
	d.wg.Add(1)
	go d.process(s)
}

// Len returns the number of sinks.
func (d *Dispatcher) Len() int { return len(d.sinks) }

// Notify enqueues e for every sink. It never blocks.
func (d *Dispatcher) Notify(_ context.Context, e crud.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	for _, s := range d.sinks {
		select {
		case s.ch <- e:
		default:
			metrics.SinkEvents.WithLabelValues(s.name, "dropped").Inc()
			d.logger.Warn("sink queue is full, dropping event", zap.String("sink", s.name), zap.String("resource", e.Resource))
		}
	}
	return nil
}

func (d *Dispatcher) process(s *sink) {
	defer d.wg.Done()
	for e := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := s.pub.Notify(ctx, e)
		cancel()
		if err != nil {
			metrics.SinkEvents.WithLabelValues(s.name, "failed").Inc()
			d.logger.Error("sink publish failed", zap.String("sink", s.name), zap.Error(err))
			continue
		}
		metrics.SinkEvents.WithLabelValues(s.name, "published").Inc()
	}
}

// Close stops accepting events, delivers the queued ones and closes every sink.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, s := range d.sinks {
		close(s.ch)
	}
	d.mu.Unlock()

	d.wg.Wait()
	var errs []error
	for _, s := range d.sinks {
		if err := s.pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
