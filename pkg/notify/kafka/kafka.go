// Package kafka publishes crud events to Kafka with a synchronous sarama producer.
//
// Each resource has its own topic, "<prefix>.<resource>". Messages are keyed by the entity key so
// the events of one entity stay ordered, and carry the operation in an "operation" header.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/edgeflare/crudrouter/pkg/notify"
	"go.uber.org/zap"
)

// Publisher publishes events to Kafka.
type Publisher struct {
	producer    sarama.SyncProducer
	topicPrefix string
	logger      *zap.Logger
}

// Connect creates a producer for cfg.
func Connect(cfg Config, logger *zap.Logger) (*Publisher, error) {
	cfg.setDefaults()
	conf, err := cfg.ToSaramaConfig()
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewPublisher(producer, cfg.TopicPrefix, logger), nil
}

// NewPublisher wraps an existing producer.
func NewPublisher(producer sarama.SyncProducer, topicPrefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{producer: producer, topicPrefix: topicPrefix, logger: logger}
}

// Topic returns the topic of a resource.
func (p *Publisher) Topic(resource string) string {
	return p.topicPrefix + "." + resource
}

func (p *Publisher) message(e crud.Event) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic:     p.Topic(e.Resource),
		Value:     sarama.ByteEncoder(data),
		Timestamp: e.Time,
		Headers: []sarama.RecordHeader{
			{Key: []byte("operation"), Value: []byte(e.Operation)},
		},
	}
	if e.Key != nil {
		msg.Key = sarama.StringEncoder(fmt.Sprint(e.Key))
	}
	return msg, nil
}

func (p *Publisher) Notify(_ context.Context, e crud.Event) error {
	msg, err := p.message(e)
	if err != nil {
		return err
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.logger.Debug("published event",
		zap.String("topic", msg.Topic), zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}

func init() {
	notify.Register(notify.SinkKafka, func(_ context.Context, raw map[string]any, logger *zap.Logger) (notify.Publisher, error) {
		var cfg Config
		if err := notify.Decode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode Kafka config: %w", err)
		}
		p, err := Connect(cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
