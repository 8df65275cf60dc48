package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNotify(t *testing.T) {
	conf := mocks.NewTestConfig()
	conf.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, conf)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e crud.Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Resource != "potato" || e.Operation != crud.OpUpdate {
			return errors.New("unexpected event")
		}
		return nil
	})

	p := NewPublisher(producer, "crudrouter", zaptest.NewLogger(t))
	err := p.Notify(context.Background(), crud.Event{Resource: "potato", Operation: crud.OpUpdate, Key: 3, Time: time.Now()})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestNotifyError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisher(producer, "crudrouter", nil)
	err := p.Notify(context.Background(), crud.Event{Resource: "potato", Operation: crud.OpCreate})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestMessage(t *testing.T) {
	p := NewPublisher(nil, "events", nil)

	msg, err := p.message(crud.Event{Resource: "label", Operation: crud.OpDeleteOne, Key: "red"})
	require.NoError(t, err)
	assert.Equal(t, "events.label", msg.Topic)
	assert.Equal(t, sarama.StringEncoder("red"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "delete_one", string(msg.Headers[0].Value))

	msg, err = p.message(crud.Event{Resource: "label", Operation: crud.OpDeleteAll})
	require.NoError(t, err)
	assert.Nil(t, msg.Key, "delete_all has no key")
}

func TestToSaramaConfig(t *testing.T) {
	cfg := Config{SASL: SASL{Enable: true, Username: "u", Password: "p", Algorithm: "sha512"}}
	cfg.setDefaults()
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)

	conf, err := cfg.ToSaramaConfig()
	require.NoError(t, err)
	assert.Equal(t, sarama.WaitForAll, conf.Producer.RequiredAcks)
	assert.True(t, conf.Producer.Return.Successes)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), conf.Net.SASL.Mechanism)
	require.NotNil(t, conf.Net.SASL.SCRAMClientGeneratorFunc)
	assert.NoError(t, conf.Validate())
	assert.Equal(t, "crudrouter", conf.ClientID)

	cfg.Version = "not-a-version"
	_, err = cfg.ToSaramaConfig()
	assert.Error(t, err)

	cfg.Version = "2.1.1"
	cfg.TLS = TLS{Enable: true, CAFile: "/does/not/exist.pem"}
	_, err = cfg.ToSaramaConfig()
	assert.Error(t, err)
}

func TestSASLAlgorithms(t *testing.T) {
	cfg := Config{SASL: SASL{Enable: true, Username: "u", Password: "p", Algorithm: "md5"}}
	cfg.setDefaults()
	_, err := cfg.ToSaramaConfig()
	assert.ErrorContains(t, err, "invalid SASL algorithm")

	cfg.SASL.Algorithm = "plain"
	conf, err := cfg.ToSaramaConfig()
	require.NoError(t, err)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypePlaintext), conf.Net.SASL.Mechanism)
}

func TestXDGSCRAMClient(t *testing.T) {
	c := &XDGSCRAMClient{HashGeneratorFcn: SHA256}
	require.NoError(t, c.Begin("alice", "secret", ""))

	first, err := c.Step("")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "n,,n=alice,r="), first)
	assert.False(t, c.Done())
}
