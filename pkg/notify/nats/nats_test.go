package nats

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/edgeflare/crudrouter/pkg/notify"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSubject(t *testing.T) {
	e := crud.Event{Resource: "potato", Operation: crud.OpDeleteOne}
	assert.Equal(t, "crudrouter.potato.delete_one", Subject("crudrouter", e))
}

func TestDefaultOptions(t *testing.T) {
	assert.Len(t, defaultOptions(Config{}), 5)

	var c Config
	c.Username, c.Password = "u", "p"
	c.TLS.Enabled = true
	c.TLS.CAFile = "ca.pem"
	c.TLS.CertFile, c.TLS.KeyFile = "tls.crt", "tls.key"
	assert.Len(t, defaultOptions(c), 8)
}

func TestStreamConfigEqual(t *testing.T) {
	p := &Publisher{config: Config{Stream: "events", SubjectPrefix: "crudrouter"}}
	a := *p.streamConfig()
	assert.Equal(t, []string{"crudrouter.>"}, a.Subjects)
	assert.True(t, streamConfigEqual(a, a))

	b := a
	b.Subjects = []string{"other.>"}
	assert.False(t, streamConfigEqual(a, b))
}

func TestNotifyWithoutConnection(t *testing.T) {
	err := (&Publisher{}).Notify(context.Background(), crud.Event{})
	assert.ErrorIs(t, err, errConnNotInitialized)
	assert.NoError(t, (&Publisher{}).Close())
}

func TestPublish(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}
	ctx := context.Background()

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe("crudtest.potato.>", msgs)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	pub, err := notify.Open(ctx, notify.SinkConfig{
		Name:   "nats",
		Type:   notify.SinkNATS,
		Config: map[string]any{"servers": []string{url}, "subjectPrefix": "crudtest"},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Notify(ctx, crud.Event{Resource: "potato", Operation: crud.OpCreate, Key: 7}))

	select {
	case msg := <-msgs:
		assert.Equal(t, "crudtest.potato.create", msg.Subject)
		var e crud.Event
		require.NoError(t, json.Unmarshal(msg.Data, &e))
		assert.Equal(t, crud.OpCreate, e.Operation)
		assert.EqualValues(t, 7, e.Key)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}
