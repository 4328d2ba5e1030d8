package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"gotest.tools/assert"
)

func startEmbeddedNats(t *testing.T) *nats.Conn {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
	}
	ns, err := server.NewServer(opts)
	assert.NilError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded nats server not ready")
	}
	nc, err := nats.Connect(ns.ClientURL())
	assert.NilError(t, err)
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func TestJetStreamConsumerPoll(t *testing.T) {
	nc := startEmbeddedNats(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	js, err := jetstream.New(nc)
	assert.NilError(t, err)
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "INGEST",
		Subjects: []string{"ingest.>"},
	})
	assert.NilError(t, err)
	_, err = js.CreateOrUpdateConsumer(ctx, "INGEST", jetstream.ConsumerConfig{
		Durable:   "replica",
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	assert.NilError(t, err)

	for _, subject := range []string{"ingest.store_v1.0", "ingest.store_v1.1", "ingest.store_v1.1"} {
		_, err = js.Publish(ctx, subject, []byte("payload"))
		assert.NilError(t, err)
	}

	consumer, err := OpenJetStreamConsumer(ctx, js, "INGEST", "replica", 10)
	assert.NilError(t, err)
	records, err := consumer.Poll(time.Second)
	assert.NilError(t, err)
	assert.Equal(t, CountRecords(records), int64(3))
	p1 := TopicPartition{Topic: "ingest.store_v1", Partition: 1}
	assert.Equal(t, len(records[p1]), 2)
	assert.Assert(t, records[p1][0].Offset < records[p1][1].Offset)
	for _, msgs := range records {
		for _, m := range msgs {
			assert.NilError(t, m.Ack())
		}
	}

	_, err = OpenJetStreamConsumer(ctx, js, "INGEST", "absent", 10)
	assert.Assert(t, err != nil)
}
