package pubsub

import (
	"fmt"
	"testing"
	"time"

	"gotest.tools/assert"
)

func TestInMemoryConsumerPoll(t *testing.T) {
	broker := NewInMemoryBroker("local:9092")
	broker.CreateTopic("store_v1", 2)
	for i := 0; i < 4; i++ {
		_, err := broker.Produce("store_v1", int32(i%2), nil, []byte(fmt.Sprintf("v%d", i)))
		assert.NilError(t, err)
	}
	_, err := broker.Produce("missing", 0, nil, nil)
	assert.Assert(t, err != nil)
	_, err = broker.Produce("store_v1", 5, nil, nil)
	assert.Assert(t, err != nil)

	consumer := NewInMemoryConsumer(broker, 3)
	p0 := TopicPartition{Topic: "store_v1", Partition: 0}
	p1 := TopicPartition{Topic: "store_v1", Partition: 1}
	consumer.Subscribe(p0, 0)
	consumer.Subscribe(p1, 0)

	records, err := consumer.Poll(time.Second)
	assert.NilError(t, err)
	assert.Equal(t, CountRecords(records), int64(3))
	assert.Equal(t, len(records[p0]), 2)
	assert.Equal(t, len(records[p1]), 1)
	assert.Equal(t, string(records[p0][1].Value), "v2")

	records, err = consumer.Poll(time.Second)
	assert.NilError(t, err)
	assert.Equal(t, CountRecords(records), int64(1))
	assert.Equal(t, records[p1][0].Offset, int64(1))

	records, err = consumer.Poll(time.Second)
	assert.NilError(t, err)
	assert.Equal(t, len(records), 0)

	pos, ok := consumer.Position(p0)
	assert.Assert(t, ok)
	assert.Equal(t, pos, int64(2))
	consumer.Unsubscribe(p0)
	_, ok = consumer.Position(p0)
	assert.Assert(t, !ok)
}

func TestParseSubject(t *testing.T) {
	assert.Equal(t, ParseSubject("ingest.store_v1.3"), TopicPartition{Topic: "ingest.store_v1", Partition: 3})
	assert.Equal(t, ParseSubject("ingest.store_v1.x"), TopicPartition{Topic: "ingest.store_v1.x", Partition: 0})
	assert.Equal(t, ParseSubject("plain"), TopicPartition{Topic: "plain", Partition: 0})
	assert.Equal(t, TopicPartition{Topic: "t", Partition: 2}.String(), "t-2")
}
