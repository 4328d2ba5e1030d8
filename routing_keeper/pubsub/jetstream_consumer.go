package pubsub

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"
)

const (
	DefaultFetchBatch = 256
)

// JetStreamConsumer adapts a JetStream pull consumer. Subjects follow
// "<topic>.<partition>"; subjects without a numeric suffix map to partition 0.
// Messages are not acknowledged here: a batch rejected downstream is redelivered
// by the server once its ack wait expires.
type JetStreamConsumer struct {
	consumer jetstream.Consumer
	batch    int
}

func NewJetStreamConsumer(consumer jetstream.Consumer, batch int) *JetStreamConsumer {
	if batch <= 0 {
		batch = DefaultFetchBatch
	}
	return &JetStreamConsumer{
		consumer: consumer,
		batch:    batch,
	}
}

// OpenJetStreamConsumer binds to an existing durable consumer of a stream.
func OpenJetStreamConsumer(
	ctx context.Context,
	js jetstream.JetStream,
	stream, durable string,
	batch int,
) (*JetStreamConsumer, error) {
	cons, err := js.Consumer(ctx, stream, durable)
	if err != nil {
		return nil, errors.Wrapf(err, "bind consumer %s of stream %s", durable, stream)
	}
	return NewJetStreamConsumer(cons, batch), nil
}

func ParseSubject(subject string) TopicPartition {
	idx := strings.LastIndex(subject, ".")
	if idx == -1 {
		return TopicPartition{Topic: subject, Partition: 0}
	}
	p, err := strconv.ParseInt(subject[idx+1:], 10, 32)
	if err != nil {
		return TopicPartition{Topic: subject, Partition: 0}
	}
	return TopicPartition{Topic: subject[0:idx], Partition: int32(p)}
}

func (c *JetStreamConsumer) Poll(timeout time.Duration) (Records, error) {
	batch, err := c.consumer.Fetch(c.batch, jetstream.FetchMaxWait(timeout))
	if err != nil {
		return nil, errors.Wrap(err, "fetch from jetstream")
	}
	records := make(Records)
	for msg := range batch.Messages() {
		tp := ParseSubject(msg.Subject())
		out := &Message{
			TopicPartition: tp,
			Value:          msg.Data(),
			ack:            msg.Ack,
		}
		if md, err := msg.Metadata(); err == nil {
			out.Offset = int64(md.Sequence.Stream)
			out.Timestamp = md.Timestamp
		} else {
			logging.Warning("can't read metadata of message on %s: %v", msg.Subject(), err)
		}
		if len(msg.Headers()) > 0 {
			out.Key = []byte(msg.Headers().Get("key"))
		}
		records[tp] = append(records[tp], out)
	}
	if err := batch.Error(); err != nil && !isFetchTimeout(err) {
		return records, errors.Wrap(err, "jetstream batch")
	}
	return records, nil
}

func isFetchTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout)
}
