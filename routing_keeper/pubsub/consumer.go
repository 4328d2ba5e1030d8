package pubsub

import (
	"fmt"
	"time"
)

type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

type Message struct {
	TopicPartition
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time

	ack func() error
}

// Ack confirms the message to brokers with explicit acknowledgement. It is a
// no-op for brokers tracking positions on the consumer side.
func (m *Message) Ack() error {
	if m.ack == nil {
		return nil
	}
	return m.ack()
}

type Records = map[TopicPartition][]*Message

// Consumer is the fetch side of a broker client. Positions advance as the
// client sees fit; callers must not assume a returned map is a copy.
type Consumer interface {
	Poll(timeout time.Duration) (Records, error)
}

func CountRecords(records Records) int64 {
	total := int64(0)
	for _, msgs := range records {
		total += int64(len(msgs))
	}
	return total
}
