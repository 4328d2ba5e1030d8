package pubsub

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultMaxMessagesPerPoll = 3
)

// InMemoryBroker keeps every produced message, addressed by topic and partition.
type InMemoryBroker struct {
	mu      sync.RWMutex
	address string
	topics  map[string][][]*Message
}

func NewInMemoryBroker(address string) *InMemoryBroker {
	return &InMemoryBroker{
		address: address,
		topics:  make(map[string][][]*Message),
	}
}

func (b *InMemoryBroker) Address() string {
	return b.address
}

func (b *InMemoryBroker) CreateTopic(topic string, partitions int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[topic]; ok {
		return
	}
	b.topics[topic] = make([][]*Message, partitions)
}

func (b *InMemoryBroker) Produce(topic string, partition int32, key, value []byte) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts, ok := b.topics[topic]
	if !ok {
		return -1, errors.Errorf("topic %s not found in broker %s", topic, b.address)
	}
	if partition < 0 || int(partition) >= len(parts) {
		return -1, errors.Errorf("partition %d out of range for %s", partition, topic)
	}
	offset := int64(len(parts[partition]))
	parts[partition] = append(parts[partition], &Message{
		TopicPartition: TopicPartition{Topic: topic, Partition: partition},
		Offset:         offset,
		Key:            key,
		Value:          value,
		Timestamp:      time.Now(),
	})
	return offset, nil
}

func (b *InMemoryBroker) consume(tp TopicPartition, offset int64) *Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	parts, ok := b.topics[tp.Topic]
	if !ok || int(tp.Partition) >= len(parts) {
		return nil
	}
	msgs := parts[tp.Partition]
	if offset < 0 || offset >= int64(len(msgs)) {
		return nil
	}
	return msgs[offset]
}

// InMemoryConsumer polls an InMemoryBroker, handing out at most
// maxMessagesPerPoll messages per call, round robin over its subscriptions.
type InMemoryConsumer struct {
	mu                 sync.Mutex
	broker             *InMemoryBroker
	maxMessagesPerPoll int
	positions          map[TopicPartition]int64
}

func NewInMemoryConsumer(broker *InMemoryBroker, maxMessagesPerPoll int) *InMemoryConsumer {
	if maxMessagesPerPoll <= 0 {
		maxMessagesPerPoll = DefaultMaxMessagesPerPoll
	}
	return &InMemoryConsumer{
		broker:             broker,
		maxMessagesPerPoll: maxMessagesPerPoll,
		positions:          make(map[TopicPartition]int64),
	}
}

// Subscribe starts reading tp from offset, inclusive.
func (c *InMemoryConsumer) Subscribe(tp TopicPartition, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[tp] = offset
}

func (c *InMemoryConsumer) Unsubscribe(tp TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.positions, tp)
}

func (c *InMemoryConsumer) Position(tp TopicPartition) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.positions[tp]
	return pos, ok
}

func (c *InMemoryConsumer) sortedSubscriptions() []TopicPartition {
	tps := make([]TopicPartition, 0, len(c.positions))
	for tp := range c.positions {
		tps = append(tps, tp)
	}
	sort.Slice(tps, func(i, j int) bool {
		if tps[i].Topic != tps[j].Topic {
			return tps[i].Topic < tps[j].Topic
		}
		return tps[i].Partition < tps[j].Partition
	})
	return tps
}

// Poll never waits for new data, a positive timeout only bounds the scan.
func (c *InMemoryConsumer) Poll(timeout time.Duration) (Records, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := make(Records)
	deadline := time.Now().Add(timeout)
	count := 0
	tps := c.sortedSubscriptions()
	for progress := true; progress && count < c.maxMessagesPerPoll; {
		progress = false
		for _, tp := range tps {
			if count >= c.maxMessagesPerPoll || (timeout > 0 && time.Now().After(deadline)) {
				return records, nil
			}
			msg := c.broker.consume(tp, c.positions[tp])
			if msg == nil {
				continue
			}
			records[tp] = append(records[tp], msg)
			c.positions[tp]++
			count++
			progress = true
		}
	}
	return records, nil
}
