package throttle

import (
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kuaishou/open_routing_keeper/routing_keeper/pubsub"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/assert"
	testingclock "k8s.io/utils/clock/testing"
)

type fixedConsumer struct {
	records pubsub.Records
	err     error
	polls   int
}

func (f *fixedConsumer) Poll(timeout time.Duration) (pubsub.Records, error) {
	f.polls++
	return f.records, f.err
}

func tenRecords() pubsub.Records {
	tp := pubsub.TopicPartition{Topic: "store_v1", Partition: 0}
	records := pubsub.Records{}
	for i := 0; i < 10; i++ {
		records[tp] = append(records[tp], &pubsub.Message{TopicPartition: tp, Offset: int64(i)})
	}
	return records
}

func sameMap(a, b pubsub.Records) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func TestRecordsCanBeThrottledPerRegion(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1000, 0))
	remoteQuota := &atomic.Int64{}
	remoteQuota.Store(10)

	local := NewEventThrottler("local_throttler", FixedQuota(Unlimited), WithClock(fc))
	remote := NewEventThrottler("remote_throttler", DynamicQuota(remoteQuota), WithClock(fc))

	reg := prometheus.NewRegistry()
	throttler := NewRecordThrottler(map[string]*EventThrottler{
		"local:9092":  local,
		"remote:9092": remote,
	}, WithRegisterer(reg))

	records := tenRecords()
	localConsumer := &fixedConsumer{records: records}
	remoteConsumer := &fixedConsumer{records: records}

	got, err := throttler.Poll(localConsumer, "local:9092", time.Second)
	assert.NilError(t, err)
	assert.Assert(t, sameMap(got, records))
	got, err = throttler.Poll(remoteConsumer, "remote:9092", time.Second)
	assert.NilError(t, err)
	assert.Assert(t, sameMap(got, records))

	// pause remote consumption
	remoteQuota.Store(0)
	got, err = throttler.Poll(localConsumer, "local:9092", time.Second)
	assert.NilError(t, err)
	assert.Assert(t, sameMap(got, records))
	got, err = throttler.Poll(remoteConsumer, "remote:9092", time.Second)
	assert.NilError(t, err)
	assert.Assert(t, got != nil)
	assert.Equal(t, len(got), 0)
	assert.Equal(t, remoteConsumer.polls, 2)

	// resume after the window resets
	remoteQuota.Store(10)
	fc.Step(time.Second)
	got, err = throttler.Poll(localConsumer, "local:9092", time.Second)
	assert.NilError(t, err)
	assert.Assert(t, sameMap(got, records))
	got, err = throttler.Poll(remoteConsumer, "remote:9092", time.Second)
	assert.NilError(t, err)
	assert.Assert(t, sameMap(got, records))

	assert.Equal(t, testutil.ToFloat64(throttler.metrics.rejected.WithLabelValues("remote:9092")), float64(10))
	assert.Equal(t, testutil.ToFloat64(throttler.metrics.admitted.WithLabelValues("remote:9092")), float64(20))
}

func TestQuotaExhaustedOnOneEndpointOnly(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1000, 0))
	throttler := NewRecordThrottler(map[string]*EventThrottler{
		"dc1:9092": NewEventThrottler("dc1", FixedQuota(15), WithClock(fc)),
		"dc2:9092": NewEventThrottler("dc2", FixedQuota(15), WithClock(fc)),
	})
	records := tenRecords()
	c := &fixedConsumer{records: records}

	got, _ := throttler.Poll(c, "dc1:9092", time.Second)
	assert.Assert(t, sameMap(got, records))
	// 10 + 10 > 15, whole batch dropped
	got, _ = throttler.Poll(c, "dc1:9092", time.Second)
	assert.Equal(t, len(got), 0)
	got, _ = throttler.Poll(c, "dc2:9092", time.Second)
	assert.Assert(t, sameMap(got, records))
	assert.Assert(t, throttler.Throttler("dc1:9092") != nil)
	assert.Assert(t, throttler.Throttler("dc3:9092") == nil)
}

func TestUnknownEndpointPassesThrough(t *testing.T) {
	throttler := NewRecordThrottler(nil)
	records := tenRecords()
	got, err := throttler.Poll(&fixedConsumer{records: records}, "unknown:9092", time.Second)
	assert.NilError(t, err)
	assert.Assert(t, sameMap(got, records))
}

func TestPollErrorIsReturned(t *testing.T) {
	throttler := NewRecordThrottler(map[string]*EventThrottler{
		"dc1:9092": NewEventThrottler("dc1", FixedQuota(0)),
	})
	boom := errors.New("broker unavailable")
	_, err := throttler.Poll(&fixedConsumer{err: boom}, "dc1:9092", time.Second)
	assert.Equal(t, err, boom)
}

func TestThrottleInMemoryBroker(t *testing.T) {
	broker := pubsub.NewInMemoryBroker("local:9092")
	broker.CreateTopic("store_v1", 1)
	for i := 0; i < 6; i++ {
		_, err := broker.Produce("store_v1", 0, nil, []byte("v"))
		assert.NilError(t, err)
	}
	consumer := pubsub.NewInMemoryConsumer(broker, 3)
	consumer.Subscribe(pubsub.TopicPartition{Topic: "store_v1"}, 0)

	fc := testingclock.NewFakeClock(time.Unix(1000, 0))
	throttler := NewRecordThrottler(map[string]*EventThrottler{
		broker.Address(): NewEventThrottler("local", FixedQuota(3), WithClock(fc)),
	})
	got, err := throttler.Poll(consumer, broker.Address(), time.Second)
	assert.NilError(t, err)
	assert.Equal(t, pubsub.CountRecords(got), int64(3))
	got, err = throttler.Poll(consumer, broker.Address(), time.Second)
	assert.NilError(t, err)
	assert.Equal(t, pubsub.CountRecords(got), int64(0))
}

func TestBatchLargerThanBudgetKeepsFlowing(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1000, 0))
	throttler := NewRecordThrottler(map[string]*EventThrottler{
		"dc1:9092": NewEventThrottler("dc1", FixedQuota(4), WithClock(fc), WithCheckQuotaBeforeRecording()),
		"dc2:9092": NewEventThrottler("dc2", FixedQuota(4), WithClock(fc)),
	})
	records := tenRecords()
	c := &fixedConsumer{records: records}

	admitted := map[string]int{}
	for i := 0; i < 10; i++ {
		for _, endpoint := range []string{"dc1:9092", "dc2:9092"} {
			got, err := throttler.Poll(c, endpoint, time.Second)
			assert.NilError(t, err)
			if len(got) > 0 {
				assert.Assert(t, sameMap(got, records))
				admitted[endpoint]++
			}
		}
		fc.Step(time.Second)
	}
	// ten records cost two and a half windows of a four per second quota
	assert.Equal(t, admitted["dc1:9092"], 4)
	assert.Equal(t, admitted["dc2:9092"], 0)
}
