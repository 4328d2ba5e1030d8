package pushmonitor

import (
	"context"
	"testing"
	"time"

	"github.com/kuaishou/open_routing_keeper/routing_keeper/metastore"
	"gotest.tools/assert"
	testingclock "k8s.io/utils/clock/testing"
)

func TestStoreStatusReader(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMockMetaStore()
	reader := NewStoreStatusReader(store, "/cluster/push_status")

	ans, err := reader.ReadVersionStatus("store", 1, "")
	assert.NilError(t, err)
	assert.Equal(t, len(ans), 0)

	assert.Assert(t, reader.WriteInstanceStatus(ctx, "store", 1, 0, "", "i1", Started))
	assert.Assert(t, reader.WriteInstanceStatus(ctx, "store", 1, 0, "", "i2", Started))
	assert.Assert(t, reader.WriteInstanceStatus(ctx, "store", 1, 0, "", "i1", Completed))
	assert.Assert(t, reader.WriteInstanceStatus(ctx, "store", 1, VersionLevel, "", "i3", EndOfPushReceived))
	assert.Assert(t, reader.WriteInstanceStatus(ctx, "store", 1, 0, "ipv1", "i1", StartOfIncrementalPushRecv))

	ans, err = reader.ReadPartitionStatus("store", 1, 0, "")
	assert.NilError(t, err)
	assert.DeepEqual(t, ans, StatusMap{"i1": 10, "i2": 2})

	ans, err = reader.ReadVersionStatus("store", 1, "")
	assert.NilError(t, err)
	assert.DeepEqual(t, ans, StatusMap{"i3": 3})

	ans, err = reader.ReadPartitionStatus("store", 1, 0, "ipv1")
	assert.NilError(t, err)
	assert.DeepEqual(t, ans, StatusMap{"i1": 7})

	ans, err = reader.ReadPartitionStatus("store", 1, 1, "")
	assert.NilError(t, err)
	assert.Equal(t, len(ans), 0)

	// unreadable reports are skipped
	assert.Assert(t, store.Create(ctx, "/cluster/push_status/store/v1/partitions/0/i4", []byte("garbage")))
	ans, err = reader.ReadPartitionStatus("store", 1, 0, "")
	assert.NilError(t, err)
	assert.Equal(t, len(ans), 2)

	assert.Assert(t, reader.DropVersion(ctx, "store", 1))
	ans, err = reader.ReadPartitionStatus("store", 1, 0, "ipv1")
	assert.NilError(t, err)
	assert.Equal(t, len(ans), 0)
}

func TestAggregateFromStore(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMockMetaStore()
	reader := NewStoreStatusReader(store, "/push")
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	classifier := NewHeartbeatClassifier(store, "/heartbeat", WithHeartbeatClock(clk))
	agg := NewAggregator(reader, classifier, WithClock(clk), WithGracePeriod(0))
	req := request("store_v1", 2, "", 0, 0)

	for _, inst := range []string{"i1", "i2"} {
		assert.Assert(t, classifier.Beat(ctx, "store", inst, false))
		for p := 0; p < 2; p++ {
			assert.Assert(t, reader.WriteInstanceStatus(ctx, "store", 1, p, "", inst, Started))
		}
	}
	assert.Equal(t, agg.GetPushStatusAndDetails(req).Status, Started)

	for p := 0; p < 2; p++ {
		assert.Assert(t, reader.WriteInstanceStatus(ctx, "store", 1, p, "", "i1", Completed))
	}
	ans := agg.GetPushStatusAndDetails(req)
	assert.Equal(t, ans.Status, Started)
	assert.Equal(t, ans.Details, "Partition 0 (instances: [i2]), Partition 1 (instances: [i2])")

	// i2 stops beating, i1 finished and doesn't beat either
	clk.Step(DefaultHeartbeatTimeout + time.Second)
	assert.Equal(t, agg.GetPushStatusAndDetails(req).Status, Started)
	clk.Step(time.Millisecond)
	ans = agg.GetPushStatusAndDetails(req)
	assert.Equal(t, ans.Status, DvcIngestionErrorTooManyDeadInstances)
	assert.Equal(t, ans.Details, "Too many dead instances: 1, total instances: 2, example offline instances: [i2]")
}

func TestHeartbeatClassifier(t *testing.T) {
	ctx := context.Background()
	store := metastore.NewMockMetaStore()
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	classifier := NewHeartbeatClassifier(
		store,
		"/heartbeat",
		WithHeartbeatClock(clk),
		WithHeartbeatTimeout(time.Minute),
	)

	assert.Equal(t, classifier.Classify("store", "i1"), InstanceDead)

	assert.Assert(t, classifier.Beat(ctx, "store", "i1", false))
	assert.Assert(t, classifier.Beat(ctx, "store", "i2", true))
	assert.Equal(t, classifier.Classify("store", "i1"), InstanceAlive)
	assert.Equal(t, classifier.Classify("store", "i2"), InstanceBootstrapping)
	assert.Equal(t, classifier.Classify("other", "i1"), InstanceDead)

	clk.Step(time.Minute)
	assert.Equal(t, classifier.Classify("store", "i1"), InstanceAlive)
	clk.Step(time.Second)
	assert.Equal(t, classifier.Classify("store", "i1"), InstanceDead)
	assert.Assert(t, classifier.Beat(ctx, "store", "i1", false))
	assert.Equal(t, classifier.Classify("store", "i1"), InstanceAlive)

	assert.Assert(t, store.Set(ctx, "/heartbeat/store/i1", []byte("{")))
	assert.Equal(t, classifier.Classify("store", "i1"), InstanceDead)
}

func TestCachedClassifier(t *testing.T) {
	calls := map[string]int{}
	status := InstanceAlive
	inner := ClassifierFunc(func(store, instanceId string) InstanceStatus {
		calls[store+"/"+instanceId]++
		return status
	})
	cached := NewCachedClassifier(inner, time.Hour)

	for i := 0; i < 3; i++ {
		assert.Equal(t, cached.Classify("store", "i1"), InstanceAlive)
	}
	assert.Equal(t, calls["store/i1"], 1)
	assert.Equal(t, cached.Classify("other", "i1"), InstanceAlive)
	assert.Equal(t, calls["other/i1"], 1)

	status = InstanceDead
	assert.Equal(t, cached.Classify("store", "i1"), InstanceAlive)
	cached.Invalidate("store", "i1")
	assert.Equal(t, cached.Classify("store", "i1"), InstanceDead)
	assert.Equal(t, calls["store/i1"], 2)
}

func TestDeadInstanceTracker(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	tracker := NewDeadInstanceTracker(clk)

	assert.Equal(t, tracker.Observe("a_v1"), time.Duration(0))
	clk.Step(time.Second)
	assert.Equal(t, tracker.Observe("a_v1"), time.Second)
	assert.Equal(t, tracker.Observe("b_v1"), time.Duration(0))
	assert.Equal(t, tracker.Len(), 2)

	first, ok := tracker.FirstBreach("a_v1")
	assert.Assert(t, ok)
	assert.Equal(t, first, time.Unix(1700000000, 0))

	tracker.Clear("a_v1")
	tracker.Clear("a_v1")
	_, ok = tracker.FirstBreach("a_v1")
	assert.Assert(t, !ok)
	clk.Step(time.Second)
	assert.Equal(t, tracker.Observe("a_v1"), time.Duration(0))
}
