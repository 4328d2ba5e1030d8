package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/pubsub"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/pushmonitor"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/throttle"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/utils"
)

const (
	kIngestionBackoff = time.Millisecond * 200
	kWriteTimeout     = time.Second * 10
)

// StatusReport is what a replica publishes when its push status changes.
// Partition is pushmonitor.VersionLevel for a version level report.
type StatusReport struct {
	Store                  string `json:"store"`
	Version                int    `json:"version"`
	Partition              int    `json:"partition"`
	IncrementalPushVersion string `json:"incremental_push_version,omitempty"`
	Instance               string `json:"instance"`
	Status                 int    `json:"status"`
}

// statusIngester moves status reports from a broker into the status store,
// gated by the endpoint quota. A message is acked only once its report is
// stored, so a failed write is redelivered.
type statusIngester struct {
	consumer    pubsub.Consumer
	endpoint    string
	throttler   *throttle.RecordThrottler
	writer      *pushmonitor.StoreStatusReader
	pollTimeout time.Duration

	quit chan struct{}
	wg   sync.WaitGroup
}

func newStatusIngester(
	consumer pubsub.Consumer,
	endpoint string,
	throttler *throttle.RecordThrottler,
	writer *pushmonitor.StoreStatusReader,
	pollTimeout time.Duration,
) *statusIngester {
	return &statusIngester{
		consumer:    consumer,
		endpoint:    endpoint,
		throttler:   throttler,
		writer:      writer,
		pollTimeout: pollTimeout,
		quit:        make(chan struct{}),
	}
}

func (i *statusIngester) start() {
	i.wg.Add(1)
	go i.run()
}

func (i *statusIngester) stop() {
	close(i.quit)
	i.wg.Wait()
}

func (i *statusIngester) run() {
	defer i.wg.Done()
	for {
		select {
		case <-i.quit:
			return
		default:
		}
		if i.pollOnce() > 0 {
			continue
		}
		select {
		case <-i.quit:
			return
		case <-time.After(kIngestionBackoff):
		}
	}
}

func (i *statusIngester) pollOnce() int {
	records, err := i.throttler.Poll(i.consumer, i.endpoint, i.pollTimeout)
	if err != nil {
		logging.Warning("%s: poll status reports failed: %v", i.endpoint, err)
	}
	tps := make([]pubsub.TopicPartition, 0, len(records))
	for tp := range records {
		tps = append(tps, tp)
	}
	sort.Slice(tps, func(a, b int) bool {
		if tps[a].Topic != tps[b].Topic {
			return tps[a].Topic < tps[b].Topic
		}
		return tps[a].Partition < tps[b].Partition
	})

	applied := 0
	for _, tp := range tps {
		for _, msg := range records[tp] {
			if i.apply(msg) {
				applied++
			}
		}
	}
	return applied
}

func (i *statusIngester) apply(msg *pubsub.Message) bool {
	report := &StatusReport{}
	if err := utils.UnmarshalJson(msg.Value, report); err != nil || report.Store == "" || report.Instance == "" {
		logging.Warning("%s: drop malformed status report at %s@%d: %v", i.endpoint, msg.TopicPartition, msg.Offset, err)
		i.ack(msg)
		return false
	}
	if report.Partition < pushmonitor.VersionLevel {
		logging.Warning("%s: drop status report with invalid partition %d from %s", i.endpoint, report.Partition, report.Instance)
		i.ack(msg)
		return false
	}
	status, ok := pushmonitor.ExecutionStatusFromCode(report.Status)
	if !ok {
		logging.Warning("%s: drop status report with unknown code %d from %s", i.endpoint, report.Status, report.Instance)
		i.ack(msg)
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), kWriteTimeout)
	defer cancel()
	if !i.writer.WriteInstanceStatus(
		ctx,
		report.Store,
		report.Version,
		report.Partition,
		report.IncrementalPushVersion,
		report.Instance,
		status,
	) {
		logging.Warning("%s: store status of %s for %s_v%d failed", i.endpoint, report.Instance, report.Store, report.Version)
		return false
	}
	i.ack(msg)
	return true
}

func (i *statusIngester) ack(msg *pubsub.Message) {
	if err := msg.Ack(); err != nil {
		logging.Warning("%s: ack %s@%d failed: %v", i.endpoint, msg.TopicPartition, msg.Offset, err)
	}
}
