package throttle

import (
	"time"

	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/pubsub"
	"github.com/prometheus/client_golang/prometheus"
)

type recordMetrics struct {
	admitted *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

func newRecordMetrics(reg prometheus.Registerer) *recordMetrics {
	m := &recordMetrics{
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routing_keeper",
			Subsystem: "ingestion",
			Name:      "admitted_records_total",
			Help:      "Records handed to ingestion after the endpoint throttler admitted them.",
		}, []string{"endpoint"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routing_keeper",
			Subsystem: "ingestion",
			Name:      "rejected_records_total",
			Help:      "Records dropped from a poll because the endpoint quota was exhausted.",
		}, []string{"endpoint"}),
	}
	if reg != nil {
		reg.MustRegister(m.admitted, m.rejected)
	}
	return m
}

// RecordThrottler gates consumption per upstream endpoint, e.g. one broker per
// region. The endpoint set is fixed at construction.
type RecordThrottler struct {
	throttlers map[string]*EventThrottler
	metrics    *recordMetrics
}

type recordOpts func(r *recordThrottlerOptions)

type recordThrottlerOptions struct {
	registerer prometheus.Registerer
}

func WithRegisterer(reg prometheus.Registerer) recordOpts {
	return func(r *recordThrottlerOptions) {
		r.registerer = reg
	}
}

func NewRecordThrottler(throttlers map[string]*EventThrottler, opts ...recordOpts) *RecordThrottler {
	o := &recordThrottlerOptions{}
	for _, opt := range opts {
		opt(o)
	}
	owned := make(map[string]*EventThrottler, len(throttlers))
	for endpoint, t := range throttlers {
		owned[endpoint] = t
	}
	return &RecordThrottler{
		throttlers: owned,
		metrics:    newRecordMetrics(o.registerer),
	}
}

func (r *RecordThrottler) Throttler(endpoint string) *EventThrottler {
	return r.throttlers[endpoint]
}

// Poll fetches from consumer and admits the whole batch or nothing. A rejected
// batch is not rewound on the consumer; the caller polls again later.
func (r *RecordThrottler) Poll(
	consumer pubsub.Consumer,
	endpoint string,
	timeout time.Duration,
) (pubsub.Records, error) {
	records, err := consumer.Poll(timeout)
	if err != nil {
		return records, err
	}
	count := pubsub.CountRecords(records)
	t, ok := r.throttlers[endpoint]
	if !ok {
		r.metrics.admitted.WithLabelValues(endpoint).Add(float64(count))
		return records, nil
	}
	if !t.TryAcquire(count) {
		logging.Verbose(1, "%s: reject %d records for quota exhausted", endpoint, count)
		r.metrics.rejected.WithLabelValues(endpoint).Add(float64(count))
		return pubsub.Records{}, nil
	}
	r.metrics.admitted.WithLabelValues(endpoint).Add(float64(count))
	return records, nil
}
