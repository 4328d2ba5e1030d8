package pushmonitor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/utils"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"
)

const (
	kMaxDetailedPartitions = 10
	kMaxOfflineExamples    = 5
	kVersionLevelKey       = -1

	DefaultDeadInstanceGracePeriod = time.Minute * 5
)

type PushStatusRequest struct {
	// Topic is the version topic "<store>_v<version>".
	Topic          string
	PartitionCount int
	// IncrementalPushVersion selects an incremental push epoch, empty for the base push.
	IncrementalPushVersion  string
	MaxOfflineInstanceCount int
	MaxOfflineInstanceRatio float64
	// UseSpecificErrorStatus reports a breach as
	// DVC_INGESTION_ERROR_TOO_MANY_DEAD_INSTANCES instead of ERROR.
	UseSpecificErrorStatus bool
	InstancesToIgnore      []string
}

type epochStatus struct {
	inProgress ExecutionStatus
	completion ExecutionStatus
}

func epochOf(incrementalPushVersion string) epochStatus {
	if incrementalPushVersion == "" {
		return epochStatus{inProgress: Started, completion: Completed}
	}
	return epochStatus{inProgress: StartOfIncrementalPushRecv, completion: EndOfIncrementalPushRecv}
}

// keyResult is the evaluation of one status key: a partition, or the version
// level key when partition is kVersionLevelKey.
type keyResult struct {
	partition  int
	status     ExecutionStatus
	incomplete *treeset.Set
	errored    string
}

// Aggregator reduces sparse per-instance push status reports to a cluster-wide
// status. Apart from the dead instance tracker it keeps no state between calls.
type Aggregator struct {
	reader      StatusReader
	classifier  InstanceClassifier
	tracker     *DeadInstanceTracker
	gracePeriod time.Duration
	outcomes    *prometheus.CounterVec
}

type aggregatorOpts func(a *aggregatorOptions)

type aggregatorOptions struct {
	clock       clock.PassiveClock
	tracker     *DeadInstanceTracker
	gracePeriod time.Duration
	registerer  prometheus.Registerer
}

func WithClock(c clock.PassiveClock) aggregatorOpts {
	return func(a *aggregatorOptions) {
		a.clock = c
	}
}

// WithTracker shares a tracker between aggregators.
func WithTracker(t *DeadInstanceTracker) aggregatorOpts {
	return func(a *aggregatorOptions) {
		a.tracker = t
	}
}

// WithGracePeriod sets how long a dead instance breach must last before it fails the push.
func WithGracePeriod(d time.Duration) aggregatorOpts {
	return func(a *aggregatorOptions) {
		a.gracePeriod = d
	}
}

func WithRegisterer(reg prometheus.Registerer) aggregatorOpts {
	return func(a *aggregatorOptions) {
		a.registerer = reg
	}
}

func NewAggregator(reader StatusReader, classifier InstanceClassifier, opts ...aggregatorOpts) *Aggregator {
	o := &aggregatorOptions{
		clock:       clock.RealClock{},
		gracePeriod: DefaultDeadInstanceGracePeriod,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracker == nil {
		o.tracker = NewDeadInstanceTracker(o.clock)
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routing_keeper",
		Subsystem: "push_monitor",
		Name:      "aggregations_total",
		Help:      "Push status aggregations, by resulting status.",
	}, []string{"status"})
	if o.registerer != nil {
		o.registerer.MustRegister(outcomes)
	}
	return &Aggregator{
		reader:      reader,
		classifier:  classifier,
		tracker:     o.tracker,
		gracePeriod: o.gracePeriod,
		outcomes:    outcomes,
	}
}

func (a *Aggregator) Tracker() *DeadInstanceTracker {
	return a.tracker
}

// GetPushStatusAndDetails returns the cluster-wide status of one push. Once too
// many instances stayed dead past the grace period, every call reports the
// failure until enough of them come back.
func (a *Aggregator) GetPushStatusAndDetails(req *PushStatusRequest) *ExecutionStatusWithDetails {
	ans := a.aggregate(req)
	a.outcomes.WithLabelValues(ans.Status.String()).Inc()
	logging.Verbose(1, "%s[%s]: aggregated push status %s", req.Topic, req.IncrementalPushVersion, ans)
	return ans
}

func toSet(items []string) map[string]bool {
	ans := make(map[string]bool, len(items))
	for _, item := range items {
		ans[item] = true
	}
	return ans
}

type statusKey struct {
	partition int
	statuses  StatusMap
}

func (a *Aggregator) readKeys(
	store string,
	version int,
	req *PushStatusRequest,
) (keys []*statusKey, reported bool, err error) {
	ignored := toSet(req.InstancesToIgnore)
	versionMap, err := a.reader.ReadVersionStatus(store, version, req.IncrementalPushVersion)
	if err != nil {
		return nil, false, err
	}
	if len(versionMap) > 0 {
		reported = true
		filtered := StatusMap{}
		for inst, code := range versionMap {
			if !ignored[inst] {
				filtered[inst] = code
			}
		}
		keys = append(keys, &statusKey{partition: kVersionLevelKey, statuses: filtered})
	}

	for p := 0; p < req.PartitionCount; p++ {
		statuses, err := a.reader.ReadPartitionStatus(store, version, p, req.IncrementalPushVersion)
		if err != nil {
			return nil, false, err
		}
		if len(statuses) > 0 {
			reported = true
		}
		filtered := StatusMap{}
		for inst, code := range statuses {
			if ignored[inst] {
				continue
			}
			// instances reporting at version level have moved off partition level reports
			if _, ok := versionMap[inst]; ok {
				continue
			}
			filtered[inst] = code
		}
		if len(filtered) == 0 && len(versionMap) > 0 {
			continue
		}
		keys = append(keys, &statusKey{partition: p, statuses: filtered})
	}
	return keys, reported, nil
}

func (a *Aggregator) aggregate(req *PushStatusRequest) *ExecutionStatusWithDetails {
	epoch := epochOf(req.IncrementalPushVersion)
	store, version, err := ParseVersionTopic(req.Topic)
	if err != nil {
		return &ExecutionStatusWithDetails{Status: Error, Details: err.Error()}
	}

	keys, reported, err := a.readKeys(store, version, req)
	if err != nil {
		logging.Warning("%s: read push status failed: %v", req.Topic, err)
		return &ExecutionStatusWithDetails{
			Status:  epoch.inProgress,
			Details: fmt.Sprintf("read push status failed: %v", err),
		}
	}
	if !reported {
		a.tracker.Clear(req.Topic)
		return &ExecutionStatusWithDetails{Status: NotCreated}
	}

	// classify each instance at most once; completed replicas stop
	// heartbeating, so they are never classified
	classified := map[string]InstanceStatus{}
	classify := func(inst string, code int) InstanceStatus {
		if code == epoch.completion.Code() {
			return InstanceAlive
		}
		if cls, ok := classified[inst]; ok {
			return cls
		}
		cls := a.classifier.Classify(store, inst)
		classified[inst] = cls
		return cls
	}

	results := make([]*keyResult, 0, len(keys))
	counted := map[string]bool{}
	offline := treeset.NewWithStringComparator()
	for _, key := range keys {
		res := &keyResult{
			partition:  key.partition,
			status:     epoch.completion,
			incomplete: treeset.NewWithStringComparator(),
		}
		alive := 0
		for _, inst := range utils.SortedKeys(key.statuses) {
			code := key.statuses[inst]
			switch classify(inst, code) {
			case InstanceBootstrapping:
				continue
			case InstanceDead:
				counted[inst] = true
				offline.Add(inst)
				continue
			}
			counted[inst] = true
			alive++
			status, ok := ExecutionStatusFromCode(code)
			if !ok {
				status = epoch.inProgress
			}
			switch {
			case status.IsError():
				if res.errored == "" {
					res.errored = inst
				}
				res.status = MinProgress(res.status, status)
			case status != epoch.completion:
				res.incomplete.Add(inst)
				res.status = MinProgress(res.status, epoch.inProgress)
			}
		}
		if alive == 0 {
			res.status = MinProgress(res.status, epoch.inProgress)
		}
		results = append(results, res)
	}

	total := len(counted)
	deadCount := offline.Size()
	threshold := utils.Max(req.MaxOfflineInstanceCount, int(req.MaxOfflineInstanceRatio*float64(total)))
	breaching := deadCount > threshold
	if breaching {
		// the record outlives the failure so polling keeps reporting it
		// until the breach clears
		elapsed := a.tracker.Observe(req.Topic)
		if elapsed > a.gracePeriod {
			status := Error
			if req.UseSpecificErrorStatus {
				status = DvcIngestionErrorTooManyDeadInstances
			}
			logging.Warning(
				"%s: %d of %d instances dead for %v, fail the push",
				req.Topic,
				deadCount,
				total,
				elapsed,
			)
			return &ExecutionStatusWithDetails{
				Status: status,
				Details: fmt.Sprintf(
					"Too many dead instances: %d, total instances: %d, example offline instances: %s",
					deadCount,
					total,
					formatList(offline.Values(), kMaxOfflineExamples),
				),
			}
		}
		logging.Info(
			"%s: %d of %d instances dead, wait for grace period %v, %v passed",
			req.Topic,
			deadCount,
			total,
			a.gracePeriod,
			elapsed,
		)
	} else {
		a.tracker.Clear(req.Topic)
	}

	overall := epoch.completion
	for _, res := range results {
		overall = MinProgress(overall, res.status)
	}
	if overall.IsError() {
		a.tracker.Clear(req.Topic)
		return &ExecutionStatusWithDetails{Status: overall, Details: erroredDetails(results, overall)}
	}
	if breaching {
		overall = MinProgress(overall, epoch.inProgress)
	}
	if overall.IsTerminal() {
		a.tracker.Clear(req.Topic)
		return &ExecutionStatusWithDetails{Status: overall}
	}
	return &ExecutionStatusWithDetails{Status: overall, Details: incompleteDetails(results, epoch)}
}

func formatList(values []interface{}, limit int) string {
	items := []string{}
	for i, v := range values {
		if limit > 0 && i >= limit {
			break
		}
		items = append(items, fmt.Sprint(v))
	}
	return "[" + strings.Join(items, ", ") + "]"
}

func keyName(partition int) string {
	if partition == kVersionLevelKey {
		return "version level"
	}
	return fmt.Sprintf("partition %d", partition)
}

func erroredDetails(results []*keyResult, status ExecutionStatus) string {
	for _, res := range results {
		if res.status == status && res.errored != "" {
			return fmt.Sprintf("Instance %s reported %s for %s", res.errored, status, keyName(res.partition))
		}
	}
	return ""
}

func incompleteDetails(results []*keyResult, epoch epochStatus) string {
	incomplete := []*keyResult{}
	for _, res := range results {
		if res.status != epoch.completion {
			incomplete = append(incomplete, res)
		}
	}
	sort.Slice(incomplete, func(i, j int) bool {
		return incomplete[i].partition < incomplete[j].partition
	})

	partitions := treeset.NewWithIntComparator()
	for _, res := range incomplete {
		if res.partition != kVersionLevelKey {
			partitions.Add(res.partition)
		}
	}
	if partitions.Size() > kMaxDetailedPartitions {
		return "Incomplete partitions: " + formatList(partitions.Values(), kMaxDetailedPartitions)
	}

	items := []string{}
	for _, res := range incomplete {
		instances := formatList(res.incomplete.Values(), 0)
		if res.partition == kVersionLevelKey {
			items = append(items, fmt.Sprintf("Version level (instances: %s)", instances))
		} else {
			items = append(items, fmt.Sprintf("Partition %d (instances: %s)", res.partition, instances))
		}
	}
	return strings.Join(items, ", ")
}
