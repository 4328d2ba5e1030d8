package routing

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/sets/linkedhashset"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/coordination"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/meta"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/utils"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// RoutingDataRepository keeps the resource -> partition -> online replicas
// table in sync with the coordination service.
//
// Readers never block: the table is an immutable value swapped atomically, and
// carries the declared partition counts with it. Snapshot processing is
// serialized, and listeners are notified synchronously in snapshot order.
type RoutingDataRepository struct {
	client  coordination.Client
	metrics *routingMetrics

	table atomic.Pointer[meta.RoutingTable]

	leaderMu sync.RWMutex
	leader   *meta.Instance

	listenerMu sync.Mutex
	listeners  map[string]*linkedhashset.Set

	updateMu sync.Mutex

	handlerMu  sync.Mutex
	handlerIds []coordination.HandlerId
}

type repoOpts func(r *repositoryOptions)

type repositoryOptions struct {
	registerer prometheus.Registerer
}

func WithRegisterer(reg prometheus.Registerer) repoOpts {
	return func(r *repositoryOptions) {
		r.registerer = reg
	}
}

func NewRoutingDataRepository(client coordination.Client, opts ...repoOpts) *RoutingDataRepository {
	o := &repositoryOptions{}
	for _, opt := range opts {
		opt(o)
	}
	ans := &RoutingDataRepository{
		client:    client,
		metrics:   newRoutingMetrics(o.registerer),
		listeners: map[string]*linkedhashset.Set{},
	}
	ans.table.Store(meta.EmptyRoutingTable())
	return ans
}

// Refresh resets the table and (re)registers the handlers. The client invokes
// the handlers once with the current state before registration returns.
func (r *RoutingDataRepository) Refresh() error {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	r.unregisterLocked()
	r.table.Store(meta.EmptyRoutingTable())

	viewId, err := r.client.AddExternalViewHandler(r.OnExternalViewChange)
	if err != nil {
		return errors.Wrap(err, "register external view handler")
	}
	controllerId, err := r.client.AddControllerHandler(r.OnControllerChange)
	if err != nil {
		r.client.RemoveHandler(viewId)
		return errors.Wrap(err, "register controller handler")
	}
	r.handlerIds = []coordination.HandlerId{viewId, controllerId}
	logging.Info("routing data repository registered to coordination service")
	return nil
}

// Clear unregisters the handlers and forgets all routing data and the leader.
func (r *RoutingDataRepository) Clear() {
	r.handlerMu.Lock()
	r.unregisterLocked()
	r.handlerMu.Unlock()

	r.updateMu.Lock()
	r.table.Store(meta.EmptyRoutingTable())
	r.metrics.resources.Set(0)
	r.updateMu.Unlock()

	r.leaderMu.Lock()
	r.leader = nil
	r.leaderMu.Unlock()
}

func (r *RoutingDataRepository) unregisterLocked() {
	for _, id := range r.handlerIds {
		r.client.RemoveHandler(id)
	}
	r.handlerIds = nil
}

func (r *RoutingDataRepository) buildPartitions(
	view *coordination.ExternalView,
	lives map[string]*coordination.LiveInstance,
) meta.PartitionMap {
	ans := meta.PartitionMap{}
	for _, name := range view.PartitionNames() {
		id, err := meta.PartitionIdFromName(name)
		if err != nil {
			logging.Warning("%s: skip partition: %v", view.Resource, err)
			continue
		}
		states := view.StateMap(name)
		instances := []*meta.Instance{}
		for _, instId := range utils.SortedKeys(states) {
			if states[instId] != coordination.StateOnline {
				continue
			}
			live, ok := lives[instId]
			if !ok {
				logging.Warning(
					"%s: instance %s is online for partition %d but not live, skip it",
					view.Resource,
					instId,
					id,
				)
				continue
			}
			instances = append(instances, meta.NewInstance(instId, live.Host, live.Port))
		}
		ans[id] = meta.NewPartition(id, view.Resource, instances)
	}
	return ans
}

// declaredCounts reads partition counts of resources from the declared state.
// Unreadable entries are skipped, they are retried on the next snapshot as
// the resources still count as added.
func (r *RoutingDataRepository) declaredCounts(resources []string) map[string]int {
	ans := map[string]int{}
	if len(resources) == 0 {
		return ans
	}
	states, err := r.client.IdealStates(resources)
	if err != nil {
		logging.Error("read ideal states of %v failed: %v", resources, err)
		return ans
	}
	for i, res := range resources {
		if i >= len(states) || states[i] == nil {
			logging.Warning("%s: ideal state is missing, skip its partition count", res)
			continue
		}
		if states[i].NumPartitions <= 0 {
			logging.Warning(
				"%s: ideal state has invalid partition count %d, skip it",
				res,
				states[i].NumPartitions,
			)
			continue
		}
		ans[res] = states[i].NumPartitions
	}
	return ans
}

func (r *RoutingDataRepository) OnExternalViewChange(views []*coordination.ExternalView, initial bool) {
	if initial && len(views) == 0 {
		logging.Info("ignore empty initial external view snapshot")
		r.metrics.snapshots.WithLabelValues("ignored").Inc()
		return
	}

	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	lives, err := r.client.LiveInstances()
	if err != nil {
		logging.Error("read live instances failed, skip the snapshot: %v", err)
		r.metrics.snapshots.WithLabelValues("failed").Inc()
		return
	}

	old := r.table.Load()
	partitions := make(map[string]meta.PartitionMap, len(views))
	names := make([]string, 0, len(views))
	for _, view := range views {
		if _, ok := partitions[view.Resource]; !ok {
			names = append(names, view.Resource)
		}
		partitions[view.Resource] = r.buildPartitions(view, lives)
	}

	deleted, _, added := utils.Diff(old.CountedResources(), names)
	sort.Strings(added)
	newTable := old.Rebuild(partitions, r.declaredCounts(added), deleted)
	r.table.Store(newTable)

	logging.Info(
		"routing table updated: %d resources, added %v, deleted %v",
		len(names),
		added,
		deleted,
	)
	r.metrics.resources.Set(float64(len(names)))
	r.metrics.snapshots.WithLabelValues("applied").Inc()

	r.notifyListeners(newTable)
}

func (r *RoutingDataRepository) OnControllerChange(event coordination.ControllerEvent) {
	if event.Type == coordination.ControllerFinalize {
		logging.Verbose(1, "ignore controller %s event", event.Type)
		return
	}
	id, ok, err := r.client.ControllerLeader()
	if err != nil {
		logging.Error("read controller leader failed: %v", err)
		return
	}

	r.leaderMu.Lock()
	defer r.leaderMu.Unlock()
	if !ok {
		logging.Warning("cluster has no leader controller now")
		r.leader = nil
		return
	}
	leader, err := meta.ParseNodeIdentifier(id)
	if err != nil {
		logging.Error("can't parse leader controller id %s: %v", id, err)
		r.leader = nil
		return
	}
	if !leader.Equals(r.leader) {
		logging.Info("leader controller changed to %s", leader.String())
	}
	r.leader = leader
}

// Table returns the currently published table.
func (r *RoutingDataRepository) Table() *meta.RoutingTable {
	return r.table.Load()
}

func (r *RoutingDataRepository) GetInstances(resource string, partitionId int) ([]*meta.Instance, error) {
	return r.table.Load().Instances(resource, partitionId)
}

func (r *RoutingDataRepository) GetPartitions(resource string) (meta.PartitionMap, error) {
	return r.table.Load().Partitions(resource)
}

func (r *RoutingDataRepository) GetNumberOfPartitions(resource string) (int, error) {
	return r.table.Load().PartitionCount(resource)
}

// ContainsResource reports whether the declared partition count of resource is known.
func (r *RoutingDataRepository) ContainsResource(resource string) bool {
	return r.table.Load().HasPartitionCount(resource)
}

func (r *RoutingDataRepository) ListResources() []string {
	return r.table.Load().Resources()
}

func (r *RoutingDataRepository) GetLeader() (*meta.Instance, error) {
	r.leaderMu.RLock()
	defer r.leaderMu.RUnlock()
	if r.leader == nil {
		return nil, errors.Wrap(meta.ErrNotFound, "no leader controller")
	}
	return r.leader, nil
}
