package routing

import (
	"sort"

	"github.com/emirpasic/gods/sets/linkedhashset"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/meta"
)

type ChangeListener interface {
	// HandleRoutingDataChange gets the partitions of resource after a change,
	// nil once the resource is gone. It's called for every snapshot, changed
	// or not; diff against earlier calls if needed. The map is shared, don't
	// modify it.
	HandleRoutingDataChange(resource string, partitions meta.PartitionMap)
}

type ChangeListenerFunc func(resource string, partitions meta.PartitionMap)

func (f ChangeListenerFunc) HandleRoutingDataChange(resource string, partitions meta.PartitionMap) {
	f(resource, partitions)
}

// Subscription identifies one registration of a listener. Subscribing the
// same listener twice yields two subscriptions and two callbacks per change.
type Subscription struct {
	repo     *RoutingDataRepository
	resource string
	listener ChangeListener
}

func (s *Subscription) Unsubscribe() {
	s.repo.Unsubscribe(s)
}

type pendingNotify struct {
	resource  string
	listeners []ChangeListener
}

// Subscribe may be called from inside a listener callback; the new listener
// is first notified on the next change.
func (r *RoutingDataRepository) Subscribe(resource string, listener ChangeListener) *Subscription {
	sub := &Subscription{repo: r, resource: resource, listener: listener}
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	set, ok := r.listeners[resource]
	if !ok {
		set = linkedhashset.New()
		r.listeners[resource] = set
	}
	set.Add(sub)
	return sub
}

func (r *RoutingDataRepository) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	set, ok := r.listeners[sub.resource]
	if !ok {
		return
	}
	set.Remove(sub)
	if set.Empty() {
		delete(r.listeners, sub.resource)
	}
}

// SubscribedResources lists resources with at least one listener.
func (r *RoutingDataRepository) SubscribedResources() []string {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	ans := make([]string, 0, len(r.listeners))
	for res := range r.listeners {
		ans = append(ans, res)
	}
	sort.Strings(ans)
	return ans
}

func (r *RoutingDataRepository) snapshotListeners() []pendingNotify {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	ans := make([]pendingNotify, 0, len(r.listeners))
	for res, set := range r.listeners {
		item := pendingNotify{resource: res}
		for _, v := range set.Values() {
			item.listeners = append(item.listeners, v.(*Subscription).listener)
		}
		ans = append(ans, item)
	}
	sort.Slice(ans, func(i, j int) bool {
		return ans[i].resource < ans[j].resource
	})
	return ans
}

func (r *RoutingDataRepository) notifyListeners(table *meta.RoutingTable) {
	for _, item := range r.snapshotListeners() {
		parts, err := table.Partitions(item.resource)
		if err != nil {
			parts = nil
		}
		for _, l := range item.listeners {
			l.HandleRoutingDataChange(item.resource, parts)
		}
	}
}
