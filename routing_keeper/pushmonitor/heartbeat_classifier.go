package pushmonitor

import (
	"context"
	"time"

	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/metastore"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/utils"
	"k8s.io/utils/clock"
)

const (
	DefaultHeartbeatTimeout = time.Minute * 2
)

type heartbeat struct {
	HeartbeatMs   int64 `json:"heartbeat_ms"`
	Bootstrapping bool  `json:"bootstrapping"`
}

// HeartbeatClassifier judges instances by the heartbeat they write to
// <root>/<store>/<instance>. Missing or stale heartbeats mean dead.
type HeartbeatClassifier struct {
	store   metastore.MetaStore
	root    string
	timeout time.Duration
	clock   clock.PassiveClock
}

type heartbeatOpts func(h *HeartbeatClassifier)

func WithHeartbeatTimeout(d time.Duration) heartbeatOpts {
	return func(h *HeartbeatClassifier) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func WithHeartbeatClock(c clock.PassiveClock) heartbeatOpts {
	return func(h *HeartbeatClassifier) {
		h.clock = c
	}
}

func NewHeartbeatClassifier(store metastore.MetaStore, root string, opts ...heartbeatOpts) *HeartbeatClassifier {
	ans := &HeartbeatClassifier{
		store:   store,
		root:    root,
		timeout: DefaultHeartbeatTimeout,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(ans)
	}
	return ans
}

func (h *HeartbeatClassifier) path(store, instanceId string) string {
	return h.root + "/" + store + "/" + instanceId
}

// Classify treats an unreachable store as alive, failing a push needs evidence.
func (h *HeartbeatClassifier) Classify(store, instanceId string) InstanceStatus {
	ctx, cancel := context.WithTimeout(context.Background(), kDefaultStoreTimeout)
	defer cancel()

	data, exists, succ := h.store.Get(ctx, h.path(store, instanceId))
	if !succ {
		logging.Warning("%s: read heartbeat of %s failed, treat as alive", store, instanceId)
		return InstanceAlive
	}
	if !exists {
		return InstanceDead
	}
	hb := &heartbeat{}
	if err := utils.UnmarshalJson(data, hb); err != nil {
		logging.Warning("%s: heartbeat of %s is unreadable, treat as dead: %v", store, instanceId, err)
		return InstanceDead
	}
	if hb.Bootstrapping {
		return InstanceBootstrapping
	}
	if h.clock.Since(time.UnixMilli(hb.HeartbeatMs)) > h.timeout {
		return InstanceDead
	}
	return InstanceAlive
}

// Beat records a heartbeat for instanceId now.
func (h *HeartbeatClassifier) Beat(ctx context.Context, store, instanceId string, bootstrapping bool) bool {
	if !h.store.RecursiveCreate(ctx, h.root+"/"+store) {
		return false
	}
	return h.store.WriteBatch(ctx, &metastore.PutOp{
		Path: h.path(store, instanceId),
		Data: utils.MarshalJsonOrDie(&heartbeat{
			HeartbeatMs:   h.clock.Now().UnixMilli(),
			Bootstrapping: bootstrapping,
		}),
	})
}
