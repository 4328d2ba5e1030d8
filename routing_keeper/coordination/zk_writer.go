package coordination

import (
	"context"

	"github.com/kuaishou/open_routing_keeper/routing_keeper/meta"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/metastore"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/utils"
)

// The writers below play the participant/controller side of the layout. They
// are used by tooling and tests, the routing layer only reads.

func (c *ZkClient) EnsureLayout(ctx context.Context) bool {
	for _, p := range []string{
		c.externalViewPath(),
		c.liveInstancePath(),
		c.idealStatePath(),
		c.root + "/" + kControllerNode,
	} {
		if !c.store.RecursiveCreate(ctx, p) {
			return false
		}
	}
	return true
}

// CreateResource declares the partition count and publishes the view together.
func (c *ZkClient) CreateResource(ctx context.Context, numPartitions int, view *ExternalView) bool {
	return c.store.WriteBatch(
		ctx,
		&metastore.PutOp{
			Path: c.idealStatePath() + "/" + view.Resource,
			Data: utils.MarshalJsonOrDie(&IdealState{NumPartitions: numPartitions}),
		},
		&metastore.PutOp{
			Path: c.externalViewPath() + "/" + view.Resource,
			Data: utils.MarshalJsonOrDie(view),
		},
	)
}

func (c *ZkClient) PublishExternalView(ctx context.Context, view *ExternalView) bool {
	return c.store.WriteBatch(ctx, &metastore.PutOp{
		Path: c.externalViewPath() + "/" + view.Resource,
		Data: utils.MarshalJsonOrDie(view),
	})
}

func (c *ZkClient) DropResource(ctx context.Context, resource string) bool {
	return c.store.WriteBatch(
		ctx,
		&metastore.DeleteOp{Path: c.externalViewPath() + "/" + resource},
		&metastore.DeleteOp{Path: c.idealStatePath() + "/" + resource},
	)
}

func (c *ZkClient) RegisterLiveInstance(ctx context.Context, inst *meta.Instance) bool {
	return c.store.Create(
		ctx,
		c.liveInstancePath()+"/"+inst.NodeId,
		utils.MarshalJsonOrDie(&LiveInstance{Host: inst.Host, Port: inst.Port}),
	)
}

func (c *ZkClient) UnregisterLiveInstance(ctx context.Context, nodeId string) bool {
	return c.store.Delete(ctx, c.liveInstancePath()+"/"+nodeId)
}

// SetLeader publishes a leader, an empty id removes it.
func (c *ZkClient) SetLeader(ctx context.Context, nodeId string) bool {
	if nodeId == "" {
		return c.store.Delete(ctx, c.leaderPath())
	}
	return c.store.WriteBatch(ctx, &metastore.PutOp{
		Path: c.leaderPath(),
		Data: utils.MarshalJsonOrDie(&leaderProps{Id: nodeId}),
	})
}
