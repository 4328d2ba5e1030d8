package metastore

import (
	"context"
)

type WatchEventType int

const (
	EventNodeCreated WatchEventType = iota + 1
	EventNodeDeleted
	EventNodeDataChanged
	EventNodeChildrenChanged
	// the watch is gone without a node change, e.g. the store is closing
	EventNotWatching
)

func (t WatchEventType) String() string {
	switch t {
	case EventNodeCreated:
		return "NodeCreated"
	case EventNodeDeleted:
		return "NodeDeleted"
	case EventNodeDataChanged:
		return "NodeDataChanged"
	case EventNodeChildrenChanged:
		return "NodeChildrenChanged"
	case EventNotWatching:
		return "NotWatching"
	default:
		return "Unknown"
	}
}

type WatchEvent struct {
	Type WatchEventType
	Path string
	Err  error
}

// A watch fires at most once. Watching a missing node waits for its creation.
type Watch <-chan WatchEvent

type MetaStore interface {
	Close()

	Get(ctx context.Context, path string) (data []byte, exists bool, succ bool)
	Children(ctx context.Context, path string) (subs []string, exists bool, succ bool)

	GetW(ctx context.Context, path string) (data []byte, exists bool, watch Watch, succ bool)
	ChildrenW(ctx context.Context, path string) (subs []string, exists bool, watch Watch, succ bool)

	Create(ctx context.Context, path string, data []byte) (succ bool)
	Set(ctx context.Context, path string, data []byte) (succ bool)
	Delete(ctx context.Context, path string) (succ bool)

	WriteBatch(ctx context.Context, ops ...WriteOp) (succ bool)

	RecursiveCreate(ctx context.Context, path string) (succ bool)
	RecursiveDelete(ctx context.Context, path string) (succ bool)
}
