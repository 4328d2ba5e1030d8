package metastore

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/throttle"
)

const (
	DefaultMaxAccessZkQps = 20000
)

type zooLogAdapter struct{}

func (z *zooLogAdapter) Printf(format string, args ...interface{}) {
	logging.Info(format, args...)
}

type zkStoreOpts func(z *ZookeeperStore)

// WithMaxQps bounds the request rate against zookeeper. Non-positive disables the bound.
func WithMaxQps(qps int64) zkStoreOpts {
	return func(z *ZookeeperStore) {
		if qps <= 0 {
			qps = throttle.Unlimited
		}
		z.rateLimiter.SetQuota(throttle.FixedQuota(qps))
	}
}

func CreateZookeeperStore(
	zkHosts []string,
	timeout time.Duration,
	acl []zk.ACL,
	scheme string,
	auth []byte,
	opts ...zkStoreOpts,
) *ZookeeperStore {
	result := &ZookeeperStore{
		rateLimiter: throttle.NewEventThrottler(
			"zk_access",
			throttle.FixedQuota(DefaultMaxAccessZkQps),
		),
	}
	for _, opt := range opts {
		opt(result)
	}
	var err error
	result.acl = acl
	result.conn, result.eventWatcher, err = zk.Connect(
		zkHosts,
		timeout,
		zk.WithLogger(&zooLogAdapter{}),
	)
	if err != nil {
		logging.Fatal("can't connect to hosts: %v", zkHosts)
	}
	go result.watchSessionEvent()
	// wait a while for the session to connected
	time.Sleep(time.Millisecond * 50)

	if len(auth) > 0 && scheme != "" {
		succ := result.addAuth(context.Background(), scheme, auth)
		logging.Assert(succ, "")
	}
	return result
}

type ZookeeperStore struct {
	conn         *zk.Conn
	eventWatcher <-chan zk.Event
	manualClosed atomic.Bool
	acl          []zk.ACL
	rateLimiter  *throttle.EventThrottler
}

type accessZk func(conn *zk.Conn) error

var zkShouldRetryErrors = []error{
	zk.ErrUnknown,
	zk.ErrSessionMoved,
	zk.ErrConnectionClosed,
}

var zkLogicErrors = []error{
	zk.ErrNoNode,
	zk.ErrNodeExists,
	zk.ErrNotEmpty,
}

func errorContains(expect []error, given error) bool {
	for _, e := range expect {
		if e == given {
			return true
		}
	}
	return false
}

func (z *ZookeeperStore) watchSessionEvent() {
	for event := range z.eventWatcher {
		if event.Type != zk.EventSession {
			logging.Warning("got zk event %s", &event)
			continue
		}
		switch event.State {
		case zk.StateConnecting, zk.StateConnected, zk.StateHasSession:
			logging.Info("got zk event %s", event.State.String())
		case zk.StateDisconnected:
			if z.manualClosed.Load() {
				return
			}
			logging.Fatal("got unexpected zk event %v", &event)
		default:
			logging.Fatal("got unexpected zk event %v", &event)
		}
	}
}

func (z *ZookeeperStore) retryAccessZk(ctx context.Context, f accessZk, expect []error) bool {
	if !z.rateLimiter.Acquire(ctx, 1) {
		logging.Info("give up accessing zk as context is done while waiting for quota")
		return false
	}
	tryCount := 1
	for {
		state := z.conn.State()
		switch state {
		case zk.StateExpired:
			logging.Fatal("quit due to zk session has gone: %s", state.String())
		case zk.StateConnected, zk.StateHasSession:
			err := f(z.conn)
			if err == nil {
				logging.Verbose(1, "operate zk succeed with no error with %d times(s)", tryCount)
				return true
			}
			if errorContains(expect, err) {
				logging.Info(
					"operate zk got %s, treat succeed, with %d time(s)",
					err.Error(),
					tryCount,
				)
				return true
			}
			if errorContains(zkShouldRetryErrors, err) {
				logging.Warning(
					"operate zk got %s with %d times(s), should retry",
					err.Error(),
					tryCount,
				)
			} else if errorContains(zkLogicErrors, err) {
				return false
			} else {
				logging.Fatal("operate zk got error %s with %d times(s), can't recover", err.Error(), tryCount)
			}
		default:
			logging.Warning("wait zk %s to recover, has try %d times", state.String(), tryCount)
		}
		tryCount++

		sleepFor := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			logging.Info("don't continue to try as context is not allowed")
			sleepFor.Stop()
			return false
		case <-sleepFor.C:
			logging.Info("retry as 1 seconds has passed, old state: %s", state.String())
		}
	}
}

func convertEventType(t zk.EventType) WatchEventType {
	switch t {
	case zk.EventNodeCreated:
		return EventNodeCreated
	case zk.EventNodeDeleted:
		return EventNodeDeleted
	case zk.EventNodeDataChanged:
		return EventNodeDataChanged
	case zk.EventNodeChildrenChanged:
		return EventNodeChildrenChanged
	default:
		return EventNotWatching
	}
}

func toWatch(path string, ch <-chan zk.Event) Watch {
	out := make(chan WatchEvent, 1)
	go func() {
		e, ok := <-ch
		if !ok {
			out <- WatchEvent{Type: EventNotWatching, Path: path}
			return
		}
		out <- WatchEvent{Type: convertEventType(e.Type), Path: path, Err: e.Err}
	}()
	return out
}

func (z *ZookeeperStore) Close() {
	z.manualClosed.Store(true)
	z.conn.Close()
}

func (z *ZookeeperStore) Create(ctx context.Context, path string, data []byte) bool {
	op := func(conn *zk.Conn) error {
		_, err := conn.Create(path, data, 0, z.acl)
		logging.Info("create zk node %s got result: %v", path, err)
		return err
	}
	return z.retryAccessZk(ctx, op, []error{zk.ErrNodeExists})
}

func (z *ZookeeperStore) Delete(ctx context.Context, path string) bool {
	op := func(conn *zk.Conn) error {
		err := conn.Delete(path, -1)
		logging.Info("delete zk node %s got result: %v", path, err)
		return err
	}
	return z.retryAccessZk(ctx, op, []error{zk.ErrNoNode})
}

func (z *ZookeeperStore) Set(ctx context.Context, path string, data []byte) bool {
	op := func(conn *zk.Conn) error {
		_, err := conn.Set(path, data, -1)
		logging.Info("set zk node %s got result: %v", path, err)
		return err
	}
	return z.retryAccessZk(ctx, op, nil)
}

func (z *ZookeeperStore) Get(ctx context.Context, path string) ([]byte, bool, bool) {
	var data []byte
	var err error
	op := func(conn *zk.Conn) error {
		data, _, err = conn.Get(path)
		if err == nil {
			logging.Verbose(1, "get zk node %s got result: %v", path, err)
		} else {
			logging.Info("get zk node %s got result: %v", path, err)
		}
		return err
	}
	ans := z.retryAccessZk(ctx, op, []error{zk.ErrNoNode})
	return data, err != zk.ErrNoNode, ans
}

func (z *ZookeeperStore) Children(ctx context.Context, path string) ([]string, bool, bool) {
	var children []string
	var err error
	op := func(conn *zk.Conn) error {
		children, _, err = conn.Children(path)
		if err == nil {
			logging.Verbose(1, "list zk node %s get result: %v", path, err)
		} else {
			logging.Info("list zk node %s get result: %v", path, err)
		}
		return err
	}
	ans := z.retryAccessZk(ctx, op, []error{zk.ErrNoNode})
	return children, err != zk.ErrNoNode, ans
}

// existsW arms a creation watch on a missing node. It reports true if the
// node showed up in between, in which case the caller reads it again.
func existsW(conn *zk.Conn, path string) (bool, <-chan zk.Event, error) {
	exists, _, ch, err := conn.ExistsW(path)
	return exists, ch, err
}

func (z *ZookeeperStore) GetW(ctx context.Context, path string) ([]byte, bool, Watch, bool) {
	var data []byte
	var exists bool
	var watch Watch
	op := func(conn *zk.Conn) error {
		for {
			d, _, ch, err := conn.GetW(path)
			if err == nil {
				data, exists, watch = d, true, toWatch(path, ch)
				return nil
			}
			if err != zk.ErrNoNode {
				logging.Info("watch zk node %s got result: %v", path, err)
				return err
			}
			created, ch, err := existsW(conn, path)
			if err != nil {
				return err
			}
			if !created {
				data, exists, watch = nil, false, toWatch(path, ch)
				return nil
			}
		}
	}
	ans := z.retryAccessZk(ctx, op, nil)
	return data, exists, watch, ans
}

func (z *ZookeeperStore) ChildrenW(ctx context.Context, path string) ([]string, bool, Watch, bool) {
	var children []string
	var exists bool
	var watch Watch
	op := func(conn *zk.Conn) error {
		for {
			subs, _, ch, err := conn.ChildrenW(path)
			if err == nil {
				children, exists, watch = subs, true, toWatch(path, ch)
				return nil
			}
			if err != zk.ErrNoNode {
				logging.Info("watch zk children %s got result: %v", path, err)
				return err
			}
			created, ch, err := existsW(conn, path)
			if err != nil {
				return err
			}
			if !created {
				children, exists, watch = nil, false, toWatch(path, ch)
				return nil
			}
		}
	}
	ans := z.retryAccessZk(ctx, op, nil)
	return children, exists, watch, ans
}

func (z *ZookeeperStore) multiOpSubFail(err error) bool {
	return strings.Contains(err.Error(), "unknown error: -2")
}

func (z *ZookeeperStore) WriteBatch(ctx context.Context, ops ...WriteOp) bool {
	writeAction := func(conn *zk.Conn) error {
		requests := []interface{}{}
		for _, op := range ops {
			switch op := op.(type) {
			case *PutOp:
				exists, _, err := conn.Exists(op.OpPath())
				if err != nil {
					return err
				}
				if exists {
					requests = append(requests, &zk.SetDataRequest{
						Path:    op.OpPath(),
						Data:    op.Data,
						Version: -1,
					})
				} else {
					requests = append(requests, &zk.CreateRequest{
						Path:  op.OpPath(),
						Data:  op.Data,
						Flags: 0,
						Acl:   z.acl,
					})
				}
			case *DeleteOp:
				requests = append(requests, &zk.DeleteRequest{
					Path:    op.OpPath(),
					Version: -1,
				})
			case *CreateOp:
				requests = append(requests, &zk.CreateRequest{
					Path:  op.OpPath(),
					Data:  op.Data,
					Flags: 0,
					Acl:   z.acl,
				})
			default:
				logging.Fatal("unreachable")
			}
		}

		sub, err := conn.Multi(requests...)
		logging.Info("write batch to zk got %v", err)
		for i := range sub {
			logging.Info(
				"the %dth item %s %s error is %v",
				i,
				ops[i].Name(),
				ops[i].OpPath(),
				sub[i].Error,
			)
			suberr := sub[i].Error
			switch ops[i].(type) {
			case *PutOp:
				if suberr != nil && !z.multiOpSubFail(suberr) {
					return suberr
				}
			case *DeleteOp:
				if suberr != nil && suberr != zk.ErrNoNode && !z.multiOpSubFail(suberr) {
					return suberr
				}
			case *CreateOp:
				if suberr != nil && suberr != zk.ErrNodeExists && !z.multiOpSubFail(suberr) {
					return suberr
				}
			}
		}
		return err
	}

	return z.retryAccessZk(ctx, writeAction, nil)
}

func (z *ZookeeperStore) RecursiveCreate(ctx context.Context, path string) bool {
	elements := strings.Split(path, "/")
	prefix := ""
	for _, element := range elements {
		if element != "" {
			prefix = prefix + "/" + element
			_, exists, succ := z.Get(ctx, prefix)
			if !succ {
				return false
			}
			if !exists && !z.Create(ctx, prefix, []byte{}) {
				return false
			}
		}
	}
	return true
}

func (z *ZookeeperStore) RecursiveDelete(ctx context.Context, path string) bool {
	children, exists, succ := z.Children(ctx, path)
	if !succ {
		return false
	}
	if !exists {
		return true
	}
	for _, child := range children {
		succ := z.RecursiveDelete(ctx, fmt.Sprintf("%s/%s", path, child))
		if !succ {
			return false
		}
	}
	return z.Delete(ctx, path)
}

func (z *ZookeeperStore) addAuth(ctx context.Context, scheme string, auth []byte) bool {
	op := func(conn *zk.Conn) error {
		err := conn.AddAuth(scheme, auth)
		logging.Info("addAuth zk scheme : %s got result: %v", scheme, err)
		return err
	}
	return z.retryAccessZk(ctx, op, nil)
}
