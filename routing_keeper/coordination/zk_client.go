package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/meta"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/metastore"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/utils"
	"github.com/pkg/errors"
)

const (
	kExternalViewNode = "EXTERNALVIEW"
	kLiveInstanceNode = "LIVEINSTANCES"
	kIdealStateNode   = "IDEALSTATES"
	kControllerNode   = "CONTROLLER"
	kLeaderNode       = "LEADER"

	kRearmInterval = time.Millisecond * 500
)

var (
	ErrReadFailed = errors.New("read coordination store failed")
)

type leaderProps struct {
	Id string `json:"id"`
}

// ZkClient reads a helix-like cluster layout under /<cluster> and turns node
// watches into handler callbacks:
//
//	EXTERNALVIEW/<resource>  {"partitions":{"<resource>_0":{"<instance>":"ONLINE"}}}
//	LIVEINSTANCES/<instance> {"host":"..","port":..}
//	IDEALSTATES/<resource>   {"num_partitions":N}
//	CONTROLLER/LEADER        {"id":"<host>_<port>"}
type ZkClient struct {
	store    metastore.MetaStore
	root     string
	handlers *handlerRegistry

	mu      sync.Mutex
	started bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

func NewZkClient(store metastore.MetaStore, cluster string) *ZkClient {
	return &ZkClient{
		store:    store,
		root:     "/" + cluster,
		handlers: newHandlerRegistry(),
		quit:     make(chan struct{}),
	}
}

func (c *ZkClient) externalViewPath() string {
	return c.root + "/" + kExternalViewNode
}

func (c *ZkClient) liveInstancePath() string {
	return c.root + "/" + kLiveInstanceNode
}

func (c *ZkClient) idealStatePath() string {
	return c.root + "/" + kIdealStateNode
}

func (c *ZkClient) leaderPath() string {
	return c.root + "/" + kControllerNode + "/" + kLeaderNode
}

// Start launches the watch loops. Handlers added before Start only get their
// initial callback until then.
func (c *ZkClient) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.wg.Add(2)
	go c.watchExternalViews()
	go c.watchLeader()
}

func (c *ZkClient) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	close(c.quit)
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *ZkClient) AddExternalViewHandler(handler ExternalViewHandler) (HandlerId, error) {
	c.handlers.dispatchMu.Lock()
	defer c.handlers.dispatchMu.Unlock()

	views, err := c.readExternalViews(context.Background(), nil)
	if err != nil {
		return 0, err
	}
	id := c.handlers.addView(handler)
	handler(views, true)
	return id, nil
}

func (c *ZkClient) AddControllerHandler(handler ControllerHandler) (HandlerId, error) {
	c.handlers.dispatchMu.Lock()
	defer c.handlers.dispatchMu.Unlock()

	if _, _, succ := c.store.Get(context.Background(), c.leaderPath()); !succ {
		return 0, errors.Wrapf(ErrReadFailed, "read %s", c.leaderPath())
	}
	id := c.handlers.addController(handler)
	handler(ControllerEvent{Type: ControllerInit})
	return id, nil
}

func (c *ZkClient) RemoveHandler(id HandlerId) {
	if h := c.handlers.remove(id); h != nil {
		c.handlers.dispatchMu.Lock()
		defer c.handlers.dispatchMu.Unlock()
		h(ControllerEvent{Type: ControllerFinalize})
	}
}

func (c *ZkClient) LiveInstances() (map[string]*LiveInstance, error) {
	ctx := context.Background()
	ids, exists, succ := c.store.Children(ctx, c.liveInstancePath())
	if !succ {
		return nil, errors.Wrapf(ErrReadFailed, "list %s", c.liveInstancePath())
	}
	ans := map[string]*LiveInstance{}
	if !exists {
		return ans, nil
	}
	for _, id := range ids {
		data, exists, succ := c.store.Get(ctx, c.liveInstancePath()+"/"+id)
		if !succ {
			return nil, errors.Wrapf(ErrReadFailed, "read live instance %s", id)
		}
		if !exists {
			continue
		}
		inst := &LiveInstance{}
		if err := utils.UnmarshalJson(data, inst); err != nil || inst.Host == "" {
			parsed, perr := meta.ParseNodeIdentifier(id)
			if perr != nil {
				logging.Warning("skip live instance %s with unreadable data: %v", id, err)
				continue
			}
			inst.Host, inst.Port = parsed.Host, parsed.Port
		}
		inst.Id = id
		ans[id] = inst
	}
	return ans, nil
}

func (c *ZkClient) IdealStates(resources []string) ([]*IdealState, error) {
	ctx := context.Background()
	ans := make([]*IdealState, len(resources))
	for i, res := range resources {
		data, exists, succ := c.store.Get(ctx, c.idealStatePath()+"/"+res)
		if !succ {
			return nil, errors.Wrapf(ErrReadFailed, "read ideal state of %s", res)
		}
		if !exists {
			continue
		}
		is := &IdealState{}
		if err := utils.UnmarshalJson(data, is); err != nil {
			logging.Warning("ideal state of %s is unreadable: %v", res, err)
			continue
		}
		is.Resource = res
		ans[i] = is
	}
	return ans, nil
}

func (c *ZkClient) ControllerLeader() (string, bool, error) {
	data, exists, succ := c.store.Get(context.Background(), c.leaderPath())
	if !succ {
		return "", false, errors.Wrapf(ErrReadFailed, "read %s", c.leaderPath())
	}
	if !exists {
		return "", false, nil
	}
	return decodeLeader(data)
}

func decodeLeader(data []byte) (string, bool, error) {
	props := &leaderProps{}
	if err := utils.UnmarshalJson(data, props); err != nil {
		return "", false, err
	}
	return props.Id, props.Id != "", nil
}

// watchSet tracks which paths have an outstanding one-shot watch, so each path
// is watched at most once at a time.
type watchSet struct {
	armed  map[string]bool
	events chan metastore.WatchEvent
	quit   <-chan struct{}
}

func newWatchSet(quit <-chan struct{}) *watchSet {
	return &watchSet{
		armed:  map[string]bool{},
		events: make(chan metastore.WatchEvent, 64),
		quit:   quit,
	}
}

func (w *watchSet) needArm(path string) bool {
	return w != nil && !w.armed[path]
}

func (w *watchSet) arm(path string, watch metastore.Watch) {
	w.armed[path] = true
	go func() {
		select {
		case e := <-watch:
			select {
			case w.events <- e:
			case <-w.quit:
			}
		case <-w.quit:
		}
	}()
}

// wait blocks until at least one watch fired, then drains whatever else is
// pending. It returns false once the client is stopped.
func (w *watchSet) wait() bool {
	select {
	case e := <-w.events:
		w.consume(e)
	case <-w.quit:
		return false
	}
	for {
		select {
		case e := <-w.events:
			w.consume(e)
		default:
			return true
		}
	}
}

func (w *watchSet) consume(e metastore.WatchEvent) {
	logging.Verbose(1, "got watch event %s on %s", e.Type, e.Path)
	delete(w.armed, e.Path)
}

// readExternalViews reads every external view. With a non-nil watch set,
// missing watches are armed along the way.
func (c *ZkClient) readExternalViews(ctx context.Context, ws *watchSet) ([]*ExternalView, error) {
	var resources []string
	var exists, succ bool
	parent := c.externalViewPath()
	if ws.needArm(parent) {
		var watch metastore.Watch
		resources, exists, watch, succ = c.store.ChildrenW(ctx, parent)
		if succ {
			ws.arm(parent, watch)
		}
	} else {
		resources, exists, succ = c.store.Children(ctx, parent)
	}
	if !succ {
		return nil, errors.Wrapf(ErrReadFailed, "list %s", parent)
	}
	if !exists {
		return []*ExternalView{}, nil
	}

	views := make([]*ExternalView, 0, len(resources))
	for _, res := range resources {
		path := parent + "/" + res
		var data []byte
		if ws.needArm(path) {
			var watch metastore.Watch
			data, exists, watch, succ = c.store.GetW(ctx, path)
			if succ {
				ws.arm(path, watch)
			}
		} else {
			data, exists, succ = c.store.Get(ctx, path)
		}
		if !succ {
			return nil, errors.Wrapf(ErrReadFailed, "read %s", path)
		}
		if !exists {
			continue
		}
		view := NewExternalView(res)
		if len(data) > 0 {
			if err := utils.UnmarshalJson(data, view); err != nil {
				logging.Warning("skip unreadable external view of %s: %v", res, err)
				continue
			}
		}
		if view.Partitions == nil {
			view.Partitions = map[string]map[string]string{}
		}
		view.Resource = res
		views = append(views, view)
	}
	return views, nil
}

func (c *ZkClient) sleepOrQuit(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.quit:
		return false
	}
}

func (c *ZkClient) watchExternalViews() {
	defer c.wg.Done()
	logging.Info("start external view watch on %s", c.externalViewPath())
	ws := newWatchSet(c.quit)
	for {
		views, err := c.readExternalViews(context.Background(), ws)
		if err != nil {
			logging.Warning("read external views failed, retry later: %v", err)
			if !c.sleepOrQuit(kRearmInterval) {
				return
			}
			continue
		}
		c.handlers.dispatchViews(views, false)
		if !ws.wait() {
			logging.Info("stop external view watch on %s", c.externalViewPath())
			return
		}
	}
}

func (c *ZkClient) watchLeader() {
	defer c.wg.Done()
	path := c.leaderPath()
	logging.Info("start leader watch on %s", path)
	ws := newWatchSet(c.quit)
	for {
		_, _, watch, succ := c.store.GetW(context.Background(), path)
		if !succ {
			logging.Warning("watch %s failed, retry later", path)
			if !c.sleepOrQuit(kRearmInterval) {
				return
			}
			continue
		}
		ws.arm(path, watch)
		// the leader may have moved between a handler's init and the first watch
		c.handlers.dispatchController(ControllerEvent{Type: ControllerCallback})
		if !ws.wait() {
			logging.Info("stop leader watch on %s", path)
			return
		}
	}
}
