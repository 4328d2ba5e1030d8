package metastore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type BlockPoint struct {
	blocked map[string]bool
	mu      sync.Mutex
	cond    *sync.Cond
}

func NewBlockPoint() *BlockPoint {
	output := &BlockPoint{
		blocked: map[string]bool{},
	}
	output.cond = sync.NewCond(&output.mu)
	return output
}

func (bp *BlockPoint) Check(key string) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for bp.blocked[key] {
		bp.cond.Wait()
	}
}

func (bp *BlockPoint) Block(key string) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.blocked[key] = true
}

func (bp *BlockPoint) UnBlock(key string) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	delete(bp.blocked, key)
	bp.cond.Broadcast()
}

type treeNode struct {
	data     []byte
	children map[string]*treeNode
}

func newTreeNode(data []byte) *treeNode {
	return &treeNode{
		data:     data,
		children: make(map[string]*treeNode),
	}
}

type watchList map[string][]chan WatchEvent

func (w watchList) add(path string) Watch {
	ch := make(chan WatchEvent, 1)
	w[path] = append(w[path], ch)
	return ch
}

func (w watchList) fire(path string, t WatchEventType) {
	for _, ch := range w[path] {
		ch <- WatchEvent{Type: t, Path: path}
	}
	delete(w, path)
}

// MetaStoreMock is an in-memory tree with zookeeper-like one-shot watches.
// Every api can be suspended with BlockApi for interleaving tests.
type MetaStoreMock struct {
	bp   *BlockPoint
	mu   sync.Mutex
	root *treeNode

	dataWatches  watchList
	childWatches watchList
	existWatches watchList

	writtenBatches [][]WriteOp
}

func NewMockMetaStore() MetaStore {
	return &MetaStoreMock{
		bp:           NewBlockPoint(),
		root:         newTreeNode(nil),
		dataWatches:  watchList{},
		childWatches: watchList{},
		existWatches: watchList{},
	}
}

func splitPath(path string) []string {
	tmp := strings.Split(path, "/")
	tail := 0
	for _, token := range tmp {
		if len(token) > 0 {
			tmp[tail] = token
			tail++
		}
	}
	return tmp[0:tail]
}

func joinPath(tokens []string) string {
	return "/" + strings.Join(tokens, "/")
}

func (m *MetaStoreMock) find(root *treeNode, path []string) *treeNode {
	if len(path) <= 0 {
		return root
	}
	if node, ok := root.children[path[0]]; ok {
		return m.find(node, path[1:])
	}
	return nil
}

func (m *MetaStoreMock) BlockApi(key string) {
	m.bp.Block(key)
}

func (m *MetaStoreMock) UnBlockApi(key string) {
	m.bp.UnBlock(key)
}

// WatchCount reports the armed watches, for tests checking watches are re-armed.
func (m *MetaStoreMock) WatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ans := 0
	for _, l := range []watchList{m.dataWatches, m.childWatches, m.existWatches} {
		for _, chs := range l {
			ans += len(chs)
		}
	}
	return ans
}

func (m *MetaStoreMock) Close() {
	m.bp.Check("Close")

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range []watchList{m.dataWatches, m.childWatches, m.existWatches} {
		for path := range l {
			l.fire(path, EventNotWatching)
		}
	}
}

func (m *MetaStoreMock) Get(
	ctx context.Context,
	path string,
) (data []byte, exists bool, succ bool) {
	m.bp.Check("Get")

	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := splitPath(path)
	if len(tokens) <= 0 {
		return nil, false, false
	}
	node := m.find(m.root, tokens)
	if node == nil {
		return nil, false, true
	}
	return node.data, true, true
}

func (m *MetaStoreMock) Children(
	ctx context.Context,
	path string,
) (subs []string, exists bool, succ bool) {
	m.bp.Check("Children")

	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := splitPath(path)
	if len(tokens) <= 0 {
		return nil, false, false
	}
	node := m.find(m.root, tokens)
	if node == nil {
		return nil, false, true
	}
	for key := range node.children {
		subs = append(subs, key)
	}
	sort.Strings(subs)
	return subs, true, true
}

func (m *MetaStoreMock) GetW(
	ctx context.Context,
	path string,
) (data []byte, exists bool, watch Watch, succ bool) {
	m.bp.Check("GetW")

	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := splitPath(path)
	if len(tokens) <= 0 {
		return nil, false, nil, false
	}
	path = joinPath(tokens)
	node := m.find(m.root, tokens)
	if node == nil {
		return nil, false, m.existWatches.add(path), true
	}
	return node.data, true, m.dataWatches.add(path), true
}

func (m *MetaStoreMock) ChildrenW(
	ctx context.Context,
	path string,
) (subs []string, exists bool, watch Watch, succ bool) {
	m.bp.Check("ChildrenW")

	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := splitPath(path)
	if len(tokens) <= 0 {
		return nil, false, nil, false
	}
	path = joinPath(tokens)
	node := m.find(m.root, tokens)
	if node == nil {
		return nil, false, m.existWatches.add(path), true
	}
	for key := range node.children {
		subs = append(subs, key)
	}
	sort.Strings(subs)
	return subs, true, m.childWatches.add(path), true
}

func (m *MetaStoreMock) createInternal(tokens []string, data []byte) bool {
	last := len(tokens) - 1
	parent := m.find(m.root, tokens[0:last])
	if parent == nil {
		return false
	}
	if parent.children[tokens[last]] != nil {
		return true
	}
	parent.children[tokens[last]] = newTreeNode(data)
	m.existWatches.fire(joinPath(tokens), EventNodeCreated)
	m.childWatches.fire(joinPath(tokens[0:last]), EventNodeChildrenChanged)
	return true
}

func (m *MetaStoreMock) Create(ctx context.Context, path string, data []byte) (succ bool) {
	m.bp.Check("Create")

	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := splitPath(path)
	if len(tokens) <= 0 {
		return false
	}
	return m.createInternal(tokens, data)
}

func (m *MetaStoreMock) setInternal(tokens []string, data []byte) bool {
	node := m.find(m.root, tokens)
	if node == nil {
		return false
	}
	node.data = data
	m.dataWatches.fire(joinPath(tokens), EventNodeDataChanged)
	return true
}

func (m *MetaStoreMock) Set(ctx context.Context, path string, data []byte) (succ bool) {
	m.bp.Check("Set")

	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := splitPath(path)
	if len(tokens) <= 0 {
		return false
	}
	return m.setInternal(tokens, data)
}

func (m *MetaStoreMock) deleteInternal(tokens []string, recursive bool) bool {
	last := len(tokens) - 1
	parent := m.find(m.root, tokens[0:last])
	if parent == nil {
		return true
	}
	node := parent.children[tokens[last]]
	if node == nil {
		return true
	}
	if len(node.children) > 0 {
		if !recursive {
			return false
		}
		for child := range node.children {
			sub := append(append([]string{}, tokens...), child)
			m.deleteInternal(sub, true)
		}
	}
	delete(parent.children, tokens[last])
	path := joinPath(tokens)
	m.dataWatches.fire(path, EventNodeDeleted)
	m.childWatches.fire(path, EventNodeDeleted)
	m.childWatches.fire(joinPath(tokens[0:last]), EventNodeChildrenChanged)
	return true
}

func (m *MetaStoreMock) Delete(ctx context.Context, path string) bool {
	m.bp.Check("Delete")

	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := splitPath(path)
	if len(tokens) <= 0 {
		return false
	}
	return m.deleteInternal(tokens, false)
}

func (m *MetaStoreMock) WriteBatch(ctx context.Context, ops ...WriteOp) (succ bool) {
	m.bp.Check("WriteBatch")

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writtenBatches = append(m.writtenBatches, ops)
	if len(ops) <= 0 {
		return false
	}

	// validate everything first so a batch applies entirely or not at all
	for _, op := range ops {
		tokens := splitPath(op.OpPath())
		if len(tokens) <= 0 {
			return false
		}
		switch op.(type) {
		case *CreateOp, *PutOp:
			if m.find(m.root, tokens[0:len(tokens)-1]) == nil && !m.createdEarlier(ops, op, tokens) {
				return false
			}
		case *DeleteOp:
			if n := m.find(m.root, tokens); n != nil && len(n.children) > 0 {
				return false
			}
		default:
			return false
		}
	}

	for _, op := range ops {
		tokens := splitPath(op.OpPath())
		switch op := op.(type) {
		case *CreateOp:
			m.createInternal(tokens, op.Data)
		case *PutOp:
			if !m.setInternal(tokens, op.Data) {
				m.createInternal(tokens, op.Data)
			}
		case *DeleteOp:
			m.deleteInternal(tokens, false)
		}
	}
	return true
}

// createdEarlier checks whether the parent of tokens is created by an op preceding target.
func (m *MetaStoreMock) createdEarlier(ops []WriteOp, target WriteOp, tokens []string) bool {
	parent := joinPath(tokens[0 : len(tokens)-1])
	for _, op := range ops {
		if op == target {
			return false
		}
		switch op.(type) {
		case *CreateOp, *PutOp:
			if joinPath(splitPath(op.OpPath())) == parent {
				return true
			}
		}
	}
	return false
}

func (m *MetaStoreMock) RecursiveCreate(ctx context.Context, path string) (succ bool) {
	m.bp.Check("RecursiveCreate")

	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := splitPath(path)
	if len(tokens) <= 0 {
		return false
	}
	for i := range tokens {
		if !m.createInternal(tokens[0:i+1], []byte{}) {
			return false
		}
	}
	return true
}

func (m *MetaStoreMock) RecursiveDelete(ctx context.Context, path string) (succ bool) {
	m.bp.Check("RecursiveDelete")

	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := splitPath(path)
	if len(tokens) <= 0 {
		return false
	}
	return m.deleteInternal(tokens, true)
}

func (m *MetaStoreMock) GetLastWriteBatch() []WriteOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.writtenBatches) == 0 {
		return nil
	}
	return m.writtenBatches[len(m.writtenBatches)-1]
}
