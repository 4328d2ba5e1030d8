package coordination

import (
	"sync"
)

// MockClient is an in-memory Client. Tests mutate its state and then fire
// notifications explicitly.
type MockClient struct {
	handlers *handlerRegistry

	mu            sync.Mutex
	views         []*ExternalView
	liveInstances map[string]*LiveInstance
	idealStates   map[string]*IdealState
	leader        string
	registerErr   error
	readErr       error
}

func NewMockClient() *MockClient {
	return &MockClient{
		handlers:      newHandlerRegistry(),
		liveInstances: map[string]*LiveInstance{},
		idealStates:   map[string]*IdealState{},
	}
}

// FailRegistration makes subsequent Add calls fail with err, nil restores.
func (m *MockClient) FailRegistration(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerErr = err
}

// FailReads makes the lookups fail with err, nil restores.
func (m *MockClient) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

func (m *MockClient) SetExternalViews(views ...*ExternalView) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = views
}

func (m *MockClient) AddLiveInstance(id, host string, port int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveInstances[id] = &LiveInstance{Id: id, Host: host, Port: port}
}

func (m *MockClient) RemoveLiveInstance(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.liveInstances, id)
}

// SetIdealState registers a declared state, nil removes it.
func (m *MockClient) SetIdealState(resource string, state *IdealState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == nil {
		delete(m.idealStates, resource)
		return
	}
	state.Resource = resource
	m.idealStates[resource] = state
}

func (m *MockClient) SetLeader(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leader = id
}

func (m *MockClient) HandlerCount() (views int, controllers int) {
	return m.handlers.count()
}

func (m *MockClient) currentViews() []*ExternalView {
	m.mu.Lock()
	defer m.mu.Unlock()
	ans := make([]*ExternalView, len(m.views))
	copy(ans, m.views)
	return ans
}

// FireExternalViewChange delivers the current views to every view handler.
func (m *MockClient) FireExternalViewChange(initial bool) {
	m.handlers.dispatchViews(m.currentViews(), initial)
}

func (m *MockClient) FireControllerChange(t ControllerEventType) {
	m.handlers.dispatchController(ControllerEvent{Type: t})
}

func (m *MockClient) AddExternalViewHandler(handler ExternalViewHandler) (HandlerId, error) {
	m.mu.Lock()
	err := m.registerErr
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	m.handlers.dispatchMu.Lock()
	defer m.handlers.dispatchMu.Unlock()
	id := m.handlers.addView(handler)
	handler(m.currentViews(), true)
	return id, nil
}

func (m *MockClient) AddControllerHandler(handler ControllerHandler) (HandlerId, error) {
	m.mu.Lock()
	err := m.registerErr
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	m.handlers.dispatchMu.Lock()
	defer m.handlers.dispatchMu.Unlock()
	id := m.handlers.addController(handler)
	handler(ControllerEvent{Type: ControllerInit})
	return id, nil
}

func (m *MockClient) RemoveHandler(id HandlerId) {
	if h := m.handlers.remove(id); h != nil {
		m.handlers.dispatchMu.Lock()
		defer m.handlers.dispatchMu.Unlock()
		h(ControllerEvent{Type: ControllerFinalize})
	}
}

func (m *MockClient) LiveInstances() (map[string]*LiveInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	ans := make(map[string]*LiveInstance, len(m.liveInstances))
	for id, inst := range m.liveInstances {
		ans[id] = inst
	}
	return ans, nil
}

func (m *MockClient) IdealStates(resources []string) ([]*IdealState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	ans := make([]*IdealState, len(resources))
	for i, res := range resources {
		ans[i] = m.idealStates[res]
	}
	return ans, nil
}

func (m *MockClient) ControllerLeader() (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return "", false, m.readErr
	}
	return m.leader, m.leader != "", nil
}
