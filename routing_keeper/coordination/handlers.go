package coordination

import (
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
)

func cmpHandlerId(left, right interface{}) int {
	l, r := left.(HandlerId), right.(HandlerId)
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	default:
		return 0
	}
}

// handlerRegistry keeps handlers in registration order and serializes
// dispatch, so every handler observes changes in the order they happened.
type handlerRegistry struct {
	mu          sync.Mutex
	nextId      HandlerId
	views       *treemap.Map
	controllers *treemap.Map

	dispatchMu sync.Mutex
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		nextId:      1,
		views:       treemap.NewWith(cmpHandlerId),
		controllers: treemap.NewWith(cmpHandlerId),
	}
}

func (r *handlerRegistry) allocId() HandlerId {
	ans := r.nextId
	r.nextId++
	return ans
}

func (r *handlerRegistry) addView(handler ExternalViewHandler) HandlerId {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.allocId()
	r.views.Put(id, handler)
	return id
}

func (r *handlerRegistry) addController(handler ControllerHandler) HandlerId {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.allocId()
	r.controllers.Put(id, handler)
	return id
}

// remove returns the controller handler registered under id, if any.
func (r *handlerRegistry) remove(id HandlerId) ControllerHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views.Remove(id)
	if h, ok := r.controllers.Get(id); ok {
		r.controllers.Remove(id)
		return h.(ControllerHandler)
	}
	return nil
}

func (r *handlerRegistry) count() (views int, controllers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.views.Size(), r.controllers.Size()
}

func (r *handlerRegistry) viewHandlers() []ExternalViewHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	ans := make([]ExternalViewHandler, 0, r.views.Size())
	for _, h := range r.views.Values() {
		ans = append(ans, h.(ExternalViewHandler))
	}
	return ans
}

func (r *handlerRegistry) controllerHandlers() []ControllerHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	ans := make([]ControllerHandler, 0, r.controllers.Size())
	for _, h := range r.controllers.Values() {
		ans = append(ans, h.(ControllerHandler))
	}
	return ans
}

// Handlers run outside the registry lock and may remove handlers. Adding a
// handler from inside a handler deadlocks.
func (r *handlerRegistry) dispatchViews(views []*ExternalView, initial bool) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	for _, h := range r.viewHandlers() {
		h(views, initial)
	}
}

func (r *handlerRegistry) dispatchController(event ControllerEvent) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	for _, h := range r.controllerHandlers() {
		h(event)
	}
}
