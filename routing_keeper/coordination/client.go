package coordination

// Client is the view of the coordination service consumed by the routing
// layer. Handlers are registered independently and identified by the returned
// id. A newly added handler is invoked once synchronously with the current
// state before Add returns: external view handlers with initial=true,
// controller handlers with ControllerInit.
type Client interface {
	AddExternalViewHandler(handler ExternalViewHandler) (HandlerId, error)
	AddControllerHandler(handler ControllerHandler) (HandlerId, error)
	// RemoveHandler is a no-op for unknown ids. Removed controller handlers
	// receive ControllerFinalize.
	RemoveHandler(id HandlerId)

	LiveInstances() (map[string]*LiveInstance, error)
	// IdealStates is aligned with resources, nil for a resource whose declared
	// state is missing or unreadable.
	IdealStates(resources []string) ([]*IdealState, error)
	// ControllerLeader returns the id of the current leader, ok is false if
	// no leader is elected.
	ControllerLeader() (id string, ok bool, err error)
}
