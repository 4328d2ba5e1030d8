package coordination

import (
	"sort"
)

const (
	StateOnline    = "ONLINE"
	StateOffline   = "OFFLINE"
	StateBootstrap = "BOOTSTRAP"
	StateError     = "ERROR"
	StateDropped   = "DROPPED"
)

// ExternalView is the live assignment of one resource as reported by its
// replicas: partition name -> instance id -> replica state.
type ExternalView struct {
	Resource   string                       `json:"-"`
	Partitions map[string]map[string]string `json:"partitions"`
}

func NewExternalView(resource string) *ExternalView {
	return &ExternalView{
		Resource:   resource,
		Partitions: map[string]map[string]string{},
	}
}

func (v *ExternalView) SetState(partition, instance, state string) *ExternalView {
	states, ok := v.Partitions[partition]
	if !ok {
		states = map[string]string{}
		v.Partitions[partition] = states
	}
	states[instance] = state
	return v
}

func (v *ExternalView) PartitionNames() []string {
	ans := make([]string, 0, len(v.Partitions))
	for name := range v.Partitions {
		ans = append(ans, name)
	}
	sort.Strings(ans)
	return ans
}

// StateMap returns instance id -> state of a partition, nil if the partition is absent.
func (v *ExternalView) StateMap(partition string) map[string]string {
	return v.Partitions[partition]
}

type LiveInstance struct {
	Id   string `json:"-"`
	Host string `json:"host"`
	Port int32  `json:"port"`
}

// IdealState is the declared assignment of a resource. Only the partition
// count is consumed here.
type IdealState struct {
	Resource      string `json:"-"`
	NumPartitions int    `json:"num_partitions"`
}

type ControllerEventType int

const (
	ControllerInit ControllerEventType = iota
	ControllerCallback
	ControllerFinalize
)

func (t ControllerEventType) String() string {
	switch t {
	case ControllerInit:
		return "INIT"
	case ControllerCallback:
		return "CALLBACK"
	case ControllerFinalize:
		return "FINALIZE"
	default:
		return "UNKNOWN"
	}
}

type ControllerEvent struct {
	Type ControllerEventType
}

type ExternalViewHandler func(views []*ExternalView, initial bool)

type ControllerHandler func(event ControllerEvent)

type HandlerId uint64
