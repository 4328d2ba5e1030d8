package meta

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Partition struct {
	Id        int         `json:"id"`
	Resource  string      `json:"resource"`
	Instances []*Instance `json:"instances"`
}

func NewPartition(id int, resource string, instances []*Instance) *Partition {
	copied := make([]*Instance, len(instances))
	copy(copied, instances)
	return &Partition{
		Id:        id,
		Resource:  resource,
		Instances: copied,
	}
}

// PartitionIdFromName parses "<resource>_<id>".
func PartitionIdFromName(partitionName string) (int, error) {
	lastSep := strings.LastIndex(partitionName, "_")
	if lastSep == -1 {
		return -1, errors.Errorf("invalid partition name %q", partitionName)
	}
	id, err := strconv.Atoi(partitionName[lastSep+1:])
	if err != nil || id < 0 {
		return -1, errors.Errorf("invalid partition id in %q", partitionName)
	}
	return id, nil
}

func PartitionName(resource string, id int) string {
	return resource + "_" + strconv.Itoa(id)
}

func (p *Partition) InstanceIds() []string {
	ids := make([]string, 0, len(p.Instances))
	for _, inst := range p.Instances {
		ids = append(ids, inst.NodeId)
	}
	return ids
}
