package meta

import (
	"sort"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("not found")
)

// PartitionMap is shared by every reader of a published table, treat it as read only.
type PartitionMap = map[int]*Partition

// RoutingTable is never modified once published. Partition assignments and
// declared partition counts travel together so a reader can't pair a new
// assignment with a stale count.
type RoutingTable struct {
	partitions      map[string]PartitionMap
	partitionCounts map[string]int
}

func EmptyRoutingTable() *RoutingTable {
	return &RoutingTable{
		partitions:      map[string]PartitionMap{},
		partitionCounts: map[string]int{},
	}
}

// Rebuild returns a new table holding the given assignments. Counts of kept
// resources are inherited, added counts are merged in, and counts of removed
// resources are dropped.
func (t *RoutingTable) Rebuild(
	partitions map[string]PartitionMap,
	addedCounts map[string]int,
	removed []string,
) *RoutingTable {
	counts := make(map[string]int, len(t.partitionCounts)+len(addedCounts))
	for res, c := range t.partitionCounts {
		counts[res] = c
	}
	for res, c := range addedCounts {
		counts[res] = c
	}
	for _, res := range removed {
		delete(counts, res)
	}
	return &RoutingTable{
		partitions:      partitions,
		partitionCounts: counts,
	}
}

func notFound(resource string) error {
	return errors.Wrapf(ErrNotFound, "resource '%s' does not exist", resource)
}

func (t *RoutingTable) Partitions(resource string) (PartitionMap, error) {
	parts, ok := t.partitions[resource]
	if !ok {
		return nil, notFound(resource)
	}
	return parts, nil
}

// Instances returns an empty list for an unknown partition of a known resource.
func (t *RoutingTable) Instances(resource string, partitionId int) ([]*Instance, error) {
	parts, err := t.Partitions(resource)
	if err != nil {
		return nil, err
	}
	p, ok := parts[partitionId]
	if !ok {
		return []*Instance{}, nil
	}
	return p.Instances, nil
}

func (t *RoutingTable) PartitionCount(resource string) (int, error) {
	c, ok := t.partitionCounts[resource]
	if !ok {
		return 0, notFound(resource)
	}
	return c, nil
}

func (t *RoutingTable) HasPartitionCount(resource string) bool {
	_, ok := t.partitionCounts[resource]
	return ok
}

func (t *RoutingTable) HasResource(resource string) bool {
	_, ok := t.partitions[resource]
	return ok
}

func (t *RoutingTable) Resources() []string {
	ans := make([]string, 0, len(t.partitions))
	for res := range t.partitions {
		ans = append(ans, res)
	}
	sort.Strings(ans)
	return ans
}

// CountedResources lists resources with a known declared partition count.
func (t *RoutingTable) CountedResources() []string {
	ans := make([]string, 0, len(t.partitionCounts))
	for res := range t.partitionCounts {
		ans = append(ans, res)
	}
	sort.Strings(ans)
	return ans
}
