package meta

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"gotest.tools/assert"
)

func TestParseNodeIdentifier(t *testing.T) {
	inst, err := ParseNodeIdentifier("host-1.dc_1_7000")
	assert.NilError(t, err)
	assert.Equal(t, inst.Host, "host-1.dc_1")
	assert.Equal(t, inst.Port, int32(7000))
	assert.Equal(t, inst.String(), "host-1.dc_1:7000")
	assert.Equal(t, NodeIdentifier("h", 1), "h_1")

	for _, bad := range []string{"", "_7000", "host", "host_port", "host_99999999999"} {
		_, err := ParseNodeIdentifier(bad)
		assert.Assert(t, err != nil, bad)
	}
}

func TestInstanceEquals(t *testing.T) {
	a := NewInstance("h_1", "h", 1)
	b := NewInstance("h_1", "other", 2)
	c := NewInstance("h_2", "h", 2)
	assert.Assert(t, a.Equals(b))
	assert.Assert(t, !a.Equals(c))
	assert.Assert(t, !a.Equals(nil))
	var n *Instance
	assert.Assert(t, n.Equals(nil))
}

func TestPartitionIdFromName(t *testing.T) {
	id, err := PartitionIdFromName("store_v1_12")
	assert.NilError(t, err)
	assert.Equal(t, id, 12)
	assert.Equal(t, PartitionName("store_v1", 3), "store_v1_3")
	_, err = PartitionIdFromName("store")
	assert.Assert(t, err != nil)
	_, err = PartitionIdFromName("store_x")
	assert.Assert(t, err != nil)
}

func TestNewPartitionCopiesInstances(t *testing.T) {
	insts := []*Instance{NewInstance("a_1", "a", 1)}
	p := NewPartition(0, "res", insts)
	insts[0] = NewInstance("b_1", "b", 1)
	assert.Assert(t, cmp.Equal(p.InstanceIds(), []string{"a_1"}))
}

func TestRoutingTableRebuild(t *testing.T) {
	inst := NewInstance("a_1", "a", 1)
	t0 := EmptyRoutingTable()
	_, err := t0.Partitions("res")
	assert.Assert(t, errors.Is(err, ErrNotFound))

	t1 := t0.Rebuild(map[string]PartitionMap{
		"res":  {0: NewPartition(0, "res", []*Instance{inst})},
		"res2": {},
	}, map[string]int{"res": 4, "res2": 2}, nil)

	insts, err := t1.Instances("res", 0)
	assert.NilError(t, err)
	assert.Equal(t, len(insts), 1)
	insts, err = t1.Instances("res", 3)
	assert.NilError(t, err)
	assert.Equal(t, len(insts), 0)
	_, err = t1.Instances("missing", 0)
	assert.Assert(t, errors.Is(err, ErrNotFound))
	assert.ErrorContains(t, err, "resource 'missing' does not exist")

	c, err := t1.PartitionCount("res")
	assert.NilError(t, err)
	assert.Equal(t, c, 4)

	// res has no online replica any more, its count is kept
	t2 := t1.Rebuild(map[string]PartitionMap{"res": {}}, nil, []string{"res2"})
	c, err = t2.PartitionCount("res")
	assert.NilError(t, err)
	assert.Equal(t, c, 4)
	assert.Assert(t, !t2.HasPartitionCount("res2"))
	assert.Assert(t, cmp.Equal(t2.Resources(), []string{"res"}))
	assert.Assert(t, cmp.Equal(t2.CountedResources(), []string{"res"}))

	// published tables are untouched
	assert.Assert(t, t1.HasPartitionCount("res2"))
	assert.Assert(t, t1.HasResource("res2"))
}
