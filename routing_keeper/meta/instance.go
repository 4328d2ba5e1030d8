package meta

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Instance identifies a storage replica or controller process. Instances are
// values: never mutate one after it has been published in a Partition.
type Instance struct {
	NodeId string `json:"node_id"`
	Host   string `json:"host"`
	Port   int32  `json:"port"`
}

func NewInstance(nodeId, host string, port int32) *Instance {
	return &Instance{NodeId: nodeId, Host: host, Port: port}
}

// ParseNodeIdentifier accepts "host_port", the id format used by the
// coordination service for participants and controllers.
func ParseNodeIdentifier(nodeId string) (*Instance, error) {
	lastSep := strings.LastIndex(nodeId, "_")
	if lastSep <= 0 {
		return nil, errors.Errorf("invalid node identifier %q, expect host_port", nodeId)
	}
	p, err := strconv.ParseInt(nodeId[lastSep+1:], 10, 32)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid port in node identifier %q", nodeId)
	}
	return &Instance{
		NodeId: nodeId,
		Host:   nodeId[0:lastSep],
		Port:   int32(p),
	}, nil
}

func NodeIdentifier(host string, port int32) string {
	return fmt.Sprintf("%s_%d", host, port)
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// Equals compares identity only.
func (i *Instance) Equals(another *Instance) bool {
	if i == nil || another == nil {
		return i == another
	}
	return i.NodeId == another.NodeId
}
