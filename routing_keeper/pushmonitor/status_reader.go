package pushmonitor

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// StatusMap maps an instance id to the status code it reported.
type StatusMap map[string]int

type InstanceStatus int

const (
	InstanceAlive InstanceStatus = iota
	InstanceDead
	InstanceBootstrapping
)

func (s InstanceStatus) String() string {
	switch s {
	case InstanceAlive:
		return "ALIVE"
	case InstanceDead:
		return "DEAD"
	case InstanceBootstrapping:
		return "BOOTSTRAPPING"
	default:
		return "UNKNOWN"
	}
}

// StatusReader fetches push status reports. An empty incrementalPushVersion
// selects the base push. Absent reports are returned as empty maps.
type StatusReader interface {
	ReadVersionStatus(store string, version int, incrementalPushVersion string) (StatusMap, error)
	ReadPartitionStatus(store string, version, partition int, incrementalPushVersion string) (StatusMap, error)
}

type InstanceClassifier interface {
	Classify(store, instanceId string) InstanceStatus
}

type ClassifierFunc func(store, instanceId string) InstanceStatus

func (f ClassifierFunc) Classify(store, instanceId string) InstanceStatus {
	return f(store, instanceId)
}

const versionSeparator = "_v"

func VersionTopic(store string, version int) string {
	return store + versionSeparator + strconv.Itoa(version)
}

// ParseVersionTopic splits "<store>_v<version>".
func ParseVersionTopic(topic string) (string, int, error) {
	idx := strings.LastIndex(topic, versionSeparator)
	if idx <= 0 {
		return "", 0, errors.Errorf("%q is not a version topic", topic)
	}
	version, err := strconv.Atoi(topic[idx+len(versionSeparator):])
	if err != nil || version <= 0 {
		return "", 0, errors.Errorf("invalid version in topic %q", topic)
	}
	return topic[0:idx], version, nil
}
