package pushmonitor

import (
	"context"
	"fmt"
	"time"

	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/metastore"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/utils"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

const (
	VersionLevel = -1

	kDefaultStoreTimeout = time.Second * 10
)

type instanceReport struct {
	Status    int   `json:"status"`
	UpdatedMs int64 `json:"updated_ms"`
}

// StoreStatusReader keeps push status reports in a metastore, one node per
// reporting instance:
//
//	<root>/<store>/v<version>[/ipv/<incremental push version>]/version/<instance>
//	<root>/<store>/v<version>[/ipv/<incremental push version>]/partitions/<p>/<instance>
type StoreStatusReader struct {
	store   metastore.MetaStore
	root    string
	timeout time.Duration
	clock   clock.PassiveClock
}

func NewStoreStatusReader(store metastore.MetaStore, root string) *StoreStatusReader {
	return &StoreStatusReader{
		store:   store,
		root:    root,
		timeout: kDefaultStoreTimeout,
		clock:   clock.RealClock{},
	}
}

func (r *StoreStatusReader) keyPath(store string, version, partition int, incrementalPushVersion string) string {
	ans := fmt.Sprintf("%s/%s/v%d", r.root, store, version)
	if incrementalPushVersion != "" {
		ans += "/ipv/" + incrementalPushVersion
	}
	if partition == VersionLevel {
		return ans + "/version"
	}
	return fmt.Sprintf("%s/partitions/%d", ans, partition)
}

func (r *StoreStatusReader) readKey(path string) (StatusMap, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	instances, exists, succ := r.store.Children(ctx, path)
	if !succ {
		return nil, errors.Errorf("list %s failed", path)
	}
	ans := StatusMap{}
	if !exists {
		return ans, nil
	}
	for _, inst := range instances {
		data, exists, succ := r.store.Get(ctx, path+"/"+inst)
		if !succ {
			return nil, errors.Errorf("read %s/%s failed", path, inst)
		}
		if !exists {
			continue
		}
		report := &instanceReport{}
		if err := utils.UnmarshalJson(data, report); err != nil {
			logging.Warning("skip unreadable push status of %s under %s: %v", inst, path, err)
			continue
		}
		ans[inst] = report.Status
	}
	return ans, nil
}

func (r *StoreStatusReader) ReadVersionStatus(
	store string,
	version int,
	incrementalPushVersion string,
) (StatusMap, error) {
	return r.readKey(r.keyPath(store, version, VersionLevel, incrementalPushVersion))
}

func (r *StoreStatusReader) ReadPartitionStatus(
	store string,
	version, partition int,
	incrementalPushVersion string,
) (StatusMap, error) {
	return r.readKey(r.keyPath(store, version, partition, incrementalPushVersion))
}

// WriteInstanceStatus is the replica side of the reader. Pass VersionLevel as
// partition for a version level report.
func (r *StoreStatusReader) WriteInstanceStatus(
	ctx context.Context,
	store string,
	version, partition int,
	incrementalPushVersion string,
	instanceId string,
	status ExecutionStatus,
) bool {
	parent := r.keyPath(store, version, partition, incrementalPushVersion)
	if !r.store.RecursiveCreate(ctx, parent) {
		return false
	}
	return r.store.WriteBatch(ctx, &metastore.PutOp{
		Path: parent + "/" + instanceId,
		Data: utils.MarshalJsonOrDie(&instanceReport{
			Status:    status.Code(),
			UpdatedMs: r.clock.Now().UnixMilli(),
		}),
	})
}

// DropVersion removes every report of a version, incremental pushes included.
func (r *StoreStatusReader) DropVersion(ctx context.Context, store string, version int) bool {
	return r.store.RecursiveDelete(ctx, fmt.Sprintf("%s/%s/v%d", r.root, store, version))
}
