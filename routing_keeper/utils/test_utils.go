package utils

import (
	"os"
	"testing"
	"time"

	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"gotest.tools/assert"
)

func WaitCondition(t *testing.T, f func(log bool) bool, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		if f(false) {
			return
		}
		time.Sleep(time.Millisecond * 100)
	}
	assert.Assert(t, f(true))
}

// SpliceZkRootPath roots a test path under the working directory so
// concurrent test packages don't collide on a shared zookeeper.
func SpliceZkRootPath(path string) string {
	wd, err := os.Getwd()
	logging.Assert(err == nil, "get working directory failed: %v", err)
	return wd + path
}
