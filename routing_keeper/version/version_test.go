package version

import (
	"testing"

	"gotest.tools/assert"
)

func TestDescribe(t *testing.T) {
	assert.Equal(t, Describe(), "git commit id: unknown, build time: unknown")

	GitCommitId, BuildTime = "3f2a9c1", "2024-05-01T10:00:00Z"
	defer func() {
		GitCommitId, BuildTime = "", ""
	}()
	assert.Equal(t, Describe(), "git commit id: 3f2a9c1, build time: 2024-05-01T10:00:00Z")
}
