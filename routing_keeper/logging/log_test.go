package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"gotest.tools/assert"
)

func TestVerboseGate(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	SetVerboseLevel(0)
	Verbose(1, "hidden %d", 1)
	assert.Assert(t, !strings.Contains(buf.String(), "hidden 1"))

	SetVerboseLevel(1)
	Verbose(1, "shown %d", 1)
	assert.Assert(t, strings.Contains(buf.String(), "shown 1"))
	assert.Assert(t, strings.Contains(buf.String(), "module=log"))
	SetVerboseLevel(0)
}

func TestModuleLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	l := GetLogger("routing")
	l.Warningf("resource %s skipped", "store_v1")
	out := buf.String()
	assert.Assert(t, strings.Contains(out, "module=routing"), out)
	assert.Assert(t, strings.Contains(out, "level=warning"), out)
	assert.Assert(t, strings.Contains(out, "resource store_v1 skipped"), out)
}

func TestFatalExits(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	code := 0
	exitFunc = func(c int) { code = c }
	defer func() { exitFunc = os.Exit }()

	Assert(true, "never")
	assert.Equal(t, code, 0)
	Assert(false, "broken invariant %d", 7)
	assert.Equal(t, code, 255)
	assert.Assert(t, strings.Contains(buf.String(), "broken invariant 7"))
}

func TestSetLevel(t *testing.T) {
	assert.Assert(t, SetLevel("nonsense") != nil)
	assert.NilError(t, SetLevel("debug"))
	assert.NilError(t, SetLevel("info"))
}
