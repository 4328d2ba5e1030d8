package metastore

import (
	"context"
	"testing"
	"time"

	"gotest.tools/assert"
)

func expectEvent(t *testing.T, w Watch, tp WatchEventType, path string) {
	t.Helper()
	select {
	case e := <-w:
		assert.Equal(t, e.Type, tp)
		assert.Equal(t, e.Path, path)
	case <-time.After(time.Second):
		t.Fatalf("no %s event on %s", tp, path)
	}
}

func expectSilent(t *testing.T, w Watch) {
	t.Helper()
	select {
	case e := <-w:
		t.Fatalf("unexpected event %s on %s", e.Type, e.Path)
	default:
	}
}

func TestMockBasicOps(t *testing.T) {
	ctx := context.Background()
	store := NewMockMetaStore()

	assert.Assert(t, !store.Create(ctx, "/a/b", []byte("b")))
	assert.Assert(t, store.RecursiveCreate(ctx, "/a/b"))
	assert.Assert(t, store.Set(ctx, "/a/b", []byte("b")))
	assert.Assert(t, store.Create(ctx, "/a/c", []byte("c")))

	data, exists, succ := store.Get(ctx, "/a/b")
	assert.Assert(t, exists && succ)
	assert.DeepEqual(t, data, []byte("b"))

	subs, exists, succ := store.Children(ctx, "/a")
	assert.Assert(t, exists && succ)
	assert.DeepEqual(t, subs, []string{"b", "c"})

	assert.Assert(t, !store.Delete(ctx, "/a"))
	assert.Assert(t, store.Delete(ctx, "/a/c"))
	assert.Assert(t, store.Delete(ctx, "/a/c"))
	assert.Assert(t, store.RecursiveDelete(ctx, "/a"))

	_, exists, succ = store.Get(ctx, "/a/b")
	assert.Assert(t, succ)
	assert.Assert(t, !exists)
	assert.Assert(t, !store.Set(ctx, "/a/b", nil))
}

func TestMockWatches(t *testing.T) {
	ctx := context.Background()
	store := NewMockMetaStore()
	mock := store.(*MetaStoreMock)

	_, exists, w, succ := store.ChildrenW(ctx, "/root")
	assert.Assert(t, succ && !exists)
	assert.Assert(t, store.RecursiveCreate(ctx, "/root"))
	expectEvent(t, w, EventNodeCreated, "/root")

	subs, exists, cw, succ := store.ChildrenW(ctx, "/root/")
	assert.Assert(t, succ && exists)
	assert.Equal(t, len(subs), 0)
	assert.Assert(t, store.Create(ctx, "/root/n1", []byte("v1")))
	expectEvent(t, cw, EventNodeChildrenChanged, "/root")

	data, exists, dw, succ := store.GetW(ctx, "/root/n1")
	assert.Assert(t, succ && exists)
	assert.DeepEqual(t, data, []byte("v1"))
	assert.Assert(t, store.Create(ctx, "/root/n2", nil))
	expectSilent(t, dw)
	assert.Assert(t, store.Set(ctx, "/root/n1", []byte("v2")))
	expectEvent(t, dw, EventNodeDataChanged, "/root/n1")

	// watches are one-shot
	assert.Assert(t, store.Set(ctx, "/root/n1", []byte("v3")))
	expectSilent(t, dw)
	assert.Equal(t, mock.WatchCount(), 0)

	_, _, dw, _ = store.GetW(ctx, "/root/n1")
	_, _, cw, _ = store.ChildrenW(ctx, "/root")
	assert.Assert(t, store.Delete(ctx, "/root/n1"))
	expectEvent(t, dw, EventNodeDeleted, "/root/n1")
	expectEvent(t, cw, EventNodeChildrenChanged, "/root")

	_, _, dw, _ = store.GetW(ctx, "/root/n2")
	store.Close()
	expectEvent(t, dw, EventNotWatching, "/root/n2")
}

func TestMockWriteBatch(t *testing.T) {
	ctx := context.Background()
	store := NewMockMetaStore()
	mock := store.(*MetaStoreMock)
	assert.Assert(t, store.RecursiveCreate(ctx, "/batch"))
	assert.Assert(t, store.Create(ctx, "/batch/old", []byte("old")))

	_, _, cw, _ := store.ChildrenW(ctx, "/batch")
	ans := store.WriteBatch(
		ctx,
		&CreateOp{Path: "/batch/dir", Data: nil},
		&PutOp{Path: "/batch/dir/leaf", Data: []byte("leaf")},
		&PutOp{Path: "/batch/old", Data: []byte("new")},
	)
	assert.Assert(t, ans)
	assert.Equal(t, len(mock.GetLastWriteBatch()), 3)
	expectEvent(t, cw, EventNodeChildrenChanged, "/batch")

	data, exists, _ := store.Get(ctx, "/batch/dir/leaf")
	assert.Assert(t, exists)
	assert.DeepEqual(t, data, []byte("leaf"))
	data, _, _ = store.Get(ctx, "/batch/old")
	assert.DeepEqual(t, data, []byte("new"))

	// nothing applied when one op is invalid
	ans = store.WriteBatch(
		ctx,
		&DeleteOp{Path: "/batch/old"},
		&CreateOp{Path: "/missing/parent/node"},
	)
	assert.Assert(t, !ans)
	_, exists, _ = store.Get(ctx, "/batch/old")
	assert.Assert(t, exists)
}

func TestMockBlockApi(t *testing.T) {
	store := NewMockMetaStore()
	mock := store.(*MetaStoreMock)
	mock.BlockApi("Get")

	done := make(chan bool)
	go func() {
		store.Get(context.Background(), "/x")
		done <- true
	}()
	select {
	case <-done:
		t.Fatal("Get should be blocked")
	case <-time.After(time.Millisecond * 50):
	}
	mock.UnBlockApi("Get")
	<-done
}
