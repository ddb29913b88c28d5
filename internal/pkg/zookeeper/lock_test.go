package zookeeper

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn 是一个内存版的 ZooKeeper 节点树，只实现锁需要的操作。
type fakeConn struct {
	mu    sync.Mutex
	nodes map[string]bool
	seq   int
}

func newFakeConn() *fakeConn {
	return &fakeConn{nodes: map[string]bool{}}
}

func (f *fakeConn) Exists(path string) (bool, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[path], &zk.Stat{}, nil
}

func (f *fakeConn) Create(path string, _ []byte, _ int32, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nodes[path] {
		return "", zk.ErrNodeExists
	}
	f.nodes[path] = true
	return path, nil
}

func (f *fakeConn) CreateProtectedEphemeralSequential(path string, _ []byte, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir := path[:strings.LastIndex(path, "/")]
	prefix := path[strings.LastIndex(path, "/")+1:]
	// GUID 前缀故意倒序，验证排序只看序号
	node := fmt.Sprintf("%s/_c_%08d-%s%010d", dir, 99999999-f.seq, prefix, f.seq)
	f.seq++
	f.nodes[node] = true
	return node, nil
}

func (f *fakeConn) Children(path string) ([]string, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for n := range f.nodes {
		if strings.HasPrefix(n, path+"/") && !strings.Contains(strings.TrimPrefix(n, path+"/"), "/") {
			out = append(out, strings.TrimPrefix(n, path+"/"))
		}
	}
	sort.Strings(out)
	return out, &zk.Stat{}, nil
}

func (f *fakeConn) Delete(path string, _ int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.nodes[path] {
		return zk.ErrNoNode
	}
	delete(f.nodes, path)
	return nil
}

func TestDistributedLock_TryLock(t *testing.T) {
	conn := newFakeConn()
	a, err := NewDistributedLock(conn, "hold-expiry-sweep")
	require.NoError(t, err)
	b, err := NewDistributedLock(conn, "hold-expiry-sweep")
	require.NoError(t, err)

	ok, err := a.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock()
	require.NoError(t, err)
	assert.False(t, ok, "second instance must not acquire while first holds the lock")

	require.NoError(t, a.Unlock())

	ok, err = b.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Unlock())
}

func TestDistributedLock_UnlockWithoutLock(t *testing.T) {
	l, err := NewDistributedLock(newFakeConn(), "x")
	require.NoError(t, err)
	assert.Error(t, l.Unlock())
}
