package hydrator

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/rbac-core/internal/metrics"
)

const moderatorYAML = `
roles:
  - id: 3
    name: moderator
    permissions: [post:delete]
`

const memberAndModeratorYAML = `
roles:
  - id: 2
    name: member
    permissions: [post:create]
  - id: 3
    name: moderator
    permissions: [post:delete]
`

func waitEvent(t *testing.T, fw *FileWatcher) ReloadedEvent {
	t.Helper()

	select {
	case ev := <-fw.EventChan():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload event")
		return ReloadedEvent{}
	}
}

func newTestWatcher(t *testing.T, dir string) (*FileWatcher, *MemoryHydrator) {
	t.Helper()

	target, err := NewMemoryHydrator()
	require.NoError(t, err)

	fw, err := NewFileWatcher(dir, target, nil, nil, metrics.NewNoOpMetrics())
	require.NoError(t, err)
	fw.SetDebounceTimeout(100 * time.Millisecond)

	t.Cleanup(func() {
		fw.Stop()
	})

	return fw, target
}

func TestFileWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "member.yaml", memberYAML)

	fw, target := newTestWatcher(t, dir)

	var hooks int32
	fw.OnReload(func() { atomic.AddInt32(&hooks, 1) })

	require.NoError(t, fw.Reload())
	assert.Equal(t, []int64{2}, target.IDs())
	assert.Equal(t, int32(1), atomic.LoadInt32(&hooks))

	ev := waitEvent(t, fw)
	assert.NoError(t, ev.Error)
	assert.Equal(t, []int64{2}, ev.RoleIDs)
}

func TestFileWatcher_DetectsChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "member.yaml", memberYAML)

	fw, target := newTestWatcher(t, dir)
	require.NoError(t, fw.Reload())
	waitEvent(t, fw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Watch(ctx))
	assert.True(t, fw.IsWatching())

	writeFile(t, dir, "moderator.yaml", moderatorYAML)

	ev := waitEvent(t, fw)
	require.NoError(t, ev.Error)
	assert.Equal(t, []int64{2, 3}, ev.RoleIDs)

	_, ok := target.Get(3)
	assert.True(t, ok)
}

func TestFileWatcher_SingleFile(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "roles.yaml", memberYAML)

	fw, target := newTestWatcher(t, file)
	require.NoError(t, fw.Reload())
	ev := waitEvent(t, fw)
	require.NoError(t, ev.Error)
	assert.Equal(t, []int64{2}, target.IDs())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Watch(ctx))

	// Sibling fixtures are not part of the watched file
	writeFile(t, dir, "other.yaml", moderatorYAML)

	// Editors save by writing a temp file and renaming it over the original
	tmp := writeFile(t, dir, "roles.yaml.tmp", memberAndModeratorYAML)
	require.NoError(t, os.Rename(tmp, file))

	ev = waitEvent(t, fw)
	require.NoError(t, ev.Error)
	assert.Equal(t, []int64{2, 3}, ev.RoleIDs)
	assert.Equal(t, []int64{2, 3}, target.IDs())
}

func TestFileWatcher_FailedReloadKeepsSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "member.yaml", memberYAML)

	fw, target := newTestWatcher(t, dir)
	require.NoError(t, fw.Reload())
	waitEvent(t, fw)

	// Same role id in two files
	writeFile(t, dir, "copy.yaml", memberYAML)

	err := fw.Reload()
	require.Error(t, err)

	ev := waitEvent(t, fw)
	assert.Error(t, ev.Error)
	assert.Equal(t, []int64{2}, target.IDs())
}

func TestFileWatcher_WatchTwice(t *testing.T) {
	fw, _ := newTestWatcher(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, fw.Watch(ctx))
	assert.Error(t, fw.Watch(ctx))
}

func TestFileWatcher_MissingDirectory(t *testing.T) {
	fw, _ := newTestWatcher(t, filepath.Join(t.TempDir(), "missing"))

	assert.Error(t, fw.Watch(context.Background()))
	assert.False(t, fw.IsWatching())
}

func TestFileWatcher_StopClosesEvents(t *testing.T) {
	fw, _ := newTestWatcher(t, t.TempDir())

	require.NoError(t, fw.Stop())
	require.NoError(t, fw.Stop())

	_, open := <-fw.EventChan()
	assert.False(t, open)
}

func TestNewFileWatcher_NilTarget(t *testing.T) {
	_, err := NewFileWatcher(t.TempDir(), nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestFileWatcher_UnchangedReloadSkipsHooks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "member.yaml", memberYAML)

	fw, _ := newTestWatcher(t, dir)
	var hooks int32
	fw.OnReload(func() { atomic.AddInt32(&hooks, 1) })

	require.NoError(t, fw.Reload())
	first := waitEvent(t, fw)
	require.False(t, first.Unchanged)

	require.NoError(t, fw.Reload())
	second := waitEvent(t, fw)
	assert.True(t, second.Unchanged)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hooks))
}

func TestFileWatcher_Rollback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "member.yaml", memberYAML)

	fw, target := newTestWatcher(t, dir)
	var hooks int32
	fw.OnReload(func() { atomic.AddInt32(&hooks, 1) })

	require.NoError(t, fw.Reload())
	v2 := waitEvent(t, fw).Version

	writeFile(t, dir, "moderator.yaml", moderatorYAML)
	require.NoError(t, fw.Reload())
	waitEvent(t, fw)
	require.Equal(t, []int64{2, 3}, target.IDs())

	require.NoError(t, fw.RollbackToPrevious())
	ev := waitEvent(t, fw)
	assert.Equal(t, []int64{2}, target.IDs())
	assert.Greater(t, ev.Version, v2, "a rollback is recorded as a new version")
	assert.Equal(t, int32(3), atomic.LoadInt32(&hooks))

	current, err := fw.History().Current()
	require.NoError(t, err)
	assert.Equal(t, "rollback to version 2", current.Comment)

	assert.Error(t, fw.Rollback(99))
}
