package extension

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, path, plugin, id string) {
	t.Helper()
	body := "plugin: " + plugin + "\nextensions:\n  - point: test.point\n    id: " + id + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestWatcher_Sync(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()
	w := NewWatcher(dir, r)

	first := filepath.Join(dir, "first.yaml")
	writeManifest(t, first, "org.first", "one")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	require.NoError(t, w.Sync())
	assert.NotNil(t, r.Extension("test.point", "org.first.one"))
	assert.Equal(t, []string{first}, w.Loaded())

	require.NoError(t, w.Sync(), "unchanged manifests are not reloaded")
	assert.Len(t, r.Extensions("test.point"), 1)

	require.NoError(t, os.Remove(first))
	require.NoError(t, w.Sync())
	assert.Nil(t, r.Extension("test.point", "org.first.one"))
	assert.Empty(t, w.Loaded())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("extensions: [{id: x}]"), 0o600))
	assert.ErrorIs(t, w.Sync(), ErrExtensionInvalid)

	missing := NewWatcher(filepath.Join(dir, "absent"), r)
	assert.Error(t, missing.Sync())
}

func TestWatcher_FollowsDirectory(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()
	w := NewWatcher(dir, r)
	require.NoError(t, w.Start(context.Background()))
	defer func() { require.NoError(t, w.Stop()) }()
	assert.ErrorIs(t, w.Start(context.Background()), ErrWatcherRunning)

	path := filepath.Join(dir, "live.yaml")
	writeManifest(t, path, "org.live", "app")
	require.Eventually(t, func() bool {
		return r.Extension("test.point", "org.live.app") != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return r.Extension("test.point", "org.live.app") == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_ScheduledRescan(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()

	bad := NewWatcher(dir, r, WithRescanSchedule("not a schedule"))
	assert.Error(t, bad.Start(context.Background()))

	w := NewWatcher(dir, r, WithRescanSchedule("@every 1s"), WithLogger(nil))
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop(), "stopping twice is harmless")
}
