package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startWatcher watches a fresh temp directory and runs the watcher until the test ends.
func startWatcher(t *testing.T, opts Options) (*Watcher, string) {
	t.Helper()

	w, err := New(testLogger(), opts)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, w.Watch(dir))

	ctx, cancel := context.WithCancel(context.Background())
	go w.Start(ctx) //nolint:errcheck // Test goroutine
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	return w, dir
}

func nextEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case event := <-w.Events():
		return event
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestWatcher_WatchRejectsFiles(t *testing.T) {
	w, err := New(testLogger(), Options{})
	require.NoError(t, err)
	defer w.Stop() //nolint:errcheck // Test cleanup

	file := filepath.Join(t.TempDir(), "42.mp4")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.Error(t, w.Watch(file))
	assert.Error(t, w.Watch(filepath.Join(t.TempDir(), "missing")))
}

func TestWatcher_FileAddedAfterSettling(t *testing.T) {
	w, dir := startWatcher(t, Options{SettleDelay: 50 * time.Millisecond})

	path := filepath.Join(dir, "42.mp4")
	require.NoError(t, os.WriteFile(path, []byte("converted video"), 0o644))

	event := nextEvent(t, w)
	assert.Equal(t, EventAdded, event.Type)
	assert.Equal(t, path, event.Path)
	assert.Equal(t, int64(15), event.Size)
}

func TestWatcher_FileRemoved(t *testing.T) {
	w, dir := startWatcher(t, Options{SettleDelay: 20 * time.Millisecond})

	path := filepath.Join(dir, "42.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	assert.Equal(t, EventAdded, nextEvent(t, w).Type)

	require.NoError(t, os.Remove(path))

	event := nextEvent(t, w)
	assert.Equal(t, EventRemoved, event.Type)
	assert.Equal(t, path, event.Path)
}

func TestWatcher_IgnoresTempFiles(t *testing.T) {
	w, dir := startWatcher(t, Options{SettleDelay: 20 * time.Millisecond})

	temp := filepath.Join(dir, "42.attempt.tmp.mp4")
	require.NoError(t, os.WriteFile(temp, []byte("partial"), 0o644))
	final := filepath.Join(dir, "42.mp4")
	require.NoError(t, os.Rename(temp, final))

	// Only the final name is reported.
	event := nextEvent(t, w)
	assert.Equal(t, EventAdded, event.Type)
	assert.Equal(t, final, event.Path)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w, err := New(testLogger(), Options{})
	require.NoError(t, err)
	require.NoError(t, w.Watch(t.TempDir()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(context.Background())
	}()

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
	<-done
}

type recordingHandler struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (r *recordingHandler) HandleCacheAddition(_ context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, path)
}

func (r *recordingHandler) HandleCacheRemoval(_ context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
}

func (r *recordingHandler) snapshot() (added, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.added), slices.Clone(r.removed)
}

func TestDispatch(t *testing.T) {
	w, dir := startWatcher(t, Options{SettleDelay: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	h := &recordingHandler{}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		Dispatch(ctx, w, h, testLogger())
	}()

	path := filepath.Join(dir, "7.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		added, _ := h.snapshot()
		return len(added) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))

	assert.Eventually(t, func() bool {
		_, removed := h.snapshot()
		return len(removed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	added, removed := h.snapshot()
	assert.Equal(t, []string{path}, added)
	assert.Equal(t, []string{path}, removed)

	cancel()
	<-stopped
}
