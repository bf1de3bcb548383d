package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reelshelf/reelshelf-server/internal/config"
	"github.com/reelshelf/reelshelf-server/internal/domain"
	"github.com/reelshelf/reelshelf-server/internal/ffmpeg"
	"github.com/reelshelf/reelshelf-server/internal/sse"
	"github.com/reelshelf/reelshelf-server/internal/store/sqlite"
)

const waitTimeout = 5 * time.Second

// recordingEmitter captures every emitted event in order.
type recordingEmitter struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *recordingEmitter) Emit(event sse.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) all() []sse.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// ofType returns the item IDs of events of the given type, in emission order.
func (r *recordingEmitter) ofType(t sse.EventType) []int64 {
	var ids []int64
	for _, e := range r.all() {
		if e.Type == t {
			ids = append(ids, e.ItemID)
		}
	}
	return ids
}

// forItem returns the event types seen for one item, in emission order.
func (r *recordingEmitter) forItem(itemID int64) []sse.EventType {
	var types []sse.EventType
	for _, e := range r.all() {
		if e.ItemID == itemID {
			types = append(types, e.Type)
		}
	}
	return types
}

func (r *recordingEmitter) progressValues(itemID int64) []int {
	var values []int
	for _, e := range r.all() {
		if e.ItemID != itemID || e.Type != sse.EventConversionProgress {
			continue
		}
		values = append(values, e.Data.(sse.ConversionProgressEventData).Progress)
	}
	return values
}

// fakeEncoder runs a test-provided function in place of ffmpeg.
type fakeEncoder struct {
	mu    sync.Mutex
	calls []string
	run   func(ctx context.Context, input, output string, onProgress func(ffmpeg.Progress)) error
}

func (f *fakeEncoder) Encode(ctx context.Context, input, output string, onProgress func(ffmpeg.Progress)) error {
	f.mu.Lock()
	f.calls = append(f.calls, input)
	run := f.run
	f.mu.Unlock()

	if run == nil {
		return writeFile(output, "converted")
	}
	return run(ctx, input, output, onProgress)
}

func (f *fakeEncoder) setRun(run func(ctx context.Context, input, output string, onProgress func(ffmpeg.Progress)) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run = run
}

func (f *fakeEncoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// gatedEncoder blocks each encode until the test releases its input or the context ends.
// A partial temp file is written first so cleanup can be observed.
type gatedEncoder struct {
	started chan string

	mu    sync.Mutex
	gates map[string]chan error
}

func newGatedEncoder() *gatedEncoder {
	return &gatedEncoder{
		started: make(chan string, 32),
		gates:   make(map[string]chan error),
	}
}

func (g *gatedEncoder) gate(input string) chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[input]
	if !ok {
		ch = make(chan error, 1)
		g.gates[input] = ch
	}
	return ch
}

func (g *gatedEncoder) Encode(ctx context.Context, input, output string, _ func(ffmpeg.Progress)) error {
	if err := writeFile(output, "partial"); err != nil {
		return err
	}
	g.started <- input

	select {
	case err := <-g.gate(input):
		if err != nil {
			return err
		}
		return writeFile(output, "converted")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release lets the encode for input finish with err.
func (g *gatedEncoder) release(input string, err error) {
	g.gate(input) <- err
}

// waitStarted returns the input of the next encode to start.
func (g *gatedEncoder) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case input := <-g.started:
		return input
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for encode to start")
		return ""
	}
}

func (g *gatedEncoder) assertNoStart(t *testing.T) {
	t.Helper()
	select {
	case input := <-g.started:
		t.Fatalf("unexpected encode started for %s", input)
	case <-time.After(50 * time.Millisecond):
	}
}

// failingStore fails every SetConvertedPath call.
type failingStore struct {
	*sqlite.Store
}

func (f failingStore) SetConvertedPath(context.Context, int64, string) error {
	return errors.New("disk I/O error")
}

type testEnv struct {
	svc     *ConversionService
	store   *sqlite.Store
	events  *recordingEmitter
	dir     string
	cache   string
	sources string
	cfg     config.ConvertConfig
}

type envOption func(*config.ConvertConfig)

func newTestEnv(t *testing.T, encoder Encoder, opts ...envOption) *testEnv {
	t.Helper()

	dir := t.TempDir()
	st, err := sqlite.Open(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		//nolint:errcheck // Test cleanup
		_ = st.Close()
	})

	env := &testEnv{
		store:   st,
		events:  &recordingEmitter{},
		dir:     dir,
		cache:   filepath.Join(dir, "cache"),
		sources: filepath.Join(dir, "media"),
	}
	require.NoError(t, os.MkdirAll(env.sources, 0o755))

	cfg := config.DefaultConvertConfig(env.cache)
	cfg.RetentionGrace = time.Minute
	for _, opt := range opts {
		opt(&cfg)
	}

	env.cfg = cfg
	env.svc = env.newService(t, st, encoder, cfg)
	return env
}

func (env *testEnv) newService(t *testing.T, items MediaStore, encoder Encoder, cfg config.ConvertConfig) *ConversionService {
	t.Helper()
	svc, err := NewConversionService(items, encoder, env.events, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Stop)
	return svc
}

// addItem stores an item whose source file exists on disk.
func (env *testEnv) addItem(t *testing.T, id int64, video, audio string) *domain.MediaItem {
	t.Helper()
	path := filepath.Join(env.sources, fmt.Sprintf("source-%d.mkv", id))
	require.NoError(t, writeFile(path, "source"))
	return env.addItemAt(t, id, path, video, audio)
}

func (env *testEnv) addItemAt(t *testing.T, id int64, path, video, audio string) *domain.MediaItem {
	t.Helper()
	item := &domain.MediaItem{
		ID:              id,
		FilePath:        path,
		FileName:        filepath.Base(path),
		DurationSeconds: 120,
		VideoCodec:      video,
		AudioCodec:      audio,
	}
	require.NoError(t, env.store.UpsertMediaItem(context.Background(), item))
	return item
}

func (env *testEnv) item(t *testing.T, id int64) *domain.MediaItem {
	t.Helper()
	item, err := env.store.GetMediaItem(context.Background(), id)
	require.NoError(t, err)
	return item
}

// waitStatus waits for the item's job to reach the given status.
func (env *testEnv) waitStatus(t *testing.T, id int64, status domain.ConversionStatus) domain.ConversionJob {
	t.Helper()
	var job domain.ConversionJob
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = env.svc.Job(id)
		return ok && job.Status == status
	}, waitTimeout, 5*time.Millisecond, "item %d never reached %s", id, status)
	return job
}

func (env *testEnv) waitEvent(t *testing.T, id int64, eventType sse.EventType) {
	t.Helper()
	require.Eventually(t, func() bool {
		return slices.Contains(env.events.forItem(id), eventType)
	}, waitTimeout, 5*time.Millisecond, "item %d never emitted %s", id, eventType)
}

// cacheFiles lists file names in the cache directory.
func (env *testEnv) cacheFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(env.cache)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
