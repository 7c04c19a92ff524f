package scheduler

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/epubtrans/epubtrans/internal/backend"
	"github.com/epubtrans/epubtrans/internal/cache"
	"github.com/epubtrans/epubtrans/internal/checkpoint"
	"github.com/epubtrans/epubtrans/internal/ocr"
	"github.com/epubtrans/epubtrans/internal/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter echoes inputs uppercased. failures maps call numbers
// (1-based) to the error to return on that call; delay keeps each call
// in flight long enough for concurrent callers to overlap.
type fakeAdapter struct {
	mu       sync.Mutex
	calls    int
	failures map[int]error
	delay    time.Duration
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Translate(_ context.Context, texts []string, _, _ string) ([]string, error) {
	f.mu.Lock()
	f.calls++
	err := f.failures[f.calls]
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = strings.ToUpper(t)
	}
	return out, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestCache(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func textUnit(id, text string) unit.Unit {
	return unit.Unit{
		ID: id, Kind: unit.KindText, Payload: []byte(text),
		SourceLang: "en", TargetLang: "ko",
	}
}

func TestProcessor_PrefetchedValueSkipsStoreAndBackend(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{}
	u := textUnit("u1", "hello")
	key := u.CacheKey(adapter.Name())
	proc := NewProcessor(ProcessorOptions{
		Adapter:    adapter,
		Prefetched: map[string]string{key.String(): "안녕"},
	})

	res := proc.ProcessText(context.Background(), u)
	require.NoError(t, res.Err)
	assert.Equal(t, "안녕", res.Value)
	assert.True(t, res.FromCache)
	assert.Equal(t, 0, adapter.callCount())
}

func TestProcessor_TranslatesAndWritesThrough(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{}
	store := newTestCache(t)
	proc := NewProcessor(ProcessorOptions{Adapter: adapter, Cache: store})
	ctx := context.Background()

	res := proc.ProcessText(ctx, textUnit("u1", "hello"))
	require.NoError(t, res.Err)
	assert.Equal(t, "HELLO", res.Value)
	assert.False(t, res.FromCache)

	// Second unit with the same payload resolves from cache.
	res = proc.ProcessText(ctx, textUnit("u2", "hello"))
	require.NoError(t, res.Err)
	assert.Equal(t, "HELLO", res.Value)
	assert.True(t, res.FromCache)
	assert.Equal(t, 1, adapter.callCount())
}

func TestProcessor_WhitespaceVariantsShareCacheEntry(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{}
	proc := NewProcessor(ProcessorOptions{Adapter: adapter, Cache: newTestCache(t)})
	ctx := context.Background()

	first := proc.ProcessText(ctx, textUnit("u1", "hello"))
	require.NoError(t, first.Err)
	second := proc.ProcessText(ctx, textUnit("u2", "  hello\n"))
	require.NoError(t, second.Err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, adapter.callCount())
}

func TestProcessor_RetriesRateLimitThenSucceeds(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{failures: map[int]error{
		1: backend.NewError(backend.KindRateLimited, "fake", "429"),
		2: backend.NewError(backend.KindRateLimited, "fake", "429"),
	}}
	proc := NewProcessor(ProcessorOptions{
		Adapter: adapter, Cache: newTestCache(t),
		RateLimitRetries: 3, RateLimitDelay: time.Millisecond,
	})

	res := proc.ProcessText(context.Background(), textUnit("u1", "hello"))
	require.NoError(t, res.Err)
	assert.Equal(t, "HELLO", res.Value)
	assert.Equal(t, 3, adapter.callCount())
}

func TestProcessor_RateLimitRetriesExhausted(t *testing.T) {
	t.Parallel()

	rl := backend.NewError(backend.KindRateLimited, "fake", "429")
	adapter := &fakeAdapter{failures: map[int]error{1: rl, 2: rl, 3: rl}}
	proc := NewProcessor(ProcessorOptions{
		Adapter: adapter, Cache: newTestCache(t),
		RateLimitRetries: 2, RateLimitDelay: time.Millisecond,
	})

	res := proc.ProcessText(context.Background(), textUnit("u1", "hello"))
	require.Error(t, res.Err)
	assert.True(t, backend.IsRateLimited(res.Err))
	assert.Equal(t, 3, adapter.callCount(), "initial attempt plus two retries")
	assert.NoError(t, proc.FatalErr(), "rate limiting is not run-fatal")
}

func TestProcessor_AuthErrorStopsFurtherCalls(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{failures: map[int]error{
		1: backend.NewError(backend.KindAuth, "fake", "invalid api key"),
	}}
	proc := NewProcessor(ProcessorOptions{Adapter: adapter, Cache: newTestCache(t)})
	ctx := context.Background()

	res := proc.ProcessText(ctx, textUnit("u1", "hello"))
	require.Error(t, res.Err)
	require.Error(t, proc.FatalErr())

	// The next unit fails fast without reaching the adapter.
	res = proc.ProcessText(ctx, textUnit("u2", "world"))
	require.Error(t, res.Err)
	assert.True(t, backend.IsKind(res.Err, backend.KindAuth))
	assert.Equal(t, 1, adapter.callCount())
}

func TestProcessor_ResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestCache(t)
	u := textUnit("u1", "hello")
	key := u.CacheKey("fake")
	require.NoError(t, store.Put(ctx, key, "hello", "HELLO"))

	resumed := map[string]checkpoint.Record{
		"u1": {UnitID: "u1", Status: checkpoint.StatusDone, ResultRef: checkpoint.CacheKeyRef(key.String())},
		"u2": {UnitID: "u2", Status: checkpoint.StatusDone, ResultRef: checkpoint.InlineRef("WORLD")},
		"u3": {UnitID: "u3", Status: checkpoint.StatusFailed, Reason: "network"},
	}
	adapter := &fakeAdapter{}
	proc := NewProcessor(ProcessorOptions{Adapter: adapter, Cache: store, Resumed: resumed})

	res := proc.ProcessText(ctx, u)
	require.NoError(t, res.Err)
	assert.Equal(t, "HELLO", res.Value)
	assert.True(t, res.FromCheckpoint)

	res = proc.ProcessText(ctx, textUnit("u2", "world"))
	require.NoError(t, res.Err)
	assert.Equal(t, "WORLD", res.Value)
	assert.True(t, res.FromCheckpoint)
	assert.Zero(t, adapter.callCount())

	// Failed records do not short-circuit; the unit is retried.
	res = proc.ProcessText(ctx, textUnit("u3", "again"))
	require.NoError(t, res.Err)
	assert.Equal(t, "AGAIN", res.Value)
	assert.False(t, res.FromCheckpoint)
	assert.Equal(t, 1, adapter.callCount())
}

func TestProcessor_WritesCheckpointRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.checkpoint.jsonl")
	mgr, err := checkpoint.Open(path)
	require.NoError(t, err)

	adapter := &fakeAdapter{failures: map[int]error{
		2: backend.NewError(backend.KindProvider, "fake", "bad response"),
	}}
	proc := NewProcessor(ProcessorOptions{Adapter: adapter, Cache: newTestCache(t), Checkpoint: mgr})
	ctx := context.Background()

	require.NoError(t, proc.ProcessText(ctx, textUnit("u1", "hello")).Err)
	require.Error(t, proc.ProcessText(ctx, textUnit("u2", "world")).Err)
	require.NoError(t, mgr.Close())

	records, err := checkpoint.Load(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, checkpoint.StatusDone, records["u1"].Status)
	_, isCacheRef := records["u1"].CacheRef()
	assert.True(t, isCacheRef)
	assert.Equal(t, checkpoint.StatusFailed, records["u2"].Status)
	assert.Contains(t, records["u2"].Reason, "bad response")
}

// stubScanner reports fixed regions for image/png payloads.
type stubScanner struct {
	regions []ocr.Region
	scans   atomic.Int64
	err     error
}

func (s *stubScanner) DetectRegions(context.Context, []byte, string) ([]ocr.Region, error) {
	s.scans.Add(1)
	return s.regions, s.err
}

func (s *stubScanner) CanProcess(mediaType string) bool { return mediaType == "image/png" }

func (s *stubScanner) ConfidenceThreshold() float64 { return 0.3 }

type stubRenderer struct{}

func (stubRenderer) Overlay(_ context.Context, image []byte, _ string, _ []ocr.Region, translations []string) ([]byte, error) {
	return append([]byte("rendered:"), []byte(strings.Join(translations, ","))...), nil
}

func imageUnit(id string, payload []byte) unit.Unit {
	return unit.Unit{
		ID: id, Kind: unit.KindImage, Payload: payload,
		SourceLang: "ja", TargetLang: "en", MediaType: "image/png",
	}
}

func TestProcessor_ImageWithoutTextIsSkipped(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{}
	scanner := &stubScanner{}
	proc := NewProcessor(ProcessorOptions{
		Adapter: adapter, Cache: newTestCache(t), Scanner: scanner, Renderer: stubRenderer{},
	})
	ctx := context.Background()

	res := proc.ProcessImage(ctx, imageUnit("img1", []byte{1, 2, 3}))
	require.NoError(t, res.Err)
	assert.Empty(t, res.Value, "image stays unchanged")
	assert.Zero(t, adapter.callCount())

	// The verdict is cached; the second pass never rescans.
	res = proc.ProcessImage(ctx, imageUnit("img2", []byte{1, 2, 3}))
	require.NoError(t, res.Err)
	assert.True(t, res.FromCache)
	assert.Equal(t, int64(1), scanner.scans.Load())
}

func TestProcessor_ImageWithTextIsTranslatedAndRendered(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{}
	scanner := &stubScanner{regions: []ocr.Region{
		{BBox: [][]int{{0, 0}, {10, 0}, {10, 5}, {0, 5}}, Text: "hello", Confidence: 0.9},
	}}
	proc := NewProcessor(ProcessorOptions{
		Adapter: adapter, Cache: newTestCache(t), Scanner: scanner, Renderer: stubRenderer{},
	})

	res := proc.ProcessImage(context.Background(), imageUnit("img1", []byte{1, 2, 3}))
	require.NoError(t, res.Err)
	assert.Equal(t, "rendered:HELLO", res.Value)
	assert.Equal(t, 1, adapter.callCount())
}

func TestProcessor_UnsupportedMediaTypeIsLeftAlone(t *testing.T) {
	t.Parallel()

	scanner := &stubScanner{}
	proc := NewProcessor(ProcessorOptions{
		Adapter: &fakeAdapter{}, Cache: newTestCache(t), Scanner: scanner,
	})

	u := imageUnit("img1", []byte{1})
	u.MediaType = "image/svg+xml"
	res := proc.ProcessImage(context.Background(), u)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Value)
	assert.Zero(t, scanner.scans.Load())
}

func TestProcessor_ConcurrentIdenticalPayloadsShareOneCall(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{delay: 80 * time.Millisecond}
	proc := NewProcessor(ProcessorOptions{Adapter: adapter, Cache: newTestCache(t)})

	ids := []string{"doc0:seg0", "doc0:seg1"}
	results := make([]unit.Result, len(ids))
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = proc.ProcessText(context.Background(), textUnit(ids[i], "hello"))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, adapter.callCount(), "overlapping identical payloads translate once")
	for _, res := range results {
		require.NoError(t, res.Err)
		assert.Equal(t, "HELLO", res.Value)
	}
}

func TestProcessor_ImageCheckpointedDoneSkipsBackendOnResume(t *testing.T) {
	t.Parallel()

	store := newTestCache(t)
	regions := []ocr.Region{
		{BBox: [][]int{{0, 0}, {10, 0}, {10, 5}, {0, 5}}, Text: "hello", Confidence: 0.9},
	}
	ckptPath := filepath.Join(t.TempDir(), "book.out.epub.checkpoint.jsonl")
	mgr, err := checkpoint.Open(ckptPath)
	require.NoError(t, err)

	first := &fakeAdapter{}
	proc := NewProcessor(ProcessorOptions{
		Adapter: first, Cache: store, Checkpoint: mgr,
		Scanner: &stubScanner{regions: regions}, Renderer: stubRenderer{},
	})
	res := proc.ProcessImage(context.Background(), imageUnit("img:cover.png", []byte{9, 9}))
	require.NoError(t, res.Err)
	assert.Equal(t, "rendered:HELLO", res.Value)
	assert.Equal(t, 1, first.callCount())
	require.NoError(t, mgr.Close())

	resumed, err := checkpoint.Load(ckptPath)
	require.NoError(t, err)

	second := &fakeAdapter{}
	scanner := &stubScanner{regions: regions}
	resumeProc := NewProcessor(ProcessorOptions{
		Adapter: second, Cache: store, Resumed: resumed,
		Scanner: scanner, Renderer: stubRenderer{},
	})
	res = resumeProc.ProcessImage(context.Background(), imageUnit("img:cover.png", []byte{9, 9}))
	require.NoError(t, res.Err)
	assert.True(t, res.FromCheckpoint)
	assert.Equal(t, "rendered:HELLO", res.Value)
	assert.Zero(t, second.callCount(), "finished image must not reach the backend on resume")
	assert.Zero(t, scanner.scans.Load(), "verdict comes from the cache on resume")
}

// gateAdapter blocks each call until release is closed, and fails the
// call if the passed-in context is cancelled while blocked.
type gateAdapter struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (a *gateAdapter) Name() string { return "gate" }

func (a *gateAdapter) Translate(ctx context.Context, texts []string, _, _ string) ([]string, error) {
	a.once.Do(func() { close(a.started) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.release:
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = strings.ToUpper(t)
	}
	return out, nil
}

func TestProcessor_InFlightCallFinishesAfterCancel(t *testing.T) {
	t.Parallel()

	adapter := &gateAdapter{started: make(chan struct{}), release: make(chan struct{})}
	proc := NewProcessor(ProcessorOptions{Adapter: adapter})

	ctx, cancel := context.WithCancel(context.Background())
	resCh := make(chan unit.Result, 1)
	go func() { resCh <- proc.ProcessText(ctx, textUnit("doc0:seg0", "hello")) }()

	<-adapter.started
	cancel()
	// Leave time for a propagated cancellation to surface, then let the
	// request complete.
	time.Sleep(20 * time.Millisecond)
	close(adapter.release)

	res := <-resCh
	require.NoError(t, res.Err)
	assert.Equal(t, "HELLO", res.Value)
}
