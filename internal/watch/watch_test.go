package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestScan_TranslatesOnlyPendingBooks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, filepath.Join(dir, "new.epub"))
	touch(t, filepath.Join(dir, "done.epub"))
	touch(t, filepath.Join(dir, "done.ko.epub"))
	touch(t, filepath.Join(dir, "notes.txt"))

	var mu sync.Mutex
	var translated []string
	svc := NewService(cron.New(), "@hourly", []string{dir}, "ko",
		func(_ context.Context, in, out string) error {
			mu.Lock()
			translated = append(translated, filepath.Base(in))
			mu.Unlock()
			touch(t, out)
			return nil
		})

	svc.Scan(context.Background())
	assert.Equal(t, []string{"new.epub"}, translated,
		"existing outputs and our own .ko.epub files are skipped")

	// A second scan finds nothing to do.
	svc.Scan(context.Background())
	assert.Len(t, translated, 1)
}

func TestScan_FailureDoesNotBlockOtherBooks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.epub"))
	touch(t, filepath.Join(dir, "b.epub"))

	var calls int
	svc := NewService(cron.New(), "@hourly", []string{dir}, "ko",
		func(_ context.Context, in, out string) error {
			calls++
			return assert.AnError
		})

	svc.Scan(context.Background())
	assert.Equal(t, 2, calls, "both books are attempted despite failures")
}

func TestScan_HonorsCancellation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.epub"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewService(cron.New(), "@hourly", []string{dir}, "ko",
		func(context.Context, string, string) error {
			t.Error("translate must not run after cancel")
			return nil
		})
	svc.Scan(ctx)
}

func TestSchedule_RegistersCronJob(t *testing.T) {
	t.Parallel()

	c := cron.New()
	svc := NewService(c, "*/30 * * * *", nil, "ko",
		func(context.Context, string, string) error { return nil })
	require.NoError(t, svc.Schedule(context.Background()))
	assert.Len(t, c.Entries(), 1)

	bad := NewService(c, "nope", nil, "ko",
		func(context.Context, string, string) error { return nil })
	assert.Error(t, bad.Schedule(context.Background()))
}
