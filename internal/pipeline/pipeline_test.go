package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/punlock/internal/logging"
	"github.com/systmms/punlock/internal/placer"
	"github.com/systmms/punlock/internal/resolve"
	"github.com/systmms/punlock/pkg/vault"
	"github.com/systmms/punlock/tests/fakes"
)

func session(t *testing.T, backend *fakes.FakeBackend) *vault.Session {
	t.Helper()
	s, err := vault.NewClient(backend, resolve.New(), "me@example.com",
		vault.WithPrompter(fakes.NewFakePrompter("pw"))).
		Authenticate(context.Background(), "")
	require.NoError(t, err)
	return s
}

func TestWriteSecrets_PartialFailureIsIsolated(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("bitwarden-cli").
		WithItem("one", `{"login":{"password":"first"}}`).
		WithItemError("two", &vault.FetchError{ID: "two", Message: "Not found."}).
		WithItem("three", `{"notes":"third\n"}`)

	root := t.TempDir()
	var logs bytes.Buffer
	p := New(session(t, backend), placer.New(t.TempDir(), logging.Discard()), root,
		WithLogger(logging.NewWithWriter(&logs, false, true)))

	entries := []vault.Entry{
		{ID: "one", Query: "login.password", Path: "a/one"},
		{ID: "two", Query: "login.password", Path: "b/two"},
		{ID: "three", Query: "notes", Path: "c/three"},
	}

	summary := p.WriteSecrets(context.Background(), entries)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Failed())
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "two", summary.Failures[0].Entry.ID)
	var fetchErr *vault.FetchError
	assert.ErrorAs(t, summary.Failures[0].Err, &fetchErr)

	one, err := os.ReadFile(filepath.Join(root, "a", "one"))
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(one))

	three, err := os.ReadFile(filepath.Join(root, "c", "three"))
	require.NoError(t, err)
	assert.Equal(t, "third\n", string(three))

	_, err = os.Stat(filepath.Join(root, "b", "two"))
	assert.True(t, os.IsNotExist(err))

	out := logs.String()
	assert.Contains(t, out, "✗ two: fetch two: Not found.")
	assert.Contains(t, out, "⚠ Wrote 2/3 secrets")
	assert.Equal(t, 4, strings.Count(out, "\n"), "one line per entry plus the summary")
}

func TestWriteSecrets_FailureHint(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("bitwarden-cli").
		WithItemError("gone", &vault.FetchError{ID: "gone", Message: "Not found."})

	var logs bytes.Buffer
	p := New(session(t, backend), placer.New(t.TempDir(), logging.Discard()), t.TempDir(),
		WithBackend("bitwarden-cli"),
		WithLogger(logging.NewWithWriter(&logs, false, true)))

	summary := p.WriteSecrets(context.Background(), []vault.Entry{{ID: "gone", Query: "q", Path: "gone"}})

	assert.Equal(t, 1, summary.Failed())
	assert.Contains(t, logs.String(), "✗ gone: fetch gone: Not found.\n  💡 Try: Verify the item id exists")
}

func TestWriteSecrets_AllSucceed(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("bitwarden-cli")
	var entries []vault.Entry
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("item-%02d", i)
		backend.WithItem(id, fmt.Sprintf(`{"v":"secret-%d"}`, i))
		entries = append(entries, vault.Entry{ID: id, Query: "v", Path: "many/" + id})
	}

	var logs bytes.Buffer
	root := t.TempDir()
	summary := New(session(t, backend), placer.New(t.TempDir(), nil), root,
		WithLogger(logging.NewWithWriter(&logs, false, true))).
		WriteSecrets(context.Background(), entries)

	assert.Equal(t, Summary{Succeeded: 25, Total: 25}, summary)
	assert.Contains(t, logs.String(), "✓ Wrote 25/25 secrets")

	files, err := os.ReadDir(filepath.Join(root, "many"))
	require.NoError(t, err)
	assert.Len(t, files, 25)
}

func TestWriteSecrets_Empty(t *testing.T) {
	t.Parallel()

	summary := New(&staticFetcher{}, placer.New("", nil), t.TempDir()).WriteSecrets(context.Background(), nil)
	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, 0, summary.Succeeded)
}

func TestWriteSecrets_PlacementFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "blocker"), []byte("x"), 0o600))

	summary := New(&staticFetcher{value: "s"}, placer.New(t.TempDir(), nil), root).
		WriteSecrets(context.Background(), []vault.Entry{
			{ID: "bad", Path: "blocker/child"},
			{ID: "good", Path: "fine"},
		})

	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "bad", summary.Failures[0].Entry.ID)
}

func TestWriteSecrets_ConcurrencyLimit(t *testing.T) {
	t.Parallel()

	fetcher := &staticFetcher{value: "s", delay: 10 * time.Millisecond}
	var entries []vault.Entry
	for i := 0; i < 12; i++ {
		entries = append(entries, vault.Entry{ID: fmt.Sprint(i), Path: fmt.Sprint(i)})
	}

	summary := New(fetcher, placer.New("", nil), t.TempDir(), WithConcurrency(3)).
		WriteSecrets(context.Background(), entries)

	assert.Equal(t, 12, summary.Succeeded)
	assert.LessOrEqual(t, fetcher.peak.Load(), int32(3))
}

func TestWriteSecrets_UnboundedRunsAllAtOnce(t *testing.T) {
	t.Parallel()

	const n = 8
	release := make(chan struct{})
	fetcher := &barrierFetcher{n: n, release: release}

	var entries []vault.Entry
	for i := 0; i < n; i++ {
		entries = append(entries, vault.Entry{ID: fmt.Sprint(i), Path: fmt.Sprint(i)})
	}

	done := make(chan Summary)
	go func() {
		done <- New(fetcher, placer.New("", nil), t.TempDir()).WriteSecrets(context.Background(), entries)
	}()

	select {
	case <-release:
	case <-time.After(5 * time.Second):
		t.Fatal("entries were not all in flight at once")
	}
	assert.Equal(t, n, (<-done).Succeeded)
}

func TestWriteSecrets_Metrics(t *testing.T) {
	t.Parallel()

	symlinkDir := t.TempDir()
	if err := os.Symlink("a", filepath.Join(symlinkDir, "b")); err != nil {
		t.Skip("symlinks unavailable")
	}

	fetcher := &staticFetcher{value: "s", fail: map[string]error{"bad": errors.New("boom")}}
	m := NewMetrics()
	summary := New(fetcher, placer.New(t.TempDir(), nil), t.TempDir(), WithMetrics(m)).
		WriteSecrets(context.Background(), []vault.Entry{
			{ID: "ok", Path: "ok", Links: []string{"l1", "l2"}},
			{ID: "bad", Path: "bad"},
		})
	require.Equal(t, 1, summary.Succeeded)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.entries.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entries.WithLabelValues("failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.linksChanged))
	assert.Greater(t, testutil.ToFloat64(m.lastRun), 0.0)

	path := filepath.Join(t.TempDir(), "punlock.prom")
	require.NoError(t, m.WriteTextfile(path))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `punlock_entries_total{status="success"} 1`)
	assert.Contains(t, string(content), "punlock_fetch_duration_seconds_count 2")
}

type staticFetcher struct {
	value string
	delay time.Duration
	fail  map[string]error

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *staticFetcher) Fetch(ctx context.Context, entry vault.Entry) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err, ok := f.fail[entry.ID]; ok {
		return "", err
	}
	return f.value, nil
}

// barrierFetcher blocks every fetch until n are in flight together.
type barrierFetcher struct {
	n       int
	release chan struct{}

	mu      sync.Mutex
	arrived int
}

func (f *barrierFetcher) Fetch(ctx context.Context, entry vault.Entry) (string, error) {
	f.mu.Lock()
	f.arrived++
	if f.arrived == f.n {
		close(f.release)
	}
	f.mu.Unlock()

	select {
	case <-f.release:
		return "s", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
