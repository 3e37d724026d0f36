package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skelly-dev/sumtree/internal/ignore"
)

func TestDaemon_ReportsDebouncedChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "out"), 0755))

	d, err := New(root, ignore.NewFilter(ignore.Options{}), Options{
		Debounce: 50 * time.Millisecond,
		Ignore:   []string{"out"},
	})
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx, func(_ context.Context, changed []string) error {
			batches <- changed
			return nil
		})
	}()

	// Give Run time to register the directories.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, filepath.Join(root, "out", "summary.json"), "{}")
	writeFile(t, filepath.Join(root, ".hidden"), "x")
	writeFile(t, filepath.Join(root, "pkg", "a.py"), "def a(): pass\n")
	writeFile(t, filepath.Join(root, "b.py"), "def b(): pass\n")

	select {
	case changed := <-batches:
		require.Equal(t, []string{"b.py", "pkg/a.py"}, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch received")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestDaemon_IgnoredPaths(t *testing.T) {
	d, err := New(t.TempDir(), ignore.NewFilter(ignore.Options{}), Options{Ignore: []string{".sumtree/", "cache.json"}})
	require.NoError(t, err)
	defer d.Close()

	require.True(t, d.isIgnored(".sumtree"))
	require.True(t, d.isIgnored(".sumtree/summary.html"))
	require.True(t, d.isIgnored("cache.json"))
	require.False(t, d.isIgnored("cache.json.bak"))
	require.False(t, d.isIgnored("src/main.go"))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}
