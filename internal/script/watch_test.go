package script

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReportsSettledChanges(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "demo.jact")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(watched, []byte("agent A\n"), 0644))

	w, err := NewWatcher(nil, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Add(watched))

	var (
		mu      sync.Mutex
		changes []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(path string) {
			mu.Lock()
			changes = append(changes, path)
			mu.Unlock()
		})
	}()

	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(watched, []byte("agent A\nagent B\n"), 0644))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) > 0
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, w.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, watched, changes[0])
	for _, c := range changes {
		assert.NotEqual(t, other, c)
	}
	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.Events, 1)
	assert.Equal(t, len(changes), stats.Changes)
}

func TestWatcherAddMissingDirectory(t *testing.T) {
	w, err := NewWatcher(nil, 0)
	require.NoError(t, err)
	defer w.Close()
	assert.Error(t, w.Add(filepath.Join(t.TempDir(), "missing", "demo.jact")))
}
