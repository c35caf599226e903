package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureScratchDirs_CreatesWorldWritable(t *testing.T) {
	s := NewScratchDirs(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, EnsureScratchDirs(s))

	for _, dir := range s.All() {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0o777), info.Mode().Perm(), dir)
	}
	// Idempotent.
	require.NoError(t, EnsureScratchDirs(s))
}

func TestSweepScratch_RemovesOnlyStaleFiles(t *testing.T) {
	s := NewScratchDirs(t.TempDir())
	require.NoError(t, EnsureScratchDirs(s))

	now := time.Now()
	stale := filepath.Join(s.Uploads, "old.pdf")
	fresh := filepath.Join(s.Outputs, "new.pdf")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("y"), 0o644))
	require.NoError(t, os.Chtimes(stale, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, os.Mkdir(filepath.Join(s.Temp, "subdir"), 0o755))

	n, err := SweepScratch(s, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.DirExists(t, filepath.Join(s.Temp, "subdir"))
}

func TestSweepScratch_MissingDirsAreIgnored(t *testing.T) {
	n, err := SweepScratch(NewScratchDirs(filepath.Join(t.TempDir(), "nope")), time.Minute, time.Now())
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepScratchPeriodically_StopsOnClose(t *testing.T) {
	s := NewScratchDirs(t.TempDir())
	require.NoError(t, EnsureScratchDirs(s))
	stale := filepath.Join(s.Temp, "old.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		SweepScratchPeriodically(s, time.Minute, 10*time.Millisecond, stop)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(stale)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
