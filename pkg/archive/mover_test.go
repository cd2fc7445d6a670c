package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileMover_Rename(t *testing.T) {
	src := filepath.Join(t.TempDir(), "plot-k32-a.plot")
	require.NoError(t, os.WriteFile(src, []byte("abc"), 0o644))
	dstDir := filepath.Join(filepath.Dir(src), "farm")
	require.NoError(t, os.Mkdir(dstDir, 0o755))

	moved, err := NewFileMover(0).Move(context.Background(), src, dstDir)
	require.NoError(t, err)
	assert.True(t, moved.Renamed)
	assert.Equal(t, int64(3), moved.Bytes)
	assert.Equal(t, filepath.Join(dstDir, "plot-k32-a.plot"), moved.Dst)
	assert.NoFileExists(t, src)
}

func TestFileMover_RefusesExistingTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plot-k32-a.plot")
	dstDir := filepath.Join(dir, "farm")
	require.NoError(t, os.Mkdir(dstDir, 0o755))
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dstDir, "plot-k32-a.plot"), []byte("older"), 0o644))

	_, err := NewFileMover(0).Move(context.Background(), src, dstDir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransferFailure)
	assert.ErrorIs(t, err, os.ErrExist)
	assert.FileExists(t, src)
}

func TestFileMover_FinishesLeftoverCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plot-k32-a.plot")
	dstDir := filepath.Join(dir, "farm")
	require.NoError(t, os.Mkdir(dstDir, 0o755))
	require.NoError(t, os.WriteFile(src, []byte("plotdata"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dstDir, "plot-k32-a.plot"), []byte("plotdata"), 0o644))

	moved, err := NewFileMover(0).Move(context.Background(), src, dstDir)
	require.NoError(t, err)
	assert.False(t, moved.Renamed)
	assert.Equal(t, int64(8), moved.Bytes)
	assert.NoFileExists(t, src)
	assert.FileExists(t, filepath.Join(dstDir, "plot-k32-a.plot"))
}

func TestFileMover_FailedSourceRemovalRecovers(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions do not bind root")
	}
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "dst")
	dstDir := filepath.Join(dir, "farm")
	require.NoError(t, os.Mkdir(srcDir, 0o755))
	require.NoError(t, os.Mkdir(dstDir, 0o755))
	src := filepath.Join(srcDir, "plot-k32-a.plot")
	require.NoError(t, os.WriteFile(src, []byte("plotdata"), 0o644))
	// A leftover copy with the source directory locked reproduces a move
	// whose cleanup failed.
	require.NoError(t, os.WriteFile(filepath.Join(dstDir, "plot-k32-a.plot"), []byte("plotdata"), 0o644))
	require.NoError(t, os.Chmod(srcDir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(srcDir, 0o755) })

	m := NewFileMover(0)
	_, err := m.Move(context.Background(), src, dstDir)
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "cleanup", te.Op)

	require.NoError(t, os.Chmod(srcDir, 0o755))
	_, err = m.Move(context.Background(), src, dstDir)
	require.NoError(t, err)
	assert.NoFileExists(t, src)
}

func TestFileMover_MissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := NewFileMover(0).Move(context.Background(), filepath.Join(dir, "nope.plot"), dir)
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "stat", te.Op)
}

func TestFileMover_CopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plot.plot")
	data := bytes.Repeat([]byte("0123456789"), 300_000)
	require.NoError(t, os.WriteFile(src, data, 0o644))
	dst := filepath.Join(dir, "out", "plot.plot")
	require.NoError(t, os.Mkdir(filepath.Dir(dst), 0o755))

	// High enough to never actually throttle, but exercises the limiter path.
	m := NewFileMover(1 << 40)
	require.NoError(t, m.copyFile(context.Background(), src, dst, int64(len(data))))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp file left behind")
}

func TestFileMover_CopySizeMismatch(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plot.plot")
	require.NoError(t, os.WriteFile(src, []byte("abc"), 0o644))
	dst := filepath.Join(dir, "out", "plot.plot")
	require.NoError(t, os.Mkdir(filepath.Dir(dst), 0o755))

	err := NewFileMover(0).copyFile(context.Background(), src, dst, 99)
	var sm *SizeMismatchError
	require.ErrorAs(t, err, &sm)
	assert.Equal(t, int64(99), sm.Expected)
	assert.NoFileExists(t, dst)

	entries, _ := os.ReadDir(filepath.Dir(dst))
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file removed on failure")
	}
}

func TestFileMover_CopyCanceled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plot.plot")
	require.NoError(t, os.WriteFile(src, []byte("abc"), 0o644))
	dst := filepath.Join(dir, "out", "plot.plot")
	require.NoError(t, os.Mkdir(filepath.Dir(dst), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewFileMover(0).copyFile(ctx, src, dst, 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dst)
}

func TestLimitedWriter_SplitsToBurst(t *testing.T) {
	m := NewFileMover(4)
	var buf bytes.Buffer
	w := &limitedWriter{ctx: context.Background(), w: &buf, limiter: m.limiter}
	require.Equal(t, 4, m.limiter.Burst())

	n, err := w.Write([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", buf.String())
}

func TestClassify(t *testing.T) {
	noSpace := classify("s", "d", "copy", &os.PathError{Op: "write", Path: "d", Err: syscall.ENOSPC})
	assert.True(t, IsNoSpace(noSpace))

	other := classify("s", "d", "copy", errors.New("bad sector"))
	assert.ErrorIs(t, other, ErrTransferFailure)
	assert.False(t, IsNoSpace(other))

	assert.ErrorIs(t, classify("s", "d", "copy", fmt.Errorf("wrap: %w", context.Canceled)), context.Canceled)
}
