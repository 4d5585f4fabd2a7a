package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mouthsync/pkg/contract"
)

func noTmp(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "tmp file not cleaned: %s", e.Name())
	}
}

// UT-WFS-01: 原子写入
func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "frame-00000.png", bytes.NewBufferString("data")))
	b, err := os.ReadFile(filepath.Join(dir, "frame-00000.png"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))
	noTmp(t, dir)
}

// UT-WFS-02: 同 id 重复写入为幂等覆盖
func TestWriteAtomicReplaceExisting(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "f.png", bytes.NewBufferString("v1")))
	require.NoError(t, w.Write(context.Background(), "f.png", bytes.NewBufferString("v2")))
	b, err := os.ReadFile(filepath.Join(dir, "f.png"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b))
	noTmp(t, dir)
}

// 非原子写入，目录按需创建
func TestWriteNonAtomic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "work")
	a := false
	w, err := New(&Options{OutputDir: dir, Atomic: &a})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "timeline.jsonl", strings.NewReader("{}\n")))
	b, err := os.ReadFile(filepath.Join(dir, "timeline.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(b))
}

// 扁平模式仅保留基名
func TestWriteFlat(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	p, err := w.Path("a/b/c.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "c.png"), p)
	_, err = w.Path("..")
	assert.ErrorIs(t, err, contract.ErrPathInvalid)
	assert.Equal(t, filepath.Clean(dir), w.Root())
}

// TestWritePathInvalid 路径越界
func TestWritePathInvalid(t *testing.T) {
	dir := t.TempDir()
	flat := false
	w, err := New(&Options{OutputDir: dir, Flat: &flat})
	require.NoError(t, err)
	err = w.Write(context.Background(), "../bad", bytes.NewBufferString("x"))
	assert.ErrorIs(t, err, contract.ErrPathInvalid)

	abs := "/abs"
	if runtime.GOOS == "windows" {
		abs = `C:\abs`
	}
	for _, id := range []string{abs, "..", "."} {
		_, err := w.mapPath(contract.ArtifactID(id))
		assert.ErrorIs(t, err, contract.ErrPathInvalid, "id %s", id)
	}
	p, err := w.Path("sub/x.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub", "x.png"), p)
}

// 缺少输出目录
func TestNewRequiresDir(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, os.ErrInvalid)
	_, err = New(&Options{OutputDir: "  "})
	assert.ErrorIs(t, err, os.ErrInvalid)
}

// 取消与读错误：不留下临时文件与目标
func TestWriteCanceledAndReadError(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Write(ctx, "x.png", strings.NewReader("x")), context.Canceled)

	boom := errors.New("boom")
	assert.ErrorIs(t, w.Write(context.Background(), "y.png", errReader{boom}), boom)
	_, statErr := os.Stat(filepath.Join(dir, "y.png"))
	assert.True(t, os.IsNotExist(statErr))
	noTmp(t, dir)
}

// 开启 sync 的原子写与非原子写
func TestWriteSync(t *testing.T) {
	dir := t.TempDir()
	off := false
	for _, o := range []*Options{{OutputDir: dir, Sync: true}, {OutputDir: dir, Sync: true, Atomic: &off}} {
		w, err := New(o)
		require.NoError(t, err)
		require.NoError(t, w.Write(context.Background(), "frame-00001.png", strings.NewReader("png")))
		b, err := os.ReadFile(filepath.Join(dir, "frame-00001.png"))
		require.NoError(t, err)
		assert.Equal(t, "png", string(b))
	}
	noTmp(t, dir)
}

// 清除中断遗留的临时文件，保留其他文件与子目录
func TestSweep(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, TempPrefix+"123"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, TempPrefix+"456"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame-00000.png"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, TempPrefix+"dir"), 0o755))

	n, err := w.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.FileExists(t, filepath.Join(dir, "frame-00000.png"))
	assert.DirExists(t, filepath.Join(dir, TempPrefix+"dir"))

	missing, err := New(&Options{OutputDir: filepath.Join(dir, "absent")})
	require.NoError(t, err)
	n, err = missing.Sweep()
	require.NoError(t, err)
	assert.Zero(t, n)
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
