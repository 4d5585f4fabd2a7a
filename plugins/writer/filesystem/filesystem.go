package filesystem

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mouthsync/pkg/contract"
)

// Options: 工作目录 Writer 选项。
type Options struct {
	// OutputDir: 工件根目录（必需；由装配层注入 workdir）。
	OutputDir string `json:"output_dir"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 未提供时默认 true；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 是否扁平化输出（仅保留文件名，不保留目录层级）。默认 true。
	Flat *bool `json:"flat,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认 0644/0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用 64KiB。
	BufSize int `json:"buf_size,omitempty"`
	// Sync: 关闭前 fsync。默认 false（工作目录工件可重建）。
	Sync bool `json:"sync,omitempty"`
}

// TempPrefix: 原子写临时文件名前缀。
const TempPrefix = ".tmp-"

type FS struct {
	root    string
	atomic  bool
	flat    bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
	sync    bool
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, os.ErrInvalid
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	flat := true
	if opts.Flat != nil {
		flat = *opts.Flat
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	return &FS{root: filepath.Clean(opts.OutputDir), atomic: atomic, flat: flat, permF: pf, permD: pd, bufSize: bsz, sync: opts.Sync}, nil
}

var (
	_ contract.Writer  = (*FS)(nil)
	_ contract.Locator = (*FS)(nil)
	_ contract.Sweeper = (*FS)(nil)
)

// Root 返回工件根目录。
func (w *FS) Root() string { return w.root }

// Path 返回 id 对应的落盘路径（不访问文件系统）。
func (w *FS) Path(id contract.ArtifactID) (string, error) { return w.mapPath(id) }

// Write 将 r 的全部字节写入 id 对应路径；同 id 重复写入为覆盖。
// 帧图片在并发批次中各写一次，原子模式保证编码器不会读到半帧。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	if !w.atomic {
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
		if err != nil {
			return err
		}
		return w.fill(ctx, f, r)
	}
	f, err := os.CreateTemp(filepath.Dir(dest), TempPrefix+"*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_ = os.Chmod(tmp, w.permF)
	if err := w.fill(ctx, f, r); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// os.Rename 在 Windows 上同样覆盖已存在目标
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Sweep 删除根目录下残留的原子写临时文件（进程中断所致），返回删除数。
// 根目录不存在时返回 0。
func (w *FS) Sweep() (int, error) {
	ents, err := os.ReadDir(w.root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range ents {
		if e.IsDir() || !strings.HasPrefix(e.Name(), TempPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(w.root, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, err
		}
		n++
	}
	return n, nil
}

// mapPath: Clean + Join + 越界校验。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(string(id))
	if w.flat {
		rel = filepath.Base(rel)
		if rel == "." || rel == ".." || rel == "" || rel == string(filepath.Separator) {
			return "", contract.ErrPathInvalid
		}
		return filepath.Join(w.root, rel), nil
	}
	if rel == "." || rel == "" || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", contract.ErrPathInvalid
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

// fill 经缓冲写满 f 并关闭；sync 时关闭前落盘。
func (w *FS) fill(ctx context.Context, f *os.File, r io.Reader) error {
	bw := bufio.NewWriterSize(f, w.bufSize)
	_, err := io.Copy(bw, ctxReader{ctx: ctx, r: r})
	if err == nil {
		err = bw.Flush()
	}
	if err == nil && w.sync {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ctxReader: 每次 Read 前检查取消。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
