package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mouthsync/pkg/contract"
)

// DefaultAllowExts 为目录扫描时默认接受的音频扩展名。
var DefaultAllowExts = []string{".m4a", ".mp3", ".wav", ".aac", ".flac", ".ogg", ".opus"}

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名完全匹配，大小写不敏感）。
	// 仅影响目录递归，不影响单文件 root。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// AllowExts: 目录扫描时接受的扩展名；为空使用 DefaultAllowExts。
	// 显式列出的单文件 root 不受此限制。
	AllowExts []string `json:"allow_exts"`
}

// FileSystem 实现基于文件系统的输入发现。
type FileSystem struct {
	excludeDir map[string]struct{}
	allowExt   map[string]struct{}
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	ex := make(map[string]struct{})
	exts := DefaultAllowExts
	if opts != nil {
		for _, name := range opts.ExcludeDirNames {
			if name == "" {
				continue
			}
			ex[strings.ToLower(name)] = struct{}{}
		}
		if len(opts.AllowExts) > 0 {
			exts = opts.AllowExts
		}
	}
	allow := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		allow[e] = struct{}{}
	}
	return &FileSystem{excludeDir: ex, allowExt: allow}
}

var _ contract.Reader = (*FileSystem)(nil)

// Iterate 遍历 roots，按稳定顺序对每个音频文件调用 yield。
// STDIN（"-"）不受支持：外部探测与分析需要可重复打开的路径。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(id contract.InputID, path string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 {
		return fmt.Errorf("%w: no input roots", contract.ErrInvalidInput)
	}
	for _, root := range roots {
		if strings.TrimSpace(root) == "-" {
			return fmt.Errorf("%w: stdin '-' is not supported for audio input", contract.ErrInvalidInput)
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.InputID, string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	// 仅跟随到常规文件；目录符号链接不跟随（忽略）
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return err
		}
		if t.Mode().IsRegular() {
			return yield(contract.NormalizeInputID(root), root)
		}
		return nil
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return yield(contract.NormalizeInputID(root), root)
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(contract.InputID, string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先目录（不跟随目录符号链接）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	// 再文件（允许指向常规文件的符号链接）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || !r.allowed(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					// 悬空链接跳过
					continue
				}
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			continue
		}
		if err := yield(contract.NormalizeInputID(p), p); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) allowed(name string) bool {
	_, ok := r.allowExt[strings.ToLower(filepath.Ext(name))]
	return ok
}
