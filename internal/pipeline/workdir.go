package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"mouthsync/pkg/contract"
)

// workdirMarker: 目录归属标记。仅带标记的既有目录会被清理陈旧工件。
const workdirMarker = ".mouthsync-workdir"

var staleFrame = regexp.MustCompile(`^frame-[0-9]+\.png$`)

// workdir: 运行期工作目录。仅删除本次运行登记的工件与自身标记。
//   - created: 目录由本次创建，清理后移除；
//   - inherited: 目录已带标记（此前运行保留），视同自有；
//   - 其余情况为用户提供的空目录，清理后保留目录本身。
type workdir struct {
	dir       string
	created   bool
	inherited bool
	artifacts []string
}

// checkWorkdir 拒绝空路径、当前目录与文件系统根。
func checkWorkdir(dir string) error {
	d := strings.TrimSpace(dir)
	if d == "" {
		return fmt.Errorf("%w: empty workdir", contract.ErrInvalidInput)
	}
	c := filepath.Clean(d)
	if c == "." || c == string(filepath.Separator) || filepath.Dir(c) == c {
		return fmt.Errorf("%w: refusing workdir %q", contract.ErrInvalidInput, dir)
	}
	return nil
}

// prepareWorkdir 创建或认领工作目录。
// 已带标记的目录移除上次保留的帧图片与中间工件；无标记的非空目录拒绝使用。
func prepareWorkdir(dir string) (*workdir, error) {
	if err := checkWorkdir(dir); err != nil {
		return nil, err
	}
	wd := &workdir{dir: filepath.Clean(dir)}
	ents, err := os.ReadDir(wd.dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(wd.dir, 0o755); err != nil {
			return nil, err
		}
		wd.created = true
	case err != nil:
		return nil, err
	default:
		for _, e := range ents {
			if e.Name() == workdirMarker {
				wd.inherited = true
				break
			}
		}
		if !wd.inherited && len(ents) > 0 {
			return nil, fmt.Errorf("%w: workdir %q is not empty and not owned by mouthsync", contract.ErrInvalidInput, dir)
		}
	}
	if wd.inherited {
		return wd, wd.purge(ents)
	}
	if err := os.WriteFile(wd.marker(), nil, 0o644); err != nil {
		return nil, err
	}
	return wd, nil
}

func (w *workdir) marker() string { return filepath.Join(w.dir, workdirMarker) }

// purge 删除上次保留的帧与中间工件；其他文件不动。
func (w *workdir) purge(ents []os.DirEntry) error {
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !(staleFrame.MatchString(name) || name == videoName || name == string(timelineID)) {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (w *workdir) track(p ...string) { w.artifacts = append(w.artifacts, p...) }

// cleanup 删除登记的工件；全部成功后移除标记。返回首个非 NotExist 错误。
func (w *workdir) cleanup() error {
	var first error
	for _, p := range w.artifacts {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) && first == nil {
			first = err
		}
	}
	w.artifacts = nil
	if first != nil {
		return first
	}
	if err := os.Remove(w.marker()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if w.created || w.inherited {
		// 目录非空（含外部文件）时保留
		_ = os.Remove(w.dir)
	}
	return nil
}

// promote 将 src 移至 dst：同卷 rename，跨卷回退为复制后删除。
func promote(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".mouthsync-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	_ = in.Close()
	return os.Remove(src)
}
