package raster

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"

	"mouthsync/pkg/contract"
)

// SplitSheet 将横向三等分的口型拼图（闭口 | 张口 | 吐舌）拆成三张 PNG。
// 末段包含宽度余数。任一目标已存在时不写入任何文件。
func SplitSheet(sheet, closed, open, tongue string) error {
	dst := [...]string{closed, open, tongue}
	for _, p := range dst {
		if p == "" {
			return fmt.Errorf("%w: empty asset path", contract.ErrInvalidInput)
		}
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%w: %s", fs.ErrExist, p)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	f, err := os.Open(sheet)
	if err != nil {
		return err
	}
	src, _, err := image.Decode(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("decode %s: %w", sheet, err)
	}
	b := src.Bounds()
	part := b.Dx() / 3
	if part == 0 || b.Dy() == 0 {
		return fmt.Errorf("%w: sheet %s is %dx%d", contract.ErrInvalidInput, sheet, b.Dx(), b.Dy())
	}
	for i, p := range dst {
		x0 := b.Min.X + i*part
		x1 := x0 + part
		if i == len(dst)-1 {
			x1 = b.Max.X
		}
		r := image.Rect(x0, b.Min.Y, x1, b.Max.Y)
		out := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
		draw.Draw(out, out.Bounds(), src, r.Min, draw.Src)
		if err := writePNG(p, out); err != nil {
			return err
		}
	}
	return nil
}

func writePNG(p string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return err
	}
	return f.Close()
}
