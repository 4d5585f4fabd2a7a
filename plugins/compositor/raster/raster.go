package raster

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	xdraw "golang.org/x/image/draw"

	"mouthsync/pkg/contract"
)

// Options: 画布尺寸与底色。
type Options struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	// Background: #rrggbb；默认白色。
	Background string `json:"background"`
}

const (
	DefaultWidth  = 512
	DefaultHeight = 1024
)

// Compositor 将口型素材缩放铺满固定画布并编码为 PNG。
// 素材解码结果按路径缓存；同一素材的输出字节一致。
type Compositor struct {
	w, h int
	bg   color.RGBA
	enc  png.Encoder

	mu     sync.Mutex
	assets map[string]image.Image
}

func New(opts *Options) (*Compositor, error) {
	if opts == nil {
		opts = &Options{}
	}
	w, h := opts.Width, opts.Height
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	bg := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	if s := strings.TrimSpace(opts.Background); s != "" {
		c, err := parseHex(s)
		if err != nil {
			return nil, err
		}
		bg = c
	}
	return &Compositor{
		w: w, h: h, bg: bg,
		enc:    png.Encoder{CompressionLevel: png.BestSpeed},
		assets: make(map[string]image.Image),
	}, nil
}

var _ contract.Compositor = (*Compositor)(nil)

func (c *Compositor) Compose(ctx context.Context, overlayPath string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := c.asset(overlayPath)
	if err != nil {
		return err
	}
	dst := image.NewRGBA(image.Rect(0, 0, c.w, c.h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: c.bg}, image.Point{}, draw.Src)
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.enc.Encode(w, dst)
}

// asset 解码失败不缓存，下次调用重试。
func (c *Compositor) asset(p string) (image.Image, error) {
	c.mu.Lock()
	img, ok := c.assets[p]
	c.mu.Unlock()
	if ok {
		return img, nil
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err = image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	c.mu.Lock()
	c.assets[p] = img
	c.mu.Unlock()
	return img, nil
}

func parseHex(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("%w: background %q", contract.ErrInvalidInput, s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: background %q", contract.ErrInvalidInput, s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
