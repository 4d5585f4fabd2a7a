package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"mouthsync/pkg/contract"
)

// minFrameDigits: 帧文件名最小零填充宽度。
const minFrameDigits = 5

// framePattern 返回 printf 风格的帧文件名模板，宽度足以容纳最大序号，
// 保证字典序与序号序一致。
func framePattern(frames int) string {
	w := len(strconv.Itoa(max(frames-1, 0)))
	if w < minFrameDigits {
		w = minFrameDigits
	}
	return "frame-%0" + strconv.Itoa(w) + "d.png"
}

// Assets: 三种口型素材路径。
type Assets struct {
	Closed string
	Open   string
	Tongue string
}

func (a Assets) For(v contract.Viseme) string {
	switch v {
	case contract.Tongue:
		return a.Tongue
	case contract.Open:
		return a.Open
	default:
		return a.Closed
	}
}

// Renderer 将口型素材合成为帧图片并交由 Writer 落盘。
type Renderer struct {
	comp    contract.Compositor
	w       contract.Writer
	loc     contract.Locator
	assets  Assets
	pattern string
}

func NewRenderer(c contract.Compositor, w contract.Writer, loc contract.Locator, assets Assets, frames int) *Renderer {
	return &Renderer{comp: c, w: w, loc: loc, assets: assets, pattern: framePattern(frames)}
}

// Pattern 返回帧文件名模板。
func (r *Renderer) Pattern() string { return r.pattern }

func (r *Renderer) id(idx int) contract.ArtifactID {
	return contract.ArtifactID(fmt.Sprintf(r.pattern, idx))
}

// Render 合成帧 idx 并写出；buf 由调用方提供并在返回后归还。
// 相同 (v, idx) 重复渲染覆盖为相同字节。
func (r *Renderer) Render(ctx context.Context, idx int, v contract.Viseme, buf *bytes.Buffer) (contract.RenderedFrame, error) {
	buf.Reset()
	if err := r.comp.Compose(ctx, r.assets.For(v), buf); err != nil {
		return contract.RenderedFrame{}, contract.StageErr("render", idx, contract.ErrRender, err)
	}
	id := r.id(idx)
	if err := r.w.Write(ctx, id, bytes.NewReader(buf.Bytes())); err != nil {
		return contract.RenderedFrame{}, contract.StageErr("render", idx, contract.ErrRender, err)
	}
	p, err := r.loc.Path(id)
	if err != nil {
		return contract.RenderedFrame{}, contract.StageErr("render", idx, contract.ErrRender, err)
	}
	return contract.RenderedFrame{Index: idx, Path: p}, nil
}
