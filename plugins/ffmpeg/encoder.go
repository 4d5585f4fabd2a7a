package ffmpeg

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"mouthsync/pkg/contract"
)

// EncoderOptions: 图片序列编码选项。
type EncoderOptions struct {
	FFmpegPath string `json:"ffmpeg_path"`
	// Codec 默认 libx264；PixFmt 默认 yuv420p。
	Codec  string `json:"codec"`
	PixFmt string `json:"pix_fmt"`
	// CRF<=0 与空 Preset 时沿用编码器默认值。
	CRF    int    `json:"crf"`
	Preset string `json:"preset"`
}

// Encoder 将编号帧序列编码为无声视频。
type Encoder struct {
	bin    string
	codec  string
	pixFmt string
	crf    int
	preset string
}

func NewEncoder(opts *EncoderOptions) *Encoder {
	if opts == nil {
		opts = &EncoderOptions{}
	}
	return &Encoder{
		bin:    binOr(opts.FFmpegPath, "ffmpeg"),
		codec:  binOr(opts.Codec, "libx264"),
		pixFmt: binOr(opts.PixFmt, "yuv420p"),
		crf:    opts.CRF,
		preset: opts.Preset,
	}
}

var _ contract.Encoder = (*Encoder)(nil)

func (e *Encoder) Encode(ctx context.Context, req contract.EncodeRequest) error {
	if req.FrameRate <= 0 || req.Frames <= 0 || req.Dest == "" {
		return fmt.Errorf("%w: encode fps=%d frames=%d", contract.ErrInvalidInput, req.FrameRate, req.Frames)
	}
	_, _, err := run(ctx, e.bin, e.args(req)...)
	return err
}

func (e *Encoder) args(req contract.EncodeRequest) []string {
	args := []string{
		"-y", "-hide_banner", "-nostdin", "-loglevel", "error",
		"-framerate", strconv.Itoa(req.FrameRate),
		"-start_number", "0",
		"-i", filepath.Join(req.Dir, req.Pattern),
		"-frames:v", strconv.Itoa(req.Frames),
		"-c:v", e.codec,
		"-pix_fmt", e.pixFmt,
	}
	if e.crf > 0 {
		args = append(args, "-crf", strconv.Itoa(e.crf))
	}
	if e.preset != "" {
		args = append(args, "-preset", e.preset)
	}
	return append(args, req.Dest)
}
