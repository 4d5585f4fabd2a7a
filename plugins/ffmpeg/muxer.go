package ffmpeg

import (
	"context"
	"fmt"

	"mouthsync/pkg/contract"
)

// MuxerOptions: 容器合成选项。
type MuxerOptions struct {
	FFmpegPath string `json:"ffmpeg_path"`
	// AudioCodec 默认 aac。
	AudioCodec   string `json:"audio_codec"`
	AudioBitrate string `json:"audio_bitrate"`
}

// Muxer 直拷视频流并重编码音频，时长取较短者。
type Muxer struct {
	bin     string
	codec   string
	bitrate string
}

func NewMuxer(opts *MuxerOptions) *Muxer {
	if opts == nil {
		opts = &MuxerOptions{}
	}
	return &Muxer{
		bin:     binOr(opts.FFmpegPath, "ffmpeg"),
		codec:   binOr(opts.AudioCodec, "aac"),
		bitrate: opts.AudioBitrate,
	}
}

var _ contract.Muxer = (*Muxer)(nil)

func (m *Muxer) Mux(ctx context.Context, req contract.MuxRequest) error {
	if req.Video == "" || req.Audio == "" || req.Dest == "" {
		return fmt.Errorf("%w: mux requires video, audio and dest", contract.ErrInvalidInput)
	}
	_, _, err := run(ctx, m.bin, m.args(req)...)
	return err
}

func (m *Muxer) args(req contract.MuxRequest) []string {
	args := []string{
		"-y", "-hide_banner", "-nostdin", "-loglevel", "error",
		"-i", req.Video,
		"-i", req.Audio,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", m.codec,
	}
	if m.bitrate != "" {
		args = append(args, "-b:a", m.bitrate)
	}
	// 目标名可能不带 .mp4 后缀（原子改名用的临时文件），显式指定容器
	return append(args, "-shortest", "-f", "mp4", req.Dest)
}
