package ffmpeg

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"mouthsync/pkg/contract"
)

// ProberOptions: ffprobe 时长探测选项。
type ProberOptions struct {
	FFprobePath string `json:"ffprobe_path"`
}

// Prober 通过 ffprobe 读取容器时长。
type Prober struct {
	bin string
}

func NewProber(opts *ProberOptions) *Prober {
	if opts == nil {
		opts = &ProberOptions{}
	}
	return &Prober{bin: binOr(opts.FFprobePath, "ffprobe")}
}

var _ contract.Prober = (*Prober)(nil)

func (p *Prober) Probe(ctx context.Context, path string) (contract.AudioTrack, error) {
	out, _, err := run(ctx, p.bin, probeArgs(path)...)
	if err != nil {
		return contract.AudioTrack{}, err
	}
	d, err := parseDuration(out)
	if err != nil {
		return contract.AudioTrack{}, err
	}
	return contract.AudioTrack{Path: path, DurationSeconds: d}, nil
}

func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
}

// parseDuration 解析 ffprobe 打印的时长；N/A、负数与非有限值视为错误。
func parseDuration(out []byte) (float64, error) {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" || strings.EqualFold(s, "N/A") {
		return 0, fmt.Errorf("duration unavailable: %q", s)
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("duration out of range: %v", d)
	}
	return d, nil
}
