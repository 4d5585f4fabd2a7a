package ffmpeg

import (
	"context"
	"math"
	"regexp"
	"strconv"

	"mouthsync/pkg/contract"
)

// AnalyzerOptions: volumedetect 响度分析选项。
type AnalyzerOptions struct {
	FFmpegPath string `json:"ffmpeg_path"`
}

// Analyzer 对单个窗口运行 volumedetect 并解析 mean_volume。
type Analyzer struct {
	bin string
}

func NewAnalyzer(opts *AnalyzerOptions) *Analyzer {
	if opts == nil {
		opts = &AnalyzerOptions{}
	}
	return &Analyzer{bin: binOr(opts.FFmpegPath, "ffmpeg")}
}

var _ contract.Analyzer = (*Analyzer)(nil)

var meanVolumeRe = regexp.MustCompile(`mean_volume:\s*(-inf|[-+.0-9]+) dB`)

// Analyze 非零退出返回错误；正常退出但无 mean_volume 行返回 Found=false。
func (a *Analyzer) Analyze(ctx context.Context, req contract.AnalysisRequest) (contract.Report, error) {
	_, stderr, err := run(ctx, a.bin, analyzeArgs(req)...)
	if err != nil {
		return contract.Report{}, err
	}
	return parseMeanVolume(stderr), nil
}

// volumedetect 在 info 级别输出结果，不能使用 -loglevel error。
func analyzeArgs(req contract.AnalysisRequest) []string {
	return []string{
		"-hide_banner", "-nostdin", "-nostats",
		"-ss", seconds(req.Start),
		"-t", seconds(req.Window),
		"-i", req.Path,
		"-vn", "-sn", "-dn",
		"-af", "volumedetect",
		"-f", "null", "-",
	}
}

// parseMeanVolume 取最后一条 mean_volume；"-inf" 表示静音。
func parseMeanVolume(out []byte) contract.Report {
	all := meanVolumeRe.FindAllSubmatch(out, -1)
	if len(all) == 0 {
		return contract.Report{}
	}
	raw := string(all[len(all)-1][1])
	if raw == "-inf" {
		return contract.Report{MeanDB: math.Inf(-1), Found: true}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return contract.Report{}
	}
	return contract.Report{MeanDB: v, Found: true}
}
