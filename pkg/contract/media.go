package contract

import (
	"context"
	"io"
)

// Prober: 探测音频总时长（秒）。
type Prober interface {
	Probe(ctx context.Context, path string) (AudioTrack, error)
}

// AnalysisRequest: 单个响度窗口。Start 可超过音频末尾。
type AnalysisRequest struct {
	Path   string
	Start  float64
	Window float64
}

// Report: 协作方返回的测量结果。
// Found=false 表示协作方正常结束但没有给出测量（窗口越界/输出无法解析）。
type Report struct {
	MeanDB float64
	Found  bool
}

// Analyzer: 响度分析协作方。
// 约束：ctx 取消时必须终止并回收子进程后再返回。
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (Report, error)
}

// Compositor: 在固定画布上绘制口型素材并以栅格格式写出到 w。
// 相同输入必须产生字节一致的输出。
type Compositor interface {
	Compose(ctx context.Context, overlayPath string, w io.Writer) error
}

// EncodeRequest: 将 Dir 下按 Pattern（printf 风格，如 frame-%05d.png）编号的
// Frames 张图片以 FrameRate 编码为无声视频 Dest。
type EncodeRequest struct {
	Dir       string
	Pattern   string
	FrameRate int
	Frames    int
	Dest      string
}

// Encoder: 视频编码协作方。
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest) error
}

// MuxRequest: 视频流直拷、音频重编码，时长取两者较短。
type MuxRequest struct {
	Video string
	Audio string
	Dest  string
}

// Muxer: 容器合成协作方。
type Muxer interface {
	Mux(ctx context.Context, req MuxRequest) error
}
