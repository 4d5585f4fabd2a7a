package contract

import (
	"math"
	"time"
)

// AudioTrack: 一次探测得到的音频元信息；运行期只读。
type AudioTrack struct {
	Path            string
	DurationSeconds float64
}

// FrameSpec: 单帧调度单元。Index 自 0 起，时间戳 = Index / 帧率。
type FrameSpec struct {
	Index     int
	Timestamp float64
}

// NewFrameSpec 按帧率计算时间戳。
func NewFrameSpec(index, fps int) FrameSpec {
	return FrameSpec{Index: index, Timestamp: float64(index) / float64(fps)}
}

// 回退原因（仅用于诊断与边车）。
const (
	FallbackTimeout  = "timeout"
	FallbackUnparsed = "unparsed"
)

// LoudnessSample: 单帧窗口的平均响度。
// IsFallback=true 表示采样超时或无测量结果，MeanDB 为配置的静音值。
type LoudnessSample struct {
	FrameIndex int
	MeanDB     float64
	IsFallback bool
	Reason     string
}

// Cause 返回回退原因对应的阶段错误；非回退采样返回 nil。
func (s LoudnessSample) Cause() error {
	if !s.IsFallback {
		return nil
	}
	kind := ErrAnalysisTimeout
	if s.Reason == FallbackUnparsed {
		kind = ErrAnalysisUnparsed
	}
	return StageErr("sample", s.FrameIndex, kind, nil)
}

// Viseme: 口型。按开口程度有序：Closed < Open < Tongue。
type Viseme int

const (
	Closed Viseme = iota
	Open
	Tongue
)

// Visemes 为全部口型，按序排列。
var Visemes = [...]Viseme{Closed, Open, Tongue}

func (v Viseme) String() string {
	switch v {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Tongue:
		return "tongue"
	default:
		return "unknown"
	}
}

// RenderedFrame: 已落盘的单帧图片；由本次运行独占，清理阶段删除。
type RenderedFrame struct {
	Index int
	Path  string
}

// Batch: 半开区间 [Start, End)。批间严格递增，批内无序。
type Batch struct {
	Index int
	Start int
	End   int
}

// Len 返回批内帧数。
func (b Batch) Len() int { return b.End - b.Start }

// PipelineResult: 单个输入完成后的汇总。
type PipelineResult struct {
	Input      string
	Output     string
	Timeline   string // 未启用时为空
	FrameCount int
	Duration   float64
	Elapsed    time.Duration
	Batches    int
	Fallbacks  int
	Visemes    map[Viseme]int
}

// frameEpsilon 吸收浮点乘法误差（3.27*10 = 32.699999...）。
const frameEpsilon = 1e-9

// FrameCount 返回 floor(duration * fps)；非法输入返回 0。
func FrameCount(durationSeconds float64, fps int) int {
	if fps <= 0 || durationSeconds <= 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		return 0
	}
	return int(math.Floor(durationSeconds*float64(fps) + frameEpsilon))
}
