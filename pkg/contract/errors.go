package contract

import (
	"errors"
	"fmt"
)

// 阶段错误分类（哨兵）。上层通过 errors.Is 判定，不做字符串匹配。
var (
	// ErrProbe: 音频时长探测失败（任何工作开始前）。
	ErrProbe = errors.New("probe failed")
	// ErrAnalysis: 响度分析协作方硬错误（致命）。
	ErrAnalysis = errors.New("analysis failed")
	// ErrAnalysisTimeout: 响度分析超时（非致命，转为回退采样）。
	ErrAnalysisTimeout = errors.New("analysis timeout")
	// ErrAnalysisUnparsed: 分析正常结束但无测量结果（非致命，转为回退采样）。
	ErrAnalysisUnparsed = errors.New("analysis unparsed")
	// ErrRender: 素材加载或帧写出失败（致命）。
	ErrRender = errors.New("render failed")
	// ErrEncode: 帧序列为空、有缺口或编码器失败。
	ErrEncode = errors.New("encode failed")
	// ErrMux: 音视频合成失败。
	ErrMux = errors.New("mux failed")
	// ErrNothingToRender: 音频时长不足一帧，帧数为 0。
	ErrNothingToRender = errors.New("nothing to render")

	// ErrInvalidInput: 参数或输入非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrSeqInvalid: 帧序列不连续或重复。
	ErrSeqInvalid = errors.New("sequence invalid")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)

// NoFrame 表示错误与具体帧无关。
const NoFrame = -1

// StageError 携带阶段名与帧序号。
type StageError struct {
	Stage string
	Frame int
	Err   error
}

func (e *StageError) Error() string {
	if e.Frame >= 0 {
		return fmt.Sprintf("%s: frame %d: %v", e.Stage, e.Frame, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageErr 构造阶段错误：kind 为阶段哨兵，cause 为底层错误（可为 nil）。
func StageErr(stage string, frame int, kind, cause error) error {
	var err error
	switch {
	case cause == nil:
		err = kind
	case kind == nil:
		err = cause
	default:
		err = fmt.Errorf("%w: %w", kind, cause)
	}
	return &StageError{Stage: stage, Frame: frame, Err: err}
}

// FrameOf 返回错误链中首个 StageError 的帧序号；无则 NoFrame。
func FrameOf(err error) int {
	var se *StageError
	if errors.As(err, &se) {
		return se.Frame
	}
	return NoFrame
}

// StageOf 返回错误链中首个 StageError 的阶段名；无则空串。
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
