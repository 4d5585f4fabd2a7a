package diag

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"mouthsync/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeProbe     Code = "probe"
	CodeAnalysis  Code = "analysis"
	CodeFallback  Code = "fallback"
	CodeRender    Code = "render"
	CodeEncode    Code = "encode"
	CodeMux       Code = "mux"
	CodeEmpty     Code = "empty"
	CodeInvariant Code = "invariant"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
	CodeExec      Code = "exec"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, contract.ErrNothingToRender):
		return CodeEmpty
	case errors.Is(err, contract.ErrProbe):
		return CodeProbe
	case errors.Is(err, contract.ErrAnalysisTimeout), errors.Is(err, contract.ErrAnalysisUnparsed):
		return CodeFallback
	case errors.Is(err, contract.ErrAnalysis):
		return CodeAnalysis
	case errors.Is(err, contract.ErrRender):
		return CodeRender
	case errors.Is(err, contract.ErrEncode):
		return CodeEncode
	case errors.Is(err, contract.ErrMux):
		return CodeMux
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrSeqInvalid) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	// 外部进程（ffmpeg/ffprobe）启动失败或非零退出
	var xerr *exec.ExitError
	if errors.As(err, &xerr) || errors.Is(err, exec.ErrNotFound) {
		return CodeExec
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
