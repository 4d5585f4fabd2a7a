package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mouthsync/pkg/contract"
)

// UT-DIAG-01: 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	defer w.Close()
	require.NoError(t, w.WriteLine([]byte("first line that is very long")))
	require.NoError(t, w.WriteLine([]byte("second")))
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(files), 2, "应存在轮转文件")
}

// 当前文件名与时间戳文件同时存在
func TestRotatingFileRotateFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10)
	defer w.Close()
	for i := 0; i < 5; i++ {
		_, err := w.Write([]byte("xxxxxxxxxxxxxxxxxx\n"))
		require.NoError(t, err)
	}
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	hasCurrent, hasRotated := false, false
	for _, e := range ents {
		if e.Name() == "mouthsync-current.log" {
			hasCurrent = true
		}
		if strings.HasPrefix(e.Name(), "mouthsync-") && strings.HasSuffix(e.Name(), ".log") && !strings.Contains(e.Name(), "current") {
			hasRotated = true
		}
	}
	assert.True(t, hasCurrent)
	assert.True(t, hasRotated)
}

// 直接覆盖 ensureOpen 与 rotate 内部分支
func TestRotatingFileEnsureAndRotate(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 1024)
	require.NoError(t, w.ensureOpen())
	require.NotNil(t, w.f)
	require.NoError(t, w.rotate())
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(ents), 2)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

// UT-DIAG-02: 指标计数与导出
func TestMetrics(t *testing.T) {
	before := testutil.ToFloat64(opTotal.WithLabelValues("ut", "finish", "success"))
	IncOp("ut", "finish", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(opTotal.WithLabelValues("ut", "finish", "success")))

	IncError("ut", string(CodeRender))
	assert.GreaterOrEqual(t, testutil.ToFloat64(errorTotal.WithLabelValues("ut", "render")), 1.0)

	fb := testutil.ToFloat64(fallbackTotal.WithLabelValues("timeout"))
	IncFallback("timeout")
	assert.Equal(t, fb+1, testutil.ToFloat64(fallbackTotal.WithLabelValues("timeout")))

	IncFrame("open")
	ObserveDuration("ut", "finish", 12)
	ObserveBatch(250 * time.Millisecond)

	path := filepath.Join(t.TempDir(), "mouthsync.prom")
	require.NoError(t, WriteMetricsFile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "mouthsync_op_total")
	assert.Contains(t, string(b), "mouthsync_frames_total")
	assert.Contains(t, string(b), "mouthsync_batch_duration_seconds")
}

// UT-DIAG-03: 错误分类
func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{context.Canceled, CodeCancel},
		{contract.StageErr("analysis", 3, nil, context.DeadlineExceeded), CodeCancel},
		{contract.ErrNothingToRender, CodeEmpty},
		{contract.StageErr("probe", -1, contract.ErrProbe, errors.New("x")), CodeProbe},
		{contract.ErrAnalysisTimeout, CodeFallback},
		{contract.StageErr("sample", 6, contract.ErrAnalysisUnparsed, nil), CodeFallback},
		{contract.StageErr("analysis", 1, contract.ErrAnalysis, errors.New("x")), CodeAnalysis},
		{contract.StageErr("render", 2, contract.ErrRender, &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrNotExist}), CodeRender},
		{fmt.Errorf("x: %w", contract.ErrEncode), CodeEncode},
		{contract.ErrMux, CodeMux},
		{contract.ErrSeqInvalid, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{&exec.ExitError{}, CodeExec},
		{exec.ErrNotFound, CodeExec},
		{errors.New("other"), CodeUnknown},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "case %d", i)
	}
}

// UT-DIAG-04: Logger 事件字段
func TestLoggerEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "corr", "debug")
	timer := l.StartWith("scheduler", "batch", "voice.m4a", "3")
	timer.FinishKV("batch", 50, map[string]string{"eta_ms": "1200"})
	l.WarnWithKV("sampler", string(CodeFallback), "fallback", "voice.m4a", "3", map[string]string{"frame": "7"})
	l.ErrorWith("render", string(CodeRender), "render failed", timer.Since(), "voice.m4a", "3")
	l.DebugStart("orchestrator", "state", "voice.m4a", "", map[string]string{"to": "probing"})
	l.InfoFinish("pipeline", "run", time.Now(), 1)
	l.Error("pipeline", "unknown", "first error", nil)
	l.Start("reader", "iterate").Finish("iterate", 0)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 9)
	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "info", ev["level"])
	assert.Equal(t, "corr", ev["corr_id"])
	assert.Equal(t, "scheduler", ev["comp"])
	assert.Equal(t, "finish", ev["stage"])
	assert.Equal(t, "voice.m4a", ev["file_id"])
	assert.Equal(t, "3", ev["batch_id"])
	assert.Equal(t, float64(50), ev["count"])
	assert.Equal(t, "batch", ev["msg"])
	assert.Equal(t, map[string]any{"eta_ms": "1200"}, ev["kv"])
	assert.NotEmpty(t, ev["ts"])

	require.NoError(t, json.Unmarshal([]byte(lines[2]), &ev))
	assert.Equal(t, "warn", ev["level"])
	assert.Equal(t, "fallback", ev["code"])
}

// 级别过滤
func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "c", "error")
	l.Start("x", "y").Finish("y", 1)
	l.DebugStart("x", "y", "", "", nil)
	l.WarnWithKV("x", "c", "m", "", "", nil)
	assert.Empty(t, buf.String())
	l.Error("x", "c", "m", nil)
	assert.Contains(t, buf.String(), `"stage":"error"`)

	// Nop 与 nil Timer 均安全
	Nop().Start("x", "y").Finish("y", 1)
	var nt *Timer
	nt.Finish("x", 0)
	assert.Nil(t, nt.Since())
	assert.NoError(t, Nop().Close())
}

// sink 写失败时退回 stderr，不向调用方报错
func TestFallbackWriter(t *testing.T) {
	fw := &fallbackWriter{primary: failingWriter{}}
	n, err := fw.Write([]byte("{}\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("boom") }

// UT-DIAG-05: 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	require.False(t, term.isTTY)
	term.RunStart(1, 10)
	term.InputStart("voices/voice.m4a", 1300, 26)
	term.BatchProgress(Progress{BatchesDone: 1, BatchesTotal: 26, FramesDone: 50, FramesTotal: 1300, Elapsed: 2 * time.Second, ETA: 50 * time.Second})
	term.BatchProgress(Progress{BatchesDone: 2, BatchesTotal: 26, FramesDone: 100, FramesTotal: 1300, Fallbacks: 1, Elapsed: 4 * time.Second, ETA: 48 * time.Second})
	term.InputFinish(true, 5100*time.Millisecond)
	term.RunFinish(true, 41300*time.Millisecond)

	out := sb.String()
	assert.NotContains(t, out, "\r")
	assert.Contains(t, out, "[run] 输入=1 | 帧率=10")
	assert.Contains(t, out, "[input] voice.m4a | 帧数=1300 | 计划批次=26")
	assert.Contains(t, out, "[batch] voice.m4a | 批次 1/26 | 帧 50/1300 | 回退 0 | 用时 2.0s | 剩余 50.0s")
	assert.Contains(t, out, "[batch] voice.m4a | 批次 2/26 | 帧 100/1300 | 回退 1 | 用时 4.0s | 剩余 48.0s")
	assert.Contains(t, out, "[done] voice.m4a | 帧 1300 | 批次 26 | 总用时 5.1s")
	assert.Contains(t, out, "[ok] 全部完成 | 输入 1 | 总用时 41.3s")
}

// UT-DIAG-06: 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottle(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true // 强制 TTY
	term.InputStart("/a/b/c/longfilename.wav", 30, 3)

	term.BatchProgress(Progress{BatchesDone: 1, BatchesTotal: 3, FramesDone: 10, FramesTotal: 30})
	first := sb.String()
	assert.Contains(t, first, "\r[batch]")
	// 立即第二次：应被节流（<100ms）
	term.BatchProgress(Progress{BatchesDone: 2, BatchesTotal: 3, FramesDone: 20, FramesTotal: 30})
	assert.Equal(t, first, sb.String())
	// 最后一批不节流
	term.BatchProgress(Progress{BatchesDone: 3, BatchesTotal: 3, FramesDone: 30, FramesTotal: 30})
	assert.Contains(t, sb.String(), "批次 3/3")

	term.InputFinish(false, time.Second)
	assert.Contains(t, sb.String(), "[fail]")
	assert.True(t, strings.HasSuffix(sb.String(), "\n"))
}

// 写失败后进入禁用态
func TestTerminalDisableOnWriteError(t *testing.T) {
	term := NewTerminal(failingWriter{}, true)
	term.RunStart(1, 10)
	assert.False(t, term.enabled)
	term.RunFinish(true, time.Second) // no-op，不应 panic

	var nilTerm *Terminal
	nilTerm.RunStart(1, 1)
	nilTerm.BatchProgress(Progress{})

	SetTerminal(term)
	assert.Same(t, term, GetTerminal())
	SetTerminal(nil)
	assert.Nil(t, GetTerminal())
}

// TTY 覆盖：CJK 长行后接短行，按列宽补齐空格
func TestTerminalTTYWideOverwrite(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	long := "[batch] 配音.wav | 批次 12/26 | 帧 600/1300 | 回退 3 | 用时 12.0s | 剩余 14.0s"
	short := "[batch] 配音.wav | 批次 13/26"
	term.printInline(long)
	term.printInline(short)

	require.Greater(t, lipgloss.Width(long), len([]rune(long)))
	segs := strings.Split(sb.String(), "\r")
	last := segs[len(segs)-1]
	assert.True(t, strings.HasPrefix(last, short))
	assert.Equal(t, lipgloss.Width(long), lipgloss.Width(last), "新行应完整覆盖旧行")
	assert.Equal(t, lipgloss.Width(short), term.lastLen)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "0ms", formatDur(-time.Second))
	assert.Equal(t, "999ms", formatDur(999*time.Millisecond))
	assert.Equal(t, "1.5s", formatDur(1500*time.Millisecond))
	assert.Equal(t, "-", formatETA(Progress{}))
	assert.Equal(t, "abcd…", shortenBase("/x/abcdefgh", 5))
	assert.Equal(t, "配音文…", shortenBase("/x/配音文件一号.wav", 7))
	assert.LessOrEqual(t, lipgloss.Width(shortenBase("/x/配音文件一号.wav", 8)), 8)
	assert.Equal(t, "配音.wav", shortenBase("配音.wav", 8))
	assert.Equal(t, "", shortenBase("x", 0))
	assert.Equal(t, "a b", safe("a\nb"))
	assert.NotEmpty(t, NowUTC())
}
