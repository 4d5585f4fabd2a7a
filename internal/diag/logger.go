package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger 为结构化日志器：单行 JSON，经 zerolog 写入轮转文件；sink 失败时退回 stderr。
// 字段：level, ts, corr_id, comp, stage(start|finish|warn|error), code, dur_ms, count, file_id, batch_id, msg, kv。
type Logger struct {
	zl   zerolog.Logger
	sink io.Closer
}

// NewLogger 通过配置的 level 初始化，并将日志写入默认路径 logs/，10m 轮转。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile("logs", 10*1024*1024)
	l := NewLoggerTo(&fallbackWriter{primary: sink}, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 写入任意 io.Writer（测试与自定义 sink）。
func NewLoggerTo(w io.Writer, corrID, level string) *Logger {
	zl := zerolog.New(w).Level(parseLevel(strings.TrimSpace(level))).With().Str("corr_id", corrID).Logger()
	return &Logger{zl: zl}
}

// Nop 返回丢弃一切输出的日志器。
func Nop() *Logger { return &Logger{zl: zerolog.Nop()} }

// Close 关闭底层 sink（若有）。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Event 为标准事件结构。
type Event struct {
	Comp   string
	Stage  string
	Code   string
	DurMS  int64
	Count  int64
	FileID string
	Batch  string
	Msg    string
	KV     map[string]string
}

func (l *Logger) log(ev *zerolog.Event, e Event) {
	// 级别被过滤时 zerolog 返回 nil
	if ev == nil {
		return
	}
	ev = ev.Str("ts", NowUTC()).Str("comp", e.Comp).Str("stage", e.Stage)
	if e.Code != "" {
		ev = ev.Str("code", e.Code)
	}
	if e.DurMS != 0 {
		ev = ev.Int64("dur_ms", e.DurMS)
	}
	if e.Count != 0 {
		ev = ev.Int64("count", e.Count)
	}
	if e.FileID != "" {
		ev = ev.Str("file_id", e.FileID)
	}
	if e.Batch != "" {
		ev = ev.Str("batch_id", e.Batch)
	}
	if len(e.KV) > 0 {
		d := zerolog.Dict()
		for k, v := range e.KV {
			d = d.Str(k, v)
		}
		ev = ev.Dict("kv", d)
	}
	ev.Str("msg", e.Msg).Send()
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(l.zl.Info(), Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id/batch_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID, batch string) *Timer {
	l.log(l.zl.Info(), Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg})
	return &Timer{l: l, comp: comp, fileID: fileID, batch: batch, t0: time.Now()}
}

// StartWithKV 记录带 file_id/batch_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, batch string, kv map[string]string) *Timer {
	l.log(l.zl.Info(), Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, batch: batch, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 file_id/batch_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, batch string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, batch, nil)
}

// ErrorWithKV 支持附带键值对（例如帧序号、stderr 片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, batch string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(l.zl.Error(), Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, FileID: fileID, Batch: batch, KV: kv})
}

// WarnWithKV 记录可恢复事件（例如采样回退）。
func (l *Logger) WarnWithKV(comp, code, msg, fileID, batch string, kv map[string]string) {
	l.log(l.zl.Warn(), Event{Comp: comp, Stage: "warn", Code: code, Msg: msg, FileID: fileID, Batch: batch, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(l.zl.Info(), Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID, batch string, kv map[string]string) {
	l.log(l.zl.Debug(), Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	batch  string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	t.FinishKV(msg, count, nil)
}

// FinishKV 记录带键值的 finish。
func (t *Timer) FinishKV(msg string, count int64, kv map[string]string) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(t.l.zl.Info(), Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, FileID: t.fileID, Batch: t.batch, Msg: msg, KV: kv})
}

// Since 返回计时起点（供 ErrorWith 计算时长）。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}

// fallbackWriter: 主 sink 写失败时改写 stderr。
type fallbackWriter struct {
	primary io.Writer
	mu      sync.Mutex
}

func (f *fallbackWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.primary.Write(p); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		return os.Stderr.Write(p)
	}
	return len(p), nil
}
