package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 每批一行。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	okTag   lipgloss.Style
	failTag lipgloss.Style

	// 运行期最小状态
	inputsDone int

	// 当前输入
	curInput string
	frames   int
	batches  int

	// 输出控制
	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// Progress: 单批结束后的进度快照（仅供提示）。
type Progress struct {
	BatchesDone  int
	BatchesTotal int
	FramesDone   int
	FramesTotal  int
	Fallbacks    int
	Elapsed      time.Duration
	ETA          time.Duration
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu     sync.RWMutex
	globalTerm *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); globalTerm = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return globalTerm }

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			t.isTTY = term.IsTerminal(int(f.Fd()))
		}
	}
	r := lipgloss.NewRenderer(w)
	t.okTag = r.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	t.failTag = r.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	return t
}

// RunStart: 记录运行上下文（输入数、帧率）。
func (t *Terminal) RunStart(inputs, fps int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.inputsDone = 0
	t.println(fmt.Sprintf("[run] 输入=%d | 帧率=%d", inputs, fps))
}

// InputStart: 标记当前输入与计划帧数/批次。
func (t *Terminal) InputStart(input string, frames, batches int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.curInput = shortenBase(input, 48)
	t.frames = frames
	t.batches = batches
	t.println(fmt.Sprintf("[input] %s | 帧数=%d | 计划批次=%d", t.curInput, frames, batches))
}

// BatchProgress: 每批结束调用。TTY 下 100ms 节流的单行覆盖；非 TTY 每批一行。
func (t *Terminal) BatchProgress(p Progress) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	line := fmt.Sprintf("[batch] %s | 批次 %d/%d | 帧 %d/%d | 回退 %d | 用时 %s | 剩余 %s",
		t.curInput, p.BatchesDone, p.BatchesTotal, p.FramesDone, p.FramesTotal, p.Fallbacks,
		formatDur(p.Elapsed), formatETA(p))
	if !t.isTTY {
		t.println(line)
		return
	}
	now := time.Now()
	if p.BatchesDone < p.BatchesTotal && now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(line)
}

// InputFinish: 完成当前输入（立即刷新并换行）。
func (t *Terminal) InputFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.inputsDone++
	tag := t.tag("done", ok)
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("%s %s | 帧 %d | 批次 %d | 总用时 %s",
		tag, t.curInput, t.frames, t.batches, formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.println(fmt.Sprintf("%s 全部完成 | 输入 %d | 总用时 %s", t.tag("ok", ok), t.inputsDone, formatDur(dur)))
}

// tag 返回 [okWord] 或 [fail]；仅 TTY 着色。
func (t *Terminal) tag(okWord string, ok bool) string {
	s, word := t.okTag, okWord
	if !ok {
		s, word = t.failTag, "fail"
	}
	raw := "[" + word + "]"
	if !t.isTTY {
		return raw
	}
	return s.Render(raw)
}

// 内部输出工具
func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 新行比旧行短时以空格清尾
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按显示列宽截断（尾部省略号计入宽度）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := safe(filepath.Base(strings.TrimSpace(s)))
	return ansi.Truncate(base, max, "…")
}

// visLen: 终端显示列宽（CJK 占 2 列，忽略 ANSI 序列）。
func visLen(s string) int { return lipgloss.Width(s) }

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatETA(p Progress) string {
	if p.FramesDone == 0 {
		return "-"
	}
	return formatDur(p.ETA)
}

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	// 秒，保留 1 位小数
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
