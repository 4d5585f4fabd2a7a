// Package mock 提供不依赖外部可执行文件的协作方实现，用于联调与测试。
package mock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mouthsync/pkg/contract"
)

// ErrInjected: 配置触发的故障。
var ErrInjected = errors.New("mock: injected failure")

func decode(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func sleepCtx(ctx context.Context, ms int) error {
	if ms <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ProberOptions: 固定时长；Durations 按文件基名覆盖。
// 基名不区分大小写：配置经 viper 加载时键名统一转为小写。
type ProberOptions struct {
	DurationSeconds float64            `json:"duration_seconds"`
	Durations       map[string]float64 `json:"durations"`
	Fail            bool               `json:"fail"`
}

type Prober struct{ o ProberOptions }

func NewProber(raw json.RawMessage) (*Prober, error) {
	var o ProberOptions
	if err := decode(raw, &o); err != nil {
		return nil, err
	}
	if len(o.Durations) > 0 {
		m := make(map[string]float64, len(o.Durations))
		for k, v := range o.Durations {
			m[strings.ToLower(k)] = v
		}
		o.Durations = m
	}
	return &Prober{o: o}, nil
}

func (p *Prober) Probe(ctx context.Context, path string) (contract.AudioTrack, error) {
	if err := ctx.Err(); err != nil {
		return contract.AudioTrack{}, err
	}
	if p.o.Fail {
		return contract.AudioTrack{}, ErrInjected
	}
	d := p.o.DurationSeconds
	if v, ok := p.o.Durations[strings.ToLower(filepath.Base(path))]; ok {
		d = v
	}
	return contract.AudioTrack{Path: path, DurationSeconds: d}, nil
}

// AnalyzerOptions: 帧序号 = round(start/window)。
//   - Levels: 按帧序号循环取值；为空时恒为 -35 dB。
//   - HangFrames: 阻塞直到 ctx 结束。
//   - FailFrames: 返回 ErrInjected。
//   - UnparsedFrames: 正常结束但 Found=false。
type AnalyzerOptions struct {
	Levels         []float64 `json:"levels"`
	HangFrames     []int     `json:"hang_frames"`
	FailFrames     []int     `json:"fail_frames"`
	UnparsedFrames []int     `json:"unparsed_frames"`
	DelayMS        int       `json:"delay_ms"`
}

type Analyzer struct {
	o        AnalyzerOptions
	hang     map[int]bool
	fail     map[int]bool
	unparsed map[int]bool

	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func NewAnalyzer(raw json.RawMessage) (*Analyzer, error) {
	var o AnalyzerOptions
	if err := decode(raw, &o); err != nil {
		return nil, err
	}
	set := func(xs []int) map[int]bool {
		m := make(map[int]bool, len(xs))
		for _, x := range xs {
			m[x] = true
		}
		return m
	}
	return &Analyzer{o: o, hang: set(o.HangFrames), fail: set(o.FailFrames), unparsed: set(o.UnparsedFrames)}, nil
}

// Calls 返回累计调用次数。
func (a *Analyzer) Calls() int64 { return a.calls.Load() }

// PeakInFlight 返回观测到的最大并发调用数。
func (a *Analyzer) PeakInFlight() int64 { return a.peak.Load() }

func (a *Analyzer) Analyze(ctx context.Context, req contract.AnalysisRequest) (contract.Report, error) {
	a.calls.Add(1)
	n := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}

	idx := 0
	if req.Window > 0 {
		idx = int(math.Round(req.Start / req.Window))
	}
	if err := sleepCtx(ctx, a.o.DelayMS); err != nil {
		return contract.Report{}, err
	}
	switch {
	case a.hang[idx]:
		<-ctx.Done()
		return contract.Report{}, ctx.Err()
	case a.fail[idx]:
		return contract.Report{}, fmt.Errorf("%w: frame %d", ErrInjected, idx)
	case a.unparsed[idx]:
		return contract.Report{}, nil
	}
	if len(a.o.Levels) == 0 {
		return contract.Report{MeanDB: -35, Found: true}, nil
	}
	return contract.Report{MeanDB: a.o.Levels[idx%len(a.o.Levels)], Found: true}, nil
}

// CompositorOptions: FailAfter>0 时第 FailAfter+1 次调用起返回错误。
type CompositorOptions struct {
	FailAfter int `json:"fail_after"`
	DelayMS   int `json:"delay_ms"`
}

// Compositor 写出 "MOCKFRAME <素材基名>\n"，不读取素材内容。
type Compositor struct {
	o     CompositorOptions
	calls atomic.Int64
}

func NewCompositor(raw json.RawMessage) (*Compositor, error) {
	var o CompositorOptions
	if err := decode(raw, &o); err != nil {
		return nil, err
	}
	return &Compositor{o: o}, nil
}

func (c *Compositor) Calls() int64 { return c.calls.Load() }

func (c *Compositor) Compose(ctx context.Context, overlayPath string, w io.Writer) error {
	n := c.calls.Add(1)
	if err := sleepCtx(ctx, c.o.DelayMS); err != nil {
		return err
	}
	if c.o.FailAfter > 0 && n > int64(c.o.FailAfter) {
		return ErrInjected
	}
	_, err := fmt.Fprintf(w, "MOCKFRAME %s\n", filepath.Base(overlayPath))
	return err
}

// EncoderOptions: Fail 时总是返回错误。
type EncoderOptions struct {
	Fail bool `json:"fail"`
}

// Encoder 校验帧文件连续完整，并把各帧内容按序拼接写入 Dest。
type Encoder struct {
	o  EncoderOptions
	mu sync.Mutex
	// Last: 最近一次请求。
	Last contract.EncodeRequest
}

func NewEncoder(raw json.RawMessage) (*Encoder, error) {
	var o EncoderOptions
	if err := decode(raw, &o); err != nil {
		return nil, err
	}
	return &Encoder{o: o}, nil
}

func (e *Encoder) Encode(ctx context.Context, req contract.EncodeRequest) error {
	e.mu.Lock()
	e.Last = req
	e.mu.Unlock()
	if e.o.Fail {
		return ErrInjected
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "MOCKVIDEO fps=%d frames=%d\n", req.FrameRate, req.Frames)
	for i := 0; i < req.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := os.ReadFile(filepath.Join(req.Dir, fmt.Sprintf(req.Pattern, i)))
		if err != nil {
			return fmt.Errorf("mock encode: frame %d: %w", i, err)
		}
		buf.Write(b)
	}
	if _, err := os.Stat(filepath.Join(req.Dir, fmt.Sprintf(req.Pattern, req.Frames))); err == nil {
		return fmt.Errorf("mock encode: unexpected frame %d", req.Frames)
	}
	return os.WriteFile(req.Dest, buf.Bytes(), 0o644)
}

// MuxerOptions: Fail 时总是返回错误。
type MuxerOptions struct {
	Fail bool `json:"fail"`
}

// Muxer 写出 "MOCKMP4 audio=<基名>\n" + 视频内容。
type Muxer struct{ o MuxerOptions }

func NewMuxer(raw json.RawMessage) (*Muxer, error) {
	var o MuxerOptions
	if err := decode(raw, &o); err != nil {
		return nil, err
	}
	return &Muxer{o: o}, nil
}

func (m *Muxer) Mux(ctx context.Context, req contract.MuxRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.o.Fail {
		return ErrInjected
	}
	v, err := os.ReadFile(req.Video)
	if err != nil {
		return err
	}
	if _, err := os.Stat(req.Audio); err != nil {
		return err
	}
	out := append([]byte(fmt.Sprintf("MOCKMP4 audio=%s\n", filepath.Base(req.Audio))), v...)
	return os.WriteFile(req.Dest, out, 0o644)
}

var (
	_ contract.Prober     = (*Prober)(nil)
	_ contract.Analyzer   = (*Analyzer)(nil)
	_ contract.Compositor = (*Compositor)(nil)
	_ contract.Encoder    = (*Encoder)(nil)
	_ contract.Muxer      = (*Muxer)(nil)
)
