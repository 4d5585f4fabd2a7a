package pipeline

import (
	"context"
	"errors"
	"time"

	"mouthsync/internal/rate"
	"mouthsync/pkg/contract"
)

const (
	DefaultVolumeTimeout = 5 * time.Second
	DefaultFallbackDB    = -50.0
)

// Sampler 为单帧窗口请求平均响度，保证在超时内给出结果或回退采样。
type Sampler struct {
	analyzer   contract.Analyzer
	timeout    time.Duration
	fallbackDB float64
	gate       rate.Gate
	fps        int
}

// NewSampler: timeout<=0 使用 5s；fallbackDB 为 0 时使用 -50 dB。
func NewSampler(a contract.Analyzer, fps int, timeout time.Duration, fallbackDB float64, gate rate.Gate) *Sampler {
	if timeout <= 0 {
		timeout = DefaultVolumeTimeout
	}
	if fallbackDB == 0 {
		fallbackDB = DefaultFallbackDB
	}
	return &Sampler{analyzer: a, timeout: timeout, fallbackDB: fallbackDB, gate: gate, fps: fps}
}

type analysis struct {
	rep contract.Report
	err error
}

// Sample 对帧 f 的窗口 [t, t+1/fps) 采样。
// 结果通道与超时上下文竞争，先到者胜；超时一方取消分析并等待其返回。
// 父上下文取消时返回 ctx.Err()；协作方硬错误返回 ErrAnalysis。
func (s *Sampler) Sample(ctx context.Context, path string, f contract.FrameSpec) (contract.LoudnessSample, error) {
	if s.gate != nil {
		if err := s.gate.Wait(ctx, 1); err != nil {
			return contract.LoudnessSample{}, err
		}
	}
	req := contract.AnalysisRequest{Path: path, Start: f.Timestamp, Window: 1 / float64(s.fps)}

	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	done := make(chan analysis, 1)
	go func() {
		rep, err := s.analyzer.Analyze(tctx, req)
		done <- analysis{rep: rep, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if err := ctx.Err(); err != nil {
				return contract.LoudnessSample{}, err
			}
			// 分析方在截止时刻后以错误返回，按超时处理
			if errors.Is(tctx.Err(), context.DeadlineExceeded) {
				return s.fallback(f.Index, contract.FallbackTimeout), nil
			}
			return contract.LoudnessSample{}, contract.StageErr("sample", f.Index, contract.ErrAnalysis, out.err)
		}
		if !out.rep.Found {
			return s.fallback(f.Index, contract.FallbackUnparsed), nil
		}
		return contract.LoudnessSample{FrameIndex: f.Index, MeanDB: out.rep.MeanDB}, nil
	case <-tctx.Done():
		cancel()
		<-done
		if err := ctx.Err(); err != nil {
			return contract.LoudnessSample{}, err
		}
		return s.fallback(f.Index, contract.FallbackTimeout), nil
	}
}

func (s *Sampler) fallback(idx int, reason string) contract.LoudnessSample {
	return contract.LoudnessSample{FrameIndex: idx, MeanDB: s.fallbackDB, IsFallback: true, Reason: reason}
}
