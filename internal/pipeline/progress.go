package pipeline

import (
	"sync/atomic"
	"time"

	"mouthsync/internal/diag"
	"mouthsync/pkg/contract"
)

// Progress: 单次输入的进度累加器，并发安全，随运行创建与丢弃。
type Progress struct {
	framesTotal  int
	batchesTotal int
	start        time.Time

	framesDone  atomic.Int64
	batchesDone atomic.Int64
	fallbacks   atomic.Int64
	visemes     [len(contract.Visemes)]atomic.Int64
}

func newProgress(frames, batches int, start time.Time) *Progress {
	return &Progress{framesTotal: frames, batchesTotal: batches, start: start}
}

func (p *Progress) frameDone(s contract.LoudnessSample, v contract.Viseme) {
	p.framesDone.Add(1)
	if s.IsFallback {
		p.fallbacks.Add(1)
	}
	if int(v) >= 0 && int(v) < len(p.visemes) {
		p.visemes[v].Add(1)
	}
}

func (p *Progress) batchDone() { p.batchesDone.Add(1) }

// Snapshot 返回当前快照；ETA 按已完成帧的平均耗时线性外推。
func (p *Progress) Snapshot(now time.Time) diag.Progress {
	done := int(p.framesDone.Load())
	elapsed := now.Sub(p.start)
	if elapsed < 0 {
		elapsed = 0
	}
	var eta time.Duration
	if done > 0 && done < p.framesTotal {
		eta = time.Duration(float64(elapsed) / float64(done) * float64(p.framesTotal-done))
	}
	return diag.Progress{
		BatchesDone:  int(p.batchesDone.Load()),
		BatchesTotal: p.batchesTotal,
		FramesDone:   done,
		FramesTotal:  p.framesTotal,
		Fallbacks:    int(p.fallbacks.Load()),
		Elapsed:      elapsed,
		ETA:          eta,
	}
}

// Visemes 返回各口型帧数。
func (p *Progress) Visemes() map[contract.Viseme]int {
	m := make(map[contract.Viseme]int, len(contract.Visemes))
	for _, v := range contract.Visemes {
		m[v] = int(p.visemes[v].Load())
	}
	return m
}
