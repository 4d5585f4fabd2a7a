package pipeline

import (
	"strings"

	"mouthsync/pkg/contract"
)

// 批处理默认值。
const (
	DefaultLongClipThreshold = 120.0
	DefaultLongBatchSize     = 50
	DefaultShortBatchCap     = 200
)

// 资源回收模式（batch.reclaim）。
const (
	ReclaimAuto   = "auto"
	ReclaimAlways = "always"
	ReclaimNever  = "never"
)

// BatchPolicy: 分批策略；零值字段使用默认常量。
type BatchPolicy struct {
	// Size: 长音频批大小。
	Size int
	// Cap: 短音频单批上限。
	Cap int
	// LongClipThreshold: 时长严格大于该值（秒）视为长音频。
	LongClipThreshold float64
	// Reclaim: auto（仅长音频）| always | never。
	Reclaim string
}

// Plan: 一次输入的批计划。
type Plan struct {
	Batches []contract.Batch
	Size    int
	Long    bool
	Reclaim bool
}

// PlanBatches 将 [0, frames) 切分为首尾相接的半开区间。
func PlanBatches(frames int, duration float64, p BatchPolicy) Plan {
	threshold := p.LongClipThreshold
	if threshold <= 0 {
		threshold = DefaultLongClipThreshold
	}
	long := duration > threshold
	size := p.Cap
	if size <= 0 {
		size = DefaultShortBatchCap
	}
	if long {
		size = p.Size
		if size <= 0 {
			size = DefaultLongBatchSize
		}
	}
	var reclaim bool
	switch strings.ToLower(strings.TrimSpace(p.Reclaim)) {
	case ReclaimAlways:
		reclaim = true
	case ReclaimNever:
		reclaim = false
	default:
		reclaim = long
	}
	plan := Plan{Size: size, Long: long, Reclaim: reclaim}
	if frames <= 0 {
		return plan
	}
	plan.Batches = make([]contract.Batch, 0, (frames+size-1)/size)
	for start := 0; start < frames; start += size {
		end := start + size
		if end > frames {
			end = frames
		}
		plan.Batches = append(plan.Batches, contract.Batch{Index: len(plan.Batches), Start: start, End: end})
	}
	return plan
}
