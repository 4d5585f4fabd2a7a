package diag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 进程内指标（独立 Registry，不注册到默认全局）：
// - mouthsync_op_total{comp,stage,result}
// - mouthsync_error_total{comp,code}
// - mouthsync_op_duration_ms{comp,stage}
// - mouthsync_frames_total{viseme}
// - mouthsync_sampler_fallback_total{reason}
// - mouthsync_batch_duration_seconds
var (
	Registry = prometheus.NewRegistry()

	factory = promauto.With(Registry)

	opTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mouthsync_op_total",
		Help: "各组件阶段操作计数。",
	}, []string{"comp", "stage", "result"})

	errorTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mouthsync_error_total",
		Help: "按分类统计的错误数。",
	}, []string{"comp", "code"})

	opDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mouthsync_op_duration_ms",
		Help:    "阶段耗时（毫秒）。",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"comp", "stage"})

	framesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mouthsync_frames_total",
		Help: "按口型统计的已渲染帧数。",
	}, []string{"viseme"})

	fallbackTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "mouthsync_sampler_fallback_total",
		Help: "响度采样回退次数。",
	}, []string{"reason"})

	batchDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "mouthsync_batch_duration_seconds",
		Help:    "单批渲染耗时。",
		Buckets: prometheus.DefBuckets,
	})
)

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) { opTotal.WithLabelValues(comp, stage, result).Inc() }

// IncError 按分类累加错误计数。
func IncError(comp, code string) { errorTotal.WithLabelValues(comp, code).Inc() }

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// IncFrame 记录一帧的口型。
func IncFrame(viseme string) { framesTotal.WithLabelValues(viseme).Inc() }

// IncFallback 记录一次采样回退。
func IncFallback(reason string) { fallbackTotal.WithLabelValues(reason).Inc() }

// ObserveBatch 记录单批耗时。
func ObserveBatch(d time.Duration) { batchDuration.Observe(d.Seconds()) }

// WriteMetricsFile 以 textfile collector 格式导出全部指标。
func WriteMetricsFile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
