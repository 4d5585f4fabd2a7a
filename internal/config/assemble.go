package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"mouthsync/internal/pipeline"
	"mouthsync/internal/rate"
	"mouthsync/pkg/contract"
	"mouthsync/pkg/registry"
)

// ErrConfig: 配置非法（退出码 3）。
var ErrConfig = errors.New("config invalid")

func invalid(format string, args ...any) error {
	return fmt.Errorf("config: %w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return invalid("inputs empty")
	}
	for _, in := range cfg.Inputs {
		if strings.TrimSpace(in) == "" {
			return invalid("input path cannot be empty")
		}
	}
	if strings.TrimSpace(cfg.Output) != "" && len(cfg.Inputs) > 1 && strings.TrimSpace(cfg.OutputDir) == "" {
		return invalid("output cannot be shared by %d inputs; set output_dir", len(cfg.Inputs))
	}
	if w := filepath.Clean(strings.TrimSpace(cfg.Workdir)); w == "." || w == string(filepath.Separator) {
		return invalid("workdir %q not allowed", cfg.Workdir)
	}
	if cfg.FrameRate <= 0 {
		return invalid("frame_rate must be > 0")
	}
	if cfg.Analysis.Timeout <= 0 {
		return invalid("analysis.timeout must be > 0")
	}
	// 回退响度必须落在闭口区间，否则超时帧会显示为张口。
	if math.IsNaN(cfg.Analysis.FallbackDB) || cfg.Analysis.FallbackDB > pipeline.ThresholdOpen {
		return invalid("analysis.fallback_db(%g) must be <= %g", cfg.Analysis.FallbackDB, pipeline.ThresholdOpen)
	}
	if cfg.Analysis.SpawnPerSec < 0 || cfg.Analysis.SpawnBurst < 0 {
		return invalid("analysis.spawn_per_sec/spawn_burst must be >= 0")
	}
	if cfg.Batch.Size < 1 || cfg.Batch.Cap < 1 {
		return invalid("batch.size and batch.cap must be >= 1")
	}
	if cfg.Batch.LongClipThreshold <= 0 {
		return invalid("batch.long_clip_threshold must be > 0")
	}
	if cfg.Batch.MaxInFlight < 0 {
		return invalid("batch.max_in_flight must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Batch.Reclaim)) {
	case pipeline.ReclaimAuto, pipeline.ReclaimAlways, pipeline.ReclaimNever:
	default:
		return invalid("batch.reclaim %q (auto|always|never)", cfg.Batch.Reclaim)
	}
	a := cfg.Render.Assets
	if strings.TrimSpace(a.Closed) == "" || strings.TrimSpace(a.Open) == "" || strings.TrimSpace(a.Tongue) == "" {
		return invalid("render.assets: closed/open/tongue required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("logging.level %q", cfg.Logging.Level)
	}
	c := cfg.Components
	if registry.Reader[c.Reader] == nil {
		return invalid("reader %q not registered", c.Reader)
	}
	if registry.Writer[c.Writer] == nil {
		return invalid("writer %q not registered", c.Writer)
	}
	if registry.Prober[c.Prober] == nil {
		return invalid("prober %q not registered", c.Prober)
	}
	if registry.Analyzer[c.Analyzer] == nil {
		return invalid("analyzer %q not registered", c.Analyzer)
	}
	if registry.Compositor[c.Compositor] == nil {
		return invalid("compositor %q not registered", c.Compositor)
	}
	if registry.Encoder[c.Encoder] == nil {
		return invalid("encoder %q not registered", c.Encoder)
	}
	if registry.Muxer[c.Muxer] == nil {
		return invalid("muxer %q not registered", c.Muxer)
	}
	return nil
}

// Assemble 校验配置并经注册表构造组件与运行参数。
// Writer 的 output_dir 固定注入为 workdir。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	var comp pipeline.Components
	if err := Validate(cfg); err != nil {
		return comp, pipeline.Settings{}, err
	}
	wopts := make(map[string]any, len(cfg.Options.Writer)+1)
	for k, v := range cfg.Options.Writer {
		wopts[k] = v
	}
	wopts["output_dir"] = cfg.Workdir

	var err error
	c := cfg.Components
	if comp.Reader, err = build[contract.Reader](registry.Reader[c.Reader], "reader", cfg.Options.Reader); err != nil {
		return comp, pipeline.Settings{}, err
	}
	if comp.Writer, err = build[contract.Writer](registry.Writer[c.Writer], "writer", wopts); err != nil {
		return comp, pipeline.Settings{}, err
	}
	if comp.Prober, err = build[contract.Prober](registry.Prober[c.Prober], "prober", cfg.Options.Prober); err != nil {
		return comp, pipeline.Settings{}, err
	}
	if comp.Analyzer, err = build[contract.Analyzer](registry.Analyzer[c.Analyzer], "analyzer", cfg.Options.Analyzer); err != nil {
		return comp, pipeline.Settings{}, err
	}
	if comp.Compositor, err = build[contract.Compositor](registry.Compositor[c.Compositor], "compositor", cfg.Options.Compositor); err != nil {
		return comp, pipeline.Settings{}, err
	}
	if comp.Encoder, err = build[contract.Encoder](registry.Encoder[c.Encoder], "encoder", cfg.Options.Encoder); err != nil {
		return comp, pipeline.Settings{}, err
	}
	if comp.Muxer, err = build[contract.Muxer](registry.Muxer[c.Muxer], "muxer", cfg.Options.Muxer); err != nil {
		return comp, pipeline.Settings{}, err
	}

	var gate rate.Gate
	if cfg.Analysis.SpawnPerSec > 0 {
		gate = rate.NewGate(rate.Limits{PerSecond: cfg.Analysis.SpawnPerSec, Burst: cfg.Analysis.SpawnBurst}, nil)
	}
	set := pipeline.Settings{
		Inputs:    append([]string(nil), cfg.Inputs...),
		Output:    cfg.Output,
		OutputDir: cfg.OutputDir,
		Workdir:   cfg.Workdir,
		FrameRate: cfg.FrameRate,
		Assets: pipeline.Assets{
			Closed: cfg.Render.Assets.Closed,
			Open:   cfg.Render.Assets.Open,
			Tongue: cfg.Render.Assets.Tongue,
		},
		Batch: pipeline.BatchPolicy{
			Size:              cfg.Batch.Size,
			Cap:               cfg.Batch.Cap,
			LongClipThreshold: cfg.Batch.LongClipThreshold,
			Reclaim:           cfg.Batch.Reclaim,
		},
		MaxInFlight:       cfg.Batch.MaxInFlight,
		VolumeTimeout:     cfg.Analysis.Timeout,
		FallbackDB:        cfg.Analysis.FallbackDB,
		Gate:              gate,
		Timeline:          cfg.Timeline,
		PreserveOnFailure: cfg.PreserveOnFailure,
	}
	return comp, set, nil
}

// build 将 Options 子树编码为 JSON 交给工厂；工厂侧负责严格解码。
func build[T any](f func(json.RawMessage) (T, error), kind string, opts map[string]any) (T, error) {
	var zero T
	var raw json.RawMessage
	if len(opts) > 0 {
		b, err := json.Marshal(opts)
		if err != nil {
			return zero, invalid("options.%s: %v", kind, err)
		}
		raw = b
	}
	v, err := f(raw)
	if err != nil {
		return zero, invalid("options.%s: %v", kind, err)
	}
	return v, nil
}
