package config

import "time"

// Config: 运行期只读配置（一次解析，运行期不变）。
// 键使用 snake_case；配置文件中的未知键在解析期失败。
type Config struct {
	Inputs []string `mapstructure:"inputs" yaml:"inputs"`
	// Output: 单输入时的成片路径；为空或多输入时使用 OutputDir/<基名>.mp4。
	Output    string `mapstructure:"output" yaml:"output"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	// Workdir: 帧图片与中间工件目录；同时作为 Writer 的 output_dir。
	Workdir           string `mapstructure:"workdir" yaml:"workdir"`
	PreserveOnFailure bool   `mapstructure:"preserve_on_failure" yaml:"preserve_on_failure"`
	FrameRate         int    `mapstructure:"frame_rate" yaml:"frame_rate"`
	Timeline          bool   `mapstructure:"timeline" yaml:"timeline"`
	// MetricsFile: 非空时退出前以 textfile 格式写出指标。
	MetricsFile string `mapstructure:"metrics_file" yaml:"metrics_file"`

	Logging  Logging  `mapstructure:"logging" yaml:"logging"`
	Analysis Analysis `mapstructure:"analysis" yaml:"analysis"`
	Batch    Batch    `mapstructure:"batch" yaml:"batch"`
	Render   Render   `mapstructure:"render" yaml:"render"`

	// 组件名选择（注册表中的实现名）。
	Components Components `mapstructure:"components" yaml:"components"`
	// 各组件 Options 子树，序列化为 JSON 后传入工厂（工厂侧严格解码）。
	Options Options `mapstructure:"options" yaml:"options"`
}

// Logging: 仅日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Analysis: 响度采样。
type Analysis struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FallbackDB float64       `mapstructure:"fallback_db" yaml:"fallback_db"`
	// SpawnPerSec: 分析子进程启动速率上限；0 不限。
	SpawnPerSec float64 `mapstructure:"spawn_per_sec" yaml:"spawn_per_sec"`
	SpawnBurst  int     `mapstructure:"spawn_burst" yaml:"spawn_burst"`
}

// Batch: 分批与并发。
type Batch struct {
	Size              int     `mapstructure:"size" yaml:"size"`
	Cap               int     `mapstructure:"cap" yaml:"cap"`
	LongClipThreshold float64 `mapstructure:"long_clip_threshold" yaml:"long_clip_threshold"`
	Reclaim           string  `mapstructure:"reclaim" yaml:"reclaim"`
	MaxInFlight       int     `mapstructure:"max_in_flight" yaml:"max_in_flight"`
}

// Render: 口型素材。
type Render struct {
	Assets Assets `mapstructure:"assets" yaml:"assets"`
}

type Assets struct {
	Closed string `mapstructure:"closed" yaml:"closed"`
	Open   string `mapstructure:"open" yaml:"open"`
	Tongue string `mapstructure:"tongue" yaml:"tongue"`
}

// Components: 组件名选择。
type Components struct {
	Reader     string `mapstructure:"reader" yaml:"reader"`
	Writer     string `mapstructure:"writer" yaml:"writer"`
	Prober     string `mapstructure:"prober" yaml:"prober"`
	Analyzer   string `mapstructure:"analyzer" yaml:"analyzer"`
	Compositor string `mapstructure:"compositor" yaml:"compositor"`
	Encoder    string `mapstructure:"encoder" yaml:"encoder"`
	Muxer      string `mapstructure:"muxer" yaml:"muxer"`
}

// Options: 各组件的原样 Options。
type Options struct {
	Reader     map[string]any `mapstructure:"reader" yaml:"reader"`
	Writer     map[string]any `mapstructure:"writer" yaml:"writer"`
	Prober     map[string]any `mapstructure:"prober" yaml:"prober"`
	Analyzer   map[string]any `mapstructure:"analyzer" yaml:"analyzer"`
	Compositor map[string]any `mapstructure:"compositor" yaml:"compositor"`
	Encoder    map[string]any `mapstructure:"encoder" yaml:"encoder"`
	Muxer      map[string]any `mapstructure:"muxer" yaml:"muxer"`
}
