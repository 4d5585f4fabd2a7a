package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mouthsync/internal/pipeline"
)

// EnvPrefix: 环境变量前缀；嵌套键以 _ 连接（MOUTHSYNC_ANALYSIS_TIMEOUT）。
const EnvPrefix = "MOUTHSYNC"

// EnvConfigFile: 未指定 --config 时读取的配置文件路径变量。
const EnvConfigFile = "MOUTHSYNC_CONFIG_FILE"

// DefaultConfigName: 当前目录下自动发现的配置文件名（不含扩展名）。
const DefaultConfigName = "mouthsync"

// FlagKeys: CLI 标志名 → 配置键。
var FlagKeys = map[string]string{
	"output":         "output",
	"output-dir":     "output_dir",
	"workdir":        "workdir",
	"keep-workdir":   "preserve_on_failure",
	"fps":            "frame_rate",
	"timeline":       "timeline",
	"metrics-file":   "metrics_file",
	"log-level":      "logging.level",
	"volume-timeout": "analysis.timeout",
	"batch-size":     "batch.size",
	"max-in-flight":  "batch.max_in_flight",
}

// Defaults 返回带有安全默认值的 Config。
func Defaults() Config {
	return Config{
		Workdir:   "mouthsync-work",
		FrameRate: pipeline.DefaultFrameRate,
		Logging:   Logging{Level: "info"},
		Analysis: Analysis{
			Timeout:    pipeline.DefaultVolumeTimeout,
			FallbackDB: pipeline.DefaultFallbackDB,
		},
		Batch: Batch{
			Size:              pipeline.DefaultLongBatchSize,
			Cap:               pipeline.DefaultShortBatchCap,
			LongClipThreshold: pipeline.DefaultLongClipThreshold,
			Reclaim:           pipeline.ReclaimAuto,
		},
		Render: Render{Assets: Assets{
			Closed: "assets/closed.png",
			Open:   "assets/open.png",
			Tongue: "assets/tongue.png",
		}},
		Components: Components{
			Reader:     "fs",
			Writer:     "fs",
			Prober:     "ffprobe",
			Analyzer:   "ffmpeg",
			Compositor: "raster",
			Encoder:    "ffmpeg",
			Muxer:      "ffmpeg",
		},
	}
}

// keyDelim: viper 内部键分隔符。options 子树的键可能是含 "." 的文件名（如 b.mp3），
// 以 "." 分隔会被拆成嵌套表。
const keyDelim = "::"

// viperKey 将点分配置键转换为 viper 内部键。
func viperKey(key string) string { return strings.ReplaceAll(key, ".", keyDelim) }

func setDefaults(v *viper.Viper) {
	d := Defaults()
	def := func(key string, val any) { v.SetDefault(viperKey(key), val) }
	def("inputs", []string{})
	def("output", d.Output)
	def("output_dir", d.OutputDir)
	def("workdir", d.Workdir)
	def("preserve_on_failure", d.PreserveOnFailure)
	def("frame_rate", d.FrameRate)
	def("timeline", d.Timeline)
	def("metrics_file", d.MetricsFile)
	def("logging.level", d.Logging.Level)
	def("analysis.timeout", d.Analysis.Timeout)
	def("analysis.fallback_db", d.Analysis.FallbackDB)
	def("analysis.spawn_per_sec", d.Analysis.SpawnPerSec)
	def("analysis.spawn_burst", d.Analysis.SpawnBurst)
	def("batch.size", d.Batch.Size)
	def("batch.cap", d.Batch.Cap)
	def("batch.long_clip_threshold", d.Batch.LongClipThreshold)
	def("batch.reclaim", d.Batch.Reclaim)
	def("batch.max_in_flight", d.Batch.MaxInFlight)
	def("render.assets.closed", d.Render.Assets.Closed)
	def("render.assets.open", d.Render.Assets.Open)
	def("render.assets.tongue", d.Render.Assets.Tongue)
	def("components.reader", d.Components.Reader)
	def("components.writer", d.Components.Writer)
	def("components.prober", d.Components.Prober)
	def("components.analyzer", d.Components.Analyzer)
	def("components.compositor", d.Components.Compositor)
	def("components.encoder", d.Components.Encoder)
	def("components.muxer", d.Components.Muxer)
}

// LoadOptions: Load 的输入来源。
type LoadOptions struct {
	// Path: 显式配置文件（YAML/JSON，按扩展名识别）；为空时依次尝试 $MOUTHSYNC_CONFIG_FILE 与 ./mouthsync.*。
	Path string
	// Flags: 已解析的 CLI 标志；仅显式设置的标志生效。
	Flags *pflag.FlagSet
	// Inputs: 位置参数；非空时覆盖 inputs。
	Inputs []string
	// SearchDir: 自动发现配置文件的目录；为空使用当前目录。
	SearchDir string
}

// Load 按优先级合并：CLI 标志 > ENV(MOUTHSYNC_*) > 配置文件 > 默认值。返回实际读取的配置文件（可能为空）。
func Load(o LoadOptions) (Config, string, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelim))
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelim, "_"))
	v.AutomaticEnv()

	path := strings.TrimSpace(o.Path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigFile))
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, "", fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		dir := o.SearchDir
		if dir == "" {
			dir = "."
		}
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return Config{}, "", fmt.Errorf("config: %w", err)
			}
		}
	}

	if o.Flags != nil {
		for name, key := range FlagKeys {
			if f := o.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(viperKey(key), f); err != nil {
					return Config{}, "", err
				}
			}
		}
	}
	if len(o.Inputs) > 0 {
		v.Set("inputs", o.Inputs)
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return Config{}, "", fmt.Errorf("config: %w", err)
	}
	cfg.Inputs = trimAll(cfg.Inputs)
	return cfg, v.ConfigFileUsed(), nil
}

// trimAll 去除首尾空白，丢弃空项（ENV 逗号分隔时常见）。
func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
