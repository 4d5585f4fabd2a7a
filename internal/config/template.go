package config

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTemplateConfig 返回一个可直接运行的默认配置模板：
// 组件使用 ffmpeg/ffprobe 与内置栅格合成；Options 列出全部键。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Inputs = []string{"voice.wav"}
	cfg.Output = "output.mp4"
	cfg.Options = Options{
		Reader: map[string]any{
			"exclude_dir_names": []string{".git", "node_modules"},
			"allow_exts":        []string{},
		},
		// output_dir 由 workdir 注入，此处不列出
		Writer: map[string]any{
			"atomic":    true,
			"flat":      true,
			"perm_file": 0,
			"perm_dir":  0,
			"buf_size":  65536,
			"sync":      false,
		},
		Prober:   map[string]any{"ffprobe_path": ""},
		Analyzer: map[string]any{"ffmpeg_path": ""},
		Compositor: map[string]any{
			"width":      512,
			"height":     1024,
			"background": "#ffffff",
		},
		Encoder: map[string]any{
			"ffmpeg_path": "",
			"codec":       "libx264",
			"pix_fmt":     "yuv420p",
			"crf":         0,
			"preset":      "",
		},
		Muxer: map[string]any{
			"ffmpeg_path":   "",
			"audio_codec":   "aac",
			"audio_bitrate": "",
		},
	}
	return cfg
}

// 顶层键注释（写入模板时作为 HeadComment）。
var templateComments = map[string]string{
	"inputs":              "音频文件或目录；目录按扩展名发现",
	"output":              "单输入时的成片路径；多输入时写到 output_dir/<基名>.mp4",
	"workdir":             "帧图片与中间工件目录；不得为 \".\" 或根目录",
	"preserve_on_failure": "失败时保留工作目录用于排查",
	"frame_rate":          "每秒帧数，同时决定分析窗口 1/frame_rate 秒",
	"timeline":            "输出 <成片>.visemes.jsonl 逐帧口型记录",
	"analysis":            "fallback_db 须 <= -40（闭口）；spawn_per_sec=0 不限速",
	"batch":               "reclaim: auto|always|never；max_in_flight=0 表示整批并发",
	"components":          "注册表中的实现名；离线调试可改为 mock",
}

// TemplateYAML 渲染默认配置模板（YAML，带注释）。
func TemplateYAML() ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(DefaultTemplateConfig()); err != nil {
		return nil, err
	}
	if doc.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(doc.Content); i += 2 {
			if c, ok := templateComments[doc.Content[i].Value]; ok {
				doc.Content[i].HeadComment = c
			}
		}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TemplateEnv 渲染 .env 模板：列出常用覆盖项，默认全部注释。
func TemplateEnv() []byte {
	d := Defaults()
	var b strings.Builder
	b.WriteString("# mouthsync 环境变量覆盖（优先级高于配置文件，低于命令行）\n")
	fmt.Fprintf(&b, "# %s=./mouthsync.yaml\n", EnvConfigFile)
	rows := []struct{ key, val string }{
		{"workdir", d.Workdir},
		{"frame_rate", fmt.Sprint(d.FrameRate)},
		{"logging.level", d.Logging.Level},
		{"analysis.timeout", d.Analysis.Timeout.String()},
		{"analysis.fallback_db", fmt.Sprint(d.Analysis.FallbackDB)},
		{"analysis.spawn_per_sec", "0"},
		{"batch.size", fmt.Sprint(d.Batch.Size)},
		{"batch.reclaim", d.Batch.Reclaim},
		{"components.analyzer", d.Components.Analyzer},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "# %s=%s\n", EnvKey(r.key), r.val)
	}
	return []byte(b.String())
}

// EnvKey 返回配置键对应的环境变量名。
func EnvKey(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
