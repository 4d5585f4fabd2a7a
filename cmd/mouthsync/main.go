package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	cfgpkg "mouthsync/internal/config"
	"mouthsync/internal/diag"
	"mouthsync/internal/pipeline"
	"mouthsync/pkg/contract"
	"mouthsync/plugins/compositor/raster"
)

var pipelineRun = pipeline.Run

// 退出码。
const (
	exitOK      = 0
	exitRuntime = 1
	exitEmpty   = 2
	exitConfig  = 3
)

// 默认读取的 dotenv 文件（不覆盖已有 ENV）。
const dotEnvFile = ".env"

func main() {
	os.Exit(run(os.Args[1:]))
}

// cliFlags: 仅 CLI 层使用的标志；其余标志经 viper 绑定到配置键。
type cliFlags struct {
	config  string
	initDir string
	sheet   string
	status  bool
}

func run(args []string) int {
	code := exitOK
	root := newRootCmd(&code)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fprintf(os.Stderr, "参数错误: %v\n", err)
		return exitConfig
	}
	return code
}

func newRootCmd(code *int) *cobra.Command {
	var f cliFlags
	d := cfgpkg.Defaults()
	cmd := &cobra.Command{
		Use:   "mouthsync [flags] <音频文件或目录>...",
		Short: "根据音频响度生成口型同步视频",
		Long: `mouthsync 逐帧测量音频响度，选择口型素材渲染帧序列，
编码为视频并与原音频合成 MP4。

配置优先级：命令行 > 环境变量(MOUTHSYNC_*) > 配置文件 > 默认值。
配置文件：--config、$MOUTHSYNC_CONFIG_FILE 或当前目录下的 mouthsync.yaml。

退出码：0 成功；1 运行失败；2 音频不足一帧；3 配置或预检失败。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			*code = execute(cmd, args, f)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.config, "config", "", "配置文件路径（YAML/JSON）")
	fl.StringVar(&f.initDir, "init-config", "", "在指定目录生成 mouthsync.yaml 与 .env 模板（不覆盖）；不带值时为当前目录")
	fl.Lookup("init-config").NoOptDefVal = "."
	fl.StringVar(&f.sheet, "split-sheet", "", "将横向三等分的口型拼图拆分为 render.assets 指定的三张素材（不覆盖）")
	fl.BoolVar(&f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 逐批打点")

	fl.StringP("output", "o", d.Output, "成片路径（单输入）")
	fl.String("output-dir", d.OutputDir, "多输入时的成片目录")
	fl.String("workdir", d.Workdir, "帧图片与中间工件目录")
	fl.Bool("keep-workdir", d.PreserveOnFailure, "失败时保留工作目录")
	fl.Int("fps", d.FrameRate, "帧率")
	fl.Bool("timeline", d.Timeline, "输出逐帧口型时间线 <成片>.visemes.jsonl")
	fl.String("metrics-file", d.MetricsFile, "退出前写出指标（textfile 格式）")
	fl.String("log-level", d.Logging.Level, "日志级别 debug|info|warn|error")
	fl.Duration("volume-timeout", d.Analysis.Timeout, "单帧响度分析超时")
	fl.Int("batch-size", d.Batch.Size, "长音频批大小")
	fl.Int("max-in-flight", d.Batch.MaxInFlight, "批内并发上限；0 表示整批并发")
	return cmd
}

func execute(cmd *cobra.Command, args []string, f cliFlags) int {
	start := time.Now()
	corrID := uuid.NewString()
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := gotenv.Load(dotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fprintf(os.Stderr, "提示：%s 解析失败（已跳过）：%v\n", dotEnvFile, err)
	}
	// 先以默认级别占位，配置解析后按最终级别重建
	logger := diag.NewLogger(corrID, "info")
	defer func() { _ = logger.Close() }()
	fail := func(msg string, err error) int {
		fprintf(os.Stderr, "%s: %v\n", msg, err)
		logger.Error("cli", string(diag.Classify(err)), msg, &start)
		return exitConfig
	}

	if dir := strings.TrimSpace(f.initDir); dir != "" {
		if err := writeTemplates(dir); err != nil {
			return fail("生成默认配置失败", err)
		}
		fprintf(os.Stderr, "已生成 %s 与 %s\n", filepath.Join(dir, cfgpkg.DefaultConfigName+".yaml"), filepath.Join(dir, dotEnvFile))
		return exitOK
	}

	cfg, used, err := cfgpkg.Load(cfgpkg.LoadOptions{Path: f.config, Flags: cmd.Flags(), Inputs: args})
	if err != nil {
		return fail("配置解析失败", err)
	}
	if sheet := strings.TrimSpace(f.sheet); sheet != "" {
		a := cfg.Render.Assets
		if err := raster.SplitSheet(sheet, a.Closed, a.Open, a.Tongue); err != nil {
			return fail("拆分口型拼图失败", err)
		}
		fprintf(os.Stderr, "已生成 %s、%s、%s\n", a.Closed, a.Open, a.Tongue)
		return exitOK
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		_ = dumpConfig(os.Stderr, cfg)
		return fail("配置校验失败", err)
	}

	_ = logger.Close()
	logger = diag.NewLogger(corrID, cfg.Logging.Level)

	if err := preflight(cfg); err != nil {
		return fail("预检失败", err)
	}
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return fail("装配失败", err)
	}

	term := diag.NewTerminal(os.Stderr, f.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	logger.DebugStart("config", "effective", "", "", map[string]string{
		"config_file": used,
		"inputs":      fmt.Sprintf("%d", len(cfg.Inputs)),
		"frame_rate":  fmt.Sprintf("%d", cfg.FrameRate),
		"workdir":     cfg.Workdir,
		"batch_size":  fmt.Sprintf("%d", cfg.Batch.Size),
		"reclaim":     cfg.Batch.Reclaim,
		"prober":      cfg.Components.Prober,
		"analyzer":    cfg.Components.Analyzer,
		"compositor":  cfg.Components.Compositor,
		"encoder":     cfg.Components.Encoder,
		"muxer":       cfg.Components.Muxer,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := logger.Start("cli", "run")
	results, err := pipelineRun(ctx, comp, set, logger)
	if cfg.MetricsFile != "" {
		if merr := diag.WriteMetricsFile(cfg.MetricsFile); merr != nil {
			fprintf(os.Stderr, "提示：指标写出失败：%v\n", merr)
		}
	}
	for _, r := range results {
		fprintf(os.Stdout, "%s\n", r.Output)
	}
	if err != nil {
		code := string(diag.Classify(err))
		logger.Error("cli", code, "first error", &start)
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		if errors.Is(err, contract.ErrNothingToRender) {
			return exitEmpty
		}
		return exitRuntime
	}
	t.Finish("run", int64(len(results)))
	return exitOK
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

// dumpConfig 打印有效配置（YAML），便于诊断。
func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	fprintf(w, "有效配置:\n%s", b)
	return nil
}

// writeTemplates 在 dir 生成配置与 .env 模板；已存在的文件跳过，不覆盖。
func writeTemplates(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	body, err := cfgpkg.TemplateYAML()
	if err != nil {
		return err
	}
	if err := writeExclusive(filepath.Join(dir, cfgpkg.DefaultConfigName+".yaml"), body); err != nil {
		return err
	}
	if err := writeExclusive(filepath.Join(dir, dotEnvFile), cfgpkg.TemplateEnv()); err != nil {
		fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

func writeExclusive(path string, b []byte) error {
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			fprintf(os.Stderr, "提示：%s 已存在，跳过\n", path)
			return nil
		}
		return err
	}
	if _, err := fh.Write(b); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

// preflight 在任何工作开始前检查：成片目录与工作目录可写；栅格合成器的素材可读。
func preflight(cfg cfgpkg.Config) error {
	dirs := []string{cfg.Workdir}
	switch {
	case strings.TrimSpace(cfg.OutputDir) != "":
		dirs = append(dirs, cfg.OutputDir)
	case strings.TrimSpace(cfg.Output) != "":
		dirs = append(dirs, filepath.Dir(cfg.Output))
	default:
		dirs = append(dirs, ".")
	}
	for _, d := range dirs {
		if err := checkWritable(d); err != nil {
			return fmt.Errorf("%w: %s: %v", contract.ErrInvalidInput, d, err)
		}
	}
	if cfg.Components.Compositor == "raster" {
		a := cfg.Render.Assets
		for _, p := range []string{a.Closed, a.Open, a.Tongue} {
			st, err := os.Stat(p)
			if err != nil {
				return fmt.Errorf("%w: asset: %v", contract.ErrInvalidInput, err)
			}
			if st.IsDir() {
				return fmt.Errorf("%w: asset is a directory: %s", contract.ErrInvalidInput, p)
			}
		}
	}
	return nil
}

// checkWritable: 目录存在时尝试创建并删除临时文件；不存在时沿父目录向上找到首个存在的目录再检查。
func checkWritable(dir string) error {
	dir = filepath.Clean(dir)
	for {
		st, err := os.Stat(dir)
		if err == nil {
			if !st.IsDir() {
				return fmt.Errorf("路径存在但不是目录: %s", dir)
			}
			f, err := os.CreateTemp(dir, ".wcheck-*")
			if err != nil {
				return err
			}
			name := f.Name()
			_ = f.Close()
			return os.Remove(name)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("无法确定父目录: %s", dir)
		}
		dir = parent
	}
}
