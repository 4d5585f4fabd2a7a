package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mouthsync/internal/diag"
	"mouthsync/internal/rate"
	"mouthsync/pkg/contract"
)

// - 单点并发：仅批调度层管理并发；协作方均为同步实现。
// - 批间严格顺序，批内无序；全局帧序由帧文件名序号还原，与完成顺序无关。
// - 首错取消：批内任一帧失败即取消同批其余帧，不再派发后续批。
// - 清理：每个输入结束时删除本次登记的工件；失败且 PreserveOnFailure 时保留。

// videoName: 工作目录内的无声视频工件。
const videoName = "video.mp4"

// DefaultFrameRate 为默认输出帧率。
const DefaultFrameRate = 10

// Components 聚合运行所需的协作方。Writer 必须同时实现 contract.Locator。
type Components struct {
	Reader     contract.Reader
	Writer     contract.Writer
	Prober     contract.Prober
	Analyzer   contract.Analyzer
	Compositor contract.Compositor
	Encoder    contract.Encoder
	Muxer      contract.Muxer
}

// Settings 运行期配置。
type Settings struct {
	Inputs []string
	// Output: 单输入时的成片路径；多输入时使用 OutputDir/<基名>.mp4。
	Output    string
	OutputDir string
	// Workdir: 帧图片与中间工件目录，须与 Writer 根目录一致。
	Workdir   string
	FrameRate int
	Assets    Assets
	Batch     BatchPolicy
	// MaxInFlight: 批内并发上限；<=0 表示整批同时派发。
	MaxInFlight   int
	VolumeTimeout time.Duration
	FallbackDB    float64
	// Gate: 可选；每次响度分析前 Wait(1)，限制子进程启动速率。
	Gate rate.Gate
	// Timeline: 输出 <成片名>.visemes.jsonl 边车。
	Timeline          bool
	PreserveOnFailure bool
	// OnState: 可选的状态迁移回调（同步调用）。
	OnState func(input string, from, to State)
}

// Run 依次处理每个输入：Probe → 分批(Sample → Classify → Render) → Encode → Mux → Cleanup。
// 返回已完成输入的结果；首个失败即停止并返回该错误。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) ([]contract.PipelineResult, error) {
	if logger == nil {
		logger = diag.Nop()
	}
	loc, err := sanity(comp, set)
	if err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}

	rtimer := logger.Start("reader", "iterate")
	var inputs []string
	err = comp.Reader.Iterate(ctx, set.Inputs, func(_ contract.InputID, p string) error {
		inputs = append(inputs, p)
		return nil
	})
	if err != nil {
		logFailure(logger, "reader", "iterate failed", rtimer, "", err, nil)
		return nil, fmt.Errorf("reader iterate: %w", err)
	}
	rtimer.Finish("iterate", int64(len(inputs)))
	diag.IncOp("reader", "finish", "success")
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no audio inputs found", contract.ErrInvalidInput)
	}
	outputs, err := planOutputs(inputs, set)
	if err != nil {
		return nil, err
	}

	term := diag.GetTerminal()
	term.RunStart(len(inputs), set.FrameRate)
	runStart := time.Now()
	results := make([]contract.PipelineResult, 0, len(inputs))
	for i, in := range inputs {
		r := &inputRun{comp: comp, loc: loc, set: set, logger: logger, input: in, output: outputs[i]}
		res, err := r.run(ctx)
		if err != nil {
			term.RunFinish(false, time.Since(runStart))
			return results, err
		}
		results = append(results, res)
	}
	term.RunFinish(true, time.Since(runStart))
	return results, nil
}

func sanity(c Components, s Settings) (contract.Locator, error) {
	if c.Reader == nil || c.Writer == nil || c.Prober == nil || c.Analyzer == nil ||
		c.Compositor == nil || c.Encoder == nil || c.Muxer == nil {
		return nil, errors.New("pipeline: missing components")
	}
	loc, ok := c.Writer.(contract.Locator)
	if !ok {
		return nil, fmt.Errorf("%w: writer does not expose artifact paths", contract.ErrInvalidInput)
	}
	if len(s.Inputs) == 0 {
		return nil, fmt.Errorf("%w: empty inputs", contract.ErrInvalidInput)
	}
	if s.FrameRate <= 0 {
		return nil, fmt.Errorf("%w: frame rate %d", contract.ErrInvalidInput, s.FrameRate)
	}
	if s.Assets.Closed == "" || s.Assets.Open == "" || s.Assets.Tongue == "" {
		return nil, fmt.Errorf("%w: closed/open/tongue assets are required", contract.ErrInvalidInput)
	}
	if err := checkWorkdir(s.Workdir); err != nil {
		return nil, err
	}
	p, err := loc.Path(timelineID)
	if err != nil {
		return nil, err
	}
	if filepath.Dir(p) != filepath.Clean(s.Workdir) {
		return nil, fmt.Errorf("%w: writer root %q differs from workdir %q", contract.ErrInvalidInput, filepath.Dir(p), s.Workdir)
	}
	return loc, nil
}

// planOutputs: 单输入使用 Output（为空时回退到 OutputDir）；多输入按基名落在 OutputDir，重名报错。
func planOutputs(inputs []string, s Settings) ([]string, error) {
	if len(inputs) == 1 && strings.TrimSpace(s.Output) != "" {
		return []string{s.Output}, nil
	}
	if len(inputs) > 1 && strings.TrimSpace(s.Output) != "" && strings.TrimSpace(s.OutputDir) == "" {
		return nil, fmt.Errorf("%w: output names a single file but %d inputs were found; set output_dir", contract.ErrInvalidInput, len(inputs))
	}
	dir := s.OutputDir
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	seen := make(map[string]string, len(inputs))
	out := make([]string, len(inputs))
	for i, in := range inputs {
		p := filepath.Join(dir, contract.OutputName(in, ".mp4"))
		if prev, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w: %s and %s both map to %s", contract.ErrInvalidInput, prev, in, p)
		}
		seen[p] = in
		out[i] = p
	}
	return out, nil
}

// TimelinePath 返回成片对应的时间线边车路径。
func TimelinePath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + ".visemes.jsonl"
}

// inputRun: 单个输入的一次编排。
type inputRun struct {
	comp   Components
	loc    contract.Locator
	set    Settings
	logger *diag.Logger
	input  string
	output string

	fid  string
	m    *machine
	wd   *workdir
	prog *Progress
}

func (r *inputRun) run(ctx context.Context) (res contract.PipelineResult, err error) {
	r.fid = string(contract.NormalizeInputID(r.input))
	r.m = newMachine(r.fid, r.set.OnState, r.logger)
	start := time.Now()
	res = contract.PipelineResult{Input: r.input, Output: r.output}
	term := diag.GetTerminal()
	announced := false

	defer func() {
		if err == nil {
			return
		}
		if announced {
			term.InputFinish(false, time.Since(start))
		}
		if r.wd == nil {
			return
		}
		if r.set.PreserveOnFailure {
			r.logger.WarnWithKV("orchestrator", string(diag.Classify(err)), "workdir preserved", r.fid, "", map[string]string{"workdir": r.wd.dir})
			return
		}
		if cerr := r.wd.cleanup(); cerr != nil {
			logFailure(r.logger, "orchestrator", "cleanup failed", nil, r.fid, cerr, nil)
		}
	}()

	// Init
	r.m.enter()
	wd, err := prepareWorkdir(r.set.Workdir)
	if err != nil {
		return res, r.fail("orchestrator", "prepare workdir failed", nil, err)
	}
	r.wd = wd
	if sw, ok := r.comp.Writer.(contract.Sweeper); ok {
		n, err := sw.Sweep()
		if err != nil {
			return res, r.fail("orchestrator", "sweep workdir failed", nil, err)
		}
		if n > 0 {
			r.logger.WarnWithKV("orchestrator", string(diag.CodeIO), "stale temp files removed", r.fid, "", map[string]string{"count": strconv.Itoa(n)})
		}
	}

	// Probing
	r.m.advance()
	ptimer := r.logger.StartWith("prober", "probe", r.fid, "")
	track, err := r.comp.Prober.Probe(ctx, r.input)
	if err != nil {
		return res, r.fail("prober", "probe failed", ptimer, contract.StageErr("probe", contract.NoFrame, contract.ErrProbe, err))
	}
	fps := r.set.FrameRate
	frames := contract.FrameCount(track.DurationSeconds, fps)
	res.Duration = track.DurationSeconds
	res.FrameCount = frames
	ptimer.FinishKV("probe", int64(frames), map[string]string{"duration": strconv.FormatFloat(track.DurationSeconds, 'f', 3, 64)})
	diag.IncOp("prober", "finish", "success")
	if frames == 0 {
		err := fmt.Errorf("%w: duration %.3fs is shorter than one frame at %d fps", contract.ErrNothingToRender, track.DurationSeconds, fps)
		return res, r.fail("orchestrator", "nothing to render", nil, err)
	}

	// Batching
	r.m.advance()
	plan := PlanBatches(frames, track.DurationSeconds, r.set.Batch)
	if verr := contract.ValidateBatches(plan.Batches, frames); verr != nil {
		return res, r.fail("scheduler", "invalid batch plan", nil, contract.StageErr("schedule", contract.NoFrame, contract.ErrInvariantViolation, verr))
	}
	res.Batches = len(plan.Batches)
	term.InputStart(r.input, frames, len(plan.Batches))
	announced = true

	renderer := NewRenderer(r.comp.Compositor, r.comp.Writer, r.loc, r.set.Assets, frames)
	for i := 0; i < frames; i++ {
		if p, perr := r.loc.Path(contract.ArtifactID(fmt.Sprintf(renderer.Pattern(), i))); perr == nil {
			r.wd.track(p)
		}
	}
	r.prog = newProgress(frames, len(plan.Batches), time.Now())
	s := &scheduler{
		path:        r.input,
		fid:         r.fid,
		fps:         fps,
		sampler:     NewSampler(r.comp.Analyzer, fps, r.set.VolumeTimeout, r.set.FallbackDB, r.set.Gate),
		renderer:    renderer,
		arena:       newArena(plan.Reclaim),
		prog:        r.prog,
		maxInFlight: r.set.MaxInFlight,
		logger:      r.logger,
		frames:      make([]contract.RenderedFrame, frames),
	}
	var tlPath string
	if r.set.Timeline {
		tlPath, _ = r.loc.Path(timelineID)
		r.wd.track(tlPath)
		s.tl = openTimeline(ctx, r.comp.Writer)
	}
	stimer := r.logger.StartWithKV("scheduler", "batches", r.fid, "", map[string]string{
		"frames":  strconv.Itoa(frames),
		"batches": strconv.Itoa(len(plan.Batches)),
		"size":    strconv.Itoa(plan.Size),
		"long":    strconv.FormatBool(plan.Long),
		"reclaim": strconv.FormatBool(plan.Reclaim),
	})
	berr := s.run(ctx, plan)
	if s.tl != nil {
		if terr := s.tl.close(frames, berr); terr != nil && berr == nil {
			berr = contract.StageErr("timeline", contract.NoFrame, nil, terr)
		}
	}
	if berr != nil {
		return res, r.fail("scheduler", "batch failed", stimer, berr)
	}
	stimer.Finish("batches", int64(frames))
	diag.IncOp("scheduler", "finish", "success")
	if verr := contract.ValidateFrames(s.frames, frames); verr != nil {
		return res, r.fail("scheduler", "frame set incomplete", nil, contract.StageErr("assemble", contract.NoFrame, contract.ErrEncode, verr))
	}

	// Assembling
	r.m.advance()
	video, err := r.loc.Path(videoName)
	if err != nil {
		return res, r.fail("encoder", "video path", nil, err)
	}
	r.wd.track(video)
	etimer := r.logger.StartWith("encoder", "encode", r.fid, "")
	err = r.comp.Encoder.Encode(ctx, contract.EncodeRequest{
		Dir:       filepath.Dir(s.frames[0].Path),
		Pattern:   renderer.Pattern(),
		FrameRate: fps,
		Frames:    frames,
		Dest:      video,
	})
	if err != nil {
		return res, r.fail("encoder", "encode failed", etimer, contract.StageErr("encode", contract.NoFrame, contract.ErrEncode, err))
	}
	etimer.Finish("encode", int64(frames))
	diag.IncOp("encoder", "finish", "success")

	// Muxing
	r.m.advance()
	mtimer := r.logger.StartWithKV("muxer", "mux", r.fid, "", map[string]string{"output": r.output})
	if err := muxAtomic(ctx, r.comp.Muxer, video, r.input, r.output); err != nil {
		return res, r.fail("muxer", "mux failed", mtimer, contract.StageErr("mux", contract.NoFrame, contract.ErrMux, err))
	}
	if r.set.Timeline {
		dst := TimelinePath(r.output)
		if err := promote(tlPath, dst); err != nil {
			return res, r.fail("muxer", "timeline promote failed", mtimer, contract.StageErr("timeline", contract.NoFrame, nil, err))
		}
		res.Timeline = dst
	}
	mtimer.Finish("mux", 1)
	diag.IncOp("muxer", "finish", "success")

	// CleaningUp
	r.m.advance()
	if cerr := r.wd.cleanup(); cerr != nil {
		// 成片已就绪，清理失败仅记录
		logFailure(r.logger, "orchestrator", "cleanup failed", nil, r.fid, cerr, nil)
	}

	// Done
	r.m.advance()
	res.Elapsed = time.Since(start)
	snap := r.prog.Snapshot(time.Now())
	res.Fallbacks = snap.Fallbacks
	res.Visemes = r.prog.Visemes()
	r.logger.InfoFinish("orchestrator", "done", start, int64(frames))
	term.InputFinish(true, res.Elapsed)
	return res, nil
}

// fail 记录错误（附带已完成进度）并迁移到 Failed。
func (r *inputRun) fail(comp, msg string, t *diag.Timer, err error) error {
	kv := map[string]string{"state": r.m.state().String()}
	if st := contract.StageOf(err); st != "" {
		kv["stage"] = st
	}
	if f := contract.FrameOf(err); f != contract.NoFrame {
		kv["frame"] = strconv.Itoa(f)
	}
	if r.prog != nil {
		p := r.prog.Snapshot(time.Now())
		kv["frames_done"] = strconv.Itoa(p.FramesDone)
		kv["batches_done"] = strconv.Itoa(p.BatchesDone)
	}
	logFailure(r.logger, comp, msg, t, r.fid, err, kv)
	r.m.fail()
	return err
}

// logFailure: 错误事件 + 指标。
func logFailure(logger *diag.Logger, comp, msg string, t *diag.Timer, fid string, err error, kv map[string]string) {
	code := diag.Classify(err)
	if kv == nil {
		kv = make(map[string]string, 1)
	}
	kv["err"] = err.Error()
	logger.ErrorWithKV(comp, string(code), msg, t.Since(), fid, "", kv)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

// muxAtomic 先合成到目标目录下的隐藏临时文件，成功后改名；失败不留半成品。
func muxAtomic(ctx context.Context, mx contract.Muxer, video, audio, dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, ".mouthsync-"+uuid.NewString()+".mp4")
	if err := mx.Mux(ctx, contract.MuxRequest{Video: video, Audio: audio, Dest: tmp}); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// scheduler: 批调度。批内经 errgroup 并发，批间顺序执行。
type scheduler struct {
	path        string
	fid         string
	fps         int
	sampler     *Sampler
	renderer    *Renderer
	arena       *arena
	prog        *Progress
	tl          *timeline
	maxInFlight int
	logger      *diag.Logger
	// frames 按下标写入，各帧互不重叠
	frames []contract.RenderedFrame
}

func (s *scheduler) run(ctx context.Context, plan Plan) error {
	for _, b := range plan.Batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		bid := strconv.Itoa(b.Index)
		s.logger.DebugStart("scheduler", "batch", s.fid, bid, map[string]string{
			"start": strconv.Itoa(b.Start),
			"end":   strconv.Itoa(b.End),
		})
		bstart := time.Now()
		g, gctx := errgroup.WithContext(ctx)
		if s.maxInFlight > 0 {
			g.SetLimit(s.maxInFlight)
		}
		for i := b.Start; i < b.End; i++ {
			if gctx.Err() != nil {
				break
			}
			idx := i
			g.Go(func() error { return s.frame(gctx, idx) })
		}
		err := g.Wait()
		dropped := s.arena.release()
		diag.ObserveBatch(time.Since(bstart))
		diag.ObserveDuration("scheduler", "batch", time.Since(bstart).Milliseconds())
		if err != nil {
			return err
		}
		s.prog.batchDone()
		p := s.prog.Snapshot(time.Now())
		diag.GetTerminal().BatchProgress(p)
		s.logger.InfoFinish("scheduler", "batch "+bid, bstart, int64(b.Len()))
		if plan.Reclaim {
			s.logger.DebugStart("scheduler", "reclaim", s.fid, bid, map[string]string{"buffers": strconv.Itoa(dropped)})
		}
	}
	return nil
}

func (s *scheduler) frame(ctx context.Context, idx int) error {
	f := contract.NewFrameSpec(idx, s.fps)
	sample, err := s.sampler.Sample(ctx, s.path, f)
	if err != nil {
		return err
	}
	if sample.IsFallback {
		cause := sample.Cause()
		diag.IncFallback(sample.Reason)
		s.logger.WarnWithKV("sampler", string(diag.Classify(cause)), "loudness fallback", s.fid, "", map[string]string{
			"frame":  strconv.Itoa(idx),
			"reason": sample.Reason,
			"err":    cause.Error(),
		})
	}
	v := Classify(sample.MeanDB)
	buf := s.arena.get()
	rf, err := s.renderer.Render(ctx, idx, v, buf)
	s.arena.put(buf)
	if err != nil {
		return err
	}
	s.frames[idx] = rf
	s.prog.frameDone(sample, v)
	diag.IncFrame(v.String())
	if s.tl != nil {
		s.tl.add(newTimelineRow(f, sample, v))
	}
	return nil
}
