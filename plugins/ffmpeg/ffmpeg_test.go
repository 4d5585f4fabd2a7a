package ffmpeg

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mouthsync/pkg/contract"
)

// UT-FFM-01: mean_volume 解析（含 -inf 与无匹配）
func TestParseMeanVolume(t *testing.T) {
	out := []byte("[Parsed_volumedetect_0 @ 0x1] n_samples: 1470\n" +
		"[Parsed_volumedetect_0 @ 0x1] mean_volume: -35.2 dB\n" +
		"[Parsed_volumedetect_0 @ 0x1] max_volume: -20.0 dB\n")
	r := parseMeanVolume(out)
	assert.True(t, r.Found)
	assert.InDelta(t, -35.2, r.MeanDB, 1e-9)

	r = parseMeanVolume([]byte("mean_volume: -inf dB"))
	assert.True(t, r.Found)
	assert.True(t, math.IsInf(r.MeanDB, -1))

	r = parseMeanVolume([]byte("mean_volume: 0.0 dB\nmean_volume: -12.5 dB"))
	assert.InDelta(t, -12.5, r.MeanDB, 1e-9, "取最后一条")

	assert.False(t, parseMeanVolume([]byte("Output file is empty, nothing was encoded")).Found)
	assert.False(t, parseMeanVolume([]byte("mean_volume: -.- dB")).Found)
}

// UT-FFM-02: ffprobe 时长解析
func TestParseDuration(t *testing.T) {
	d, err := parseDuration([]byte("3.270000\n"))
	require.NoError(t, err)
	assert.InDelta(t, 3.27, d, 1e-9)

	for _, in := range []string{"", "N/A\n", "abc", "-1.0", "NaN"} {
		_, err := parseDuration([]byte(in))
		assert.Error(t, err, in)
	}
}

// UT-FFM-03: 命令行参数
func TestArgs(t *testing.T) {
	a := analyzeArgs(contract.AnalysisRequest{Path: "in.wav", Start: 0.5, Window: 0.1})
	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-nostats",
		"-ss", "0.5", "-t", "0.1", "-i", "in.wav",
		"-vn", "-sn", "-dn", "-af", "volumedetect", "-f", "null", "-",
	}, a)
	assert.NotContains(t, a, "-loglevel")

	e := NewEncoder(&EncoderOptions{CRF: 18, Preset: "veryfast"})
	got := e.args(contract.EncodeRequest{Dir: "w", Pattern: "frame-%05d.png", FrameRate: 10, Frames: 23, Dest: "w/video.mp4"})
	assert.Contains(t, got, "libx264")
	assert.Contains(t, got, "yuv420p")
	assert.Equal(t, "w/video.mp4", got[len(got)-1])
	assert.Subset(t, got, []string{"-framerate", "10", "-frames:v", "23", "-crf", "18", "-preset", "veryfast", "-start_number", "0"})

	m := NewMuxer(nil)
	got = m.args(contract.MuxRequest{Video: "v.mp4", Audio: "a.m4a", Dest: "out.tmp"})
	assert.Subset(t, got, []string{"-c:v", "copy", "-c:a", "aac", "-shortest"})
	assert.NotContains(t, got, "-b:a")
	assert.Equal(t, "out.tmp", got[len(got)-1])

	assert.Equal(t, []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", "x.mp3"}, probeArgs("x.mp3"))
}

// 参数校验先于子进程启动
func TestEncodeMuxInvalid(t *testing.T) {
	ctx := context.Background()
	assert.ErrorIs(t, NewEncoder(nil).Encode(ctx, contract.EncodeRequest{FrameRate: 10}), contract.ErrInvalidInput)
	assert.ErrorIs(t, NewMuxer(nil).Mux(ctx, contract.MuxRequest{Video: "v"}), contract.ErrInvalidInput)
}

// 缺失的可执行文件
func TestMissingBinary(t *testing.T) {
	p := NewProber(&ProberOptions{FFprobePath: "mouthsync-no-such-ffprobe"})
	_, err := p.Probe(context.Background(), "x.wav")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var ee *ExecError
	assert.ErrorAs(t, err, &ee)
}
