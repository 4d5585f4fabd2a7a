package mock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mouthsync/pkg/contract"
)

// UT-MCK-01: 响度按帧序号循环并支持故障注入
func TestAnalyzerLevelsAndFaults(t *testing.T) {
	a, err := NewAnalyzer(json.RawMessage(`{"levels":[-20,-35,-45],"fail_frames":[4],"unparsed_frames":[5]}`))
	require.NoError(t, err)
	ctx := context.Background()
	req := func(i int) contract.AnalysisRequest {
		return contract.AnalysisRequest{Path: "a.wav", Start: float64(i) * 0.1, Window: 0.1}
	}
	for i, want := range []float64{-20, -35, -45, -20} {
		r, err := a.Analyze(ctx, req(i))
		require.NoError(t, err)
		assert.True(t, r.Found)
		assert.Equal(t, want, r.MeanDB)
	}
	_, err = a.Analyze(ctx, req(4))
	assert.ErrorIs(t, err, ErrInjected)
	r, err := a.Analyze(ctx, req(5))
	require.NoError(t, err)
	assert.False(t, r.Found)
	assert.EqualValues(t, 6, a.Calls())
	assert.EqualValues(t, 1, a.PeakInFlight())
}

func TestAnalyzerHangUntilCancel(t *testing.T) {
	a, err := NewAnalyzer(json.RawMessage(`{"hang_frames":[0]}`))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Analyze(ctx, contract.AnalysisRequest{Window: 0.1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnknownOptionRejected(t *testing.T) {
	_, err := NewAnalyzer(json.RawMessage(`{"levelz":[1]}`))
	assert.Error(t, err)
	_, err = NewProber(json.RawMessage(`{"duration":1}`))
	assert.Error(t, err)
}

func TestProberDurations(t *testing.T) {
	p, err := NewProber(json.RawMessage(`{"duration_seconds":2.3,"durations":{"long.wav":130}}`))
	require.NoError(t, err)
	tr, err := p.Probe(context.Background(), "/x/a.wav")
	require.NoError(t, err)
	assert.Equal(t, 2.3, tr.DurationSeconds)
	tr, err = p.Probe(context.Background(), "/x/long.wav")
	require.NoError(t, err)
	assert.Equal(t, 130.0, tr.DurationSeconds)

	p, err = NewProber(json.RawMessage(`{"durations":{"Voice.WAV":4}}`))
	require.NoError(t, err)
	tr, err = p.Probe(context.Background(), "/x/voice.wav")
	require.NoError(t, err)
	assert.Equal(t, 4.0, tr.DurationSeconds)
}

func TestCompositorFailAfter(t *testing.T) {
	c, err := NewCompositor(json.RawMessage(`{"fail_after":1}`))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, c.Compose(context.Background(), "/assets/open.png", &buf))
	assert.Equal(t, "MOCKFRAME open.png\n", buf.String())
	assert.ErrorIs(t, c.Compose(context.Background(), "/assets/open.png", &buf), ErrInjected)
}

// UT-MCK-02: 编码器校验帧连续并拼接，合成器前置音频名
func TestEncodeAndMux(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("frame-%05d.png", i)), []byte(fmt.Sprintf("f%d\n", i)), 0o644))
	}
	e, _ := NewEncoder(nil)
	video := filepath.Join(dir, "video.mp4")
	require.NoError(t, e.Encode(context.Background(), contract.EncodeRequest{Dir: dir, Pattern: "frame-%05d.png", FrameRate: 10, Frames: 3, Dest: video}))
	b, _ := os.ReadFile(video)
	assert.Equal(t, "MOCKVIDEO fps=10 frames=3\nf0\nf1\nf2\n", string(b))

	// 缺帧与多余帧均报错
	assert.Error(t, e.Encode(context.Background(), contract.EncodeRequest{Dir: dir, Pattern: "frame-%05d.png", FrameRate: 10, Frames: 4, Dest: video}))
	assert.Error(t, e.Encode(context.Background(), contract.EncodeRequest{Dir: dir, Pattern: "frame-%05d.png", FrameRate: 10, Frames: 2, Dest: video}))

	audio := filepath.Join(dir, "voice.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))
	m, _ := NewMuxer(nil)
	out := filepath.Join(dir, "out.mp4")
	require.NoError(t, m.Mux(context.Background(), contract.MuxRequest{Video: video, Audio: audio, Dest: out}))
	b, _ = os.ReadFile(out)
	assert.Equal(t, "MOCKMP4 audio=voice.wav\nMOCKVIDEO fps=10 frames=3\nf0\nf1\nf2\n", string(b))
}
