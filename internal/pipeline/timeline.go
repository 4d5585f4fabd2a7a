package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"

	"mouthsync/pkg/contract"
)

// timelineID: 工作目录内的时间线边车工件。
const timelineID contract.ArtifactID = "timeline.jsonl"

// timelineRow: 每帧一行 JSONL。mean_db 为 -inf 时写 null。
type timelineRow struct {
	Index    int      `json:"index"`
	T        float64  `json:"t"`
	MeanDB   *float64 `json:"mean_db"`
	Fallback bool     `json:"fallback,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Viseme   string   `json:"viseme"`
}

func newTimelineRow(f contract.FrameSpec, s contract.LoudnessSample, v contract.Viseme) timelineRow {
	row := timelineRow{Index: f.Index, T: f.Timestamp, Fallback: s.IsFallback, Reason: s.Reason, Viseme: v.String()}
	if !math.IsInf(s.MeanDB, 0) && !math.IsNaN(s.MeanDB) {
		db := s.MeanDB
		row.MeanDB = &db
	}
	return row
}

// timeline: 顺序门闩。帧乱序完成，行按 index 连续冲刷；
// 未就绪的行暂存，单次 Writer.Write 以管道流式落盘。
type timeline struct {
	mu      sync.Mutex
	pending map[int]timelineRow
	expect  int
	enc     *json.Encoder
	pw      *io.PipeWriter
	done    chan error
	err     error
}

func openTimeline(ctx context.Context, w contract.Writer) *timeline {
	pr, pw := io.Pipe()
	t := &timeline{pending: make(map[int]timelineRow), pw: pw, done: make(chan error, 1)}
	t.enc = json.NewEncoder(pw)
	t.enc.SetEscapeHTML(false)
	go func() {
		err := w.Write(ctx, timelineID, pr)
		// Writer 提前返回时解除写端阻塞
		_ = pr.CloseWithError(io.ErrClosedPipe)
		t.done <- err
	}()
	return t
}

func (t *timeline) add(row timelineRow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return
	}
	t.pending[row.Index] = row
	for {
		r, ok := t.pending[t.expect]
		if !ok {
			return
		}
		if err := t.enc.Encode(&r); err != nil {
			t.err = err
			return
		}
		delete(t.pending, t.expect)
		t.expect++
	}
}

// close 结束写出；n 为期望行数。cause 非空时中止写出并丢弃工件内容。
func (t *timeline) close(n int, cause error) error {
	t.mu.Lock()
	err := t.err
	if err == nil && cause == nil && (t.expect != n || len(t.pending) != 0) {
		err = fmt.Errorf("%w: timeline flushed %d of %d rows", contract.ErrSeqInvalid, t.expect, n)
	}
	t.mu.Unlock()
	switch {
	case cause != nil:
		_ = t.pw.CloseWithError(cause)
	case err != nil:
		_ = t.pw.CloseWithError(err)
	default:
		_ = t.pw.Close()
	}
	werr := <-t.done
	if cause != nil {
		return cause
	}
	if err != nil {
		return err
	}
	return werr
}
