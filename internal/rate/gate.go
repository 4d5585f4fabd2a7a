package rate

import (
	"context"
	"sync"
	"time"

	"mouthsync/pkg/contract"
)

// Limits: 子进程启动速率。PerSecond<=0 表示不限速。
type Limits struct {
	PerSecond float64 // 每秒允许启动的进程数
	Burst     int     // 桶容量；<=0 时取 max(1, ceil(PerSecond))
}

// Gate: 启动闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到可启动 n 个进程或 ctx 取消。
	Wait(ctx context.Context, n int) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(n int) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Available() int
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
// 不限速时返回 nil，调用方按 nil 跳过。
func NewGate(lim Limits, clk func() time.Time) Gate {
	if lim.PerSecond <= 0 {
		return nil
	}
	if clk == nil {
		clk = time.Now
	}
	burst := lim.Burst
	if burst <= 0 {
		burst = int(lim.PerSecond)
		if float64(burst) < lim.PerSecond {
			burst++
		}
		if burst < 1 {
			burst = 1
		}
	}
	return &gate{clk: clk, b: bucket{cap: burst, level: float64(burst), rate: lim.PerSecond, last: clk()}}
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	b   bucket
}

type bucket struct {
	cap   int
	level float64
	rate  float64 // tokens/sec
	last  time.Time
}

func (b *bucket) refill(now time.Time) {
	if now.Before(b.last) {
		// 单调性保护：若时钟回拨，视为无时间流逝
		return
	}
	dt := now.Sub(b.last).Seconds()
	if dt <= 0 {
		return
	}
	b.level += dt * b.rate
	if b.level > float64(b.cap) {
		b.level = float64(b.cap)
	}
	b.last = now
}

func (b *bucket) canTake(n int) bool { return b.level >= float64(n) }

func (b *bucket) take(n int) {
	b.level -= float64(n)
	if b.level < 0 {
		b.level = 0
	}
}

// waitFor 返回达到可消费 n 还需等待的时长（向下近似）。
func (b *bucket) waitFor(n int) time.Duration {
	deficit := float64(n) - b.level
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / b.rate * float64(time.Second))
}

func (g *gate) Try(n int) bool {
	if n <= 0 || n > g.b.cap {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.b.refill(g.clk())
	if !g.b.canTake(n) {
		return false
	}
	g.b.take(n)
	return true
}

func (g *gate) Wait(ctx context.Context, n int) error {
	// 超过桶容量的申请永远无法满足，快速失败
	if n <= 0 || n > g.b.cap {
		return contract.ErrInvalidInput
	}
	// 最小睡眠粒度，避免忙等
	const minSleep = 5 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		g.mu.Lock()
		g.b.refill(g.clk())
		if g.b.canTake(n) {
			g.b.take(n)
			g.mu.Unlock()
			return nil
		}
		d := g.b.waitFor(n) + minSleep
		g.mu.Unlock()
		if err := sleepCtx(ctx, d); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	// 分片为最多 200ms 的步长，及时响应取消
	const step = 200 * time.Millisecond
	for d > 0 {
		s := d
		if s > step {
			s = step
		}
		t := time.NewTimer(s)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		case <-t.C:
		}
		d -= s
	}
	return nil
}

// Available: 当前可用令牌的向下取整估值（仅诊断）。
func (g *gate) Available() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.b.refill(g.clk())
	return int(g.b.level)
}

var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)
