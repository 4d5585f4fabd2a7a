package pipeline

import (
	"bytes"
	"sync"
)

// arena: 批作用域的帧编码缓冲区。
// 批内并发 get/put；批边界调用 release：reclaim 时丢弃全部缓冲区，否则保留供下一批复用。
type arena struct {
	mu      sync.Mutex
	free    []*bytes.Buffer
	reclaim bool

	allocated int
	released  int
}

func newArena(reclaim bool) *arena { return &arena{reclaim: reclaim} }

func (a *arena) get() *bytes.Buffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		b := a.free[n-1]
		a.free = a.free[:n-1]
		return b
	}
	a.allocated++
	return new(bytes.Buffer)
}

func (a *arena) put(b *bytes.Buffer) {
	if b == nil {
		return
	}
	b.Reset()
	a.mu.Lock()
	a.free = append(a.free, b)
	a.mu.Unlock()
}

// release 在批边界调用；返回本次丢弃的缓冲区数量。
func (a *arena) release() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.reclaim {
		return 0
	}
	n := len(a.free)
	for i := range a.free {
		a.free[i] = nil
	}
	a.free = nil
	a.released += n
	return n
}

// pooled 返回当前空闲缓冲区数量。
func (a *arena) pooled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}
