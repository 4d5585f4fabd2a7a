package contract

import "context"

// Reader: 输入发现（文件/目录）。
// 约束：
// 1) 按稳定顺序回调，每个音频文件恰好一次；
// 2) 只产出路径，不打开、不解码；
// 3) 不在内部起并发。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(id InputID, path string) error) error
}
