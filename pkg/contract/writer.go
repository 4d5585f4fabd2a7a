package contract

import (
	"context"
	"io"
)

// ArtifactID: 工作目录内中间工件的相对标识（帧图片、时间线边车等）。
type ArtifactID string

// Writer: 将中间工件以流式方式持久化到工作目录。
// 约束：
//  1. 同一 ArtifactID 单写者；重复写入为幂等覆盖；
//  2. ctx 取消/超时需尽快返回；
//  3. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}

// Locator: 可选扩展。返回工件落盘后的实际路径，供编码器按路径读取。
type Locator interface {
	Path(id ArtifactID) (string, error)
}

// Sweeper: 可选扩展。清除 Writer 自身在根目录遗留的临时文件，返回删除数。
type Sweeper interface {
	Sweep() (int, error)
}
