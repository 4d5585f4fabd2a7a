package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// stderrTail: 错误信息中保留的 stderr 尾部字节数。
const stderrTail = 512

// waitDelay: ctx 取消后等待子进程退出与管道关闭的上限。
const waitDelay = 2 * time.Second

// ExecError 描述外部命令的非零退出或启动失败。
type ExecError struct {
	Bin  string
	Tail string
	Err  error
}

func (e *ExecError) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("%s: %v", e.Bin, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Bin, e.Err, e.Tail)
}

func (e *ExecError) Unwrap() error { return e.Err }

// run 执行外部命令并返回 stdout 与 stderr。
// ctx 取消时子进程被 kill，run 在进程回收后才返回。
func run(ctx context.Context, bin string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	err := cmd.Run()
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return stdout.Bytes(), stderr.Bytes(), cerr
		}
		return stdout.Bytes(), stderr.Bytes(), &ExecError{Bin: bin, Tail: tail(stderr.Bytes()), Err: err}
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return s
}

// seconds 以 ffmpeg 接受的十进制秒表示时间。
func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// IsNotFound 报告错误是否源于可执行文件缺失。
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}

func binOr(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}
