package contract

import (
	"path"
	"path/filepath"
	"strings"
)

// InputID: 输入音频的逻辑标识（正斜杠、已清理），用于日志与终端提示。
type InputID string

// NormalizeInputID 规范化路径：反斜杠统一为正斜杠后 path.Clean；不做隐式绝对化。
func NormalizeInputID(p string) InputID {
	return InputID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// OutputName 返回输入对应的默认成片名：去扩展名的基名 + ext。
func OutputName(input, ext string) string {
	base := filepath.Base(input)
	if e := filepath.Ext(base); e != "" && e != base {
		base = strings.TrimSuffix(base, e)
	}
	return base + ext
}
