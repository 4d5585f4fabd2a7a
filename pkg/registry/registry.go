package registry

import (
	"bytes"
	"encoding/json"

	"mouthsync/pkg/contract"
	raster "mouthsync/plugins/compositor/raster"
	ffm "mouthsync/plugins/ffmpeg"
	mock "mouthsync/plugins/mock"
	rfs "mouthsync/plugins/reader/filesystem"
	wfs "mouthsync/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// 工厂签名：接收原样 JSON Options。
type (
	NewReader     func(raw json.RawMessage) (contract.Reader, error)
	NewWriter     func(raw json.RawMessage) (contract.Writer, error)
	NewProber     func(raw json.RawMessage) (contract.Prober, error)
	NewAnalyzer   func(raw json.RawMessage) (contract.Analyzer, error)
	NewCompositor func(raw json.RawMessage) (contract.Compositor, error)
	NewEncoder    func(raw json.RawMessage) (contract.Encoder, error)
	NewMuxer      func(raw json.RawMessage) (contract.Muxer, error)
)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件/目录输入发现
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Writer 工厂注册表。返回值同时实现 contract.Locator。
var Writer = map[string]NewWriter{
	// fs: 工作目录 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

var Prober = map[string]NewProber{
	"ffprobe": func(raw json.RawMessage) (contract.Prober, error) {
		var opts ffm.ProberOptions
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ffm.NewProber(&opts), nil
	},
	"mock": func(raw json.RawMessage) (contract.Prober, error) { return mock.NewProber(raw) },
}

var Analyzer = map[string]NewAnalyzer{
	// ffmpeg: volumedetect 单窗口平均响度
	"ffmpeg": func(raw json.RawMessage) (contract.Analyzer, error) {
		var opts ffm.AnalyzerOptions
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ffm.NewAnalyzer(&opts), nil
	},
	"mock": func(raw json.RawMessage) (contract.Analyzer, error) { return mock.NewAnalyzer(raw) },
}

var Compositor = map[string]NewCompositor{
	// raster: 固定画布 PNG 合成
	"raster": func(raw json.RawMessage) (contract.Compositor, error) {
		var opts raster.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return raster.New(&opts)
	},
	"mock": func(raw json.RawMessage) (contract.Compositor, error) { return mock.NewCompositor(raw) },
}

var Encoder = map[string]NewEncoder{
	"ffmpeg": func(raw json.RawMessage) (contract.Encoder, error) {
		var opts ffm.EncoderOptions
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ffm.NewEncoder(&opts), nil
	},
	"mock": func(raw json.RawMessage) (contract.Encoder, error) { return mock.NewEncoder(raw) },
}

var Muxer = map[string]NewMuxer{
	"ffmpeg": func(raw json.RawMessage) (contract.Muxer, error) {
		var opts ffm.MuxerOptions
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ffm.NewMuxer(&opts), nil
	},
	"mock": func(raw json.RawMessage) (contract.Muxer, error) { return mock.NewMuxer(raw) },
}
