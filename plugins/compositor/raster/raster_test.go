package raster

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mouthsync/pkg/contract"
)

func writeAsset(t *testing.T, dir, name string, c color.Color) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return p
}

// UT-RAS-01: 同一素材重复合成字节一致，尺寸为画布尺寸
func TestComposeDeterministic(t *testing.T) {
	asset := writeAsset(t, t.TempDir(), "open.png", color.NRGBA{R: 200, A: 255})
	c, err := New(&Options{Width: 32, Height: 64})
	require.NoError(t, err)

	var a, b bytes.Buffer
	require.NoError(t, c.Compose(context.Background(), asset, &a))
	require.NoError(t, c.Compose(context.Background(), asset, &b))
	assert.Equal(t, a.Bytes(), b.Bytes())

	img, err := png.Decode(bytes.NewReader(a.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 64), img.Bounds())
	r, _, _, _ := img.At(16, 32).RGBA()
	assert.Equal(t, uint32(200), r>>8)
}

// 半透明素材叠加在底色上
func TestComposeBackground(t *testing.T) {
	asset := writeAsset(t, t.TempDir(), "closed.png", color.NRGBA{})
	c, err := New(&Options{Width: 4, Height: 4, Background: "#102030"})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, c.Compose(context.Background(), asset, &buf))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	r, g, b, _ := img.At(1, 1).RGBA()
	assert.Equal(t, []uint32{0x10, 0x20, 0x30}, []uint32{r >> 8, g >> 8, b >> 8})
}

// UT-RAS-02: 素材缺失或损坏
func TestComposeAssetErrors(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	dir := t.TempDir()
	err = c.Compose(context.Background(), filepath.Join(dir, "missing.png"), &bytes.Buffer{})
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o644))
	assert.Error(t, c.Compose(context.Background(), bad, &bytes.Buffer{}))
}

func TestNewBadBackground(t *testing.T) {
	_, err := New(&Options{Background: "red"})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(&Options{Background: "#zzzzzz"})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestComposeCanceled(t *testing.T) {
	c, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Compose(ctx, "x.png", &bytes.Buffer{}), context.Canceled)
}

// UT-RAS-05: 拼图按三等分拆分，末段含余数；目标已存在时不写入
func TestSplitSheet(t *testing.T) {
	dir := t.TempDir()
	colors := []color.NRGBA{{R: 255, A: 255}, {G: 255, A: 255}, {B: 255, A: 255}}
	sheet := image.NewNRGBA(image.Rect(0, 0, 10, 4))
	for x := 0; x < 10; x++ {
		c := colors[min(x/3, 2)]
		for y := 0; y < 4; y++ {
			sheet.Set(x, y, c)
		}
	}
	sp := filepath.Join(dir, "composite_mouth.png")
	f, err := os.Create(sp)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, sheet))
	require.NoError(t, f.Close())

	assets := filepath.Join(dir, "assets")
	out := []string{filepath.Join(assets, "closed.png"), filepath.Join(assets, "open.png"), filepath.Join(assets, "tongue.png")}
	require.NoError(t, SplitSheet(sp, out[0], out[1], out[2]))
	widths := []int{3, 3, 4}
	for i, p := range out {
		r, err := os.Open(p)
		require.NoError(t, err)
		img, err := png.Decode(r)
		require.NoError(t, r.Close())
		require.NoError(t, err)
		assert.Equal(t, widths[i], img.Bounds().Dx(), p)
		assert.Equal(t, 4, img.Bounds().Dy())
		assert.Equal(t, colors[i], color.NRGBAModel.Convert(img.At(0, 0)), p)
	}

	before, err := os.ReadFile(out[1])
	require.NoError(t, err)
	require.NoError(t, os.Remove(out[0]))
	assert.ErrorIs(t, SplitSheet(sp, out[0], out[1], out[2]), os.ErrExist)
	assert.NoFileExists(t, out[0])
	after, err := os.ReadFile(out[1])
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSplitSheetTooNarrow(t *testing.T) {
	dir := t.TempDir()
	p := writeAsset(t, dir, "tiny.png", color.White)
	// 8 宽可拆；构造 2 宽拼图
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	narrow := filepath.Join(dir, "narrow.png")
	f, err := os.Create(narrow)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	err = SplitSheet(narrow, filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png"), filepath.Join(dir, "c.png"))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	assert.Error(t, SplitSheet(filepath.Join(dir, "missing.png"), filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png"), filepath.Join(dir, "c.png")))
	require.NoError(t, SplitSheet(p, filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png"), filepath.Join(dir, "c.png")))
}
