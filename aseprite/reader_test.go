package aseprite

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, name string) *bytes.Reader {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func uniform(t *testing.T, m *image.NRGBA, want color.NRGBA) {
	t.Helper()
	b := m.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			require.Equal(t, want, m.NRGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestDecodeAll(t *testing.T) {
	f, err := DecodeAll(open(t, "walk.aseprite"))
	require.NoError(t, err)

	assert.Equal(t, 8, f.Width)
	assert.Equal(t, 8, f.Height)
	require.Len(t, f.Layers, 1)
	assert.Equal(t, "body", f.Layers[0].Name)
	require.Len(t, f.Frames, 4)

	want := []color.NRGBA{
		{0xff, 0x00, 0x00, 0xff},
		{0x00, 0xff, 0x00, 0xff},
		{0x00, 0x00, 0xff, 0x80},
		{0x00, 0xff, 0x00, 0xff}, // Linked to frame 1
	}
	for i, frame := range f.Frames {
		assert.Equal(t, image.Rect(0, 0, 8, 8), frame.Image.Bounds())
		assert.Equal(t, 100*time.Millisecond, frame.Duration)
		uniform(t, frame.Image, want[i])
	}
}

func TestDecodeCelPosition(t *testing.T) {
	f, err := DecodeAll(open(t, "idle.aseprite"))
	require.NoError(t, err)
	require.Len(t, f.Frames, 1)

	m := f.Frames[0].Image
	assert.Equal(t, image.Rect(0, 0, 6, 6), m.Bounds())
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			want := color.NRGBA{}
			if x >= 2 && x < 4 && y >= 1 && y < 4 {
				want = color.NRGBA{10, 20, 30, 0xff}
			}
			assert.Equal(t, want, m.NRGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestDecodeLayers(t *testing.T) {
	f, err := DecodeAll(open(t, "layers.aseprite"))
	require.NoError(t, err)

	require.Len(t, f.Layers, 5)
	visible := make([]bool, len(f.Layers))
	for i, l := range f.Layers {
		visible[i] = l.Visible
	}
	assert.Equal(t, []bool{true, false, true, false, false}, visible)
	assert.Equal(t, uint8(0x80), f.Layers[2].Opacity)

	// Blue at half opacity over red; hidden layers contribute nothing
	uniform(t, f.Frames[0].Image, color.NRGBA{0x7f, 0x00, 0x80, 0xff})
}

func TestDecodeIndexed(t *testing.T) {
	f, err := DecodeAll(open(t, "indexed.aseprite"))
	require.NoError(t, err)

	m := f.Frames[0].Image
	assert.Equal(t, color.NRGBA{}, m.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{0xff, 0x80, 0x00, 0xff}, m.NRGBAAt(1, 0))
	assert.Equal(t, color.NRGBA{0x00, 0x80, 0xff, 0xff}, m.NRGBAAt(0, 1))
	assert.Equal(t, color.NRGBA{0xff, 0x80, 0x00, 0xff}, m.NRGBAAt(1, 1))
}

func TestDecodeGrayscale(t *testing.T) {
	f, err := DecodeAll(open(t, "gray.aseprite"))
	require.NoError(t, err)

	m := f.Frames[0].Image
	assert.Equal(t, color.NRGBA{64, 64, 64, 0xff}, m.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{200, 200, 200, 100}, m.NRGBAAt(1, 0))
}

func TestDecodeConfig(t *testing.T) {
	c, err := DecodeConfig(open(t, "walk.aseprite"))
	require.NoError(t, err)
	assert.Equal(t, 8, c.Width)
	assert.Equal(t, 8, c.Height)
	assert.Equal(t, color.NRGBAModel, c.ColorModel)
}

func TestRegisteredFormat(t *testing.T) {
	m, format, err := image.Decode(open(t, "idle.aseprite"))
	require.NoError(t, err)
	assert.Equal(t, "aseprite", format)
	assert.Equal(t, image.Rect(0, 0, 6, 6), m.Bounds())
}

func TestDecodeErrors(t *testing.T) {
	walk, err := os.ReadFile(filepath.Join("testdata", "walk.aseprite"))
	require.NoError(t, err)

	badMagic := append([]byte(nil), walk...)
	badMagic[4] = 0

	badDepth := append([]byte(nil), walk...)
	badDepth[12] = 24

	badFrame := append([]byte(nil), walk...)
	badFrame[128+4] = 0

	tables := []struct {
		name string
		b    []byte
		err  error
	}{
		{"empty", nil, errNotEnough},
		{"header only", walk[:100], errNotEnough},
		{"truncated", walk[:len(walk)/2], errNotEnough},
		{"bad magic", badMagic, errBadMagic},
		{"bad depth", badDepth, errBadDepth},
		{"bad frame magic", badFrame, errFrameMagic},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			_, err := DecodeAll(bytes.NewReader(table.b))
			require.Error(t, err)
			assert.True(t, errors.Is(err, table.err), "got %v", err)
		})
	}
}

func chunk(t *testing.T, typ uint16, fields ...interface{}) []byte {
	t.Helper()

	var data bytes.Buffer
	for _, f := range fields {
		require.NoError(t, binary.Write(&data, binary.LittleEndian, f))
	}

	b := make([]byte, chunkHeaderSize, chunkHeaderSize+data.Len())
	binary.LittleEndian.PutUint32(b[0:4], uint32(chunkHeaderSize+data.Len()))
	binary.LittleEndian.PutUint16(b[4:6], typ)
	return append(b, data.Bytes()...)
}

// sprite builds a single frame RGBA file holding the given chunks.
func sprite(t *testing.T, width, height uint16, chunks ...[]byte) []byte {
	t.Helper()

	var frame bytes.Buffer
	for _, c := range chunks {
		frame.Write(c)
	}

	fh := frameHeader{
		Size:   uint32(frameHeaderSize + frame.Len()),
		Magic:  frameMagic,
		Chunks: uint32(len(chunks)),
	}
	h := header{
		FileSize: 128 + fh.Size,
		Magic:    fileMagic,
		Frames:   1,
		Width:    width,
		Height:   height,
		Depth:    depthRGBA,
		Flags:    flagLayerOpacity,
	}

	var b bytes.Buffer
	require.NoError(t, binary.Write(&b, binary.LittleEndian, h))
	require.NoError(t, binary.Write(&b, binary.LittleEndian, fh))
	b.Write(frame.Bytes())
	return b.Bytes()
}

func layerChunk(t *testing.T) []byte {
	return chunk(t, chunkLayer, layerHeader{Flags: layerVisible, Opacity: 0xff}, uint16(1), []byte("a"))
}

func TestDecodeCrafted(t *testing.T) {
	red := bytes.Repeat([]byte{0xff, 0, 0, 0xff}, 4)
	f, err := DecodeAll(bytes.NewReader(sprite(t, 8, 8,
		layerChunk(t),
		chunk(t, chunkCel, celHeader{Y: 1, Opacity: 0xff, Type: celRaw}, [2]uint16{2, 2}, red),
	)))
	require.NoError(t, err)
	require.Len(t, f.Frames, 1)

	m := f.Frames[0].Image
	assert.Equal(t, image.Rect(0, 0, 8, 8), m.Bounds())
	assert.Equal(t, color.NRGBA{}, m.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{0xff, 0, 0, 0xff}, m.NRGBAAt(1, 2))
}

func TestDecodeOversized(t *testing.T) {
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write(make([]byte, 1024))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	hugeChunk := chunk(t, chunkCel, celHeader{Opacity: 0xff, Type: celRaw}, [2]uint16{1, 1}, make([]byte, 4))
	binary.LittleEndian.PutUint32(hugeChunk[0:4], 0xffffffff)

	tables := []struct {
		name string
		b    []byte
		err  error
	}{
		{
			"raw cel larger than its chunk",
			sprite(t, 8, 8, layerChunk(t), chunk(t, chunkCel, celHeader{Opacity: 0xff, Type: celRaw}, [2]uint16{0xffff, 0xffff})),
			errNotEnough,
		},
		{
			"compressed cel too large",
			sprite(t, 8, 8, layerChunk(t), chunk(t, chunkCel, celHeader{Opacity: 0xff, Type: celCompressed}, [2]uint16{0xffff, 0xffff}, compressed.Bytes())),
			errTooLarge,
		},
		{
			"compressed cel short of data",
			sprite(t, 8, 8, layerChunk(t), chunk(t, chunkCel, celHeader{Opacity: 0xff, Type: celCompressed}, [2]uint16{1024, 1024}, compressed.Bytes())),
			errNotEnough,
		},
		{
			"chunk larger than its frame",
			sprite(t, 8, 8, layerChunk(t), hugeChunk),
			errBadChunk,
		},
		{
			"canvas too large",
			sprite(t, 0xffff, 0xffff, layerChunk(t)),
			errTooLarge,
		},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			_, err := DecodeAll(bytes.NewReader(table.b))
			require.Error(t, err)
			assert.True(t, errors.Is(err, table.err), "got %v", err)
		})
	}
}

func TestDecodeTruncatedFixture(t *testing.T) {
	_, err := DecodeAll(open(t, "truncated.aseprite"))
	assert.Error(t, err)
}

func TestOver(t *testing.T) {
	dst := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	src.SetNRGBA(0, 0, color.NRGBA{10, 20, 30, 40})

	// Onto transparent pixels the source is copied exactly
	over(dst, src, image.Pt(1, 0), 0xff)
	assert.Equal(t, color.NRGBA{}, dst.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{10, 20, 30, 40}, dst.NRGBAAt(1, 0))

	// Fully transparent source leaves the destination alone
	over(dst, src, image.Pt(1, 0), 0)
	assert.Equal(t, color.NRGBA{10, 20, 30, 40}, dst.NRGBAAt(1, 0))

	// Clipped to the destination
	over(dst, src, image.Pt(5, 5), 0xff)
}
