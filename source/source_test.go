package source

import (
	"archive/zip"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.SetNRGBA(x, y, c)
		}
	}
	return m
}

func writePNG(t *testing.T, file string, m image.Image) {
	t.Helper()
	f, err := os.Create(file)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, m))
}

func writeFile(t *testing.T, file string, b []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(file, b, 0o644))
}

func copyFixture(t *testing.T, dir, name string) {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "aseprite", "testdata", name))
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, name), b)
}

func names(entries []Entry) []string {
	n := make([]string, len(entries))
	for i, e := range entries {
		n[i] = e.Name
	}
	return n
}

func TestStem(t *testing.T) {
	tables := []struct {
		path, stem string
	}{
		{"walk.aseprite", "walk"},
		{"dir/idle.png", "idle"},
		{"archive.zip/sprites/run.gif", "run"},
		{"noext", "noext"},
	}

	for _, table := range tables {
		assert.Equal(t, table.stem, Stem(table.path))
	}
}

func TestCollectDirectory(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), solid(2, 2, color.NRGBA{A: 0xff}))
	writePNG(t, filepath.Join(dir, "a.png"), solid(2, 2, color.NRGBA{A: 0xff}))
	writePNG(t, filepath.Join(dir, ".hidden.png"), solid(2, 2, color.NRGBA{A: 0xff}))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("ignored"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))
	copyFixture(t, dir, "walk.aseprite")

	entries, err := Collect(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "walk"}, names(entries))
	assert.Equal(t, filepath.Join(dir, "a.png"), entries[0].Path)
}

func TestCollectNames(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "hero.png"), solid(1, 1, color.NRGBA{A: 0xff}))
	writePNG(t, filepath.Join(dir, "coin.png"), solid(1, 1, color.NRGBA{A: 0xff}))
	copyFixture(t, dir, "walk.aseprite")
	// .aseprite is tried before .png
	writePNG(t, filepath.Join(dir, "walk.png"), solid(1, 1, color.NRGBA{A: 0xff}))

	entries, err := Collect(dir, []string{"walk", "hero", "coin.png"})
	require.NoError(t, err)
	assert.Equal(t, []string{"walk", "hero", "coin"}, names(entries))
	assert.Equal(t, filepath.Join(dir, "walk.aseprite"), entries[0].Path)
	assert.Equal(t, filepath.Join(dir, "coin.png"), entries[2].Path)
}

func TestCollectNotFound(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "hero.png"), solid(1, 1, color.NRGBA{A: 0xff}))

	_, err := Collect(dir, []string{"hero", "missing"})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = Collect(filepath.Join(dir, "nope"), nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCollectSingleFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "hero.png")
	writePNG(t, file, solid(1, 1, color.NRGBA{A: 0xff}))

	entries, err := Collect(file, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hero"}, names(entries))

	writeFile(t, filepath.Join(dir, "notes.txt"), nil)
	_, err = Collect(filepath.Join(dir, "notes.txt"), nil)
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestCollectZip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sprites.zip")

	f, err := os.Create(file)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, name := range []string{"sprites/run.png", "sprites/jump.png", "__MACOSX/sprites/._run.png", "readme.txt"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if filepath.Ext(name) == ".png" {
			require.NoError(t, png.Encode(w, solid(3, 2, color.NRGBA{R: 0xff, A: 0xff})))
		}
	}
	_, err = zw.Create("sprites/")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	entries, err := Collect(file, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"jump", "run"}, names(entries))
	assert.Equal(t, file+"/sprites/jump.png", entries[0].Path)

	s, err := Decode(entries[1])
	require.NoError(t, err)
	assert.Equal(t, 1, s.NumFrames())
	m, err := s.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), m.Bounds())

	selected, err := Collect(file, []string{"run", "sprites/jump"})
	require.NoError(t, err)
	assert.Equal(t, []string{"run", "jump"}, names(selected))

	_, err = Collect(file, []string{"walk"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDecodeStill(t *testing.T) {
	dir := t.TempDir()
	want := solid(3, 2, color.NRGBA{10, 20, 30, 40})
	writePNG(t, filepath.Join(dir, "still.png"), want)

	entries, err := Collect(dir, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	s, err := Decode(entries[0])
	require.NoError(t, err)
	assert.Equal(t, "still", s.Name())
	assert.Equal(t, filepath.Join(dir, "still.png"), s.Path())
	require.Equal(t, 1, s.NumFrames())

	m, err := s.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, want.Pix, m.Pix)

	_, err = s.Frame(1)
	assert.Error(t, err)
}

func TestDecodeOpaqueConverted(t *testing.T) {
	dir := t.TempDir()
	rgba := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(rgba.Pix); i += 4 {
		copy(rgba.Pix[i:], []byte{1, 2, 3, 0xff})
	}
	writePNG(t, filepath.Join(dir, "opaque.png"), rgba)

	s, err := Decode(fileEntry("opaque", filepath.Join(dir, "opaque.png")))
	require.NoError(t, err)
	m, err := s.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{1, 2, 3, 0xff}, m.NRGBAAt(1, 1))
}

func TestDecodeAseprite(t *testing.T) {
	dir := t.TempDir()
	copyFixture(t, dir, "walk.aseprite")

	s, err := Decode(fileEntry("walk", filepath.Join(dir, "walk.aseprite")))
	require.NoError(t, err)
	assert.Equal(t, 4, s.NumFrames())

	m, err := s.Frame(2)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{0, 0, 0xff, 0x80}, m.NRGBAAt(0, 0))
}

func TestDecodeErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.png"), []byte("not a png"))
	writeFile(t, filepath.Join(dir, "broken.aseprite"), []byte{1, 2, 3})

	for _, name := range []string{"broken.png", "broken.aseprite"} {
		_, err := Decode(fileEntry("broken", filepath.Join(dir, name)))
		assert.Error(t, err, name)
	}

	_, err := Decode(fileEntry("gone", filepath.Join(dir, "gone.png")))
	assert.Error(t, err)

	_, err = Decode(memoryEntry("notes", "notes.txt", []byte("text")))
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestDecodeGIF(t *testing.T) {
	palette := color.Palette{
		color.NRGBA{},
		color.NRGBA{0xff, 0, 0, 0xff},
		color.NRGBA{0, 0xff, 0, 0xff},
	}

	frame := func(r image.Rectangle, index uint8) *image.Paletted {
		m := image.NewPaletted(r, palette)
		for i := range m.Pix {
			m.Pix[i] = index
		}
		return m
	}

	g := &gif.GIF{
		Image: []*image.Paletted{
			frame(image.Rect(0, 0, 4, 4), 1),
			frame(image.Rect(1, 1, 3, 3), 2),
			frame(image.Rect(0, 0, 1, 1), 2),
			frame(image.Rect(3, 3, 4, 4), 2),
		},
		Delay: []int{10, 10, 10, 10},
		Disposal: []byte{
			gif.DisposalNone,
			gif.DisposalBackground,
			gif.DisposalPrevious,
			gif.DisposalNone,
		},
		Config: image.Config{Width: 4, Height: 4},
	}

	dir := t.TempDir()
	file := filepath.Join(dir, "blink.gif")
	f, err := os.Create(file)
	require.NoError(t, err)
	require.NoError(t, gif.EncodeAll(f, g))
	require.NoError(t, f.Close())

	s, err := Decode(fileEntry("blink", file))
	require.NoError(t, err)
	require.Equal(t, 4, s.NumFrames())

	red := color.NRGBA{0xff, 0, 0, 0xff}
	green := color.NRGBA{0, 0xff, 0, 0xff}

	m, _ := s.Frame(0)
	assert.Equal(t, image.Rect(0, 0, 4, 4), m.Bounds())
	assert.Equal(t, red, m.NRGBAAt(1, 1))

	m, _ = s.Frame(1)
	assert.Equal(t, green, m.NRGBAAt(1, 1))
	assert.Equal(t, red, m.NRGBAAt(0, 0))

	// Frame 1 was cleared to transparent before frame 2 was drawn
	m, _ = s.Frame(2)
	assert.Equal(t, green, m.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{}, m.NRGBAAt(1, 1))

	// Frame 2 was undone before frame 3 was drawn
	m, _ = s.Frame(3)
	assert.Equal(t, red, m.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{}, m.NRGBAAt(2, 2))
	assert.Equal(t, green, m.NRGBAAt(3, 3))
}
