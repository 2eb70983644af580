package preview

import (
	"bytes"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checker() *image.NRGBA {
	m := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	m.SetNRGBA(0, 0, color.NRGBA{0xff, 0, 0, 0xff})
	m.SetNRGBA(1, 0, color.NRGBA{0xff, 0xff, 0xff, 0xff})
	m.SetNRGBA(0, 1, color.NRGBA{0x10, 0x10, 0x10, 0xff})
	m.SetNRGBA(2, 1, color.NRGBA{0x60, 0x60, 0x60, 0x80})
	return m
}

func TestParseMode(t *testing.T) {
	for name, want := range map[string]Mode{"auto": Auto, "Kitty": Kitty, "sixel": Sixel, "256": Color256, "none": NoColor} {
		m, err := ParseMode(name)
		require.NoError(t, err)
		assert.Equal(t, want, m)
	}

	_, err := ParseMode("vga")
	assert.True(t, errors.Is(err, errUnknownMode))
}

func TestPrintNoColor(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, checker(), NoColor))
	assert.Equal(t, "==##  \n..  ==\n", buf.String())
}

func TestPrintTrueColor(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, checker(), TrueColor))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "\x1b[48;2;255;0;0m  \x1b[0m\x1b[48;2;255;255;255m  \x1b[0m\x1b[0m  "))
	assert.Contains(t, lines[1], "\x1b[48;2;96;96;96m  ")
}

func TestPrintColor256(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, checker(), Color256))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "\x1b[48;5;196m  \x1b[0m\x1b[48;5;231m  \x1b[0m\x1b[0m  "), "%q", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "\x1b[48;5;233m  \x1b[0m"), "%q", lines[1])
	assert.Contains(t, lines[1], "\x1b[48;5;241m  ")
	assert.NotContains(t, buf.String(), "48;2;")
}

func TestIndex256(t *testing.T) {
	tables := []struct {
		r, g, b uint8
		want    uint8
	}{
		{0, 0, 0, 16},
		{0xff, 0xff, 0xff, 231},
		{0xff, 0, 0, 196},
		{0, 0xff, 0, 46},
		{0, 0, 0xff, 21},
		{0x5f, 0x87, 0xaf, 67},
		{0x80, 0x80, 0x80, 244},
		{0x10, 0x10, 0x10, 233},
		{0xf8, 0xf8, 0xf8, 255},
	}

	for _, table := range tables {
		assert.Equal(t, table.want, index256(table.r, table.g, table.b), "%d,%d,%d", table.r, table.g, table.b)
	}
}

func TestPrintUnknownMode(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Print(&buf, checker(), Auto))
}

func TestFit(t *testing.T) {
	m := image.NewNRGBA(image.Rect(0, 0, 200, 100))

	fitted := Fit(m, 80, 24)
	assert.LessOrEqual(t, fitted.Bounds().Dx(), 40)
	assert.LessOrEqual(t, fitted.Bounds().Dy(), 24)

	small := checker()
	assert.Equal(t, small.Bounds(), Fit(small, 80, 24).Bounds())
	assert.Equal(t, m.Bounds(), Fit(m, 0, 0).Bounds())
}
