/*
Package preview draws images on a terminal.

Terminals that understand the Kitty, iTerm2 or Sixel graphics protocols get
the real image; anything else gets two character cells per pixel, coloured
with 24 bit or 256 colour escape sequences.
*/
package preview

import (
	"bufio"
	"fmt"
	"image"
	ic "image/color"
	"io"
	"os"
	"strings"

	"github.com/BourgeoisBear/rasterm"
	"github.com/andybons/gogif"
	"github.com/gookit/color"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

// Mode is a way of drawing an image.
type Mode int

// Drawing modes.
const (
	Auto Mode = iota
	Kitty
	ITerm
	Sixel
	TrueColor
	Color256
	NoColor
)

var modeNames = map[string]Mode{
	"auto":      Auto,
	"kitty":     Kitty,
	"iterm":     ITerm,
	"sixel":     Sixel,
	"truecolor": TrueColor,
	"256":       Color256,
	"none":      NoColor,
}

var errUnknownMode = errors.New("preview: unknown mode")

// ParseMode returns the mode with the given name.
func ParseMode(name string) (Mode, error) {
	if m, ok := modeNames[strings.ToLower(name)]; ok {
		return m, nil
	}
	return Auto, errors.Wrapf(errUnknownMode, "%q", name)
}

// sixelColors is the palette size used for Sixel output.
const sixelColors = 64

// Detect picks the best mode for the terminal on f.
func Detect(f *os.File) Mode {
	if !term.IsTerminal(int(f.Fd())) {
		return NoColor
	}
	switch {
	case rasterm.IsTermKitty():
		return Kitty
	case rasterm.IsTermItermWez():
		return ITerm
	}
	if capable, err := rasterm.IsSixelCapable(); capable && err == nil {
		return Sixel
	}
	switch os.Getenv("COLORTERM") {
	case "truecolor", "24bit":
		return TrueColor
	}
	return Color256
}

// TerminalSize returns the size in character cells of the terminal on f.
func TerminalSize(f *os.File) (cols, rows int, ok bool) {
	cols, rows, err := term.GetSize(int(f.Fd()))
	if err != nil || cols <= 0 || rows <= 0 {
		return 0, 0, false
	}
	return cols, rows, true
}

// Fit shrinks m, keeping its aspect ratio, so that it can be drawn as
// character cells within cols x rows. Images that already fit are returned
// unchanged.
func Fit(m image.Image, cols, rows int) image.Image {
	if cols < 2 || rows < 1 {
		return m
	}
	return resize.Thumbnail(uint(cols/2), uint(rows), m, resize.NearestNeighbor)
}

// Print draws m on w using mode, which must not be Auto.
func Print(w io.Writer, m image.Image, mode Mode) error {
	switch mode {
	case Kitty:
		return writeImage(w, rasterm.Settings{}.KittyWriteImage(w, m))
	case ITerm:
		return writeImage(w, rasterm.Settings{}.ItermWriteImage(w, m))
	case Sixel:
		pm := image.NewPaletted(m.Bounds(), nil)
		quantizer := gogif.MedianCutQuantizer{NumColor: sixelColors}
		quantizer.Quantize(pm, m.Bounds(), m, m.Bounds().Min)
		return writeImage(w, rasterm.Settings{}.SixelWriteImage(w, pm))
	case TrueColor, Color256, NoColor:
		return printCells(w, m, mode)
	}
	return errors.Wrapf(errUnknownMode, "%d", mode)
}

func writeImage(w io.Writer, err error) error {
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w)
	return err
}

func printCells(w io.Writer, m image.Image, mode Mode) error {
	bw := bufio.NewWriter(w)
	b := m.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			bw.WriteString(cell(m.At(x, y), mode))
		}
		if mode != NoColor {
			bw.WriteString("\x1b[0m")
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// cell returns the two characters drawing one pixel. Fully transparent
// pixels are left blank.
func cell(c ic.Color, mode Mode) string {
	n := ic.NRGBAModel.Convert(c).(ic.NRGBA)
	if n.A == 0 {
		if mode == NoColor {
			return "  "
		}
		return "\x1b[0m  "
	}

	switch mode {
	case TrueColor:
		return fmt.Sprintf("\x1b[48;2;%d;%d;%dm  \x1b[0m", n.R, n.G, n.B)
	case Color256:
		// Formatted directly rather than with Sprint, which drops the codes
		// when it can't detect colour support on stdout
		return fmt.Sprintf(color.FullColorTpl, color.C256(index256(n.R, n.G, n.B), true).String(), "  ")
	}

	switch a := (int(n.R) + int(n.G) + int(n.B)) / 3; {
	case a < 32:
		return ".."
	case a < 64:
		return "--"
	case a < 128:
		return "=="
	default:
		return "##"
	}
}

// index256 maps a colour to the nearest entry of the xterm 256 colour
// palette, using the greyscale ramp for neutral colours and the 6x6x6 cube
// otherwise.
func index256(r, g, b uint8) uint8 {
	if r == g && g == b {
		switch {
		case r < 8:
			return 16
		case r > 248:
			return 231
		default:
			// Ramp levels are 8, 18, ... 238
			return uint8(232 + min((int(r)-3)/10, 23))
		}
	}

	q := func(v uint8) int {
		switch {
		case v < 48:
			return 0
		case v < 115:
			return 1
		default:
			return (int(v) - 35) / 40
		}
	}
	return uint8(16 + 36*q(r) + 6*q(g) + q(b))
}
