package atlaspack

import (
	"bufio"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/bodgit/atlaspack/manifest"
	"github.com/ericpauley/go-quantize/quantize"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// WriteImage encodes m as a PNG. If colors is zero the pixels are written
// exactly, otherwise the image is reduced to a palette of at most colors
// entries, the first of which is fully transparent.
func WriteImage(w io.Writer, m *image.NRGBA, colors int) error {
	if colors == 0 {
		return png.Encode(w, m)
	}
	if colors < 2 || colors > MaxColors {
		return errors.Errorf("cannot quantize to %d colors", colors)
	}

	return png.Encode(w, Quantize(m, colors))
}

// Quantize returns m reduced to at most n colors. Index 0 is reserved for
// fully transparent pixels.
func Quantize(m *image.NRGBA, n int) *image.Paletted {
	q := quantize.MedianCutQuantizer{}

	p := make(color.Palette, 1, n)
	p[0] = color.NRGBA{}
	p = q.Quantize(p, m)

	b := m.Bounds()
	pm := image.NewPaletted(b, p)
	draw.Draw(pm, b, m, b.Min, draw.Src)

	// Transparent pixels always land on the reserved entry
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if m.NRGBAAt(x, y).A == 0 {
				pm.SetColorIndex(x, y, 0)
			}
		}
	}

	return pm
}

// WriteManifest encodes the manifest of a in the format given by the
// extension of path.
func WriteManifest(w io.Writer, a *Atlas, path string) error {
	f, err := manifest.FormatOf(path)
	if err != nil {
		return err
	}
	return a.Manifest().Encode(w, f)
}

type pendingFile struct {
	tmp  string
	path string
}

// createPending writes a temporary file alongside path that commit later
// renames into place.
func createPending(path string, write func(io.Writer) error) (*pendingFile, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, ioFailure(path, err)
	}
	p := &pendingFile{tmp: f.Name(), path: path}

	bw := bufio.NewWriter(f)
	if err = write(bw); err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = f.Chmod(0o644)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		p.discard()
		return nil, ioFailure(path, err)
	}

	return p, nil
}

func (p *pendingFile) commit() error {
	if err := os.Rename(p.tmp, p.path); err != nil {
		return ioFailure(p.path, err)
	}
	return nil
}

func (p *pendingFile) discard() {
	_ = os.Remove(p.tmp)
}

// WriteFiles writes the atlas image and manifest. An empty path skips that
// file. Either every requested file is written or, on any error, none is.
func WriteFiles(a *Atlas, imagePath, manifestPath string, colors int) error {
	var pending []*pendingFile
	discard := func() {
		for _, p := range pending {
			p.discard()
		}
	}

	if imagePath != "" {
		img, err := createPending(imagePath, func(w io.Writer) error {
			return WriteImage(w, a.Canvas, colors)
		})
		if err != nil {
			return err
		}
		pending = append(pending, img)
	}

	if manifestPath != "" {
		man, err := createPending(manifestPath, func(w io.Writer) error {
			return WriteManifest(w, a, manifestPath)
		})
		if err != nil {
			discard()
			return err
		}
		pending = append(pending, man)
	}

	for i, p := range pending {
		if err := p.commit(); err != nil {
			discard()
			for _, done := range pending[:i] {
				_ = os.Remove(done.path)
			}
			return err
		}
	}

	return nil
}
