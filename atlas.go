package atlaspack

import (
	"image"
	"image/png"
	"os"

	"github.com/bodgit/atlaspack/manifest"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/image/draw"
)

// Atlas is the result of a build: the packed canvas and the registry of
// frames within it. Pixels outside any placement are fully transparent.
type Atlas struct {
	Canvas   *image.NRGBA
	Registry *Registry
}

// Frame returns a copy of the pixels of the frame with the given identifier.
func (a *Atlas) Frame(identifier string) (*image.NRGBA, bool) {
	f, ok := a.Registry.Get(identifier)
	if !ok {
		return nil, false
	}
	return Slice(a.Canvas, f.Placement.Rect()), true
}

// Slice copies r out of m into a new image anchored at the origin.
func Slice(m *image.NRGBA, r image.Rectangle) *image.NRGBA {
	dst := image.NewNRGBA(image.Rectangle{Max: r.Size()})
	blit(dst, dst.Bounds(), m, r.Min)
	return dst
}

// Digest returns a hash of the canvas dimensions and pixels.
func (a *Atlas) Digest() uint64 {
	d := xxhash.New()
	b := a.Canvas.Bounds()
	d.Write([]byte{
		byte(b.Dx() >> 24), byte(b.Dx() >> 16), byte(b.Dx() >> 8), byte(b.Dx()),
		byte(b.Dy() >> 24), byte(b.Dy() >> 16), byte(b.Dy() >> 8), byte(b.Dy()),
	})
	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := a.Canvas.PixOffset(b.Min.X, y)
		d.Write(a.Canvas.Pix[i : i+b.Dx()*4])
	}
	return d.Sum64()
}

// Manifest returns the registry as a manifest.
func (a *Atlas) Manifest() manifest.Manifest {
	m := make(manifest.Manifest, a.Registry.Len())
	for _, f := range a.Registry.frames {
		mf := manifest.Frame{
			Width:    f.Placement.Width,
			Height:   f.Placement.Height,
			X:        f.Placement.X,
			Y:        f.Placement.Y,
			Basename: f.Basename,
			Frame:    f.Index,
		}
		if f.Trim != nil {
			mf.Trim = &manifest.Trim{
				X:            f.Trim.X,
				Y:            f.Trim.Y,
				SourceWidth:  f.Trim.SourceWidth,
				SourceHeight: f.Trim.SourceHeight,
			}
		}
		m[f.Identifier] = mf
	}
	return m
}

// Load rebuilds an atlas from a previously written image and manifest.
// Frames are registered in identifier order.
func Load(canvas image.Image, m manifest.Manifest) (*Atlas, error) {
	c, ok := canvas.(*image.NRGBA)
	if !ok || c.Rect.Min != (image.Point{}) {
		b := canvas.Bounds()
		c = image.NewNRGBA(image.Rectangle{Max: b.Size()})
		draw.Draw(c, c.Bounds(), canvas, b.Min, draw.Src)
	}

	if err := m.Validate(c.Bounds()); err != nil {
		return nil, &Error{Kind: DecodeFailure, Err: err}
	}

	r := newRegistry()
	for _, id := range m.Identifiers() {
		mf := m[id]
		f := Frame{
			Identifier: id,
			Basename:   mf.Basename,
			Index:      mf.Frame,
			Placement: Placement{
				X:      mf.X,
				Y:      mf.Y,
				Width:  mf.Width,
				Height: mf.Height,
			},
		}
		if mf.Trim != nil {
			f.Trim = &Trim{
				X:            mf.Trim.X,
				Y:            mf.Trim.Y,
				SourceWidth:  mf.Trim.SourceWidth,
				SourceHeight: mf.Trim.SourceHeight,
			}
		}
		if err := r.add(f); err != nil {
			return nil, err
		}
	}

	return &Atlas{
		Canvas:   c,
		Registry: r,
	}, nil
}

// LoadFiles reads an atlas image and its manifest and rebuilds the atlas.
func LoadFiles(imagePath, manifestPath string) (*Atlas, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, ioFailure(imagePath, err)
	}
	defer f.Close()

	m, err := png.Decode(f)
	if err != nil {
		return nil, &Error{Kind: DecodeFailure, Path: imagePath, Err: err}
	}

	format, err := manifest.FormatOf(manifestPath)
	if err != nil {
		return nil, &Error{Kind: InvalidConfig, Path: manifestPath, Err: err}
	}

	mf, err := os.Open(manifestPath)
	if err != nil {
		return nil, ioFailure(manifestPath, err)
	}
	defer mf.Close()

	man, err := manifest.Decode(mf, format)
	if err != nil {
		return nil, &Error{Kind: DecodeFailure, Path: manifestPath, Err: err}
	}

	a, err := Load(m, man)
	if e, ok := err.(*Error); ok && e.Path == "" {
		e.Path = manifestPath
	}
	return a, err
}
