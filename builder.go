package atlaspack

import (
	"fmt"
	"image"

	"github.com/bodgit/atlaspack/skyline"
	"github.com/pkg/errors"
)

// Source is a named sequence of frames. Frame may be called once per index,
// in order, and must return a buffer the caller is free to read.
type Source interface {
	Name() string
	NumFrames() int
	Frame(i int) (*image.NRGBA, error)
}

// Options control how frames are packed. Rotation is never performed.
type Options struct {
	// Padding is the number of transparent pixels kept to the right of and
	// below every frame. Padding that would cross MaxWidth or MaxHeight is
	// dropped, so a frame may sit flush against the bound.
	Padding int

	// Trim shrinks each frame to the bounding box of its non-transparent
	// pixels before packing.
	Trim bool

	// MaxWidth and MaxHeight bound the canvas; zero means unbounded.
	MaxWidth, MaxHeight int
}

// Identifier returns the frame identifier for frame i of a source with the
// given basename and frame count.
func Identifier(basename string, i, frames int) string {
	if frames == 1 {
		return basename
	}
	return fmt.Sprintf("%s_%d", basename, i)
}

type builder struct {
	opts     Options
	packer   *skyline.Packer
	canvas   *image.NRGBA
	registry *Registry
}

func newBuilder(opts Options) *builder {
	// Every rectangle carries its trailing padding, so the packer's bounds
	// are widened by the same amount and the canvas cropped back in extent
	pad := func(bound int) int {
		if bound > 0 {
			return bound + opts.Padding
		}
		return bound
	}

	return &builder{
		opts:     opts,
		packer:   skyline.New(pad(opts.MaxWidth), pad(opts.MaxHeight)),
		canvas:   image.NewNRGBA(image.Rectangle{}),
		registry: newRegistry(),
	}
}

func sourcePath(s Source) string {
	if p, ok := s.(interface{ Path() string }); ok {
		return p.Path()
	}
	return ""
}

func (b *builder) add(s Source) error {
	n := s.NumFrames()
	if n < 1 {
		return &Error{Kind: DecodeFailure, Path: sourcePath(s), Identifier: s.Name(), Err: errors.New("source has no frames")}
	}

	for i := 0; i < n; i++ {
		id := Identifier(s.Name(), i, n)

		// Fail before doing any work for a frame that can't be registered
		if f, ok := b.registry.Get(id); ok {
			return &Error{
				Kind:       DuplicateFrameIdentifier,
				Identifier: id,
				Path:       sourcePath(s),
				Err:        errors.Errorf("already packed from %q frame %d", f.Basename, f.Index),
			}
		}

		m, err := s.Frame(i)
		if err != nil {
			var e *Error
			if errors.As(err, &e) {
				return err
			}
			return &Error{Kind: DecodeFailure, Identifier: id, Path: sourcePath(s), Err: err}
		}
		if m == nil || m.Bounds().Empty() {
			return &Error{Kind: DecodeFailure, Identifier: id, Path: sourcePath(s), Err: errors.New("empty frame")}
		}

		if err := b.pack(s.Name(), i, id, m); err != nil {
			if e, ok := err.(*Error); ok && e.Path == "" {
				e.Path = sourcePath(s)
			}
			return err
		}
	}

	return nil
}

func (b *builder) pack(basename string, index int, id string, m *image.NRGBA) error {
	src := m.Bounds()
	var trim *Trim
	if b.opts.Trim {
		if r := opaqueBounds(m); r != src {
			trim = &Trim{
				X:            r.Min.X - src.Min.X,
				Y:            r.Min.Y - src.Min.Y,
				SourceWidth:  src.Dx(),
				SourceHeight: src.Dy(),
			}
			src = r
		}
	}

	r, err := b.packer.Place(src.Dx()+b.opts.Padding, src.Dy()+b.opts.Padding)
	if err != nil {
		return &Error{Kind: PackingOverflow, Identifier: id, Width: src.Dx(), Height: src.Dy(), Err: err}
	}

	b.grow(b.extent())

	dst := image.Rect(r.Min.X, r.Min.Y, r.Min.X+src.Dx(), r.Min.Y+src.Dy())
	blit(b.canvas, dst, m, src.Min)

	return b.registry.add(Frame{
		Identifier: id,
		Basename:   basename,
		Index:      index,
		Placement: Placement{
			X:      dst.Min.X,
			Y:      dst.Min.Y,
			Width:  dst.Dx(),
			Height: dst.Dy(),
		},
		Trim: trim,
	})
}

// extent is the packed extent, less any padding beyond the bounds.
func (b *builder) extent() image.Point {
	e := b.packer.Extent()
	if b.opts.MaxWidth > 0 {
		e.X = min(e.X, b.opts.MaxWidth)
	}
	if b.opts.MaxHeight > 0 {
		e.Y = min(e.Y, b.opts.MaxHeight)
	}
	return e
}

// grow makes sure the canvas covers extent. Capacity is grown geometrically
// so the canvas is not reallocated for every frame; finish crops it back.
func (b *builder) grow(extent image.Point) {
	size := b.canvas.Bounds().Size()
	if extent.X <= size.X && extent.Y <= size.Y {
		return
	}

	maxWidth, maxHeight := b.packer.Bounds()
	if b.opts.MaxWidth > 0 {
		maxWidth = b.opts.MaxWidth
	}
	if b.opts.MaxHeight > 0 {
		maxHeight = b.opts.MaxHeight
	}
	next := size
	if extent.X > size.X {
		next.X = min(max(extent.X, size.X*2), maxWidth)
	}
	if extent.Y > size.Y {
		next.Y = min(max(extent.Y, size.Y*2), maxHeight)
	}

	c := image.NewNRGBA(image.Rectangle{Max: next})
	blit(c, b.canvas.Bounds(), b.canvas, image.Point{})
	b.canvas = c
}

func (b *builder) finish() *Atlas {
	extent := b.extent()
	canvas := b.canvas
	if canvas.Bounds().Size() != extent {
		canvas = image.NewNRGBA(image.Rectangle{Max: extent})
		blit(canvas, canvas.Bounds(), b.canvas, image.Point{})
	}
	return &Atlas{
		Canvas:   canvas,
		Registry: b.registry,
	}
}

// Build packs every frame of every source, in order, into a new Atlas. Any
// error aborts the build and no atlas is returned.
func Build(sources []Source, opts Options) (*Atlas, error) {
	if opts.Padding < 0 {
		return nil, &Error{Kind: InvalidConfig, Err: errors.Errorf("negative padding %d", opts.Padding)}
	}

	b := newBuilder(opts)
	for _, s := range sources {
		if err := b.add(s); err != nil {
			return nil, err
		}
	}
	return b.finish(), nil
}

// blit copies the r sized region of src starting at sp into dst at r.Min.
// Pixels are copied byte for byte; image/draw would round trip them through
// premultiplied alpha.
func blit(dst *image.NRGBA, r image.Rectangle, src *image.NRGBA, sp image.Point) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	sr := image.Rectangle{Min: sp, Max: sp.Add(r.Size())}.Intersect(src.Bounds())
	if sr.Empty() {
		return
	}
	n := sr.Dx() * 4
	for y := 0; y < sr.Dy(); y++ {
		d := dst.PixOffset(r.Min.X, r.Min.Y+y)
		s := src.PixOffset(sr.Min.X, sr.Min.Y+y)
		copy(dst.Pix[d:d+n], src.Pix[s:s+n])
	}
}

// opaqueBounds returns the bounding box of every pixel in m with a non-zero
// alpha. A fully transparent image gives a single pixel at its origin.
func opaqueBounds(m *image.NRGBA) image.Rectangle {
	b := m.Bounds()
	r := image.Rectangle{Min: b.Max, Max: b.Min}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := m.Pix[m.PixOffset(b.Min.X, y):]
		for x := b.Min.X; x < b.Max.X; x++ {
			if row[(x-b.Min.X)*4+3] == 0 {
				continue
			}
			r.Min.X = min(r.Min.X, x)
			r.Min.Y = min(r.Min.Y, y)
			r.Max.X = max(r.Max.X, x+1)
			r.Max.Y = max(r.Max.Y, y+1)
		}
	}
	if r.Empty() {
		return image.Rectangle{Min: b.Min, Max: b.Min.Add(image.Pt(1, 1))}
	}
	return r
}
