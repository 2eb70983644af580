/*
Package skyline implements a skyline bin packer for axis-aligned rectangles.

The packer records the topmost occupied y-coordinate across the width of the
working area as an ordered list of horizontal segments. Each new rectangle is
placed where its bottom edge ends up lowest, ties going to the leftmost
position, and the skyline is then raised over the columns it covers.

Placement is append-only and depends on request order; the same rectangles
requested in a different order can produce a different layout. Rectangles are
never rotated.
*/
package skyline

import (
	"fmt"
	"image"
	"math"

	"github.com/pkg/errors"
)

// Unbounded is the working width or height used when no maximum is
// configured.
const Unbounded = math.MaxInt32

var (
	// ErrOverflow is matched by every *OverflowError.
	ErrOverflow = errors.New("skyline: rectangle does not fit")

	// ErrInvalidSize is returned for rectangles with a non-positive width or
	// height.
	ErrInvalidSize = errors.New("skyline: invalid rectangle size")
)

// OverflowError is returned when no position within the bounds can hold a
// rectangle.
type OverflowError struct {
	Width, Height       int
	MaxWidth, MaxHeight int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("skyline: %dx%d rectangle does not fit within %dx%d", e.Width, e.Height, e.MaxWidth, e.MaxHeight)
}

// Is makes errors.Is(err, ErrOverflow) true for any *OverflowError.
func (e *OverflowError) Is(target error) bool {
	return target == ErrOverflow
}

type segment struct {
	x, y, w int
}

func (s segment) right() int {
	return s.x + s.w
}

// Packer places rectangles. The zero value is not usable, use New.
type Packer struct {
	maxWidth, maxHeight int

	segments []segment
	extent   image.Point
}

// New returns a Packer bounded to maxWidth by maxHeight. A bound of zero or
// less means Unbounded.
func New(maxWidth, maxHeight int) *Packer {
	if maxWidth <= 0 {
		maxWidth = Unbounded
	}
	if maxHeight <= 0 {
		maxHeight = Unbounded
	}
	return &Packer{
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
		segments:  []segment{{x: 0, y: 0, w: maxWidth}},
	}
}

// fit reports the lowest y at which a width by height rectangle can sit with
// its left edge on segment i.
func (p *Packer) fit(i, width, height int) (int, bool) {
	if width > p.maxWidth-p.segments[i].x {
		return 0, false
	}

	y := 0
	for left := width; left > 0; i++ {
		// Segments always cover the full width so this only trips if the
		// skyline is corrupt
		if i == len(p.segments) {
			return 0, false
		}
		if p.segments[i].y > y {
			y = p.segments[i].y
		}
		if height > p.maxHeight-y {
			return 0, false
		}
		left -= p.segments[i].w
	}

	return y, true
}

// Place finds a position for a width by height rectangle and returns the
// rectangle it occupies.
func (p *Packer) Place(width, height int) (image.Rectangle, error) {
	if width <= 0 || height <= 0 {
		return image.Rectangle{}, errors.Wrapf(ErrInvalidSize, "%dx%d", width, height)
	}

	best, bestY := -1, 0
	for i := range p.segments {
		y, ok := p.fit(i, width, height)
		if !ok {
			continue
		}
		// Height is the same for every candidate so the lowest y gives the
		// lowest bottom edge; strict comparison keeps the leftmost on a tie
		if best < 0 || y < bestY {
			best, bestY = i, y
		}
	}

	if best < 0 {
		return image.Rectangle{}, &OverflowError{
			Width:     width,
			Height:    height,
			MaxWidth:  p.maxWidth,
			MaxHeight: p.maxHeight,
		}
	}

	r := image.Rect(p.segments[best].x, bestY, p.segments[best].x+width, bestY+height)

	p.split(best, r)
	p.merge()

	if r.Max.X > p.extent.X {
		p.extent.X = r.Max.X
	}
	if r.Max.Y > p.extent.Y {
		p.extent.Y = r.Max.Y
	}

	return r, nil
}

// split raises the skyline over r, which starts on segment i.
func (p *Packer) split(i int, r image.Rectangle) {
	p.segments = append(p.segments, segment{})
	copy(p.segments[i+1:], p.segments[i:])
	p.segments[i] = segment{x: r.Min.X, y: r.Max.Y, w: r.Dx()}

	for j := i + 1; j < len(p.segments); {
		prev := p.segments[j-1].right()
		if p.segments[j].x >= prev {
			break
		}
		shrink := prev - p.segments[j].x
		if p.segments[j].w <= shrink {
			p.segments = append(p.segments[:j], p.segments[j+1:]...)
			continue
		}
		p.segments[j].x += shrink
		p.segments[j].w -= shrink
		break
	}
}

// merge joins neighbouring segments at the same height.
func (p *Packer) merge() {
	for i := 0; i < len(p.segments)-1; {
		if p.segments[i].y == p.segments[i+1].y {
			p.segments[i].w += p.segments[i+1].w
			p.segments = append(p.segments[:i+1], p.segments[i+2:]...)
			continue
		}
		i++
	}
}

// Extent returns the size of the smallest rectangle anchored at the origin
// that encloses every placement so far.
func (p *Packer) Extent() image.Point {
	return p.extent
}

// Bounds returns the configured maximum width and height.
func (p *Packer) Bounds() (int, int) {
	return p.maxWidth, p.maxHeight
}
