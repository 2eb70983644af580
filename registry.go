package atlaspack

import (
	"image"

	"github.com/pkg/errors"
)

// Placement is the rectangle a frame occupies within the canvas.
type Placement struct {
	X, Y          int
	Width, Height int
}

// Rect returns the placement as an image.Rectangle.
func (p Placement) Rect() image.Rectangle {
	return image.Rect(p.X, p.Y, p.X+p.Width, p.Y+p.Height)
}

// Trim records where a trimmed frame came from within its untrimmed source.
type Trim struct {
	X, Y                      int // Offset of the kept pixels
	SourceWidth, SourceHeight int
}

// Frame is the registry entry for one packed frame.
type Frame struct {
	Identifier string
	Basename   string
	Index      int
	Placement  Placement
	Trim       *Trim // nil unless trimming removed pixels
}

// Registry maps frame identifiers to their metadata, remembering the order
// frames were added in.
type Registry struct {
	frames []Frame
	index  map[string]int
}

func newRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// add stores f, failing if its identifier is already taken.
func (r *Registry) add(f Frame) error {
	if i, ok := r.index[f.Identifier]; ok {
		return &Error{
			Kind:       DuplicateFrameIdentifier,
			Identifier: f.Identifier,
			Err:        errors.Errorf("already packed from %q frame %d", r.frames[i].Basename, r.frames[i].Index),
		}
	}
	r.index[f.Identifier] = len(r.frames)
	r.frames = append(r.frames, f)
	return nil
}

// Get returns the frame with the given identifier.
func (r *Registry) Get(identifier string) (Frame, bool) {
	i, ok := r.index[identifier]
	if !ok {
		return Frame{}, false
	}
	return r.frames[i], true
}

// Len returns the number of frames.
func (r *Registry) Len() int {
	return len(r.frames)
}

// Frames returns a copy of every frame in insertion order.
func (r *Registry) Frames() []Frame {
	return append([]Frame(nil), r.frames...)
}
