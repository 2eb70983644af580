/*
Package source finds sprite sources and decodes them into frames.

Sources are Aseprite files, animated or still GIFs, and PNG, JPEG, BMP or WebP
stills. They can be named explicitly, found by scanning a directory, or read
out of a .zip or .7z archive. Every frame is returned as an *image.NRGBA
anchored at the origin.
*/
package source

import (
	"bytes"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"
	pathpkg "path"
	"path/filepath"
	"strings"

	"github.com/bodgit/atlaspack/aseprite"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

var (
	// ErrNotFound is returned when a named source or the input path does not
	// exist.
	ErrNotFound = errors.New("source: not found")

	// ErrUnsupported is returned for files that are not a known sprite
	// format.
	ErrUnsupported = errors.New("source: unsupported format")

	errNoFrames = errors.New("source: no frames")
	errRange    = errors.New("source: frame index out of range")
)

// Extensions lists the supported file extensions, in the order they are
// tried when resolving a name without one.
var Extensions = []string{".aseprite", ".ase", ".png", ".gif", ".jpg", ".jpeg", ".bmp", ".webp"}

func supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := pathpkg.Base(filepath.ToSlash(path))
	return strings.TrimSuffix(base, pathpkg.Ext(base))
}

// Entry is a source that has been found but not yet decoded.
type Entry struct {
	Name string // Basename used to build frame identifiers
	Path string // Where the source came from, for messages

	open func() (io.ReadCloser, error)
}

// Open returns the raw contents of the entry.
func (e Entry) Open() (io.ReadCloser, error) {
	return e.open()
}

// Sprite is a decoded source. It satisfies atlaspack.Source.
type Sprite struct {
	name   string
	path   string
	frames []*image.NRGBA
}

// NewSprite returns a Sprite with the given frames.
func NewSprite(name, path string, frames []*image.NRGBA) *Sprite {
	return &Sprite{
		name:   name,
		path:   path,
		frames: frames,
	}
}

// Name returns the basename of the sprite.
func (s *Sprite) Name() string {
	return s.name
}

// Path returns where the sprite was read from.
func (s *Sprite) Path() string {
	return s.path
}

// NumFrames returns the number of frames.
func (s *Sprite) NumFrames() int {
	return len(s.frames)
}

// Frame returns frame i.
func (s *Sprite) Frame(i int) (*image.NRGBA, error) {
	if i < 0 || i >= len(s.frames) {
		return nil, errors.Wrapf(errRange, "%d of %d", i, len(s.frames))
	}
	return s.frames[i], nil
}

// Decode reads and decodes every frame of e.
func Decode(e Entry) (*Sprite, error) {
	rc, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	frames, err := decodeFrames(strings.ToLower(filepath.Ext(e.Path)), b)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, errNoFrames
	}

	return NewSprite(e.Name, e.Path, frames), nil
}

func decodeFrames(ext string, b []byte) ([]*image.NRGBA, error) {
	switch ext {
	case ".aseprite", ".ase":
		f, err := aseprite.DecodeAll(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		frames := make([]*image.NRGBA, len(f.Frames))
		for i, frame := range f.Frames {
			frames[i] = frame.Image
		}
		return frames, nil
	case ".gif":
		return decodeGIF(bytes.NewReader(b))
	}

	if !supported(ext) {
		return nil, errors.Wrapf(ErrUnsupported, "%q", ext)
	}

	m, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return []*image.NRGBA{toNRGBA(m)}, nil
}

// toNRGBA returns m as an *image.NRGBA anchored at the origin, converting it
// only if necessary.
func toNRGBA(m image.Image) *image.NRGBA {
	if n, ok := m.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := m.Bounds()
	n := image.NewNRGBA(image.Rectangle{Max: b.Size()})
	draw.Draw(n, n.Bounds(), m, b.Min, draw.Src)
	return n
}
