/*
Package manifest implements the frame manifest written alongside a packed
atlas image.

A manifest maps every frame identifier to the rectangle holding that frame in
the atlas image, together with the source basename and animation frame index
it came from. Frames that were trimmed also record where the kept pixels sat
within the original frame.

The same records can be written as TOML, JSON or YAML. Keys are always written
in sorted order so a given atlas always produces byte-identical output.
*/
package manifest

import (
	"bytes"
	"encoding/json"
	"image"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Format is a manifest encoding.
type Format int

// Supported formats.
const (
	TOML Format = iota
	JSON
	YAML
)

var errUnknownFormat = errors.New("manifest: unknown format")

var formatNames = map[Format]string{
	TOML: "toml",
	JSON: "json",
	YAML: "yaml",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case JSON:
		return "application/json"
	case YAML:
		return "application/yaml"
	default:
		return "application/toml"
	}
}

// ParseFormat returns the format with the given name, which may also be a
// file extension with or without the leading dot.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "toml":
		return TOML, nil
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	}
	return 0, errors.Wrapf(errUnknownFormat, "%q", name)
}

// FormatOf returns the format implied by the extension of path.
func FormatOf(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Trim is the position and original size of a trimmed frame.
type Trim struct {
	X            int `json:"x" toml:"x" yaml:"x"`
	Y            int `json:"y" toml:"y" yaml:"y"`
	SourceWidth  int `json:"source_width" toml:"source_width" yaml:"source_width"`
	SourceHeight int `json:"source_height" toml:"source_height" yaml:"source_height"`
}

// Frame is the record for a single frame.
type Frame struct {
	Width    int    `json:"width" toml:"width" yaml:"width"`
	Height   int    `json:"height" toml:"height" yaml:"height"`
	X        int    `json:"x" toml:"x" yaml:"x"`
	Y        int    `json:"y" toml:"y" yaml:"y"`
	Basename string `json:"basename" toml:"basename" yaml:"basename"`
	Frame    int    `json:"frame" toml:"frame" yaml:"frame"`
	Trim     *Trim  `json:"trim,omitempty" toml:"trim,omitempty" yaml:"trim,omitempty"`
}

// Rect returns the rectangle the frame occupies in the atlas image.
func (f Frame) Rect() image.Rectangle {
	return image.Rect(f.X, f.Y, f.X+f.Width, f.Y+f.Height)
}

// Manifest maps frame identifiers to frames.
type Manifest map[string]Frame

// Identifiers returns every identifier in sorted order.
func (m Manifest) Identifiers() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks every frame is non-empty and lies within bounds.
func (m Manifest) Validate(bounds image.Rectangle) error {
	for _, id := range m.Identifiers() {
		r := m[id].Rect()
		if r.Empty() {
			return errors.Errorf("manifest: frame %q is empty", id)
		}
		if !r.In(bounds) {
			return errors.Errorf("manifest: frame %q at %v is outside %v", id, r, bounds)
		}
	}
	return nil
}

// Marshal encodes the manifest in the given format.
func (m Manifest) Marshal(f Format) ([]byte, error) {
	b := new(bytes.Buffer)
	if err := m.Encode(b, f); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Encode writes the manifest to w in the given format.
func (m Manifest) Encode(w io.Writer, f Format) error {
	if m == nil {
		m = Manifest{}
	}
	switch f {
	case TOML:
		return errors.Wrap(toml.NewEncoder(w).Encode(m), "manifest")
	case JSON:
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return errors.Wrap(e.Encode(m), "manifest")
	case YAML:
		e := yaml.NewEncoder(w)
		e.SetIndent(2)
		if err := e.Encode(m); err != nil {
			return errors.Wrap(err, "manifest")
		}
		return errors.Wrap(e.Close(), "manifest")
	}
	return errUnknownFormat
}

// Unmarshal decodes a manifest in the given format.
func Unmarshal(b []byte, f Format) (Manifest, error) {
	return Decode(bytes.NewReader(b), f)
}

// Decode reads a manifest in the given format from r.
func Decode(r io.Reader, f Format) (Manifest, error) {
	m := Manifest{}
	var err error
	switch f {
	case TOML:
		_, err = toml.NewDecoder(r).Decode(&m)
	case JSON:
		err = json.NewDecoder(r).Decode(&m)
	case YAML:
		err = yaml.NewDecoder(r).Decode(&m)
		if err == io.EOF {
			err = nil
		}
	default:
		return nil, errUnknownFormat
	}
	if err != nil {
		return nil, errors.Wrap(err, "manifest")
	}
	return m, nil
}
