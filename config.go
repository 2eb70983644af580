package atlaspack

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bodgit/atlaspack/manifest"
	"github.com/pkg/errors"
)

// MaxColors is the largest palette a quantized atlas image may use,
// including the transparent entry.
const MaxColors = 256

// Config describes one packing run. It can be loaded from a TOML file with
// LoadConfig; the command line tool overrides any field set by a flag.
type Config struct {
	// Path is the directory, archive or single file sources are read from.
	Path string `toml:"path"`

	// Names lists the sources to pack, in order. If empty, every supported
	// file found in Path is packed, ordered by file name.
	Names []string `toml:"names"`

	// Image and Manifest are the output files, either of which may be left
	// empty to skip writing it. The manifest format follows the extension
	// of Manifest.
	Image    string `toml:"image"`
	Manifest string `toml:"manifest"`

	Trim      bool `toml:"trim"`
	Padding   int  `toml:"padding"`
	MaxWidth  int  `toml:"max_width"`
	MaxHeight int  `toml:"max_height"`

	// Colors, if non-zero, writes a paletted image with at most this many
	// colors instead of a lossless one.
	Colors int `toml:"colors"`

	// Database, if set, is a sqlite file the atlas is also recorded in
	// under Name.
	Database string `toml:"database"`
	Name     string `toml:"name"`

	// Workers is the number of sources decoded concurrently.
	Workers int `toml:"workers"`
}

// LoadConfig reads a TOML configuration file.
func LoadConfig(file string) (*Config, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, ioFailure(file, err)
	}

	c := new(Config)
	md, err := toml.Decode(string(b), c)
	if err != nil {
		return nil, &Error{Kind: InvalidConfig, Path: file, Err: err}
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, &Error{Kind: InvalidConfig, Path: file, Err: errors.Errorf("unknown keys: %s", strings.Join(keys, ", "))}
	}

	return c, nil
}

func invalid(format string, args ...interface{}) *Error {
	return &Error{Kind: InvalidConfig, Err: errors.Errorf(format, args...)}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.Path == "":
		return invalid("no source path")
	case c.Image != "" && !strings.EqualFold(filepath.Ext(c.Image), ".png"):
		return invalid("image %q is not a .png file", c.Image)
	case c.Padding < 0:
		return invalid("negative padding %d", c.Padding)
	case c.MaxWidth < 0 || c.MaxHeight < 0:
		return invalid("negative maximum size %dx%d", c.MaxWidth, c.MaxHeight)
	case c.Colors < 0 || c.Colors > MaxColors:
		return invalid("colors %d not between 0 and %d", c.Colors, MaxColors)
	case c.Colors == 1:
		return invalid("colors must leave room for at least one opaque color")
	case c.Workers < 0:
		return invalid("negative workers %d", c.Workers)
	case c.Database != "" && c.Name == "":
		return invalid("database %q needs an atlas name", c.Database)
	}

	if c.Manifest != "" {
		if _, err := manifest.FormatOf(c.Manifest); err != nil {
			return &Error{Kind: InvalidConfig, Path: c.Manifest, Err: err}
		}
	}

	for _, name := range c.Names {
		if name == "" {
			return invalid("empty source name")
		}
	}

	return nil
}

// Options returns the packing options of the configuration.
func (c *Config) Options() Options {
	return Options{
		Padding:   c.Padding,
		Trim:      c.Trim,
		MaxWidth:  c.MaxWidth,
		MaxHeight: c.MaxHeight,
	}
}

func (c *Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}
