package main

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/atlaspack"
	"github.com/bodgit/atlaspack/preview"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// frameFile returns the name of the file a frame is extracted to. The
// identifier comes from a manifest, so anything that isn't a plain file name
// is refused.
func frameFile(identifier string) (string, error) {
	name := identifier + ".png"
	if strings.ContainsAny(identifier, `/\`) || !filepath.IsLocal(name) || identifier == "." || identifier == ".." {
		return "", errors.Errorf("frame %q is not a valid file name", identifier)
	}
	return name, nil
}

// extract writes every frame of a to dir as identifier.png.
func extract(a *atlaspack.Atlas, dir string, logger *log.Logger) error {
	frames := a.Registry.Frames()
	names := make([]string, len(frames))
	for i, f := range frames {
		var err error
		if names[i], err = frameFile(f.Identifier); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for i, f := range frames {
		m, _ := a.Frame(f.Identifier)

		file := filepath.Join(dir, names[i])
		if err := writePNG(file, m); err != nil {
			return err
		}

		logger.Debug("extracted frame", "frame", f.Identifier, "file", file)
	}

	logger.Info("extracted frames", "frames", a.Registry.Len(), "directory", dir)

	return nil
}

func writePNG(file string, m image.Image) error {
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := png.Encode(f, m); err != nil {
		return err
	}

	return f.Close()
}

// show previews either a whole atlas image, or a single frame of it given
// the manifest and frame identifier.
func show(out *os.File, args []string, mode preview.Mode) error {
	var m image.Image
	if len(args) == 3 {
		a, err := atlaspack.LoadFiles(args[0], args[1])
		if err != nil {
			return err
		}
		frame, ok := a.Frame(args[2])
		if !ok {
			return errors.Errorf("no frame %q in %s", args[2], args[1])
		}
		m = frame
	} else {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		if m, err = png.Decode(f); err != nil {
			return err
		}
	}

	if mode == preview.Auto {
		mode = preview.Detect(out)
	}

	switch mode {
	case preview.TrueColor, preview.Color256, preview.NoColor:
		if cols, rows, ok := preview.TerminalSize(out); ok {
			m = preview.Fit(m, cols, rows-1)
		}
	}

	return preview.Print(out, m, mode)
}
