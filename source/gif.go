package source

import (
	"image"
	"image/gif"
	"io"

	"golang.org/x/image/draw"
)

// decodeGIF returns the fully composed frames of an animated GIF, honouring
// each frame's disposal method.
func decodeGIF(r io.Reader) ([]*image.NRGBA, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, err
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		for _, m := range g.Image {
			bounds = bounds.Union(m.Bounds())
		}
		bounds.Min = image.Point{}
	}

	canvas := image.NewNRGBA(bounds)
	frames := make([]*image.NRGBA, 0, len(g.Image))

	for i, m := range g.Image {
		var disposal byte
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}

		var previous *image.NRGBA
		if disposal == gif.DisposalPrevious {
			previous = clone(canvas)
		}

		draw.Draw(canvas, m.Bounds(), m, m.Bounds().Min, draw.Over)
		frames = append(frames, clone(canvas))

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, m.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}

	return frames, nil
}

func clone(m *image.NRGBA) *image.NRGBA {
	c := image.NewNRGBA(m.Rect)
	copy(c.Pix, m.Pix)
	return c
}
