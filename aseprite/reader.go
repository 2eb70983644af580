package aseprite

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"image"
	"image/color"
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"
)

var (
	errNotEnough   = errors.New("aseprite: not enough data")
	errBadMagic    = errors.New("aseprite: invalid file magic")
	errFrameMagic  = errors.New("aseprite: invalid frame magic")
	errBadChunk    = errors.New("aseprite: invalid chunk size")
	errBadDepth    = errors.New("aseprite: unsupported color depth")
	errNoFrames    = errors.New("aseprite: no frames")
	errBadSize     = errors.New("aseprite: invalid canvas size")
	errBadLayer    = errors.New("aseprite: cel references unknown layer")
	errBadLink     = errors.New("aseprite: invalid linked cel")
	errBadCelSize  = errors.New("aseprite: invalid cel size")
	errBadPalette  = errors.New("aseprite: invalid palette")
	errCompression = errors.New("aseprite: invalid compressed cel")
	errTooLarge    = errors.New("aseprite: image too large")
)

func init() {
	image.RegisterFormat("aseprite", "????\xe0\xa5", Decode, DecodeConfig)
}

func readFull(r io.Reader, b []byte) error {
	_, err := io.ReadFull(r, b)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func notEnough(err error) error {
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return errNotEnough
	}
	return err
}

type header struct {
	FileSize    uint32
	Magic       uint16
	Frames      uint16
	Width       uint16
	Height      uint16
	Depth       uint16
	Flags       uint32
	Speed       uint16
	_           [2]uint32
	Transparent uint8
	_           [3]uint8
	Colors      uint16
	PixelWidth  uint8
	PixelHeight uint8
	GridX       int16
	GridY       int16
	GridWidth   uint16
	GridHeight  uint16
	_           [84]uint8
}

type frameHeader struct {
	Size      uint32
	Magic     uint16
	OldChunks uint16
	Duration  uint16
	_         [2]uint8
	Chunks    uint32
}

type layerHeader struct {
	Flags      uint16
	Type       uint16
	ChildLevel uint16
	_          [2]uint16 // Default width and height, ignored
	BlendMode  uint16
	Opacity    uint8
	_          [3]uint8
}

type celHeader struct {
	Layer   uint16
	X       int16
	Y       int16
	Opacity uint8
	Type    uint16
	ZIndex  int16
	_       [5]uint8
}

// Layer describes one entry in the layer stack.
type Layer struct {
	Name    string
	Visible bool // Taking parent groups into account
	Opacity uint8
	group   bool
	bg      bool
	level   int
}

// Frame is a single flattened animation frame.
type Frame struct {
	Image    *image.NRGBA
	Duration time.Duration
}

// File is a fully decoded sprite.
type File struct {
	Width, Height int
	Layers        []Layer
	Frames        []Frame
}

type cel struct {
	layer   int
	x, y    int
	opacity uint8
	zIndex  int
	pixels  *image.NRGBA
}

type decoder struct {
	r io.Reader
	h header

	palette    color.Palette
	newPalette bool
	layers     []Layer
	cels       [][]*cel // per frame, per layer

	file File

	// pixels allocated so far, bounded by maxPixels
	pixels int
}

// alloc charges w*h pixels against the decoder's budget before an image of
// that size is allocated.
func (d *decoder) alloc(w, h int) error {
	if w*h > maxPixels-d.pixels {
		return errors.Wrapf(errTooLarge, "%dx%d", w, h)
	}
	d.pixels += w * h
	return nil
}

func (d *decoder) readHeader() error {
	if err := binary.Read(d.r, binary.LittleEndian, &d.h); err != nil {
		return notEnough(err)
	}
	if d.h.Magic != fileMagic {
		return errBadMagic
	}
	switch d.h.Depth {
	case depthRGBA, depthGrayscale, depthIndexed:
	default:
		return errors.Wrapf(errBadDepth, "%d bits per pixel", d.h.Depth)
	}
	if d.h.Width == 0 || d.h.Height == 0 {
		return errors.Wrapf(errBadSize, "%dx%d", d.h.Width, d.h.Height)
	}
	if int(d.h.Width)*int(d.h.Height) > maxPixels {
		return errors.Wrapf(errTooLarge, "%dx%d", d.h.Width, d.h.Height)
	}
	if d.h.Frames == 0 {
		return errNoFrames
	}
	return nil
}

func (d *decoder) readFrame(i int) error {
	var fh frameHeader
	if err := binary.Read(d.r, binary.LittleEndian, &fh); err != nil {
		return notEnough(err)
	}
	if fh.Magic != frameMagic {
		return errors.Wrapf(errFrameMagic, "frame %d", i)
	}
	if fh.Size < frameHeaderSize {
		return errors.Wrapf(errBadChunk, "frame %d size %d", i, fh.Size)
	}

	chunks := int(fh.Chunks)
	if chunks == 0 {
		chunks = int(fh.OldChunks)
	}

	d.cels = append(d.cels, make([]*cel, len(d.layers)))

	// Everything else in the frame is read through this so a bad chunk size
	// can't run into the next frame
	r := &io.LimitedReader{R: d.r, N: int64(fh.Size - frameHeaderSize)}

	var tmp [chunkHeaderSize]byte
	for c := 0; c < chunks; c++ {
		if err := readFull(r, tmp[:]); err != nil {
			return notEnough(err)
		}
		size := binary.LittleEndian.Uint32(tmp[0:4])
		typ := binary.LittleEndian.Uint16(tmp[4:6])
		if size < chunkHeaderSize || int64(size-chunkHeaderSize) > r.N {
			return errors.Wrapf(errBadChunk, "frame %d chunk %d size %d", i, c, size)
		}

		data, err := readN(r, int(size-chunkHeaderSize))
		if err != nil {
			return err
		}

		switch typ {
		case chunkLayer:
			err = d.parseLayer(data)
		case chunkCel:
			err = d.parseCel(i, data)
		case chunkPalette:
			err = d.parsePalette(data)
		case chunkOldPalette, chunkOldPalette64:
			// The newer chunk takes precedence when both are present
			if !d.newPalette {
				err = d.parseOldPalette(data, typ == chunkOldPalette64)
			}
		}
		if err != nil {
			return errors.Wrapf(err, "frame %d", i)
		}
	}

	// Skip anything left over, such as chunks beyond the declared count
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}

	img, err := d.composite(i)
	if err != nil {
		return err
	}
	d.file.Frames = append(d.file.Frames, Frame{
		Image:    img,
		Duration: time.Duration(fh.Duration) * time.Millisecond,
	})

	return nil
}

// readN reads exactly n bytes from r. The buffer grows with the data actually
// read, so a bogus length can't force a large allocation.
func readN(r io.Reader, n int) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, notEnough(err)
	}
	if len(b) < n {
		return nil, errNotEnough
	}
	return b, nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", notEnough(err)
	}
	b := make([]byte, n)
	if err := readFull(r, b); err != nil {
		return "", notEnough(err)
	}
	return string(b), nil
}

func (d *decoder) parseLayer(data []byte) error {
	r := bytes.NewReader(data)
	var lh layerHeader
	if err := binary.Read(r, binary.LittleEndian, &lh); err != nil {
		return notEnough(err)
	}
	name, err := readString(r)
	if err != nil {
		return err
	}

	l := Layer{
		Name:    name,
		Visible: lh.Flags&layerVisible != 0,
		Opacity: 0xff,
		group:   lh.Type == layerGroup,
		bg:      lh.Flags&layerBackground != 0,
		level:   int(lh.ChildLevel),
	}
	if d.h.Flags&flagLayerOpacity != 0 {
		l.Opacity = lh.Opacity
	}
	if lh.Type != layerNormal && lh.Type != layerGroup {
		// Tilemaps are not supported
		l.Visible = false
	}

	// A layer is only visible if its parent group is
	for i := len(d.layers) - 1; i >= 0; i-- {
		if d.layers[i].level < l.level {
			if d.layers[i].group && !d.layers[i].Visible {
				l.Visible = false
			}
			break
		}
	}

	d.layers = append(d.layers, l)
	for i := range d.cels {
		d.cels[i] = append(d.cels[i], nil)
	}
	return nil
}

func (d *decoder) parseCel(frame int, data []byte) error {
	r := bytes.NewReader(data)
	var ch celHeader
	if err := binary.Read(r, binary.LittleEndian, &ch); err != nil {
		return notEnough(err)
	}
	layer := int(ch.Layer)
	if layer >= len(d.layers) {
		return errors.Wrapf(errBadLayer, "layer %d", layer)
	}

	c := &cel{
		layer:   layer,
		x:       int(ch.X),
		y:       int(ch.Y),
		opacity: ch.Opacity,
		zIndex:  int(ch.ZIndex),
	}

	switch ch.Type {
	case celRaw, celCompressed:
		var size [2]uint16
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return notEnough(err)
		}
		w, h := int(size[0]), int(size[1])
		if w == 0 || h == 0 {
			return errors.Wrapf(errBadCelSize, "%dx%d", w, h)
		}

		if ch.Type == celRaw && w*h*d.bpp() > r.Len() {
			return errNotEnough
		}
		if err := d.alloc(w, h); err != nil {
			return err
		}

		var src io.Reader = r
		if ch.Type == celCompressed {
			zr, err := zlib.NewReader(r)
			if err != nil {
				return errors.Wrap(errCompression, err.Error())
			}
			defer zr.Close()
			src = zr
		}

		pixels, err := d.readPixels(src, w, h, d.layers[layer].bg)
		if err != nil {
			if ch.Type == celCompressed && err != errNotEnough {
				return errors.Wrap(errCompression, err.Error())
			}
			return err
		}
		c.pixels = pixels
	case celLinked:
		var pos uint16
		if err := binary.Read(r, binary.LittleEndian, &pos); err != nil {
			return notEnough(err)
		}
		if int(pos) >= frame || d.cels[pos][layer] == nil {
			return errors.Wrapf(errBadLink, "frame %d layer %d", pos, layer)
		}
		c = d.cels[pos][layer]
	default:
		// Tilemap cels and anything newer
		return nil
	}

	d.cels[frame][layer] = c
	return nil
}

func (d *decoder) bpp() int {
	return int(d.h.Depth) / 8
}

func (d *decoder) readPixels(r io.Reader, w, h int, bg bool) (*image.NRGBA, error) {
	buf, err := readN(r, w*h*d.bpp())
	if err != nil {
		return nil, err
	}

	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	switch d.h.Depth {
	case depthRGBA:
		copy(m.Pix, buf)
	case depthGrayscale:
		for i := 0; i < w*h; i++ {
			v, a := buf[i*2], buf[i*2+1]
			copy(m.Pix[i*4:], []byte{v, v, v, a})
		}
	case depthIndexed:
		for i, idx := range buf {
			if idx == d.h.Transparent && !bg {
				continue
			}
			if int(idx) >= len(d.palette) {
				return nil, errors.Wrapf(errBadPalette, "index %d", idx)
			}
			c := color.NRGBAModel.Convert(d.palette[idx]).(color.NRGBA)
			copy(m.Pix[i*4:], []byte{c.R, c.G, c.B, c.A})
		}
	}
	return m, nil
}

func (d *decoder) grow(size int) {
	if size > len(d.palette) {
		p := make(color.Palette, size)
		copy(p, d.palette)
		for i := len(d.palette); i < size; i++ {
			p[i] = color.NRGBA{}
		}
		d.palette = p
	}
}

func (d *decoder) parsePalette(data []byte) error {
	r := bytes.NewReader(data)
	var ph struct {
		Size, First, Last uint32
		_                 [8]uint8
	}
	if err := binary.Read(r, binary.LittleEndian, &ph); err != nil {
		return notEnough(err)
	}
	if ph.Size > 256 || ph.First > ph.Last || ph.Last >= ph.Size {
		return errors.Wrapf(errBadPalette, "size %d entries %d-%d", ph.Size, ph.First, ph.Last)
	}
	if !d.newPalette {
		d.palette, d.newPalette = nil, true
	}
	d.grow(int(ph.Size))

	for i := ph.First; i <= ph.Last; i++ {
		var e struct {
			Flags      uint16
			R, G, B, A uint8
		}
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return notEnough(err)
		}
		if e.Flags&paletteHasName != 0 {
			if _, err := readString(r); err != nil {
				return err
			}
		}
		d.palette[i] = color.NRGBA{e.R, e.G, e.B, e.A}
	}
	return nil
}

func (d *decoder) parseOldPalette(data []byte, sixBit bool) error {
	r := bytes.NewReader(data)
	var packets uint16
	if err := binary.Read(r, binary.LittleEndian, &packets); err != nil {
		return notEnough(err)
	}

	scale := func(v uint8) uint8 { return v }
	if sixBit {
		scale = func(v uint8) uint8 { return v<<2 | v>>4 }
	}

	idx := 0
	for p := 0; p < int(packets); p++ {
		var ph [2]uint8
		if err := readFull(r, ph[:]); err != nil {
			return notEnough(err)
		}
		idx += int(ph[0])
		n := int(ph[1])
		if n == 0 {
			n = 256
		}
		if idx+n > 256 {
			return errors.Wrapf(errBadPalette, "%d colors from %d", n, idx)
		}
		d.grow(idx + n)
		for j := 0; j < n; j++ {
			var rgb [3]uint8
			if err := readFull(r, rgb[:]); err != nil {
				return notEnough(err)
			}
			d.palette[idx] = color.NRGBA{scale(rgb[0]), scale(rgb[1]), scale(rgb[2]), 0xff}
			idx++
		}
	}
	return nil
}

func mul(a, b uint8) int {
	t := int(a)*int(b) + 0x80
	return (t + t>>8) >> 8
}

// over composites src onto dst at p with the normal blend mode, scaling the
// alpha of src by opacity. Both are non-premultiplied.
func over(dst, src *image.NRGBA, p image.Point, opacity uint8) {
	r := src.Bounds().Add(p).Intersect(dst.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			s := src.Pix[src.PixOffset(x-p.X, y-p.Y):]
			o := dst.Pix[dst.PixOffset(x, y):]

			sa := mul(s[3], opacity)
			if sa == 0 {
				continue
			}
			if sa == 0xff || o[3] == 0 {
				o[0], o[1], o[2], o[3] = s[0], s[1], s[2], uint8(sa)
				continue
			}

			da := mul(o[3], uint8(0xff-sa))
			a := sa + da
			for c := 0; c < 3; c++ {
				o[c] = uint8((int(s[c])*sa + int(o[c])*da + a/2) / a)
			}
			o[3] = uint8(a)
		}
	}
}

func (d *decoder) composite(frame int) (*image.NRGBA, error) {
	if err := d.alloc(int(d.h.Width), int(d.h.Height)); err != nil {
		return nil, errors.Wrapf(err, "frame %d", frame)
	}
	m := image.NewNRGBA(image.Rect(0, 0, int(d.h.Width), int(d.h.Height)))

	var cels []*cel
	for layer, c := range d.cels[frame] {
		if c == nil || !d.layers[layer].Visible || d.layers[layer].group {
			continue
		}
		cels = append(cels, c)
	}

	// Layer order, shifted by any z-index; ties resolved by z-index
	sort.SliceStable(cels, func(i, j int) bool {
		oi, oj := cels[i].layer+cels[i].zIndex, cels[j].layer+cels[j].zIndex
		if oi != oj {
			return oi < oj
		}
		return cels[i].zIndex < cels[j].zIndex
	})

	for _, c := range cels {
		opacity := uint8(mul(c.opacity, d.layers[c.layer].Opacity))
		over(m, c.pixels, image.Pt(c.x, c.y), opacity)
	}

	return m, nil
}

func (d *decoder) decode(r io.Reader, configOnly bool) error {
	d.r = r

	if err := d.readHeader(); err != nil {
		return err
	}

	d.file.Width = int(d.h.Width)
	d.file.Height = int(d.h.Height)

	if configOnly {
		return nil
	}

	for i := 0; i < int(d.h.Frames); i++ {
		if err := d.readFrame(i); err != nil {
			return err
		}
	}

	d.file.Layers = d.layers

	return nil
}

// DecodeAll reads an Aseprite file from r and returns every frame.
func DecodeAll(r io.Reader) (*File, error) {
	var d decoder
	if err := d.decode(r, false); err != nil {
		return nil, err
	}
	return &d.file, nil
}

// Decode reads an Aseprite file from r and returns the first frame as an
// image.Image.
func Decode(r io.Reader) (image.Image, error) {
	f, err := DecodeAll(r)
	if err != nil {
		return nil, err
	}
	return f.Frames[0].Image, nil
}

// DecodeConfig returns the color model and dimensions of an Aseprite file
// without decoding any frames.
func DecodeConfig(r io.Reader) (image.Config, error) {
	var d decoder
	if err := d.decode(r, true); err != nil {
		return image.Config{}, err
	}
	return image.Config{
		ColorModel: color.NRGBAModel,
		Width:      d.file.Width,
		Height:     d.file.Height,
	}, nil
}
